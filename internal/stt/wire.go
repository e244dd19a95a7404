package stt

import (
	"encoding/json"
	"strings"

	"github.com/lexiqai/transcribe-gateway/internal/transcript"
)

// closeStreamMessage asks the server to flush results and end the stream
var closeStreamMessage = []byte(`{"type":"CloseStream"}`)

type wireWord struct {
	Word           string  `json:"word"`
	PunctuatedWord string  `json:"punctuated_word,omitempty"`
	Speaker        *int    `json:"speaker,omitempty"`
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
}

type wireAlternative struct {
	Transcript string     `json:"transcript"`
	Words      []wireWord `json:"words,omitempty"`
}

type wireResponse struct {
	Type    string `json:"type,omitempty"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []wireAlternative `json:"alternatives"`
	} `json:"channel"`
	// Error frames
	Description string `json:"description,omitempty"`
	Message     string `json:"message,omitempty"`
}

// parseResponse decodes one inbound frame. ok is false for frames that carry
// no recognition result (metadata, speech markers, empty transcripts).
func parseResponse(data []byte) (event transcript.Event, frameType string, ok bool, err error) {
	var resp wireResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return transcript.Event{}, "", false, err
	}
	switch resp.Type {
	case "", "Results":
	default:
		return transcript.Event{}, resp.Type, false, nil
	}
	if len(resp.Channel.Alternatives) == 0 {
		return transcript.Event{}, resp.Type, false, nil
	}
	alt := resp.Channel.Alternatives[0]
	event = toEvent(alt.Transcript, resp.IsFinal, alt.Words)
	if event.Text == "" && len(event.Words) == 0 {
		return transcript.Event{}, resp.Type, false, nil
	}
	return event, resp.Type, true, nil
}

func toEvent(text string, isFinal bool, words []wireWord) transcript.Event {
	event := transcript.Event{
		Text:    strings.TrimSpace(text),
		IsFinal: isFinal,
	}
	if len(words) > 0 {
		event.Words = toWords(words)
	}
	return event
}

func toWords(words []wireWord) []transcript.Word {
	out := make([]transcript.Word, 0, len(words))
	for _, w := range words {
		text := w.PunctuatedWord
		if text == "" {
			text = w.Word
		}
		out = append(out, transcript.Word{
			Text:    text,
			Speaker: w.Speaker,
			StartMs: int64(w.Start * 1000),
			EndMs:   int64(w.End * 1000),
		})
	}
	return out
}

// errorText extracts a readable message from an error frame
func errorText(data []byte) string {
	var resp wireResponse
	if err := json.Unmarshal(data, &resp); err == nil {
		if resp.Description != "" {
			return resp.Description
		}
		if resp.Message != "" {
			return resp.Message
		}
	}
	return string(data)
}
