package transcript

// Word is one recognized word with optional speaker attribution
type Word struct {
	Text    string `json:"text"`
	Speaker *int   `json:"speaker,omitempty"`
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
}

// Event is one recognition result from the transcription channel
type Event struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
	Words   []Word `json:"words,omitempty"`
}

// HasSpeakers reports whether any word carries a speaker label
func (e Event) HasSpeakers() bool {
	return hasSpeakers(e.Words)
}

// Segment is a run of consecutive words from one speaker
type Segment struct {
	Speaker *int   `json:"speaker,omitempty"`
	Text    string `json:"text"`
}

// State is the transcript as shown to the user
type State struct {
	LiveText     string    `json:"live_text"`
	Partial      string    `json:"partial,omitempty"`
	DiarizedText string    `json:"diarized_text,omitempty"`
	Segments     []Segment `json:"segments,omitempty"`
}

// Best returns the diarized transcript when present, else the live one
func (s State) Best() string {
	if s.DiarizedText != "" {
		return s.DiarizedText
	}
	return s.LiveText
}

// SpeakerID returns a pointer for use in Word.Speaker
func SpeakerID(id int) *int {
	return &id
}

func hasSpeakers(words []Word) bool {
	for _, w := range words {
		if w.Speaker != nil {
			return true
		}
	}
	return false
}
