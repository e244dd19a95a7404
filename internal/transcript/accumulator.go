package transcript

import "strings"

// Accumulator folds recognition events into a transcript State. It performs
// no I/O and is not safe for concurrent use.
type Accumulator struct {
	state State
	words []Word
}

// NewAccumulator returns an empty accumulator
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// ApplyLive folds one live event. Events without speaker labels extend the
// live text (finals) or replace the partial line (interims). Labeled finals
// extend the word history and re-render the diarized text.
func (a *Accumulator) ApplyLive(e Event) {
	if e.HasSpeakers() {
		if !e.IsFinal {
			a.state.Partial = strings.TrimSpace(e.Text)
			return
		}
		a.state.Partial = ""
		a.words = append(a.words, e.Words...)
		a.rediarize()
		return
	}

	text := strings.TrimSpace(e.Text)
	if !e.IsFinal {
		a.state.Partial = text
		return
	}
	a.state.Partial = ""
	if text != "" {
		a.state.LiveText += text + "\n"
	}
}

// ApplyDiarized replaces the labeled word history with a complete batch
func (a *Accumulator) ApplyDiarized(words []Word) {
	a.words = append([]Word(nil), words...)
	a.rediarize()
}

// State returns a copy of the current transcript
func (a *Accumulator) State() State {
	s := a.state
	s.Segments = append([]Segment(nil), a.state.Segments...)
	return s
}

// Words returns a copy of the labeled word history
func (a *Accumulator) Words() []Word {
	return append([]Word(nil), a.words...)
}

func (a *Accumulator) rediarize() {
	segments := Segments(a.words)
	a.state.Segments = segments
	a.state.DiarizedText = renderSegments(segments)
}
