package archive

import (
	"context"
	"time"
)

// Record is a finished session as persisted
type Record struct {
	ID           string     `yaml:"id"`
	Status       string     `yaml:"status"`
	StartedAt    time.Time  `yaml:"started_at"`
	EndedAt      *time.Time `yaml:"ended_at,omitempty"`
	Error        string     `yaml:"error,omitempty"`
	ErrorKind    string     `yaml:"error_kind,omitempty"`
	LiveText     string     `yaml:"-"`
	DiarizedText string     `yaml:"-"`
	Summary      string     `yaml:"summary,omitempty"`
	SummaryStyle string     `yaml:"summary_style,omitempty"`
	Recording    []byte     `yaml:"-"` // WAV file, may be empty
}

// Transcript returns the diarized text when present, else the live text
func (r Record) Transcript() string {
	if r.DiarizedText != "" {
		return r.DiarizedText
	}
	return r.LiveText
}

// Archive persists finished sessions
type Archive interface {
	Save(ctx context.Context, r Record) error
}
