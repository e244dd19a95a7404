package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCapabilityUnavailable means no summarizer can serve requests right now
	ErrCapabilityUnavailable = errors.New("summarization capability unavailable")
	// ErrRemote means the summarizer failed to produce a summary
	ErrRemote = errors.New("summarization failed")
	// ErrEmptyTranscript means there is nothing to summarize
	ErrEmptyTranscript = errors.New("transcript is empty")
)

// Style selects the summary layout
type Style string

const (
	StyleParagraph Style = "paragraph"
	StyleBullets   Style = "bullets"
)

// ParseStyle accepts "paragraph" or "bullets"; empty means paragraph
func ParseStyle(s string) (Style, error) {
	switch Style(strings.ToLower(strings.TrimSpace(s))) {
	case "", StyleParagraph:
		return StyleParagraph, nil
	case StyleBullets:
		return StyleBullets, nil
	default:
		return "", fmt.Errorf("unknown summary style %q", s)
	}
}

// Summarizer turns transcript text into a summary
type Summarizer interface {
	// Available reports nil once the summarizer can serve requests. It may
	// wait for readiness, bounded by ctx.
	Available(ctx context.Context) error

	// Summarize returns a summary of text in the given style
	Summarize(ctx context.Context, text string, style Style) (string, error)
}

// Disabled is the Summarizer used when summarization is not configured
type Disabled struct{}

// Available always reports ErrCapabilityUnavailable
func (Disabled) Available(context.Context) error {
	return fmt.Errorf("%w: no summarizer configured", ErrCapabilityUnavailable)
}

// Summarize always fails with ErrCapabilityUnavailable
func (Disabled) Summarize(context.Context, string, Style) (string, error) {
	return "", fmt.Errorf("%w: no summarizer configured", ErrCapabilityUnavailable)
}

func instructions(style Style) string {
	base := "You summarize meeting and call transcripts. Lines may be prefixed with " +
		"\"Speaker N:\"; refer to participants that way. Do not invent content."
	if style == StyleBullets {
		return base + " Respond with 3 to 8 concise bullet points, one per line, each starting with \"- \"."
	}
	return base + " Respond with one short paragraph."
}
