package transcript

import (
	"fmt"
	"strings"
)

// Segments groups words into speaker runs. A new segment starts whenever the
// speaker differs from the previous word's. Words without a label inherit the
// previous speaker; leading unlabeled words take the first labeled speaker.
func Segments(words []Word) []Segment {
	labeled := attribute(words)

	var segments []Segment
	var current []string
	var speaker *int
	for i, w := range words {
		if i > 0 && !sameSpeaker(labeled[i], speaker) {
			segments = append(segments, Segment{Speaker: speaker, Text: strings.Join(current, " ")})
			current = nil
		}
		speaker = labeled[i]
		if text := strings.TrimSpace(w.Text); text != "" {
			current = append(current, text)
		}
	}
	if len(words) > 0 {
		segments = append(segments, Segment{Speaker: speaker, Text: strings.Join(current, " ")})
	}
	return segments
}

// Render formats words as "Speaker N: ..." lines. With a single distinct
// speaker the prefixes are omitted. The output depends only on words.
func Render(words []Word) string {
	return renderSegments(Segments(words))
}

func renderSegments(segments []Segment) string {
	if distinctSpeakers(segments) <= 1 {
		texts := make([]string, 0, len(segments))
		for _, s := range segments {
			texts = append(texts, s.Text)
		}
		return strings.Join(texts, " ")
	}

	lines := make([]string, 0, len(segments))
	for _, s := range segments {
		lines = append(lines, fmt.Sprintf("Speaker %d: %s", *s.Speaker, s.Text))
	}
	return strings.Join(lines, "\n")
}

func attribute(words []Word) []*int {
	labeled := make([]*int, len(words))
	var last *int
	for _, w := range words {
		if w.Speaker != nil {
			last = w.Speaker
			break
		}
	}
	for i, w := range words {
		if w.Speaker != nil {
			last = w.Speaker
		}
		labeled[i] = last
	}
	return labeled
}

func distinctSpeakers(segments []Segment) int {
	seen := make(map[int]struct{})
	for _, s := range segments {
		if s.Speaker != nil {
			seen[*s.Speaker] = struct{}{}
		}
	}
	return len(seen)
}

func sameSpeaker(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
