package stt

import (
	"context"
	"testing"
	"time"

	"github.com/lexiqai/transcribe-gateway/internal/transcript"
)

func TestEventPipe_FullBufferCountsDrops(t *testing.T) {
	p := newEventPipe(1)

	// Nobody reads Events, so at most the buffer plus the one event held by
	// the forwarder can be queued
	accepted := 0
	for i := 0; i < 5; i++ {
		if p.push(transcript.Event{Text: "word", IsFinal: true}) {
			accepted++
		}
	}
	if accepted > 2 {
		t.Errorf("Expected at most 2 queued events, got %d", accepted)
	}
	if got := p.dropped.Load(); got != uint64(5-accepted) {
		t.Errorf("Expected %d dropped events, got %d", 5-accepted, got)
	}

	p.finish(nil)
	if p.push(transcript.Event{Text: "late"}) {
		t.Error("Expected push after finish to be refused")
	}
	if got := p.dropped.Load(); got != uint64(5-accepted) {
		t.Errorf("Expected push after finish not to count as a drop, got %d", got)
	}

	go func() {
		for range p.Events() {
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.wait(ctx); err != nil {
		t.Fatalf("Expected pipe to drain: %v", err)
	}
}

func TestDeepgramChannel_StatsReportDroppedEvents(t *testing.T) {
	ch := newTestDeepgramChannel()
	ch.dropped.Add(3)

	if got := ch.Stats().EventsDropped; got != 3 {
		t.Errorf("Expected 3 dropped events in stats, got %d", got)
	}
}
