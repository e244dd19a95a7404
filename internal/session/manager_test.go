package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lexiqai/transcribe-gateway/internal/archive"
	"github.com/lexiqai/transcribe-gateway/internal/capture"
	"github.com/lexiqai/transcribe-gateway/internal/stt"
	"github.com/lexiqai/transcribe-gateway/internal/transcript"
)

type memoryArchive struct {
	mu      sync.Mutex
	records []archive.Record
	err     error
}

func (a *memoryArchive) Save(_ context.Context, r archive.Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, r)
	return a.err
}

func (a *memoryArchive) saved() []archive.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]archive.Record(nil), a.records...)
}

// rotatingOpener hands each open a new fake source
type rotatingOpener struct {
	mu      sync.Mutex
	sources []*fakeSource
}

func (o *rotatingOpener) next() *fakeSource {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := newFakeSource()
	o.sources = append(o.sources, s)
	return s
}

// rotatingOpenerFunc opens a new fake source per call
func rotatingOpenerFunc(o *rotatingOpener) capture.Opener {
	return capture.OpenerFunc(func(context.Context) (capture.Source, error) {
		return o.next(), nil
	})
}

// freshDialer returns a new fake channel per call
type freshDialer struct{}

func (freshDialer) Connect(context.Context) (stt.Channel, error) {
	return newFakeChannel(), nil
}

func TestManager_OneActiveSessionAtATime(t *testing.T) {
	h := newHarness()
	opener := &rotatingOpener{}
	h.opts.Opener = rotatingOpenerFunc(opener)
	h.opts.Dialer = &freshDialer{}
	m := NewManager(h.opts, ManagerOptions{})

	if _, err := m.Current(); !errors.Is(err, ErrNoSession) {
		t.Errorf("Expected ErrNoSession, got %v", err)
	}

	first, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := m.Start(context.Background()); !errors.Is(err, ErrSessionActive) {
		t.Errorf("Expected ErrSessionActive, got %v", err)
	}

	if _, err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	second, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("Second start failed: %v", err)
	}
	if second.ID() == first.ID() {
		t.Error("Expected a fresh controller for the second session")
	}
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if second.Status() != StatusStopped {
		t.Errorf("Shutdown left session in %s", second.Status())
	}
}

func TestManager_AutoSummarizeAndArchive(t *testing.T) {
	h := newHarness()
	h.opts.Summarizer = &fakeSummarizer{summary: "Short."}
	store := &memoryArchive{}
	m := NewManager(h.opts, ManagerOptions{Archive: store, AutoSummarize: true})

	ctrl, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.source.push(make([]byte, 320), true)
	h.channel.emit(transcript.Event{Text: "archive me", IsFinal: true})
	waitFor(t, "event", func() bool { return ctrl.Snapshot().Transcript.LiveText != "" })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	records := store.saved()
	if len(records) != 1 {
		t.Fatalf("Expected 1 archived record, got %d", len(records))
	}
	r := records[0]
	if r.ID != ctrl.ID() || r.Status != string(StatusStopped) || r.LiveText != "archive me\n" {
		t.Errorf("Unexpected record %+v", r)
	}
	if r.Summary != "Short." || r.SummaryStyle != "paragraph" {
		t.Errorf("Expected auto summary, got %q / %q", r.Summary, r.SummaryStyle)
	}
	if len(r.Recording) == 0 {
		t.Error("Expected the recording to be archived")
	}
}

func TestManager_FailedStartIsArchived(t *testing.T) {
	h := newHarness()
	h.opener.err = errors.New("no input devices")
	store := &memoryArchive{err: errors.New("disk full")}
	m := NewManager(h.opts, ManagerOptions{Archive: store, AutoSummarize: true})

	ctrl, err := m.Start(context.Background())
	if err == nil {
		t.Fatal("Expected start to fail")
	}
	if ctrl == nil || ctrl.Status() != StatusFailed {
		t.Fatalf("Expected a failed controller")
	}
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	records := store.saved()
	if len(records) != 1 || records[0].Status != string(StatusFailed) || records[0].Summary != "" {
		t.Errorf("Unexpected records %+v", records)
	}
}
