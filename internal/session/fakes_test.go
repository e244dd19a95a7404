package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lexiqai/transcribe-gateway/internal/audio"
	"github.com/lexiqai/transcribe-gateway/internal/capture"
	"github.com/lexiqai/transcribe-gateway/internal/stt"
	"github.com/lexiqai/transcribe-gateway/internal/summarize"
	"github.com/lexiqai/transcribe-gateway/internal/transcript"
)

type fakeSource struct {
	mu       sync.Mutex
	out      chan audio.Chunk
	ended    bool
	err      error
	closeErr error
	closed   atomic.Bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{out: make(chan audio.Chunk, 16)}
}

func (s *fakeSource) push(data []byte, voiced bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.out <- audio.Chunk{Data: data, Voiced: voiced, CapturedAt: time.Now()}
	}
}

// end finishes the chunk sequence with err, as a lost device would
func (s *fakeSource) end(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.ended = true
		s.err = err
		close(s.out)
	}
}

func (s *fakeSource) Chunks() <-chan audio.Chunk { return s.out }

func (s *fakeSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeSource) Close() error {
	s.closed.Store(true)
	s.end(nil)
	return s.closeErr
}

type fakeOpener struct {
	source *fakeSource
	err    error
	block  bool // wait for ctx before answering
	opens  atomic.Int32
}

func (o *fakeOpener) Open(ctx context.Context) (capture.Source, error) {
	o.opens.Add(1)
	if o.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if o.err != nil {
		return nil, o.err
	}
	return o.source, nil
}

type fakeChannel struct {
	mu       sync.Mutex
	events   chan transcript.Event
	sent     chan audio.Chunk
	done     bool
	err      error
	closeErr error
	closed   atomic.Bool
	dropped  atomic.Uint64
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		events: make(chan transcript.Event, 16),
		sent:   make(chan audio.Chunk, 64),
	}
}

func (c *fakeChannel) Send(chunk audio.Chunk) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		c.dropped.Add(1)
		return stt.ErrNotOpen
	}
	c.sent <- chunk
	return nil
}

func (c *fakeChannel) emit(e transcript.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.done {
		c.events <- e
	}
}

// fail ends the channel with a transport error
func (c *fakeChannel) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.done {
		c.done = true
		c.err = err
		close(c.events)
	}
}

func (c *fakeChannel) Events() <-chan transcript.Event { return c.events }

func (c *fakeChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeChannel) Close(ctx context.Context) error {
	c.closed.Store(true)
	c.fail(nil)
	return c.closeErr
}

func (c *fakeChannel) Stats() stt.Stats {
	return stt.Stats{ChunksSent: uint64(len(c.sent)), ChunksDropped: c.dropped.Load()}
}

type fakeDialer struct {
	mu       sync.Mutex
	channel  *fakeChannel
	failures []error // returned in order before succeeding
	block    bool
	calls    atomic.Int32
}

func (d *fakeDialer) Connect(ctx context.Context) (stt.Channel, error) {
	d.calls.Add(1)
	if d.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.failures) > 0 {
		err := d.failures[0]
		d.failures = d.failures[1:]
		return nil, err
	}
	return d.channel, nil
}

type fakeDiarizer struct {
	words []transcript.Word
	err   error
	got   []byte
}

func (d *fakeDiarizer) Diarize(ctx context.Context, wav []byte) ([]transcript.Word, error) {
	d.got = wav
	return d.words, d.err
}

type fakeSummarizer struct {
	availableErr error
	summary      string
	err          error
	gotText      string
}

func (s *fakeSummarizer) Available(context.Context) error { return s.availableErr }

func (s *fakeSummarizer) Summarize(_ context.Context, text string, _ summarize.Style) (string, error) {
	s.gotText = text
	return s.summary, s.err
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (n *recordingNotifier) Notify(notice Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	kinds := make([]string, len(n.notices))
	for i, notice := range n.notices {
		kinds[i] = notice.Kind
	}
	return kinds
}

type harness struct {
	source   *fakeSource
	opener   *fakeOpener
	channel  *fakeChannel
	dialer   *fakeDialer
	notifier *recordingNotifier
	opts     Options
}

func newHarness() *harness {
	h := &harness{
		source:   newFakeSource(),
		channel:  newFakeChannel(),
		notifier: &recordingNotifier{},
	}
	h.opener = &fakeOpener{source: h.source}
	h.dialer = &fakeDialer{channel: h.channel}
	h.opts = Options{
		Opener:        h.opener,
		Dialer:        h.dialer,
		Notifier:      h.notifier,
		Format:        audio.DefaultFormat,
		KeepRecording: true,
		DrainTimeout:  time.Second,
	}
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitDone(t *testing.T, c *Controller) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("Session did not end, status %s", c.Status())
	}
}
