package stt

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/lexiqai/transcribe-gateway/internal/observability"
	"github.com/lexiqai/transcribe-gateway/internal/transcript"
)

// eventPipe decouples producers of recognition events from the consumer.
// push never blocks and counts what it cannot queue; finish records the first terminal error and closes the
// consumer channel once queued events have been delivered.
type eventPipe struct {
	mu       sync.Mutex
	incoming chan transcript.Event
	events   chan transcript.Event
	finished bool
	err      error
	drained  chan struct{}
	dropped  atomic.Uint64
}

func newEventPipe(buffer int) *eventPipe {
	p := &eventPipe{
		incoming: make(chan transcript.Event, buffer),
		events:   make(chan transcript.Event),
		drained:  make(chan struct{}),
	}
	go p.forward()
	return p
}

func (p *eventPipe) forward() {
	defer close(p.drained)
	defer close(p.events)
	for e := range p.incoming {
		p.events <- e
	}
}

// push queues an event. It returns false if the pipe is finished or full.
func (p *eventPipe) push(e transcript.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished {
		return false
	}
	select {
	case p.incoming <- e:
		return true
	default:
		p.dropped.Add(1)
		observability.RecordRecognitionEvent("dropped")
		return false
	}
}

// finish ends the pipe. Only the first call has effect.
func (p *eventPipe) finish(err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished {
		return false
	}
	p.finished = true
	p.err = err
	close(p.incoming)
	return true
}

func (p *eventPipe) isFinished() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finished
}

// wait blocks until every queued event has been handed to the consumer
func (p *eventPipe) wait(ctx context.Context) error {
	select {
	case <-p.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *eventPipe) Events() <-chan transcript.Event {
	return p.events
}

func (p *eventPipe) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}
