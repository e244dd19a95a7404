package stt

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/lexiqai/transcribe-gateway/internal/audio"
	"github.com/lexiqai/transcribe-gateway/internal/transcript"
)

var (
	// ErrAuth means the service rejected the credentials at handshake
	ErrAuth = errors.New("transcription service rejected credentials")
	// ErrNetwork means the connection could not be established or was lost
	ErrNetwork = errors.New("transcription network error")
	// ErrRemoteService means the service answered with an error
	ErrRemoteService = errors.New("transcription service error")
	// ErrNotOpen is returned by Send when the chunk was dropped because the
	// channel is not open. Callers count it rather than treat it as a failure.
	ErrNotOpen = errors.New("transcription channel not open")
)

// State is the lifecycle of a channel
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Channel is a bidirectional streaming transcription connection
type Channel interface {
	// Send forwards one chunk. Chunks sent outside the Open state are dropped
	// and reported as ErrNotOpen.
	Send(chunk audio.Chunk) error

	// Events delivers recognition results in arrival order. It is closed when
	// the channel terminates.
	Events() <-chan transcript.Event

	// Err reports the terminal transport error, if any, once Events is closed
	Err() error

	// Close half-closes the send side and keeps delivering in-flight results
	// until the server ends the stream or ctx expires. Events is closed on return.
	Close(ctx context.Context) error

	// Stats returns send counters
	Stats() Stats
}

// Dialer opens transcription channels
type Dialer interface {
	Connect(ctx context.Context) (Channel, error)
}

// Stats counts chunk traffic on a channel
type Stats struct {
	ChunksSent    uint64 `json:"chunks_sent"`
	ChunksDropped uint64 `json:"chunks_dropped"`
	BytesSent     uint64 `json:"bytes_sent"`
	EventsDropped uint64 `json:"events_dropped"`
}

// Options describe the audio and recognition features requested
type Options struct {
	Model          string
	Language       string
	SampleRate     int
	Channels       int
	Diarize        bool
	InterimResults bool
}

type counters struct {
	sent    atomic.Uint64
	dropped atomic.Uint64
	bytes   atomic.Uint64
}

func (c *counters) recordSent(n int) {
	c.sent.Add(1)
	c.bytes.Add(uint64(n))
}

func (c *counters) recordDropped() {
	c.dropped.Add(1)
}

func (c *counters) snapshot() Stats {
	return Stats{
		ChunksSent:    c.sent.Load(),
		ChunksDropped: c.dropped.Load(),
		BytesSent:     c.bytes.Load(),
	}
}
