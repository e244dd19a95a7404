package capture

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/transcribe-gateway/internal/audio"
	"github.com/lexiqai/transcribe-gateway/internal/observability"
)

var errStreamClosed = errors.New("capture stream closed")

// stream is the Source shared by all backends. A backend supplies a producer
// that writes raw PCM and a release func that makes the producer return.
type stream struct {
	chunks  chan audio.Chunk
	done    chan struct{}
	stopped chan struct{}
	chunker *audio.Chunker
	pace    time.Duration
	release func() error
	logger  zerolog.Logger

	mu         sync.Mutex
	err        error
	releaseErr error
	closeOnce  sync.Once
}

func newStream(opts Options, release func() error) *stream {
	s := &stream{
		chunks:  make(chan audio.Chunk, 8),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		release: release,
		logger:  observability.ForComponent("capture"),
	}
	var vad *audio.VADDetector
	if opts.VAD != nil {
		vad = audio.NewVADDetector(opts.VAD)
	}
	s.chunker = audio.NewChunker(opts.Format, opts.ChunkInterval, opts.BufferSize, vad, s.emit)
	return s
}

// run starts produce in its own goroutine. The chunk channel closes when it returns.
func (s *stream) run(produce func(w io.Writer) error) {
	go func() {
		defer close(s.stopped)
		defer close(s.chunks)

		err := produce(s.chunker)
		if flushErr := s.chunker.Close(); err == nil {
			err = flushErr
		}
		if s.closed() || errors.Is(err, errStreamClosed) {
			err = nil
		}

		s.mu.Lock()
		s.err = err
		s.mu.Unlock()

		s.logger.Debug().
			Uint64("chunks", s.chunker.Sequence()).
			AnErr("error", err).
			Msg("Capture stream ended")
	}()
}

func (s *stream) emit(c audio.Chunk) error {
	select {
	case s.chunks <- c:
	case <-s.done:
		return errStreamClosed
	}
	if s.pace <= 0 {
		return nil
	}
	timer := time.NewTimer(s.pace)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-s.done:
		return errStreamClosed
	}
}

func (s *stream) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Chunks returns the chunk sequence
func (s *stream) Chunks() <-chan audio.Chunk {
	return s.chunks
}

// Err reports why the chunk sequence ended
func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close releases the device and waits for the producer to exit
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.release != nil {
			s.releaseErr = s.release()
		}
	})
	<-s.stopped
	return s.releaseErr
}
