package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrChunkerClosed is returned by Write after Close
var ErrChunkerClosed = errors.New("chunker closed")

// EmitFunc receives each completed chunk. A non-nil error stops the chunker
// and is returned from the Write that produced the chunk.
type EmitFunc func(Chunk) error

// Chunker turns an arbitrary PCM byte stream into fixed-size chunks. It is
// an io.Writer so that any capture backend can stream into it.
type Chunker struct {
	mu        sync.Mutex
	ring      *ringBuffer
	chunkSize int
	seq       uint64
	vad       *VADDetector
	emit      EmitFunc
	now       func() time.Time
	closed    bool
}

// NewChunker creates a chunker emitting interval-long chunks of format audio.
// bufferSize is raised to hold at least one chunk. vad may be nil.
func NewChunker(format Format, interval time.Duration, bufferSize int, vad *VADDetector, emit EmitFunc) *Chunker {
	chunkSize := format.ChunkSize(interval)
	if bufferSize <= chunkSize {
		bufferSize = chunkSize*2 + 1
	}
	return &Chunker{
		ring:      newRingBuffer(bufferSize),
		chunkSize: chunkSize,
		vad:       vad,
		emit:      emit,
		now:       time.Now,
	}
}

// ChunkSize returns the byte length of every chunk but the last
func (c *Chunker) ChunkSize() int {
	return c.chunkSize
}

// Write buffers p and emits every chunk it completes
func (c *Chunker) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, ErrChunkerClosed
	}

	written := 0
	for written < len(p) {
		written += c.ring.Write(p[written:])
		for c.ring.Available() >= c.chunkSize {
			if err := c.emitLocked(c.chunkSize); err != nil {
				c.closed = true
				return written, err
			}
		}
	}
	return written, nil
}

// Close emits any buffered remainder as a short final chunk and rejects
// further writes. Safe to call more than once.
func (c *Chunker) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	remainder := c.ring.Available()
	remainder -= remainder % 2
	if remainder == 0 {
		c.ring.Clear()
		return nil
	}
	return c.emitLocked(remainder)
}

// Sequence returns the number of chunks emitted so far
func (c *Chunker) Sequence() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

func (c *Chunker) emitLocked(size int) error {
	data := make([]byte, size)
	c.ring.Read(data)

	chunk := Chunk{
		Data:       data,
		Seq:        c.seq,
		CapturedAt: c.now(),
	}
	c.seq++

	samples := BytesToSamples(data)
	chunk.Level = CalculateRMS(samples)
	if c.vad != nil {
		chunk.Voiced, _, _ = c.vad.ProcessFrame(samples)
	}

	if err := c.emit(chunk); err != nil {
		return fmt.Errorf("emit chunk %d: %w", chunk.Seq, err)
	}
	return nil
}
