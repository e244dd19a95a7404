package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lexiqai/transcribe-gateway/internal/audio"
)

var (
	// ErrPermissionDenied means the user or OS refused access to the device
	ErrPermissionDenied = errors.New("capture permission denied")
	// ErrDeviceNotFound means no usable input device exists
	ErrDeviceNotFound = errors.New("capture device not found")
	// ErrDeviceBusy means the device is already claimed
	ErrDeviceBusy = errors.New("capture device busy")
	// ErrDeviceLost means an open device stopped delivering audio
	ErrDeviceLost = errors.New("capture device lost")
)

// Source is an open capture device producing timed chunks. Chunks closes when
// the source ends; Err then reports why (nil after Close).
type Source interface {
	Chunks() <-chan audio.Chunk
	Err() error
	Close() error
}

// Opener acquires an exclusive capture Source
type Opener interface {
	Open(ctx context.Context) (Source, error)
}

// OpenerFunc adapts a function to Opener
type OpenerFunc func(ctx context.Context) (Source, error)

// Open calls f(ctx)
func (f OpenerFunc) Open(ctx context.Context) (Source, error) {
	return f(ctx)
}

// Options configure chunk production shared by every source
type Options struct {
	Format        audio.Format
	ChunkInterval time.Duration
	BufferSize    int
	VAD           *audio.VADConfig // nil disables voice activity flags
}

// DefaultOptions returns 250ms chunks of 16kHz mono PCM
func DefaultOptions() Options {
	return Options{
		Format:        audio.DefaultFormat,
		ChunkInterval: 250 * time.Millisecond,
		VAD:           audio.DefaultVADConfig(),
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Format.SampleRate <= 0 {
		o.Format.SampleRate = d.Format.SampleRate
	}
	if o.Format.Channels <= 0 {
		o.Format.Channels = d.Format.Channels
	}
	if o.ChunkInterval <= 0 {
		o.ChunkInterval = d.ChunkInterval
	}
	return o
}

// classifyDeviceError maps backend error text onto the capture sentinels
func classifyDeviceError(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{ErrPermissionDenied, ErrDeviceNotFound, ErrDeviceBusy, ErrDeviceLost} {
		if errors.Is(err, sentinel) {
			return err
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "permission", "not permitted", "access denied", "not allowed"):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case containsAny(msg, "device unavailable", "busy", "address already in use", "in use"):
		return fmt.Errorf("%w: %v", ErrDeviceBusy, err)
	case containsAny(msg, "invalid device", "no default", "not found", "no such", "no device"):
		return fmt.Errorf("%w: %v", ErrDeviceNotFound, err)
	case containsAny(msg, "unanticipated host error", "stream is stopped", "device disconnected"):
		return fmt.Errorf("%w: %v", ErrDeviceLost, err)
	}
	return err
}

func containsAny(s string, markers ...string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
