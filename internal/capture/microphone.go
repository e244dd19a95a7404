package capture

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/deepgram/deepgram-go-sdk/v3/pkg/audio/microphone"
	"github.com/rs/zerolog"

	"github.com/lexiqai/transcribe-gateway/internal/audio"
	"github.com/lexiqai/transcribe-gateway/internal/observability"
)

// The SDK microphone is always opened at this rate and resampled when the
// configured format differs.
const micSampleRate = 16000

// deviceClaimed guards the single default input device for the process
var deviceClaimed atomic.Bool

// Microphone captures the default input device through portaudio
type Microphone struct {
	opts   Options
	logger zerolog.Logger
}

// NewMicrophone creates a microphone opener
func NewMicrophone(opts Options) *Microphone {
	return &Microphone{
		opts:   opts.withDefaults(),
		logger: observability.ForComponent("microphone"),
	}
}

// Open claims the default input device and starts streaming chunks
func (m *Microphone) Open(ctx context.Context) (Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !deviceClaimed.CompareAndSwap(false, true) {
		return nil, ErrDeviceBusy
	}

	microphone.Initialize()

	mic, err := microphone.New(microphone.AudioConfig{
		InputChannels: 1,
		SamplingRate:  micSampleRate,
	})
	if err != nil {
		microphone.Teardown()
		deviceClaimed.Store(false)
		return nil, fmt.Errorf("open microphone: %w", classifyDeviceError(err))
	}
	if err := mic.Start(); err != nil {
		microphone.Teardown()
		deviceClaimed.Store(false)
		return nil, fmt.Errorf("start microphone: %w", classifyDeviceError(err))
	}

	opts := m.opts
	opts.Format.Channels = 1

	s := newStream(opts, func() error {
		defer deviceClaimed.Store(false)
		defer microphone.Teardown()
		mic.Stop()
		return nil
	})
	s.run(func(w io.Writer) error {
		if opts.Format.SampleRate != micSampleRate {
			w = &resampleWriter{w: w, inputRate: micSampleRate, outputRate: opts.Format.SampleRate}
		}
		if err := mic.Stream(w); err != nil {
			return classifyDeviceError(err)
		}
		return nil
	})

	m.logger.Info().
		Int("sample_rate", opts.Format.SampleRate).
		Dur("chunk_interval", opts.ChunkInterval).
		Msg("Microphone opened")
	return s, nil
}

// resampleWriter converts mono PCM to another rate before forwarding it
type resampleWriter struct {
	w          io.Writer
	inputRate  int
	outputRate int
	carry      []byte
}

func (r *resampleWriter) Write(p []byte) (int, error) {
	data := p
	if len(r.carry) > 0 {
		data = append(r.carry, p...)
		r.carry = nil
	}
	if len(data)%2 != 0 {
		r.carry = []byte{data[len(data)-1]}
		data = data[:len(data)-1]
	}
	if _, err := r.w.Write(audio.Resample(data, r.inputRate, r.outputRate)); err != nil {
		return 0, err
	}
	return len(p), nil
}
