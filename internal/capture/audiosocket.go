package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/CyCoreSystems/audiosocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/transcribe-gateway/internal/audio"
	"github.com/lexiqai/transcribe-gateway/internal/observability"
)

// AudioSocketSampleRate is the fixed signed-linear rate of AudioSocket payloads
const AudioSocketSampleRate = 8000

// AudioSocket accepts a single AudioSocket connection and treats its audio as
// the capture stream. The listener is closed once a peer has connected.
type AudioSocket struct {
	addr   string
	opts   Options
	logger zerolog.Logger

	mu   sync.Mutex
	busy bool
}

// NewAudioSocket creates an opener listening on addr
func NewAudioSocket(addr string, opts Options) *AudioSocket {
	return &AudioSocket{
		addr:   addr,
		opts:   opts.withDefaults(),
		logger: observability.ForComponent("audiosocket"),
	}
}

// Open listens on the configured address and waits for one peer, bounded by ctx
func (a *AudioSocket) Open(ctx context.Context) (Source, error) {
	a.mu.Lock()
	if a.busy {
		a.mu.Unlock()
		return nil, ErrDeviceBusy
	}
	a.busy = true
	a.mu.Unlock()

	conn, err := a.accept(ctx)
	if err != nil {
		a.unclaim()
		return nil, err
	}

	id, err := audiosocket.GetID(conn)
	if err != nil {
		conn.Close()
		a.unclaim()
		return nil, fmt.Errorf("%w: read audiosocket id: %v", ErrDeviceNotFound, err)
	}
	logger := a.logger.With().Str("call_id", id.String()).Logger()
	logger.Info().Str("remote_addr", conn.RemoteAddr().String()).Msg("AudioSocket peer connected")

	opts := a.opts
	opts.Format.Channels = 1

	s := newStream(opts, func() error {
		defer a.unclaim()
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
		return nil
	})
	s.run(func(w io.Writer) error {
		return readAudioSocket(conn, w, opts.Format.SampleRate, logger)
	})
	return s, nil
}

func (a *AudioSocket) accept(ctx context.Context) (net.Conn, error) {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", a.addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", a.addr, classifyDeviceError(err))
	}
	defer listener.Close()

	a.logger.Info().Str("addr", listener.Addr().String()).Msg("Waiting for AudioSocket connection")

	type result struct {
		conn net.Conn
		err  error
	}
	accepted := make(chan result, 1)
	go func() {
		conn, err := listener.Accept()
		accepted <- result{conn, err}
	}()

	select {
	case r := <-accepted:
		if r.err != nil {
			return nil, fmt.Errorf("accept: %w", r.err)
		}
		return r.conn, nil
	case <-ctx.Done():
		listener.Close()
		if r := <-accepted; r.conn != nil {
			r.conn.Close()
		}
		return nil, ctx.Err()
	}
}

func (a *AudioSocket) unclaim() {
	a.mu.Lock()
	a.busy = false
	a.mu.Unlock()
}

// readAudioSocket copies signed-linear payloads into w until hangup
func readAudioSocket(r io.Reader, w io.Writer, sampleRate int, logger zerolog.Logger) error {
	for {
		msg, err := audiosocket.NextMessage(r)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("%w: %v", ErrDeviceLost, err)
		}

		switch msg.Kind() {
		case audiosocket.KindSlin:
			payload := msg.Payload()
			if len(payload) == 0 {
				continue
			}
			if _, err := w.Write(audio.Resample(payload, AudioSocketSampleRate, sampleRate)); err != nil {
				return err
			}
		case audiosocket.KindHangup:
			logger.Info().Msg("AudioSocket peer hung up")
			return nil
		case audiosocket.KindError:
			return fmt.Errorf("%w: audiosocket error code %d", ErrDeviceLost, msg.ErrorCode())
		}
	}
}
