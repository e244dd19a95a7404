package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/lexiqai/transcribe-gateway/internal/audio"
	"github.com/lexiqai/transcribe-gateway/internal/observability"
	"github.com/lexiqai/transcribe-gateway/internal/resilience"
)

// drainQuiet ends a half-closed Deepgram stream once no result has arrived
// for this long
const drainQuiet = 750 * time.Millisecond

// messageCallbackHandler implements the LiveMessageCallback interface
// It embeds the default handler and overrides only the methods we need to customize
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	handler      func(*msginterfaces.MessageResponse)
	errorHandler func(*msginterfaces.ErrorResponse) error
}

// Message forwards transcription results to the channel
func (m *messageCallbackHandler) Message(message *msginterfaces.MessageResponse) error {
	m.handler(message)
	return nil
}

// Error overrides the default handler to use our custom error handling
func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	if m.errorHandler != nil {
		return m.errorHandler(errorResponse)
	}
	return m.DefaultCallbackHandler.Error(errorResponse)
}

// DeepgramDialer opens live transcription channels with the Deepgram SDK
type DeepgramDialer struct {
	apiKey  string
	options Options
	breaker *resilience.CircuitBreaker
}

// NewDeepgramDialer creates a dialer. breaker may be shared across sessions.
func NewDeepgramDialer(apiKey string, opts Options, breaker *resilience.CircuitBreaker) *DeepgramDialer {
	return &DeepgramDialer{apiKey: apiKey, options: opts, breaker: breaker}
}

// Connect opens the live websocket and returns once it is connected
func (d *DeepgramDialer) Connect(ctx context.Context) (Channel, error) {
	if d.breaker != nil && !d.breaker.Allow() {
		return nil, fmt.Errorf("%w: %w", ErrNetwork, resilience.ErrCircuitOpen)
	}

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.options.Model,
		Language:       d.options.Language,
		Punctuate:      true,
		Diarize:        d.options.Diarize,
		InterimResults: d.options.InterimResults,
		UtteranceEndMs: "1000",
		VadEvents:      true,
		Encoding:       "linear16",
		Channels:       max(d.options.Channels, 1),
		SampleRate:     d.options.SampleRate,
	}

	ch := &deepgramChannel{
		eventPipe: newEventPipe(eventBuffer),
		breaker:   d.breaker,
		logger:    observability.ForComponent("deepgram"),
		lastEvent: make(chan struct{}, 1),
	}
	ch.state.Store(int32(StateConnecting))

	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		handler:                ch.handleMessage,
		errorHandler:           ch.handleError,
	}

	// The SDK ties the socket's lifetime to this context, so it must outlive
	// the connect call.
	client, err := listenClient.NewWSUsingCallback(context.WithoutCancel(ctx), d.apiKey, nil, tOptions, callback)
	if err != nil {
		ch.finish(err)
		d.record(false)
		return nil, fmt.Errorf("%w: failed to create Deepgram client: %v", ErrNetwork, err)
	}
	ch.client = client

	connected := make(chan bool, 1)
	go func() { connected <- client.Connect() }()

	var ok bool
	select {
	case ok = <-connected:
	case <-ctx.Done():
		go func() {
			<-connected
			client.Finish()
		}()
		ch.finish(ctx.Err())
		if d.breaker != nil {
			d.breaker.Release()
		}
		return nil, ctx.Err()
	}
	if !ok {
		ch.finish(ErrNetwork)
		d.record(false)
		return nil, fmt.Errorf("%w: Deepgram websocket did not connect", ErrNetwork)
	}
	d.record(true)

	ch.state.Store(int32(StateOpen))
	ch.logger.Info().
		Str("model", d.options.Model).
		Str("language", d.options.Language).
		Bool("diarize", d.options.Diarize).
		Msg("Deepgram streaming channel open")
	return ch, nil
}

func (d *DeepgramDialer) record(success bool) {
	if d.breaker != nil {
		d.breaker.RecordResult(success)
	}
}

// deepgramChannel adapts the SDK callback client to Channel
type deepgramChannel struct {
	*eventPipe
	client  *listenClient.WSCallback
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
	stats   counters
	state   atomic.Int32

	lastEvent chan struct{}
	once      sync.Once
}

func (d *deepgramChannel) State() State {
	return State(d.state.Load())
}

func (d *deepgramChannel) handleMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil || len(msg.Channel.Alternatives) == 0 {
		return
	}
	alt := msg.Channel.Alternatives[0]

	// Speaker labels are optional in the SDK word type; read them through
	// the wire representation.
	var words []wireWord
	if len(alt.Words) > 0 {
		raw, err := json.Marshal(alt.Words)
		if err == nil {
			err = json.Unmarshal(raw, &words)
		}
		if err != nil {
			d.logger.Warn().Err(err).Msg("Failed to decode word timings, keeping transcript only")
			words = nil
		}
	}

	event := toEvent(alt.Transcript, msg.IsFinal, words)
	if event.Text == "" && len(event.Words) == 0 {
		return
	}

	select {
	case d.lastEvent <- struct{}{}:
	default:
	}
	if !d.push(event) && !d.isFinished() {
		d.logger.Warn().Msg("Event buffer full, dropping recognition event")
	}
}

func (d *deepgramChannel) handleError(errorResponse *msginterfaces.ErrorResponse) error {
	err := fmt.Errorf("%w: %+v", ErrNetwork, errorResponse)
	if d.State() >= StateClosing {
		d.logger.Debug().Err(err).Msg("Deepgram error after half-close")
		return nil
	}
	d.logger.Error().Err(err).Msg("Deepgram stream error")
	if d.breaker != nil {
		d.breaker.RecordResult(false)
	}
	d.terminate(err)
	return nil
}

// Send writes one chunk through the circuit breaker
func (d *deepgramChannel) Send(chunk audio.Chunk) error {
	if d.State() != StateOpen {
		d.stats.recordDropped()
		return ErrNotOpen
	}

	write := func() error {
		_, err := d.client.Write(chunk.Data)
		return err
	}
	var err error
	if d.breaker != nil {
		err = d.breaker.Call(write)
	} else {
		err = write()
	}
	if err != nil {
		d.stats.recordDropped()
		if d.breaker != nil && d.breaker.GetState() == resilience.StateOpen {
			d.terminate(fmt.Errorf("%w: send audio: %v", ErrNetwork, err))
		}
		return fmt.Errorf("failed to send audio to Deepgram: %w", err)
	}
	d.stats.recordSent(len(chunk.Data))
	return nil
}

func (d *deepgramChannel) terminate(err error) {
	d.once.Do(func() {
		d.state.Store(int32(StateClosed))
		if d.client != nil {
			d.client.Finish()
		}
		d.finish(err)
	})
}

// Close stops sending and waits until results stop arriving or ctx expires
func (d *deepgramChannel) Close(ctx context.Context) error {
	if d.state.CompareAndSwap(int32(StateOpen), int32(StateClosing)) {
		timer := time.NewTimer(drainQuiet)
		defer timer.Stop()
	drain:
		for {
			select {
			case <-d.lastEvent:
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(drainQuiet)
			case <-timer.C:
				break drain
			case <-ctx.Done():
				break drain
			}
		}
	}

	d.terminate(nil)
	waitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if ctx.Err() == nil {
		waitCtx = ctx
	}
	d.wait(waitCtx)
	d.logger.Info().Msg("Deepgram streaming channel closed")
	return nil
}

// Stats returns send counters
func (d *deepgramChannel) Stats() Stats {
	stats := d.stats.snapshot()
	stats.EventsDropped = d.dropped.Load()
	return stats
}
