package stt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/transcribe-gateway/internal/audio"
	"github.com/lexiqai/transcribe-gateway/internal/observability"
	"github.com/lexiqai/transcribe-gateway/internal/resilience"
)

const (
	writeTimeout = 5 * time.Second
	eventBuffer  = 100
)

// WSDialer connects to any endpoint speaking the live listen protocol over a
// plain websocket. Credentials are sent in the Authorization header.
type WSDialer struct {
	URL        string
	APIKey     string
	AuthScheme string // "Token" or "Bearer"
	Options    Options
	Breaker    *resilience.CircuitBreaker
	Dialer     *websocket.Dialer
}

// Connect performs the handshake and returns an open channel
func (d *WSDialer) Connect(ctx context.Context) (Channel, error) {
	endpoint, err := d.endpoint()
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	scheme := d.AuthScheme
	if scheme == "" {
		scheme = "Token"
	}
	header.Set("Authorization", scheme+" "+d.APIKey)

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	var conn *websocket.Conn
	dial := func() error {
		c, resp, err := dialer.DialContext(ctx, endpoint, header)
		if err != nil {
			return classifyHandshake(resp, err)
		}
		conn = c
		return nil
	}
	if d.Breaker != nil {
		err = d.Breaker.Call(dial)
		if errors.Is(err, resilience.ErrCircuitOpen) {
			err = fmt.Errorf("%w: %w", ErrNetwork, err)
		}
	} else {
		err = dial()
	}
	if err != nil {
		return nil, err
	}

	ch := newWSChannel(conn, d.Breaker)
	ch.open()
	return ch, nil
}

func (d *WSDialer) endpoint() (string, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return "", fmt.Errorf("invalid transcription url: %w", err)
	}
	q := u.Query()
	opts := d.Options
	if opts.Model != "" {
		q.Set("model", opts.Model)
	}
	if opts.Language != "" {
		q.Set("language", opts.Language)
	}
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(opts.SampleRate))
	q.Set("channels", strconv.Itoa(max(opts.Channels, 1)))
	q.Set("punctuate", "true")
	q.Set("interim_results", strconv.FormatBool(opts.InterimResults))
	q.Set("diarize", strconv.FormatBool(opts.Diarize))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func classifyHandshake(resp *http.Response, err error) error {
	if resp != nil {
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return fmt.Errorf("%w: handshake status %d", ErrAuth, resp.StatusCode)
		case resp.StatusCode >= 500:
			return resilience.NewRetryableError(fmt.Errorf("%w: handshake status %d", ErrNetwork, resp.StatusCode))
		}
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}

// wsChannel is a Channel over a gorilla websocket connection
type wsChannel struct {
	*eventPipe
	conn    *websocket.Conn
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
	stats   counters

	state    atomic.Int32
	writeMu  sync.Mutex
	readDone chan struct{}
	once     sync.Once
}

func newWSChannel(conn *websocket.Conn, breaker *resilience.CircuitBreaker) *wsChannel {
	ch := &wsChannel{
		eventPipe: newEventPipe(eventBuffer),
		conn:      conn,
		breaker:   breaker,
		logger:    observability.ForComponent("stt_websocket"),
		readDone:  make(chan struct{}),
	}
	ch.state.Store(int32(StateConnecting))
	return ch
}

func (c *wsChannel) open() {
	c.state.Store(int32(StateOpen))
	go c.readLoop()
}

// State returns the current lifecycle state
func (c *wsChannel) State() State {
	return State(c.state.Load())
}

// Send writes one chunk as a binary frame
func (c *wsChannel) Send(chunk audio.Chunk) error {
	if c.State() != StateOpen {
		c.stats.recordDropped()
		return ErrNotOpen
	}

	write := func() error {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return c.conn.WriteMessage(websocket.BinaryMessage, chunk.Data)
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Call(write)
	} else {
		err = write()
	}
	if err != nil {
		c.stats.recordDropped()
		c.fail(fmt.Errorf("%w: send audio: %v", ErrNetwork, err))
		return err
	}
	c.stats.recordSent(len(chunk.Data))
	return nil
}

func (c *wsChannel) readLoop() {
	defer close(c.readDone)
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.State() >= StateClosing || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.terminate(nil)
				return
			}
			c.fail(fmt.Errorf("%w: %v", ErrNetwork, err))
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		event, frameType, ok, err := parseResponse(data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Ignoring malformed transcription frame")
			continue
		}
		if frameType == "Error" {
			c.fail(fmt.Errorf("%w: %s", ErrRemoteService, errorText(data)))
			return
		}
		if !ok {
			continue
		}
		if !c.push(event) && !c.isFinished() {
			c.logger.Warn().Msg("Event buffer full, dropping recognition event")
		}
	}
}

// fail terminates the channel with a transport error
func (c *wsChannel) fail(err error) {
	if c.State() == StateClosed {
		return
	}
	c.logger.Error().Err(err).Msg("Transcription channel failed")
	c.terminate(err)
}

func (c *wsChannel) terminate(err error) {
	c.once.Do(func() {
		c.state.Store(int32(StateClosed))
		c.conn.Close()
		c.finish(err)
	})
}

// Close sends CloseStream, waits for the server to end the stream or ctx to
// expire, then tears the connection down
func (c *wsChannel) Close(ctx context.Context) error {
	if c.state.CompareAndSwap(int32(StateOpen), int32(StateClosing)) {
		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		err := c.conn.WriteMessage(websocket.TextMessage, closeStreamMessage)
		c.writeMu.Unlock()
		if err != nil {
			c.logger.Debug().Err(err).Msg("CloseStream not delivered")
		}

		select {
		case <-c.readDone:
		case <-ctx.Done():
			c.logger.Debug().Msg("Drain window elapsed before server closed the stream")
		}
	}

	c.terminate(nil)
	// Bound the final hand-off to the consumer by the same window
	waitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if ctx.Err() == nil {
		waitCtx = ctx
	}
	c.wait(waitCtx)
	return nil
}

// Stats returns send counters
func (c *wsChannel) Stats() Stats {
	stats := c.stats.snapshot()
	stats.EventsDropped = c.dropped.Load()
	return stats
}
