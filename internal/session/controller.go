package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lexiqai/transcribe-gateway/internal/audio"
	"github.com/lexiqai/transcribe-gateway/internal/capture"
	"github.com/lexiqai/transcribe-gateway/internal/observability"
	"github.com/lexiqai/transcribe-gateway/internal/resilience"
	"github.com/lexiqai/transcribe-gateway/internal/stt"
	"github.com/lexiqai/transcribe-gateway/internal/summarize"
	"github.com/lexiqai/transcribe-gateway/internal/transcript"
)

const subscriberBuffer = 16

// Options wires a controller to its collaborators
type Options struct {
	Opener     capture.Opener
	Dialer     stt.Dialer
	Diarizer   Diarizer // nil skips the final upload
	Summarizer summarize.Summarizer
	Notifier   Notifier

	Format        audio.Format
	KeepRecording bool              // retain audio for download and the final upload
	ConnectPolicy resilience.Policy // reconnect attempts for network errors at start
	DrainTimeout  time.Duration     // bound on in-flight results after half-close
}

// Controller runs exactly one session: capture, stream, accumulate, tear down.
// All session, transcript and summary state is guarded by mu.
type Controller struct {
	opts   Options
	logger zerolog.Logger

	mu             sync.Mutex
	session        Session
	acc            *transcript.Accumulator
	summary        *SummaryState
	source         capture.Source
	channel        stt.Channel
	lastStats      stt.Stats
	recording      bytes.Buffer
	eventsReceived uint64
	speaking       bool
	recordingSince time.Time
	ending         bool
	stopRequested  bool
	cancelStart    context.CancelFunc
	startDone      chan struct{}
	subscribers    map[int]chan Snapshot
	nextSub        int

	chunksDone chan struct{}
	eventsDone chan struct{}
	done       chan struct{}
}

// NewController returns an Idle controller with a fresh session id
func NewController(opts Options) *Controller {
	if opts.Summarizer == nil {
		opts.Summarizer = summarize.Disabled{}
	}
	if opts.Format.SampleRate <= 0 {
		opts.Format = audio.DefaultFormat
	}
	if opts.ConnectPolicy.MaxAttempts <= 0 {
		opts.ConnectPolicy.MaxAttempts = 1
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 3 * time.Second
	}

	id := uuid.New().String()
	logger := observability.ForSession(id)
	if opts.Notifier == nil {
		opts.Notifier = LogNotifier{Logger: logger}
	}

	return &Controller{
		opts:        opts,
		logger:      logger,
		session:     Session{ID: id, Status: StatusIdle},
		acc:         transcript.NewAccumulator(),
		subscribers: make(map[int]chan Snapshot),
		done:        make(chan struct{}),
	}
}

// ID returns the session id
func (c *Controller) ID() string {
	return c.session.ID
}

// Done is closed once the session reaches Stopped or Failed
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Status returns the current lifecycle state
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Status
}

// Start opens the capture device and the transcription channel and begins
// streaming. It returns once the session is Recording or has ended.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.session.Status != StatusIdle {
		c.mu.Unlock()
		return ErrControllerUsed
	}
	startCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.cancelStart = cancel
	c.startDone = make(chan struct{})
	defer close(c.startDone)
	c.session.Status = StatusRequesting
	c.session.StartedAt = time.Now().UTC()
	c.publishLocked()
	c.mu.Unlock()

	observability.RecordSessionStart()
	c.logger.Info().Msg("Session starting")

	source, err := c.opts.Opener.Open(startCtx)
	if err != nil {
		if c.abortIfStopRequested() {
			return ErrStartCancelled
		}
		c.notify(NoticeMicrophoneError, err.Error())
		c.finish(StatusFailed, fmt.Errorf("open capture: %w", err), "capture")
		return err
	}

	channel, err := c.connect(startCtx)
	if err != nil {
		if closeErr := source.Close(); closeErr != nil {
			c.logger.Warn().Err(closeErr).Msg("Error releasing capture device")
		}
		if c.abortIfStopRequested() {
			return ErrStartCancelled
		}
		c.notify(NoticeTranscriptError, err.Error())
		c.finish(StatusFailed, fmt.Errorf("connect transcription: %w", err), "stt")
		return err
	}

	c.mu.Lock()
	if c.stopRequested {
		c.mu.Unlock()
		c.closeChannel(channel)
		if err := source.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("Error releasing capture device")
		}
		c.finish(StatusStopped, nil, "")
		return ErrStartCancelled
	}
	c.source = source
	c.channel = channel
	c.session.Status = StatusRecording
	c.recordingSince = time.Now()
	c.chunksDone = make(chan struct{})
	c.eventsDone = make(chan struct{})
	go c.pumpChunks(source, channel)
	go c.pumpEvents(channel)
	c.publishLocked()
	c.mu.Unlock()

	observability.RecordRecordingStarted()
	c.logger.Info().Msg("Recording started")
	c.notify(NoticeRecordingStarted, "Recording started")
	return nil
}

func (c *Controller) connect(ctx context.Context) (stt.Channel, error) {
	var channel stt.Channel
	attempt := 0
	err := resilience.Retry(ctx, c.opts.ConnectPolicy, func(ctx context.Context) error {
		attempt++
		ch, err := c.opts.Dialer.Connect(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Int("attempt", attempt).Msg("Transcription connect failed")
			return err
		}
		channel = ch
		return nil
	}, isReconnectable)
	if err != nil {
		return nil, err
	}
	return channel, nil
}

func isReconnectable(err error) bool {
	return errors.Is(err, stt.ErrNetwork) && !errors.Is(err, stt.ErrAuth)
}

// abortIfStopRequested finishes a cancelled start as Stopped
func (c *Controller) abortIfStopRequested() bool {
	c.mu.Lock()
	requested := c.stopRequested
	c.mu.Unlock()
	if requested {
		c.finish(StatusStopped, nil, "")
	}
	return requested
}

func (c *Controller) pumpChunks(source capture.Source, channel stt.Channel) {
	defer close(c.chunksDone)

	for chunk := range source.Chunks() {
		c.mu.Lock()
		if c.opts.KeepRecording {
			c.recording.Write(chunk.Data)
		}
		if chunk.Voiced != c.speaking {
			c.speaking = chunk.Voiced
			c.publishLocked()
		}
		c.mu.Unlock()

		err := channel.Send(chunk)
		observability.RecordChunk(err == nil, len(chunk.Data))
		if err != nil && !errors.Is(err, stt.ErrNotOpen) {
			c.logger.Debug().Err(err).Uint64("seq", chunk.Seq).Msg("Chunk send failed")
		}
	}

	if err := source.Err(); err != nil {
		c.notify(NoticeMicrophoneError, err.Error())
		go c.fail(fmt.Errorf("capture: %w", err), "capture")
		return
	}
	if c.recordingActive() {
		c.logger.Info().Msg("Capture source ended")
		go c.Stop(context.Background())
	}
}

func (c *Controller) pumpEvents(channel stt.Channel) {
	defer close(c.eventsDone)

	for event := range channel.Events() {
		c.mu.Lock()
		c.acc.ApplyLive(event)
		c.eventsReceived++
		c.publishLocked()
		c.mu.Unlock()

		switch {
		case event.HasSpeakers() && event.IsFinal:
			observability.RecordRecognitionEvent("diarized")
		case event.IsFinal:
			observability.RecordRecognitionEvent("final")
		default:
			observability.RecordRecognitionEvent("interim")
		}
	}

	err := channel.Err()
	if !c.recordingActive() {
		return
	}
	if err == nil {
		err = fmt.Errorf("%w: stream ended by server", stt.ErrNetwork)
	}
	c.notify(NoticeTranscriptError, err.Error())
	go c.fail(fmt.Errorf("transcription: %w", err), "stt")
}

func (c *Controller) recordingActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Status == StatusRecording && !c.ending
}

// fail tears a Recording session down and marks it Failed
func (c *Controller) fail(err error, component string) {
	c.mu.Lock()
	if c.session.Status != StatusRecording || c.ending {
		c.mu.Unlock()
		return
	}
	c.ending = true
	c.mu.Unlock()

	c.logger.Error().Err(err).Msg("Session failed")
	c.closeSource()
	c.closeChannel(c.channel)
	<-c.chunksDone
	<-c.eventsDone
	c.finish(StatusFailed, err, component)
}

// Stop ends the session. From Recording it runs the full teardown and the
// optional final upload; from Requesting it cancels the start and waits for
// the device to be released. Stop on an ended session is a no-op.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	switch c.session.Status {
	case StatusIdle:
		c.mu.Unlock()
		c.finish(StatusStopped, nil, "")
		return nil

	case StatusRequesting:
		c.stopRequested = true
		c.cancelStart()
		startDone := c.startDone
		c.mu.Unlock()
		c.logger.Info().Msg("Stop requested during start")
		select {
		case <-startDone:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil

	case StatusRecording:
		if c.ending {
			c.mu.Unlock()
			return c.wait(ctx)
		}
		c.ending = true
		c.session.Status = StatusStopping
		c.publishLocked()
		c.mu.Unlock()

	default:
		c.mu.Unlock()
		return c.wait(ctx)
	}

	c.logger.Info().Msg("Stopping session")

	// Stop chunk production and forward what was already captured, then
	// half-close so in-flight results drain. Each step runs regardless of the
	// previous one.
	c.closeSource()
	<-c.chunksDone
	c.closeChannel(c.channel)
	<-c.eventsDone

	var retained error
	if c.opts.Diarizer != nil {
		retained = c.diarize(ctx)
	}

	c.finish(StatusStopped, retained, "diarize")
	c.notify(NoticeRecordingStopped, "Recording stopped")
	return nil
}

func (c *Controller) wait(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) closeSource() {
	c.mu.Lock()
	source := c.source
	c.mu.Unlock()
	if source == nil {
		return
	}
	if err := source.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("Error releasing capture device")
	}
}

func (c *Controller) closeChannel(channel stt.Channel) {
	if channel == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.DrainTimeout)
	defer cancel()
	if err := channel.Close(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Error closing transcription channel")
	}
	stats := channel.Stats()
	c.mu.Lock()
	c.lastStats = stats
	c.mu.Unlock()
}

// diarize uploads the full recording and replaces the labeled history
func (c *Controller) diarize(ctx context.Context) error {
	c.mu.Lock()
	pcm := append([]byte(nil), c.recording.Bytes()...)
	c.mu.Unlock()
	if len(pcm) == 0 {
		return nil
	}

	words, err := c.opts.Diarizer.Diarize(ctx, audio.EncodeWAV(pcm, c.opts.Format))
	if err != nil {
		c.logger.Warn().Err(err).Msg("Final diarization failed")
		return fmt.Errorf("diarize recording: %w", err)
	}

	c.mu.Lock()
	c.acc.ApplyDiarized(words)
	c.publishLocked()
	c.mu.Unlock()
	c.logger.Info().Int("words", len(words)).Msg("Recording diarized")
	return nil
}

// finish records the terminal state once
func (c *Controller) finish(status Status, err error, component string) {
	c.mu.Lock()
	if c.session.Status.Terminal() {
		c.mu.Unlock()
		return
	}
	wasRecording := !c.recordingSince.IsZero()
	now := time.Now().UTC()
	c.session.Status = status
	c.session.EndedAt = &now
	if err != nil {
		c.session.Error = err.Error()
		c.session.ErrorKind = Classify(err)
	}
	c.publishLocked()
	c.mu.Unlock()

	var recorded time.Duration
	if wasRecording {
		recorded = time.Since(c.recordingSince)
	}
	observability.RecordSessionEnd(string(status), wasRecording, recorded)
	if err != nil {
		observability.RecordError(Classify(err), component)
	}
	c.logger.Info().Str("status", string(status)).Dur("recorded", recorded).Msg("Session ended")
	close(c.done)
}

// Summarize summarizes the best available transcript of a stopped session.
// Failures are recorded on the summary state; the session stays Stopped.
func (c *Controller) Summarize(ctx context.Context, style summarize.Style) (string, error) {
	c.mu.Lock()
	if c.session.Status != StatusStopped {
		c.mu.Unlock()
		return "", ErrNotStopped
	}
	text := c.acc.State().Best()
	c.mu.Unlock()

	summary, err := c.summarize(ctx, text, style)

	state := &SummaryState{Text: summary, Style: style, GeneratedAt: time.Now().UTC()}
	if err != nil {
		state.Error = err.Error()
		state.ErrorKind = Classify(err)
		observability.RecordError(state.ErrorKind, "summarize")
		c.logger.Warn().Err(err).Msg("Summarization failed")
	}

	c.mu.Lock()
	c.summary = state
	c.publishLocked()
	c.mu.Unlock()
	return summary, err
}

func (c *Controller) summarize(ctx context.Context, text string, style summarize.Style) (string, error) {
	if err := c.opts.Summarizer.Available(ctx); err != nil {
		return "", err
	}
	return c.opts.Summarizer.Summarize(ctx, text, style)
}

// Recording returns the captured audio as a WAV file
func (c *Controller) Recording() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recording.Len() == 0 {
		return nil, ErrNoRecording
	}
	return audio.EncodeWAV(c.recording.Bytes(), c.opts.Format), nil
}

// Snapshot returns the current state
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	stats := c.lastStats
	if c.channel != nil && !c.session.Status.Terminal() {
		stats = c.channel.Stats()
	}
	snap := Snapshot{
		Session:    c.session,
		Transcript: c.acc.State(),
		Stats: Stats{
			Stats:          stats,
			EventsReceived: c.eventsReceived,
			Speaking:       c.speaking,
		},
	}
	if c.summary != nil {
		s := *c.summary
		snap.Summary = &s
	}
	return snap
}

// Subscribe returns a stream of snapshots, starting with the current one.
// A slow subscriber skips intermediate snapshots but always sees the latest.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, subscriberBuffer)

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = ch
	ch <- c.snapshotLocked()
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subscribers, id)
			c.mu.Unlock()
			close(ch)
		})
	}
}

func (c *Controller) publishLocked() {
	if len(c.subscribers) == 0 {
		return
	}
	snap := c.snapshotLocked()
	for _, ch := range c.subscribers {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func (c *Controller) notify(kind, message string) {
	c.opts.Notifier.Notify(Notice{SessionID: c.session.ID, Kind: kind, Message: message})
}
