package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/transcribe-gateway/internal/archive"
	"github.com/lexiqai/transcribe-gateway/internal/observability"
	"github.com/lexiqai/transcribe-gateway/internal/summarize"
)

// ManagerOptions configure what happens after each session ends
type ManagerOptions struct {
	Archive        archive.Archive // nil disables archiving
	AutoSummarize  bool
	SummaryStyle   summarize.Style
	SummaryTimeout time.Duration
}

// Manager hands out a fresh controller per recording and finishes each one
// (auto-summary, archive) after it ends.
type Manager struct {
	controllerOpts Options
	opts           ManagerOptions
	logger         zerolog.Logger

	mu      sync.Mutex
	current *Controller
	wg      sync.WaitGroup
}

// NewManager returns a manager building controllers from controllerOpts
func NewManager(controllerOpts Options, opts ManagerOptions) *Manager {
	if opts.SummaryStyle == "" {
		opts.SummaryStyle = summarize.StyleParagraph
	}
	if opts.SummaryTimeout <= 0 {
		opts.SummaryTimeout = 60 * time.Second
	}
	return &Manager{
		controllerOpts: controllerOpts,
		opts:           opts,
		logger:         observability.ForComponent("session_manager"),
	}
}

// Start begins a new session. It fails with ErrSessionActive while the
// current session has not ended. The controller is returned even when
// Start fails so its terminal snapshot can be inspected.
func (m *Manager) Start(ctx context.Context) (*Controller, error) {
	m.mu.Lock()
	if m.current != nil && !m.current.Status().Terminal() {
		m.mu.Unlock()
		return nil, ErrSessionActive
	}
	ctrl := NewController(m.controllerOpts)
	m.current = ctrl
	m.wg.Add(1)
	m.mu.Unlock()

	go m.finalize(ctrl)
	return ctrl, ctrl.Start(ctx)
}

// Current returns the most recent controller
func (m *Manager) Current() (*Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, ErrNoSession
	}
	return m.current, nil
}

// Stop stops the current session
func (m *Manager) Stop(ctx context.Context) (*Controller, error) {
	ctrl, err := m.Current()
	if err != nil {
		return nil, err
	}
	return ctrl, ctrl.Stop(ctx)
}

// Shutdown stops the current session and waits for every session to be
// finalized, bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	if ctrl, err := m.Current(); err == nil {
		if err := ctrl.Stop(ctx); err != nil {
			return err
		}
	}

	finished := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) finalize(ctrl *Controller) {
	defer m.wg.Done()
	<-ctrl.Done()

	logger := m.logger.With().Str("session_id", ctrl.ID()).Logger()

	if m.opts.AutoSummarize && ctrl.Status() == StatusStopped {
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.SummaryTimeout)
		if _, err := ctrl.Summarize(ctx, m.opts.SummaryStyle); err != nil {
			logger.Warn().Err(err).Msg("Auto-summary failed")
		}
		cancel()
	}

	if m.opts.Archive == nil {
		return
	}
	record := recordOf(ctrl)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := m.opts.Archive.Save(ctx, record); err != nil {
		logger.Error().Err(err).Msg("Failed to archive session")
		observability.RecordError(KindOther, "archive")
		return
	}
	logger.Info().Msg("Session archived")
}

func recordOf(ctrl *Controller) archive.Record {
	snap := ctrl.Snapshot()
	r := archive.Record{
		ID:           snap.Session.ID,
		Status:       string(snap.Session.Status),
		StartedAt:    snap.Session.StartedAt,
		EndedAt:      snap.Session.EndedAt,
		Error:        snap.Session.Error,
		ErrorKind:    snap.Session.ErrorKind,
		LiveText:     snap.Transcript.LiveText,
		DiarizedText: snap.Transcript.DiarizedText,
	}
	if snap.Summary != nil {
		r.Summary = snap.Summary.Text
		r.SummaryStyle = string(snap.Summary.Style)
	}
	if wav, err := ctrl.Recording(); err == nil {
		r.Recording = wav
	}
	return r
}
