package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/transcribe-gateway/internal/capture"
	"github.com/lexiqai/transcribe-gateway/internal/observability"
	"github.com/lexiqai/transcribe-gateway/internal/session"
	"github.com/lexiqai/transcribe-gateway/internal/stt"
	"github.com/lexiqai/transcribe-gateway/internal/summarize"
)

// Server exposes the session manager over HTTP
type Server struct {
	manager        *session.Manager
	logger         zerolog.Logger
	startTimeout   time.Duration
	summaryTimeout time.Duration
	defaultStyle   summarize.Style
}

// Option customizes a Server
type Option func(*Server)

// WithStartTimeout bounds device open and channel connect for POST /sessions
func WithStartTimeout(d time.Duration) Option {
	return func(s *Server) { s.startTimeout = d }
}

// WithSummaryTimeout bounds POST /sessions/current/summary
func WithSummaryTimeout(d time.Duration) Option {
	return func(s *Server) { s.summaryTimeout = d }
}

// WithDefaultStyle sets the style used when the request names none
func WithDefaultStyle(style summarize.Style) Option {
	return func(s *Server) { s.defaultStyle = style }
}

// NewServer creates the control API for m
func NewServer(m *session.Manager, opts ...Option) *Server {
	s := &Server{
		manager:        m,
		logger:         observability.ForComponent("httpapi"),
		startTimeout:   2 * time.Minute,
		summaryTimeout: 60 * time.Second,
		defaultStyle:   summarize.StyleParagraph,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds the session routes to mux
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /sessions", s.handleStart)
	mux.HandleFunc("POST /sessions/current/stop", s.handleStop)
	mux.HandleFunc("GET /sessions/current", s.handleCurrent)
	mux.HandleFunc("POST /sessions/current/summary", s.handleSummary)
	mux.HandleFunc("GET /sessions/current/recording", s.handleRecording)
	mux.HandleFunc("GET /sessions/current/stream", s.handleStream)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	// The session outlives the request; only the start phase is bounded
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.startTimeout)
	defer cancel()

	ctrl, err := s.manager.Start(ctx)
	if errors.Is(err, session.ErrSessionActive) {
		writeError(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("kind", session.Classify(err)).Msg("Session start failed")
		writeJSON(w, statusFor(err), ctrl.Snapshot())
		return
	}
	writeJSON(w, http.StatusCreated, ctrl.Snapshot())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	ctrl, err := s.manager.Stop(r.Context())
	if errors.Is(err, session.ErrNoSession) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusGatewayTimeout, err)
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	ctrl, err := s.manager.Current()
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	style := s.defaultStyle
	if raw := r.URL.Query().Get("style"); raw != "" {
		parsed, err := summarize.ParseStyle(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		style = parsed
	}

	ctrl, err := s.manager.Current()
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.summaryTimeout)
	defer cancel()
	if _, err := ctrl.Summarize(ctx, style); err != nil {
		if errors.Is(err, session.ErrNotStopped) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeJSON(w, statusFor(err), ctrl.Snapshot())
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request) {
	ctrl, err := s.manager.Current()
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	wav, err := ctrl.Recording()
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", `attachment; filename="recording.wav"`)
	w.Header().Set("Content-Length", fmt.Sprint(len(wav)))
	w.WriteHeader(http.StatusOK)
	w.Write(wav)
}

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, capture.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, capture.ErrDeviceBusy):
		return http.StatusConflict
	case errors.Is(err, capture.ErrDeviceNotFound):
		return http.StatusNotFound
	case errors.Is(err, summarize.ErrCapabilityUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, summarize.ErrEmptyTranscript):
		return http.StatusUnprocessableEntity
	case errors.Is(err, stt.ErrAuth), errors.Is(err, stt.ErrNetwork),
		errors.Is(err, stt.ErrRemoteService), errors.Is(err, summarize.ErrRemote):
		return http.StatusBadGateway
	case errors.Is(err, session.ErrStartCancelled):
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Error: err.Error(), Kind: session.Classify(err)})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
