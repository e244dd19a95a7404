package session

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/transcribe-gateway/internal/capture"
	"github.com/lexiqai/transcribe-gateway/internal/stt"
	"github.com/lexiqai/transcribe-gateway/internal/summarize"
	"github.com/lexiqai/transcribe-gateway/internal/transcript"
)

var (
	// ErrControllerUsed is returned by Start on a controller that already ran
	ErrControllerUsed = errors.New("session controller already used")
	// ErrStartCancelled is returned by Start when Stop arrived before recording began
	ErrStartCancelled = errors.New("session stopped before recording started")
	// ErrNotStopped is returned by Summarize before the session has stopped
	ErrNotStopped = errors.New("session has not stopped")
	// ErrNoRecording means no audio was retained for download
	ErrNoRecording = errors.New("no recording available")
	// ErrSessionActive is returned by Manager.Start while a session is running
	ErrSessionActive = errors.New("a session is already active")
	// ErrNoSession is returned when the manager has never started a session
	ErrNoSession = errors.New("no session")
)

// Status is the lifecycle state of a session
type Status string

const (
	StatusIdle       Status = "idle"
	StatusRequesting Status = "requesting"
	StatusRecording  Status = "recording"
	StatusStopping   Status = "stopping"
	StatusStopped    Status = "stopped"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions can happen
func (s Status) Terminal() bool {
	return s == StatusStopped || s == StatusFailed
}

// Session describes one recording
type Session struct {
	ID        string     `json:"id"`
	Status    Status     `json:"status"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Error     string     `json:"error,omitempty"`
	ErrorKind string     `json:"error_kind,omitempty"`
}

// SummaryState holds the latest summarization attempt
type SummaryState struct {
	Text        string          `json:"text,omitempty"`
	Style       summarize.Style `json:"style"`
	GeneratedAt time.Time       `json:"generated_at"`
	Error       string          `json:"error,omitempty"`
	ErrorKind   string          `json:"error_kind,omitempty"`
}

// Stats counts traffic for one session
type Stats struct {
	stt.Stats
	EventsReceived uint64 `json:"events_received"`
	Speaking       bool   `json:"speaking"`
}

// Snapshot is the immutable view republished to subscribers
type Snapshot struct {
	Session    Session          `json:"session"`
	Transcript transcript.State `json:"transcript"`
	Summary    *SummaryState    `json:"summary,omitempty"`
	Stats      Stats            `json:"stats"`
}

// Diarizer labels a complete recording with speakers
type Diarizer interface {
	Diarize(ctx context.Context, wav []byte) ([]transcript.Word, error)
}

// Notice is a user-facing status message
type Notice struct {
	SessionID string `json:"session_id"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
}

// Notice kinds
const (
	NoticeRecordingStarted = "recording_started"
	NoticeRecordingStopped = "recording_stopped"
	NoticeMicrophoneError  = "microphone_error"
	NoticeTranscriptError  = "transcription_error"
)

// Notifier receives status notices
type Notifier interface {
	Notify(n Notice)
}

// LogNotifier writes notices to a logger
type LogNotifier struct {
	Logger zerolog.Logger
}

// Notify logs the notice
func (l LogNotifier) Notify(n Notice) {
	l.Logger.Info().
		Str("session_id", n.SessionID).
		Str("notice", n.Kind).
		Msg(n.Message)
}

// Error kinds reported in snapshots, logs and metrics
const (
	KindPermission            = "permission"
	KindDevice                = "device"
	KindNetwork               = "network"
	KindRemoteService         = "remote_service"
	KindCapabilityUnavailable = "capability_unavailable"
	KindCancelled             = "cancelled"
	KindOther                 = "other"
)

// Classify maps an error onto the error taxonomy. It returns "" for nil.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, capture.ErrPermissionDenied):
		return KindPermission
	case errors.Is(err, capture.ErrDeviceNotFound),
		errors.Is(err, capture.ErrDeviceBusy),
		errors.Is(err, capture.ErrDeviceLost):
		return KindDevice
	case errors.Is(err, stt.ErrAuth), errors.Is(err, stt.ErrNetwork):
		return KindNetwork
	case errors.Is(err, stt.ErrRemoteService), errors.Is(err, summarize.ErrRemote):
		return KindRemoteService
	case errors.Is(err, summarize.ErrCapabilityUnavailable):
		return KindCapabilityUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrStartCancelled):
		return KindCancelled
	default:
		return KindOther
	}
}
