package summarize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lexiqai/transcribe-gateway/internal/observability"
	"github.com/lexiqai/transcribe-gateway/internal/resilience"
)

const (
	hostServiceName    = "transcribe.host.v1.Summarizer"
	hostSummarizeRoute = "/" + hostServiceName + "/Summarize"
)

// Host delegates summarization to a host process over gRPC
type Host struct {
	addr    string
	conn    *grpc.ClientConn
	health  healthpb.HealthClient
	breaker *resilience.CircuitBreaker
	policy  resilience.Policy
	logger  zerolog.Logger
}

// NewHost creates a client for the host at addr. The connection is
// established lazily; extra options are appended to the defaults.
func NewHost(addr string, breaker *resilience.CircuitBreaker, policy resilience.Policy, extra ...grpc.DialOption) (*Host, error) {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             3 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	opts = append(opts, extra...)

	conn, err := grpc.DialContext(context.Background(), addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial host summarizer at %s: %w", addr, err)
	}

	return &Host{
		addr:    addr,
		conn:    conn,
		health:  healthpb.NewHealthClient(conn),
		breaker: breaker,
		policy:  policy,
		logger:  observability.ForComponent("host_summarizer").With().Str("addr", addr).Logger(),
	}, nil
}

// Available waits, bounded by ctx, for the host to report SERVING
func (h *Host) Available(ctx context.Context) error {
	resp, err := h.health.Check(ctx, &healthpb.HealthCheckRequest{Service: hostServiceName}, grpc.WaitForReady(true))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCapabilityUnavailable, err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: host status %s", ErrCapabilityUnavailable, resp.GetStatus())
	}
	return nil
}

// Summarize sends {text, style} and returns the host's summary
func (h *Host) Summarize(ctx context.Context, text string, style Style) (string, error) {
	if text == "" {
		return "", ErrEmptyTranscript
	}
	req, err := structpb.NewStruct(map[string]interface{}{
		"text":  text,
		"style": string(style),
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	start := time.Now()
	resp := &structpb.Struct{}
	call := func() error {
		return resilience.Retry(ctx, h.policy, func(ctx context.Context) error {
			return h.conn.Invoke(ctx, hostSummarizeRoute, req, resp)
		}, isRetryableStatus)
	}
	if h.breaker != nil {
		err = h.breaker.Call(call)
	} else {
		err = call()
	}
	observability.RecordRemoteCall("summarize", start, err)

	if err != nil {
		switch status.Code(err) {
		case codes.Unimplemented, codes.Unavailable:
			return "", fmt.Errorf("%w: %v", ErrCapabilityUnavailable, err)
		}
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return "", fmt.Errorf("%w: %v", ErrCapabilityUnavailable, err)
		}
		return "", fmt.Errorf("%w: %v", ErrRemote, err)
	}

	summary := resp.GetFields()["summary"].GetStringValue()
	if summary == "" {
		return "", fmt.Errorf("%w: host returned an empty summary", ErrRemote)
	}
	h.logger.Info().Str("style", string(style)).Dur("latency", time.Since(start)).Msg("Host summarized transcript")
	return summary, nil
}

// Close closes the gRPC connection
func (h *Host) Close() error {
	return h.conn.Close()
}

func isRetryableStatus(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted:
		return true
	case codes.DeadlineExceeded, codes.Canceled:
		return false
	}
	return false
}
