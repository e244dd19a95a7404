package summarize

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lexiqai/transcribe-gateway/internal/observability"
)

// hostHandler is the server-side contract of the host summarizer service
type hostHandler interface {
	handleSummarize(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var hostServiceDesc = grpc.ServiceDesc{
	ServiceName: hostServiceName,
	HandlerType: (*hostHandler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Summarize", Handler: summarizeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "transcribe/host/v1/summarizer.proto",
}

func summarizeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(hostHandler).handleSummarize(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: hostSummarizeRoute}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(hostHandler).handleSummarize(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// HostServer exposes a Summarizer to other processes over gRPC
type HostServer struct {
	summarizer Summarizer
	health     *health.Server
	server     *grpc.Server
	logger     zerolog.Logger

	// healthInterval is how often the wrapped summarizer is re-checked
	healthInterval time.Duration
	stop           chan struct{}
	stopOnce       sync.Once
}

// NewHostServer registers the summarizer and health services on a new gRPC server
func NewHostServer(s Summarizer, opts ...grpc.ServerOption) *HostServer {
	h := &HostServer{
		summarizer: s,
		health:     health.NewServer(),
		server:     grpc.NewServer(opts...),
		logger:     observability.ForComponent("host_server"),

		healthInterval: 30 * time.Second,
		stop:           make(chan struct{}),
	}
	h.server.RegisterService(&hostServiceDesc, h)
	healthpb.RegisterHealthServer(h.server, h.health)
	h.health.SetServingStatus(hostServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Serve reports health from the wrapped summarizer and serves until Stop
func (h *HostServer) Serve(lis net.Listener) error {
	go h.refreshHealth()
	h.logger.Info().Str("addr", lis.Addr().String()).Msg("Host summarizer listening")
	if err := h.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// refreshHealth publishes the wrapped summarizer's availability until Stop
func (h *HostServer) refreshHealth() {
	h.checkHealth()

	ticker := time.NewTicker(h.healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.checkHealth()
		case <-h.stop:
			return
		}
	}
}

func (h *HostServer) checkHealth() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.summarizer.Available(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("Wrapped summarizer unavailable")
		h.health.SetServingStatus(hostServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	h.health.SetServingStatus(hostServiceName, healthpb.HealthCheckResponse_SERVING)
}

// Stop drains in-flight calls and stops the server
func (h *HostServer) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
	h.health.Shutdown()
	h.server.GracefulStop()
}

func (h *HostServer) handleSummarize(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	text := fields["text"].GetStringValue()
	style, err := ParseStyle(fields["style"].GetStringValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if text == "" {
		return nil, status.Error(codes.InvalidArgument, ErrEmptyTranscript.Error())
	}

	summary, err := h.summarizer.Summarize(ctx, text, style)
	if err != nil {
		switch {
		case errors.Is(err, ErrCapabilityUnavailable):
			return nil, status.Error(codes.Unavailable, err.Error())
		case errors.Is(err, ErrEmptyTranscript):
			return nil, status.Error(codes.InvalidArgument, err.Error())
		default:
			return nil, status.Error(codes.Internal, err.Error())
		}
	}
	return structpb.NewStruct(map[string]interface{}{"summary": summary})
}
