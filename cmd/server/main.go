package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/lexiqai/transcribe-gateway/internal/archive"
	"github.com/lexiqai/transcribe-gateway/internal/audio"
	"github.com/lexiqai/transcribe-gateway/internal/capture"
	"github.com/lexiqai/transcribe-gateway/internal/config"
	"github.com/lexiqai/transcribe-gateway/internal/httpapi"
	"github.com/lexiqai/transcribe-gateway/internal/observability"
	"github.com/lexiqai/transcribe-gateway/internal/resilience"
	"github.com/lexiqai/transcribe-gateway/internal/session"
	"github.com/lexiqai/transcribe-gateway/internal/stt"
	"github.com/lexiqai/transcribe-gateway/internal/summarize"
)

var version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("stt_provider", cfg.STTProvider).
		Str("capture_source", cfg.CaptureSource).
		Str("summarizer", cfg.Summarizer).
		Str("archive", cfg.Archive).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Transcribe Gateway starting")

	policy := resilience.NewPolicy(cfg.RetryMaxAttempts, cfg.RetryInitialBackoff)
	format := audio.Format{SampleRate: cfg.SampleRate, Channels: 1}

	sttBreaker := newBreaker(cfg, "stt")
	dialer := newDialer(cfg, format, sttBreaker)

	summarizer, closeSummarizer, err := newSummarizer(cfg, policy)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create summarizer")
	}
	defer closeSummarizer()

	store, err := newArchive(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create archive")
	}

	var diarizer session.Diarizer
	if cfg.DiarizeOnStop {
		diarizer = stt.NewBatchDiarizer(cfg.DiarizeURL, cfg.DeepgramAPIKey, cfg.STTAuthScheme, cfg.DeepgramModel, policy)
	}

	summaryStyle, err := summarize.ParseStyle(cfg.SummaryStyle)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid SUMMARY_STYLE")
	}

	connectPolicy := resilience.NewPolicy(cfg.STTConnectAttempts, cfg.STTConnectBackoff)
	connectPolicy.MaxAttempts = max(cfg.STTConnectAttempts, 1)

	manager := session.NewManager(session.Options{
		Opener:        newOpener(cfg, format),
		Dialer:        dialer,
		Diarizer:      diarizer,
		Summarizer:    summarizer,
		Format:        format,
		KeepRecording: cfg.KeepRecording || cfg.DiarizeOnStop,
		ConnectPolicy: connectPolicy,
		DrainTimeout:  cfg.DrainTimeout(),
	}, session.ManagerOptions{
		Archive:        store,
		AutoSummarize:  cfg.AutoSummarize,
		SummaryStyle:   summaryStyle,
		SummaryTimeout: time.Duration(cfg.SummaryTimeout) * time.Second,
	})

	// Create HTTP server
	mux := http.NewServeMux()
	httpapi.NewServer(manager,
		httpapi.WithDefaultStyle(summaryStyle),
		httpapi.WithSummaryTimeout(time.Duration(cfg.SummaryTimeout)*time.Second),
	).Register(mux)

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler(version))

	// Readiness endpoint
	checks := map[string]observability.HealthCheckFunc{
		"stt": func(ctx context.Context) (bool, error) {
			if !sttBreaker.Ready() {
				return false, resilience.ErrCircuitOpen
			}
			return true, nil
		},
	}
	if cfg.Summarizer != "none" {
		checks["summarizer"] = func(ctx context.Context) (bool, error) {
			if err := summarizer.Available(ctx); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(version, checks))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts. WriteTimeout stays unset: summaries
	// and the snapshot stream outlive a fixed write window.
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("http://localhost:%s/sessions", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Serve our summarizer to host processes
	var hostServer *summarize.HostServer
	if cfg.HostServeAddr != "" {
		hostServer = serveHost(logger, cfg.HostServeAddr, summarizer)
	}

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := manager.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Session shutdown incomplete")
	}
	if hostServer != nil {
		hostServer.Stop()
	}
	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}

func newBreaker(cfg *config.Config, name string) *resilience.CircuitBreaker {
	cb := resilience.NewCircuitBreaker(name, cfg.CircuitBreakerMaxFailures, time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second)
	observability.WatchCircuitBreaker(cb)
	return cb
}

func newOpener(cfg *config.Config, format audio.Format) capture.Opener {
	opts := capture.Options{
		Format:        format,
		ChunkInterval: cfg.ChunkInterval(),
		BufferSize:    cfg.AudioBufferSize,
		VAD:           &audio.VADConfig{EnergyThreshold: cfg.VADEnergyThreshold, SilenceFrames: audio.DefaultVADConfig().SilenceFrames},
	}

	switch cfg.CaptureSource {
	case "audiosocket":
		return capture.NewAudioSocket(cfg.AudioSocketAddr, opts)
	case "file":
		// A file is consumed per session, so each open replays it afresh
		return capture.OpenerFunc(func(ctx context.Context) (capture.Source, error) {
			return capture.NewFileReader(cfg.CaptureFile, opts).Open(ctx)
		})
	default:
		return capture.NewMicrophone(opts)
	}
}

func newDialer(cfg *config.Config, format audio.Format, breaker *resilience.CircuitBreaker) stt.Dialer {
	opts := stt.Options{
		Model:          cfg.DeepgramModel,
		Language:       cfg.DeepgramLanguage,
		SampleRate:     format.SampleRate,
		Channels:       format.Channels,
		Diarize:        cfg.DeepgramDiarize,
		InterimResults: true,
	}
	if cfg.STTProvider == "websocket" {
		return &stt.WSDialer{
			URL:        cfg.STTWebSocketURL,
			APIKey:     cfg.DeepgramAPIKey,
			AuthScheme: cfg.STTAuthScheme,
			Options:    opts,
			Breaker:    breaker,
		}
	}
	return stt.NewDeepgramDialer(cfg.DeepgramAPIKey, opts, breaker)
}

func newSummarizer(cfg *config.Config, policy resilience.Policy) (summarize.Summarizer, func(), error) {
	switch cfg.Summarizer {
	case "openai":
		return summarize.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, policy), func() {}, nil
	case "host":
		host, err := summarize.NewHost(cfg.HostSummarizerAddr, newBreaker(cfg, "host_summarizer"), policy)
		if err != nil {
			return nil, nil, err
		}
		return host, func() { host.Close() }, nil
	default:
		return summarize.Disabled{}, func() {}, nil
	}
}

func newArchive(cfg *config.Config) (archive.Archive, error) {
	switch cfg.Archive {
	case "file":
		return archive.NewFileArchive(cfg.ArchiveDir)
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return archive.NewRedisArchive(client, cfg.RedisPrefix, time.Duration(cfg.RedisTTL)*time.Hour), nil
	default:
		return nil, nil
	}
}

func serveHost(logger zerolog.Logger, addr string, s summarize.Summarizer) *summarize.HostServer {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", addr).Msg("Failed to listen for host summarizer")
	}
	hostServer := summarize.NewHostServer(s)
	go func() {
		logger.Info().Str("addr", addr).Msg("Host summarizer listening")
		if err := hostServer.Serve(lis); err != nil {
			logger.Error().Err(err).Msg("Host summarizer stopped")
		}
	}()
	return hostServer
}
