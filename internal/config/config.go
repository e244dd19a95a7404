package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the transcribe gateway
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Transcription channel configuration
	STTProvider        string `envconfig:"STT_PROVIDER" default:"deepgram"` // deepgram, websocket
	DeepgramAPIKey     string `envconfig:"DEEPGRAM_API_KEY"`
	DeepgramModel      string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	DeepgramLanguage   string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`
	DeepgramDiarize    bool   `envconfig:"DEEPGRAM_DIARIZE" default:"true"` // Request per-word speaker labels on the live stream
	STTWebSocketURL    string `envconfig:"STT_WS_URL" default:"wss://api.deepgram.com/v1/listen"`
	STTAuthScheme      string `envconfig:"STT_AUTH_SCHEME" default:"Token"` // Token or Bearer
	STTConnectAttempts int    `envconfig:"STT_CONNECT_ATTEMPTS" default:"1"`
	STTConnectBackoff  int    `envconfig:"STT_CONNECT_BACKOFF" default:"500"`   // milliseconds
	STTDrainTimeout    int    `envconfig:"STT_DRAIN_TIMEOUT_MS" default:"3000"` // Time allowed for in-flight results after half-close

	// Final full-recording upload for diarization
	DiarizeOnStop bool   `envconfig:"DIARIZE_ON_STOP" default:"false"`
	DiarizeURL    string `envconfig:"DIARIZE_URL" default:"https://api.deepgram.com/v1/listen"`

	// Capture configuration
	CaptureSource      string  `envconfig:"CAPTURE_SOURCE" default:"microphone"` // microphone, audiosocket, file
	CaptureFile        string  `envconfig:"CAPTURE_FILE" default:""`
	AudioSocketAddr    string  `envconfig:"AUDIOSOCKET_ADDR" default:":9092"`
	SampleRate         int     `envconfig:"SAMPLE_RATE" default:"16000"`
	ChunkIntervalMs    int     `envconfig:"CHUNK_INTERVAL_MS" default:"250"`
	AudioBufferSize    int     `envconfig:"AUDIO_BUFFER_SIZE" default:"65536"` // Chunker ring buffer size in bytes
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"`
	KeepRecording      bool    `envconfig:"KEEP_RECORDING" default:"true"` // Retain audio for download

	// Summarization configuration
	Summarizer         string `envconfig:"SUMMARIZER" default:"none"` // none, openai, host
	OpenAIAPIKey       string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL      string `envconfig:"OPENAI_BASE_URL" default:""`
	OpenAIModel        string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	HostSummarizerAddr string `envconfig:"HOST_SUMMARIZER_ADDR" default:"localhost:50061"`
	HostServeAddr      string `envconfig:"HOST_SERVE_ADDR" default:""` // Serve our summarizer to host processes when set
	AutoSummarize      bool   `envconfig:"AUTO_SUMMARIZE" default:"false"`
	SummaryStyle       string `envconfig:"SUMMARY_STYLE" default:"paragraph"` // paragraph, bullets
	SummaryTimeout     int    `envconfig:"SUMMARY_TIMEOUT" default:"60"`      // seconds

	// Archive configuration
	Archive     string `envconfig:"ARCHIVE" default:"none"` // none, file, redis
	ArchiveDir  string `envconfig:"ARCHIVE_DIR" default:"./sessions"`
	RedisAddr   string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPrefix string `envconfig:"REDIS_PREFIX" default:"transcribe:session:"`
	RedisTTL    int    `envconfig:"REDIS_TTL_HOURS" default:"168"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // seconds
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"200"` // milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from environment variables.
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field requirements that struct tags cannot express
func (c *Config) Validate() error {
	switch c.STTProvider {
	case "deepgram", "websocket":
	default:
		return fmt.Errorf("unknown STT_PROVIDER %q", c.STTProvider)
	}
	if c.DeepgramAPIKey == "" {
		return fmt.Errorf("DEEPGRAM_API_KEY is required")
	}

	switch c.CaptureSource {
	case "microphone", "audiosocket":
	case "file":
		if c.CaptureFile == "" {
			return fmt.Errorf("CAPTURE_FILE is required when CAPTURE_SOURCE=file")
		}
	default:
		return fmt.Errorf("unknown CAPTURE_SOURCE %q", c.CaptureSource)
	}

	switch c.Summarizer {
	case "none", "host":
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when SUMMARIZER=openai")
		}
	default:
		return fmt.Errorf("unknown SUMMARIZER %q", c.Summarizer)
	}

	switch c.Archive {
	case "none", "file", "redis":
	default:
		return fmt.Errorf("unknown ARCHIVE %q", c.Archive)
	}

	if c.SampleRate <= 0 || c.ChunkIntervalMs <= 0 {
		return fmt.Errorf("SAMPLE_RATE and CHUNK_INTERVAL_MS must be positive")
	}
	return nil
}

// ChunkInterval returns the capture chunk duration
func (c *Config) ChunkInterval() time.Duration {
	return time.Duration(c.ChunkIntervalMs) * time.Millisecond
}

// DrainTimeout returns how long a half-closed channel may keep delivering results
func (c *Config) DrainTimeout() time.Duration {
	return time.Duration(c.STTDrainTimeout) * time.Millisecond
}
