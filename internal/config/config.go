package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"120s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthToken string `env:"AUTH_TOKEN"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	// Speech collaborators
	DiarizeURL      string        `env:"DIARIZE_URL"`
	DiarizeSpeakers int           `env:"DIARIZE_SPEAKERS" envDefault:"0"`
	WhisperURL      string        `env:"WHISPER_URL"`
	WhisperModel    string        `env:"WHISPER_MODEL" envDefault:"whisper-1"`
	WhisperLanguage string        `env:"WHISPER_LANGUAGE" envDefault:"en"`
	STTAPIKey       string        `env:"STT_API_KEY"`
	STTTimeout      time.Duration `env:"STT_TIMEOUT" envDefault:"10m"`
	PreprocessAudio bool          `env:"PREPROCESS_AUDIO" envDefault:"false"`

	// Language-model collaborators
	EmbeddingURL    string        `env:"EMBEDDING_URL" envDefault:"https://api.openai.com/v1/embeddings"`
	EmbeddingModel  string        `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	EmbeddingDim    int           `env:"EMBEDDING_DIM" envDefault:"1536"`
	CompletionURL   string        `env:"COMPLETION_URL" envDefault:"https://api.openai.com/v1/chat/completions"`
	CompletionModel string        `env:"COMPLETION_MODEL" envDefault:"gpt-4"`
	LLMAPIKey       string        `env:"LLM_API_KEY"`
	LLMTimeout      time.Duration `env:"LLM_TIMEOUT" envDefault:"60s"`

	RetryMax      int           `env:"RETRY_MAX" envDefault:"3"`
	RetryInitial  time.Duration `env:"RETRY_INITIAL" envDefault:"250ms"`
	RetryMaxDelay time.Duration `env:"RETRY_MAX_DELAY" envDefault:"5s"`

	// Consolidation
	GapThreshold time.Duration `env:"GAP_THRESHOLD" envDefault:"1.5s"`

	// Ingestion
	IngestBatchSize  int `env:"INGEST_BATCH_SIZE" envDefault:"100"`
	IngestWorkers    int `env:"INGEST_WORKERS" envDefault:"4"`
	RecordingWorkers int `env:"RECORDING_WORKERS" envDefault:"2"`
	RecordingQueue   int `env:"RECORDING_QUEUE_SIZE" envDefault:"100"`

	// Query + synthesis
	QueryTopK            int      `env:"QUERY_TOP_K" envDefault:"20"`
	ContextMaxChars      int      `env:"CONTEXT_MAX_CHARS" envDefault:"4000"`
	MinSimilarity        float64  `env:"MIN_SIMILARITY" envDefault:"0"`
	ExcludedSpeakers     []string `env:"EXCLUDED_SPEAKERS" envSeparator:","`
	CitationPolicy       string   `env:"CITATION_POLICY" envDefault:"drop"`
	MaxConcurrentQueries int      `env:"MAX_CONCURRENT_QUERIES" envDefault:"4"`
	Temperature          float64  `env:"TEMPERATURE" envDefault:"0.7"`
	MaxResponseTokens    int      `env:"MAX_RESPONSE_TOKENS" envDefault:"1000"`
	PromptsFile          string   `env:"PROMPTS_FILE"`

	QueryTimeout   time.Duration `env:"QUERY_TIMEOUT" envDefault:"90s"`
	MaxUploadBytes int64         `env:"MAX_UPLOAD_BYTES" envDefault:"536870912"`

	// Artifacts
	StorageDir     string `env:"STORAGE_DIR" envDefault:"./data"`
	ReviewWatchDir string `env:"REVIEW_WATCH_DIR"`

	S3 S3Config

	// MQTT (optional)
	MQTTBrokerURL  string `env:"MQTT_BROKER_URL"`
	MQTTClientID   string `env:"MQTT_CLIENT_ID" envDefault:"interview-kb"`
	MQTTJobTopic   string `env:"MQTT_JOB_TOPIC" envDefault:"interview-kb/recordings"`
	MQTTEventTopic string `env:"MQTT_EVENT_TOPIC" envDefault:"interview-kb/events"`
	MQTTUsername   string `env:"MQTT_USERNAME"`
	MQTTPassword   string `env:"MQTT_PASSWORD"`
}

// S3Config configures the optional S3 artifact backend.
type S3Config struct {
	Bucket    string `env:"S3_BUCKET"`
	Endpoint  string `env:"S3_ENDPOINT"`
	Region    string `env:"S3_REGION" envDefault:"us-east-1"`
	AccessKey string `env:"S3_ACCESS_KEY"`
	SecretKey string `env:"S3_SECRET_KEY"`
	Prefix    string `env:"S3_PREFIX"`
}

// Enabled reports whether an S3 bucket is configured.
func (c S3Config) Enabled() bool { return c.Bucket != "" }

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile        string
	HTTPAddr       string
	LogLevel       string
	DatabaseURL    string
	MQTTBrokerURL  string
	StorageDir     string
	ReviewWatchDir string
	CitationPolicy string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.MQTTBrokerURL != "" {
		cfg.MQTTBrokerURL = overrides.MQTTBrokerURL
	}
	if overrides.StorageDir != "" {
		cfg.StorageDir = overrides.StorageDir
	}
	if overrides.ReviewWatchDir != "" {
		cfg.ReviewWatchDir = overrides.ReviewWatchDir
	}
	if overrides.CitationPolicy != "" {
		cfg.CitationPolicy = overrides.CitationPolicy
	}

	cfg.CitationPolicy = strings.ToLower(strings.TrimSpace(cfg.CitationPolicy))
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	switch c.CitationPolicy {
	case "drop", "flag":
	default:
		errs = append(errs, fmt.Errorf("CITATION_POLICY must be drop or flag, got %q", c.CitationPolicy))
	}
	if c.EmbeddingDim <= 0 {
		errs = append(errs, fmt.Errorf("EMBEDDING_DIM must be positive, got %d", c.EmbeddingDim))
	}
	if c.IngestBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("INGEST_BATCH_SIZE must be positive, got %d", c.IngestBatchSize))
	}
	if c.QueryTopK <= 0 {
		errs = append(errs, fmt.Errorf("QUERY_TOP_K must be positive, got %d", c.QueryTopK))
	}
	if c.GapThreshold < 0 {
		errs = append(errs, fmt.Errorf("GAP_THRESHOLD must not be negative, got %s", c.GapThreshold))
	}
	return errors.Join(errs...)
}

// RequireDatabase returns an error when no DATABASE_URL is configured.
// Commands that touch the vector index call it before connecting.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	return nil
}

// RequireSpeech returns an error unless both speech collaborators are configured.
func (c *Config) RequireSpeech() error {
	var errs []error
	if c.DiarizeURL == "" {
		errs = append(errs, errors.New("DIARIZE_URL is required"))
	}
	if c.WhisperURL == "" {
		errs = append(errs, errors.New("WHISPER_URL is required"))
	}
	return errors.Join(errs...)
}
