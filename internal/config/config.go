package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// AppConfig is loaded from the environment (and an optional .env file).
type AppConfig struct {
	LogMode      string `env:"LOG_MODE" envDefault:"development"`
	LogLevel     string `env:"LOG_LEVEL"`
	LogRedaction bool   `env:"LOG_REDACTION_ENABLED" envDefault:"true"`
	LogHashSalt  string `env:"LOG_HASH_SALT"`

	HTTP          HTTPConfig
	Database      DBConfig
	Redis         RedisConfig `envPrefix:"REDIS_"`
	Auth          AuthConfig
	Transcription TranscriptionConfig `envPrefix:"TRANSCRIBE_"`
	Speech        SpeechConfig        `envPrefix:"SPEECH_"`
	AsyncTask     AsyncTaskConfig     `envPrefix:"ASYNCTASK_"`
	OpenAI        OpenAIConfig        `envPrefix:"OPENAI_"`
	ObjectStorage ObjectStorageConfig
	Observability ObservabilityConfig
	Metrics       MetricsConfig
}

type HTTPConfig struct {
	Port               string   `env:"PORT" envDefault:"8080"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000,http://localhost:5173"`
}

type DBConfig struct {
	Driver     string `env:"DB_DRIVER" envDefault:"postgres"`
	Host       string `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port       string `env:"POSTGRES_PORT" envDefault:"5432"`
	User       string `env:"POSTGRES_USER" envDefault:"postgres"`
	Password   string `env:"POSTGRES_PASSWORD"`
	Name       string `env:"POSTGRES_NAME" envDefault:"transcribe"`
	SSLMode    string `env:"POSTGRES_SSLMODE" envDefault:"disable"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"transcribe.db"`
}

func (c DBConfig) PostgresDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

type RedisConfig struct {
	Addr    string `env:"ADDR"`
	Channel string `env:"CHANNEL" envDefault:"transcription.jobs"`
}

type AuthConfig struct {
	// JWTSecretKey enables bearer auth when set; the token subject becomes
	// the job owner context.
	JWTSecretKey string `env:"JWT_SECRET_KEY"`
}

type TranscriptionConfig struct {
	Provider       string        `env:"PROVIDER" envDefault:"gcp_speech"`
	PollInterval   time.Duration `env:"POLL_INTERVAL" envDefault:"10s"`
	ResultTTL      time.Duration `env:"RESULT_TTL" envDefault:"24h"`
	MaxInputs      int           `env:"MAX_INPUTS" envDefault:"100"`
	AllowedSchemes []string      `env:"ALLOWED_SCHEMES" envSeparator:"," envDefault:"gs,https,http"`
	CacheDir       string        `env:"CACHE_DIR" envDefault:"./data/transcripts"`
	Bucket         string        `env:"BUCKET"`
	ObjectPrefix   string        `env:"OBJECT_PREFIX" envDefault:"transcripts"`
	SignedURLTTL   time.Duration `env:"SIGNED_URL_TTL" envDefault:"15m"`

	// Failed artifact and summary work is retried on later status reads,
	// waiting one poll interval after the first failure and doubling up to
	// RetryMaxBackoff.
	RetryMaxBackoff    time.Duration `env:"RETRY_MAX_BACKOFF" envDefault:"10m"`
	PostProcessEnabled bool          `env:"POST_PROCESS_ENABLED" envDefault:"true"`

	ProviderMaxConcurrency int           `env:"PROVIDER_MAX_CONCURRENCY" envDefault:"8"`
	ProviderQPS            float64       `env:"PROVIDER_QPS" envDefault:"10"`
	ProviderCallTimeout    time.Duration `env:"PROVIDER_CALL_TIMEOUT" envDefault:"30s"`
}

type SpeechConfig struct {
	Endpoint string `env:"ENDPOINT" envDefault:"speech.googleapis.com:443"`
}

type AsyncTaskConfig struct {
	BaseURL        string `env:"BASE_URL"`
	APIKey         string `env:"API_KEY"`
	Model          string `env:"MODEL"`
	MaxResultBytes int64  `env:"MAX_RESULT_BYTES" envDefault:"67108864"`
}

type OpenAIConfig struct {
	APIKey     string        `env:"API_KEY"`
	BaseURL    string        `env:"BASE_URL" envDefault:"https://api.openai.com"`
	Model      string        `env:"MODEL" envDefault:"gpt-4.1-mini"`
	Timeout    time.Duration `env:"TIMEOUT" envDefault:"120s"`
	MaxRetries int           `env:"MAX_RETRIES" envDefault:"2"`
}

// ObjectStorageConfig selects real GCS or the fake-gcs emulator.
type ObjectStorageConfig struct {
	Mode          string `env:"OBJECT_STORAGE_MODE"`
	EmulatorHost  string `env:"STORAGE_EMULATOR_HOST"`
	PublicBaseURL string `env:"OBJECT_STORAGE_PUBLIC_BASE_URL"`
}

type ObservabilityConfig struct {
	ServiceName  string            `env:"OTEL_SERVICE_NAME" envDefault:"neurobridge-transcribe"`
	Environment  string            `env:"DEPLOYMENT_ENVIRONMENT" envDefault:"development"`
	Version      string            `env:"SERVICE_VERSION" envDefault:"dev"`
	Enabled      bool              `env:"OTEL_ENABLED"`
	SampleRatio  float64           `env:"OTEL_SAMPLER_RATIO" envDefault:"0.1"`
	OTLPEndpoint string            `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPHeaders  map[string]string `env:"OTEL_EXPORTER_OTLP_HEADERS" envSeparator:"," envKeyValSeparator:"="`
	OTLPInsecure bool              `env:"OTEL_EXPORTER_OTLP_INSECURE"`
}

type MetricsConfig struct {
	Enabled         bool          `env:"METRICS_ENABLED"`
	CollectInterval time.Duration `env:"METRICS_COLLECT_INTERVAL" envDefault:"15s"`
}

// Load reads .env (if present) and parses the environment.
func Load() (AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return AppConfig{}, fmt.Errorf("load .env file: %w", err)
		}
	}
	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.Sanitize()
	return cfg, cfg.Validate()
}

// Sanitize applies guardrails to values loaded from env.
func (c *AppConfig) Sanitize() {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	c.Transcription.Sanitize()
	c.OpenAI.BaseURL = strings.TrimRight(strings.TrimSpace(c.OpenAI.BaseURL), "/")
	c.AsyncTask.BaseURL = strings.TrimRight(strings.TrimSpace(c.AsyncTask.BaseURL), "/")
	if c.Observability.SampleRatio < 0 {
		c.Observability.SampleRatio = 0
	}
	if c.Observability.SampleRatio > 1 {
		c.Observability.SampleRatio = 1
	}
}

func (c *TranscriptionConfig) Sanitize() {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.ResultTTL <= 0 {
		c.ResultTTL = 24 * time.Hour
	}
	if c.MaxInputs <= 0 {
		c.MaxInputs = 1
	}
	if c.SignedURLTTL <= 0 || c.SignedURLTTL > 7*24*time.Hour {
		c.SignedURLTTL = 15 * time.Minute
	}
	if c.RetryMaxBackoff < c.PollInterval {
		c.RetryMaxBackoff = c.PollInterval
	}
	if c.ProviderMaxConcurrency <= 0 {
		c.ProviderMaxConcurrency = 1
	}
	if c.ProviderQPS < 0 {
		c.ProviderQPS = 0
	}
	if c.ProviderCallTimeout <= 0 {
		c.ProviderCallTimeout = 30 * time.Second
	}
	schemes := make([]string, 0, len(c.AllowedSchemes))
	for _, s := range c.AllowedSchemes {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			schemes = append(schemes, s)
		}
	}
	c.AllowedSchemes = schemes
	c.ObjectPrefix = strings.Trim(strings.TrimSpace(c.ObjectPrefix), "/")
}

func (c *AppConfig) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("invalid DB_DRIVER=%q (allowed: postgres, sqlite)", c.Database.Driver)
	}
	switch c.Transcription.Provider {
	case "gcp_speech":
	case "asynctask":
		if c.AsyncTask.BaseURL == "" {
			return errors.New("TRANSCRIBE_PROVIDER=asynctask requires ASYNCTASK_BASE_URL")
		}
	default:
		return fmt.Errorf("invalid TRANSCRIBE_PROVIDER=%q (allowed: gcp_speech, asynctask)", c.Transcription.Provider)
	}
	if len(c.Transcription.AllowedSchemes) == 0 {
		return errors.New("TRANSCRIBE_ALLOWED_SCHEMES must list at least one scheme")
	}
	return nil
}
