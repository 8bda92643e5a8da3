package config

import (
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"0s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	CORSOrigins  []string      `env:"CORS_ORIGINS" envSeparator:","`

	AuthToken string `env:"AUTH_TOKEN"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	// Pipeline
	ScratchDir        string        `env:"SCRATCH_DIR" envDefault:"./temp"`
	YtdlpPath         string        `env:"YTDLP_PATH" envDefault:"yt-dlp"`
	YtdlpFormat       string        `env:"YTDLP_FORMAT" envDefault:"bestaudio[ext=m4a]/bestaudio"`
	TranscribeCommand string        `env:"TRANSCRIBE_COMMAND" envDefault:"python3"`
	TranscribeArgs    []string      `env:"TRANSCRIBE_ARGS" envSeparator:" "`
	WhisperModel      string        `env:"WHISPER_MODEL" envDefault:"base"`
	PipelineTimeout   time.Duration `env:"PIPELINE_TIMEOUT" envDefault:"0s"`
	SSEKeepalive      time.Duration `env:"SSE_KEEPALIVE" envDefault:"15s"`
	MaxConcurrent     int           `env:"MAX_CONCURRENT" envDefault:"4"`
	QueueSize         int           `env:"QUEUE_SIZE" envDefault:"32"`
	ScratchRetention  time.Duration `env:"SCRATCH_RETENTION" envDefault:"6h"`

	// Downstream collaborators, each optional
	DatabaseURL   string `env:"DATABASE_URL"`
	MQTTBrokerURL string `env:"MQTT_BROKER_URL"`
	MQTTClientID  string `env:"MQTT_CLIENT_ID" envDefault:"notescribe"`
	MQTTTopic     string `env:"MQTT_TOPIC" envDefault:"notescribe/transcriptions"`
	MQTTUsername  string `env:"MQTT_USERNAME"`
	MQTTPassword  string `env:"MQTT_PASSWORD"`
	TranscriptDir string `env:"TRANSCRIPT_DIR"`
	S3            S3Config
}

// S3Config configures the optional transcript archive bucket.
type S3Config struct {
	Bucket    string `env:"S3_BUCKET"`
	Endpoint  string `env:"S3_ENDPOINT"`
	Region    string `env:"S3_REGION" envDefault:"us-east-1"`
	AccessKey string `env:"S3_ACCESS_KEY"`
	SecretKey string `env:"S3_SECRET_KEY"`
	Prefix    string `env:"S3_PREFIX"`
}

// Enabled reports whether a bucket is configured.
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile    string
	HTTPAddr   string
	LogLevel   string
	ScratchDir string
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

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.ScratchDir != "" {
		cfg.ScratchDir = overrides.ScratchDir
	}

	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	cfg.CORSOrigins = trimAll(cfg.CORSOrigins)
	return cfg, nil
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
