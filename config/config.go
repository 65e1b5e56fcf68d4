package config

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/caarlos0/env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const DefaultPath = "config/config.yaml"

type Config struct {
	Server struct {
		Port string `yaml:"port" env:"SERVER_PORT" validate:"required"`
		// ShutdownTimeout in seconds
		ShutdownTimeout int `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" validate:"gte=0"`
	} `yaml:"server"`

	Relay struct {
		Path string `yaml:"path" env:"RELAY_PATH" validate:"required,startswith=/"`
		// ClientBaseURL is where the backend client reaches the relay, normally this same server.
		ClientBaseURL string `yaml:"client_base_url" env:"RELAY_CLIENT_BASE_URL" validate:"required,url"`
		// Timeout in seconds for a single client -> relay request
		Timeout int `yaml:"timeout" env:"RELAY_TIMEOUT" validate:"gt=0"`
	} `yaml:"relay"`

	AI struct {
		// APIKey is held server-side only.
		APIKey     string `yaml:"api_key" env:"API_KEY"`
		BaseURL    string `yaml:"base_url" env:"AI_BASE_URL" validate:"omitempty,url"`
		TextModel  string `yaml:"text_model" env:"AI_TEXT_MODEL" validate:"required"`
		ImageModel string `yaml:"image_model" env:"AI_IMAGE_MODEL" validate:"required"`
	} `yaml:"ai"`

	Encoder struct {
		Binary  string `yaml:"binary" env:"FFMPEG_BINARY" validate:"required"`
		WorkDir string `yaml:"work_dir" env:"FFMPEG_WORK_DIR"`
	} `yaml:"encoder"`

	Player struct {
		IntervalMs int `yaml:"interval_ms" env:"PLAYER_INTERVAL_MS" validate:"gt=0"`
		FadeMs     int `yaml:"fade_ms" env:"PLAYER_FADE_MS" validate:"gte=0,ltfield=IntervalMs"`
	} `yaml:"player"`

	MinIO struct {
		Enabled   bool   `yaml:"enabled" env:"MINIO_ENABLED"`
		Endpoint  string `yaml:"endpoint" env:"MINIO_ENDPOINT" validate:"required_if=Enabled true"`
		AccessKey string `yaml:"access_key" env:"MINIO_ACCESS_KEY"`
		SecretKey string `yaml:"secret_key" env:"MINIO_SECRET_KEY"`
		Bucket    string `yaml:"bucket" env:"MINIO_BUCKET" validate:"required_if=Enabled true"`
		UseSSL    bool   `yaml:"use_ssl" env:"MINIO_USE_SSL"`
		// ExpiryHours of the presigned download URL
		ExpiryHours int `yaml:"expiry_hours" env:"MINIO_EXPIRY_HOURS" validate:"gte=0"`
	} `yaml:"minio"`

	Redis struct {
		Addr     string `yaml:"addr" env:"REDIS_ADDR"`
		Password string `yaml:"password" env:"REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"REDIS_DB" validate:"gte=0"`
	} `yaml:"redis"`

	// Queue hands generation runs to an asynq worker instead of a goroutine.
	// Runs stay in this process's memory, so each process needs its own Name.
	Queue struct {
		Enabled     bool   `yaml:"enabled" env:"QUEUE_ENABLED"`
		Name        string `yaml:"name" env:"QUEUE_NAME" validate:"required_if=Enabled true"`
		Concurrency int    `yaml:"concurrency" env:"QUEUE_CONCURRENCY" validate:"gte=0"`
		// TimeoutMinutes for a single run
		TimeoutMinutes int `yaml:"timeout_minutes" env:"QUEUE_TIMEOUT_MINUTES" validate:"gte=0"`
	} `yaml:"queue"`

	Log struct {
		Level  string `yaml:"level" env:"LOG_LEVEL" validate:"omitempty,oneof=trace debug info warn warning error fatal panic"`
		Format string `yaml:"format" env:"LOG_FORMAT" validate:"omitempty,oneof=text json"`
		File   string `yaml:"file" env:"LOG_FILE"`
		// rotation, only used when File is set
		MaxSizeMB  int `yaml:"max_size_mb" env:"LOG_MAX_SIZE_MB" validate:"gte=0"`
		MaxBackups int `yaml:"max_backups" env:"LOG_MAX_BACKUPS" validate:"gte=0"`
		MaxAgeDays int `yaml:"max_age_days" env:"LOG_MAX_AGE_DAYS" validate:"gte=0"`
	} `yaml:"log"`
}

var AppConfig *Config

// Default returns the values used for anything the YAML file leaves out.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Port = ":8080"
	cfg.Server.ShutdownTimeout = 10
	cfg.Relay.Path = "/functions/relay"
	cfg.Relay.ClientBaseURL = "http://127.0.0.1:8080"
	cfg.Relay.Timeout = 120
	cfg.AI.TextModel = "gpt-4o-mini"
	cfg.AI.ImageModel = "dall-e-3"
	cfg.Encoder.Binary = "ffmpeg"
	cfg.Player.IntervalMs = 2500
	cfg.Player.FadeMs = 500
	cfg.MinIO.ExpiryHours = 24
	cfg.Redis.Addr = "127.0.0.1:6379"
	cfg.Queue.Name = "storyboard"
	cfg.Queue.Concurrency = 4
	cfg.Queue.TimeoutMinutes = 20
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	cfg.Log.MaxSizeMB = 50
	cfg.Log.MaxBackups = 5
	cfg.Log.MaxAgeDays = 14
	return cfg
}

// Load reads the YAML file at path (a missing file is not an error), applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil && err != io.EOF {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// defaults + env only
	default:
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	// env.Parse does not descend into nested structs, so each section is parsed on its own.
	sections := []interface{}{&cfg.Server, &cfg.Relay, &cfg.AI, &cfg.Encoder, &cfg.Player, &cfg.MinIO, &cfg.Redis, &cfg.Queue, &cfg.Log}
	for _, s := range sections {
		if err := env.Parse(s); err != nil {
			return nil, fmt.Errorf("parse env: %w", err)
		}
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// InitConfig loads .env (if present) and the default config file into AppConfig.
func InitConfig() {
	InitConfigFrom(DefaultPath)
}

func InitConfigFrom(path string) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("load .env: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	AppConfig = cfg
}

func (c *Config) RelayTimeout() time.Duration {
	return time.Duration(c.Relay.Timeout) * time.Second
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeout) * time.Second
}

func (c *Config) PlayerInterval() time.Duration {
	return time.Duration(c.Player.IntervalMs) * time.Millisecond
}

func (c *Config) PlayerFade() time.Duration {
	return time.Duration(c.Player.FadeMs) * time.Millisecond
}

func (c *Config) QueueTimeout() time.Duration {
	return time.Duration(c.Queue.TimeoutMinutes) * time.Minute
}

func (c *Config) HasCredential() bool {
	return c.AI.APIKey != ""
}
