package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigEnv = "FRESHNESS_CONFIG"
	DefaultPort      = "8080"
)

type Config struct {
	Port string `toml:"port"`

	ModelPath     string `toml:"model_path"`
	MetadataPath  string `toml:"metadata_path"`
	ONNXLibPath   string `toml:"onnx_lib"`
	TFLiteThreads int    `toml:"tflite_threads"`

	Interpolation  string `toml:"interpolation"`
	MaxUploadBytes int64  `toml:"max_upload_bytes"`
	MaxImagePixels int    `toml:"max_image_pixels"`
	RequestTimeout string `toml:"request_timeout"`

	UploadDir        string `toml:"upload_dir"`
	DatabaseURL      string `toml:"database_url"`
	HistoryRetention string `toml:"history_retention"`
	TelegramBotToken string `toml:"telegram_bot_token"`
}

func NewDefaultConfig() *Config {
	return &Config{
		Port:           DefaultPort,
		ModelPath:      "models/fruit_classifier.onnx",
		MetadataPath:   "models/model_metadata.json",
		TFLiteThreads:  1,
		Interpolation:  "nearest",
		MaxUploadBytes: 10 << 20,
		MaxImagePixels: 40_000_000,
		RequestTimeout: "30s",
	}
}

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getEnvInt(k string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return n, nil
}

// Load builds the config from defaults, then the TOML file at path (if it
// exists), then environment variables.
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.ModelPath = getEnv("MODEL_PATH", cfg.ModelPath)
	cfg.MetadataPath = getEnv("MODEL_METADATA", cfg.MetadataPath)
	cfg.ONNXLibPath = getEnv("ONNX_LIB", cfg.ONNXLibPath)
	cfg.Interpolation = getEnv("INTERPOLATION", cfg.Interpolation)
	cfg.RequestTimeout = getEnv("REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.UploadDir = getEnv("UPLOAD_DIR", cfg.UploadDir)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.HistoryRetention = getEnv("HISTORY_RETENTION", cfg.HistoryRetention)
	cfg.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", cfg.TelegramBotToken)

	var err error
	if cfg.TFLiteThreads, err = getEnvInt("TFLITE_THREADS", cfg.TFLiteThreads); err != nil {
		return nil, err
	}
	if cfg.MaxImagePixels, err = getEnvInt("MAX_IMAGE_PIXELS", cfg.MaxImagePixels); err != nil {
		return nil, err
	}
	maxUpload, err := getEnvInt("MAX_UPLOAD_BYTES", int(cfg.MaxUploadBytes))
	if err != nil {
		return nil, err
	}
	cfg.MaxUploadBytes = int64(maxUpload)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv loads the file named by FRESHNESS_CONFIG, if any.
func LoadFromEnv() (*Config, error) {
	return Load(os.Getenv(DefaultConfigEnv))
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Port) == "" {
		return errors.New("port is empty")
	}
	if strings.TrimSpace(c.ModelPath) == "" {
		return errors.New("model path is empty")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload bytes must be > 0, got %d", c.MaxUploadBytes)
	}
	if c.MaxImagePixels < 0 {
		return fmt.Errorf("max image pixels must be >= 0, got %d", c.MaxImagePixels)
	}
	if _, err := c.Timeout(); err != nil {
		return err
	}
	if _, err := c.Retention(); err != nil {
		return err
	}
	return nil
}

// Timeout is the per-request deadline.
func (c *Config) Timeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.RequestTimeout)
	if err != nil {
		return 0, fmt.Errorf("request timeout %q: %w", c.RequestTimeout, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("request timeout must be > 0, got %s", d)
	}
	return d, nil
}

// Retention is how long history rows are kept. Zero keeps them forever.
func (c *Config) Retention() (time.Duration, error) {
	if strings.TrimSpace(c.HistoryRetention) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.HistoryRetention)
	if err != nil {
		return 0, fmt.Errorf("history retention %q: %w", c.HistoryRetention, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("history retention must be >= 0, got %s", d)
	}
	return d, nil
}

func (c *Config) Addr() string {
	return ":" + c.Port
}
