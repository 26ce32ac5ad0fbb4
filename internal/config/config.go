package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jo-hoe/audioscribe/internal/common"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration loaded from YAML.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Service ServiceConfig `yaml:"service"`
	Export  ExportConfig  `yaml:"export"`
}

// ServerConfig holds HTTP server and runtime settings.
type ServerConfig struct {
	Addr            string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	MaxUploadSize   ByteSize      `yaml:"maxUploadSize"`
	WorkerCount     int           `yaml:"workerCount"`
	StorageDir      string        `yaml:"storageDir"`
	APIKey          string        `yaml:"apiKey"`          // optional static API key header (X-API-Key)
	DatabasePath    string        `yaml:"databasePath"`    // optional, overrides default storage_dir/audioscribe.db
	ShutdownGrace   time.Duration `yaml:"shutdownGrace"`   // time to wait for workers before forced stop
	CallbackRetries int           `yaml:"callbackRetries"` // number of callback attempts
	CallbackBackoff time.Duration `yaml:"callbackBackoff"` // base backoff duration
	LogLevel        string        `yaml:"logLevel"`        // debug|info|warn|error
	LogFormat       string        `yaml:"logFormat"`       // auto|text|json
}

// ServiceConfig describes the remote transcription service and the polling budget.
type ServiceConfig struct {
	BaseURL       string        `yaml:"baseUrl"`
	WakeTimeout   time.Duration `yaml:"wakeTimeout"`
	UploadTimeout time.Duration `yaml:"uploadTimeout"`
	PollTimeout   time.Duration `yaml:"pollTimeout"`
	PollInterval  time.Duration `yaml:"pollInterval"`
	MaxAttempts   int           `yaml:"maxAttempts"`
	Auth          AuthConfig    `yaml:"auth"`
}

// AuthConfig enables bearer-token sign in against the service's auth endpoint.
type AuthConfig struct {
	Enabled  bool          `yaml:"enabled"`
	BaseURL  string        `yaml:"baseUrl"` // optional, defaults to service.baseUrl
	Email    string        `yaml:"email"`
	Password string        `yaml:"password"` // supports env expansion
	Token    string        `yaml:"token"`    // optional pre-issued token; skips login until it expires
	Timeout  time.Duration `yaml:"timeout"`
}

// ExportConfig controls artifact rendering and automatic delivery of finished transcripts.
type ExportConfig struct {
	Directory string   `yaml:"directory"` // optional; when set, finished jobs are written here
	Formats   []string `yaml:"formats"`   // formats written to Directory (text|srt|vtt|json)
	Title     string   `yaml:"title"`     // heading of rendered PDF documents
	FontFile  string   `yaml:"fontFile"`  // optional UTF-8 TrueType font for PDF text
}

// ByteSize represents a size in bytes that unmarshals from strings like "10Mi", "20MB", "512KiB", "1024".
type ByteSize uint64

// UnmarshalYAML implements yaml unmarshalling for ByteSize.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		parsed, err := ParseByteSize(strings.TrimSpace(value.Value))
		if err != nil {
			return err
		}
		*b = ByteSize(parsed)
		return nil
	}
	return fmt.Errorf("invalid bytesize node kind: %v", value.Kind)
}

// String renders the size in IEC units, e.g. "10 MiB".
func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// ParseByteSize parses a string like "10Mi", "20MB", "512KiB", "1024" into bytes.
// Kubernetes-style binary quantities (Ki, Mi, Gi), IEC and SI suffixes are accepted.
func ParseByteSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty size")
	}
	v, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return v, nil
}

// Load reads YAML config from path, expands environment variables, and validates it.
// If path is empty, it will attempt to read from env var AUDIOSCRIBE_CONFIG, then default to "config.yaml".
func Load(path string) (*Config, error) {
	if path == "" {
		if env := os.Getenv("AUDIOSCRIBE_CONFIG"); env != "" {
			path = env
		} else {
			path = "config.yaml"
		}
	}
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath) // #nosec G304 - reading sanitized config file path is expected
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	normalize(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	if cfg.Server.StorageDir != "" {
		if err := os.MkdirAll(cfg.Server.StorageDir, 0o750); err != nil {
			return nil, fmt.Errorf("ensure storage_dir: %w", err)
		}
	}
	if cfg.Server.DatabasePath == "" {
		cfg.Server.DatabasePath = filepath.Join(cfg.Server.StorageDir, "audioscribe.db")
	}
	if cfg.Export.Directory == "" && len(cfg.Export.Formats) > 0 {
		cfg.Export.Directory = filepath.Join(cfg.Server.StorageDir, common.ExportsDirName)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		// sync requests hold the connection for the whole poll budget
		cfg.Server.WriteTimeout = 20 * time.Minute
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if cfg.Server.MaxUploadSize == 0 {
		cfg.Server.MaxUploadSize = ByteSize(200 * 1024 * 1024)
	}
	if cfg.Server.WorkerCount <= 0 {
		cfg.Server.WorkerCount = 1
	}
	if cfg.Server.StorageDir == "" {
		cfg.Server.StorageDir = "data"
	}
	if cfg.Server.ShutdownGrace == 0 {
		cfg.Server.ShutdownGrace = 15 * time.Second
	}
	if cfg.Server.CallbackRetries == 0 {
		cfg.Server.CallbackRetries = 3
	}
	if cfg.Server.CallbackBackoff == 0 {
		cfg.Server.CallbackBackoff = 2 * time.Second
	}
	if strings.TrimSpace(cfg.Server.LogLevel) == "" {
		cfg.Server.LogLevel = "info"
	}
	if strings.TrimSpace(cfg.Server.LogFormat) == "" {
		cfg.Server.LogFormat = "auto"
	}

	// Service defaults
	if cfg.Service.WakeTimeout == 0 {
		cfg.Service.WakeTimeout = 90 * time.Second
	}
	if cfg.Service.UploadTimeout == 0 {
		cfg.Service.UploadTimeout = 120 * time.Second
	}
	if cfg.Service.PollTimeout == 0 {
		cfg.Service.PollTimeout = 30 * time.Second
	}
	if cfg.Service.PollInterval == 0 {
		cfg.Service.PollInterval = 3 * time.Second
	}
	if cfg.Service.MaxAttempts == 0 {
		cfg.Service.MaxAttempts = 300
	}
	if cfg.Service.Auth.Enabled {
		if strings.TrimSpace(cfg.Service.Auth.BaseURL) == "" {
			cfg.Service.Auth.BaseURL = cfg.Service.BaseURL
		}
		if cfg.Service.Auth.Timeout == 0 {
			cfg.Service.Auth.Timeout = 30 * time.Second
		}
	}

	// Export defaults
	if strings.TrimSpace(cfg.Export.Title) == "" {
		cfg.Export.Title = "Audio Transcript"
	}
	if cfg.Export.Directory != "" && len(cfg.Export.Formats) == 0 {
		cfg.Export.Formats = []string{"text"}
	}
}

func normalize(cfg *Config) {
	cfg.Service.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Service.BaseURL), "/")
	cfg.Service.Auth.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Service.Auth.BaseURL), "/")
	for i, f := range cfg.Export.Formats {
		cfg.Export.Formats[i] = strings.ToLower(strings.TrimSpace(f))
	}
	cfg.Server.LogLevel = strings.ToLower(strings.TrimSpace(cfg.Server.LogLevel))
	cfg.Server.LogFormat = strings.ToLower(strings.TrimSpace(cfg.Server.LogFormat))
}

var knownFormats = map[string]bool{"text": true, "srt": true, "vtt": true, "json": true}

func validate(cfg *Config) error {
	if cfg.Service.BaseURL == "" {
		return errors.New("service.baseUrl is required")
	}
	if err := validateBaseURL("service.baseUrl", cfg.Service.BaseURL); err != nil {
		return err
	}
	if cfg.Service.MaxAttempts < 0 {
		return fmt.Errorf("service.maxAttempts must be positive, got %d", cfg.Service.MaxAttempts)
	}
	if cfg.Service.PollInterval < 0 || cfg.Service.PollTimeout < 0 || cfg.Service.UploadTimeout < 0 || cfg.Service.WakeTimeout < 0 {
		return errors.New("service timeouts must not be negative")
	}
	if cfg.Service.Auth.Enabled {
		a := cfg.Service.Auth
		if err := validateBaseURL("service.auth.baseUrl", a.BaseURL); err != nil {
			return err
		}
		if strings.TrimSpace(a.Token) == "" {
			if strings.TrimSpace(a.Email) == "" {
				return errors.New("service.auth.email is required")
			}
			if a.Password == "" {
				return errors.New("service.auth.password is required")
			}
		}
	}
	for _, f := range cfg.Export.Formats {
		if !knownFormats[f] {
			return fmt.Errorf("export.formats: unknown format %q", f)
		}
	}
	if cfg.Export.FontFile != "" {
		if _, err := os.Stat(cfg.Export.FontFile); err != nil {
			return fmt.Errorf("export.fontFile: %w", err)
		}
	}
	switch cfg.Server.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.logLevel: unknown level %q", cfg.Server.LogLevel)
	}
	switch cfg.Server.LogFormat {
	case "auto", "text", "json":
	default:
		return fmt.Errorf("server.logFormat: unknown format %q", cfg.Server.LogFormat)
	}
	return nil
}

func validateBaseURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an http(s) url, got %q", field, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s is missing a host", field)
	}
	return nil
}
