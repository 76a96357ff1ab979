// Package config loads the accelerator bridge configuration from a file and
// the process environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Environment variables read by FromEnv.
const (
	EnvConfig           = "ACCEL_CONFIG"
	EnvRuntime          = "ACCEL_RUNTIME"
	EnvLibraryPath      = "ACCEL_LIBRARY_PATH"
	EnvLogLevel         = "ACCEL_LOG_LEVEL"
	EnvChunkElements    = "ACCEL_CHUNK_ELEMENTS"
	EnvDisableFastPath  = "ACCEL_DISABLE_FAST_PATH"
	EnvMaxPending       = "ACCEL_MAX_PENDING"
	EnvShutdownOnSignal = "ACCEL_SHUTDOWN_ON_SIGNAL"
)

// Config holds the bridge parameters.
type Config struct {
	// Runtime names the accelerator runtime to open ("host", "webgpu").
	Runtime string `json:"runtime" yaml:"runtime" toml:"runtime"`
	// LibraryPath points at the runtime's native library, if it needs one.
	LibraryPath string `json:"library_path" yaml:"library_path" toml:"library_path"`
	LogLevel    string `json:"log_level" yaml:"log_level" toml:"log_level"`
	// ChunkElements is the element count per chunk of the marshaling fallback.
	ChunkElements   int  `json:"chunk_elements" yaml:"chunk_elements" toml:"chunk_elements"`
	DisableFastPath bool `json:"disable_fast_path" yaml:"disable_fast_path" toml:"disable_fast_path"`
	// MaxPending bounds queued instructions before an automatic sync; 0 is unbounded.
	MaxPending       int  `json:"max_pending" yaml:"max_pending" toml:"max_pending"`
	ShutdownOnSignal bool `json:"shutdown_on_signal" yaml:"shutdown_on_signal" toml:"shutdown_on_signal"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Runtime:       "host",
		LogLevel:      "warn",
		ChunkElements: 1000,
		MaxPending:    1024,
	}
}

// Load reads a configuration file based on its extension, on top of Default.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path) //nolint:gosec // G304: path is operator-supplied configuration
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// FromEnv loads the file named by ACCEL_CONFIG, if any, and applies the
// individual ACCEL_* overrides. Malformed numeric or boolean values are
// logged and ignored.
func FromEnv(log zerolog.Logger) (Config, error) {
	cfg := Default()
	if path := strings.TrimSpace(os.Getenv(EnvConfig)); path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return cfg, err
		}
	}

	if s := strings.TrimSpace(os.Getenv(EnvRuntime)); s != "" {
		cfg.Runtime = s
	}
	if s := strings.TrimSpace(os.Getenv(EnvLibraryPath)); s != "" {
		cfg.LibraryPath = s
	}
	if s := strings.TrimSpace(os.Getenv(EnvLogLevel)); s != "" {
		cfg.LogLevel = s
	}
	envInt(log, EnvChunkElements, &cfg.ChunkElements)
	envInt(log, EnvMaxPending, &cfg.MaxPending)
	envBool(log, EnvDisableFastPath, &cfg.DisableFastPath)
	envBool(log, EnvShutdownOnSignal, &cfg.ShutdownOnSignal)
	return cfg, nil
}

func envInt(log zerolog.Logger, key string, dst *int) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Warn().Str("key", key).Str("value", s).Int("default", *dst).Msg("invalid integer, using default")
		return
	}
	*dst = n
}

func envBool(log zerolog.Logger, key string, dst *bool) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		log.Warn().Str("key", key).Str("value", s).Bool("default", *dst).Msg("invalid boolean, using default")
		return
	}
	*dst = b
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Runtime) == "" {
		errs = append(errs, errors.New("runtime must be set"))
	}
	if c.ChunkElements < 1 {
		errs = append(errs, fmt.Errorf("chunk_elements must be positive, got %d", c.ChunkElements))
	}
	if c.MaxPending < 0 {
		errs = append(errs, fmt.Errorf("max_pending must not be negative, got %d", c.MaxPending))
	}
	return errors.Join(errs...)
}
