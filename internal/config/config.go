// Package config loads rollcall settings from an optional YAML file and
// ROLLCALL_* environment variables.  Environment values win over the file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "ROLLCALL_"

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

var (
	ErrInvalidEnv      = errors.New("env must be dev or prod")
	ErrInvalidBackend  = errors.New("store_backend must be file or sqlite")
	ErrInvalidLogLevel = errors.New("log_level must be debug, info, warn or error")
	ErrInvalidTick     = errors.New("tick_interval must be positive")
	ErrInvalidDebounce = errors.New("debounce must not be negative")
	ErrInvalidBuffer   = errors.New("session_buffer must be positive")
	ErrMissingHTTPAddr = errors.New("http_addr is required")
	ErrMirrorIsPrimary = errors.New("ledger_mirror_path must differ from ledger_path")
	ErrInvalidExporter = errors.New("tracing_exporter must be otlp-grpc or otlp-http")
	ErrInvalidSampling = errors.New("tracing_sample_rate must be between 0 and 1")
)

type Config struct {
	HTTPAddr string `koanf:"http_addr"`
	GRPCAddr string `koanf:"grpc_addr"` // "" disables the gRPC health server

	Env      string `koanf:"env"` // "dev" | "prod"
	LogLevel string `koanf:"log_level"`

	// Storage
	DataDir          string `koanf:"data_dir"`
	UsersDir         string `koanf:"users_dir"`
	LedgerPath       string `koanf:"ledger_path"`
	LedgerMirrorPath string `koanf:"ledger_mirror_path"`
	StoreBackend     string `koanf:"store_backend"`
	DBPath           string `koanf:"db_path"`
	SQLiteMirror     bool   `koanf:"sqlite_mirror"`

	// Peripherals
	ReaderDevice  string        `koanf:"reader_device"` // "" none, "-" stdin
	Debounce      time.Duration `koanf:"debounce"`
	TickInterval  time.Duration `koanf:"tick_interval"`
	LEDPinPath    string        `koanf:"led_pin_path"`
	BuzzerPinPath string        `koanf:"buzzer_pin_path"`

	SessionBuffer int `koanf:"session_buffer"`

	// Tracing
	TracingEnabled    bool    `koanf:"tracing_enabled"`
	TracingExporter   string  `koanf:"tracing_exporter"` // "otlp-grpc" | "otlp-http"
	OTLPEndpoint      string  `koanf:"otlp_endpoint"`    // "" uses the exporter default
	OTLPInsecure      bool    `koanf:"otlp_insecure"`
	TracingSampleRate float64 `koanf:"tracing_sample_rate"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		HTTPAddr:      ":8080",
		Env:           "dev",
		LogLevel:      "info",
		DataDir:       "./data",
		StoreBackend:  BackendFile,
		Debounce:      300 * time.Millisecond,
		TickInterval:  20 * time.Millisecond,
		SessionBuffer: 32,

		TracingExporter:   "otlp-grpc",
		TracingSampleRate: 1.0,
	}
}

// Load reads path (if non-empty) and then the environment.  Parse errors are
// collected alongside Validate's so the operator sees them all at once.
func Load(path string) (*Config, []error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("load config file %s: %w", path, err)}
		}
	}

	d := Defaults()
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	c := &Config{
		HTTPAddr:         getString(k, "http_addr", d.HTTPAddr),
		GRPCAddr:         getString(k, "grpc_addr", d.GRPCAddr),
		Env:              strings.ToLower(getString(k, "env", d.Env)),
		LogLevel:         strings.ToLower(getString(k, "log_level", d.LogLevel)),
		DataDir:          getString(k, "data_dir", d.DataDir),
		UsersDir:         getString(k, "users_dir", ""),
		LedgerPath:       getString(k, "ledger_path", ""),
		LedgerMirrorPath: getString(k, "ledger_mirror_path", ""),
		StoreBackend:     strings.ToLower(getString(k, "store_backend", d.StoreBackend)),
		DBPath:           getString(k, "db_path", ""),
		ReaderDevice:     getString(k, "reader_device", ""),
		LEDPinPath:       getString(k, "led_pin_path", ""),
		BuzzerPinPath:    getString(k, "buzzer_pin_path", ""),
		TracingExporter:  strings.ToLower(getString(k, "tracing_exporter", d.TracingExporter)),
		OTLPEndpoint:     getString(k, "otlp_endpoint", ""),
	}

	var err error
	c.SQLiteMirror, err = getBool(k, "sqlite_mirror", false)
	collect(err)
	c.Debounce, err = getDuration(k, "debounce", d.Debounce)
	collect(err)
	c.TickInterval, err = getDuration(k, "tick_interval", d.TickInterval)
	collect(err)
	c.SessionBuffer, err = getInt(k, "session_buffer", d.SessionBuffer)
	collect(err)
	c.TracingEnabled, err = getBool(k, "tracing_enabled", false)
	collect(err)
	c.OTLPInsecure, err = getBool(k, "otlp_insecure", false)
	collect(err)
	c.TracingSampleRate, err = getFloat(k, "tracing_sample_rate", d.TracingSampleRate)
	collect(err)

	// Paths default relative to data_dir.
	if c.UsersDir == "" {
		c.UsersDir = filepath.Join(c.DataDir, "users")
	}
	if c.LedgerPath == "" {
		c.LedgerPath = filepath.Join(c.DataDir, "attendance.csv")
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "rollcall.db")
	}

	errs = append(errs, c.Validate()...)
	return c, errs
}

// Validate reports every invalid setting.
func (c *Config) Validate() []error {
	var errs []error

	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, ErrMissingHTTPAddr)
	}
	if c.Env != "dev" && c.Env != "prod" {
		errs = append(errs, ErrInvalidEnv)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ErrInvalidLogLevel)
	}
	if c.StoreBackend != BackendFile && c.StoreBackend != BackendSQLite {
		errs = append(errs, ErrInvalidBackend)
	}
	if c.TickInterval <= 0 {
		errs = append(errs, ErrInvalidTick)
	}
	if c.Debounce < 0 {
		errs = append(errs, ErrInvalidDebounce)
	}
	if c.SessionBuffer <= 0 {
		errs = append(errs, ErrInvalidBuffer)
	}
	if c.LedgerMirrorPath != "" && filepath.Clean(c.LedgerMirrorPath) == filepath.Clean(c.LedgerPath) {
		errs = append(errs, ErrMirrorIsPrimary)
	}
	if c.TracingEnabled {
		if c.TracingExporter != "otlp-grpc" && c.TracingExporter != "otlp-http" {
			errs = append(errs, ErrInvalidExporter)
		}
		if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
			errs = append(errs, ErrInvalidSampling)
		}
	}
	return errs
}

// UsesSQLite reports whether any component needs the database.
func (c *Config) UsesSQLite() bool {
	return c.StoreBackend == BackendSQLite || c.SQLiteMirror
}

// LogSummary logs the effective configuration.
func (c *Config) LogSummary(logger *slog.Logger) {
	logger.Info("configuration loaded",
		"env", c.Env,
		"http_addr", c.HTTPAddr,
		"grpc_addr", c.GRPCAddr,
		"store_backend", c.StoreBackend,
		"users_dir", c.UsersDir,
		"ledger_path", c.LedgerPath,
		"ledger_mirror", c.LedgerMirrorPath != "",
		"sqlite_mirror", c.SQLiteMirror,
		"reader_device", c.ReaderDevice,
		"debounce", c.Debounce,
		"tick_interval", c.TickInterval,
		"tracing_enabled", c.TracingEnabled,
	)
}

func envKey(key string) string {
	return envPrefix + strings.ToUpper(key)
}

// getString returns the environment value, then the file value, then def.
func getString(k *koanf.Koanf, key, def string) string {
	if v := strings.TrimSpace(os.Getenv(envKey(key))); v != "" {
		return v
	}
	if v := strings.TrimSpace(k.String(key)); v != "" {
		return v
	}
	return def
}

func getInt(k *koanf.Koanf, key string, def int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(envKey(key))); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return def, fmt.Errorf("%s must be an integer: %w", envKey(key), err)
		}
		return n, nil
	}
	if k.Exists(key) {
		return k.Int(key), nil
	}
	return def, nil
}

func getBool(k *koanf.Koanf, key string, def bool) (bool, error) {
	if v := strings.TrimSpace(os.Getenv(envKey(key))); v != "" {
		switch strings.ToLower(v) {
		case "true", "1", "yes", "on":
			return true, nil
		case "false", "0", "no", "off":
			return false, nil
		}
		return def, fmt.Errorf("%s must be a boolean, got %q", envKey(key), v)
	}
	if k.Exists(key) {
		return k.Bool(key), nil
	}
	return def, nil
}

func getFloat(k *koanf.Koanf, key string, def float64) (float64, error) {
	if v := strings.TrimSpace(os.Getenv(envKey(key))); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return def, fmt.Errorf("%s must be a number: %w", envKey(key), err)
		}
		return f, nil
	}
	if k.Exists(key) {
		return k.Float64(key), nil
	}
	return def, nil
}

// getDuration accepts Go duration strings ("300ms") from either source.
func getDuration(k *koanf.Koanf, key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(envKey(key)))
	src := envKey(key)
	if v == "" && k.Exists(key) {
		v = strings.TrimSpace(k.String(key))
		src = key
	}
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s must be a duration: %w", src, err)
	}
	return d, nil
}
