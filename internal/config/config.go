// Package config resolves service settings. Sources are applied in order,
// later ones winning: built-in defaults, an optional YAML file, ATS_*
// environment variables, then command-line flags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the API and the sweep jobs. Ownership
// windows are business policy and deliberately absent.
type Config struct {
	ListenAddr      string        `yaml:"listen_addr"`
	DatabaseDSN     string        `yaml:"database_dsn"`
	AuthSecret      string        `yaml:"auth_secret"`
	CronSecret      string        `yaml:"cron_secret"`
	RatePerSecond   float64       `yaml:"rate_per_second"`
	RateBurst       int           `yaml:"rate_burst"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		ListenAddr:      ":8080",
		RatePerSecond:   20,
		RateBurst:       40,
		MaxBodyBytes:    1 << 20,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Validate checks values that would make the service misbehave.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.ListenAddr) == "" {
		errs = append(errs, errors.New("listen_addr must not be empty"))
	}
	if c.RatePerSecond <= 0 {
		errs = append(errs, errors.New("rate_per_second must be > 0"))
	}
	if c.RateBurst <= 0 {
		errs = append(errs, errors.New("rate_burst must be > 0"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("max_body_bytes must be > 0"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown_timeout must be > 0"))
	}
	return errors.Join(errs...)
}

// Load registers the config flags on fs, parses args and resolves the
// final Config. getenv is os.Getenv outside tests. pflag.ErrHelp is
// returned unchanged when -h is given.
func Load(fs *pflag.FlagSet, args []string, getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	def := Default()
	var (
		path  string
		flags = def
	)
	fs.StringVar(&path, "config", "", "path to a YAML config file (env ATS_CONFIG)")
	fs.StringVar(&flags.ListenAddr, "listen", def.ListenAddr, "HTTP listen address")
	fs.StringVar(&flags.DatabaseDSN, "dsn", "", "PostgreSQL DSN; empty runs on the in-memory store")
	fs.Float64Var(&flags.RatePerSecond, "rate", def.RatePerSecond, "per-client request rate (requests/second)")
	fs.IntVar(&flags.RateBurst, "burst", def.RateBurst, "per-client burst size")
	fs.Int64Var(&flags.MaxBodyBytes, "max-body", def.MaxBodyBytes, "maximum request body in bytes")
	fs.DurationVar(&flags.ShutdownTimeout, "shutdown-timeout", def.ShutdownTimeout, "graceful shutdown timeout")
	fs.StringSliceVar(&flags.AllowedOrigins, "allowed-origin", nil, "CORS origin allowed to call the API (repeatable)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := def
	if !fs.Changed("config") {
		path = getenv("ATS_CONFIG")
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return Config{}, err
	}
	applyFlags(&cfg, fs, flags)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	str("ATS_LISTEN_ADDR", &cfg.ListenAddr)
	str("ATS_PG_DSN", &cfg.DatabaseDSN)
	str("ATS_AUTH_SECRET", &cfg.AuthSecret)
	str("CRON_SECRET", &cfg.CronSecret)
	str("ATS_CRON_SECRET", &cfg.CronSecret)

	if v := getenv("ATS_RATE_PER_SECOND"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("ATS_RATE_PER_SECOND: %w", err)
		}
		cfg.RatePerSecond = f
	}
	if v := getenv("ATS_RATE_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ATS_RATE_BURST: %w", err)
		}
		cfg.RateBurst = n
	}
	if v := getenv("ATS_MAX_BODY_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("ATS_MAX_BODY_BYTES: %w", err)
		}
		cfg.MaxBodyBytes = n
	}
	if v := getenv("ATS_SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ATS_SHUTDOWN_TIMEOUT: %w", err)
		}
		cfg.ShutdownTimeout = d
	}
	if v := getenv("ATS_ALLOWED_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.AllowedOrigins = origins
	}
	return nil
}

// applyFlags copies only the flags the user actually set.
func applyFlags(cfg *Config, fs *pflag.FlagSet, flags Config) {
	if fs.Changed("listen") {
		cfg.ListenAddr = flags.ListenAddr
	}
	if fs.Changed("dsn") {
		cfg.DatabaseDSN = flags.DatabaseDSN
	}
	if fs.Changed("rate") {
		cfg.RatePerSecond = flags.RatePerSecond
	}
	if fs.Changed("burst") {
		cfg.RateBurst = flags.RateBurst
	}
	if fs.Changed("max-body") {
		cfg.MaxBodyBytes = flags.MaxBodyBytes
	}
	if fs.Changed("shutdown-timeout") {
		cfg.ShutdownTimeout = flags.ShutdownTimeout
	}
	if fs.Changed("allowed-origin") {
		cfg.AllowedOrigins = flags.AllowedOrigins
	}
}
