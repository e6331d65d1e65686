package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func newFlags() *pflag.FlagSet {
	return pflag.NewFlagSet("test", pflag.ContinueOnError)
}

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ats.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(newFlags(), nil, env(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadPrecedence(t *testing.T) {
	path := writeYAML(t, `
listen_addr: ":9000"
database_dsn: "postgres://file"
rate_burst: 7
shutdown_timeout: 3s
allowed_origins: ["https://file.example"]
`)
	getenv := env(map[string]string{
		"ATS_CONFIG":      path,
		"ATS_PG_DSN":      "postgres://env",
		"ATS_RATE_BURST":  "9",
		"ATS_AUTH_SECRET": "s3cret",
	})

	cfg, err := Load(newFlags(), []string{"--burst", "11"}, getenv)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.ListenAddr, "file overrides default")
	assert.Equal(t, "postgres://env", cfg.DatabaseDSN, "env overrides file")
	assert.Equal(t, 11, cfg.RateBurst, "flag overrides env")
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, []string{"https://file.example"}, cfg.AllowedOrigins)
	assert.Equal(t, "s3cret", cfg.AuthSecret)
}

func TestLoadUnchangedFlagsDoNotClobber(t *testing.T) {
	cfg, err := Load(newFlags(), nil, env(map[string]string{"ATS_LISTEN_ADDR": ":7000"}))
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.ListenAddr)
}

func TestLoadConfigFlagBeatsEnv(t *testing.T) {
	good := writeYAML(t, `listen_addr: ":1111"`)
	cfg, err := Load(newFlags(), []string{"--config", good}, env(map[string]string{"ATS_CONFIG": "/does/not/exist"}))
	require.NoError(t, err)
	assert.Equal(t, ":1111", cfg.ListenAddr)
}

func TestLoadCronSecretAliases(t *testing.T) {
	cfg, err := Load(newFlags(), nil, env(map[string]string{"CRON_SECRET": "legacy"}))
	require.NoError(t, err)
	assert.Equal(t, "legacy", cfg.CronSecret)

	cfg, err = Load(newFlags(), nil, env(map[string]string{"CRON_SECRET": "legacy", "ATS_CRON_SECRET": "new"}))
	require.NoError(t, err)
	assert.Equal(t, "new", cfg.CronSecret)
}

func TestLoadOriginsFromEnv(t *testing.T) {
	cfg, err := Load(newFlags(), nil, env(map[string]string{"ATS_ALLOWED_ORIGINS": "https://a.example, ,https://b.example"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoadErrors(t *testing.T) {
	cases := map[string]struct {
		args []string
		env  map[string]string
		body string
	}{
		"unknown yaml key": {body: "listen: \":1\"\n"},
		"bad env duration": {env: map[string]string{"ATS_SHUTDOWN_TIMEOUT": "soon"}},
		"bad env rate":     {env: map[string]string{"ATS_RATE_PER_SECOND": "fast"}},
		"zero burst":       {args: []string{"--burst", "0"}},
		"unknown flag":     {args: []string{"--nope"}},
		"missing file":     {env: map[string]string{"ATS_CONFIG": "/does/not/exist.yaml"}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			vars := tc.env
			if tc.body != "" {
				vars = map[string]string{"ATS_CONFIG": writeYAML(t, tc.body)}
			}
			_, err := Load(newFlags(), tc.args, env(vars))
			assert.Error(t, err)
		})
	}
}

func TestLoadHelp(t *testing.T) {
	_, err := Load(newFlags(), []string{"-h"}, env(nil))
	assert.ErrorIs(t, err, pflag.ErrHelp)
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(newFlags(), nil, env(map[string]string{"ATS_CONFIG": writeYAML(t, "")}))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
