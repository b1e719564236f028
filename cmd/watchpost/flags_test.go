package main

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestParseFlags_Layers(t *testing.T) {
	cfg, err := parseFlags(newFlagSet(), []string{"-config", "base.yaml, site.yaml,", "-debug"})
	require.NoError(t, err)
	assert.Equal(t, []string{"base.yaml", "site.yaml"}, cfg.ConfigPaths)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestParseFlags_EnvFallback(t *testing.T) {
	t.Setenv("WATCHPOST_CONFIG", "/etc/watchpost/watchpost.json")
	t.Setenv("WATCHPOST_SHUTDOWN_TIMEOUT", "3s")

	cfg, err := parseFlags(newFlagSet(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"/etc/watchpost/watchpost.json"}, cfg.ConfigPaths)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
}

func TestValidateFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchpost.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipelines: []\n"), 0o600))

	valid := func() *CLIConfig {
		return &CLIConfig{ConfigPaths: []string{path}, ShutdownTimeout: time.Second}
	}

	tests := []struct {
		name    string
		mutate  func(*CLIConfig)
		wantErr bool
	}{
		{"valid", func(*CLIConfig) {}, false},
		{"missing file", func(c *CLIConfig) { c.ConfigPaths = []string{path + ".missing"} }, true},
		{"no file", func(c *CLIConfig) { c.ConfigPaths = nil }, true},
		{"bad level", func(c *CLIConfig) { c.LogLevel = "loud" }, true},
		{"bad format", func(c *CLIConfig) { c.LogFormat = "xml" }, true},
		{"zero timeout", func(c *CLIConfig) { c.ShutdownTimeout = 0 }, true},
		{"version skips checks", func(c *CLIConfig) { c.ConfigPaths = nil; c.ShowVersion = true }, false},
		{"list plugins skips checks", func(c *CLIConfig) { c.ConfigPaths = nil; c.ListPlugins = true }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := validateFlags(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRun_ValidateOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchpost.yaml")
	doc := `
pipelines:
  - name: entry
    source: {name: camera, type: testpattern, params: {mode: blank}}
    stages:
      - {type: motion}
      - {type: alerter, params: {message: "movement at entry"}}
controller:
  query: "@ENTRY@"
  action: {type: log}
metrics:
  enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	assert.NoError(t, run([]string{"-config", path, "-validate", "-log-level", "error"}))
}

func TestRun_RejectsBrokenConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchpost.yaml")
	require.NoError(t, os.WriteFile(path, []byte("controller: {query: \"@A@\"}\n"), 0o600))

	assert.Error(t, run([]string{"-config", path, "-validate", "-log-level", "error"}))
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "text", firstNonEmpty("", "text", "json"))
	assert.Equal(t, "", firstNonEmpty("", ""))
}
