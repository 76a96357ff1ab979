package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	p := writeTempFile(t, t.TempDir(), "cfg.yaml", "runtime: webgpu\nlibrary_path: /opt/wgpu/wgpu_native.dll\nchunk_elements: 64\nshutdown_on_signal: true\n")
	cfg, err := Load(p)
	require.NoError(t, err)

	want := Default()
	want.Runtime = "webgpu"
	want.LibraryPath = "/opt/wgpu/wgpu_native.dll"
	want.ChunkElements = 64
	want.ShutdownOnSignal = true
	assert.Equal(t, want, cfg)
}

func TestLoadJSON(t *testing.T) {
	p := writeTempFile(t, t.TempDir(), "cfg.json", `{"log_level":"debug","max_pending":0,"disable_fast_path":true}`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Zero(t, cfg.MaxPending)
	assert.True(t, cfg.DisableFastPath)
	assert.Equal(t, "host", cfg.Runtime, "unspecified keys keep defaults")
}

func TestLoadTOML(t *testing.T) {
	p := writeTempFile(t, t.TempDir(), "cfg.toml", "runtime=\"host\"\nmax_pending=8\nchunk_elements=250\n")
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.MaxPending)
	assert.Equal(t, 250, cfg.ChunkElements)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)

	d := t.TempDir()
	_, err = Load(writeTempFile(t, d, "cfg.txt", "not supported"))
	assert.Error(t, err)

	_, err = Load(writeTempFile(t, d, "bad.yaml", "chunk_elements: [1, 2"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(d, "missing.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{EnvConfig, EnvRuntime, EnvLibraryPath, EnvLogLevel, EnvChunkElements, EnvDisableFastPath, EnvMaxPending, EnvShutdownOnSignal} {
		t.Setenv(k, "")
	}
	cfg, err := FromEnv(zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestFromEnvOverridesFile(t *testing.T) {
	p := writeTempFile(t, t.TempDir(), "cfg.yaml", "runtime: webgpu\nchunk_elements: 10\n")
	t.Setenv(EnvConfig, p)
	t.Setenv(EnvRuntime, "host")
	t.Setenv(EnvMaxPending, "3")
	t.Setenv(EnvDisableFastPath, "true")
	t.Setenv(EnvShutdownOnSignal, "")

	cfg, err := FromEnv(zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "host", cfg.Runtime)
	assert.Equal(t, 10, cfg.ChunkElements)
	assert.Equal(t, 3, cfg.MaxPending)
	assert.True(t, cfg.DisableFastPath)
}

func TestFromEnvInvalidValuesWarn(t *testing.T) {
	t.Setenv(EnvConfig, "")
	t.Setenv(EnvChunkElements, "lots")
	t.Setenv(EnvShutdownOnSignal, "maybe")

	var buf bytes.Buffer
	cfg, err := FromEnv(zerolog.New(&buf))
	require.NoError(t, err)
	assert.Equal(t, Default().ChunkElements, cfg.ChunkElements)
	assert.False(t, cfg.ShutdownOnSignal)
	assert.Contains(t, buf.String(), EnvChunkElements)
	assert.Contains(t, buf.String(), EnvShutdownOnSignal)
}

func TestFromEnvBadFile(t *testing.T) {
	t.Setenv(EnvConfig, filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := FromEnv(zerolog.Nop())
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Default().Validate())

	cfg := Config{Runtime: " ", ChunkElements: 0, MaxPending: -1}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "runtime")
	assert.Contains(t, err.Error(), "chunk_elements")
	assert.Contains(t, err.Error(), "max_pending")
}
