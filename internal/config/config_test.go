package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Addr)
	require.Equal(t, DefaultModelPath, cfg.Model.Path)
	require.Equal(t, DefaultMetadataPath, cfg.Model.MetadataPath)
	require.Equal(t, "bicubic", cfg.Model.Interpolation)
	require.Equal(t, int64(200<<20), cfg.MaxUploadBytes())
	require.Equal(t, "info", cfg.Log.Level)
}

func TestLoadPortFromEnv(t *testing.T) {
	t.Setenv("PORT", "9000")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Addr)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
addr: 127.0.0.1:7000
model:
  path: /srv/model.onnx
  interpolation: lanczos3
max_upload_mb: 5
cache_size: 0
cors_origins: ["https://example.com"]
log:
  level: debug
  format: console
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:7000", cfg.Addr)
	require.Equal(t, "/srv/model.onnx", cfg.Model.Path)
	require.Equal(t, DefaultMetadataPath, cfg.Model.MetadataPath)
	require.Equal(t, "lanczos3", cfg.Model.Interpolation)
	require.Equal(t, int64(5<<20), cfg.MaxUploadBytes())
	require.Zero(t, cfg.CacheSize)
	require.Equal(t, []string{"https://example.com"}, cfg.CORSOrigins)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "console", cfg.Log.Format)
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{"addr": ":1234", "model": {"path": "m.onnx"}}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":1234", cfg.Addr)
	require.Equal(t, "m.onnx", cfg.Model.Path)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	for _, content := range []string{
		"model: {path: ''}",
		"model: {interpolation: area}",
		"max_upload_mb: 0",
		"cache_size: -1",
		"addr: [",
	} {
		_, err := Load(writeFile(t, "config.yaml", content))
		require.Error(t, err, content)
	}
}
