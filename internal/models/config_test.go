package models

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
server_addr: ":9090"
database_url: "postgres://localhost/test"
kafka_broker: "kafka:9092"
kafka_topic: "manifests"
upload_dir: "/tmp/uploads"
storage_path: "/tmp/storage"
webhook_url: "http://example.com/hook"
worker_count: 8
fetch_timeout_sec: 10
watermark_text: "sample"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, "kafka:9092", cfg.KafkaBroker)
	assert.Equal(t, 8, cfg.WorkerCount)
	assert.Equal(t, 10*time.Second, cfg.FetchTimeout())
	assert.Equal(t, "sample", cfg.WatermarkText)
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `server_addr: ":8080"`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.WorkerCount)
	assert.Equal(t, 30*time.Second, cfg.FetchTimeout())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
