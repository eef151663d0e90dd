package models

import (
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	ServerAddr      string `yaml:"server_addr"`
	DatabaseURL     string `yaml:"database_url"`
	KafkaBroker     string `yaml:"kafka_broker"`
	KafkaTopic      string `yaml:"kafka_topic"`
	UploadDir       string `yaml:"upload_dir"`
	StoragePath     string `yaml:"storage_path"`
	WebhookURL      string `yaml:"webhook_url"`
	WorkerCount     int    `yaml:"worker_count"`
	FetchTimeoutSec int    `yaml:"fetch_timeout_sec"`
	WatermarkText   string `yaml:"watermark_text"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.FetchTimeoutSec <= 0 {
		cfg.FetchTimeoutSec = 30
	}
	return &cfg, nil
}

func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSec) * time.Second
}
