package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestLoad(t *testing.T) {
	v := viper.New()
	v.Set("log_level", "debug")
	v.Set("http_port", "8080")
	v.Set("storage_dir", "/var/lib/mediaflow")
	v.Set("max_concurrent", 4)
	v.Set("retention", "2h")
	v.Set("poll_timeout", "90s")
	v.Set("minimaxi_api_key", "mm-key")
	v.Set("kling_base_url", "http://kling.local")
	v.Set("document_api_key", "llm-key")
	v.Set("document_model", "card-model")
	v.Set("mirror_ttl", "24h")
	v.Set("kafka_brokers", "a:9092, b:9092,,")
	v.Set("trace_sample_ratio", 0.25)

	cfg := Load(v)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "/var/lib/mediaflow", cfg.StorageDir)
	assert.Equal(t, 4, cfg.MaxConcurrent)
	assert.Equal(t, 2*time.Hour, cfg.Retention)
	assert.Equal(t, 90*time.Second, cfg.PollTimeout)
	assert.Zero(t, cfg.PollInterval)
	assert.Equal(t, "mm-key", cfg.MiniMaxi.APIKey)
	assert.Equal(t, "http://kling.local", cfg.Kling.BaseURL)
	assert.Equal(t, "llm-key", cfg.Document.APIKey)
	assert.Equal(t, "card-model", cfg.DocumentModel)
	assert.Equal(t, 24*time.Hour, cfg.MirrorTTL)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 0.25, cfg.TraceSampleRatio)
}

func TestLoad_EmptyOptionalInfrastructure(t *testing.T) {
	cfg := Load(viper.New())

	assert.Empty(t, cfg.RedisAddr)
	assert.Empty(t, cfg.PostgresDSN)
	assert.Nil(t, cfg.KafkaBrokers)
	assert.Empty(t, cfg.OTelEndpoint)
}
