package cli

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-media-flow/services/api/config"
)

func TestWriteConfig(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "nested", "mediaflow.yaml")

	require.NoError(t, writeConfig(dest, defaultYAML, false))
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, defaultYAML, string(got))

	err = writeConfig(dest, "other", false)
	assert.ErrorContains(t, err, "already exists")

	require.NoError(t, writeConfig(dest, "other", true))
	got, err = os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "other", string(got))
}

func TestDefaultYAML_Parses(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(defaultYAML)))

	cfg := config.Load(v)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, time.Hour, cfg.Retention)
	assert.Equal(t, "@every 1m", cfg.RetentionSchedule)
	assert.Empty(t, cfg.RedisAddr)
	assert.Nil(t, cfg.KafkaBrokers)
	assert.Equal(t, "deepseek-chat", cfg.DocumentModel)
}

func TestBuildAdapters_RegistersEveryKind(t *testing.T) {
	reg := buildAdapters(config.Config{PollTimeout: 42 * time.Second}, slog.Default())

	assert.Equal(t, []string{"kling-image", "kling-video", "magazine-card", "minimaxi-image", "minimaxi-video"}, reg.Kinds())
	a, err := reg.Get("kling-video")
	require.NoError(t, err)
	assert.Equal(t, 42*time.Second, a.Policy().Timeout)
}

func TestBuildLogger_Levels(t *testing.T) {
	ctx := context.Background()
	assert.True(t, buildLogger("debug", "x").Enabled(ctx, slog.LevelDebug))
	assert.False(t, buildLogger("warn", "x").Enabled(ctx, slog.LevelInfo))
	assert.True(t, buildLogger("", "x").Enabled(ctx, slog.LevelInfo))
}
