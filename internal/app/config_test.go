package app

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s3cret")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 720*time.Hour, cfg.SessionTTL)
	require.Equal(t, "http://192.168.0.4:3000", cfg.QRBaseURL)
	require.Equal(t, "VS", cfg.DefaultFactoryCode)
	require.Equal(t, int64(20971520), cfg.ImportMaxBytes)
	require.Equal(t, int64(5242880), cfg.ImageMaxBytes)
	require.Equal(t, 5*time.Minute, cfg.StatsCacheTTL)
	require.Equal(t, 168*time.Hour, cfg.IdempotencyRetention)
	require.Equal(t, "khovattu", cfg.Storage().Bucket)
	require.Empty(t, cfg.Storage().Endpoint)
	require.Equal(t, "Asia/Ho_Chi_Minh", cfg.Location().String())
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRequiresSessionSecret(t *testing.T) {
	t.Setenv("SESSION_SECRET", "")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfigRejectsUnknownTimezone(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s3cret")
	t.Setenv("APP_TIMEZONE", "Mars/Olympus")
	_, err := LoadConfig()
	require.ErrorContains(t, err, "APP_TIMEZONE")
}

func TestLoggerFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &Config{LogFormat: "json", LogLevel: "warn", AppEnv: "production"})
	logger.Info("hidden")
	logger.Warn("shown", "factory", "VSH1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "shown", line["msg"])
	require.Equal(t, "khovattu", line["service"])
	require.Equal(t, "production", line["env"])
	require.Equal(t, "VSH1", line["factory"])
	require.Contains(t, line, "source")
}
