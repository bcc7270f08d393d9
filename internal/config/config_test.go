package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PRICEFINDER_CONFIG", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000", cfg.AgentBaseURL)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 100, cfg.MaxMessages)
	assert.Equal(t, "PriceFinder Agent", cfg.UI.PageTitle)
	assert.Len(t, cfg.UI.QuickSearches, 4)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("API_BASE_URL", "http://agent:9000/")
	t.Setenv("API_TIMEOUT", "5")
	t.Setenv("MAX_MESSAGES", "20")
	t.Setenv("SHOW_ERROR_DETAIL", "off")
	t.Setenv("DEBUG", "1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://agent:9000", cfg.AgentBaseURL)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 20, cfg.MaxMessages)
	assert.False(t, cfg.ShowErrorDetail)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("MAX_MESSAGES", "1")

	_, err := Load()
	assert.ErrorContains(t, err, "MAX_MESSAGES")
}

func TestLoadUIFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricefinder.yaml")
	content := `ui:
  error_message: "Something went wrong."
  quick_searches:
    - label: "Phones"
      query: "cheap phone"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("PRICEFINDER_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "Something went wrong.", cfg.UI.ErrorMessage)
	assert.Equal(t, []QuickSearch{{Label: "Phones", Query: "cheap phone"}}, cfg.UI.QuickSearches)
	// Keys absent from the file keep their defaults.
	assert.Equal(t, DefaultUI().WelcomeMessage, cfg.UI.WelcomeMessage)
}

func TestLoadUIFileMissing(t *testing.T) {
	t.Setenv("PRICEFINDER_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	assert.ErrorContains(t, err, "read config file")
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("X_DURATION", "1m30s")
	assert.Equal(t, 90*time.Second, getEnvDuration("X_DURATION", time.Second))

	t.Setenv("X_DURATION", "garbage")
	assert.Equal(t, time.Second, getEnvDuration("X_DURATION", time.Second))
}

func TestIsDevelopment(t *testing.T) {
	assert.True(t, (&Config{}).IsDevelopment())
	assert.True(t, (&Config{FrontendURL: "http://localhost:8501"}).IsDevelopment())
	assert.False(t, (&Config{FrontendURL: "https://shop.example.com"}).IsDevelopment())
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, (&Config{LogLevel: "debug"}).SlogLevel())
	assert.Equal(t, slog.LevelWarn, (&Config{LogLevel: "WARN"}).SlogLevel())
	assert.Equal(t, slog.LevelInfo, (&Config{LogLevel: "verbose"}).SlogLevel())
	assert.Equal(t, slog.LevelInfo, (&Config{}).SlogLevel())
}
