package config

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"because/internal/classify"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "./because_data", cfg.DataDir)
	assert.Equal(t, filepath.Join("because_data", "db"), cfg.DBPath())
	assert.Equal(t, int64(5<<20), cfg.LegacyQuotaBytes)
	assert.Equal(t, 5*time.Second, cfg.UndoWindow)
	assert.Equal(t, 15*time.Second, cfg.ClassifyTimeout)
	assert.Equal(t, ":8765", cfg.RelayAddr)
	assert.Equal(t, "groq", cfg.RelayProvider)
	assert.Equal(t, DefaultAllowedOrigins, cfg.RelayAllowedOrigins)
	assert.False(t, cfg.FetchTitles)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := "DATA_DIR: /var/lib/because\nUNDO_WINDOW: 2s\nAI_PROVIDER: gemini\nTELEGRAM_ALLOWED_USER: 42\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("UNDO_WINDOW", "750ms")
	t.Setenv("FETCH_TITLES", "true")
	t.Setenv("GROQ_API_KEY", "gsk_test")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/because", cfg.DataDir)
	assert.Equal(t, 750*time.Millisecond, cfg.UndoWindow, "env wins over the file")
	assert.Equal(t, "gemini", cfg.AIProvider)
	assert.Equal(t, int64(42), cfg.TelegramAllowedUser)
	assert.True(t, cfg.FetchTitles)
	assert.Equal(t, "gsk_test", cfg.RelayAPIKey)
}

func TestLoadConfig_RejectsBadDurations(t *testing.T) {
	t.Setenv("UNDO_WINDOW", "0s")
	_, err := LoadConfig(t.TempDir())
	assert.Error(t, err)
}

func TestCredentialStore_SaveClearAndReopen(t *testing.T) {
	fsys := afero.NewMemMapFs()
	path := "/data/nested/credentials.yaml"
	fallback := classify.Credentials{Provider: "openai", Key: "sk-env"}

	s, err := NewCredentialStore(fsys, path, fallback, testLogger())
	require.NoError(t, err)
	got, ok := s.Credentials()
	require.True(t, ok)
	assert.Equal(t, fallback, got)

	assert.Error(t, s.SaveCredentials("mystery", "k"))
	assert.Error(t, s.SaveCredentials("groq", "  "))

	require.NoError(t, s.SaveCredentials(" Gemini ", "g-key"))
	got, _ = s.Credentials()
	assert.Equal(t, classify.Credentials{Provider: "gemini", Key: "g-key"}, got)

	info, err := fsys.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reopened, err := NewCredentialStore(fsys, path, classify.Credentials{}, testLogger())
	require.NoError(t, err)
	got, ok = reopened.Credentials()
	require.True(t, ok)
	assert.Equal(t, "g-key", got.Key)

	require.NoError(t, reopened.ClearCredentials())
	_, ok = reopened.Credentials()
	assert.False(t, ok, "no saved key and no fallback")
}

func TestCredentialStore_WatchPicksUpChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.yaml")
	s, err := NewCredentialStore(afero.NewOsFs(), path, classify.Credentials{}, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.Watch())

	_, ok := s.Credentials()
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(path, []byte("provider: groq\napi_key: from-disk\n"), 0o600))
	require.Eventually(t, func() bool {
		c, ok := s.Credentials()
		return ok && c.Key == "from-disk" && c.Provider == "groq"
	}, 5*time.Second, 20*time.Millisecond)
}
