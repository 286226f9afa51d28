package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"because/internal/classify"
)

const (
	keyProvider = "provider"
	keyAPIKey   = "api_key"
)

// CredentialStore resolves the user's classification credentials. A saved
// pair wins over the AI_PROVIDER/AI_API_KEY settings. Changes made on disk
// apply without a restart once Watch is running.
type CredentialStore struct {
	mu       sync.RWMutex
	v        *viper.Viper
	fs       afero.Fs
	file     string
	saved    classify.Credentials
	fallback classify.Credentials
	log      logrus.FieldLogger
}

// NewCredentialStore reads the credentials file at path on fsys, if present.
// Watch only sees changes on the OS filesystem.
func NewCredentialStore(fsys afero.Fs, path string, fallback classify.Credentials, logger logrus.FieldLogger) (*CredentialStore, error) {
	v := viper.New()
	v.SetFs(fsys)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	s := &CredentialStore{
		v:        v,
		fs:       fsys,
		file:     path,
		fallback: fallback,
		log:      logger.WithField("component", "credentials"),
	}
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading credentials file: %w", err)
	}
	s.reload()
	return s, nil
}

// Credentials implements classify.CredentialSource.
func (s *CredentialStore) Credentials() (classify.Credentials, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.saved.Key != "" {
		return s.saved, true
	}
	return s.fallback, s.fallback.Key != ""
}

// SaveCredentials validates the provider and writes the pair to disk.
func (s *CredentialStore) SaveCredentials(provider, key string) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	key = strings.TrimSpace(key)
	if !classify.KnownProvider(provider) {
		return fmt.Errorf("unknown provider %q", provider)
	}
	if key == "" {
		return errors.New("api key is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Set(keyProvider, provider)
	s.v.Set(keyAPIKey, key)
	if err := s.writeLocked(); err != nil {
		return err
	}
	s.saved = classify.Credentials{Provider: provider, Key: key}
	s.log.WithField("provider", provider).Info("Credentials saved")
	return nil
}

// ClearCredentials forgets the saved pair. The AI_* settings apply again.
func (s *CredentialStore) ClearCredentials() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Set(keyProvider, "")
	s.v.Set(keyAPIKey, "")
	if err := s.writeLocked(); err != nil {
		return err
	}
	s.saved = classify.Credentials{}
	s.log.Info("Credentials cleared")
	return nil
}

// Watch reloads the credentials whenever the file changes. The file is
// created if missing so there is something to watch.
func (s *CredentialStore) Watch() error {
	if _, err := s.fs.Stat(s.file); errors.Is(err, fs.ErrNotExist) {
		s.mu.Lock()
		err := s.writeLocked()
		s.mu.Unlock()
		if err != nil {
			return err
		}
	}
	s.v.OnConfigChange(func(e fsnotify.Event) {
		s.log.WithField("op", e.Op.String()).Debug("Credentials file changed")
		s.reload()
	})
	s.v.WatchConfig()
	return nil
}

func (s *CredentialStore) reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = classify.Credentials{
		Provider: strings.ToLower(s.v.GetString(keyProvider)),
		Key:      s.v.GetString(keyAPIKey),
	}
}

func (s *CredentialStore) writeLocked() error {
	if err := s.fs.MkdirAll(filepath.Dir(s.file), 0o700); err != nil {
		return fmt.Errorf("failed to create credentials dir: %w", err)
	}
	if err := s.v.WriteConfigAs(s.file); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	return s.fs.Chmod(s.file, 0o600)
}
