// Package usersession persists the MTProto session of the secondary user
// account that fetches stories on behalf of the bot.
package usersession

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gotd/td/session"

	"telegram-story-bot/internal/config"
	"telegram-story-bot/internal/crypt"
	"telegram-story-bot/internal/logging"
)

// FileStorage keeps the session in a single file, sealed with the cipher
// when one is set.
type FileStorage struct {
	path   string
	cipher *crypt.Cipher
	mu     sync.Mutex
}

// NewFileStorage returns a file backed session.Storage. c may be nil.
func NewFileStorage(path string, c *crypt.Cipher) *FileStorage {
	return &FileStorage{path: path, cipher: c}
}

// LoadSession implements session.Storage.
func (f *FileStorage) LoadSession(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(data) == 0) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	if f.cipher == nil {
		return data, nil
	}
	plain, err := f.cipher.Decrypt(string(data))
	if err != nil {
		return nil, fmt.Errorf("decrypt session: %w", err)
	}
	return plain, nil
}

// StoreSession implements session.Storage. The file is replaced atomically.
func (f *FileStorage) StoreSession(ctx context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := data
	if f.cipher != nil {
		enc, err := f.cipher.Encrypt(data)
		if err != nil {
			return fmt.Errorf("encrypt session: %w", err)
		}
		out = []byte(enc)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp session: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		return fmt.Errorf("write session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

// FromString converts a Telethon string session into in-memory storage.
func FromString(ctx context.Context, s string) (session.Storage, error) {
	data, err := session.TelethonSession(s)
	if err != nil {
		return nil, fmt.Errorf("decode string session: %w", err)
	}
	st := new(session.StorageMemory)
	loader := session.Loader{Storage: st}
	if err := loader.Save(ctx, data); err != nil {
		return nil, fmt.Errorf("save string session: %w", err)
	}
	return st, nil
}

// New picks the session storage described by cfg: the pre-authorized string
// session when present, the session file otherwise.
func New(ctx context.Context, cfg *config.Config) (session.Storage, error) {
	if cfg.StringSession != "" {
		logging.Log.Info().Str("event", "user_session").Str("source", "string").Msg("using string session")
		return FromString(ctx, cfg.StringSession)
	}

	var c *crypt.Cipher
	if cfg.SessionKey != "" {
		var err error
		if c, err = crypt.New(cfg.SessionKey); err != nil {
			return nil, fmt.Errorf("session key: %w", err)
		}
	} else {
		logging.Log.Warn().Str("session_file", cfg.SessionFile).Msg("SESSION_KEY not set, session file is stored unencrypted")
	}
	logging.Log.Info().Str("event", "user_session").Str("source", "file").Str("session_file", cfg.SessionFile).Msg("using session file")
	return NewFileStorage(cfg.SessionFile, c), nil
}
