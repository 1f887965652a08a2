package client

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

// Storage persists a session across process restarts.
type Storage interface {
	Load() (*Session, error)
	Save(Session) error
	Clear() error
}

// FileStorage keeps the session as a JSON file with owner-only permissions.
// The file holds live credentials, hence 0600.
type FileStorage struct {
	Path string
}

var _ Storage = (*FileStorage)(nil)

func (f *FileStorage) Load() (*Session, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		// Corrupt file: treat as no session rather than wedging startup.
		return nil, nil
	}
	if sess.Tokens.RefreshToken == "" {
		return nil, nil
	}
	return &sess, nil
}

func (f *FileStorage) Save(sess Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(f.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.Path)
}

func (f *FileStorage) Clear() error {
	err := os.Remove(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
