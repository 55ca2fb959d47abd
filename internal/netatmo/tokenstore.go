package netatmo

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// TokenStore keeps the refresh token in a small JSON file. The file may hold
// other keys; they are preserved on rewrite.
type TokenStore struct {
	path string
}

// NewTokenStore returns a store backed by the file at path.
func NewTokenStore(path string) *TokenStore {
	return &TokenStore{path: path}
}

// Path returns the persistence file location.
func (s *TokenStore) Path() string {
	return s.path
}

// Read returns the stored refresh token.
func (s *TokenStore) Read() (string, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return "", configError("read tokens", err)
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return "", configError("read tokens", fmt.Errorf("could not decode %s as JSON, it must contain a refresh_token key: %w", s.path, err))
	}

	token, _ := data["refresh_token"].(string)
	if token == "" {
		return "", configError("read tokens", fmt.Errorf("missing refresh_token in file %s", s.path))
	}
	return token, nil
}

// Write stores token as the current refresh token. Unreadable or malformed
// file content is replaced rather than reported.
func (s *TokenStore) Write(token string) error {
	if token == "" {
		return configError("write tokens", errors.New("refusing to persist an empty refresh token"))
	}

	data := map[string]any{}
	if raw, err := os.ReadFile(s.path); err == nil {
		if err := json.Unmarshal(raw, &data); err != nil || data == nil {
			data = map[string]any{}
		}
	}
	data["refresh_token"] = token

	out, err := json.Marshal(data)
	if err != nil {
		return configError("write tokens", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".tokens-*")
	if err != nil {
		return configError("write tokens", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return configError("write tokens", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return configError("write tokens", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return configError("write tokens", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return configError("write tokens", err)
	}
	return nil
}
