package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"shadowcam/internal/fileutil"
)

// Store abstracts persistence for sign-in state.
type Store interface {
	Load() (Token, error)
	Save(Token) error
	Clear() error
}

// FileStore writes token state to a JSON file on disk.
type FileStore struct {
	path string
}

// NewFileStore builds a FileStore at the provided path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the token file location.
func (s *FileStore) Path() string { return s.path }

// Load reads token state from disk. A missing file resolves to an empty token.
func (s *FileStore) Load() (Token, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Token{}, nil
		}
		return Token{}, fmt.Errorf("read token file: %w", err)
	}
	if len(data) == 0 {
		return Token{}, nil
	}
	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return Token{}, fmt.Errorf("decode token file: %w", err)
	}
	return tok, nil
}

// Save persists token state with owner-only permissions. The file is
// replaced atomically so watchers never observe a partial write.
func (s *FileStore) Save(tok Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := fileutil.WriteFileAtomic(s.path, data, 0o600, 0o700); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// Clear removes the token file. A missing file is not an error.
func (s *FileStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove token file: %w", err)
	}
	return nil
}
