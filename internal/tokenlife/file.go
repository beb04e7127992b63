package tokenlife

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// FileStore is a LocalStore kept in one JSON file. Writes replace the file
// atomically so concurrent readers never see a partial record. Besides the
// token and the prompt time it keeps the client credential, which only
// Forget removes.
type FileStore struct {
	path string
	mu   sync.Mutex
}

type fileState struct {
	Credential   string    `json:"credential,omitempty"`
	Token        *Token    `json:"token,omitempty"`
	LastPromptAt time.Time `json:"lastPromptAt,omitempty"`
}

// NewFileStore uses the file at path, created on first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// DefaultPath is the state file in the user's cache directory.
func DefaultPath() string {
	return filepath.Join(userCacheDir(), "cftmail", "token.json")
}

// Path returns the file location.
func (s *FileStore) Path() string { return s.path }

// LoadToken returns the stored token, or nil when there is none.
func (s *FileStore) LoadToken(context.Context) (*Token, error) {
	st, err := s.load()
	if err != nil {
		return nil, err
	}
	return st.Token, nil
}

// SaveToken replaces the stored token.
func (s *FileStore) SaveToken(_ context.Context, tok Token) error {
	return s.update(func(st *fileState) { st.Token = &tok })
}

// ClearToken removes the token. The credential and the prompt time stay.
func (s *FileStore) ClearToken(context.Context) error {
	return s.update(func(st *fileState) { st.Token = nil })
}

// LastPrompt returns when the re-consent prompt was last offered, or the
// zero time.
func (s *FileStore) LastPrompt(context.Context) (time.Time, error) {
	st, err := s.load()
	if err != nil {
		return time.Time{}, err
	}
	return st.LastPromptAt, nil
}

// MarkPrompt records that the re-consent prompt was offered at at.
func (s *FileStore) MarkPrompt(_ context.Context, at time.Time) error {
	return s.update(func(st *fileState) { st.LastPromptAt = at.UTC() })
}

// LoadCredential returns the stored credential, or "" when there is none.
func (s *FileStore) LoadCredential(context.Context) (string, error) {
	st, err := s.load()
	if err != nil {
		return "", err
	}
	return st.Credential, nil
}

// SaveCredential replaces the stored credential.
func (s *FileStore) SaveCredential(_ context.Context, credential string) error {
	return s.update(func(st *fileState) { st.Credential = credential })
}

// Forget removes the credential and the token. The prompt time stays so a
// new sign-in still honours the cooldown.
func (s *FileStore) Forget(context.Context) error {
	return s.update(func(st *fileState) {
		st.Credential = ""
		st.Token = nil
	})
}

func (s *FileStore) load() (fileState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *FileStore) update(fn func(*fileState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.read()
	if err != nil {
		return err
	}
	fn(&st)
	return s.write(st)
}

func (s *FileStore) read() (fileState, error) {
	var st fileState
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("failed to read token file: %w", err)
	}
	if len(data) == 0 {
		return st, nil
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("failed to decode token file: %w", err)
	}
	return st, nil
}

func (s *FileStore) write(st fileState) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode token file: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".token-*.json")
	if err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

func userCacheDir() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Caches")
	case "windows":
		for _, ev := range []string{"LOCALAPPDATA", "TEMP", "TMP"} {
			if v := os.Getenv(ev); v != "" {
				return v
			}
		}
		return os.TempDir()
	}
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return xdg
	}
	return filepath.Join(homeDir(), ".cache")
}

func homeDir() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("HOMEDRIVE") + os.Getenv("HOMEPATH")
	}
	return os.Getenv("HOME")
}

var _ LocalStore = (*FileStore)(nil)
