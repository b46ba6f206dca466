package client

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	gatekeep "github.com/jmswan/gatekeep"
)

// Storage keys. Fixed so independent processes sharing a FileStore agree
// on layout.
const (
	keyAuthToken    = "authToken"
	keyRefreshToken = "refreshToken"
	keyCurrentUser  = "currentUser"
)

// ErrNotFound is returned by Store reads when no value is persisted.
var ErrNotFound = errors.New("not persisted")

// Store is the client-side persistence boundary: pure data access, no
// network. Clear removes the token, refresh token, and cached user in
// one call; implementations must never leave a partial subset behind.
type Store interface {
	Token() (string, error)
	SetToken(token string) error
	RefreshToken() (string, error)
	SetRefreshToken(token string) error
	User() (gatekeep.Principal, error)
	SetUser(user gatekeep.Principal) error
	Clear() error
}

// MemoryStore keeps session state in process memory. Safe for
// concurrent use; contents are lost on exit.
type MemoryStore struct {
	mu      sync.RWMutex
	values  map[string]string
	user    gatekeep.Principal
	hasUser bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (s *MemoryStore) Token() (string, error) {
	return s.get(keyAuthToken)
}

func (s *MemoryStore) SetToken(token string) error {
	return s.set(keyAuthToken, token)
}

func (s *MemoryStore) RefreshToken() (string, error) {
	return s.get(keyRefreshToken)
}

func (s *MemoryStore) SetRefreshToken(token string) error {
	return s.set(keyRefreshToken, token)
}

func (s *MemoryStore) User() (gatekeep.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasUser {
		return gatekeep.Principal{}, ErrNotFound
	}
	return s.user, nil
}

func (s *MemoryStore) SetUser(user gatekeep.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = user
	s.hasUser = true
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[string]string)
	s.user = gatekeep.Principal{}
	s.hasUser = false
	return nil
}

func (s *MemoryStore) get(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok || v == "" {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *MemoryStore) set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// fileState is the on-disk layout of a FileStore.
type fileState struct {
	AuthToken    string              `json:"authToken,omitempty"`
	RefreshToken string              `json:"refreshToken,omitempty"`
	CurrentUser  *gatekeep.Principal `json:"currentUser,omitempty"`
}

// FileStore persists session state as a JSON file, the CLI counterpart
// of browser localStorage. Writes go through a temp file and rename so
// a crash never leaves a half-written state.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.load()
	if err != nil {
		return "", err
	}
	if state.AuthToken == "" {
		return "", ErrNotFound
	}
	return state.AuthToken, nil
}

func (s *FileStore) SetToken(token string) error {
	return s.update(func(state *fileState) { state.AuthToken = token })
}

func (s *FileStore) RefreshToken() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.load()
	if err != nil {
		return "", err
	}
	if state.RefreshToken == "" {
		return "", ErrNotFound
	}
	return state.RefreshToken, nil
}

func (s *FileStore) SetRefreshToken(token string) error {
	return s.update(func(state *fileState) { state.RefreshToken = token })
}

func (s *FileStore) User() (gatekeep.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.load()
	if err != nil {
		return gatekeep.Principal{}, err
	}
	if state.CurrentUser == nil {
		return gatekeep.Principal{}, ErrNotFound
	}
	return *state.CurrentUser, nil
}

func (s *FileStore) SetUser(user gatekeep.Principal) error {
	return s.update(func(state *fileState) { state.CurrentUser = &user })
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *FileStore) update(mutate func(*fileState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return err
	}
	mutate(state)
	return s.save(state)
}

func (s *FileStore) load() (*fileState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &fileState{}, nil
		}
		return nil, err
	}

	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		// Corrupt state is treated as absent, not fatal.
		return &fileState{}, nil
	}
	return &state, nil
}

func (s *FileStore) save(state *fileState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
