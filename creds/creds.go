// Package creds implements the credential collaborator backed by a
// JSON users file with bcrypt password hashes. The file is re-read on
// change so operators can rotate credentials without a restart.
package creds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/crypto/bcrypt"

	"github.com/taskboard/taskboard-go/auth"
)

// userRecord is one entry in the users file.
//
//	[{"id": 1, "username": "student", "passwordHash": "$2b$10$..."}]
type userRecord struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"passwordHash"`
}

// FileStore verifies credentials against a users file.
type FileStore struct {
	path string
	log  *slog.Logger

	mu    sync.RWMutex
	users map[string]userRecord

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// FileOption configures a FileStore.
type FileOption func(*FileStore)

// WithLogger sets the logger used for reload diagnostics. Without it,
// logs are discarded.
func WithLogger(log *slog.Logger) FileOption {
	return func(s *FileStore) { s.log = log }
}

// NewFileStore loads the users file at path and begins watching it for
// changes. Close must be called to release the watcher.
func NewFileStore(path string, opts ...FileOption) (*FileStore, error) {
	s := &FileStore{
		path: path,
		log:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.Reload(); err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watching %s: %w", path, err)
	}
	s.watcher = w
	go s.watch()
	return s, nil
}

// Reload re-reads the users file. Safe to call concurrently with
// Verify; a failed reload keeps the previous user set.
func (s *FileStore) Reload() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("reading users file: %w", err)
	}
	var records []userRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return fmt.Errorf("parsing users file: %w", err)
	}

	users := make(map[string]userRecord, len(records))
	for _, r := range records {
		if r.Username == "" || r.PasswordHash == "" {
			return fmt.Errorf("users file entry missing username or passwordHash")
		}
		users[r.Username] = r
	}

	s.mu.Lock()
	s.users = users
	s.mu.Unlock()
	return nil
}

func (s *FileStore) watch() {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if err := s.Reload(); err != nil {
				s.log.Warn("users file reload failed; keeping previous set", "path", s.path, "err", err)
				continue
			}
			s.log.Info("users file reloaded", "path", s.path)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("users file watch error", "path", s.path, "err", err)
		}
	}
}

// Verify implements auth.CredentialVerifier.
func (s *FileStore) Verify(ctx context.Context, username, password string) (auth.Identity, error) {
	s.mu.RLock()
	u, ok := s.users[username]
	s.mu.RUnlock()
	if !ok {
		return auth.Identity{}, auth.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return auth.Identity{}, auth.ErrInvalidCredentials
	}
	return auth.Identity{ID: u.ID, Username: u.Username}, nil
}

// Close stops watching the users file.
func (s *FileStore) Close() error {
	close(s.done)
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

var _ auth.CredentialVerifier = (*FileStore)(nil)
