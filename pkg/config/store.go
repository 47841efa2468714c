// Copyright 2025 Kagenti Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"
)

// ErrCredentialsNotReady is returned when the mounted credential files
// have not appeared within the configured wait.
var ErrCredentialsNotReady = errors.New("credential files not ready")

// Credentials is an immutable snapshot of the client credential pair.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// Ready reports whether both halves of the pair are present.
func (c Credentials) Ready() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Store holds the client credential material used for token exchange.
// The credential files are mounted by an init container and may appear
// or rotate after the processor starts, so the store supports a bounded
// startup wait and a filesystem watch. Readers always see a consistent
// pair; the swap happens under the write lock.
type Store struct {
	mu         sync.RWMutex
	idFile     string
	secretFile string
	fallback   Credentials
	current    Credentials
}

// NewStore creates a credential store for the given identity config and
// performs an initial load. A missing file is not an error at this
// point; WaitForCredentials handles the not-yet-mounted case.
func NewStore(identity IdentityConfig) *Store {
	s := &Store{
		idFile:     identity.ClientIDFile,
		secretFile: identity.ClientSecretFile,
		fallback: Credentials{
			ClientID:     identity.ClientID,
			ClientSecret: identity.ClientSecret,
		},
	}
	s.reload()
	return s
}

// Credentials returns the current credential snapshot.
func (s *Store) Credentials() Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// reload re-reads the credential files, falling back to the statically
// configured values for any half that is absent.
func (s *Store) reload() {
	next := s.fallback
	if id, err := readTrimmed(s.idFile); err == nil && id != "" {
		next.ClientID = id
	}
	if secret, err := readTrimmed(s.secretFile); err == nil && secret != "" {
		next.ClientSecret = secret
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
}

// WaitForCredentials blocks until both credential files are readable
// and non-empty, with exponential backoff, bounded by maxWait. It
// returns ErrCredentialsNotReady when the bound is hit. Deployments
// that configure credentials purely via environment pass immediately.
func (s *Store) WaitForCredentials(ctx context.Context, maxWait time.Duration) error {
	if s.Credentials().Ready() {
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = maxWait

	attempt := 0
	err := backoff.Retry(func() error {
		s.reload()
		if s.Credentials().Ready() {
			return nil
		}
		attempt++
		slog.Debug("Credentials not ready yet, waiting", "attempt", attempt)
		return ErrCredentialsNotReady
	}, backoff.WithContext(bo, ctx))

	if err != nil {
		return err
	}
	slog.Info("Credential files are ready", "client_id_file", s.idFile)
	return nil
}

// Watch reloads the credential pair whenever either file changes. It
// watches the parent directories because Kubernetes secret mounts swap
// symlinks rather than rewriting files in place. Blocks until ctx is
// cancelled.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	dirs := map[string]struct{}{
		filepath.Dir(s.idFile):     {},
		filepath.Dir(s.secretFile): {},
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) == 0 {
				continue
			}
			s.reload()
			slog.Debug("Reloaded credentials after file event", "event", event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Credential watch error", "error", err)
		}
	}
}

func readTrimmed(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(content)), nil
}
