// Package scratch manages temporary files owned by a single request.
//
// A Scope is a private directory under a configured root. Every file the
// request needs is created inside it and Release removes all of them, on
// every exit path, without ever returning an error to the caller.
package scratch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Scope struct {
	dir string
	log zerolog.Logger

	mu       sync.Mutex
	files    []string
	released bool
}

// New creates a scope directory under root ("" means os.TempDir()).
func New(root string, log zerolog.Logger) (*Scope, error) {
	if root == "" {
		root = os.TempDir()
	}
	dir := filepath.Join(root, "stt-"+uuid.NewString())
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &Scope{dir: dir, log: log}, nil
}

// Dir is the scope's private directory.
func (s *Scope) Dir() string { return s.dir }

// Create opens a new file named name inside the scope. The caller closes it;
// Release deletes it.
func (s *Scope) Create(name string) (*os.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil, errors.New("scratch scope already released")
	}
	path := filepath.Join(s.dir, filepath.Base(name))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create scratch file: %w", err)
	}
	s.files = append(s.files, path)
	return f, nil
}

// Files lists the paths created so far.
func (s *Scope) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.files...)
}

// Release deletes every file and then the directory. Each deletion is
// attempted independently; failures are logged and swallowed. Calling
// Release more than once is a no-op.
func (s *Scope) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	s.released = true

	for _, p := range s.files {
		s.remove(p)
	}
	s.remove(s.dir)
}

func (s *Scope) remove(path string) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn().Interface("panic", r).Str("path", path).Msg("scratch: cleanup panicked")
		}
	}()
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.log.Warn().Err(err).Str("path", path).Msg("scratch: cleanup failed")
	}
}
