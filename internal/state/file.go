package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// fileDoc is the on-disk layout of a FileStore.
type fileDoc struct {
	User  *User `yaml:"user,omitempty"`
	Prefs Prefs `yaml:"prefs"`
}

// FileStore keeps state in a single yaml file. Writes go through a temp file
// and rename so a crash never leaves a half-written document.
type FileStore struct {
	path string
	log  zerolog.Logger

	mu  sync.Mutex
	doc fileDoc
}

// NewFileStore opens (or lazily creates) the yaml state file at path.
func NewFileStore(path string, log zerolog.Logger) (*FileStore, error) {
	s := &FileStore{
		path: path,
		log:  log.With().Str("component", "state").Str("path", path).Logger(),
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) LoadUser(_ context.Context) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc.User == nil {
		return nil, nil
	}
	u := *s.doc.User
	return &u, nil
}

func (s *FileStore) SaveUser(_ context.Context, u User) error {
	if err := validateUser(u); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.User = &u
	return s.flush()
}

func (s *FileStore) ClearUser(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.User = nil
	return s.flush()
}

func (s *FileStore) Prefs(_ context.Context) (Prefs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Prefs.withDefaults(), nil
}

func (s *FileStore) SetLanguage(_ context.Context, lang string) error {
	if err := ValidateLanguage(lang); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Prefs.Language = lang
	return s.flush()
}

func (s *FileStore) SetTheme(_ context.Context, theme string) error {
	if err := ValidateTheme(theme); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Prefs.Theme = theme
	return s.flush()
}

// Close is a no-op; the file is written on every change.
func (s *FileStore) Close() error { return nil }

// Watch reloads the file when it is changed by another process and calls
// onChange with the new preferences. It blocks until ctx is done.
func (s *FileStore) Watch(ctx context.Context, onChange func(Prefs)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("state: watch: %w", err)
	}
	defer w.Close()

	// Watch the directory: editors replace files by rename, which drops a
	// watch on the file itself.
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("state: watch %s: %w", filepath.Dir(s.path), err)
	}

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			before := s.currentPrefs()
			if err := s.reload(); err != nil {
				s.log.Warn().Err(err).Msg("Failed to reload state file")
				continue
			}
			after := s.currentPrefs()
			if after != before && onChange != nil {
				s.log.Info().Str("language", after.Language).Str("theme", after.Theme).Msg("Preferences changed on disk")
				onChange(after)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warn().Err(err).Msg("State watcher error")
		}
	}
}

func (s *FileStore) currentPrefs() Prefs {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Prefs.withDefaults()
}

func (s *FileStore) reload() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.mu.Lock()
		s.doc = fileDoc{}
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("state: read %s: %w", s.path, err)
	}

	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("state: parse %s: %w", s.path, err)
	}
	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
	return nil
}

// flush writes the document. Caller holds s.mu.
func (s *FileStore) flush() error {
	data, err := yaml.Marshal(&s.doc)
	if err != nil {
		return fmt.Errorf("state: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("state: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("state: rename %s: %w", tmp, err)
	}
	return nil
}
