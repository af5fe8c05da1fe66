package prefs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/MrSnakeDoc/beacon/internal/discovery"
	"github.com/MrSnakeDoc/beacon/internal/logger"
	"github.com/MrSnakeDoc/beacon/internal/utils"
)

// DefaultDebounce is the quiet period after the last file event before reload.
const DefaultDebounce = 250 * time.Millisecond

// FileStore keeps preferences in a YAML file of "name: bool" pairs and
// notifies observers when the file changes on disk.
type FileStore struct {
	path     string
	log      logger.Logger
	debounce time.Duration

	mu     sync.RWMutex
	values map[string]bool

	writeMu   sync.Mutex
	observers *observers

	watcher  *fsnotify.Watcher
	reloadCh chan struct{}
	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewFileStore loads path (a missing file is an empty store).
func NewFileStore(path string, log logger.Logger, debounce time.Duration) (*FileStore, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve preference file path: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if log == nil {
		log = logger.NewNop()
	}

	s := &FileStore{
		path:      absPath,
		log:       log,
		debounce:  debounce,
		observers: newObservers(),
		reloadCh:  make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}

	values, err := s.load()
	if err != nil {
		return nil, err
	}
	s.values = values
	return s, nil
}

// Path returns the absolute file path.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) load() (map[string]bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]bool{}, nil
		}
		return nil, fmt.Errorf("failed to read preference file: %w", err)
	}

	values := map[string]bool{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse preference file: %w", err)
	}
	return values, nil
}

// GetBool returns the current value of name.
func (s *FileStore) GetBool(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[name]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return v, nil
}

// SetBool persists value and notifies observers if it changed.
func (s *FileStore) SetBool(ctx context.Context, name string, value bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	prev, existed := s.values[name]
	next := make(map[string]bool, len(s.values)+1)
	for k, v := range s.values {
		next[k] = v
	}
	s.mu.RUnlock()
	next[name] = value

	if err := s.write(next); err != nil {
		return err
	}

	s.mu.Lock()
	s.values = next
	s.mu.Unlock()

	if !existed || prev != value {
		s.observers.notify(name, value)
	}
	return nil
}

// write replaces the file atomically.
func (s *FileStore) write(values map[string]bool) error {
	data, err := yaml.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode preferences: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp preference file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		utils.Close(tmp)
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write preferences: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp preference file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace preference file: %w", err)
	}
	return nil
}

// Subscribe registers fn for changes of name.
func (s *FileStore) Subscribe(name string, fn func(bool)) (discovery.Subscription, error) {
	return s.observers.add(name, fn), nil
}

// Start watches the directory containing the file (more reliable than the file
// itself, which is replaced on every write).
func (s *FileStore) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		utils.Close(watcher)
		return fmt.Errorf("failed to watch preference directory %s: %w", dir, err)
	}
	s.watcher = watcher

	s.log.Info("watching preference file", logger.String("path", s.path))

	s.wg.Add(2)
	go s.watchLoop(ctx)
	go s.reloadLoop(ctx)
	return nil
}

// Stop stops watching. Safe to call more than once.
func (s *FileStore) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.watcher != nil {
			if err := s.watcher.Close(); err != nil {
				s.log.Warn("failed to close preference watcher", logger.Error(err))
			}
		}
		s.wg.Wait()
	})
}

func (s *FileStore) watchLoop(ctx context.Context) {
	defer s.wg.Done()
	base := filepath.Base(s.path)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				s.log.Debug("preference file event", logger.String("op", event.Op.String()))
				select {
				case s.reloadCh <- struct{}{}:
				default:
				}
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Error("preference watcher error", logger.Error(err))
		}
	}
}

func (s *FileStore) reloadLoop(ctx context.Context) {
	defer s.wg.Done()
	timer := time.NewTimer(s.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-s.reloadCh:
			timer.Reset(s.debounce)
		case <-timer.C:
			if err := s.Reload(); err != nil {
				s.log.Error("failed to reload preferences", logger.Error(err))
			}
		}
	}
}

// Reload re-reads the file and notifies observers of every changed name.
// A name removed from the file is reported as false.
func (s *FileStore) Reload() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	values, err := s.load()
	if err != nil {
		return err
	}

	s.mu.Lock()
	prev := s.values
	s.values = values
	s.mu.Unlock()

	changed := diff(prev, values)
	if len(changed) > 0 {
		s.log.Info("preferences reloaded", logger.Int("changed", len(changed)))
	}
	for _, name := range changed {
		s.observers.notify(name, values[name])
	}
	return nil
}

// diff returns the sorted names whose effective value differs.
func diff(prev, next map[string]bool) []string {
	var changed []string
	for name, v := range next {
		if old, ok := prev[name]; !ok || old != v {
			changed = append(changed, name)
		}
	}
	for name, old := range prev {
		if _, ok := next[name]; !ok && old {
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)
	return changed
}
