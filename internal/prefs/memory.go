package prefs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrSnakeDoc/beacon/internal/discovery"
)

// ErrNotFound is returned when a preference has never been set.
var ErrNotFound = errors.New("preference not found")

// Store is a readable, writable and observable preference backend.
type Store interface {
	discovery.PreferenceStore
	SetBool(ctx context.Context, name string, value bool) error
}

// MemoryStore keeps preferences in memory. Observers are called synchronously
// by SetBool, in registration order, and only when the value changes.
type MemoryStore struct {
	mu        sync.RWMutex
	values    map[string]bool
	observers *observers
}

// NewMemoryStore creates a store seeded with defaults.
func NewMemoryStore(defaults map[string]bool) *MemoryStore {
	values := make(map[string]bool, len(defaults))
	for k, v := range defaults {
		values[k] = v
	}
	return &MemoryStore{
		values:    values,
		observers: newObservers(),
	}
}

// GetBool returns the current value of name.
func (s *MemoryStore) GetBool(ctx context.Context, name string) (bool, error) {
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

// SetBool stores value and notifies observers of name if it changed.
func (s *MemoryStore) SetBool(ctx context.Context, name string, value bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	prev, existed := s.values[name]
	s.values[name] = value
	s.mu.Unlock()

	if existed && prev == value {
		return nil
	}
	s.observers.notify(name, value)
	return nil
}

// Subscribe registers fn for changes of name.
func (s *MemoryStore) Subscribe(name string, fn func(bool)) (discovery.Subscription, error) {
	return s.observers.add(name, fn), nil
}

// observers is a per-name observer registry shared by the in-process stores.
type observers struct {
	mu     sync.Mutex
	nextID int
	byName map[string]map[int]func(bool)
	order  map[string][]int
}

func newObservers() *observers {
	return &observers{
		byName: make(map[string]map[int]func(bool)),
		order:  make(map[string][]int),
	}
}

func (o *observers) add(name string, fn func(bool)) discovery.Subscription {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.nextID++
	id := o.nextID
	if o.byName[name] == nil {
		o.byName[name] = make(map[int]func(bool))
	}
	o.byName[name][id] = fn
	o.order[name] = append(o.order[name], id)

	var once sync.Once
	return discovery.SubscriptionFunc(func() {
		once.Do(func() { o.remove(name, id) })
	})
}

func (o *observers) remove(name string, id int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	delete(o.byName[name], id)
	ids := o.order[name]
	for i, v := range ids {
		if v == id {
			o.order[name] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(o.byName[name]) == 0 {
		delete(o.byName, name)
		delete(o.order, name)
	}
}

// notify calls observers of name outside the registry lock.
func (o *observers) notify(name string, value bool) {
	o.mu.Lock()
	fns := make([]func(bool), 0, len(o.order[name]))
	for _, id := range o.order[name] {
		if fn, ok := o.byName[name][id]; ok {
			fns = append(fns, fn)
		}
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(value)
	}
}

func (o *observers) count(name string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.byName[name])
}
