package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/beacon/internal/discovery"
	"github.com/MrSnakeDoc/beacon/internal/logger"
	"github.com/MrSnakeDoc/beacon/internal/prefs"
)

// DefaultSubscribeTimeout bounds the wait for a subscription confirmation.
const DefaultSubscribeTimeout = 5 * time.Second

// PreferenceChange is the payload published on ChannelPreferenceChanged.
type PreferenceChange struct {
	Name  string `json:"name"`
	Value bool   `json:"value"`
}

// PreferenceStore keeps preferences in Redis and propagates changes through
// pub/sub so every beacon instance sharing the database converges.
type PreferenceStore struct {
	client *redis.Client
	logger logger.Logger
}

// NewPreferenceStore creates a new Redis preference store
func NewPreferenceStore(client *redis.Client, log logger.Logger) *PreferenceStore {
	if log == nil {
		log = logger.NewNop()
	}
	return &PreferenceStore{
		client: client,
		logger: log,
	}
}

// GetBool reads a preference. A missing key returns prefs.ErrNotFound.
func (s *PreferenceStore) GetBool(ctx context.Context, name string) (bool, error) {
	raw, err := s.client.Get(ctx, PreferenceKey(name)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, fmt.Errorf("%w: %s", prefs.ErrNotFound, name)
		}
		return false, fmt.Errorf("failed to get preference: %w", err)
	}

	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid boolean for preference %s: %q", name, raw)
	}
	return v, nil
}

// SetBool stores a preference and publishes the change in one transaction.
func (s *PreferenceStore) SetBool(ctx context.Context, name string, value bool) error {
	payload, err := json.Marshal(PreferenceChange{Name: name, Value: value})
	if err != nil {
		return fmt.Errorf("failed to marshal preference change: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, PreferenceKey(name), strconv.FormatBool(value), 0)
		pipe.Publish(ctx, ChannelPreferenceChanged, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save preference: %w", err)
	}
	return nil
}

// Subscribe listens for changes of name. The subscription is confirmed by the
// server before Subscribe returns, and fn is called from a single goroutine in
// publication order.
func (s *PreferenceStore) Subscribe(name string, fn func(bool)) (discovery.Subscription, error) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultSubscribeTimeout)
	defer cancel()

	ps := s.client.Subscribe(ctx, ChannelPreferenceChanged)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", ChannelPreferenceChanged, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ps.Channel() {
			var change PreferenceChange
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				s.logger.Warn("ignoring malformed preference change",
					logger.String("payload", msg.Payload),
					logger.Error(err))
				continue
			}
			if change.Name != name {
				continue
			}
			fn(change.Value)
		}
	}()

	var once sync.Once
	return discovery.SubscriptionFunc(func() {
		once.Do(func() {
			if err := ps.Close(); err != nil {
				s.logger.Debug("failed to close preference subscription", logger.Error(err))
			}
			<-done
		})
	}), nil
}
