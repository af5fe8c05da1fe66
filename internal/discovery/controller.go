package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrSnakeDoc/beacon/internal/logger"
)

const (
	// DefaultPreferenceName is the preference gating the discoverable service.
	DefaultPreferenceName = "discovery.discoverable"
	// DefaultReadTimeout bounds a single preference read.
	DefaultReadTimeout = 2 * time.Second
)

// Controller derives the running state of a discoverable service from the
// discoverability preference and the host connectivity, and drives the
// service's idempotent Start/Stop accordingly.
//
// All handlers run under one mutex, so every event is fully evaluated before
// the next one is accepted.
type Controller struct {
	mu sync.Mutex

	prefs    PreferenceStore
	network  NetworkSource
	svc      Service
	prefName string
	timeout  time.Duration
	log      logger.Logger
	rec      Recorder
	now      func() time.Time

	subs   []Subscription
	closed bool

	// latest known facts
	enabled bool
	net     NetworkState

	desired        bool
	observed       RunState
	lastAction     Action
	lastTransition time.Time
	lastErr        error
	starts         int
	stops          int
}

// Option configures a Controller.
type Option func(*Controller)

// WithPreferenceName sets the preference the controller watches.
func WithPreferenceName(name string) Option {
	return func(c *Controller) {
		if name != "" {
			c.prefName = name
		}
	}
}

// WithLogger sets the controller logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) {
		if r != nil {
			c.rec = r
		}
	}
}

// WithReadTimeout bounds each preference read.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// New subscribes to the preference store and, when network is not nil, to the
// network source, then converges the service once from the current facts.
//
// network may be nil on platforms without connectivity reporting; the
// controller then gates on the preference only.
func New(prefs PreferenceStore, network NetworkSource, svc Service, opts ...Option) (*Controller, error) {
	if prefs == nil {
		return nil, fmt.Errorf("discovery: preference store is required")
	}
	if svc == nil {
		return nil, fmt.Errorf("discovery: managed service is required")
	}

	c := &Controller{
		prefs:    prefs,
		network:  network,
		svc:      svc,
		prefName: DefaultPreferenceName,
		timeout:  DefaultReadTimeout,
		log:      logger.NewNop(),
		rec:      nopRecorder{},
		now:      time.Now,
		observed: RunStateUnknown,
		// unknown connectivity: attempt start if enabled
		net: NetworkState{HasActiveInterface: true},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(logger.String("preference", c.prefName))

	if reporter, ok := network.(NetworkStateReporter); ok {
		if state, known := reporter.NetworkState(); known {
			c.net = state
		}
	}

	if err := c.subscribe(); err != nil {
		c.release()
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rec.ObserveEvent(SourceStartup)
	c.log.Info("discovery controller started",
		logger.Bool("network_aware", c.network != nil),
		logger.Bool("has_active_interface", c.net.HasActiveInterface),
		logger.Bool("offline", c.net.Offline))
	c.converge(SourceStartup, false)

	return c, nil
}

func (c *Controller) subscribe() error {
	sub, err := c.prefs.Subscribe(c.prefName, c.onPreferenceChanged)
	if err != nil {
		return fmt.Errorf("failed to subscribe to preference %s: %w", c.prefName, err)
	}
	c.subs = append(c.subs, sub)

	if c.network == nil {
		c.log.Info("no network source available, gating on preference only")
		return nil
	}

	sub, err = c.network.SubscribeActiveInterface(c.onActiveInterfaceChanged)
	if err != nil {
		return fmt.Errorf("failed to subscribe to active interface changes: %w", err)
	}
	c.subs = append(c.subs, sub)

	sub, err = c.network.SubscribeOfflineStatus(c.onOfflineStatusChanged)
	if err != nil {
		return fmt.Errorf("failed to subscribe to offline status changes: %w", err)
	}
	c.subs = append(c.subs, sub)

	return nil
}

func (c *Controller) release() {
	for _, sub := range c.subs {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
	c.subs = nil
}

func (c *Controller) onPreferenceChanged(value bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.rec.ObserveEvent(SourcePreference)
	// The payload is informative only; the store is re-read at decision time.
	c.log.Debug("preference changed", logger.Bool("value", value))
	c.converge(SourcePreference, false)
}

func (c *Controller) onActiveInterfaceChanged(present bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.rec.ObserveEvent(SourceInterface)
	c.net.HasActiveInterface = present
	if !present {
		c.net.Interface = ""
		c.log.Info("no active network interface")
		c.apply(false, SourceInterface)
		return
	}
	if reporter, ok := c.network.(NetworkStateReporter); ok {
		if state, known := reporter.NetworkState(); known && state.HasActiveInterface {
			c.net.Interface = state.Interface
		}
	}
	c.log.Info("active network interface changed", logger.String("interface", c.net.Interface))
	c.converge(SourceInterface, true)
}

func (c *Controller) onOfflineStatusChanged(status OnlineStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.rec.ObserveEvent(SourceOffline)
	c.net.Offline = status.IsOffline()
	c.log.Info("offline status changed", logger.String("status", string(status)))
	if c.net.Offline {
		c.apply(false, SourceOffline)
		return
	}
	c.converge(SourceOffline, true)
}

// converge re-reads the preference and applies the intent
// enabled AND hasActiveInterface AND NOT offline.
//
// startOnly is set for events that can only make the service startable
// (interface appeared, back online): a false intent is then a no-op unless the
// service was not observed stopped.
func (c *Controller) converge(source string, startOnly bool) {
	c.enabled = c.readPreference()
	desired := c.enabled && c.net.HasActiveInterface && !c.net.Offline

	if !desired && startOnly && c.observed == RunStateStopped {
		c.desired = false
		c.rec.SetDesired(false)
		return
	}
	c.apply(desired, source)
}

// readPreference must be called with c.mu held. A failed read counts as
// disabled.
func (c *Controller) readPreference() bool {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	enabled, err := c.prefs.GetBool(ctx, c.prefName)
	if err != nil {
		c.log.Warn("preference unavailable, treating discovery as disabled", logger.Error(err))
		return false
	}
	return enabled
}

// apply must be called with c.mu held.
func (c *Controller) apply(running bool, source string) {
	c.desired = running
	c.rec.SetDesired(running)

	action, target := ActionStop, RunStateStopped
	call := c.svc.Stop
	if running {
		action, target = ActionStart, RunStateRunning
		call = c.svc.Start
	}

	err := call()
	c.rec.ObserveTransition(action, err)
	c.lastAction = action
	c.lastTransition = c.now()
	if action == ActionStart {
		c.starts++
	} else {
		c.stops++
	}

	if err != nil {
		c.lastErr = err
		c.observed = RunStateUnknown
		c.rec.SetObserved(RunStateUnknown)
		c.log.Error("managed service call failed, will retry on next event",
			logger.String("action", string(action)),
			logger.String("source", source),
			logger.Error(err))
		return
	}

	c.lastErr = nil
	if c.observed != target {
		c.log.Info("discoverable service state changed",
			logger.String("action", string(action)),
			logger.String("source", source),
			logger.String("from", string(c.observed)),
			logger.String("to", string(target)))
	}
	c.observed = target
	c.rec.SetObserved(target)
}

// Status returns a snapshot of the controller state.
func (c *Controller) Status() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		Preference:     c.prefName,
		Enabled:        c.enabled,
		NetworkAware:   c.network != nil,
		Network:        c.net,
		Desired:        c.desired,
		Observed:       c.observed,
		LastAction:     c.lastAction,
		LastTransition: c.lastTransition,
		Starts:         c.starts,
		Stops:          c.stops,
		Closed:         c.closed,
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

// Shutdown releases every subscription and force-stops the service. Events
// delivered afterwards are ignored. Calling Shutdown again is a no-op.
func (c *Controller) Shutdown() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	// Released outside the lock: a subscription may wait for its delivery
	// goroutine, which may itself be blocked on c.mu.
	for _, sub := range subs {
		if sub != nil {
			sub.Unsubscribe()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.apply(false, SourceShutdown)
	c.log.Info("discovery controller stopped")
	if c.lastErr != nil {
		return fmt.Errorf("failed to stop discoverable service: %w", c.lastErr)
	}
	return nil
}
