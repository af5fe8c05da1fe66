package netwatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrSnakeDoc/beacon/internal/discovery"
	"github.com/MrSnakeDoc/beacon/internal/logger"
)

// DefaultInterval is the default time between two network scans.
const DefaultInterval = 10 * time.Second

// Monitor periodically scans the host interfaces and probes connectivity, and
// publishes active-interface-changed and offline-status-changed events.
//
// Events are delivered by the goroutine running Refresh, one at a time, in the
// order the changes were observed.
type Monitor struct {
	list     InterfaceLister
	probe    Prober
	logger   logger.Logger
	interval time.Duration

	refreshMu sync.Mutex // serializes scans and event delivery

	mu         sync.Mutex
	state      discovery.NetworkState
	known      bool
	lastScan   time.Time
	nextID     int
	ifaceSubs  map[int]func(bool)
	statusSubs map[int]func(discovery.OnlineStatus)

	stopCh        chan struct{}
	stopOnce      sync.Once
	manualTrigger chan struct{}
}

// NewMonitor creates a monitor. probe may be nil: the host then counts as
// online whenever an active interface exists. manualTrigger may be nil.
func NewMonitor(
	list InterfaceLister,
	probe Prober,
	log logger.Logger,
	interval time.Duration,
	manualTrigger chan struct{},
) *Monitor {
	if list == nil {
		list = SystemInterfaces
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Monitor{
		list:          list,
		probe:         probe,
		logger:        log,
		interval:      interval,
		ifaceSubs:     make(map[int]func(bool)),
		statusSubs:    make(map[int]func(discovery.OnlineStatus)),
		stopCh:        make(chan struct{}),
		manualTrigger: manualTrigger,
	}
}

// Start performs a first scan, then rescans on every tick or manual trigger.
func (m *Monitor) Start(ctx context.Context) error {
	if err := m.Refresh(ctx); err != nil {
		return fmt.Errorf("initial network scan failed: %w", err)
	}

	ticker := time.NewTicker(m.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := m.Refresh(ctx); err != nil {
					m.logger.Error("failed to scan network", logger.Error(err))
				}
			case <-m.manualTrigger:
				m.logger.Info("manual network scan triggered")
				if err := m.Refresh(ctx); err != nil {
					m.logger.Error("failed to scan network", logger.Error(err))
				}
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the periodic scan.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// Interval returns the scan period.
func (m *Monitor) Interval() time.Duration { return m.interval }

// LastScan returns the time of the last successful scan.
func (m *Monitor) LastScan() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastScan
}

// NetworkState returns the last observed state; ok is false before the first scan.
func (m *Monitor) NetworkState() (discovery.NetworkState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.known
}

// SubscribeActiveInterface registers fn for active interface changes.
func (m *Monitor) SubscribeActiveInterface(fn func(present bool)) (discovery.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.ifaceSubs[id] = fn
	return discovery.SubscriptionFunc(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.ifaceSubs, id)
	}), nil
}

// SubscribeOfflineStatus registers fn for online/offline transitions.
func (m *Monitor) SubscribeOfflineStatus(fn func(status discovery.OnlineStatus)) (discovery.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.statusSubs[id] = fn
	return discovery.SubscriptionFunc(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.statusSubs, id)
	}), nil
}

// Refresh scans once and publishes the differences with the previous scan.
// The first scan only establishes the state.
func (m *Monitor) Refresh(ctx context.Context) error {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	ifaces, err := m.list()
	if err != nil {
		return fmt.Errorf("failed to list interfaces: %w", err)
	}

	next := discovery.NetworkState{}
	if active, ok := ActiveInterface(ifaces); ok {
		next.HasActiveInterface = true
		next.Interface = active.Name
	}
	next.Offline = !next.HasActiveInterface
	if next.HasActiveInterface && m.probe != nil {
		if err := m.probe(ctx); err != nil {
			m.logger.Debug("connectivity probe failed", logger.Error(err))
			next.Offline = true
		}
	}

	m.mu.Lock()
	prev, known := m.state, m.known
	m.state = next
	m.known = true
	m.lastScan = time.Now()
	m.mu.Unlock()

	if !known {
		m.logger.Info("initial network state",
			logger.Bool("has_active_interface", next.HasActiveInterface),
			logger.String("interface", next.Interface),
			logger.Bool("offline", next.Offline))
		return nil
	}

	if next.HasActiveInterface != prev.HasActiveInterface || next.Interface != prev.Interface {
		m.logger.Info("active interface changed",
			logger.String("from", prev.Interface),
			logger.String("to", next.Interface))
		m.publishInterface(next.HasActiveInterface)
	}
	if next.Offline != prev.Offline {
		status := discovery.StatusOnline
		if next.Offline {
			status = discovery.StatusOffline
		}
		m.logger.Info("connectivity changed", logger.String("status", string(status)))
		m.publishStatus(status)
	}
	return nil
}

func (m *Monitor) publishInterface(present bool) {
	m.mu.Lock()
	fns := make([]func(bool), 0, len(m.ifaceSubs))
	for _, fn := range m.ifaceSubs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(present)
	}
}

func (m *Monitor) publishStatus(status discovery.OnlineStatus) {
	m.mu.Lock()
	fns := make([]func(discovery.OnlineStatus), 0, len(m.statusSubs))
	for _, fn := range m.statusSubs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(status)
	}
}
