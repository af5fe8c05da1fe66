package netwatch

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/beacon/internal/discovery"
	"github.com/MrSnakeDoc/beacon/internal/logger"
)

type fakeHost struct {
	mu       sync.Mutex
	ifaces   []Interface
	listErr  error
	probeErr error
}

func (h *fakeHost) set(ifaces ...Interface) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ifaces = ifaces
}

func (h *fakeHost) setProbeErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probeErr = err
}

func (h *fakeHost) list() ([]Interface, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Interface(nil), h.ifaces...), h.listErr
}

func (h *fakeHost) probe(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.probeErr
}

var (
	lo   = Interface{Name: "lo", Index: 1, Up: true, Loopback: true, HasAddr: true}
	eth0 = Interface{Name: "eth0", Index: 2, Up: true, HasAddr: true}
	wlan = Interface{Name: "wlan0", Index: 3, Up: true, HasAddr: true}
)

type events struct {
	mu  sync.Mutex
	log []string
}

func (e *events) add(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log = append(e.log, s)
}

func (e *events) all() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.log...)
}

func subscribe(t *testing.T, m *Monitor) *events {
	t.Helper()
	ev := &events{}
	_, err := m.SubscribeActiveInterface(func(present bool) {
		if present {
			ev.add("iface:present")
		} else {
			ev.add("iface:none")
		}
	})
	require.NoError(t, err)
	_, err = m.SubscribeOfflineStatus(func(s discovery.OnlineStatus) { ev.add("status:" + string(s)) })
	require.NoError(t, err)
	return ev
}

func TestActiveInterface(t *testing.T) {
	down := Interface{Name: "eth1", Index: 0, Up: false, HasAddr: true}
	noAddr := Interface{Name: "docker0", Index: 1, Up: true}

	got, ok := ActiveInterface([]Interface{lo, wlan, down, noAddr, eth0})
	require.True(t, ok)
	assert.Equal(t, "eth0", got.Name)

	_, ok = ActiveInterface([]Interface{lo, down, noAddr})
	assert.False(t, ok)
}

func TestHasUnicast(t *testing.T) {
	assert.True(t, hasUnicast([]net.Addr{&net.IPNet{IP: net.ParseIP("192.168.1.10")}}))
	assert.True(t, hasUnicast([]net.Addr{&net.IPAddr{IP: net.ParseIP("fe80::1")}}))
	assert.False(t, hasUnicast([]net.Addr{&net.IPNet{IP: net.ParseIP("127.0.0.1")}}))
	assert.False(t, hasUnicast(nil))
}

func TestMonitor_FirstScanIsSilent(t *testing.T) {
	host := &fakeHost{}
	host.set(lo, eth0)
	m := NewMonitor(host.list, host.probe, logger.NewNop(), time.Hour, nil)
	ev := subscribe(t, m)

	_, known := m.NetworkState()
	assert.False(t, known)

	require.NoError(t, m.Refresh(context.Background()))
	assert.Empty(t, ev.all())

	state, known := m.NetworkState()
	require.True(t, known)
	assert.Equal(t, discovery.NetworkState{HasActiveInterface: true, Interface: "eth0"}, state)
	assert.False(t, m.LastScan().IsZero())
}

func TestMonitor_PublishesTransitions(t *testing.T) {
	host := &fakeHost{}
	host.set(lo, eth0)
	m := NewMonitor(host.list, host.probe, logger.NewNop(), time.Hour, nil)
	ev := subscribe(t, m)
	ctx := context.Background()
	require.NoError(t, m.Refresh(ctx))

	// nothing changed
	require.NoError(t, m.Refresh(ctx))
	assert.Empty(t, ev.all())

	// interface lost: no interface and offline
	host.set(lo)
	require.NoError(t, m.Refresh(ctx))
	assert.Equal(t, []string{"iface:none", "status:offline"}, ev.all())

	// new interface
	host.set(lo, wlan)
	require.NoError(t, m.Refresh(ctx))
	assert.Equal(t, []string{"iface:none", "status:offline", "iface:present", "status:online"}, ev.all())

	// probe fails: offline while the interface stays
	host.setProbeErr(errors.New("unreachable"))
	require.NoError(t, m.Refresh(ctx))
	assert.Equal(t, "status:offline", ev.all()[4])

	state, _ := m.NetworkState()
	assert.True(t, state.HasActiveInterface)
	assert.True(t, state.Offline)
}

func TestMonitor_InterfaceRenameIsAChange(t *testing.T) {
	host := &fakeHost{}
	host.set(eth0)
	m := NewMonitor(host.list, nil, logger.NewNop(), time.Hour, nil)
	ev := subscribe(t, m)
	ctx := context.Background()
	require.NoError(t, m.Refresh(ctx))

	host.set(wlan)
	require.NoError(t, m.Refresh(ctx))
	assert.Equal(t, []string{"iface:present"}, ev.all())
}

func TestMonitor_ListError(t *testing.T) {
	host := &fakeHost{listErr: errors.New("netlink down")}
	m := NewMonitor(host.list, nil, logger.NewNop(), time.Hour, nil)

	assert.Error(t, m.Refresh(context.Background()))
	assert.Error(t, m.Start(context.Background()))
}

func TestMonitor_Unsubscribe(t *testing.T) {
	host := &fakeHost{}
	host.set(eth0)
	m := NewMonitor(host.list, nil, logger.NewNop(), time.Hour, nil)
	ctx := context.Background()

	calls := 0
	sub, err := m.SubscribeActiveInterface(func(bool) { calls++ })
	require.NoError(t, err)
	require.NoError(t, m.Refresh(ctx))

	sub.Unsubscribe()
	host.set()
	require.NoError(t, m.Refresh(ctx))
	assert.Equal(t, 0, calls)
}

func TestMonitor_ManualTrigger(t *testing.T) {
	host := &fakeHost{}
	host.set(eth0)
	trigger := make(chan struct{}, 1)
	m := NewMonitor(host.list, nil, logger.NewNop(), time.Hour, trigger)
	ev := subscribe(t, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	host.set()
	trigger <- struct{}{}

	require.Eventually(t, func() bool {
		return len(ev.all()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	m.Stop()
	m.Stop()
}

func TestMonitor_DrivesController(t *testing.T) {
	host := &fakeHost{}
	host.set(lo)
	m := NewMonitor(host.list, nil, logger.NewNop(), time.Hour, nil)
	ctx := context.Background()
	require.NoError(t, m.Refresh(ctx))

	svc := &countingService{}
	c, err := discovery.New(alwaysEnabled{}, m, svc)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Shutdown() })
	assert.False(t, svc.isRunning(), "no interface at startup")

	host.set(lo, eth0)
	require.NoError(t, m.Refresh(ctx))
	assert.True(t, svc.isRunning())
	assert.Equal(t, "eth0", c.Status().Network.Interface)

	host.set(lo)
	require.NoError(t, m.Refresh(ctx))
	assert.False(t, svc.isRunning())
}

type alwaysEnabled struct{}

func (alwaysEnabled) GetBool(context.Context, string) (bool, error) { return true, nil }
func (alwaysEnabled) Subscribe(string, func(bool)) (discovery.Subscription, error) {
	return discovery.SubscriptionFunc(nil), nil
}

type countingService struct {
	mu      sync.Mutex
	running bool
}

func (s *countingService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	return nil
}

func (s *countingService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	return nil
}

func (s *countingService) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func TestDialProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	assert.NoError(t, DialProbe(ln.Addr().String(), time.Second)(context.Background()))

	closed, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := closed.Addr().String()
	require.NoError(t, closed.Close())
	assert.Error(t, DialProbe(addr, 200*time.Millisecond)(context.Background()))
}
