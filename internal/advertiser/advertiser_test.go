package advertiser

import (
	"errors"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/beacon/internal/logger"
)

type fakeResponder struct {
	mu       sync.Mutex
	shutdown int
	err      error
}

func (r *fakeResponder) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shutdown++
	return r.err
}

type fakeNet struct {
	mu         sync.Mutex
	ips        []net.IP
	addrErr    error
	serveErr   error
	zones      []*mdns.MDNSService
	responders []*fakeResponder
}

func (f *fakeNet) install(a *Advertiser) {
	a.addrs = func(string) ([]net.IP, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.ips, f.addrErr
	}
	a.serve = func(zone mdns.Zone, _ *net.Interface) (responder, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.serveErr != nil {
			return nil, f.serveErr
		}
		f.zones = append(f.zones, zone.(*mdns.MDNSService))
		r := &fakeResponder{}
		f.responders = append(f.responders, r)
		return r, nil
	}
}

func newTestAdvertiser(t *testing.T) (*Advertiser, *fakeNet) {
	t.Helper()
	adv := New(Config{
		Instance: "node-1",
		Host:     "node-1.local",
		Port:     8080,
		TXT:      []string{"version=test"},
	}, logger.NewNop())
	fn := &fakeNet{ips: []net.IP{net.ParseIP("192.168.1.20")}}
	fn.install(adv)
	return adv, fn
}

func TestAdvertiser_StartStopIdempotent(t *testing.T) {
	adv, fn := newTestAdvertiser(t)

	assert.False(t, adv.Running())
	require.NoError(t, adv.Stop(), "stop on a stopped advertiser is a no-op")

	require.NoError(t, adv.Start())
	require.NoError(t, adv.Start())
	assert.True(t, adv.Running())
	assert.Equal(t, 1, adv.Registrations())
	require.Len(t, fn.zones, 1)

	zone := fn.zones[0]
	assert.Equal(t, "node-1", zone.Instance)
	assert.Equal(t, DefaultService, zone.Service)
	assert.Equal(t, DefaultDomain, zone.Domain)
	assert.Equal(t, "node-1.local.", zone.HostName)
	assert.Equal(t, 8080, zone.Port)
	assert.Equal(t, []string{"version=test"}, zone.TXT)

	require.NoError(t, adv.Stop())
	require.NoError(t, adv.Stop())
	assert.False(t, adv.Running())
	assert.Equal(t, 1, fn.responders[0].shutdown)
}

func TestAdvertiser_RestartResolvesAddresses(t *testing.T) {
	adv, fn := newTestAdvertiser(t)

	require.NoError(t, adv.Start())
	require.NoError(t, adv.Stop())

	fn.mu.Lock()
	fn.ips = []net.IP{net.ParseIP("10.0.0.7")}
	fn.mu.Unlock()

	require.NoError(t, adv.Start())
	assert.Equal(t, 2, adv.Registrations())
	require.Len(t, fn.zones, 2)
	assert.True(t, fn.zones[1].IPs[0].Equal(net.ParseIP("10.0.0.7")))
}

func TestAdvertiser_StartFailures(t *testing.T) {
	t.Run("no address", func(t *testing.T) {
		adv, fn := newTestAdvertiser(t)
		fn.ips = nil
		assert.Error(t, adv.Start())
		assert.False(t, adv.Running())
	})

	t.Run("address lookup error", func(t *testing.T) {
		adv, fn := newTestAdvertiser(t)
		fn.addrErr = errors.New("netlink down")
		assert.Error(t, adv.Start())
		assert.False(t, adv.Running())
	})

	t.Run("responder error", func(t *testing.T) {
		adv, fn := newTestAdvertiser(t)
		fn.serveErr = errors.New("no multicast listeners")
		assert.Error(t, adv.Start())
		assert.False(t, adv.Running())

		fn.serveErr = nil
		require.NoError(t, adv.Start(), "a later start retries")
		assert.True(t, adv.Running())
	})

	t.Run("invalid port", func(t *testing.T) {
		adv, _ := newTestAdvertiser(t)
		adv.cfg.Port = 0
		assert.Error(t, adv.Start())
	})

	t.Run("unknown interface", func(t *testing.T) {
		adv, _ := newTestAdvertiser(t)
		adv.cfg.Iface = "does-not-exist0"
		assert.Error(t, adv.Start())
		assert.False(t, adv.Running())
	})
}

func TestAdvertiser_StopReportsShutdownError(t *testing.T) {
	adv, fn := newTestAdvertiser(t)
	require.NoError(t, adv.Start())
	fn.responders[0].err = errors.New("close failed")

	assert.Error(t, adv.Stop())
	assert.False(t, adv.Running(), "a failed shutdown still releases the registration")
	require.NoError(t, adv.Stop())
}

func TestNew_Defaults(t *testing.T) {
	adv := New(Config{Port: 1}, nil)
	assert.Equal(t, DefaultService, adv.cfg.Service)
	assert.Equal(t, DefaultDomain, adv.cfg.Domain)
	assert.NotEmpty(t, adv.cfg.Instance)
	assert.True(t, len(adv.cfg.Host) > 1 && adv.cfg.Host[len(adv.cfg.Host)-1] == '.')
}

func TestHostAddrs(t *testing.T) {
	ips, err := hostAddrs("")
	require.NoError(t, err)
	for _, ip := range ips {
		assert.False(t, ip.IsLoopback())
		assert.False(t, ip.IsLinkLocalUnicast())
	}

	_, err = hostAddrs("does-not-exist0")
	assert.Error(t, err)
}

func TestAdvertiser_ConcurrentToggles(t *testing.T) {
	adv, _ := newTestAdvertiser(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if (i+j)%2 == 0 {
					_ = adv.Start()
				} else {
					_ = adv.Stop()
				}
			}
		}(i)
	}
	wg.Wait()

	require.NoError(t, adv.Stop())
	assert.False(t, adv.Running())
}

// Needs a multicast-capable network, enabled with BEACON_TEST_MDNS=1.
func TestAdvertiser_ResolvableOverMDNS(t *testing.T) {
	if os.Getenv("BEACON_TEST_MDNS") == "" {
		t.Skip("BEACON_TEST_MDNS not set")
	}

	adv := New(Config{Instance: "beacon-test", Port: 18080, TXT: []string{"version=test"}}, logger.NewNop())
	require.NoError(t, adv.Start())
	t.Cleanup(func() { _ = adv.Stop() })

	entries := make(chan *mdns.ServiceEntry, 16)
	params := mdns.DefaultParams(DefaultService)
	params.Entries = entries
	params.Timeout = 2 * time.Second
	params.DisableIPv6 = true
	require.NoError(t, mdns.Query(params))
	close(entries)

	found := false
	for e := range entries {
		if e.Port == 18080 {
			found = true
		}
	}
	assert.True(t, found)
}
