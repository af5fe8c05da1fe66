package advertiser

import (
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/mdns"

	"github.com/MrSnakeDoc/beacon/internal/logger"
)

const (
	// DefaultService is the DNS-SD service type registered while running.
	DefaultService = "_beacon._tcp"
	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
)

// Config describes the DNS-SD registration.
type Config struct {
	Instance string   // instance name (defaults to hostname)
	Service  string   // service type, ex: "_beacon._tcp"
	Domain   string   // ex: "local."
	Host     string   // host FQDN answered in SRV records (defaults to hostname + ".")
	Port     int      // port of the advertised service
	TXT      []string // TXT record entries, ex: "version=v1.2.0"
	Iface    string   // optional interface to answer on, all multicast interfaces when empty
}

// responder is the running mDNS server.
type responder interface {
	Shutdown() error
}

// Advertiser registers the service over mDNS/DNS-SD while running.
// Start and Stop are idempotent and safe for concurrent use.
type Advertiser struct {
	cfg    Config
	logger logger.Logger

	addrs func(iface string) ([]net.IP, error)
	serve func(zone mdns.Zone, iface *net.Interface) (responder, error)

	mu            sync.Mutex
	server        responder
	running       bool
	registrations int
}

// New creates a stopped advertiser.
func New(cfg Config, log logger.Logger) *Advertiser {
	if cfg.Service == "" {
		cfg.Service = DefaultService
	}
	if cfg.Domain == "" {
		cfg.Domain = DefaultDomain
	}
	if cfg.Instance == "" {
		cfg.Instance = hostname()
	}
	if cfg.Host == "" {
		cfg.Host = hostname()
	}
	if !strings.HasSuffix(cfg.Host, ".") {
		cfg.Host += "."
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Advertiser{
		cfg:    cfg,
		logger: log.With(logger.String("component", "advertiser")),
		addrs:  hostAddrs,
		serve:  serveMDNS,
	}
}

// Start registers the service. Addresses are resolved on every start so a
// restart after a network change announces the current ones. No-op when
// already running.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return nil
	}

	ips, err := a.addrs(a.cfg.Iface)
	if err != nil {
		return fmt.Errorf("failed to resolve addresses to announce: %w", err)
	}
	if len(ips) == 0 {
		return fmt.Errorf("no address to announce")
	}

	zone, err := mdns.NewMDNSService(a.cfg.Instance, a.cfg.Service, a.cfg.Domain, a.cfg.Host, a.cfg.Port, ips, a.cfg.TXT)
	if err != nil {
		return fmt.Errorf("invalid mdns service %s: %w", a.cfg.Service, err)
	}

	var iface *net.Interface
	if a.cfg.Iface != "" {
		if iface, err = net.InterfaceByName(a.cfg.Iface); err != nil {
			return fmt.Errorf("unknown interface %s: %w", a.cfg.Iface, err)
		}
	}

	srv, err := a.serve(zone, iface)
	if err != nil {
		return fmt.Errorf("failed to start mdns responder: %w", err)
	}

	a.server = srv
	a.running = true
	a.registrations++

	a.logger.Info("discoverable service started",
		logger.String("instance", a.cfg.Instance),
		logger.String("service", a.cfg.Service+"."+a.cfg.Domain),
		logger.Int("port", a.cfg.Port),
		logger.Int("addresses", len(ips)))
	return nil
}

// Stop withdraws the registration and releases the multicast sockets. No-op
// when already stopped.
func (a *Advertiser) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return nil
	}

	err := a.server.Shutdown()
	a.server = nil
	a.running = false

	a.logger.Info("discoverable service stopped")
	if err != nil {
		return fmt.Errorf("failed to stop mdns responder: %w", err)
	}
	return nil
}

// Running reports whether the service is registered.
func (a *Advertiser) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Registrations returns the number of successful starts since creation.
func (a *Advertiser) Registrations() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.registrations
}

func serveMDNS(zone mdns.Zone, iface *net.Interface) (responder, error) {
	return mdns.NewServer(&mdns.Config{Zone: zone, Iface: iface})
}

// hostAddrs returns the non-loopback unicast addresses of iface, or of every
// interface when iface is empty.
func hostAddrs(iface string) ([]net.IP, error) {
	var (
		addrs []net.Addr
		err   error
	)
	if iface == "" {
		addrs, err = net.InterfaceAddrs()
	} else {
		var ifi *net.Interface
		if ifi, err = net.InterfaceByName(iface); err == nil {
			addrs, err = ifi.Addrs()
		}
	}
	if err != nil {
		return nil, err
	}

	var ips []net.IP
	for _, addr := range addrs {
		var ip net.IP
		switch v := addr.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsMulticast() {
			continue
		}
		ips = append(ips, ip)
	}
	return ips, nil
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "beacon"
	}
	return name
}
