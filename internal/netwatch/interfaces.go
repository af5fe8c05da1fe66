package netwatch

import (
	"net"
	"sort"
)

// Interface is the subset of a network interface the monitor cares about.
type Interface struct {
	Name     string
	Index    int
	Up       bool
	Loopback bool
	HasAddr  bool // at least one global or link-local unicast address
}

// InterfaceLister enumerates the host interfaces.
type InterfaceLister func() ([]Interface, error)

// SystemInterfaces lists the host interfaces through the net package.
func SystemInterfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	out := make([]Interface, 0, len(ifaces))
	for _, ifc := range ifaces {
		item := Interface{
			Name:     ifc.Name,
			Index:    ifc.Index,
			Up:       ifc.Flags&net.FlagUp != 0,
			Loopback: ifc.Flags&net.FlagLoopback != 0,
		}
		if addrs, err := ifc.Addrs(); err == nil {
			item.HasAddr = hasUnicast(addrs)
		}
		out = append(out, item)
	}
	return out, nil
}

func hasUnicast(addrs []net.Addr) bool {
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip != nil && (ip.IsGlobalUnicast() || ip.IsLinkLocalUnicast()) {
			return true
		}
	}
	return false
}

// ActiveInterface picks the interface considered primary: the up, non-loopback
// interface with a unicast address and the lowest index. ok is false when
// none qualifies.
func ActiveInterface(ifaces []Interface) (Interface, bool) {
	candidates := make([]Interface, 0, len(ifaces))
	for _, ifc := range ifaces {
		if ifc.Up && !ifc.Loopback && ifc.HasAddr {
			candidates = append(candidates, ifc)
		}
	}
	if len(candidates) == 0 {
		return Interface{}, false
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Index < candidates[j].Index })
	return candidates[0], true
}
