package netwatch

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/MrSnakeDoc/beacon/internal/utils"
)

// Prober reports whether the host can reach the outside world.
type Prober func(ctx context.Context) error

// DialProbe checks connectivity by opening a TCP connection to addr
// ("host:port") within timeout.
func DialProbe(addr string, timeout time.Duration) Prober {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		dialer := &net.Dialer{
			Timeout:   timeout,
			KeepAlive: -1,
		}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("failed to reach %s: %w", addr, err)
		}
		utils.Close(conn)
		return nil
	}
}
