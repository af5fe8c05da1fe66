package utils

import (
	"io"

	"github.com/MrSnakeDoc/beacon/internal/logger"
)

// Close closes c and ignores any error.
// Use for best-effort cleanup in defer where error handling is not critical.
func Close(c io.Closer) {
	_ = c.Close()
}

// MustClose closes c and logs any error under name.
// Use where we want to track close errors without failing.
func MustClose(c io.Closer, name string, log logger.Logger) {
	if err := c.Close(); err != nil {
		log.Warn("failed to close", logger.String("resource", name), logger.Error(err))
		return
	}
	log.Debug("closed", logger.String("resource", name))
}
