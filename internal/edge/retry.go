package edge

import (
	"context"
	"errors"

	"github.com/ZephyrCloudIO/zephyr-packages-sub000/internal/ze"
)

// isTransient reports whether err is worth retrying: connection
// failures, 429 and 5xx. Other 4xx statuses and malformed responses are
// permanent.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var terr *ze.TransportError
	if errors.As(err, &terr) {
		if terr.Status == 429 {
			return true
		}
		return terr.Status >= 500
	}

	var perr *ze.ProtocolError
	if errors.As(err, &perr) {
		return false
	}

	// Connection refused, reset, EOF.
	return true
}
