package errors

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/redis/go-redis/v9"
)

// MapRedisError maps go-redis failures to AppError instances:
// - context timeouts/cancellations → Timeout/Canceled
// - closed clients, dial and I/O failures → Unavailable
// - redis.Nil → NotFound
// - server replies (READONLY, CLUSTERDOWN, ...) → Unavailable
//
// Anything else is returned unchanged.
func MapRedisError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(err, ErrCodeTimeout, "Storage request timed out.")
	case errors.Is(err, context.Canceled):
		return Wrap(err, ErrCodeCanceled, "Storage request was canceled.")
	case errors.Is(err, redis.Nil):
		return Wrap(err, ErrCodeNotFound, "Entry not found")
	case errors.Is(err, redis.ErrClosed),
		errors.Is(err, io.EOF),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET):
		return Wrap(err, ErrCodeUnavailable, "Session storage is unavailable.")
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Wrap(err, ErrCodeTimeout, "Storage request timed out.")
		}
		return Wrap(err, ErrCodeUnavailable, "Session storage is unavailable.")
	}

	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		return Wrap(err, ErrCodeUnavailable, "Session storage is unavailable.")
	}

	return err
}
