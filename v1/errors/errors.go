// Package errors holds sentinel errors shared across latch packages.
package errors

import (
	"context"
	stdErrors "errors"

	redis "github.com/redis/go-redis/v9"
)

var (
	ErrTimeout          = stdErrors.New("timeout")
	ErrConnectionClosed = stdErrors.New("connection closed")
)

// Classify maps driver-level failures onto the shared sentinels so callers
// can branch without importing go-redis. Unknown errors pass through.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case stdErrors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case stdErrors.Is(err, redis.ErrClosed):
		return ErrConnectionClosed
	}
	var t interface{ Timeout() bool }
	if stdErrors.As(err, &t) && t.Timeout() {
		return ErrTimeout
	}
	return err
}
