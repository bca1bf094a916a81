package manager

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// DoMulti acquires every key, runs fn while holding all of them and releases
// in reverse order on every exit path. Keys are deduplicated and acquired in
// sorted order no matter how the caller listed them, so two operations that
// need the same set can never deadlock on each other. If any acquisition
// fails, everything already held is released before returning: there is no
// partial-lock state.
func (m *Manager) DoMulti(ctx context.Context, keys []string, ttl time.Duration, maxRetries int, fn func(context.Context) error) (ran bool, err error) {
	ks := normalizeKeys(keys)
	if len(ks) == 0 {
		return true, fn(ctx)
	}
	ctx, span := tracer.Start(ctx, "manager.DoMulti")
	span.SetAttributes(attribute.StringSlice("lock.keys", ks))
	defer span.End()

	tokens := make([]string, 0, len(ks))
	defer func() {
		// Releases must survive caller cancellation, same as in Do.
		rctx := context.WithoutCancel(ctx)
		for i := len(tokens) - 1; i >= 0; i-- {
			if _, rerr := m.locker.Release(rctx, ks[i], tokens[i]); rerr != nil {
				m.logger.Warn("lock release failed, ttl will reclaim it", zap.String("key", ks[i]), zap.Error(rerr))
			}
		}
	}()
	for _, k := range ks {
		token, aerr := m.locker.Acquire(ctx, k, ttl, maxRetries)
		if token == "" {
			return false, aerr
		}
		tokens = append(tokens, token)
	}
	return true, fn(ctx)
}

func normalizeKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
