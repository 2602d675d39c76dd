package services

import "context"

// writeSideEffects is a bitmask of post-write steps a caller may suppress.
type writeSideEffects uint8

const (
	skipCacheFlush writeSideEffects = 1 << iota
	skipOutbox
)

type sideEffectsKey struct{}

func withSkipped(ctx context.Context, s writeSideEffects) context.Context {
	return context.WithValue(ctx, sideEffectsKey{}, skipped(ctx)|s)
}

func skipped(ctx context.Context) writeSideEffects {
	s, _ := ctx.Value(sideEffectsKey{}).(writeSideEffects)
	return s
}

// WithSkipCacheInvalidation suppresses the synchronous cache flush after a write, e.g. during bulk imports.
func WithSkipCacheInvalidation(ctx context.Context) context.Context {
	return withSkipped(ctx, skipCacheFlush)
}

// WithSkipOutboxEnqueue writes without recording a plan event.
func WithSkipOutboxEnqueue(ctx context.Context) context.Context {
	return withSkipped(ctx, skipOutbox)
}
