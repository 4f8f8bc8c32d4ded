package main

import (
	"context"

	"quell/internal/limiter/bucket"
	"quell/internal/limiter/handler"
	"quell/internal/limiter/window"
)

// windowTarget adapts the sliding-window limiter to the admin surface.
type windowTarget struct {
	*window.Limiter
}

func (t windowTarget) Snapshot(ctx context.Context, key string) (handler.Snapshot, bool) {
	snap, ok := t.Peek(ctx, key)
	if !ok {
		return handler.Snapshot{}, false
	}
	return handler.Snapshot{Count: snap.Count, Remaining: snap.Remaining}, true
}

// bucketTarget adapts the token-bucket limiter to the admin surface.
type bucketTarget struct {
	*bucket.Limiter
}

func (t bucketTarget) Snapshot(ctx context.Context, key string) (handler.Snapshot, bool) {
	snap, ok := t.Peek(ctx, key)
	if !ok {
		return handler.Snapshot{}, false
	}
	return handler.Snapshot{Tokens: snap.Tokens, Remaining: snap.Remaining}, true
}
