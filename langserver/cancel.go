package langserver

import (
	"context"
	"sync"

	"github.com/sourcegraph/jsonrpc2"
)

// cancel tracks in-flight request contexts by jsonrpc2.ID so that a
// "$/cancelRequest" notification for an ID still being processed cancels
// its context.
type cancel struct {
	mu      sync.Mutex
	cancels map[jsonrpc2.ID]context.CancelFunc
}

// NewCancel returns an empty cancel tracker.
func NewCancel() *cancel {
	return &cancel{cancels: map[jsonrpc2.ID]context.CancelFunc{}}
}

// WithCancel derives a cancellable context for id from ctx and registers it.
// The returned CancelFunc must always be called by the caller (typically via
// defer) to release the registration, even if the request was separately
// cancelled via Cancel.
func (c *cancel) WithCancel(ctx context.Context, id jsonrpc2.ID) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.cancels[id] = cancel
	c.mu.Unlock()

	return ctx, func() {
		c.mu.Lock()
		delete(c.cancels, id)
		c.mu.Unlock()
		cancel()
	}
}

// Cancel cancels the context registered for id, if any. Calling it for an
// unknown or already-finished id is a no-op.
func (c *cancel) Cancel(id jsonrpc2.ID) {
	c.mu.Lock()
	cancel, ok := c.cancels[id]
	c.mu.Unlock()
	if ok {
		cancel()
	}
}
