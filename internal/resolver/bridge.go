package resolver

import (
	"context"

	"go.uber.org/zap"
)

// Bridge is the entry point worker goroutines use to run a registered
// resolver on the script thread and wait for its answer.
type Bridge struct {
	registry *Registry
	logger   *zap.Logger
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithLogger sets the logger for resolve failures. Failures are absorbed, so
// this is the only place they surface.
func WithLogger(l *zap.Logger) BridgeOption {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

func NewBridge(r *Registry, opts ...BridgeOption) *Bridge {
	b := &Bridge{registry: r, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Registry returns the registry the bridge resolves against.
func (b *Bridge) Registry() *Registry {
	return b.registry
}

// Resolve runs the resolver bound to id for req and blocks until the script
// thread has produced a result. It may be called from any goroutine except
// the one pumping the binding's loop, which would deadlock.
//
// A nil return means "not handled": no request, no id, no queued binding, or
// the script loop refused the work. Resolve never returns an error and never
// times out.
func (b *Bridge) Resolve(req *Request, id CallbackID) *Result {
	if req == nil || id == 0 {
		return nil
	}

	qb, ok := b.registry.LookupQueued(id)
	if !ok {
		if _, ok := b.registry.LookupDirect(id); ok {
			b.logger.Debug("resolve skipped", zap.Stringer("callback_id", id), zap.Error(ErrDirectUnsupported))
		}
		return nil
	}

	// Hold a reference for the whole round trip so a concurrent session
	// teardown cannot release the binding between lookup and submit.
	if err := qb.Acquire(); err != nil {
		b.logger.Debug("resolve skipped", zap.Stringer("callback_id", id), zap.Error(err))
		return nil
	}
	defer qb.Release()

	h := newHandoff(*req)
	err := qb.Submit(func(ctx context.Context) {
		h.complete(invoke(ctx, qb.fn, h.req.Path, b.logger))
	})
	if err != nil {
		b.logger.Debug("resolve not scheduled",
			zap.Stringer("callback_id", id),
			zap.String("path", req.Path),
			zap.Error(err))
		return nil
	}
	return h.wait()
}
