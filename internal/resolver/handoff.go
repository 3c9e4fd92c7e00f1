package resolver

import "sync"

// handoff carries one request from a worker goroutine to the script thread
// and one result back. It is created per call, completed exactly once by the
// script-thread task and discarded by the waiter.
type handoff struct {
	req Request

	mu     sync.Mutex
	cond   *sync.Cond
	ready  bool
	result *Result
}

func newHandoff(req Request) *handoff {
	h := &handoff{req: req}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// complete publishes the result and wakes the waiter.
func (h *handoff) complete(r *Result) {
	h.mu.Lock()
	h.result = r
	h.ready = true
	h.mu.Unlock()
	h.cond.Signal()
}

// wait blocks until complete has run and hands the result to the caller.
// There is no timeout: a resolver that never returns blocks the caller for
// good.
func (h *handoff) wait() *Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	for !h.ready {
		h.cond.Wait()
	}
	r := h.result
	h.result = nil
	return r
}
