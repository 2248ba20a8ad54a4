package client

import (
	"fmt"
	"github.com/ValentinKolb/dStream/rpc/protocol"
	"github.com/puzpuzpuz/xsync/v3"
	"sync/atomic"
)

// maxRegisterAttempts bounds the search for a free correlation id
const maxRegisterAttempts = 1024

// responseResult contains the result of a request
type responseResult struct {
	resp protocol.Response
	err  error
}

// correlationRegistry maps outstanding correlation ids to the callers waiting for them.
// Every waiter is resolved exactly once: by its response, by cancelAll or by being removed.
type correlationRegistry struct {
	nextID  atomic.Uint32
	pending *xsync.MapOf[uint32, chan responseResult]
	closed  atomic.Bool
	reason  atomic.Value // error passed to cancelAll
}

func newCorrelationRegistry() *correlationRegistry {
	return &correlationRegistry{
		pending: xsync.NewMapOf[uint32, chan responseResult](),
	}
}

// register reserves a correlation id that is not outstanding and returns the channel
// its result will be delivered on
func (r *correlationRegistry) register() (uint32, <-chan responseResult, error) {
	ch := make(chan responseResult, 1)

	for i := 0; i < maxRegisterAttempts; i++ {
		id := r.nextID.Add(1)
		if id == 0 {
			continue // 0 marks requests without correlation
		}
		if _, loaded := r.pending.LoadOrStore(id, ch); loaded {
			continue // still outstanding after wrap around
		}

		// cancelAll may have run between the closed check of the caller and the store
		if r.closed.Load() {
			r.pending.Delete(id)
			return 0, nil, r.closeReason()
		}
		return id, ch, nil
	}
	return 0, nil, fmt.Errorf("%w: %d correlation ids outstanding", ErrIdsExhausted, r.pending.Size())
}

// complete resolves the waiter of the response's correlation id.
// It returns false if no caller is waiting for the id.
func (r *correlationRegistry) complete(resp protocol.Response) bool {
	ch, ok := r.pending.LoadAndDelete(resp.GetCorrelationID())
	if !ok {
		return false
	}
	ch <- responseResult{resp: resp}
	return true
}

// remove drops a waiter without resolving it (used after timeouts and failed writes)
func (r *correlationRegistry) remove(id uint32) {
	r.pending.Delete(id)
}

// cancelAll resolves every waiter with err and rejects future registrations
func (r *correlationRegistry) cancelAll(err error) {
	r.reason.Store(err)
	r.closed.Store(true)

	r.pending.Range(func(id uint32, ch chan responseResult) bool {
		if _, ok := r.pending.LoadAndDelete(id); ok {
			ch <- responseResult{err: err}
		}
		return true
	})
}

// outstanding returns the number of unresolved waiters
func (r *correlationRegistry) outstanding() int {
	return r.pending.Size()
}

func (r *correlationRegistry) closeReason() error {
	if err, ok := r.reason.Load().(error); ok {
		return err
	}
	return ErrConnectionClosed
}
