// Package rlo implements the request lifecycle object: the per-request
// bookkeeping that tracks how many sectors are still in flight for a
// single read or write, latches the first error seen across all of
// them, and runs a post-process step exactly once when the last sector
// completes.
package rlo

import (
	"sync/atomic"

	"github.com/kenneth/blockcrypt/internal/bio"
)

// PostProcessFunc runs once, after the last sector of the request has
// completed, with the request's latched error (nil if every sector
// succeeded). It must not block the caller of DecPending for long, since
// DecPending may be invoked from a lower-device completion context.
type PostProcessFunc func(rl *RLO, err error)

// RLO tracks the lifecycle of one read or write request as it is split
// sector-by-sector across the cipher engine and/or the backing device.
type RLO struct {
	Base   *bio.Bio // the original, unencrypted bio from the upper layer
	Clone  *bio.Bio // the bio submitted to/fetched from the backing device
	Sector uint64

	pending  int64 // sectors still in flight
	firstErr atomic.Value
	post     PostProcessFunc
	posted   int32 // 0/1 guard so PostProcess runs exactly once
}

// errBox lets atomic.Value hold an `error` (a nilable interface) safely —
// atomic.Value panics if successive Store calls use inconsistent
// concrete types, so every store wraps the error in the same struct type.
type errBox struct{ err error }

// New creates an RLO for a request expected to complete nSectors
// individual sector conversions before post is invoked. post may be nil
// if the caller has no post-processing work to run.
func New(base, clone *bio.Bio, nSectors int, post PostProcessFunc) *RLO {
	r := &RLO{
		Base:    base,
		Clone:   clone,
		Sector:  base.Sector,
		pending: int64(nSectors),
		post:    post,
	}
	// Seed the latch so LatchError's CompareAndSwap has a zero box to
	// swap against; CAS on a never-stored atomic.Value cannot succeed
	// with a non-nil old value.
	r.firstErr.Store(errBox{})
	return r
}

// Reset restores an RLO drawn from a pool to a fresh state for reuse. It
// is the resetFn passed to pool.NewRLOPool.
func (r *RLO) Reset() {
	r.Base = nil
	r.Clone = nil
	r.Sector = 0
	atomic.StoreInt64(&r.pending, 0)
	r.firstErr.Store(errBox{})
	r.post = nil
	atomic.StoreInt32(&r.posted, 0)
}

// Begin (re)initializes a pooled RLO for a new request. Pair with Reset
// when drawing from an RLOPool.
func (r *RLO) Begin(base, clone *bio.Bio, nSectors int, post PostProcessFunc) {
	r.Base = base
	r.Clone = clone
	r.Sector = base.Sector
	atomic.StoreInt64(&r.pending, int64(nSectors))
	r.firstErr.Store(errBox{})
	atomic.StoreInt32(&r.posted, 0)
	r.post = post
}

// LatchError records err as the request's terminal error if no error has
// been recorded yet. The first error observed across every sector wins;
// later errors are dropped once one is latched.
func (r *RLO) LatchError(err error) {
	if err == nil {
		return
	}
	r.firstErr.CompareAndSwap(errBox{}, errBox{err: err})
}

// Err returns the request's latched error, or nil if every sector
// completed (or none has failed yet).
func (r *RLO) Err() error {
	v, _ := r.firstErr.Load().(errBox)
	return v.err
}

// DecPending records that one sector's conversion (and, for the write
// path, its submission to the backing device) has completed, optionally
// latching err. When the last sector completes, PostProcess runs exactly
// once, synchronously, in the caller's goroutine — callers invoked from
// a device-completion or cipher-engine callback context must therefore
// not do blocking work in post; post should hand off to a worker.Queue
// if it needs to.
func (r *RLO) DecPending(err error) {
	r.LatchError(err)
	if atomic.AddInt64(&r.pending, -1) == 0 {
		r.runPost()
	}
}

// DecPendingN is DecPending for n sectors that completed together as a
// single unit (e.g. a write clone chunk submitted to the backing device
// as one I/O covering several sectors' worth of already-converted
// ciphertext).
func (r *RLO) DecPendingN(n int, err error) {
	r.LatchError(err)
	if atomic.AddInt64(&r.pending, -int64(n)) <= 0 {
		r.runPost()
	}
}

// Pending reports the number of sectors still outstanding.
func (r *RLO) Pending() int64 {
	return atomic.LoadInt64(&r.pending)
}

// ForceComplete latches err and drives the pending counter to zero
// immediately, running post if it has not already run. It is used for
// conditions that abort the remainder of a request outright — notably
// the async cipher-engine write watchdog, where a stuck offload session
// is treated as fatal rather than awaited indefinitely.
func (r *RLO) ForceComplete(err error) {
	r.LatchError(err)
	atomic.StoreInt64(&r.pending, 0)
	r.runPost()
}

func (r *RLO) runPost() {
	if !atomic.CompareAndSwapInt32(&r.posted, 0, 1) {
		return
	}
	if r.post != nil {
		r.post(r, r.Err())
	}
}
