package pool

import "sync/atomic"

// RLOPool pools arbitrary per-request lifecycle objects via a
// caller-supplied factory and reset hook, using the same buffered-reserve
// forward-progress guarantee as PagePool. It is generic over the RLO's
// concrete type so internal/rlo can own the type without an import cycle.
type RLOPool struct {
	reserve chan interface{}
	newFn   func() interface{}
	resetFn func(interface{})

	hits, misses int64
}

// NewRLOPool creates a pool pre-warmed with MinIOs objects built by newFn.
// resetFn is invoked on an object before it is handed out again, so stale
// state from a prior request never leaks into the next one.
func NewRLOPool(newFn func() interface{}, resetFn func(interface{})) *RLOPool {
	p := &RLOPool{
		reserve: make(chan interface{}, MinIOs),
		newFn:   newFn,
		resetFn: resetFn,
	}
	for i := 0; i < MinIOs; i++ {
		p.reserve <- newFn()
	}
	return p
}

// Get returns an RLO from the reserve if available, otherwise a freshly
// constructed one.
func (p *RLOPool) Get() interface{} {
	select {
	case v := <-p.reserve:
		atomic.AddInt64(&p.hits, 1)
		if p.resetFn != nil {
			p.resetFn(v)
		}
		return v
	default:
		atomic.AddInt64(&p.misses, 1)
		v := p.newFn()
		if p.resetFn != nil {
			p.resetFn(v)
		}
		return v
	}
}

// Put returns an RLO to the reserve if there is room.
func (p *RLOPool) Put(v interface{}) {
	select {
	case p.reserve <- v:
	default:
	}
}

// Metrics reports cumulative hit/miss counts for observability.
func (p *RLOPool) Metrics() (hits, misses int64) {
	return atomic.LoadInt64(&p.hits), atomic.LoadInt64(&p.misses)
}
