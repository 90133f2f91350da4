package cipherengine

import (
	"fmt"
	"sync"
)

// AsyncAlgorithm names the cipher/mode combinations the async session
// backend accepts — limited to AES-CBC/DES-CBC/3DES-CBC.
type AsyncAlgorithm string

const (
	AlgoAESCBC  AsyncAlgorithm = "aes-cbc"
	AlgoDESCBC  AsyncAlgorithm = "des-cbc"
	Algo3DESCBC AsyncAlgorithm = "3des-cbc"
)

func (a AsyncAlgorithm) cipherName() (string, error) {
	switch a {
	case AlgoAESCBC:
		return "aes", nil
	case AlgoDESCBC:
		return "des", nil
	case Algo3DESCBC:
		return "des3", nil
	default:
		return "", fmt.Errorf("cipherengine: async backend does not support algorithm %q", a)
	}
}

// AsyncEngine models a session-based crypto offload engine: a session is
// obtained at construction, individual requests are submitted and
// completed via callback rather than returning synchronously. A global
// in-flight counter, guarded by a mutex with a condition-variable wait
// queue, bounds the number of outstanding requests the way the kernel's
// own offload submission primitive would report "busy" and require a
// retry once the in-flight count drops.
type AsyncEngine struct {
	inner    *SyncEngine // performs the actual transform, standing in for the offload hardware doing the same algorithm
	capacity int

	mu       sync.Mutex
	cond     *sync.Cond
	inFlight int
	closed   bool
	wg       sync.WaitGroup
}

// NewAsyncEngine constructs an async session backend. capacity bounds the
// number of sector conversions in flight at once; submissions beyond that
// block until an earlier one completes, mirroring a "busy, wait and
// retry" offload dispatch protocol.
func NewAsyncEngine(algo AsyncAlgorithm, key []byte, capacity int) (*AsyncEngine, error) {
	cipherName, err := algo.cipherName()
	if err != nil {
		return nil, err
	}
	inner, err := NewSyncEngine(cipherName, key, "cbc")
	if err != nil {
		return nil, err
	}
	if capacity <= 0 {
		capacity = 64
	}
	e := &AsyncEngine{inner: inner, capacity: capacity}
	e.cond = sync.NewCond(&e.mu)
	return e, nil
}

// ConvertSector submits one sector for conversion and returns immediately
// once accepted; onComplete runs from a worker goroutine once the offload
// session reports completion — never inline, and never in the caller's
// goroutine.
func (e *AsyncEngine) ConvertSector(job Job, onComplete func(error)) error {
	e.mu.Lock()
	for e.inFlight >= e.capacity && !e.closed {
		e.cond.Wait()
	}
	if e.closed {
		e.mu.Unlock()
		return fmt.Errorf("cipherengine: async engine is closed")
	}
	e.inFlight++
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		err := e.inner.convert(job)

		if onComplete != nil {
			onComplete(err)
		}

		e.mu.Lock()
		e.inFlight--
		e.cond.Broadcast()
		e.mu.Unlock()
	}()

	return nil
}

// InFlight returns the current number of outstanding conversions, for
// diagnostics and tests.
func (e *AsyncEngine) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inFlight
}

// Close waits for all outstanding conversions to complete and releases
// the session. No further ConvertSector calls are accepted afterward.
func (e *AsyncEngine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.cond.Broadcast()
	e.mu.Unlock()
	e.wg.Wait()
	return nil
}
