package mapper

import (
	"context"
	"sync"
	"time"

	"github.com/kenneth/blockcrypt/internal/bio"
	"github.com/kenneth/blockcrypt/internal/convert"
	"github.com/kenneth/blockcrypt/internal/pool"
	"github.com/kenneth/blockcrypt/internal/rlo"
)

// write implements the write path: the base bio is walked
// in clone-sized chunks, each chunk's destination pages coming from the
// page pool's forward-progress-guaranteed allocator. When the pool
// cannot satisfy a full clone (its reserve is exhausted after the first
// MinBioPages pages), a shorter
// clone is submitted instead of blocking, and the loop continues
// allocating the remainder on the next pass — a short write is always
// preferred over sleeping on memory pressure.
func (m *Mapper) write(ctx context.Context, base *bio.Bio, done func(error)) error {
	total := base.Sectors()
	if total == 0 {
		return ErrInvalid
	}

	rl := m.opts.RLOPool.Get().(*rlo.RLO)
	rl.Begin(base, nil, total, func(r *rlo.RLO, err error) {
		m.opts.RLOPool.Put(r)
		if done != nil {
			done(err)
		}
	})

	remaining := base
	for remaining != nil {
		pages := m.opts.PagePool.AllocClonePages(remaining.Sectors())
		if len(pages) == 0 {
			rl.ForceComplete(ErrNoMemory)
			return ErrNoMemory
		}

		var chunk *bio.Bio
		if len(pages) >= remaining.Sectors() {
			chunk = remaining
			remaining = nil
		} else {
			chunk, remaining = remaining.Split(len(pages) * bio.SectorSize)
		}

		clone := pool.BioFromPages(chunk.Sector+m.opts.StartSector, pages[:chunk.Sectors()])
		m.dispatchWriteChunk(chunk, clone, rl)
	}
	return nil
}

// dispatchWriteChunk posts one clone's worth of conversion-then-submit
// work to the crypto worker queue, so it never runs inline in a device
// completion or caller context. It joins every sector's conversion
// completion locally before submitting the clone for write, and (for
// the offloaded/async cipher backend) enforces a watchdog: a stuck
// offload session is treated as fatal to the whole request, via
// rl.ForceComplete, rather than awaited indefinitely or silently
// abandoned with the request left pending.
func (m *Mapper) dispatchWriteChunk(chunk, clone *bio.Bio, rl *rlo.RLO) {
	m.opts.Queue.Post(func() {
		convCtx := convert.New(chunk, clone, m.opts.IVGen, m.opts.Engine, m.opts.IVOffset)
		n := chunk.Sectors()

		var mu sync.Mutex
		pendingSectors := n
		var latched error
		doneCh := make(chan struct{})
		var closeOnce sync.Once
		finish := func() { closeOnce.Do(func() { close(doneCh) }) }

		freeClone := func() {
			for _, seg := range clone.Segments {
				m.opts.PagePool.Put(seg.Page)
			}
		}

		dispatchErr := convCtx.DispatchAsync(func(sector uint64, serr error) {
			mu.Lock()
			if serr != nil && latched == nil {
				latched = serr
			}
			pendingSectors--
			left := pendingSectors
			mu.Unlock()

			if m.opts.OnSectorDone != nil {
				m.opts.OnSectorDone(bio.Write, sector, serr)
			}
			if left <= 0 {
				finish()
			}
		})
		if dispatchErr != nil {
			freeClone()
			rl.DecPendingN(n, dispatchErr)
			return
		}

		if m.opts.WriteTimeout > 0 {
			timer := time.AfterFunc(m.opts.WriteTimeout, func() {
				rl.ForceComplete(ErrIO)
				finish()
			})
			<-doneCh
			timer.Stop()
		} else {
			<-doneCh
		}

		mu.Lock()
		convErr := latched
		mu.Unlock()
		if convErr != nil {
			freeClone()
			rl.DecPendingN(n, convErr)
			return
		}
		if rl.Err() != nil {
			// Another chunk (or the watchdog) already forced the request
			// to a terminal error; don't write stale ciphertext for it.
			freeClone()
			return
		}

		if err := m.opts.Device.SubmitWrite(clone, func(err error) {
			freeClone()
			rl.DecPendingN(n, err)
		}); err != nil {
			freeClone()
			rl.DecPendingN(n, err)
		}
	})
}
