// Package pool implements the data path's two bounded reserves: a pool
// of per-request lifecycle objects (RLOs) and a pool of data pages used
// by write cloning. Both guarantee forward progress under
// memory pressure by pre-warming a buffered reserve at construction: a
// reserve draw never blocks, and exhausting the reserve falls back to a
// fresh allocation rather than waiting on another pending operation.
package pool

import (
	"sync/atomic"

	"github.com/kenneth/blockcrypt/internal/bio"
)

// MinIOs is the minimum number of RLOs pre-warmed into the RLO pool.
const MinIOs = 256

// MinPoolPages is the minimum number of sector pages pre-warmed into the
// page pool.
const MinPoolPages = 32

// MinBioPages is the number of pages per write clone that may block
// (conceptually — see AllocClonePages) waiting on the reserve; beyond
// that, allocation is strictly non-blocking so a short clone is preferred
// over sleeping.
const MinBioPages = 8

// PagePool hands out SectorSize-aligned pages for write-clone allocation.
// Its reserve is a buffered channel sized to MinPoolPages — a Get draw
// never blocks: it drains the reserve first and falls back to make()
// once the reserve is empty, so a draw is lock-free with an internal
// reservation backing it.
type PagePool struct {
	pageSize int
	reserve  chan []byte

	hits, misses int64
}

// NewPagePool creates a page pool that hands out pages of pageSize bytes
// (normally bio.SectorSize, or a multiple of it for multi-sector clones),
// pre-warmed with MinPoolPages reserve pages.
func NewPagePool(pageSize int) *PagePool {
	p := &PagePool{pageSize: pageSize, reserve: make(chan []byte, MinPoolPages)}
	for i := 0; i < MinPoolPages; i++ {
		p.reserve <- make([]byte, pageSize)
	}
	return p
}

// Get returns a zeroed page of pageSize bytes, from the reserve if
// available, otherwise freshly allocated.
func (p *PagePool) Get() []byte {
	select {
	case buf := <-p.reserve:
		atomic.AddInt64(&p.hits, 1)
		for i := range buf {
			buf[i] = 0
		}
		return buf
	default:
		atomic.AddInt64(&p.misses, 1)
		return make([]byte, p.pageSize)
	}
}

// Put returns a page to the pool's reserve after use, if there is room;
// otherwise it is left for the garbage collector. Callers must not retain
// a reference to buf afterward.
func (p *PagePool) Put(buf []byte) {
	if cap(buf) != p.pageSize {
		return
	}
	select {
	case p.reserve <- buf[:p.pageSize]:
	default:
	}
}

// Metrics reports cumulative hit/miss counts for observability.
func (p *PagePool) Metrics() (hits, misses int64) {
	return atomic.LoadInt64(&p.hits), atomic.LoadInt64(&p.misses)
}

// AllocClonePages allocates up to maxPages pages for a write clone. The
// first MinBioPages pages may draw from the reserve or allocate fresh
// (both cheap, forward-progress-guaranteed operations); beyond that,
// pages are taken only if the reserve still has them immediately
// available — never via a fresh allocation — so a short clone is
// returned rather than growing the clone at the cost of more memory
// pressure.
func (p *PagePool) AllocClonePages(maxPages int) [][]byte {
	pages := make([][]byte, 0, maxPages)
	for i := 0; i < maxPages; i++ {
		if i < MinBioPages {
			pages = append(pages, p.Get())
			continue
		}
		select {
		case buf := <-p.reserve:
			atomic.AddInt64(&p.hits, 1)
			for j := range buf {
				buf[j] = 0
			}
			pages = append(pages, buf)
		default:
			return pages
		}
	}
	return pages
}

// BioFromPages is a convenience constructor bridging PagePool output into
// a *bio.Bio, used by the write path.
func BioFromPages(sector uint64, pages [][]byte) *bio.Bio {
	return bio.New(sector, bio.Write, pages)
}
