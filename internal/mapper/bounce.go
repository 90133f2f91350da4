package mapper

import (
	"github.com/kenneth/blockcrypt/internal/bio"
	"github.com/kenneth/blockcrypt/internal/pool"
)

// bounceShim is an optional compatibility shim: a
// parallel bio built over freshly allocated pages, installed before
// posting to the worker queue when the cipher backend cannot address the
// caller's own pages directly. Historically this covers hardware offload
// that cannot DMA high memory; Go's unified virtual memory model means
// every page here is equally addressable, so by default no cipher engine
// in this tree requests BounceShim. The type stays fully wired so a
// future hardware-offload Engine has somewhere to opt in.
type bounceShim struct {
	pool  *pool.PagePool
	pages [][]byte
}

// newBounceShim allocates sectors pages from p for the duration of one
// request. The pages belong solely to the shim; Free below only ever
// returns these, never any page the caller's own bio referenced.
func newBounceShim(p *pool.PagePool, sectors int) *bounceShim {
	pages := make([][]byte, sectors)
	for i := range pages {
		pages[i] = p.Get()
	}
	return &bounceShim{pool: p, pages: pages}
}

// Bio builds the clone descriptor the read path submits to the backing
// device, addressed at deviceSector and backed by the shim's own pages.
func (s *bounceShim) Bio(deviceSector uint64) *bio.Bio {
	return bio.New(deviceSector, bio.Read, s.pages)
}

// logicalView returns a *bio.Bio sharing the shim's pages but carrying
// base's logical sector number instead of clone's device-relative one,
// so the Conversion Context derives each sector's IV from the same
// sector number the write path originally encrypted under — not from
// wherever the backing device happened to place the ciphertext.
func (s *bounceShim) logicalView(base *bio.Bio) *bio.Bio {
	segs := make([]bio.Segment, len(s.pages))
	for i, p := range s.pages {
		segs[i] = bio.Segment{Page: p, Offset: 0, Length: len(p)}
	}
	return &bio.Bio{Segments: segs, Sector: base.Sector, Dir: bio.Read}
}

// CopyOut copies the now-decrypted sector at absSector out of clone
// (the shim's own pages) into base (the caller's original pages). It
// never reads from or writes to any page other than ones the shim
// allocated and the caller's own original bio, so a write path is never
// at risk of being overwritten by a read-path bounce copy.
func (s *bounceShim) CopyOut(base, clone *bio.Bio, absSector uint64) {
	idx := int(absSector - base.Sector)
	copy(base.SectorBytes(idx), clone.SectorBytes(idx))
}

// Free returns every page the shim allocated back to the page pool.
// The original bio's pages are never part of this list, so a read or a
// write bounce can never free memory the caller still owns.
func (s *bounceShim) Free() {
	for _, p := range s.pages {
		s.pool.Put(p)
	}
	s.pages = nil
}
