package mapper

import (
	"context"

	"github.com/kenneth/blockcrypt/internal/bio"
	"github.com/kenneth/blockcrypt/internal/convert"
	"github.com/kenneth/blockcrypt/internal/rlo"
)

// read implements the read path: fetch ciphertext from the
// backing device into the caller's own pages (via a shared-page clone,
// no copy), then decrypt in place. The two phases run in different
// contexts: the fetch completes on the block device's own completion
// goroutine, and — since crypto must never run there — its callback
// only re-posts the decrypt work onto the crypto worker queue rather
// than running it inline.
func (m *Mapper) read(ctx context.Context, base *bio.Bio, done func(error)) error {
	total := base.Sectors()
	if total == 0 {
		return ErrInvalid
	}

	deviceSector := base.Sector + m.opts.StartSector
	var clone *bio.Bio
	var shim *bounceShim
	if m.opts.Bounce == BounceShim {
		shim = newBounceShim(m.opts.PagePool, total)
		clone = shim.Bio(deviceSector)
	} else {
		clone = base.SharedClone(deviceSector, bio.Read)
	}

	rl := m.opts.RLOPool.Get().(*rlo.RLO)
	rl.Begin(base, clone, total, func(r *rlo.RLO, err error) {
		m.opts.RLOPool.Put(r)
		if shim != nil {
			shim.Free()
		}
		if done != nil {
			done(err)
		}
	})

	err := m.opts.Device.SubmitRead(clone, func(ferr error) {
		if ferr != nil {
			rl.ForceComplete(ferr)
			return
		}
		m.opts.Queue.Post(func() { m.decryptFetched(base, clone, rl, shim) })
	})
	if err != nil {
		rl.ForceComplete(err)
		return err
	}
	return nil
}

// decryptFetched runs on the crypto worker queue, decrypting the
// fetched ciphertext sector by sector. Every sector's completion is
// routed through the RLO's own pending counter individually (not just
// the last sector of the bio), matching the write path's join
// discipline and keeping a torn read (some sectors decrypted, one
// failed) correctly reflected in the RLO's latched error.
func (m *Mapper) decryptFetched(base, clone *bio.Bio, rl *rlo.RLO, shim *bounceShim) {
	var convCtx *convert.Context
	if shim != nil {
		// Decrypt in place within the shim's own pages, keyed by base's
		// logical sector (not clone's device sector), then copy the
		// plaintext back into base's real pages per sector below.
		view := shim.logicalView(base)
		convCtx = convert.New(view, view, m.opts.IVGen, m.opts.Engine, m.opts.IVOffset)
	} else {
		convCtx = convert.New(base, clone, m.opts.IVGen, m.opts.Engine, m.opts.IVOffset)
	}

	err := convCtx.DispatchAsync(func(sector uint64, serr error) {
		if shim != nil && serr == nil {
			shim.CopyOut(base, clone, sector)
		}
		if m.opts.OnSectorDone != nil {
			m.opts.OnSectorDone(bio.Read, sector, serr)
		}
		rl.DecPending(serr)
	})
	if err != nil {
		rl.ForceComplete(err)
	}
}
