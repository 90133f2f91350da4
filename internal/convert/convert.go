// Package convert implements the conversion context: a cursor that
// walks a base/clone bio pair sector by sector, generating each
// sector's IV and handing it to the cipher engine, advancing only once
// that sector's conversion has actually been dispatched (and, for the
// synchronous engine, completed).
package convert

import (
	"github.com/kenneth/blockcrypt/internal/bio"
	"github.com/kenneth/blockcrypt/internal/cipherengine"
	"github.com/kenneth/blockcrypt/internal/ivgen"
)

// Context walks one base/clone bio pair, converting it sector by sector.
// A single Context is used for exactly one bio pair and is not reused
// across requests.
type Context struct {
	base  *bio.Bio
	clone *bio.Bio
	dir   bio.Direction

	ivgen    ivgen.Generator
	engine   cipherengine.Engine
	ivOffset uint64

	cursor int // next sector index within the bio, 0-based
	ivBuf  []byte
}

// New creates a conversion context over base (the upper-layer bio, in
// plaintext) and clone (the lower-device bio, in ciphertext). Both must
// have the same sector count and direction. ivOffset is the target's
// configured IV offset: it is added to each sector's logical
// number before IV derivation only — it never affects which bytes of
// base or clone a given cursor position addresses.
func New(base, clone *bio.Bio, iv ivgen.Generator, engine cipherengine.Engine, ivOffset uint64) *Context {
	return &Context{
		base:     base,
		clone:    clone,
		dir:      base.Dir,
		ivgen:    iv,
		engine:   engine,
		ivOffset: ivOffset,
		ivBuf:    make([]byte, iv.Size()),
	}
}

// Done reports whether every sector has been dispatched for conversion.
// This does not imply every sector has completed — for the async
// engine, dispatch and completion are decoupled.
func (c *Context) Done() bool {
	return c.cursor >= c.base.Sectors()
}

// Remaining returns the number of sectors not yet dispatched.
func (c *Context) Remaining() int {
	n := c.base.Sectors() - c.cursor
	if n < 0 {
		return 0
	}
	return n
}

// sectorSlices returns the plaintext and ciphertext byte slices for the
// sector at cursor index i, and the logical sector number (relative to
// the upper layer, not yet offset for IV derivation).
func (c *Context) sectorSlices(i int) (plain, cipherText []byte, sector uint64) {
	plain = c.base.SectorBytes(i)
	cipherText = c.clone.SectorBytes(i)
	sector = c.base.Sector + uint64(i)
	return
}

// StepSync dispatches and converts exactly one sector using a
// synchronous cipher engine, blocking until that sector's conversion
// has completed, and advances the cursor on success. Callers driving a
// synchronous engine can call StepSync in a loop until Done(); the
// mapper's read and write paths use DispatchAsync instead.
func (c *Context) StepSync() error {
	if c.Done() {
		return nil
	}
	i := c.cursor
	plain, cipherText, sector := c.sectorSlices(i)

	if err := c.ivgen.Generate(c.ivBuf, sector+c.ivOffset); err != nil {
		return err
	}

	src, dst := encryptSrcDst(c.dir, plain, cipherText)

	var convErr error
	done := false
	err := c.engine.ConvertSector(cipherengine.Job{
		Dst: dst,
		Src: src,
		IV:  c.ivBuf,
		Dir: engineDir(c.dir),
	}, func(err error) {
		convErr = err
		done = true
	})
	if err != nil {
		return err
	}
	if !done {
		// A conforming synchronous engine always completes inline; this
		// guards against a caller wiring an async engine in here by mistake.
		return errNotSynchronous
	}
	if convErr != nil {
		return convErr
	}
	c.cursor++
	return nil
}

// DispatchAsync dispatches every remaining sector to engine, invoking
// onSector(sector, err) from whatever goroutine the engine completes it
// on. DispatchAsync returns once all sectors have been submitted, not
// once they have completed — callers join completions themselves (the
// mapper's read path via an rlo.RLO, its write path via a per-chunk
// counter). The mapper uses it on both the read and write paths, with
// either engine.
func (c *Context) DispatchAsync(onSector func(sector uint64, err error)) error {
	for !c.Done() {
		i := c.cursor
		plain, cipherText, sector := c.sectorSlices(i)
		c.cursor++ // advance immediately: dispatch, not completion, drives the cursor here

		iv := make([]byte, len(c.ivBuf))
		if err := c.ivgen.Generate(iv, sector+c.ivOffset); err != nil {
			onSector(sector, err)
			continue
		}

		src, dst := encryptSrcDst(c.dir, plain, cipherText)
		sec := sector
		if err := c.engine.ConvertSector(cipherengine.Job{
			Dst: dst,
			Src: src,
			IV:  iv,
			Dir: engineDir(c.dir),
		}, func(err error) {
			onSector(sec, err)
		}); err != nil {
			onSector(sector, err)
		}
	}
	return nil
}

func encryptSrcDst(dir bio.Direction, plain, cipherText []byte) (src, dst []byte) {
	if dir == bio.Write {
		return plain, cipherText
	}
	return cipherText, plain
}

func engineDir(dir bio.Direction) cipherengine.Direction {
	if dir == bio.Write {
		return cipherengine.Encrypt
	}
	return cipherengine.Decrypt
}
