// Package blockdev provides the backing block device a target maps
// onto: submit-with-callback read/write operations bounded by a
// concurrency limit, backed by an os.File (a real block device node or
// a regular file used as one). It uses the same concurrency shape as
// cipherengine's AsyncEngine: a bounded in-flight count guarded by a
// sync.Cond, with callback-driven completion.
package blockdev

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/kenneth/blockcrypt/internal/bio"
)

// ErrClosed is returned by Submit once the device has been closed.
var ErrClosed = errors.New("blockdev: device closed")

// Device is a backing block device or file that bio.Bio read/write
// requests are submitted against.
type Device struct {
	f          *os.File
	sectorSize int

	mu       sync.Mutex
	cond     *sync.Cond
	inFlight int
	capacity int
	closed   bool
	wg       sync.WaitGroup
}

// Open opens path (a regular file or a block device node) for read/write
// access. capacity bounds the number of concurrent in-flight I/Os; a
// non-positive value defaults to 32.
func Open(path string, sectorSize, capacity int) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("blockdev: open %s: %w", path, err)
	}
	if capacity <= 0 {
		capacity = 32
	}
	d := &Device{f: f, sectorSize: sectorSize, capacity: capacity}
	d.cond = sync.NewCond(&d.mu)
	return d, nil
}

// SectorSize returns the device's sector size in bytes.
func (d *Device) SectorSize() int { return d.sectorSize }

// Size returns the device's size in bytes.
func (d *Device) Size() (int64, error) {
	info, err := d.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// SubmitWrite writes b's segments to the device at b.Sector, invoking
// onComplete from a background goroutine once the write returns (or the
// device is unable to accept it). Submission blocks only long enough to
// acquire an in-flight slot; it never blocks for the duration of the I/O
// itself, matching the write path's clone-and-submit shape.
func (d *Device) SubmitWrite(b *bio.Bio, onComplete func(error)) error {
	return d.submit(b, onComplete, d.doWrite)
}

// SubmitRead reads b.Sectors() sectors from the device at b.Sector into
// b's segments, invoking onComplete once the read completes.
func (d *Device) SubmitRead(b *bio.Bio, onComplete func(error)) error {
	return d.submit(b, onComplete, d.doRead)
}

func (d *Device) submit(b *bio.Bio, onComplete func(error), op func(*bio.Bio) error) error {
	d.mu.Lock()
	for d.inFlight >= d.capacity && !d.closed {
		d.cond.Wait()
	}
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.inFlight++
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		err := op(b)

		d.mu.Lock()
		d.inFlight--
		d.cond.Signal()
		d.mu.Unlock()

		if onComplete != nil {
			onComplete(err)
		}
	}()
	return nil
}

// doWrite and doRead walk segments individually rather than flattening
// the bio into one buffer, since a bio's segments back separate pages
// and a write must be visible to, or a read must land in, those exact
// pages rather than a copy.
func (d *Device) doWrite(b *bio.Bio) error {
	sector := b.Sector
	for _, seg := range b.Segments {
		off := int64(sector) * int64(d.sectorSize)
		if _, err := d.f.WriteAt(seg.Bytes(), off); err != nil {
			return err
		}
		sector += uint64(seg.Length / bio.SectorSize)
	}
	return nil
}

func (d *Device) doRead(b *bio.Bio) error {
	sector := b.Sector
	for _, seg := range b.Segments {
		off := int64(sector) * int64(d.sectorSize)
		if _, err := d.f.ReadAt(seg.Bytes(), off); err != nil {
			return err
		}
		sector += uint64(seg.Length / bio.SectorSize)
	}
	return nil
}

// InFlight reports the current number of outstanding I/Os, for metrics.
func (d *Device) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inFlight
}

// Close stops accepting new submissions, waits for outstanding I/O to
// finish, and closes the underlying file.
func (d *Device) Close() error {
	d.mu.Lock()
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()

	d.wg.Wait()
	return d.f.Close()
}
