package target

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kenneth/blockcrypt/internal/bio"
	"github.com/kenneth/blockcrypt/internal/mapper"
)

// WriteAt encrypts data and writes it at the given logical sector.
// len(data) must be a positive multiple of the sector size. It blocks
// until the write (all clones) has completed on the backing device, or
// ctx is done.
func (t *Target) WriteAt(ctx context.Context, sector uint64, data []byte) error {
	if len(data) == 0 || len(data)%bio.SectorSize != 0 {
		return fmt.Errorf("target: write length %d is not a positive sector multiple: %w", len(data), ErrInvalid)
	}
	m, err := t.dataPath()
	if err != nil {
		return err
	}
	b := &bio.Bio{
		Segments: []bio.Segment{{Page: data, Offset: 0, Length: len(data)}},
		Sector:   sector,
		Dir:      bio.Write,
	}
	start := time.Now()
	err = t.await(ctx, m, b)
	t.recordOp("encrypt", time.Since(start), int64(len(data)), err)
	return err
}

// ReadAt reads nsectors sectors starting at the given logical sector,
// decrypts them, and returns the plaintext. It blocks until the
// ciphertext fetch and decryption have both completed, or ctx is done.
func (t *Target) ReadAt(ctx context.Context, sector uint64, nsectors int) ([]byte, error) {
	if nsectors <= 0 {
		return nil, fmt.Errorf("target: read of %d sectors: %w", nsectors, ErrInvalid)
	}
	m, err := t.dataPath()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, nsectors*bio.SectorSize)
	b := &bio.Bio{
		Segments: []bio.Segment{{Page: buf, Offset: 0, Length: len(buf)}},
		Sector:   sector,
		Dir:      bio.Read,
	}
	start := time.Now()
	err = t.await(ctx, m, b)
	t.recordOp("decrypt", time.Since(start), int64(len(buf)), err)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// dataPath snapshots the current mapper under the lock. It refuses
// while suspended or keyless — the same conditions under which the key
// slot may be changing.
func (t *Target) dataPath() (*mapper.Mapper, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, fmt.Errorf("target: target is closed: %w", ErrInvalid)
	}
	if t.suspended {
		return nil, fmt.Errorf("target: target is suspended: %w", ErrAgain)
	}
	if !t.keyValid || t.mapper == nil {
		return nil, fmt.Errorf("target: no valid key installed: %w", ErrAgain)
	}
	return t.mapper, nil
}

// await submits b through m and blocks for its completion. A ctx
// cancellation abandons the wait, not the request: the completion still
// fires into the buffered channel and is dropped.
func (t *Target) await(ctx context.Context, m *mapper.Mapper, b *bio.Bio) error {
	done := make(chan error, 1)
	if err := m.Map(ctx, b, func(err error) { done <- err }); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Target) recordOp(op string, d time.Duration, bytes int64, err error) {
	if t.opts.Metrics == nil {
		return
	}
	if err != nil {
		t.opts.Metrics.RecordSectorOpError(t.name, op, errorType(err))
	} else {
		t.opts.Metrics.RecordSectorOp(t.name, op, d, bytes)
	}
	t.opts.Metrics.SetWorkerQueueDepth(t.name, t.queue.Depth())
}

func errorType(err error) string {
	switch {
	case errors.Is(err, mapper.ErrNoMemory):
		return "nomem"
	case errors.Is(err, ErrAgain), errors.Is(err, mapper.ErrAgain):
		return "again"
	case errors.Is(err, ErrInvalid), errors.Is(err, mapper.ErrInvalid):
		return "invalid"
	default:
		return "io"
	}
}
