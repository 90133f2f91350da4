// Package mapper is the entry point every upper-layer bio passes
// through: it dispatches to the write or read path and glues together
// the IV generator, cipher engine, buffer pools, worker queue, and
// backing device, coordinating them through callback-driven completion.
package mapper

import (
	"context"
	"errors"
	"time"

	"github.com/kenneth/blockcrypt/internal/bio"
	"github.com/kenneth/blockcrypt/internal/blockdev"
	"github.com/kenneth/blockcrypt/internal/cipherengine"
	"github.com/kenneth/blockcrypt/internal/ivgen"
	"github.com/kenneth/blockcrypt/internal/pool"
	"github.com/kenneth/blockcrypt/internal/rlo"
	"github.com/kenneth/blockcrypt/internal/worker"
)

// Errors surfaced by Map, mirroring the POSIX error set.
var (
	ErrIO         = errors.New("mapper: i/o error")
	ErrNoMemory   = errors.New("mapper: no memory")
	ErrInvalid    = errors.New("mapper: invalid argument")
	ErrAgain      = errors.New("mapper: resource temporarily unavailable")
	ErrPermission = errors.New("mapper: operation not permitted")
)

// BounceMode selects whether the read path bounces through a shim
// buffer: the device fetch and decryption land in shim pages, which are
// then copied into the upper layer's pages. The write path does not
// consult it; writes always encrypt into freshly allocated clone pages.
type BounceMode int

const (
	// BounceNone performs conversion directly against the caller's pages.
	BounceNone BounceMode = iota
	// BounceShim allocates a shim buffer for a read's fetch and
	// decryption and copies the result back into the caller's bio
	// afterward.
	BounceShim
)

// Options configures a Mapper.
type Options struct {
	IVGen        ivgen.Generator
	Engine       cipherengine.Engine
	Device       *blockdev.Device
	Queue        *worker.Queue
	PagePool     *pool.PagePool
	RLOPool      *pool.RLOPool
	WriteTimeout time.Duration // 0 disables the async write watchdog
	Bounce       BounceMode
	// StartSector is the target's configured backing-device offset
	// (the fifth positional construction argument): upper-layer sector S maps
	// to backing-device sector S+StartSector.
	StartSector uint64
	// IVOffset is the target's configured IV offset (the third
	// positional construction argument): added to a sector's logical number
	// before IV derivation only, independent of StartSector's device
	// placement.
	IVOffset uint64

	// OnSectorDone, if set, is invoked after every individual sector
	// conversion completes (for metrics/audit); it must not block.
	OnSectorDone func(dir bio.Direction, sector uint64, err error)
}

// Mapper is a constructed, running mapping from an upper-layer sector
// range onto ciphertext on a backing device.
type Mapper struct {
	opts Options
}

// New constructs a Mapper from already-built components. Target
// construction (parsing the five positional arguments) is
// the caller's responsibility — Mapper only needs the finished pieces.
func New(opts Options) (*Mapper, error) {
	if opts.IVGen == nil || opts.Engine == nil || opts.Device == nil || opts.Queue == nil {
		return nil, ErrInvalid
	}
	if opts.PagePool == nil {
		opts.PagePool = pool.NewPagePool(bio.SectorSize)
	}
	if opts.RLOPool == nil {
		opts.RLOPool = pool.NewRLOPool(
			func() interface{} { return &rlo.RLO{} },
			func(v interface{}) { v.(*rlo.RLO).Reset() },
		)
	}
	return &Mapper{opts: opts}, nil
}

// Map dispatches base according to its direction.
func (m *Mapper) Map(ctx context.Context, base *bio.Bio, done func(error)) error {
	switch base.Dir {
	case bio.Write:
		return m.write(ctx, base, done)
	case bio.Read:
		return m.read(ctx, base, done)
	default:
		return ErrInvalid
	}
}

// Close releases the mapper's worker queue and cipher engine.
func (m *Mapper) Close() error {
	m.opts.Queue.Close()
	return m.opts.Engine.Close()
}
