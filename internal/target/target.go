// Package target ties the data path together into the per-target unit
// the control plane manages: it parses the five positional construction
// arguments (cipher-spec, key-hex, iv-offset, backing device, start
// sector), owns the key slot and the IV generator / cipher engine /
// mapper built from it, and exposes the status, message, and
// suspend/resume surface the devicemapper registry dispatches to.
package target

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kenneth/blockcrypt/internal/audit"
	"github.com/kenneth/blockcrypt/internal/bio"
	"github.com/kenneth/blockcrypt/internal/blockdev"
	"github.com/kenneth/blockcrypt/internal/cipherengine"
	"github.com/kenneth/blockcrypt/internal/config"
	"github.com/kenneth/blockcrypt/internal/debug"
	"github.com/kenneth/blockcrypt/internal/ivgen"
	"github.com/kenneth/blockcrypt/internal/mapper"
	"github.com/kenneth/blockcrypt/internal/metrics"
	"github.com/kenneth/blockcrypt/internal/pool"
	"github.com/kenneth/blockcrypt/internal/rlo"
	"github.com/kenneth/blockcrypt/internal/worker"
)

// Options carries the ambient collaborators a Target is wired with.
// Every field is optional; zero values select working defaults.
type Options struct {
	// Audit receives key lifecycle, suspend/resume, and per-sector
	// conversion events. Nil disables auditing.
	Audit audit.Logger

	// Metrics receives sector-op counters, queue-depth gauges, and the
	// hardware-acceleration gauge. Nil disables metrics.
	Metrics *metrics.Metrics

	// Log is the structured logger data-path debug lines go to.
	// Defaults to the process-wide logrus logger.
	Log *logrus.Logger

	// Hardware holds the CPU-native AES toggles. It only feeds the
	// hardware-acceleration gauge; the cipher backends do not consult it.
	Hardware config.HardwareConfig

	// AsyncOffload selects the session-based async cipher backend
	// instead of the synchronous in-process one.
	AsyncOffload bool

	// AsyncQueueDepth bounds in-flight async conversions (default 64).
	AsyncQueueDepth int

	// WriteTimeout bounds the async write barrier. Zero selects 30s
	// when AsyncOffload is set and disables the watchdog otherwise.
	WriteTimeout time.Duration

	// WorkerConcurrency and WorkerBacklog size the crypto worker queue.
	WorkerConcurrency int
	WorkerBacklog     int

	// DeviceCapacity bounds concurrent in-flight I/Os on the backing
	// device (default 32).
	DeviceCapacity int

	// Bounce selects the optional low-memory shim on the read path.
	Bounce mapper.BounceMode
}

func (o *Options) applyDefaults() {
	if o.Log == nil {
		o.Log = logrus.StandardLogger()
	}
	if o.AsyncQueueDepth <= 0 {
		o.AsyncQueueDepth = 64
	}
	if o.WriteTimeout == 0 && o.AsyncOffload {
		o.WriteTimeout = 30 * time.Second
	}
	if o.WorkerConcurrency <= 0 {
		o.WorkerConcurrency = 4
	}
	if o.WorkerBacklog <= 0 {
		o.WorkerBacklog = 256
	}
}

// Target is one constructed mapping: a keyed cipher over a sector range
// of a backing device. Configuration is immutable after construction
// except the key slot, which may be rewritten only while suspended.
type Target struct {
	name        string
	spec        cipherSpec
	ivOffset    uint64
	startSector uint64
	devPath     string
	opts        Options
	log         *logrus.Entry

	dev      *blockdev.Device
	queue    *worker.Queue
	pagePool *pool.PagePool
	rloPool  *pool.RLOPool

	mu        sync.Mutex
	key       []byte
	keyValid  bool
	suspended bool
	closed    bool
	ivg       ivgen.Generator
	engine    cipherengine.Engine
	mapper    *mapper.Mapper
}

// New constructs a target from the five positional arguments of the
// construction interface plus a registry name and ambient options.
// Every failure path releases whatever was allocated before it and
// zeroes the key bytes.
func New(cipherSpecStr, keyHex, ivOffsetStr, devicePath, startSectorStr, name string, opts Options) (*Target, error) {
	spec, err := parseCipherSpec(cipherSpecStr)
	if err != nil {
		return nil, err
	}
	key, keyValid, err := parseKeyHex(keyHex)
	if err != nil {
		return nil, err
	}
	ivOffset, err := strconv.ParseUint(ivOffsetStr, 10, 64)
	if err != nil {
		zeroBytes(key)
		return nil, fmt.Errorf("target: invalid iv-offset %q", ivOffsetStr)
	}
	startSector, err := strconv.ParseUint(startSectorStr, 10, 64)
	if err != nil {
		zeroBytes(key)
		return nil, fmt.Errorf("target: invalid start-sector %q", startSectorStr)
	}

	opts.applyDefaults()

	dev, err := blockdev.Open(devicePath, bio.SectorSize, opts.DeviceCapacity)
	if err != nil {
		zeroBytes(key)
		return nil, err
	}

	t := &Target{
		name:        name,
		spec:        spec,
		ivOffset:    ivOffset,
		startSector: startSector,
		devPath:     devicePath,
		opts:        opts,
		log:         opts.Log.WithField("target", name),
		dev:         dev,
		key:         key,
		keyValid:    keyValid,
	}
	t.queue = worker.New(name+"-crypt", opts.WorkerConcurrency, opts.WorkerBacklog)
	t.pagePool = pool.NewPagePool(bio.SectorSize)
	t.rloPool = pool.NewRLOPool(
		func() interface{} { return &rlo.RLO{} },
		func(v interface{}) { v.(*rlo.RLO).Reset() },
	)

	if keyValid {
		if err := t.rebuildLocked(); err != nil {
			t.queue.Close()
			dev.Close()
			zeroBytes(t.key)
			return nil, err
		}
	}

	if opts.Metrics != nil {
		opts.Metrics.SetHardwareAccelerationStatus("aes", cipherengine.IsHardwareAccelerationEnabled(opts.Hardware))
		opts.Metrics.IncrementActiveTargets()
	}
	return t, nil
}

// rebuildLocked reconstructs the IV generator, cipher engine, and
// mapper from the current key. The caller holds t.mu (or is inside New,
// where nothing else can see the target yet). The outgoing engine and
// generator are closed only after the replacements were built, so a
// failed rebuild leaves the previous state intact. The worker queue and
// both pools live across rebuilds; only Target.Close tears them down.
func (t *Target) rebuildLocked() error {
	ivSize, err := t.spec.ivSize()
	if err != nil {
		return err
	}
	blockLen, err := cipherBlockSize(t.spec.Cipher)
	if err != nil {
		return err
	}

	ivMode := ivgen.Mode(t.spec.IVMode)
	if t.spec.IVMode == "" {
		ivMode = ivgen.ModeNull
	}
	gen, err := ivgen.New(ivMode, t.spec.IVOpts, ivgen.KeyMaterial{
		Key:            t.key,
		CipherName:     t.spec.Cipher,
		CipherBlockLen: blockLen,
		IVSize:         ivSize,
	})
	if err != nil {
		return err
	}

	var engine cipherengine.Engine
	if t.opts.AsyncOffload {
		algo, aerr := asyncAlgorithm(t.spec)
		if aerr != nil {
			gen.Close()
			return aerr
		}
		engine, err = cipherengine.NewAsyncEngine(algo, t.key, t.opts.AsyncQueueDepth)
	} else {
		engine, err = cipherengine.NewSyncEngine(t.spec.Cipher, t.key, t.spec.ChainMode)
	}
	if err != nil {
		gen.Close()
		return err
	}

	// The callback runs from the worker queue or a device-completion
	// goroutine without t.mu; bind the engine it belongs to rather than
	// reading t.engine, which a concurrent key rotation may have swapped.
	boundEngine := engine
	algoName := t.spec.String()
	onSectorDone := func(dir bio.Direction, sector uint64, serr error) {
		if debug.Enabled() {
			t.log.WithFields(logrus.Fields{
				"dir":    dir.String(),
				"sector": sector,
				"error":  serr,
			}).Debug("sector conversion complete")
		}
		if t.opts.Audit != nil {
			if dir == bio.Write {
				t.opts.Audit.LogEncrypt(t.name, sector, algoName, serr == nil, serr, 0, nil)
			} else {
				t.opts.Audit.LogDecrypt(t.name, sector, algoName, serr == nil, serr, 0, nil)
			}
		}
		if t.opts.Metrics != nil {
			if ae, ok := boundEngine.(*cipherengine.AsyncEngine); ok {
				t.opts.Metrics.SetAsyncInFlight(t.name, ae.InFlight())
			}
		}
	}

	m, err := mapper.New(mapper.Options{
		IVGen:        gen,
		Engine:       engine,
		Device:       t.dev,
		Queue:        t.queue,
		PagePool:     t.pagePool,
		RLOPool:      t.rloPool,
		WriteTimeout: t.opts.WriteTimeout,
		Bounce:       t.opts.Bounce,
		StartSector:  t.startSector,
		IVOffset:     t.ivOffset,
		OnSectorDone: onSectorDone,
	})
	if err != nil {
		gen.Close()
		engine.Close()
		return err
	}

	// The outgoing mapper is never Close()d here: mapper.Close would
	// take the shared worker queue down with it. Engine and generator
	// are the only per-key state.
	if t.engine != nil {
		t.engine.Close()
	}
	if t.ivg != nil {
		t.ivg.Close()
	}
	t.ivg, t.engine, t.mapper = gen, engine, m
	return nil
}

func asyncAlgorithm(spec cipherSpec) (cipherengine.AsyncAlgorithm, error) {
	if spec.ChainMode != "cbc" {
		return "", fmt.Errorf("target: async offload supports only cbc chaining, got %q", spec.ChainMode)
	}
	switch spec.Cipher {
	case "aes":
		return cipherengine.AlgoAESCBC, nil
	case "des":
		return cipherengine.AlgoDESCBC, nil
	case "des3":
		return cipherengine.Algo3DESCBC, nil
	default:
		return "", &cipherengine.UnsupportedCipherError{Cipher: spec.Cipher}
	}
}

// Name returns the registry name the target was constructed under.
func (t *Target) Name() string { return t.name }

// KeyValid reports whether a usable key is currently installed.
func (t *Target) KeyValid() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.keyValid
}

// Close tears the target down: mapper (which owns the worker queue and
// current engine), IV generator, and backing device, zeroing the key
// slot. Safe to call more than once.
func (t *Target) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	m, q, g, e, d := t.mapper, t.queue, t.ivg, t.engine, t.dev
	t.mapper, t.ivg, t.engine = nil, nil, nil
	zeroBytes(t.key)
	t.key = nil
	t.keyValid = false
	t.mu.Unlock()

	var firstErr error
	if m != nil {
		if err := m.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	} else {
		q.Close()
		if e != nil {
			if err := e.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	if g != nil {
		if err := g.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := d.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if t.opts.Metrics != nil {
		t.opts.Metrics.DecrementActiveTargets()
	}
	return firstErr
}
