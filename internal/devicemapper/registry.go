// Package devicemapper is the control-plane table for crypt targets:
// registration by name, plus the status/message/suspend/resume dispatch
// that drives a *target.Target through its lifecycle. The registry is
// process-local and deliberately not durable; nothing about a target
// persists beyond the ciphertext already written to its backing device.
package devicemapper

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kenneth/blockcrypt/internal/audit"
	"github.com/kenneth/blockcrypt/internal/cipherengine"
	"github.com/kenneth/blockcrypt/internal/config"
	"github.com/kenneth/blockcrypt/internal/target"
)

// ErrExists is returned by Create when name is already registered.
var ErrExists = fmt.Errorf("devicemapper: target already exists")

// ErrNotFound is returned by any operation naming an unregistered target.
var ErrNotFound = fmt.Errorf("devicemapper: target not found")

// CreateArgs carries the five positional target-construction arguments
// plus the registry name under which the target is filed.
type CreateArgs struct {
	Name        string
	CipherSpec  string
	KeyHex      string
	IVOffset    string
	Device      string
	StartSector string
	Options     target.Options
}

// Registry is a process-local table of named targets: one struct owning
// every collaborator, dispatching by name. There is no persistence
// mechanism behind it.
type Registry struct {
	mu       sync.RWMutex
	targets  map[string]*target.Target
	hardware config.HardwareConfig
	audit    audit.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{targets: make(map[string]*target.Target)}
}

// NewRegistryWithHardwareConfig is NewRegistry plus the hardware-gating
// config surfaced by HardwareInfo, for callers that load config.Config
// from disk rather than taking every default.
func NewRegistryWithHardwareConfig(hw config.HardwareConfig) *Registry {
	return &Registry{targets: make(map[string]*target.Target), hardware: hw}
}

// NewRegistryFromConfig builds a registry with both the hardware gating
// and, when cfg.Audit.Enabled, a shared audit.Logger applied to every
// target Create doesn't already supply one for.
func NewRegistryFromConfig(cfg config.Config) (*Registry, error) {
	r := &Registry{targets: make(map[string]*target.Target), hardware: cfg.Hardware}
	if cfg.Audit.Enabled {
		logger, err := audit.NewLoggerFromConfig(cfg.Audit)
		if err != nil {
			return nil, fmt.Errorf("devicemapper: building audit logger: %w", err)
		}
		r.audit = logger
	}
	return r, nil
}

// HardwareInfo reports the process's AES hardware acceleration support
// and whether it is currently enabled by configuration (see
// cipherengine.GetHardwareAccelerationInfo).
func (r *Registry) HardwareInfo() map[string]interface{} {
	r.mu.RLock()
	hw := r.hardware
	r.mu.RUnlock()
	return cipherengine.GetHardwareAccelerationInfo(&hw)
}

// AuditEvents returns the shared audit logger's recorded events, or nil
// if the registry was built without one (audit disabled).
func (r *Registry) AuditEvents() []*audit.AuditEvent {
	r.mu.RLock()
	logger := r.audit
	r.mu.RUnlock()
	if logger == nil {
		return nil
	}
	return logger.GetEvents()
}

// Create constructs a new target from args and registers it under
// args.Name. It fails with ErrExists if the name is taken (without
// touching the existing target) and leaks nothing if construction itself
// fails (target.New already guarantees that).
func (r *Registry) Create(args CreateArgs) (*target.Target, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.targets[args.Name]; ok {
		return nil, ErrExists
	}

	opts := args.Options
	if opts.Audit == nil {
		opts.Audit = r.audit
	}

	t, err := target.New(args.CipherSpec, args.KeyHex, args.IVOffset, args.Device, args.StartSector, args.Name, opts)
	if err != nil {
		return nil, err
	}
	r.targets[args.Name] = t
	return t, nil
}

// Load returns the target registered under name.
func (r *Registry) Load(name string) (*target.Target, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.targets[name]
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

// Remove tears down and unregisters name's target.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.targets[name]
	if !ok {
		return ErrNotFound
	}
	delete(r.targets, name)
	return t.Close()
}

// Names returns every currently registered target name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.targets))
	for name := range r.targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Status returns name's table-form status line.
func (r *Registry) Status(name string) (string, error) {
	t, err := r.Load(name)
	if err != nil {
		return "", err
	}
	return t.Status(), nil
}

// Message dispatches a control message ("key set <hex>" / "key wipe")
// to name's target.
func (r *Registry) Message(name string, args []string) error {
	t, err := r.Load(name)
	if err != nil {
		return err
	}
	return t.Message(args)
}

// Suspend, Resume drive the suspend/resume control verbs for the
// target registered under name.
func (r *Registry) Suspend(name string) error {
	t, err := r.Load(name)
	if err != nil {
		return err
	}
	t.Suspend()
	return nil
}

func (r *Registry) Resume(name string) error {
	t, err := r.Load(name)
	if err != nil {
		return err
	}
	return t.Resume()
}
