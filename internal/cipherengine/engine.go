// Package cipherengine implements the cipher engine capability: a
// single "convert one sector" primitive backed by either a
// synchronous in-process block cipher or an asynchronous session-style
// offload engine whose completion arrives via callback.
package cipherengine

import "fmt"

// Direction selects encrypt or decrypt for a single ConvertSector call.
type Direction int

const (
	Decrypt Direction = iota
	Encrypt
)

// Job describes one sector-sized conversion: dst/src scatter elements,
// the IV to use, the direction, and an opaque Token field. Neither
// backend in this package reads Token; completion is routed through the
// onComplete callback passed to ConvertSector.
type Job struct {
	Dst   []byte
	Src   []byte
	IV    []byte
	Dir   Direction
	Token interface{}
}

// Engine is the single call-site abstraction over both cipher backends.
// ConvertSector must not block past what its concrete backend documents:
// the synchronous backend may sleep in the cipher call itself; the async
// backend returns once the job is accepted for later callback-driven
// completion.
type Engine interface {
	// ConvertSector performs (or schedules) one sector's worth of
	// encryption/decryption. len(job.Src) and len(job.Dst) must equal
	// the sector size. onComplete is invoked exactly once, synchronously
	// for SyncEngine or from a worker goroutine for AsyncEngine, with the
	// result of the conversion (nil on success).
	ConvertSector(job Job, onComplete func(error)) error

	// Close releases backend resources (worker pools, sessions).
	Close() error
}

// UnsupportedCipherError reports a cipher name outside the AES/DES/3DES
// family this package implements.
type UnsupportedCipherError struct {
	Cipher string
}

func (e *UnsupportedCipherError) Error() string {
	return fmt.Sprintf("cipherengine: unsupported cipher %q", e.Cipher)
}
