// Package ivgen implements the per-sector initialization-vector strategies:
// plain, essiv, benbi, and null. Each generator is keyed once at target
// construction time and thereafter produces a fixed-size IV from a sector
// number alone, with no external metadata.
package ivgen

import "fmt"

// Generator produces the IV for a given sector number into a caller-owned
// buffer sized to Size().
type Generator interface {
	// Generate writes exactly Size() bytes into iv, derived from sector.
	Generate(iv []byte, sector uint64) error

	// Size returns the IV size in bytes this generator produces.
	Size() int

	// Close releases any private state (e.g. essiv's cipher handle).
	// Safe to call on a generator with no private state.
	Close() error
}

// Mode names the four IV generator variants.
type Mode string

const (
	ModePlain Mode = "plain"
	ModeEssiv Mode = "essiv"
	ModeBenbi Mode = "benbi"
	ModeNull  Mode = "null"
)

// KeyMaterial is the subset of target configuration an IV generator needs
// at construction time: the data key (for essiv's salt derivation) and the
// cipher's block size (for essiv/benbi size validation).
type KeyMaterial struct {
	Key            []byte
	CipherName     string
	CipherBlockLen int
	IVSize         int
}

// New constructs the generator named by mode. ivopts carries the mode's
// option string (e.g. essiv's hash name after the colon in "essiv:sha256").
func New(mode Mode, ivopts string, km KeyMaterial) (Generator, error) {
	switch mode {
	case ModePlain:
		return &plainGenerator{size: km.IVSize}, nil
	case ModeEssiv:
		if ivopts == "" {
			return nil, fmt.Errorf("ivgen: essiv requires a hash name option (essiv:<hash>)")
		}
		return newEssivGenerator(ivopts, km)
	case ModeBenbi:
		return newBenbiGenerator(km)
	case ModeNull:
		return &nullGenerator{size: km.IVSize}, nil
	default:
		return nil, fmt.Errorf("ivgen: unknown iv mode %q", mode)
	}
}
