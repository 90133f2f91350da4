package target

import (
	"fmt"
	"strings"

	"github.com/kenneth/blockcrypt/internal/cipherengine"
)

// cipherSpec is the parsed form of the first positional construction
// argument: cipher[-chainmode[-ivmode[:ivopts]]]. Defaulting follows the
// compatibility rule that a bare cipher name, or "cipher-plain" with no
// IV mode, means cbc chaining with the plain IV generator.
type cipherSpec struct {
	Cipher    string
	ChainMode string
	IVMode    string
	IVOpts    string
}

func parseCipherSpec(s string) (cipherSpec, error) {
	if s == "" {
		return cipherSpec{}, fmt.Errorf("target: empty cipher spec")
	}

	parts := strings.SplitN(s, "-", 3)
	spec := cipherSpec{Cipher: parts[0]}
	if spec.Cipher == "" {
		return cipherSpec{}, fmt.Errorf("target: cipher spec %q has no cipher name", s)
	}
	if len(parts) > 1 {
		spec.ChainMode = parts[1]
	}
	var ivPart string
	if len(parts) > 2 {
		ivPart = parts[2]
	}

	if spec.ChainMode == "" || (spec.ChainMode == "plain" && ivPart == "") {
		spec.ChainMode = "cbc"
		ivPart = "plain"
	}
	if spec.ChainMode == "" {
		return cipherSpec{}, fmt.Errorf("target: cipher spec %q has an empty chain mode", s)
	}

	if ivPart != "" {
		if i := strings.IndexByte(ivPart, ':'); i >= 0 {
			spec.IVMode, spec.IVOpts = ivPart[:i], ivPart[i+1:]
		} else {
			spec.IVMode = ivPart
		}
	}

	// A cipher with no IV slot (ecb chaining) needs no IV generator;
	// every other chain mode requires one.
	if spec.IVMode == "" && spec.ChainMode != "ecb" {
		return cipherSpec{}, fmt.Errorf("target: chain mode %q requires an iv mode", spec.ChainMode)
	}

	switch spec.IVMode {
	case "", "plain", "benbi", "null":
		if spec.IVOpts != "" {
			return cipherSpec{}, fmt.Errorf("target: iv mode %q takes no options, got %q", spec.IVMode, spec.IVOpts)
		}
	case "essiv":
		if spec.IVOpts == "" {
			return cipherSpec{}, fmt.Errorf("target: essiv requires a hash name (essiv:<hash>)")
		}
	default:
		return cipherSpec{}, fmt.Errorf("target: unknown iv mode %q", spec.IVMode)
	}

	return spec, nil
}

// String reconstructs the canonical cipher-spec string, used verbatim as
// the first field of the table-form status line.
func (s cipherSpec) String() string {
	out := s.Cipher + "-" + s.ChainMode
	if s.IVMode != "" {
		out += "-" + s.IVMode
		if s.IVOpts != "" {
			out += ":" + s.IVOpts
		}
	}
	return out
}

// cipherBlockSize returns the block size of the named cipher, needed
// before engine construction to size the IV and validate the essiv and
// benbi generators.
func cipherBlockSize(name string) (int, error) {
	switch name {
	case "aes":
		return 16, nil
	case "des", "des3":
		return 8, nil
	default:
		return 0, &cipherengine.UnsupportedCipherError{Cipher: name}
	}
}

// ivSize derives the IV size: the cipher's block size for
// chained modes, zero for ecb (which takes no IV at all).
func (s cipherSpec) ivSize() (int, error) {
	if s.ChainMode == "ecb" {
		return 0, nil
	}
	return cipherBlockSize(s.Cipher)
}
