package target

import (
	"encoding/hex"
	"fmt"
)

// parseKeyHex parses the key-hex positional argument: even-length
// lowercase hex, or the single-character string "-" for "no key yet"
// (a target constructed keyless accepts its first key over the message
// interface while suspended).
func parseKeyHex(s string) (key []byte, valid bool, err error) {
	if s == "-" {
		return nil, false, nil
	}
	if s == "" {
		return nil, false, fmt.Errorf("target: empty key hex (use - for no key)")
	}
	if len(s)%2 != 0 {
		return nil, false, fmt.Errorf("target: key hex has odd length %d", len(s))
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return nil, false, fmt.Errorf("target: key hex contains non-lowercase-hex byte %q", c)
		}
	}
	key, err = hex.DecodeString(s)
	if err != nil {
		return nil, false, fmt.Errorf("target: malformed key hex: %w", err)
	}
	return key, true, nil
}

// zeroBytes wipes b in place. Key material flows through here on every
// destruction and replacement path, including construction failures.
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
