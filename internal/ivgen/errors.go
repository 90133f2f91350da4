package ivgen

import "errors"

// errMismatchedEssivSize is wrapped into a configuration error when the
// essiv single-block cipher's block size does not match the IV size the
// target's chaining mode expects.
var errMismatchedEssivSize = errors.New("essiv block size mismatch")
