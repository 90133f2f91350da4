package target

import "errors"

var (
	// ErrAgain is the retry-again refusal: Resume returns it while no
	// valid key is installed, and the data path returns it while the
	// target is suspended or keyless.
	ErrAgain = errors.New("target: resource temporarily unavailable")

	// ErrInvalid is returned for malformed data-path arguments.
	ErrInvalid = errors.New("target: invalid argument")

	// ErrNotSuspended is returned by Message when the target is live:
	// key changes are only legal while I/O is quiesced.
	ErrNotSuspended = errors.New("target: message interface requires a suspended target")
)
