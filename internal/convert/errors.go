package convert

import "errors"

// errNotSynchronous is returned if StepSync is driven with a cipher
// engine that does not complete its job inline (i.e. an async engine
// wired in by mistake — StepSync and DispatchAsync are not
// interchangeable).
var errNotSynchronous = errors.New("convert: engine did not complete synchronously")
