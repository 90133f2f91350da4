package target

import "fmt"

// Message dispatches a control message to the target. The only messages
// understood are "key set <keyhex>" and "key wipe", and both are legal
// only while the target is suspended: the suspend flag is what
// guarantees no I/O is in flight through the key being replaced.
func (t *Target) Message(args []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(args) < 2 || args[0] != "key" {
		return fmt.Errorf("target: unknown message %v: %w", args, ErrInvalid)
	}
	if !t.suspended {
		return ErrNotSuspended
	}

	switch args[1] {
	case "set":
		if len(args) != 3 {
			return fmt.Errorf("target: key set requires a key argument: %w", ErrInvalid)
		}
		err := t.keySetLocked(args[2])
		if t.opts.Audit != nil {
			t.opts.Audit.LogKeyMessage(t.name, false, err == nil, err)
		}
		return err
	case "wipe":
		if len(args) != 2 {
			return fmt.Errorf("target: key wipe takes no arguments: %w", ErrInvalid)
		}
		t.keyWipeLocked()
		if t.opts.Audit != nil {
			t.opts.Audit.LogKeyMessage(t.name, true, true, nil)
		}
		return nil
	default:
		return fmt.Errorf("target: unknown key message %q: %w", args[1], ErrInvalid)
	}
}

// keySetLocked installs a new key. A target that already holds a valid
// key only accepts a replacement of the same length; a keyless target
// (constructed with "-", or wiped) accepts its first key at any length
// the cipher itself accepts. A failed rebuild restores the previous key
// state untouched.
func (t *Target) keySetLocked(keyHex string) error {
	newKey, valid, err := parseKeyHex(keyHex)
	if err != nil {
		return err
	}
	if !valid {
		return fmt.Errorf("target: key set requires a real key, not -: %w", ErrInvalid)
	}
	if t.keyValid && len(newKey) != len(t.key) {
		zeroBytes(newKey)
		return fmt.Errorf("target: new key length %d does not match existing length %d: %w",
			len(newKey), len(t.key), ErrInvalid)
	}

	oldKey, oldValid := t.key, t.keyValid
	t.key, t.keyValid = newKey, true
	if err := t.rebuildLocked(); err != nil {
		zeroBytes(newKey)
		t.key, t.keyValid = oldKey, oldValid
		return err
	}
	zeroBytes(oldKey)
	return nil
}

// keyWipeLocked zeroes the key slot and tears down the per-key state
// (engine, IV generator, mapper), leaving the queue, pools, and device
// alive for a future key set. Resume refuses until a key is installed.
func (t *Target) keyWipeLocked() {
	zeroBytes(t.key)
	t.key = nil
	t.keyValid = false

	if t.engine != nil {
		t.engine.Close()
		t.engine = nil
	}
	if t.ivg != nil {
		t.ivg.Close()
		t.ivg = nil
	}
	t.mapper = nil
}
