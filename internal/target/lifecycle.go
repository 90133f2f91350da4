package target

// Suspend sets the suspended flag, unlocking the message interface.
// Quiescence of in-flight I/O is the caller's job: the framework above
// is expected to stop submitting and drain before suspending, and the
// data path refuses new work while the flag is set.
func (t *Target) Suspend() {
	t.mu.Lock()
	t.suspended = true
	t.mu.Unlock()

	if t.opts.Audit != nil {
		t.opts.Audit.LogAccess("suspend", t.name, "", true, nil, 0)
	}
}

// Resume clears the suspended flag and reopens the data path. It
// refuses with ErrAgain while no valid key is installed (the preresume
// check), so a wiped target stays suspended until its key is replaced.
func (t *Target) Resume() error {
	t.mu.Lock()
	if !t.keyValid {
		t.mu.Unlock()
		if t.opts.Audit != nil {
			t.opts.Audit.LogAccess("resume", t.name, "", false, ErrAgain, 0)
		}
		return ErrAgain
	}
	t.suspended = false
	t.mu.Unlock()

	if t.opts.Audit != nil {
		t.opts.Audit.LogAccess("resume", t.name, "", true, nil, 0)
	}
	return nil
}

// Suspended reports whether the target is currently suspended.
func (t *Target) Suspended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.suspended
}
