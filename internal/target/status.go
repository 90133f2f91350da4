package target

import (
	"encoding/hex"
	"fmt"
)

// Status returns the table-form status line:
//
//	cipher-chainmode[-ivmode[:ivopts]] <keyhex-or-dash> <iv-offset> <dev> <start-sector>
func (t *Target) Status() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	keyField := "-"
	if t.keyValid {
		keyField = hex.EncodeToString(t.key)
	}
	return fmt.Sprintf("%s %s %d %s %d", t.spec.String(), keyField, t.ivOffset, t.devPath, t.startSector)
}

// Info returns the info-form status, which is defined to be empty.
func (t *Target) Info() string { return "" }
