package status

import "sync"

// State is the process-wide disbursement state. ACTIVE is the only state from
// which transactions proceed; LOCKED and FROZEN are terminal and require
// out-of-band intervention to clear.
type State string

const (
	Active State = "ACTIVE"
	Locked State = "LOCKED"
	Frozen State = "FROZEN"
)

// Holder guards the shared state. Transitions are forward-only: once LOCKED
// or FROZEN, the holder never returns to ACTIVE.
type Holder struct {
	mu    sync.RWMutex
	state State
}

func NewHolder() *Holder {
	return &Holder{state: Active}
}

func (h *Holder) Current() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// MarkLocked records budget exhaustion. A FROZEN holder stays frozen.
func (h *Holder) MarkLocked() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == Active {
		h.state = Locked
	}
}

// MarkFrozen records detected ledger tampering. Freezing wins over any other
// state.
func (h *Holder) MarkFrozen() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = Frozen
}
