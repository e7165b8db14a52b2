package kernel

import "fmt"

// Hook observes the transaction lifecycle. BeforeCommit may veto the commit
// by returning an error; the transaction then rolls back and the error is
// surfaced as the commit's failure reason. Each callback fires at most once
// per transaction.
type Hook interface {
	BeforeCommit(state *TxState) error
	AfterCommit(state *TxState)
	AfterRollback(state *TxState)
}

// Hooks fans out to every registered hook.
type Hooks struct {
	hooks []Hook
}

func NewHooks(hooks ...Hook) *Hooks {
	return &Hooks{hooks: hooks}
}

func (h *Hooks) Register(hook Hook) {
	h.hooks = append(h.hooks, hook)
}

func (h *Hooks) BeforeCommit(state *TxState) error {
	for _, hook := range h.hooks {
		if err := hook.BeforeCommit(state); err != nil {
			return fmt.Errorf("%w: %v", ErrHookFailed, err)
		}
	}

	return nil
}

func (h *Hooks) AfterCommit(state *TxState) {
	for _, hook := range h.hooks {
		hook.AfterCommit(state)
	}
}

func (h *Hooks) AfterRollback(state *TxState) {
	for _, hook := range h.hooks {
		hook.AfterRollback(state)
	}
}
