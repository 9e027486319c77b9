package ledger

import (
	"errors"
	"fmt"
)

// TamperError reports a failed integrity check. It is fatal: the processor
// freezes the system and blocks all future transactions until the ledger is
// remediated out of band.
type TamperError struct {
	Sequence uint64
	Reason   string
}

func (e *TamperError) Error() string {
	return fmt.Sprintf("ledger tampering detected at sequence %d: %s", e.Sequence, e.Reason)
}

func NewTamperError(sequence uint64, reason string) *TamperError {
	return &TamperError{Sequence: sequence, Reason: reason}
}

func IsTamperError(err error) bool {
	var te *TamperError
	return errors.As(err, &te)
}
