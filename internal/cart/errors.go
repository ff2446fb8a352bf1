package cart

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("no active cart")

	// ErrTransientConflict is returned when the store could not commit
	// because of concurrent contention. Retrying the same call may succeed.
	ErrTransientConflict = errors.New("transient conflict")
)

type Kind string

const (
	KindInvalidQuantity       Kind = "invalid_quantity"
	KindPerUserLimitExceeded  Kind = "per_user_limit_exceeded"
	KindOutsideEligibleWindow Kind = "outside_eligible_window"
	KindCeilingExceeded       Kind = "ceiling_exceeded"
)

// ValidationError is a deterministic business-rule rejection. Retrying
// without new input reproduces it.
type ValidationError struct {
	Kind   Kind
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// Is matches any ValidationError of the same kind, so callers can use the
// sentinels below with errors.Is.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Kind == e.Kind
}

var (
	ErrInvalidQuantity       = &ValidationError{Kind: KindInvalidQuantity, Reason: "quantity must be positive"}
	ErrPerUserLimitExceeded  = &ValidationError{Kind: KindPerUserLimitExceeded, Reason: "per-user limit exceeded"}
	ErrOutsideEligibleWindow = &ValidationError{Kind: KindOutsideEligibleWindow, Reason: "outside eligible window"}
	ErrCeilingExceeded       = &ValidationError{Kind: KindCeilingExceeded, Reason: "ceiling exceeded"}
)
