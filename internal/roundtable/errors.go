package roundtable

import (
	"errors"
	"fmt"
)

// FailureKind classifies rejected operations. None of these are retried
// internally; they reflect precondition violations, not transient faults.
type FailureKind string

const (
	KindNotFound        FailureKind = "not_found"
	KindInvalidState    FailureKind = "invalid_state"
	KindDuplicateMember FailureKind = "duplicate_member"
	KindLimitExceeded   FailureKind = "limit_exceeded"
	KindNotEligible     FailureKind = "not_eligible"
	KindInvalidTarget   FailureKind = "invalid_target"
)

// Error is a rejected operation with its failure kind attached.
type Error struct {
	Kind FailureKind
	msg  string
}

func (e *Error) Error() string { return e.msg }

// Errorf builds a kinded error. Collaborating packages use it so their
// failures map onto the same taxonomy.
func Errorf(kind FailureKind, format string, args ...any) error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the failure kind from err, or "" for plain errors.
func KindOf(err error) FailureKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given failure kind.
func IsKind(err error, kind FailureKind) bool {
	return KindOf(err) == kind
}
