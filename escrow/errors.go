package escrow

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an escrow failure. Kinds are part of the wire surface:
// clients branch on them to decide between retrying, topping up funds and
// falling back to an off-chain wager.
type Kind string

const (
	// KindUserRejected means the signer declined the transaction.
	KindUserRejected Kind = "USER_REJECTED"
	// KindInsufficientBalance means the signer cannot pay gas.
	KindInsufficientBalance Kind = "INSUFFICIENT_BALANCE"
	// KindApprovalFailed means the operator approval transaction reverted.
	KindApprovalFailed Kind = "APPROVAL_FAILED"
	// KindNoEligibleCards means neither player owns a stakeable card.
	KindNoEligibleCards Kind = "NO_ELIGIBLE_CARDS"
	// KindChainError covers every other node or contract failure.
	KindChainError Kind = "CHAIN_ERROR"
)

// ErrRejected is the sentinel a Signer returns when its owner declines to
// sign. Wrapping it is enough; Classify maps it to KindUserRejected.
var ErrRejected = errors.New("signer rejected transaction")

// Error is a classified escrow failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the failure kind, defaulting to KindChainError for
// unclassified errors.
func KindOf(err error) Kind {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return KindChainError
}

// Classify wraps a raw chain error with a kind derived from its cause.
func Classify(op string, err error) *Error {
	kind := KindChainError
	switch {
	case errors.Is(err, ErrRejected):
		kind = KindUserRejected
	case strings.Contains(err.Error(), "insufficient funds"):
		kind = KindInsufficientBalance
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func classified(kind Kind, op string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}
