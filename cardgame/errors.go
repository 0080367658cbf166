package cardgame

import "fmt"

// RuleCode identifies why an action was rejected. Codes are part of the wire
// surface: they are sent back to the offending client verbatim.
type RuleCode string

const (
	CodeInvalidAction           RuleCode = "INVALID_ACTION"
	CodeNotYourTurn             RuleCode = "NOT_YOUR_TURN"
	CodeBadPhase                RuleCode = "BAD_PHASE"
	CodeNoActiveCard            RuleCode = "NO_ACTIVE_CARD"
	CodeSlotOccupied            RuleCode = "SLOT_OCCUPIED"
	CodeInsufficientEnergy      RuleCode = "INSUFFICIENT_ENERGY"
	CodeInsufficientRetreatCost RuleCode = "INSUFFICIENT_RETREAT_COST"
)

// RuleError is a validation failure. The battle state is guaranteed
// unchanged when one is returned.
type RuleError struct {
	Code RuleCode
	msg  string
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.msg)
}

func ruleErrorf(code RuleCode, format string, args ...interface{}) *RuleError {
	return &RuleError{Code: code, msg: fmt.Sprintf(format, args...)}
}

// IsRuleError reports whether err is a rule violation and returns its code.
func IsRuleError(err error) (RuleCode, bool) {
	re, ok := err.(*RuleError)
	if !ok {
		return "", false
	}
	return re.Code, true
}
