package recorder

import "fmt"

// InvalidArgumentError reports a caller contract violation (spec §4.5,
// §7): a negative pid, an empty target, or an unsupported event code where
// one is required. Mirrors the teacher's typed-error-plus-predicate style
// (*globalPoisonPillError / isGlobalPoisonPill) rather than a bare
// errors.New, since callers need to branch on the category, not just log
// the string.
type InvalidArgumentError struct {
	msg string
}

func (e *InvalidArgumentError) Error() string { return "invalid argument: " + e.msg }

func invalidArgument(format string, args ...interface{}) *InvalidArgumentError {
	return &InvalidArgumentError{msg: fmt.Sprintf(format, args...)}
}

// IsInvalidArgument reports whether err is an InvalidArgumentError.
func IsInvalidArgument(err error) bool {
	_, ok := err.(*InvalidArgumentError)
	return ok
}
