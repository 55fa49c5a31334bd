package bmff

import (
	"errors"
	"fmt"
)

// Kind classifies a parse, write, or decode failure.
type Kind int

const (
	// KindInvalidInput marks malformed syntax, an out-of-range
	// enumerated value, or a declared size inconsistent with the bytes
	// actually available.
	KindInvalidInput Kind = iota + 1

	// KindUnsupported marks structure that was recognized but is not
	// implemented, such as a nonzero box data version.
	KindUnsupported

	// KindUsage marks an invalid argument at the API boundary, such as
	// a value that does not fit its wire field.
	KindUsage

	// KindLimit marks a violated security limit: nesting depth or the
	// cumulative allocation ceiling.
	KindLimit
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid input"
	case KindUnsupported:
		return "unsupported feature"
	case KindUsage:
		return "usage error"
	case KindLimit:
		return "resource limit exceeded"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Sub-codes carried by Error. They are stable across releases so callers
// can match on them.
const (
	SubNone              uint32 = 0
	SubLimitExceeded     uint32 = 1000
	SubBadDataVersion    uint32 = 3002
	SubBadParameterValue uint32 = 5006
)

// Error is the error type returned for all failures with a taxonomy
// classification. Callers match with errors.As and inspect Kind or Sub.
type Error struct {
	Kind Kind
	Sub  uint32
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return e.Msg
}

func invalidf(sub uint32, format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidInput, Sub: sub, Msg: fmt.Sprintf(format, args...)}
}

func unsupportedf(sub uint32, format string, args ...interface{}) *Error {
	return &Error{Kind: KindUnsupported, Sub: sub, Msg: fmt.Sprintf(format, args...)}
}

func usagef(format string, args ...interface{}) *Error {
	return &Error{Kind: KindUsage, Msg: fmt.Sprintf(format, args...)}
}

func limitf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindLimit, Sub: SubLimitExceeded, Msg: fmt.Sprintf(format, args...)}
}

// unsupportedVersion is the shared failure for full boxes whose data
// version is not implemented. The message format is part of the
// diagnostic contract.
func unsupportedVersion(typ BoxType, version uint8) *Error {
	return unsupportedf(SubBadDataVersion, "%s box data version %d is not implemented yet", typ, version)
}

// IsKind reports whether err carries the given taxonomy kind.
func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}
