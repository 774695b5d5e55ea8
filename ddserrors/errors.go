// Package ddserrors defines the tagged error taxonomy returned by
// application-visible operations (write/read/take, entity creation, QoS
// changes). Recoverable conditions are always returned as a *Error, never
// raised as a panic.
package ddserrors

import "fmt"

// Code identifies the class of failure.
type Code int

const (
	// Timeout indicates a blocking call exceeded its deadline.
	Timeout Code = iota
	// OutOfResources indicates a KEEP_ALL cache or bounded queue is full.
	OutOfResources
	// PreconditionNotMet indicates an operation's precondition failed
	// (e.g. deleting a Participant that still owns entities).
	PreconditionNotMet
	// BadParameter indicates an invalid argument was supplied.
	BadParameter
	// NotEnabled indicates the entity has not been enabled yet.
	NotEnabled
	// AlreadyDeleted indicates the entity was already torn down.
	AlreadyDeleted
	// IllegalOperation indicates an operation not valid for this entity.
	IllegalOperation
	// NoData indicates a read/take found nothing matching the filter.
	NoData
	// InconsistentPolicy indicates two QoS policies conflict with
	// each other, or offered/requested policies are incompatible.
	InconsistentPolicy
	// ImmutablePolicy indicates a post-enable change to a non-mutable
	// QoS policy was rejected.
	ImmutablePolicy
	// WireFormat indicates a wire parse failure.
	WireFormat
	// TransportFailure indicates a send/receive failure at the
	// transport layer.
	TransportFailure
)

func (c Code) String() string {
	switch c {
	case Timeout:
		return "Timeout"
	case OutOfResources:
		return "OutOfResources"
	case PreconditionNotMet:
		return "PreconditionNotMet"
	case BadParameter:
		return "BadParameter"
	case NotEnabled:
		return "NotEnabled"
	case AlreadyDeleted:
		return "AlreadyDeleted"
	case IllegalOperation:
		return "IllegalOperation"
	case NoData:
		return "NoData"
	case InconsistentPolicy:
		return "InconsistentPolicy"
	case ImmutablePolicy:
		return "ImmutablePolicy"
	case WireFormat:
		return "WireFormat"
	case TransportFailure:
		return "TransportFailure"
	default:
		return "Unknown"
	}
}

// Error is the tagged error type returned by this module's public API.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a tagged Error with a formatted message.
func New(code Code, format string, a ...interface{}) *Error {
	return &Error{Code: code, Err: fmt.Errorf(format, a...)}
}

// Wrap tags an existing error with a Code.
func Wrap(code Code, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Err: err}
}

// Is reports whether err is an *Error with the given Code.
func Is(err error, code Code) bool {
	var de *Error
	if e, ok := err.(*Error); ok {
		de = e
	} else {
		return false
	}
	return de.Code == code
}
