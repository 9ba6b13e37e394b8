// Package casualerr defines the error taxonomy every casual component
// converts its failures into at the handler boundary.
package casualerr

import "fmt"

// Kind names one of the outcomes in the casual error taxonomy.
type Kind int

const (
	// KindOK is the zero value: no error.
	KindOK Kind = iota
	KindInvalidArgument
	KindInvalidConfiguration
	KindCommunicationUnavailable
	KindCommunicationRefused
	KindNoMessage
	KindTimeout
	KindServiceAbsent
	KindServiceBusy
	KindServiceError
	KindServiceFail
	KindTxRollback
	KindTxMixed
	KindTxHazard
	KindTxProtocol
	KindInternalUnexpected
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindInvalidArgument:
		return "invalid-argument"
	case KindInvalidConfiguration:
		return "invalid-configuration"
	case KindCommunicationUnavailable:
		return "communication-unavailable"
	case KindCommunicationRefused:
		return "communication-refused"
	case KindNoMessage:
		return "no-message"
	case KindTimeout:
		return "timeout"
	case KindServiceAbsent:
		return "service-absent"
	case KindServiceBusy:
		return "service-busy"
	case KindServiceError:
		return "service-error"
	case KindServiceFail:
		return "service-fail"
	case KindTxRollback:
		return "tx-rollback"
	case KindTxMixed:
		return "tx-mixed"
	case KindTxHazard:
		return "tx-hazard"
	case KindTxProtocol:
		return "tx-protocol"
	case KindInternalUnexpected:
		return "internal-unexpected"
	default:
		return "unknown"
	}
}

// Error is the structured error every casual package boundary returns.
type Error struct {
	Kind    Kind
	Message string
	Context map[string]any
}

func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s (context: %+v)", e.Kind, e.Message, e.Context)
}

// New constructs a taxonomy error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf constructs a taxonomy error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithContext attaches a context key/value, returning e for chaining.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var ce *Error
	if e, ok := err.(*Error); ok {
		ce = e
	} else {
		return false
	}
	return ce.Kind == kind
}

// KindOf extracts the Kind of err, or KindInternalUnexpected if err is
// not a *Error.
func KindOf(err error) Kind {
	if err == nil {
		return KindOK
	}
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return KindInternalUnexpected
}
