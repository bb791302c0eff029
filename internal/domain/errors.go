package domain

import "errors"

// ErrorKind classifies failures surfaced to the status line.
type ErrorKind int

const (
	KindLinkInvalid ErrorKind = iota + 1
	KindNegotiation
	KindTransport
	KindExpired
)

func (k ErrorKind) String() string {
	switch k {
	case KindLinkInvalid:
		return "link_invalid"
	case KindNegotiation:
		return "negotiation"
	case KindTransport:
		return "transport"
	case KindExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Error carries a human-readable message suitable for the status line.
// Error() returns only Msg; the underlying cause is available via Unwrap.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Msg == "" && e.Err != nil {
		return e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind with no message, so the
// sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

var (
	ErrLinkInvalid    = &Error{Kind: KindLinkInvalid, Msg: "link is missing session or auth"}
	ErrSessionExpired = &Error{Kind: KindExpired, Msg: "link expired"}
	ErrClosed         = errors.New("controller closed")
)

// NegotiationError builds a KindNegotiation error.
func NegotiationError(msg string, cause error) *Error {
	return &Error{Kind: KindNegotiation, Msg: msg, Err: cause}
}

// TransportError builds a KindTransport error.
func TransportError(msg string, cause error) *Error {
	return &Error{Kind: KindTransport, Msg: msg, Err: cause}
}

// KindOf returns the kind of err, or 0 when err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
