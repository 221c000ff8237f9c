// Package lladerr defines the daemon's error taxonomy.
//
// Errors are grouped into categories (NotFound, Conflict, Invalid, Transient,
// Fatal) so callers can dispatch on category with errors.Is/As instead of
// string-matching, while each sentinel still carries the short code used in
// logs and in the service facade's replies.
package lladerr

import "fmt"

// Category groups related error codes for dispatch by callers.
type Category int

const (
	NotFound Category = iota
	Conflict
	Invalid
	Transient
	Fatal
)

func (c Category) String() string {
	switch c {
	case NotFound:
		return "NotFound"
	case Conflict:
		return "Conflict"
	case Invalid:
		return "Invalid"
	case Transient:
		return "Transient"
	case Fatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// Error is a daemon error: a stable code, the category it belongs to, and an
// optional wrapped cause.
type Error struct {
	Code     string
	Category Category
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Cause)
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, lladerr.UniverseMissing) to match regardless of
// a wrapped cause, by comparing codes.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func newErr(code string, cat Category) *Error {
	return &Error{Code: code, Category: cat}
}

// Wrap attaches a cause to a sentinel without losing its code/category.
func Wrap(sentinel *Error, cause error) *Error {
	return &Error{Code: sentinel.Code, Category: sentinel.Category, Cause: cause}
}

// Sentinels named directly from spec §7.
var (
	UniverseMissing = newErr("UNIVERSE_MISSING", NotFound)
	PortUnknown     = newErr("PORT_UNKNOWN", NotFound)
	UIDUnknown      = newErr("UID_UNKNOWN", NotFound)

	DeviceAlreadyRegistered = newErr("DEVICE_ALREADY_REGISTERED", Conflict)
	RDMInFlight             = newErr("RDM_IN_FLIGHT", Conflict)
	DiscoveryInProgress     = newErr("RDM_DISCOVERY_IN_PROGRESS", Conflict)

	PortIDOutOfRange   = newErr("PORT_ID_OUT_OF_RANGE", Invalid)
	MalformedPacket    = newErr("MALFORMED_PACKET", Invalid)
	VersionMismatch    = newErr("VERSION_MISMATCH", Invalid)
	PriorityOutOfRange = newErr("PRIORITY_OUT_OF_RANGE", Invalid)

	Timeout    = newErr("TIMEOUT", Transient)
	SendFailed = newErr("SEND_FAILED", Transient)
	CantSend   = newErr("CANT_SEND", Transient)

	WaitFailed = newErr("WAIT_FAILED", Fatal)
)
