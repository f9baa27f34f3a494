package onvif

import (
	"fmt"
	"net"
	"strings"

	"github.com/juju/errors"
)

// Sentinel classes returned by the bootstrap sequence. Test with errors.Is.
var (
	// ErrNotSupported is reported when a device does not advertise the
	// requested capability.
	ErrNotSupported = errors.NotSupported

	// ErrInvalidConfiguration is reported for unusable addresses or options,
	// before any network activity takes place.
	ErrInvalidConfiguration = errors.NotValid
)

// TransportError reports a call that could not complete: connection
// refused, DNS failure, a per-phase timeout, or an HTTP error status without
// a SOAP fault in the body.
type TransportError struct {
	Op      string // "open", "close", or the SOAP action
	Address string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("onvif: %s %s: %v", e.Op, e.Address, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was caused by a configured timeout.
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, errors.Timeout) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// FaultError is a SOAP fault returned by the device. Codes keep their
// namespace prefix as sent (e.g. "ter:NotAuthorized").
type FaultError struct {
	Code       string
	Subcode    string
	Reason     string
	Detail     string
	StatusCode int
}

func (e *FaultError) Error() string {
	var b strings.Builder
	b.WriteString("onvif: SOAP fault")
	if e.Code != "" {
		b.WriteString(" ")
		b.WriteString(e.Code)
	}
	if e.Subcode != "" {
		b.WriteString("/")
		b.WriteString(e.Subcode)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Detail != "" {
		b.WriteString(" (")
		b.WriteString(e.Detail)
		b.WriteString(")")
	}
	return b.String()
}

// HasSubcode reports whether the fault subcode matches name, ignoring the
// namespace prefix.
func (e *FaultError) HasSubcode(name string) bool {
	return localName(e.Subcode) == localName(name)
}

// NotAuthorized reports whether the device rejected the credentials.
func (e *FaultError) NotAuthorized() bool {
	return e.HasSubcode("NotAuthorized") || e.HasSubcode("FailedAuthentication")
}

// IsFault reports whether err carries a SOAP fault from the device.
func IsFault(err error) bool {
	var fault *FaultError
	return errors.As(err, &fault)
}

// IsTransport reports whether err is a transport level failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

func localName(qname string) string {
	if i := strings.LastIndexByte(qname, ':'); i >= 0 {
		return qname[i+1:]
	}
	return qname
}
