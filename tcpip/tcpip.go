// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tcpip holds the value types shared across the transport
// core: the typed error taxonomy callers switch on, address values,
// and protocol number constants.
package tcpip

import "fmt"

// ErrorKind enumerates the conceptual error conditions the core can
// surface to a caller. Kinds are deliberately few and coarse; mapping
// them to platform-specific error codes (errno, a syscall facade's own
// constants) is a concern for the code embedding this package.
type ErrorKind int

// The error kinds a caller may need to branch on.
const (
	NotConnected ErrorKind = iota
	AlreadyConnected
	ConnectionInProgress
	DestinationRequired
	BrokenPipe
	AddressInUse
	AddressFamilyUnsupported
	NetworkUnreachable
	PermissionDenied
	ConnectionRefused
	ConnectionReset
	ConnectionAborted
	ConnectionTimedOut
	WouldBlock
	Interrupted
	Invalid
)

var kindNames = map[ErrorKind]string{
	NotConnected:             "endpoint is not connected",
	AlreadyConnected:         "endpoint is already connected",
	ConnectionInProgress:     "connection attempt in progress",
	DestinationRequired:      "no destination address given",
	BrokenPipe:               "broken pipe",
	AddressInUse:             "address in use",
	AddressFamilyUnsupported: "address family not supported",
	NetworkUnreachable:       "network is unreachable",
	PermissionDenied:         "permission denied",
	ConnectionRefused:        "connection refused",
	ConnectionReset:          "connection reset by peer",
	ConnectionAborted:        "connection aborted",
	ConnectionTimedOut:       "connection timed out",
	WouldBlock:               "operation would block",
	Interrupted:              "interrupted",
	Invalid:                  "invalid argument",
}

// Error is the error type returned by every operation in this module.
// It carries one of the ErrorKind values above plus, optionally, the
// lower-level cause that produced it. Error supports errors.Is and
// errors.As: callers can compare against the package-level sentinels
// below (Is matches on Kind, ignoring Cause) or unwrap to inspect the
// original cause.
type Error struct {
	Kind  ErrorKind
	Cause error
}

// New returns an *Error of the given kind with no wrapped cause.
func New(kind ErrorKind) *Error {
	return &Error{Kind: kind}
}

// Wrap returns an *Error of the given kind that wraps cause.
func Wrap(kind ErrorKind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

func (e *Error) Error() string {
	msg := kindNames[e.Kind]
	if msg == "" {
		msg = "unknown error"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap lets errors.Unwrap/errors.As reach the wrapped cause.
func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, tcpip.ErrConnectionReset) work regardless of
// any wrapped cause: two *Error values are equivalent if they carry
// the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinel errors for the kinds callers most commonly compare against
// with errors.Is. Each is a fresh, cause-less *Error of its kind;
// because Is compares by Kind, any equivalently-kinded Error (wrapped
// cause or not) matches these.
var (
	ErrNotConnected             = New(NotConnected)
	ErrAlreadyConnected         = New(AlreadyConnected)
	ErrConnectionInProgress     = New(ConnectionInProgress)
	ErrDestinationRequired      = New(DestinationRequired)
	ErrBrokenPipe               = New(BrokenPipe)
	ErrAddressInUse             = New(AddressInUse)
	ErrAddressFamilyUnsupported = New(AddressFamilyUnsupported)
	ErrNetworkUnreachable       = New(NetworkUnreachable)
	ErrPermissionDenied         = New(PermissionDenied)
	ErrConnectionRefused        = New(ConnectionRefused)
	ErrConnectionReset          = New(ConnectionReset)
	ErrConnectionAborted        = New(ConnectionAborted)
	ErrConnectionTimedOut       = New(ConnectionTimedOut)
	ErrWouldBlock               = New(WouldBlock)
	ErrInterrupted              = New(Interrupted)
	ErrInvalidEndpointState     = New(Invalid)
)

// Address is a raw network-layer address, opaque to this package.
type Address string

// FullAddress is an address/port pair, the unit endpoints bind, listen,
// and connect with.
type FullAddress struct {
	Addr Address
	Port uint16
}

// NetworkProtocolNumber identifies a network-layer protocol.
type NetworkProtocolNumber uint32

// TransportProtocolNumber identifies a transport-layer protocol.
type TransportProtocolNumber uint32
