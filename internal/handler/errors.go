package handler

import (
	"errors"
	"fmt"
)

// Kind classifies why a handshake ended.
type Kind int

const (
	KindBufferUnderrun Kind = iota + 1
	KindCryptoFailure
	KindProtocolTooOld
	KindProtocolOutOfRange
	KindServerStarting
	KindServerMaintenance
	KindServerShutdown
	KindIPBanned
	KindInvalidAuthToken
	KindInvalidAccountName
	KindAuthenticationFailed
	KindChallengeRejected
	KindInternal // store or dispatcher failure
)

var kindNames = map[Kind]string{
	KindBufferUnderrun:       "BufferUnderrun",
	KindCryptoFailure:        "CryptoFailure",
	KindProtocolTooOld:       "ProtocolTooOld",
	KindProtocolOutOfRange:   "ProtocolOutOfRange",
	KindServerStarting:       "ServerStarting",
	KindServerMaintenance:    "ServerMaintenance",
	KindServerShutdown:       "ServerShutdown",
	KindIPBanned:             "IpBanned",
	KindInvalidAuthToken:     "InvalidAuthToken",
	KindInvalidAccountName:   "InvalidAccountName",
	KindAuthenticationFailed: "AuthenticationFailed",
	KindChallengeRejected:    "ChallengeRejected",
	KindInternal:             "Internal",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is a terminal handshake outcome. Msg is the text shown to the client;
// an empty Msg means the connection is dropped without a response.
type Error struct {
	Kind  Kind
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	s := e.Kind.String()
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Inner != nil {
		s += ": " + e.Inner.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Inner }

// IsKind reports whether err is a handshake Error of kind k.
func IsKind(err error, k Kind) bool {
	var he *Error
	return errors.As(err, &he) && he.Kind == k
}

// KindOf returns the Kind of err, or 0 if err is not a handshake Error.
func KindOf(err error) Kind {
	var he *Error
	if errors.As(err, &he) {
		return he.Kind
	}
	return 0
}

func newError(k Kind, msg string, inner error) *Error {
	return &Error{Kind: k, Msg: msg, Inner: inner}
}
