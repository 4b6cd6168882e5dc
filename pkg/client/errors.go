package client

import (
	"errors"
	"fmt"
)

// NoResponse is the normalized status code for exchanges that produced no
// usable HTTP status: connection failures and out-of-range codes.
const NoResponse = -1

// Kind classifies a failed operation.
type Kind int

const (
	KindNetwork Kind = iota + 1
	KindAuth
	KindRateLimited
	KindInvalidCode
	KindAlreadyRegistered
	KindNotRegistered
	KindServerRejected
	KindProtocol
	KindAuthUnavailable
)

var kindNames = map[Kind]string{
	KindNetwork:           "NetworkError",
	KindAuth:              "AuthError",
	KindRateLimited:       "RateLimited",
	KindInvalidCode:       "InvalidCode",
	KindAlreadyRegistered: "AlreadyRegistered",
	KindNotRegistered:     "NotRegistered",
	KindServerRejected:    "ServerRejected",
	KindProtocol:          "ProtocolError",
	KindAuthUnavailable:   "AuthUnavailable",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Messages shown to users. One sentence per kind so a UI can display them as-is.
const (
	msgNetwork           = "Failed to connect to the server, please check your network connection."
	msgRateLimited       = "Rate limit exceeded, please try again later."
	msgInvalidCode       = "Invalid code, please try again."
	msgAlreadyRegistered = "Number already registered."
	msgAuth              = "Invalid authentication, most likely someone re-registered and invalidated our registration."
	msgNotRegistered     = "Number is not registered."
	msgServerRejected    = "The server rejected our query, please file a bug report."
	msgAuthUnavailable   = "No stored credentials were found, register this device first."
)

type classification struct {
	kind    Kind
	message string
}

// statusTable is matched exactly; anything absent falls through to
// KindServerRejected.
var statusTable = map[int]classification{
	NoResponse: {KindNetwork, msgNetwork},
	413:        {KindRateLimited, msgRateLimited},
	403:        {KindInvalidCode, msgInvalidCode},
	417:        {KindAlreadyRegistered, msgAlreadyRegistered},
	401:        {KindAuth, msgAuth},
	404:        {KindNotRegistered, msgNotRegistered},
}

// Error is the record returned for every failed operation. Callers can use
// errors.As to inspect it:
//
//	var apiErr *client.Error
//	if errors.As(err, &apiErr) && apiErr.Kind == client.KindRateLimited {
//	    // back off
//	}
type Error struct {
	// Code is the normalized HTTP status, NoResponse when the server could
	// not be reached, or 0 when no exchange was attempted.
	Code int
	Kind Kind
	// Message is a human-readable sentence suitable for display.
	Message string
	// Body is the raw response body returned with the failing status, if any.
	Body []byte
	// Err is the underlying transport or decoding failure, if any.
	Err error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Code != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("textsecure: %s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("textsecure: %s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Name returns the error family: "HTTPError" for every status-derived kind,
// otherwise the kind name itself.
func (e *Error) Name() string {
	switch e.Kind {
	case KindProtocol, KindAuthUnavailable:
		return e.Kind.String()
	default:
		return "HTTPError"
	}
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind == kind
	}
	return false
}

// NormalizeStatus maps any code outside [0,999] to NoResponse.
func NormalizeStatus(code int) int {
	if code < 0 || code > 999 {
		return NoResponse
	}
	return code
}

// IsSuccess reports whether a normalized status is treated as success.
// Everything in [0,400) succeeds regardless of body content.
func IsSuccess(code int) bool {
	return code >= 0 && code < 400
}

// Classify maps a status code to an Error. The code is normalized first.
// Callers only invoke it once IsSuccess has returned false.
func Classify(code int, body []byte) *Error {
	code = NormalizeStatus(code)
	c, ok := statusTable[code]
	if !ok {
		c = classification{KindServerRejected, msgServerRejected}
	}
	return &Error{Code: code, Kind: c.kind, Message: c.message, Body: body}
}

// classifyStorage classifies a failed exchange against the attachment
// storage host. Only the network/non-network distinction is kept: storage
// statuses carry none of the messaging server's meanings.
func classifyStorage(code int, body []byte) *Error {
	code = NormalizeStatus(code)
	if code == NoResponse {
		return &Error{Code: code, Kind: KindNetwork, Message: msgNetwork, Body: body}
	}
	return &Error{Code: code, Kind: KindServerRejected, Message: msgServerRejected, Body: body}
}

func networkError(err error) *Error {
	return &Error{Code: NoResponse, Kind: KindNetwork, Message: msgNetwork, Err: err}
}

// transportError maps a Transport failure. An oversized body did get a
// response, so it is a protocol failure rather than a network one.
func transportError(err error) *Error {
	var tooLarge *BodyLimitError
	if errors.As(err, &tooLarge) {
		return &Error{
			Code:    NormalizeStatus(tooLarge.Status),
			Kind:    KindProtocol,
			Message: fmt.Sprintf("response exceeds maximum size of %d bytes", tooLarge.Limit),
			Err:     err,
		}
	}
	return networkError(err)
}

func protocolError(code int, format string, args ...any) *Error {
	return &Error{Code: code, Kind: KindProtocol, Message: fmt.Sprintf(format, args...)}
}

func authUnavailable(err error) *Error {
	return &Error{Kind: KindAuthUnavailable, Message: msgAuthUnavailable, Err: err}
}
