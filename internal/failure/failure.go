// Package failure defines the closed error taxonomy shared by every pipeline
// stage. Local failures (decode, invalid image, oversize payload) and network
// failures from the recognition client are reported through the same Error
// type so the controller can surface a single human-readable reason.
package failure

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure. The set is closed; callers switch on it.
type Kind string

const (
	KindDecode            Kind = "decode_error"
	KindInvalidImage      Kind = "invalid_image"
	KindPayloadTooLarge   Kind = "payload_too_large"
	KindTimeout           Kind = "timeout"
	KindConnectionRefused Kind = "connection_refused"
	KindTLS               Kind = "tls_failure"
	KindBadRequest        Kind = "bad_request"
	KindServerError       Kind = "server_error"
	KindServerUnavailable Kind = "server_unavailable"
	KindHTTP              Kind = "http_error"
	KindMalformedResponse Kind = "malformed_response"
	KindUnknown           Kind = "unknown"
)

// Kinds lists every kind in a stable order.
var Kinds = []Kind{
	KindDecode, KindInvalidImage, KindPayloadTooLarge,
	KindTimeout, KindConnectionRefused, KindTLS,
	KindBadRequest, KindServerError, KindServerUnavailable, KindHTTP,
	KindMalformedResponse, KindUnknown,
}


// Error is a classified failure.
type Error struct {
	Kind Kind
	// Op names the stage that failed ("decode", "transform", "encode", "upload", ...).
	Op string
	// Status is the HTTP status code for HTTP-derived kinds, 0 otherwise.
	Status int
	// Msg is an optional detail appended to the reason.
	Msg string
	Err error
}

func (e *Error) Error() string {
	var detail string
	switch {
	case e.Msg != "" && e.Err != nil:
		detail = fmt.Sprintf("%s: %v", e.Msg, e.Err)
	case e.Msg != "":
		detail = e.Msg
	case e.Err != nil:
		detail = e.Err.Error()
	}
	if e.Status != 0 {
		if detail == "" {
			return fmt.Sprintf("%s %s: status %d", e.Op, e.Kind, e.Status)
		}
		return fmt.Sprintf("%s %s: status %d: %s", e.Op, e.Kind, e.Status, detail)
	}
	if detail == "" {
		return fmt.Sprintf("%s %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Kind, detail)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Op == "" && t.Status == 0 && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrDecode            = &Error{Kind: KindDecode}
	ErrInvalidImage      = &Error{Kind: KindInvalidImage}
	ErrPayloadTooLarge   = &Error{Kind: KindPayloadTooLarge}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrConnectionRefused = &Error{Kind: KindConnectionRefused}
	ErrTLS               = &Error{Kind: KindTLS}
	ErrBadRequest        = &Error{Kind: KindBadRequest}
	ErrServerError       = &Error{Kind: KindServerError}
	ErrServerUnavailable = &Error{Kind: KindServerUnavailable}
	ErrHTTP              = &Error{Kind: KindHTTP}
	ErrMalformedResponse = &Error{Kind: KindMalformedResponse}
	ErrUnknown           = &Error{Kind: KindUnknown}
)

// New builds a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds a classified error with a formatted detail message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// FromStatus classifies a non-2xx HTTP status code.
func FromStatus(op string, status int, body string) *Error {
	e := &Error{Op: op, Status: status}
	switch status {
	case http.StatusBadRequest:
		e.Kind = KindBadRequest
	case http.StatusRequestEntityTooLarge:
		e.Kind = KindPayloadTooLarge
	case http.StatusInternalServerError:
		e.Kind = KindServerError
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		e.Kind = KindServerUnavailable
	default:
		e.Kind = KindHTTP
		e.Msg = body
	}
	return e
}

// KindOf returns the kind of err, KindUnknown for unclassified errors and ""
// for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// Reason renders err as a short, human-readable cause for presentation.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return "unexpected error: " + err.Error()
	}
	switch e.Kind {
	case KindDecode:
		return "the captured image could not be decoded"
	case KindInvalidImage:
		return "the image has invalid dimensions"
	case KindPayloadTooLarge:
		if Local(e) {
			return "the image is too large, compress it and try again"
		}
		return fmt.Sprintf("the image is too large, the server refused it (%d)", e.Status)
	case KindTimeout:
		return "the request timed out, check the network connection"
	case KindConnectionRefused:
		return "cannot connect to the server, check the server address"
	case KindTLS:
		return "secure connection handshake failed"
	case KindBadRequest:
		return "the request was rejected as invalid (400)"
	case KindServerError:
		return "internal server error (500)"
	case KindServerUnavailable:
		return fmt.Sprintf("server temporarily unavailable (%d)", e.Status)
	case KindHTTP:
		if e.Msg != "" {
			return fmt.Sprintf("server error %d: %s", e.Status, e.Msg)
		}
		return fmt.Sprintf("server error %d", e.Status)
	case KindMalformedResponse:
		return "the server response could not be parsed"
	default:
		if e.Err != nil {
			return "network error: " + e.Err.Error()
		}
		if e.Msg != "" {
			return "network error: " + e.Msg
		}
		return "unknown error"
	}
}

// Local reports whether err was raised before any network call: a capture
// that does not decode, or a payload over the local ceiling. An oversize
// refusal from the server carries its status and is not local.
func Local(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindDecode, KindInvalidImage:
		return true
	case KindPayloadTooLarge:
		return e.Status == 0
	default:
		return false
	}
}

// HTTPStatus maps a failure to the status code the presentation server answers with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindDecode, KindInvalidImage:
		return http.StatusUnprocessableEntity
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindConnectionRefused, KindTLS, KindServerError, KindServerUnavailable, KindHTTP,
		KindBadRequest, KindMalformedResponse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
