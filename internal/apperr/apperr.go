package apperr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

type Kind string

const (
	KindConnection Kind = "connection"
	KindAuth       Kind = "auth"
	KindNotFound   Kind = "not_found"
	KindFormat     Kind = "format"
	KindTimeout    Kind = "timeout"
	KindCancelled  Kind = "cancelled"
	KindConfig     Kind = "config"
	// KindRequest covers 4xx rejections that are neither auth nor not-found.
	KindRequest Kind = "request"
)

// Error is the typed failure returned by backends, the transfer engine and the
// backup manager. Op names the operation, Message is meant for humans.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the outermost *Error in the chain, or "" when the
// chain carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Transient reports whether err is worth retrying.
func Transient(err error) bool {
	switch KindOf(err) {
	case KindConnection, KindTimeout:
		return true
	}
	return false
}

func FromStatus(op string, code int) *Error {
	switch {
	case code == http.StatusUnauthorized:
		return New(KindAuth, op, "authentication failed, check username and password")
	case code == http.StatusForbidden:
		return New(KindAuth, op, "permission denied")
	case code == http.StatusNotFound:
		return New(KindNotFound, op, "object not found")
	case code == http.StatusRequestTimeout:
		return New(KindTimeout, op, "server timed out")
	case code == http.StatusTooManyRequests || code >= 500:
		return Errorf(KindConnection, op, "server returned %d %s", code, http.StatusText(code))
	}
	return Errorf(KindRequest, op, "unexpected status %d %s", code, http.StatusText(code))
}

// FromTransport classifies an error returned by an HTTP round trip.
func FromTransport(op string, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.Canceled) {
		return Wrap(KindCancelled, op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(KindTimeout, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Wrap(KindTimeout, op, err)
	}
	return Wrap(KindConnection, op, err)
}
