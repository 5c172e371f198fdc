// Package cos (named after, and populated the way, the teacher's cmn/cos
// package is) holds small value types and errors shared across the
// daemon: the error taxonomy of the HTTP-facing transfer core, and a
// handful of byte-range/IO helpers that don't deserve their own package.

package cos

import (
	"fmt"
	"net/http"
)

// HTTPError is any error that knows the status code it maps to, mirroring
// cmn.WriteErr's dispatch on typed errors rather than string sniffing.
type HTTPError interface {
	error
	StatusCode() int
}

// ValidationError covers bad JSON, bad field type/range, a missing
// required field, an unsupported URL scheme, or a bad Range header.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string   { return e.Msg }
func (e *ValidationError) StatusCode() int { return http.StatusBadRequest }

func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// AuthKind distinguishes the four ways authorization can fail.
type AuthKind int

const (
	AuthNoTicket AuthKind = iota
	AuthExpired
	AuthCanceled
	AuthForbiddenOp
)

// AuthError covers: no such ticket, expired, canceled, forbidden op.
type AuthError struct {
	Kind AuthKind
	Msg  string
}

func (e *AuthError) Error() string   { return e.Msg }
func (e *AuthError) StatusCode() int { return http.StatusForbidden }

func NewAuthError(kind AuthKind, format string, args ...interface{}) *AuthError {
	return &AuthError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// RangeError covers a request that exceeds the ticket or backend size; it
// carries the limit so the handler can render "Content-Range: bytes */N".
type RangeError struct {
	Msg   string
	Limit int64
}

func (e *RangeError) Error() string   { return e.Msg }
func (e *RangeError) StatusCode() int { return http.StatusRequestedRangeNotSatisfiable }

func NewRangeError(limit int64, format string, args ...interface{}) *RangeError {
	return &RangeError{Limit: limit, Msg: fmt.Sprintf(format, args...)}
}

// PartialContentError: the client's body ended before Content-Length bytes
// arrived.
type PartialContentError struct {
	Expected, Got int64
}

func (e *PartialContentError) Error() string {
	return fmt.Sprintf("partial content: expected %d bytes, got %d", e.Expected, e.Got)
}
func (e *PartialContentError) StatusCode() int { return http.StatusBadRequest }

// NotFoundError covers an unknown ticket or an unsupported extents context.
type NotFoundError struct {
	Msg string
}

func (e *NotFoundError) Error() string   { return e.Msg }
func (e *NotFoundError) StatusCode() int { return http.StatusNotFound }

func NewNotFoundError(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Msg: fmt.Sprintf(format, args...)}
}

// ConflictError: cancellation timed out on DELETE /tickets.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string   { return e.Msg }
func (e *ConflictError) StatusCode() int { return http.StatusConflict }

func NewConflictError(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Msg: fmt.Sprintf(format, args...)}
}

// MethodNotAllowedError covers a backend lacking a requested capability
// (e.g. dirty extents, zero) where the taxonomy calls for 405.
type MethodNotAllowedError struct {
	Msg     string
	Allowed []string
}

func (e *MethodNotAllowedError) Error() string   { return e.Msg }
func (e *MethodNotAllowedError) StatusCode() int { return http.StatusMethodNotAllowed }
