// Package apperr carries the exchange's typed error kinds (spec.md §7) as
// first-class values instead of ad hoc strings, so the HTTP layer can map
// them to status codes without string matching.
package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-multierror"
)

type Kind string

const (
	Unauthenticated    Kind = "UNAUTHENTICATED"
	Forbidden          Kind = "FORBIDDEN"
	Validation         Kind = "VALIDATION"
	UnknownTicker      Kind = "UNKNOWN_TICKER"
	InsufficientFunds  Kind = "INSUFFICIENT_FUNDS"
	OrderNotFound      Kind = "ORDER_NOT_FOUND"
	CannotCancel       Kind = "CANNOT_CANCEL"
	Conflict           Kind = "CONFLICT"
	Internal           Kind = "INTERNAL"
)

// Error is a typed, HTTP-status-bearing application error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Status maps a Kind to the HTTP status code spec.md §6 prescribes.
func (k Kind) Status() int {
	switch k {
	case Unauthenticated:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case Validation, InsufficientFunds, CannotCancel:
		return http.StatusBadRequest
	case UnknownTicker, OrderNotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func New(k Kind, msg string) *Error { return &Error{Kind: k, Msg: msg} }

func Wrap(k Kind, msg string, err error) *Error { return &Error{Kind: k, Msg: msg, Err: err} }

// As extracts an *Error from err, if any wraps one.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// StatusFor returns the HTTP status for any error: typed apperr.Error use
// their own Kind, everything else is INTERNAL.
func StatusFor(err error) int {
	if e, ok := As(err); ok {
		return e.Kind.Status()
	}
	return http.StatusInternalServerError
}

// WriteJSON writes err as a JSON error body with the status its Kind maps
// to, in the same shape the teacher's jsonErr helper used.
func WriteJSON(w http.ResponseWriter, err error) {
	kind := string(Internal)
	msg := err.Error()
	if e, ok := As(err); ok {
		kind = string(e.Kind)
		msg = e.Msg
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(StatusFor(err))
	json.NewEncoder(w).Encode(map[string]string{"error": kind, "message": msg})
}

// Validator accumulates field validation failures with go-multierror so a
// single request can report every problem at once instead of failing fast
// on the first bad field.
type Validator struct {
	errs *multierror.Error
}

func (v *Validator) Require(cond bool, format string, args ...any) {
	if !cond {
		v.errs = multierror.Append(v.errs, fmt.Errorf(format, args...))
	}
}

// Err returns a single VALIDATION *Error summarizing every accumulated
// failure, or nil if none were recorded.
func (v *Validator) Err() error {
	if v.errs == nil || v.errs.Len() == 0 {
		return nil
	}
	v.errs.ErrorFormat = func(errs []error) string {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		out := msgs[0]
		for _, m := range msgs[1:] {
			out += "; " + m
		}
		return out
	}
	return Wrap(Validation, "validation failed", v.errs)
}
