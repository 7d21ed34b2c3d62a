package apperrors

import (
	"errors"
	"strings"
)

type appError struct {
	msg         string
	base        error
	wrapped     []error
	statusCode  int
	expandError bool
	temporary   bool
}

func (e *appError) Error() string {
	return e.msg
}

func (e *appError) ErrorAll() string {
	if !e.expandError || len(e.wrapped) == 0 {
		return e.Error()
	}
	parts := make([]string, 0, len(e.wrapped)+1)
	parts = append(parts, e.msg)
	for _, err := range e.wrapped {
		parts = append(parts, err.Error())
	}
	return strings.Join(parts, "; ")
}

func (e *appError) Unwrap() error {
	return e.base
}

func (e *appError) UnwrapAll() []error {
	return e.wrapped
}

// derive builds a child that inherits status and temporary flags.
func (e *appError) derive(msg string, wrapped []error) *appError {
	return &appError{
		msg:         msg,
		base:        e,
		wrapped:     wrapped,
		statusCode:  e.statusCode,
		expandError: e.expandError,
		temporary:   e.temporary,
	}
}

func (e *appError) New(msg string) Error {
	return e.derive(msg, nil)
}

func (e *appError) Msg(msg string) Error {
	return e.derive(msg, append([]error{e}, e.wrapped...))
}

func (e *appError) MsgErr(msg string, errs ...error) Error {
	return e.derive(msg, append([]error{e}, errs...))
}

func (e *appError) Err(errs ...error) Error {
	return e.derive(e.msg, append([]error{e}, errs...))
}

func (e *appError) SetExpandError(flag bool) Error {
	cp := *e
	cp.expandError = flag
	return &cp
}

func (e *appError) SetStatusCode(code int) Error {
	cp := *e
	cp.statusCode = code
	return &cp
}

func (e *appError) StatusCode() int {
	return e.statusCode
}

func (e *appError) SetTemporary(flag bool) Error {
	cp := *e
	cp.temporary = flag
	return &cp
}

func (e *appError) Temporary() bool {
	return e.temporary
}

// Is matches the base chain and every wrapped error.
func (e *appError) Is(target error) bool {
	if target == nil {
		return false
	}
	if errors.Is(e.base, target) {
		return true
	}
	for _, err := range e.wrapped {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
