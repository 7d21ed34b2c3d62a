// Package apperrors provides the error type shared by every sockethub package.
// Errors are built as trees: a package declares a base error and derives its
// kinds from it with New, so callers can match on any level with errors.Is.
// Each error carries an optional HTTP status code and a temporary flag that
// retry loops consult before trying again.
package apperrors

// Error is an application error. All mutators return copies so package-level
// error values can be used as templates without being modified.
type Error interface {
	error
	Unwrap() error

	New(msg string) Error                  // child error with a new message
	Msg(msg string) Error                  // new message, wrapping the receiver
	MsgErr(msg string, err ...error) Error // new message, wrapping receiver and errs
	Err(err ...error) Error                // same message, wrapping receiver and errs
	SetExpandError(bool) Error             // include wrapped errors in ErrorAll
	SetStatusCode(int) Error
	StatusCode() int
	SetTemporary(bool) Error // condition may clear on retry
	Temporary() bool
	ErrorAll() string
	UnwrapAll() []error
}

// New creates a root error.
func New(msg string) Error {
	return &appError{msg: msg}
}

// As returns err as an Error if it is one.
func As(err error) (Error, bool) {
	if err == nil {
		return nil, false
	}
	e, ok := err.(Error)
	return e, ok
}

// IsTemporary reports whether err is an Error flagged as temporary.
func IsTemporary(err error) bool {
	e, ok := As(err)
	return ok && e.Temporary()
}
