package retry

import (
	"errors"
	"net/http"
)

type Class int

const (
	ClassPermanent Class = iota
	ClassTransient
)

// Error tags an underlying error with its retry class. The message is the
// wrapped error's message so tagging never changes what callers see.
type Error struct {
	Class Class
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "retry: nil error"
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Class: ClassTransient, Err: err}
}

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Class: ClassPermanent, Err: err}
}

// FromStatus classifies err by the HTTP status that produced it.
func FromStatus(statusCode int, err error) error {
	if IsRetryableStatus(statusCode) {
		return Transient(err)
	}
	return Permanent(err)
}

func IsRetryableStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || statusCode >= 500
}

// IsTransient reports whether err was tagged transient. Untagged errors are
// permanent.
func IsTransient(err error) bool {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Class == ClassTransient
	}
	return false
}
