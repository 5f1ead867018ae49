package model

import "errors"

// kinded is implemented by errors that know which ErrorKind they map to.
type kinded interface {
	ErrorKind() ErrorKind
}

// KindError attaches an ErrorKind to an arbitrary error.
type KindError struct {
	Kind ErrorKind
	Err  error
}

func (e *KindError) Error() string {
	return e.Err.Error()
}

func (e *KindError) Unwrap() error {
	return e.Err
}

// ErrorKind implements the kinded interface.
func (e *KindError) ErrorKind() ErrorKind {
	return e.Kind
}

// WithKind wraps err so that KindOf reports kind. A nil err stays nil.
func WithKind(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &KindError{Kind: kind, Err: err}
}

// KindOf returns the ErrorKind of the first error in err's chain that
// declares one, or ErrorKindUnknown.
func KindOf(err error) ErrorKind {
	var k kinded
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	return ErrorKindUnknown
}
