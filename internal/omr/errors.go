package omr

import (
	"errors"
	"fmt"
)

// Kind classifies a grading failure so transports can map it to a status.
type Kind string

const (
	KindImageDecode        Kind = "ImageDecodeError"
	KindInvalidDimensions  Kind = "InvalidDimensionsError"
	KindRecognitionEngine  Kind = "RecognitionEngineError"
	KindRecognitionTimeout Kind = "RecognitionTimeout"
	KindInvalidKeyLength   Kind = "InvalidKeyLengthError"
	KindInvalidKey         Kind = "InvalidKeyError"
	KindDimensionMismatch  Kind = "DimensionMismatchError"
	KindMissingInput       Kind = "MissingInputError"
)

// Error is the typed failure returned by every grading stage.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Sentinels for errors.Is.
var (
	ErrImageDecode        = &Error{Kind: KindImageDecode}
	ErrInvalidDimensions  = &Error{Kind: KindInvalidDimensions}
	ErrRecognitionEngine  = &Error{Kind: KindRecognitionEngine}
	ErrRecognitionTimeout = &Error{Kind: KindRecognitionTimeout}
	ErrInvalidKeyLength   = &Error{Kind: KindInvalidKeyLength}
	ErrInvalidKey         = &Error{Kind: KindInvalidKey}
	ErrDimensionMismatch  = &Error{Kind: KindDimensionMismatch}
	ErrMissingInput       = &Error{Kind: KindMissingInput}
)

func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Errorf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrImageDecode)
// holds for every decode failure regardless of op or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
