package inference

import (
	"errors"
	"fmt"
)

// Kind is the failure category reported to callers.
type Kind int

const (
	KindNone Kind = iota
	KindDecode
	KindModelUnavailable
	KindInference
	KindDecodeIndex
	KindCanceled
)

var (
	ErrDecode           = errors.New("decode error")
	ErrModelUnavailable = errors.New("model unavailable")
	ErrInference        = errors.New("inference error")
	ErrDecodeIndex      = errors.New("decode index error")
	ErrCanceled         = errors.New("request canceled")
)

var kindSentinels = map[Kind]error{
	KindDecode:           ErrDecode,
	KindModelUnavailable: ErrModelUnavailable,
	KindInference:        ErrInference,
	KindDecodeIndex:      ErrDecodeIndex,
	KindCanceled:         ErrCanceled,
}

var kindNames = map[Kind]string{
	KindNone:             "none",
	KindDecode:           "decode_error",
	KindModelUnavailable: "model_unavailable",
	KindInference:        "inference_error",
	KindDecodeIndex:      "decode_index_error",
	KindCanceled:         "canceled",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the terminal failure of one request.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind, so
// errors.Is(err, ErrModelUnavailable) works on any wrapped *Error.
func (e *Error) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the category of err, or KindNone if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindNone
}
