//go:build linux

package v4l2

import (
	"errors"
	"fmt"
)

// Code is a status code from the session error taxonomy. Zero means success.
type Code int

// Status codes.
const (
	CodeOK            Code = 0
	CodeAlloc         Code = -1
	CodeQueryCap      Code = -2
	CodeRead          Code = -3
	CodeMmap          Code = -4
	CodeQueryBuf      Code = -5
	CodeQBuf          Code = -6
	CodeDQBuf         Code = -7
	CodeStreamOn      Code = -8
	CodeStreamOff     Code = -9
	CodeFormat        Code = -10
	CodeReqBufs       Code = -11
	CodeDevice        Code = -12
	CodeSelect        Code = -13
	CodeSelectTimeout Code = -14
)

var codeNames = map[Code]string{
	CodeOK:            "ok",
	CodeAlloc:         "allocation failure",
	CodeQueryCap:      "capability query failed",
	CodeRead:          "read capture unsupported",
	CodeMmap:          "buffer mapping failed",
	CodeQueryBuf:      "buffer query failed",
	CodeQBuf:          "buffer queue failed",
	CodeDQBuf:         "buffer dequeue failed",
	CodeStreamOn:      "stream on failed",
	CodeStreamOff:     "stream off failed",
	CodeFormat:        "format rejected",
	CodeReqBufs:       "buffer request failed",
	CodeDevice:        "device error",
	CodeSelect:        "wait failed",
	CodeSelectTimeout: "wait timed out",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Error is returned by session operations.
type Error struct {
	Op   string
	Code Code
	Err  error
}

func (e *Error) Error() string {
	msg := "v4l2"
	if e.Op != "" {
		msg += ": " + e.Op
	}
	msg += ": " + e.Code.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error carrying the same code, so errors.Is(err, ErrFormat) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrAlloc         = &Error{Code: CodeAlloc}
	ErrQueryCap      = &Error{Code: CodeQueryCap}
	ErrRead          = &Error{Code: CodeRead}
	ErrMmap          = &Error{Code: CodeMmap}
	ErrQueryBuf      = &Error{Code: CodeQueryBuf}
	ErrQBuf          = &Error{Code: CodeQBuf}
	ErrDQBuf         = &Error{Code: CodeDQBuf}
	ErrStreamOn      = &Error{Code: CodeStreamOn}
	ErrStreamOff     = &Error{Code: CodeStreamOff}
	ErrFormat        = &Error{Code: CodeFormat}
	ErrReqBufs       = &Error{Code: CodeReqBufs}
	ErrDevice        = &Error{Code: CodeDevice}
	ErrSelect        = &Error{Code: CodeSelect}
	ErrSelectTimeout = &Error{Code: CodeSelectTimeout}
)

// ErrNoFrame is returned by non-blocking capture calls when no frame is ready.
var ErrNoFrame = errors.New("v4l2: no frame available")

// ErrNoEvent is returned by DequeueControlEvent when no event is pending.
var ErrNoEvent = errors.New("v4l2: no event pending")

// ErrClosed is returned when a closed session is used.
var ErrClosed = errors.New("v4l2: session closed")

func newError(op string, code Code, err error) error {
	return &Error{Op: op, Code: code, Err: err}
}

// CodeOf returns the status code carried by err. Errors from outside the
// taxonomy map to CodeDevice.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeDevice
}
