package types

import (
	"errors"
	"fmt"

	"optimus-console-go/internal/frame"
)

// Kind classifies failures so the console can decide whether to surface
// them, and how.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConnection covers refused, unreachable and timed out calls.
	KindConnection
	// KindProtocol covers non-200 replies and malformed bodies.
	KindProtocol
	// KindDecode covers observation payloads that are not images.
	KindDecode
	// KindState covers operations rejected by the local session state.
	KindState
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindProtocol:
		return "protocol"
	case KindDecode:
		return "decode"
	case KindState:
		return "state"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind   Kind
	Op     string
	Status int
	Err    error
}

func (e *Error) Error() string {
	msg := e.Op
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s: http %d", msg, e.Status)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

var (
	ErrNoTask        = &Error{Kind: KindState, Op: "submit", Err: errors.New("no task selected")}
	ErrResetPending  = &Error{Kind: KindState, Op: "reset", Err: errors.New("reset already in progress")}
	ErrActionRunning = &Error{Kind: KindState, Op: "select task", Err: errors.New("action loop is running; pause the agent first")}
	ErrInitializing  = &Error{Kind: KindState, Op: "pause", Err: errors.New("session is still initializing")}
)

func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	if errors.Is(err, frame.ErrDecode) {
		return KindDecode
	}
	return KindUnknown
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
