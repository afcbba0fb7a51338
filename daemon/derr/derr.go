// Package derr defines the error kinds reported by the daemonization steps.
//
// Every failure surfaced by the daemon packages is an *Error carrying a Kind.
// Callers match on the kind with errors.Is and the sentinel values:
//
//	if errors.Is(err, derr.ErrLockHeld) {
//		// another instance owns the pidfile
//	}
package derr

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Kind classifies a daemonization failure.
type Kind int

const (
	// IO covers working directory changes, null device opens and pidfile writes.
	IO Kind = iota

	// Permission is returned when the process lacks the rights for a step,
	// e.g. dropping to an identity it cannot assume.
	Permission

	// Resource covers descriptor table exhaustion and fork/exec failures.
	Resource

	// LockHeld means the pidfile is locked by another process.
	LockHeld

	// SinkUnavailable means the log sink could not be constructed. It is
	// recovered locally by falling back to the null device.
	SinkUnavailable
)

func (k Kind) String() string {
	switch k {
	case IO:
		return "io"
	case Permission:
		return "permission"
	case Resource:
		return "resource"
	case LockHeld:
		return "lock held"
	case SinkUnavailable:
		return "sink unavailable"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Sentinels for use with errors.Is. Any *Error of the same kind matches.
var (
	ErrIO              = &Error{Kind: IO}
	ErrPermission      = &Error{Kind: Permission}
	ErrResource        = &Error{Kind: Resource}
	ErrLockHeld        = &Error{Kind: LockHeld}
	ErrSinkUnavailable = &Error{Kind: SinkUnavailable}
)

// Error is a failed daemonization step.
type Error struct {
	Kind Kind
	Op   string // step that failed, e.g. "setsid"
	Path string // file involved, if any
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind. This lets the
// package sentinels match any error of their kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New returns an *Error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithPath returns an *Error of the given kind naming the file involved.
func WithPath(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// FromErrno classifies err by its errno, falling back to def for anything
// not recognised.
func FromErrno(def Kind, op string, err error) *Error {
	return &Error{Kind: KindOf(err, def), Op: op, Err: err}
}

// KindOf maps the errno inside err to a Kind. Returns def if err carries no
// recognised errno.
func KindOf(err error, def Kind) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}

	var eno unix.Errno
	if !errors.As(err, &eno) {
		return def
	}

	switch eno {
	case unix.EPERM, unix.EACCES:
		return Permission
	case unix.EMFILE, unix.ENFILE, unix.EAGAIN, unix.ENOMEM:
		// EAGAIN shares its value with EWOULDBLOCK; callers taking locks
		// check for that before classifying.
		return Resource
	default:
		return def
	}
}
