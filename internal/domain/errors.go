package domain

import (
	"context"
	"errors"
	"net"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidOrder  = errors.New("invalid order parameters")
	ErrSigningFailed = errors.New("signing failed")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrLockHeld      = errors.New("lock already held")
	ErrCircuitOpen   = errors.New("circuit open")
	ErrNoSides       = errors.New("side identifiers unresolved")
	ErrNoCapital     = errors.New("insufficient capital")
	ErrDailyLimit    = errors.New("daily limit reached")
)

// Sentinels for the error taxonomy. A classified error matches its sentinel
// with errors.Is.
var (
	ErrTransient = errors.New("transient")
	ErrMalformed = errors.New("malformed")
	ErrStrategy  = errors.New("strategy failure")
	ErrSystemic  = errors.New("systemic degradation")
	ErrFatal     = errors.New("fatal")
)

// ErrorKind is the recovery class of an error.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindTransient
	KindMalformed
	KindStrategy
	KindSystemic
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindMalformed:
		return "malformed"
	case KindStrategy:
		return "strategy"
	case KindSystemic:
		return "systemic"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Recoverable reports whether work may continue after an error of this kind.
func (k ErrorKind) Recoverable() bool {
	return k != KindFatal
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindTransient:
		return ErrTransient
	case KindMalformed:
		return ErrMalformed
	case KindStrategy:
		return ErrStrategy
	case KindSystemic:
		return ErrSystemic
	case KindFatal:
		return ErrFatal
	default:
		return nil
	}
}

// KindError attaches an ErrorKind to an underlying error.
type KindError struct {
	Kind ErrorKind
	Err  error
}

func (e *KindError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Err.Error()
}

func (e *KindError) Unwrap() error { return e.Err }

// Is matches the taxonomy sentinel of the error's kind.
func (e *KindError) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// WrapKind tags err with kind. A nil err stays nil.
func WrapKind(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &KindError{Kind: kind, Err: err}
}

// Transient tags err as a retryable I/O failure.
func Transient(err error) error { return WrapKind(KindTransient, err) }

// Malformed tags err as a bad record that should be discarded.
func Malformed(err error) error { return WrapKind(KindMalformed, err) }

// StrategyFailure tags err as raised inside a strategy callback.
func StrategyFailure(err error) error { return WrapKind(KindStrategy, err) }

// Fatal tags err as an initialization failure that must abort startup.
func Fatal(err error) error { return WrapKind(KindFatal, err) }

// Classify returns the kind of err. Explicit tags win; otherwise well-known
// sentinels and network errors are mapped.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	switch {
	case errors.Is(err, ErrCircuitOpen):
		return KindSystemic
	case errors.Is(err, ErrNoSides):
		return KindMalformed
	case errors.Is(err, ErrRateLimited),
		errors.Is(err, ErrWSDisconnect),
		errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	return KindUnknown
}
