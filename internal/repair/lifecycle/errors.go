package lifecycle

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when the referenced request does not exist.
	ErrNotFound = errors.New("repair: request not found")
	// ErrInvalidTransition covers stale buttons, events not allowed in the
	// current status and actors that may not trigger the event.
	ErrInvalidTransition = errors.New("repair: invalid or stale action")
	// ErrExternal wraps failures of the payment, SMS or messaging services.
	ErrExternal = errors.New("repair: external service failure")
	// ErrPersistence wraps failures to write a store.
	ErrPersistence = errors.New("repair: persistence failure")
)

// Kind is the category of a lifecycle error.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindIllegal
	KindExternal
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindIllegal:
		return "illegal_transition"
	case KindExternal:
		return "external"
	case KindPersistence:
		return "persistence"
	}
	return "unknown"
}

// Classify maps err onto one of the error categories.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidTransition):
		return KindIllegal
	case errors.Is(err, ErrExternal), errors.Is(err, context.DeadlineExceeded):
		return KindExternal
	case errors.Is(err, ErrPersistence):
		return KindPersistence
	}
	return KindUnknown
}
