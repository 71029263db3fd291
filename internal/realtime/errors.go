package realtime

import (
	"errors"
	"fmt"
)

// Kind classifies a core error by how the connection reacts to it.
type Kind int

const (
	KindInternal Kind = iota
	// KindAuthentication is fatal: the connection is closed.
	KindAuthentication
	KindAuthorization
	KindValidation
	KindStorage
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindValidation:
		return "validation"
	case KindStorage:
		return "storage"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

var (
	ErrMissingConversationID = errors.New("conversation id is required")
	ErrInvalidConversationID = errors.New("invalid conversation id")
	ErrConversationNotFound  = errors.New("conversation not found")
	ErrNotMember             = errors.New("not a member of this conversation")
	ErrUnknownMessageType    = errors.New("unknown message type")
	ErrEmptyText             = errors.New("text message requires content")
	ErrMissingMedia          = errors.New("media message requires a media url")
	ErrEmptyMessage          = errors.New("message requires content or media")
	ErrContentTooLong        = errors.New("message content too long")
	ErrEmptyMessageIDs       = errors.New("message ids are required")
	ErrInvalidMessageID      = errors.New("invalid message id")
	ErrUnknownEvent          = errors.New("unknown event")
	ErrMalformedPayload      = errors.New("malformed event payload")
	ErrRateLimited           = errors.New("rate limit exceeded")
	ErrSessionClosed         = errors.New("session closed")
)

// Error carries a Kind alongside the underlying error.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of the first *Error in err's chain, or
// KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func newError(kind Kind, err error) error {
	return &Error{Kind: kind, Err: err}
}

func validationError(err error) error { return newError(KindValidation, err) }

func authorizationError(err error) error { return newError(KindAuthorization, err) }

func storageError(op string, err error) error {
	return newError(KindStorage, fmt.Errorf("%s: %w", op, err))
}
