package cart

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a cart failure so the boundary layer can map it to a
// response without inspecting messages.
type Kind uint8

const (
	KindInternal Kind = iota
	KindNotFound
	KindInsufficientStock
	KindConflict
	KindBadRequest
	KindStoreConflict
	KindUnauthorized
)

// String returns the wire code of the kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NOT_FOUND"
	case KindInsufficientStock:
		return "INSUFFICIENT_STOCK"
	case KindConflict:
		return "CONFLICT"
	case KindBadRequest:
		return "BAD_REQUEST"
	case KindStoreConflict:
		return "STORE_CONFLICT"
	case KindUnauthorized:
		return "UNAUTHORIZED"
	default:
		return "INTERNAL"
	}
}

// Sentinels for errors.Is. Every *Error matches the sentinel of its Kind.
var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrConflict          = errors.New("conflict")
	ErrBadRequest        = errors.New("bad request")
	ErrStoreConflict     = errors.New("store conflict")
	ErrUnauthorized      = errors.New("unauthorized")
)

var sentinels = map[Kind]error{
	KindNotFound:          ErrNotFound,
	KindInsufficientStock: ErrInsufficientStock,
	KindConflict:          ErrConflict,
	KindBadRequest:        ErrBadRequest,
	KindStoreConflict:     ErrStoreConflict,
	KindUnauthorized:      ErrUnauthorized,
}

// Error is a typed cart failure.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

// Errorf builds an *Error of the given kind with a formatted message.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind around cause.
func Wrap(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: cause.Error(), Err: cause}
}

// Error formats the failure as "op: message".
func (e *Error) Error() string {
	if e.Op == "" {
		return e.Message
	}
	return e.Op + ": " + e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's Kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// KindOf reports the Kind of err, KindInternal when err is not a cart error.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternal
}

// Retryable reports whether err is a transient store conflict that the caller
// may retry as a whole.
func Retryable(err error) bool {
	return KindOf(err) == KindStoreConflict
}

// HTTPStatus maps err to the status code the HTTP layer should answer with.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindInsufficientStock, KindBadRequest:
		return http.StatusBadRequest
	case KindConflict, KindStoreConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Failure is the wire shape of a failed cart operation.
type Failure struct {
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

// Describe renders err as a Failure. Internal errors get a generic message so
// store details do not leak to clients.
func Describe(err error) Failure {
	var ce *Error
	if errors.As(err, &ce) && ce.Kind != KindInternal {
		return Failure{ErrorCode: ce.Kind.String(), Message: ce.Message}
	}
	return Failure{ErrorCode: KindInternal.String(), Message: "internal error"}
}
