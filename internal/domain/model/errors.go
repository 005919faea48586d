package model

import "errors"

var (
	// ErrNotAuthorized: room membership check failed.
	ErrNotAuthorized = errors.New("not authorized for room")
	// ErrForbidden: authorship mismatch on edit or delete.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidPayload: client-side fixable validation failure.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrNotFound: the mutation target no longer exists.
	ErrNotFound = errors.New("not found")
	// ErrStoreUnavailable: transient infrastructure failure, safe to retry.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrDeliveryDropped: an outbound event was shed for a slow consumer.
	ErrDeliveryDropped = errors.New("delivery dropped")

	// ErrSeqConflict: the store head moved underneath the sequencer.
	ErrSeqConflict = errors.New("sequence conflict")

	ErrConnectionNotFound = errors.New("connection not found")
	ErrRoomNotFound       = errors.New("room not found")
)

// Wire codes shared by every transport.
const (
	CodeNotAuthorized    = "not_authorized"
	CodeForbidden        = "forbidden"
	CodeInvalidPayload   = "invalid_payload"
	CodeNotFound         = "not_found"
	CodeStoreUnavailable = "store_unavailable"
	CodeDeliveryDropped  = "delivery_dropped"
	CodeInternal         = "internal"
)

// ErrorCode maps an error chain onto its wire code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotAuthorized):
		return CodeNotAuthorized
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrInvalidPayload):
		return CodeInvalidPayload
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrRoomNotFound), errors.Is(err, ErrConnectionNotFound):
		return CodeNotFound
	case errors.Is(err, ErrStoreUnavailable), errors.Is(err, ErrSeqConflict):
		return CodeStoreUnavailable
	case errors.Is(err, ErrDeliveryDropped):
		return CodeDeliveryDropped
	default:
		return CodeInternal
	}
}

// Retryable reports whether the caller may retry the failed operation.
func Retryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrSeqConflict)
}
