package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/loopfund/community-live/internal/domain/model"
	"github.com/loopfund/community-live/pkg/protocol"
)

// StatusFor maps a domain error onto its HTTP status.
func StatusFor(err error) int {
	switch model.ErrorCode(err) {
	case model.CodeNotAuthorized, model.CodeForbidden:
		return http.StatusForbidden
	case model.CodeInvalidPayload:
		return http.StatusUnprocessableEntity
	case model.CodeNotFound:
		return http.StatusNotFound
	case model.CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	case model.CodeDeliveryDropped:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// ErrorBody is the wire form of err. Internal errors do not leak details.
func ErrorBody(err error, idempotencyKey string) protocol.ErrorPayload {
	code := model.ErrorCode(err)
	msg := err.Error()
	if code == model.CodeInternal {
		msg = "internal error"
	}
	return protocol.ErrorPayload{
		Code:           code,
		Message:        msg,
		IdempotencyKey: idempotencyKey,
		Retryable:      model.Retryable(err),
	}
}

func WriteError(w http.ResponseWriter, err error, idempotencyKey string) {
	status := StatusFor(err)
	if model.Retryable(err) {
		w.Header().Set("Retry-After", "1")
	}
	WriteJSON(w, status, ErrorBody(err, idempotencyKey))
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// decode reads a JSON request body into v.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return errors.Join(model.ErrInvalidPayload, err)
	}
	return nil
}
