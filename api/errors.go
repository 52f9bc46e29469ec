package api

import (
	"errors"
	"net/http"

	"github.com/sportcoin/coin-engine/generic"
)

// statusFor maps the error taxonomy onto HTTP.
//
//	validation                         400
//	not found                          404
//	conflict, duplicate, transition    409
//	business rule                      422
//	transient                          503
//	anything else                      500
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, generic.ErrConflict),
		errors.Is(err, generic.ErrDuplicate),
		errors.Is(err, generic.ErrDuplicateIdempotencyKey),
		errors.Is(err, generic.ErrInvalidTransition):
		return http.StatusConflict, "conflict"
	case generic.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case generic.IsClientError(err):
		return http.StatusBadRequest, "invalid_request"
	case generic.IsBusinessRule(err):
		return http.StatusUnprocessableEntity, businessCode(err)
	case errors.Is(err, generic.ErrTransient):
		return http.StatusServiceUnavailable, "unavailable"
	}
	return http.StatusInternalServerError, "internal"
}

func businessCode(err error) string {
	switch {
	case errors.Is(err, generic.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, generic.ErrCapExceeded):
		return "cap_exceeded"
	case errors.Is(err, generic.ErrOverspend):
		return "overspend"
	case errors.Is(err, generic.ErrExpiredCoin):
		return "coins_expired"
	}
	return "unavailable_item"
}

// fail writes err with its mapped status. Internal errors are logged and
// never echoed to the client.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	resp := ErrorResponse{Code: code}
	switch status {
	case http.StatusInternalServerError:
		h.log.Errorf(err, "%s %s", r.Method, r.URL.Path)
		resp.Error = "internal error"
	case http.StatusServiceUnavailable:
		h.log.Warnf("%s %s: %v", r.Method, r.URL.Path, err)
		resp.Error = generic.UserMessage(err)
	case http.StatusUnprocessableEntity:
		resp.Error = generic.UserMessage(err)
		resp.Details = err.Error()
	default:
		resp.Error = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
