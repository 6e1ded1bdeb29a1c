package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/psantana5/dispatch-proxy/pkg/ledger"
	"github.com/psantana5/dispatch-proxy/pkg/models"
	"github.com/psantana5/dispatch-proxy/pkg/proxy"
	"github.com/psantana5/dispatch-proxy/pkg/registry"
	"github.com/psantana5/dispatch-proxy/pkg/store"
)

var errBadRequest = errors.New("api: bad request")

type errorMapping struct {
	err    error
	status int
	code   string
}

// Order matters: batch failures wrap the handler's own error, so the proxy
// sentinels are matched before anything a handler may return.
var errorMappings = []errorMapping{
	{proxy.ErrInvariantViolation, http.StatusInternalServerError, "invariant_violation"},
	{proxy.ErrPostProcessOverflow, http.StatusInternalServerError, "post_process_overflow"},
	{proxy.ErrHandlerNotRegistered, http.StatusUnprocessableEntity, "handler_not_registered"},
	{proxy.ErrHandlerExecutionFailed, http.StatusUnprocessableEntity, "handler_execution_failed"},
	{proxy.ErrDirectDepositRejected, http.StatusUnprocessableEntity, "direct_deposit_rejected"},
	{proxy.ErrArityMismatch, http.StatusBadRequest, "arity_mismatch"},
	{proxy.ErrInsufficientValue, http.StatusBadRequest, "insufficient_value"},
	{registry.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
	{registry.ErrUnknownHandler, http.StatusNotFound, "unknown_handler"},
	{registry.ErrAlreadyRegistered, http.StatusConflict, "already_registered"},
	{registry.ErrZeroAddress, http.StatusBadRequest, "zero_address"},
	{models.ErrInvalidHandlerID, http.StatusBadRequest, "invalid_handler_id"},
	{store.ErrBatchNotFound, http.StatusNotFound, "batch_not_found"},
	{ledger.ErrInsufficientBalance, http.StatusUnprocessableEntity, "insufficient_balance"},
	{context.Canceled, http.StatusServiceUnavailable, "cancelled"},
	{context.DeadlineExceeded, http.StatusServiceUnavailable, "deadline_exceeded"},
	{errBadRequest, http.StatusBadRequest, "bad_request"},
}

// statusFor maps an error to its HTTP status and machine-readable code
func statusFor(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeErrorResponse(w, err, ErrorResponse{})
}

func writeBatchError(w http.ResponseWriter, err error, batch *models.Batch) {
	resp := ErrorResponse{}
	if batch != nil {
		id := batch.ID
		resp.BatchID = &id
		resp.FailedIndex = batch.FailedIndex
	}
	writeErrorResponse(w, err, resp)
}

func writeErrorResponse(w http.ResponseWriter, err error, resp ErrorResponse) {
	status, code := statusFor(err)
	resp.Error = code
	resp.Message = err.Error()
	writeJSON(w, status, resp)
}
