package api

import (
	"fmt"
	"net/http"

	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel/attribute"

	"github.com/psantana5/dispatch-proxy/pkg/logging"
	"github.com/psantana5/dispatch-proxy/pkg/models"
	"github.com/psantana5/dispatch-proxy/pkg/proxy"
	"github.com/psantana5/dispatch-proxy/pkg/tracing"
)

// Execute runs a single handler call
func (h *Handler) Execute(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req ExecuteRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	value, err := parseAmount(req.Value)
	if err != nil {
		writeError(w, err)
		return
	}

	batch, err := h.proxy.Submit(r.Context(), from, value, []models.Instruction{
		{Target: req.Target, Payload: req.Payload},
	})
	traceBatch(r, batch, err)
	if err != nil {
		writeBatchError(w, err, batch)
		return
	}
	writeJSON(w, http.StatusOK, ExecuteResponse{
		BatchID: batch.ID,
		Result:  batch.Results[0],
		Refund:  batch.Refund,
	})
}

// Batch runs several handler calls atomically
func (h *Handler) Batch(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req BatchRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	value, err := parseAmount(req.Value)
	if err != nil {
		writeError(w, err)
		return
	}

	if len(req.Targets) != len(req.Payloads) {
		writeError(w, fmt.Errorf("%w: %d targets, %d payloads", proxy.ErrArityMismatch, len(req.Targets), len(req.Payloads)))
		return
	}
	if req.Values != nil && len(req.Values) != len(req.Targets) {
		writeError(w, fmt.Errorf("%w: %d targets, %d values", proxy.ErrArityMismatch, len(req.Targets), len(req.Values)))
		return
	}

	instrs := make([]models.Instruction, len(req.Targets))
	for i := range req.Targets {
		instrs[i] = models.Instruction{Target: req.Targets[i], Payload: req.Payloads[i]}
		if req.Values != nil {
			v, err := parseAmount(req.Values[i])
			if err != nil {
				writeError(w, err)
				return
			}
			instrs[i].Value = v
		}
	}

	batch, err := h.proxy.Submit(r.Context(), from, value, instrs)
	traceBatch(r, batch, err)
	if err != nil {
		writeBatchError(w, err, batch)
		return
	}
	writeJSON(w, http.StatusOK, BatchResponse{
		BatchID:        batch.ID,
		Results:        hexResults(batch.Results),
		ObligationsRun: batch.ObligationsRun,
		Refund:         batch.Refund,
	})
}

// traceBatch annotates the request span with the batch outcome
func traceBatch(r *http.Request, batch *models.Batch, err error) {
	ctx := r.Context()
	if batch != nil {
		tracing.AddEvent(ctx, "batch."+string(batch.Status),
			attribute.String("batch.id", batch.ID.String()),
			attribute.Int("batch.instructions", len(batch.Targets)),
			attribute.Int("batch.obligations", batch.ObligationsRun),
		)
	}
	if err != nil {
		tracing.SetError(ctx, err)
	}
}

// Deposit forwards a bare transfer to the proxy, which always refuses it
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req DepositRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	value, err := parseAmount(req.Value)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.proxy.Receive(r.Context(), from, value); err != nil {
		writeError(w, err)
		return
	}
	// Receive never accepts; reaching here means the guard was weakened
	h.logger.Error("Direct deposit accepted", logging.Fields{"from": from.Hex()})
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "deposit was not rejected"})
}

// ProxyInfo reports the proxy account and installed handlers
func (h *Handler) ProxyInfo(w http.ResponseWriter, r *http.Request) {
	addr := h.proxy.Address()
	writeJSON(w, http.StatusOK, ProxyResponse{
		Address:  addr,
		Balance:  h.proxy.Balance(addr).Dec(),
		Handlers: h.proxy.Catalog().List(),
	})
}

func amountString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
