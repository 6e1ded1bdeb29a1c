package api

import (
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/psantana5/dispatch-proxy/pkg/models"
	"github.com/psantana5/dispatch-proxy/pkg/store"
)

// ListBatches returns batch records filtered by status, caller and limit
func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter store.BatchFilter

	if s := q.Get("status"); s != "" {
		status, err := models.ParseBatchStatus(s)
		if err != nil {
			writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
		filter.Status = status
	}
	if c := q.Get("caller"); c != "" {
		if !common.IsHexAddress(c) {
			writeError(w, fmt.Errorf("%w: invalid caller %q", errBadRequest, c))
			return
		}
		addr := common.HexToAddress(c)
		filter.Caller = &addr
	}
	if l := q.Get("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit < 0 {
			writeError(w, fmt.Errorf("%w: invalid limit %q", errBadRequest, l))
			return
		}
		filter.Limit = limit
	}

	batches, err := h.store.ListBatches(filter)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]BatchRecord, 0, len(batches))
	for _, b := range batches {
		out = append(out, toBatchRecord(b))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"batches": out,
		"count":   len(out),
	})
}

// GetBatch returns one batch record
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, fmt.Errorf("%w: invalid batch id: %v", errBadRequest, err))
		return
	}
	batch, err := h.store.GetBatch(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchRecord(batch))
}

// GetAccount returns the native balance of an address
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["address"]
	if !common.IsHexAddress(raw) {
		writeError(w, fmt.Errorf("%w: invalid address %q", errBadRequest, raw))
		return
	}
	addr := common.HexToAddress(raw)
	writeJSON(w, http.StatusOK, AccountResponse{
		Address: addr,
		Balance: amountString(h.proxy.Balance(addr)),
	})
}

// Health reports liveness, store reachability and host load
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:   "healthy",
		Uptime:   time.Since(h.startTime).Round(time.Second).String(),
		Handlers: h.registry.Len(),
		Store:    "ok",
		NumCPU:   runtime.NumCPU(),
	}
	status := http.StatusOK

	if err := h.store.HealthCheck(); err != nil {
		h.logger.WithError(err).Warn("Store health check failed")
		resp.Status = "degraded"
		resp.Store = err.Error()
		status = http.StatusServiceUnavailable
	}
	if vm, err := mem.VirtualMemoryWithContext(r.Context()); err == nil {
		resp.MemoryUsedPct = vm.UsedPercent
	}
	if avg, err := load.AvgWithContext(r.Context()); err == nil {
		resp.Load1 = avg.Load1
	}

	writeJSON(w, status, resp)
}
