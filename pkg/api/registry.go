package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/psantana5/dispatch-proxy/pkg/models"
)

// ListRegistrations returns every registry binding
func (h *Handler) ListRegistrations(w http.ResponseWriter, r *http.Request) {
	regs, err := h.registry.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]RegistrationResponse, 0, len(regs))
	for _, reg := range regs {
		out = append(out, toRegistrationResponse(reg))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"registrations": out,
		"count":         len(out),
	})
}

// GetRegistration resolves one identifier
func (h *Handler) GetRegistration(w http.ResponseWriter, r *http.Request) {
	id, err := models.ParseHandlerID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	reg, err := h.registry.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRegistrationResponse(reg))
}

// Register binds a new identifier. Only the administrator may call it.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req RegisterRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	id, err := models.ParseHandlerID(req.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.registry.Register(r.Context(), from, id, req.Address); err != nil {
		writeError(w, err)
		return
	}
	reg, err := h.registry.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRegistrationResponse(reg))
}

// Rebind moves an existing identifier to a new address
func (h *Handler) Rebind(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := models.ParseHandlerID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	var req RebindRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.registry.Rebind(r.Context(), from, id, req.Address); err != nil {
		writeError(w, err)
		return
	}
	reg, err := h.registry.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRegistrationResponse(reg))
}

// Deregister removes an identifier
func (h *Handler) Deregister(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := models.ParseHandlerID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.registry.Deregister(r.Context(), from, id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListHandlers returns installed handler code and whether the registry
// currently admits it.
func (h *Handler) ListHandlers(w http.ResponseWriter, r *http.Request) {
	entries := h.proxy.Catalog().List()
	out := make([]HandlerResponse, 0, len(entries))
	for _, e := range entries {
		registered, err := h.registry.IsRegistered(r.Context(), e.Address)
		if err != nil {
			writeError(w, err)
			return
		}
		out = append(out, HandlerResponse{CatalogEntry: e, Registered: registered})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"handlers": out,
		"count":    len(out),
	})
}
