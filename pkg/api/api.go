// Package api exposes the registry and the dispatch proxy over HTTP.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"

	"github.com/psantana5/dispatch-proxy/pkg/auth"
	"github.com/psantana5/dispatch-proxy/pkg/logging"
	"github.com/psantana5/dispatch-proxy/pkg/metrics"
	"github.com/psantana5/dispatch-proxy/pkg/proxy"
	"github.com/psantana5/dispatch-proxy/pkg/ratelimit"
	"github.com/psantana5/dispatch-proxy/pkg/registry"
	"github.com/psantana5/dispatch-proxy/pkg/store"
	"github.com/psantana5/dispatch-proxy/pkg/tracing"
)

const maxBodyBytes = 1 << 20

// Handler serves the proxy API
type Handler struct {
	proxy     *proxy.Proxy
	registry  *registry.Registry
	store     store.Store
	logger    *logging.Logger
	startTime time.Time
}

// NewHandler creates the API handler
func NewHandler(p *proxy.Proxy, reg *registry.Registry, st store.Store, logger *logging.Logger) *Handler {
	return &Handler{
		proxy:     p,
		registry:  reg,
		store:     st,
		logger:    logger.WithField("component", "api"),
		startTime: time.Now(),
	}
}

// RouterOptions selects the cross-cutting middleware of the router. Nil
// fields are skipped.
type RouterOptions struct {
	Keys    *auth.KeyStore
	Limiter *ratelimit.Limiter
	Metrics *metrics.Metrics
	Tracing *tracing.Provider
}

// NewRouter builds the mux router with routes and middleware installed
func NewRouter(h *Handler, opts RouterOptions) *mux.Router {
	r := mux.NewRouter()
	if opts.Tracing != nil {
		r.Use(tracing.HTTPMiddleware(opts.Tracing, routeTemplate))
	}
	if opts.Metrics != nil {
		r.Use(opts.Metrics.HTTPMiddleware(routeTemplate))
	}
	if opts.Keys != nil {
		r.Use(auth.Middleware(opts.Keys, h.logger, "/health"))
	}
	h.RegisterRoutes(r, opts.Limiter)
	return r
}

// RegisterRoutes registers all API routes. limiter, when set, throttles the
// batch-running routes per caller.
func (h *Handler) RegisterRoutes(r *mux.Router, limiter *ratelimit.Limiter) {
	limited := func(fn http.HandlerFunc) http.Handler {
		if limiter == nil {
			return fn
		}
		return limiter.Middleware(ratelimit.HeaderKeyFunc(auth.CallerHeader))(fn)
	}

	r.HandleFunc("/health", h.Health).Methods("GET")

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/registry", h.ListRegistrations).Methods("GET")
	v1.HandleFunc("/registry", h.Register).Methods("POST")
	v1.HandleFunc("/registry/{id}", h.GetRegistration).Methods("GET")
	v1.HandleFunc("/registry/{id}", h.Rebind).Methods("PUT")
	v1.HandleFunc("/registry/{id}", h.Deregister).Methods("DELETE")

	v1.HandleFunc("/handlers", h.ListHandlers).Methods("GET")
	v1.HandleFunc("/proxy", h.ProxyInfo).Methods("GET")
	v1.Handle("/execute", limited(h.Execute)).Methods("POST")
	v1.Handle("/batch", limited(h.Batch)).Methods("POST")
	v1.Handle("/deposit", limited(h.Deposit)).Methods("POST")

	v1.HandleFunc("/batches", h.ListBatches).Methods("GET")
	v1.HandleFunc("/batches/{id}", h.GetBatch).Methods("GET")
	v1.HandleFunc("/accounts/{address}", h.GetAccount).Methods("GET")
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// caller is the authenticated principal, or the X-Caller header when the
// server runs without authentication.
func caller(r *http.Request) (common.Address, error) {
	if p, ok := auth.PrincipalFromContext(r.Context()); ok {
		return p.Address, nil
	}
	header := r.Header.Get(auth.CallerHeader)
	if !common.IsHexAddress(header) {
		return common.Address{}, fmt.Errorf("%w: missing or malformed %s header", errBadRequest, auth.CallerHeader)
	}
	return common.HexToAddress(header), nil
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", errBadRequest, err)
	}
	return nil
}

// parseAmount reads a decimal native amount. Empty means zero.
func parseAmount(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid amount %q: %v", errBadRequest, s, err)
	}
	return v, nil
}
