package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/psantana5/dispatch-proxy/pkg/auth"
	"github.com/psantana5/dispatch-proxy/pkg/handlers"
	"github.com/psantana5/dispatch-proxy/pkg/ledger"
	"github.com/psantana5/dispatch-proxy/pkg/logging"
	"github.com/psantana5/dispatch-proxy/pkg/metrics"
	"github.com/psantana5/dispatch-proxy/pkg/models"
	"github.com/psantana5/dispatch-proxy/pkg/proxy"
	"github.com/psantana5/dispatch-proxy/pkg/ratelimit"
	"github.com/psantana5/dispatch-proxy/pkg/registry"
	"github.com/psantana5/dispatch-proxy/pkg/store"
)

var (
	admin     = common.HexToAddress("0x00000000000000000000000000000000000ad111")
	user      = common.HexToAddress("0x0000000000000000000000000000000000005e12")
	deployer  = common.HexToAddress("0x00000000000000000000000000000000000de901")
	proxyAddr = common.HexToAddress("0x00000000000000000000000000000000000000bf")
)

const (
	adminKey = "admin-key"
	userKey  = "user-key"
)

type testServer struct {
	router http.Handler
	dep    *handlers.Deployment
	store  *store.MemoryStore
}

func newTestServer(t *testing.T, limiter *ratelimit.Limiter) *testServer {
	t.Helper()
	ctx := context.Background()

	state := ledger.NewState(ledger.GenesisAlloc{user: uint256.NewInt(1_000_000)})
	catalog := proxy.NewCatalog()
	dep, err := handlers.Deploy(state, catalog, handlers.DeployConfig{Deployer: deployer, Vaults: 2, Exchanges: 1})
	require.NoError(t, err)

	st := store.NewMemoryStore()
	reg, err := registry.New(admin, st, nil)
	require.NoError(t, err)
	require.NoError(t, reg.Register(ctx, admin, models.MustHandlerID("call"), dep.Handlers["call"]))
	require.NoError(t, reg.Register(ctx, admin, models.MustHandlerID("hook"), dep.Handlers["hook"]))

	m := metrics.New(reg.Len)
	p, err := proxy.New(proxy.Config{Address: proxyAddr}, state, reg, catalog,
		proxy.WithRecorder(st), proxy.WithObserver(m), proxy.WithMiddleware(m.Middleware()))
	require.NoError(t, err)
	state.Commit()

	keys := auth.NewKeyStore(bcrypt.MinCost)
	require.NoError(t, keys.AddKey(admin, "admin", adminKey))
	require.NoError(t, keys.AddKey(user, "user", userKey))

	h := NewHandler(p, reg, st, logging.Discard())
	return &testServer{
		router: NewRouter(h, RouterOptions{Keys: keys, Limiter: limiter, Metrics: m}),
		dep:    dep,
		store:  st,
	}
}

func (s *testServer) do(t *testing.T, method, path string, as common.Address, key string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
		req.Header.Set(auth.CallerHeader, as.Hex())
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	decodeBody(t, rec, &resp)
	return resp.Error
}

func TestHealthIsOpen(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodGet, "/health", common.Address{}, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, 2, resp.Handlers)
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodGet, "/v1/registry", common.Address{}, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/registry", user, adminKey, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegistryRoutes(t *testing.T) {
	s := newTestServer(t, nil)
	convert := s.dep.Handlers["convert"]

	rec := s.do(t, http.MethodPost, "/v1/registry", user, userKey, RegisterRequest{ID: "convert", Address: convert})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "unauthorized", errorCode(t, rec))

	rec = s.do(t, http.MethodPost, "/v1/registry", admin, adminKey, RegisterRequest{ID: "convert", Address: convert})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created RegistrationResponse
	decodeBody(t, rec, &created)
	assert.Equal(t, "convert", created.ID)
	assert.Equal(t, convert, created.Address)
	assert.Equal(t, admin, created.RegisteredBy)

	rec = s.do(t, http.MethodPost, "/v1/registry", admin, adminKey, RegisterRequest{ID: "convert", Address: convert})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/registry/convert", user, userKey, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/registry/missing", user, userKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "unknown_handler", errorCode(t, rec))

	rec = s.do(t, http.MethodPut, "/v1/registry/missing", admin, adminKey, RebindRequest{Address: convert})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/registry", user, userKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Count int `json:"count"`
	}
	decodeBody(t, rec, &list)
	assert.Equal(t, 3, list.Count)

	rec = s.do(t, http.MethodDelete, "/v1/registry/convert", admin, adminKey, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/handlers", user, userKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var hs struct {
		Handlers []HandlerResponse `json:"handlers"`
	}
	decodeBody(t, rec, &hs)
	require.Len(t, hs.Handlers, 3)
	for _, h := range hs.Handlers {
		assert.Equal(t, h.Name != "convert", h.Registered, h.Name)
	}
}

func TestExecuteAndBatchRecords(t *testing.T) {
	s := newTestServer(t, nil)
	payload := handlers.CallABI.MustPack("bar", big.NewInt(0), big.NewInt(25))

	rec := s.do(t, http.MethodPost, "/v1/execute", user, userKey, ExecuteRequest{
		Target:  s.dep.Handlers["call"],
		Payload: payload,
		Value:   "100",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp ExecuteResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "100", resp.Refund)

	vals, err := handlers.CallABI.UnpackResult("bar", resp.Result)
	require.NoError(t, err)
	assert.Equal(t, int64(25), vals[0].(*big.Int).Int64())

	rec = s.do(t, http.MethodGet, "/v1/batches/"+resp.BatchID.String(), user, userKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var record BatchRecord
	decodeBody(t, rec, &record)
	assert.Equal(t, models.BatchStatusCommitted, record.Status)
	assert.Equal(t, user, record.Caller)
	assert.Len(t, record.StateTransitions, 3)

	rec = s.do(t, http.MethodGet, "/v1/accounts/"+proxyAddr.Hex(), user, userKey, nil)
	var acct AccountResponse
	decodeBody(t, rec, &acct)
	assert.Equal(t, "0", acct.Balance)
}

func TestBatchErrors(t *testing.T) {
	s := newTestServer(t, nil)
	call := s.dep.Handlers["call"]
	good := hexutil.Bytes(handlers.CallABI.MustPack("bar", big.NewInt(0), big.NewInt(1)))
	bad := hexutil.Bytes(handlers.CallABI.MustPack("bar", big.NewInt(7), big.NewInt(1)))

	rec := s.do(t, http.MethodPost, "/v1/batch", user, userKey, BatchRequest{
		Targets:  []common.Address{call, call},
		Payloads: []hexutil.Bytes{good},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "arity_mismatch", errorCode(t, rec))

	rec = s.do(t, http.MethodPost, "/v1/batch", user, userKey, BatchRequest{
		Value:    "10",
		Targets:  []common.Address{call},
		Payloads: []hexutil.Bytes{good},
		Values:   []string{"11"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "insufficient_value", errorCode(t, rec))

	rec = s.do(t, http.MethodPost, "/v1/batch", user, userKey, BatchRequest{
		Targets:  []common.Address{call, call},
		Payloads: []hexutil.Bytes{good, bad},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var failed ErrorResponse
	decodeBody(t, rec, &failed)
	assert.Equal(t, "handler_execution_failed", failed.Error)
	require.NotNil(t, failed.BatchID)
	require.NotNil(t, failed.FailedIndex)
	assert.Equal(t, 1, *failed.FailedIndex)

	rec = s.do(t, http.MethodPost, "/v1/execute", user, userKey, ExecuteRequest{
		Target:  s.dep.Handlers["convert"],
		Payload: good,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "handler_not_registered", errorCode(t, rec))

	rec = s.do(t, http.MethodGet, "/v1/batches?status=reverted", user, userKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Count int `json:"count"`
	}
	decodeBody(t, rec, &list)
	assert.Equal(t, 3, list.Count)

	rec = s.do(t, http.MethodGet, "/v1/batches?status=bogus", user, userKey, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchWithHooks(t *testing.T) {
	s := newTestServer(t, nil)
	hook := s.dep.Handlers["hook"]

	rec := s.do(t, http.MethodPost, "/v1/batch", user, userKey, BatchRequest{
		Value:    "50",
		Targets:  []common.Address{hook},
		Payloads: []hexutil.Bytes{handlers.HookABI.MustPack("bar2", s.dep.Counter)},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp BatchResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, 2, resp.ObligationsRun)
	assert.Equal(t, "50", resp.Refund)
}

func TestDepositRejected(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodPost, "/v1/deposit", user, userKey, DepositRequest{Value: "5"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "direct_deposit_rejected", errorCode(t, rec))

	rec = s.do(t, http.MethodGet, "/v1/accounts/"+user.Hex(), user, userKey, nil)
	var acct AccountResponse
	decodeBody(t, rec, &acct)
	assert.Equal(t, "1000000", acct.Balance)
}

func TestRateLimitedExecute(t *testing.T) {
	s := newTestServer(t, ratelimit.NewLimiter(0.001, 1))
	req := DepositRequest{Value: "1"}

	rec := s.do(t, http.MethodPost, "/v1/deposit", user, userKey, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	rec = s.do(t, http.MethodPost, "/v1/deposit", user, userKey, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// other routes are not limited
	rec = s.do(t, http.MethodGet, "/v1/proxy", user, userKey, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{registry.ErrUnauthorized, http.StatusForbidden},
		{registry.ErrUnknownHandler, http.StatusNotFound},
		{registry.ErrAlreadyRegistered, http.StatusConflict},
		{proxy.ErrArityMismatch, http.StatusBadRequest},
		{proxy.ErrInsufficientValue, http.StatusBadRequest},
		{proxy.ErrHandlerNotRegistered, http.StatusUnprocessableEntity},
		{proxy.ErrDirectDepositRejected, http.StatusUnprocessableEntity},
		{proxy.ErrPostProcessOverflow, http.StatusInternalServerError},
		{proxy.ErrInvariantViolation, http.StatusInternalServerError},
		{&proxy.InstructionError{Kind: proxy.ErrHandlerExecutionFailed, Err: registry.ErrUnauthorized}, http.StatusUnprocessableEntity},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, _ := statusFor(tt.err)
		assert.Equal(t, tt.want, status, tt.err.Error())
	}
}
