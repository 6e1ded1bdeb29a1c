// Package client talks to a proxyd server over its HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"

	"github.com/psantana5/dispatch-proxy/pkg/api"
	"github.com/psantana5/dispatch-proxy/pkg/auth"
	"github.com/psantana5/dispatch-proxy/pkg/retry"
	"github.com/psantana5/dispatch-proxy/pkg/tracing"
)

// APIError is a non-2xx response from the server
type APIError struct {
	Status      int
	Code        string
	Message     string
	BatchID     *uuid.UUID
	FailedIndex *int
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s (HTTP %d): %s", e.Code, e.Status, e.Message)
	if e.BatchID != nil {
		msg += " [batch " + e.BatchID.String() + "]"
	}
	return msg
}

// Client manages communication with a proxyd server
type Client struct {
	serverURL  string
	apiKey     string
	caller     common.Address
	httpClient *http.Client
	retry      retry.Policy
}

// Option configures the client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetry sets the resend policy for idempotent requests
func WithRetry(p retry.Policy) Option {
	return func(c *Client) { c.retry = p }
}

// New creates a client acting as caller
func New(serverURL, apiKey string, caller common.Address, opts ...Option) *Client {
	c := &Client{
		serverURL: strings.TrimRight(serverURL, "/"),
		apiKey:    apiKey,
		caller:    caller,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retry: retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Caller returns the address requests are made as
func (c *Client) Caller() common.Address {
	return c.caller
}

// do sends one request. Idempotent requests are resent on transient
// transport failures and gateway errors; requests that run batches are sent
// once.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, want int) error {
	var data []byte
	if body != nil {
		var err error
		if data, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	send := func(int) (bool, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, bytes.NewReader(data))
		if err != nil {
			return false, fmt.Errorf("failed to build request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		req.Header.Set(auth.CallerHeader, c.caller.Hex())
		tracing.InjectHTTPHeaders(ctx, req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			err = fmt.Errorf("failed to send request: %w", err)
			return retry.Transient(err), err
		}
		defer resp.Body.Close()

		if resp.StatusCode != want {
			return retry.RetryableStatus(resp.StatusCode), decodeError(resp)
		}
		if out == nil {
			return false, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return false, fmt.Errorf("failed to decode response: %w", err)
		}
		return false, nil
	}

	if !retry.Idempotent(method) {
		_, err := send(1)
		return err
	}
	return retry.Send(ctx, c.retry, send)
}

func decodeError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	apiErr := &APIError{Status: resp.StatusCode}

	var er api.ErrorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error != "" {
		apiErr.Code = er.Error
		apiErr.Message = er.Message
		apiErr.BatchID = er.BatchID
		apiErr.FailedIndex = er.FailedIndex
		return apiErr
	}
	apiErr.Code = strings.ToLower(strings.ReplaceAll(http.StatusText(resp.StatusCode), " ", "_"))
	apiErr.Message = strings.TrimSpace(string(body))
	return apiErr
}

// Health returns the server health report
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var out api.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListRegistrations returns all registry bindings
func (c *Client) ListRegistrations(ctx context.Context) ([]api.RegistrationResponse, error) {
	var out struct {
		Registrations []api.RegistrationResponse `json:"registrations"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/registry", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Registrations, nil
}

// Resolve returns the binding of id
func (c *Client) Resolve(ctx context.Context, id string) (*api.RegistrationResponse, error) {
	var out api.RegistrationResponse
	if err := c.do(ctx, http.MethodGet, "/v1/registry/"+url.PathEscape(id), nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// Register binds id to addr. The caller must be the administrator.
func (c *Client) Register(ctx context.Context, id string, addr common.Address) (*api.RegistrationResponse, error) {
	var out api.RegistrationResponse
	req := api.RegisterRequest{ID: id, Address: addr}
	if err := c.do(ctx, http.MethodPost, "/v1/registry", req, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return &out, nil
}

// Rebind moves id to addr
func (c *Client) Rebind(ctx context.Context, id string, addr common.Address) (*api.RegistrationResponse, error) {
	var out api.RegistrationResponse
	req := api.RebindRequest{Address: addr}
	if err := c.do(ctx, http.MethodPut, "/v1/registry/"+url.PathEscape(id), req, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// Deregister removes id
func (c *Client) Deregister(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/registry/"+url.PathEscape(id), nil, nil, http.StatusNoContent)
}

// ListHandlers returns installed handler code
func (c *Client) ListHandlers(ctx context.Context) ([]api.HandlerResponse, error) {
	var out struct {
		Handlers []api.HandlerResponse `json:"handlers"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/handlers", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Handlers, nil
}

// ProxyInfo describes the proxy account
func (c *Client) ProxyInfo(ctx context.Context) (*api.ProxyResponse, error) {
	var out api.ProxyResponse
	if err := c.do(ctx, http.MethodGet, "/v1/proxy", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// Execute runs one handler call with value attached (decimal, may be empty)
func (c *Client) Execute(ctx context.Context, target common.Address, payload []byte, value string) (*api.ExecuteResponse, error) {
	var out api.ExecuteResponse
	req := api.ExecuteRequest{Target: target, Payload: payload, Value: value}
	if err := c.do(ctx, http.MethodPost, "/v1/execute", req, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// Batch runs handler calls atomically
func (c *Client) Batch(ctx context.Context, req api.BatchRequest) (*api.BatchResponse, error) {
	var out api.BatchResponse
	if err := c.do(ctx, http.MethodPost, "/v1/batch", req, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// Deposit attempts a bare transfer to the proxy. The server always refuses it.
func (c *Client) Deposit(ctx context.Context, value string) error {
	return c.do(ctx, http.MethodPost, "/v1/deposit", api.DepositRequest{Value: value}, nil, http.StatusOK)
}

// BatchQuery filters ListBatches
type BatchQuery struct {
	Status string
	Caller string
	Limit  int
}

// ListBatches returns batch audit records
func (c *Client) ListBatches(ctx context.Context, q BatchQuery) ([]api.BatchRecord, error) {
	params := url.Values{}
	if q.Status != "" {
		params.Set("status", q.Status)
	}
	if q.Caller != "" {
		params.Set("caller", q.Caller)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	path := "/v1/batches"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var out struct {
		Batches []api.BatchRecord `json:"batches"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Batches, nil
}

// GetBatch returns one batch record
func (c *Client) GetBatch(ctx context.Context, id string) (*api.BatchRecord, error) {
	var out api.BatchRecord
	if err := c.do(ctx, http.MethodGet, "/v1/batches/"+url.PathEscape(id), nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// Balance returns the native balance of addr
func (c *Client) Balance(ctx context.Context, addr common.Address) (*api.AccountResponse, error) {
	var out api.AccountResponse
	if err := c.do(ctx, http.MethodGet, "/v1/accounts/"+addr.Hex(), nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// HexPayloads converts raw payloads for a BatchRequest
func HexPayloads(payloads [][]byte) []hexutil.Bytes {
	out := make([]hexutil.Bytes, len(payloads))
	for i, p := range payloads {
		out[i] = p
	}
	return out
}
