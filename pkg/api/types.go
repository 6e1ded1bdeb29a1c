package api

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"

	"github.com/psantana5/dispatch-proxy/pkg/models"
	"github.com/psantana5/dispatch-proxy/pkg/proxy"
)

// RegisterRequest binds a handler identifier
type RegisterRequest struct {
	ID      string         `json:"id"`
	Address common.Address `json:"address"`
}

// RebindRequest moves an identifier to a new address
type RebindRequest struct {
	Address common.Address `json:"address"`
}

// RegistrationResponse is a registry entry
type RegistrationResponse struct {
	ID           string         `json:"id"`
	IDHex        string         `json:"id_hex"`
	Address      common.Address `json:"address"`
	RegisteredBy common.Address `json:"registered_by"`
	RegisteredAt time.Time      `json:"registered_at"`
	UpdatedAt    *time.Time     `json:"updated_at,omitempty"`
}

func toRegistrationResponse(reg *models.Registration) RegistrationResponse {
	return RegistrationResponse{
		ID:           reg.ID.String(),
		IDHex:        reg.ID.Hex(),
		Address:      reg.Address,
		RegisteredBy: reg.RegisteredBy,
		RegisteredAt: reg.RegisteredAt,
		UpdatedAt:    reg.UpdatedAt,
	}
}

// HandlerResponse describes installed handler code
type HandlerResponse struct {
	proxy.CatalogEntry
	Registered bool `json:"registered"`
}

// ExecuteRequest runs one handler call. Value is a decimal amount.
type ExecuteRequest struct {
	Target  common.Address `json:"target"`
	Payload hexutil.Bytes  `json:"payload"`
	Value   string         `json:"value,omitempty"`
}

// ExecuteResponse carries the handler's return data
type ExecuteResponse struct {
	BatchID uuid.UUID     `json:"batch_id"`
	Result  hexutil.Bytes `json:"result"`
	Refund  string        `json:"refund"`
}

// BatchRequest runs handler calls atomically. Values, when present, gives
// each instruction its own attached amount.
type BatchRequest struct {
	Value    string           `json:"value,omitempty"`
	Targets  []common.Address `json:"targets"`
	Payloads []hexutil.Bytes  `json:"payloads"`
	Values   []string         `json:"values,omitempty"`
}

// BatchResponse carries one result per instruction
type BatchResponse struct {
	BatchID        uuid.UUID       `json:"batch_id"`
	Results        []hexutil.Bytes `json:"results"`
	ObligationsRun int             `json:"obligations_run"`
	Refund         string          `json:"refund"`
}

// DepositRequest is a bare transfer to the proxy
type DepositRequest struct {
	Value string `json:"value"`
}

// BatchRecord is the audit view of a batch
type BatchRecord struct {
	ID               uuid.UUID                `json:"id"`
	Caller           common.Address           `json:"caller"`
	Value            string                   `json:"value"`
	Targets          []common.Address         `json:"targets"`
	Status           models.BatchStatus       `json:"status"`
	Results          []hexutil.Bytes          `json:"results,omitempty"`
	ObligationsRun   int                      `json:"obligations_run"`
	Refund           string                   `json:"refund,omitempty"`
	Error            string                   `json:"error,omitempty"`
	FailedIndex      *int                     `json:"failed_index,omitempty"`
	CreatedAt        time.Time                `json:"created_at"`
	FinishedAt       *time.Time               `json:"finished_at,omitempty"`
	StateTransitions []models.StateTransition `json:"state_transitions,omitempty"`
}

func toBatchRecord(b *models.Batch) BatchRecord {
	return BatchRecord{
		ID:               b.ID,
		Caller:           b.Caller,
		Value:            b.Value,
		Targets:          b.Targets,
		Status:           b.Status,
		Results:          hexResults(b.Results),
		ObligationsRun:   b.ObligationsRun,
		Refund:           b.Refund,
		Error:            b.Error,
		FailedIndex:      b.FailedIndex,
		CreatedAt:        b.CreatedAt,
		FinishedAt:       b.FinishedAt,
		StateTransitions: b.StateTransitions,
	}
}

func hexResults(results [][]byte) []hexutil.Bytes {
	if results == nil {
		return nil
	}
	out := make([]hexutil.Bytes, len(results))
	for i, r := range results {
		out[i] = r
	}
	return out
}

// AccountResponse is a native balance
type AccountResponse struct {
	Address common.Address `json:"address"`
	Balance string         `json:"balance"`
}

// ProxyResponse describes the proxy account
type ProxyResponse struct {
	Address  common.Address       `json:"address"`
	Balance  string               `json:"balance"`
	Handlers []proxy.CatalogEntry `json:"handlers"`
}

// ErrorResponse is returned for every failed request
type ErrorResponse struct {
	Error       string     `json:"error"`
	Message     string     `json:"message"`
	BatchID     *uuid.UUID `json:"batch_id,omitempty"`
	FailedIndex *int       `json:"failed_index,omitempty"`
}

// HealthResponse reports liveness and host load
type HealthResponse struct {
	Status        string  `json:"status"`
	Uptime        string  `json:"uptime"`
	Handlers      int     `json:"registered_handlers"`
	Store         string  `json:"store"`
	MemoryUsedPct float64 `json:"memory_used_percent,omitempty"`
	Load1         float64 `json:"load1,omitempty"`
	NumCPU        int     `json:"num_cpu"`
}
