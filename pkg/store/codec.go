package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/google/uuid"

	"github.com/psantana5/dispatch-proxy/pkg/models"
)

// Column encodings shared by the SQL backends. Address lists and result
// blobs are RLP encoded; the transition history is JSON like the rest of the API.

func encodeTargets(targets []common.Address) ([]byte, error) {
	if targets == nil {
		targets = []common.Address{}
	}
	return rlp.EncodeToBytes(targets)
}

func decodeTargets(raw []byte) ([]common.Address, error) {
	var targets []common.Address
	if len(raw) == 0 {
		return targets, nil
	}
	if err := rlp.DecodeBytes(raw, &targets); err != nil {
		return nil, fmt.Errorf("failed to decode targets: %w", err)
	}
	return targets, nil
}

func encodeResults(results [][]byte) ([]byte, error) {
	if results == nil {
		results = [][]byte{}
	}
	return rlp.EncodeToBytes(results)
}

func decodeResults(raw []byte) ([][]byte, error) {
	var results [][]byte
	if len(raw) == 0 {
		return results, nil
	}
	if err := rlp.DecodeBytes(raw, &results); err != nil {
		return nil, fmt.Errorf("failed to decode results: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results, nil
}

func encodeTransitions(ts []models.StateTransition) (string, error) {
	raw, err := json.Marshal(ts)
	if err != nil {
		return "", fmt.Errorf("failed to marshal state_transitions: %w", err)
	}
	return string(raw), nil
}

func decodeTransitions(raw string) ([]models.StateTransition, error) {
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var ts []models.StateTransition
	if err := json.Unmarshal([]byte(raw), &ts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state_transitions: %w", err)
	}
	return ts, nil
}

func nullIndex(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func indexFromNull(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	i := int(n.Int64)
	return &i
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRegistration(row rowScanner) (*models.Registration, error) {
	var (
		reg                models.Registration
		id, address, regBy string
		updatedAt          sql.NullTime
	)
	if err := row.Scan(&id, &address, &regBy, &reg.RegisteredAt, &updatedAt); err != nil {
		return nil, err
	}
	hid, err := models.ParseHandlerID(id)
	if err != nil {
		return nil, err
	}
	reg.ID = hid
	reg.Address = common.HexToAddress(address)
	reg.RegisteredBy = common.HexToAddress(regBy)
	if updatedAt.Valid {
		t := updatedAt.Time
		reg.UpdatedAt = &t
	}
	return &reg, nil
}

func scanBatch(row rowScanner) (*models.Batch, error) {
	var (
		b                  models.Batch
		id, caller, status string
		targets, results   []byte
		refund, errMsg     sql.NullString
		failedIndex        sql.NullInt64
		finishedAt         sql.NullTime
		transitions        sql.NullString
	)
	err := row.Scan(&id, &caller, &b.Value, &targets, &status, &results, &b.ObligationsRun,
		&refund, &errMsg, &failedIndex, &b.CreatedAt, &finishedAt, &transitions)
	if err != nil {
		return nil, err
	}

	if b.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	b.Caller = common.HexToAddress(caller)
	b.Status = models.BatchStatus(status)
	if b.Targets, err = decodeTargets(targets); err != nil {
		return nil, err
	}
	if b.Results, err = decodeResults(results); err != nil {
		return nil, err
	}
	b.Refund = refund.String
	b.Error = errMsg.String
	b.FailedIndex = indexFromNull(failedIndex)
	if finishedAt.Valid {
		t := finishedAt.Time
		b.FinishedAt = &t
	}
	if b.StateTransitions, err = decodeTransitions(transitions.String); err != nil {
		return nil, err
	}
	return &b, nil
}
