package proxy

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/psantana5/dispatch-proxy/pkg/ledger"
	"github.com/psantana5/dispatch-proxy/pkg/models"
)

// obligationQueue is the FIFO of post-process calls for one batch
type obligationQueue struct {
	items []models.Obligation
	head  int
}

func (q *obligationQueue) push(ob models.Obligation) {
	q.items = append(q.items, ob)
}

func (q *obligationQueue) pop() (models.Obligation, bool) {
	if q.head >= len(q.items) {
		return models.Obligation{}, false
	}
	ob := q.items[q.head]
	q.items[q.head] = models.Obligation{}
	q.head++
	return ob, true
}

func (q *obligationQueue) len() int {
	return len(q.items) - q.head
}

// batchFrame is the state shared by every invocation of one batch
type batchFrame struct {
	id       uuid.UUID
	origin   common.Address
	value    *uint256.Int
	admitted map[common.Address]bool
	queue    obligationQueue
}

// ExecContext is what a handler sees while it runs. Storage and balance
// operations act on the proxy's own account, never on the handler's.
type ExecContext struct {
	ctx         context.Context
	state       *ledger.State
	self        common.Address
	codeAddress common.Address
	value       *uint256.Int
	frame       *batchFrame
}

// Context returns the request context of the batch
func (ec *ExecContext) Context() context.Context {
	return ec.ctx
}

// Self is the proxy address whose account the handler operates on
func (ec *ExecContext) Self() common.Address {
	return ec.self
}

// Origin is the caller that submitted the batch
func (ec *ExecContext) Origin() common.Address {
	return ec.frame.origin
}

// CodeAddress is the address of the handler code currently running
func (ec *ExecContext) CodeAddress() common.Address {
	return ec.codeAddress
}

// BatchID identifies the batch being executed
func (ec *ExecContext) BatchID() uuid.UUID {
	return ec.frame.id
}

// Value is the native amount attached to the current instruction. When the
// instruction carries none, it is the value attached to the whole batch.
func (ec *ExecContext) Value() *uint256.Int {
	return new(uint256.Int).Set(ec.value)
}

// Balance returns the proxy's current native balance
func (ec *ExecContext) Balance() *uint256.Int {
	return ec.state.GetBalance(ec.self)
}

// Call invokes another ledger account from the proxy account
func (ec *ExecContext) Call(to common.Address, value *uint256.Int, input []byte) ([]byte, error) {
	return ec.state.Call(ec.self, to, value, input)
}

// GetState reads a slot of the proxy's storage
func (ec *ExecContext) GetState(key common.Hash) common.Hash {
	return ec.state.GetState(ec.self, key)
}

// SetState writes a slot of the proxy's storage
func (ec *ExecContext) SetState(key, value common.Hash) {
	ec.state.SetState(ec.self, key, value)
}

// EnqueuePostProcess schedules a call to run after every instruction of the
// batch has completed. Obligations run in the order they were enqueued.
func (ec *ExecContext) EnqueuePostProcess(target common.Address, payload []byte) {
	ec.frame.queue.push(models.Obligation{
		Target:  target,
		Payload: append([]byte(nil), payload...),
	})
}

// PendingObligations reports how many obligations are waiting to run
func (ec *ExecContext) PendingObligations() int {
	return ec.frame.queue.len()
}
