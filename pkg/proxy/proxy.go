// Package proxy runs registry-approved handler logic inside the proxy's own
// account context, batching calls atomically and draining post-process
// obligations before a batch completes.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/psantana5/dispatch-proxy/pkg/ledger"
	"github.com/psantana5/dispatch-proxy/pkg/logging"
	"github.com/psantana5/dispatch-proxy/pkg/models"
)

// DefaultMaxDrainIterations bounds the post-process queue of one batch
const DefaultMaxDrainIterations = 64

// Resolver answers the trust-boundary question. Admitted returns the set of
// approved handler addresses at one instant; a batch admits every
// instruction and obligation against the set it read when it started.
type Resolver interface {
	Admitted(ctx context.Context) (map[common.Address]bool, error)
}

// Recorder persists batch audit records
type Recorder interface {
	CreateBatch(batch *models.Batch) error
	UpdateBatch(batch *models.Batch) error
}

// Observer receives batch outcomes for metrics
type Observer interface {
	ObserveBatch(batch *models.Batch, instructions int, refund *uint256.Int, elapsed time.Duration)
	ObserveDepositRejected()
}

// Config holds proxy settings
type Config struct {
	Address            common.Address
	MaxDrainIterations int
}

// Option configures optional collaborators
type Option func(*Proxy)

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(p *Proxy) { p.logger = l }
}

// WithRecorder persists batch records
func WithRecorder(r Recorder) Option {
	return func(p *Proxy) { p.recorder = r }
}

// WithObserver reports batch outcomes
func WithObserver(o Observer) Option {
	return func(p *Proxy) { p.observer = o }
}

// WithMiddleware wraps every handler invocation, outermost first
func WithMiddleware(mws ...Middleware) Option {
	return func(p *Proxy) { p.middleware = append(p.middleware, mws...) }
}

// Proxy is the dispatch executor. One batch runs at a time.
type Proxy struct {
	mu sync.RWMutex

	address  common.Address
	state    *ledger.State
	registry Resolver
	catalog  *Catalog
	maxDrain int

	logger     *logging.Logger
	recorder   Recorder
	observer   Observer
	middleware []Middleware
	chain      Middleware
}

// New creates a proxy and installs its deposit guard on the ledger
func New(cfg Config, state *ledger.State, registry Resolver, catalog *Catalog, opts ...Option) (*Proxy, error) {
	if cfg.Address == (common.Address{}) {
		return nil, errors.New("proxy: address is required")
	}
	if cfg.MaxDrainIterations <= 0 {
		cfg.MaxDrainIterations = DefaultMaxDrainIterations
	}

	p := &Proxy{
		address:  cfg.Address,
		state:    state,
		registry: registry,
		catalog:  catalog,
		maxDrain: cfg.MaxDrainIterations,
		logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.WithField("component", "proxy")
	p.chain = Chain(p.middleware...)

	if err := state.InstallCode(p.address, depositGuard{}); err != nil {
		return nil, fmt.Errorf("failed to install proxy code: %w", err)
	}
	return p, nil
}

// Address returns the proxy's ledger address
func (p *Proxy) Address() common.Address {
	return p.address
}

// Catalog returns the installed handler catalog
func (p *Proxy) Catalog() *Catalog {
	return p.catalog
}

// Execute runs a single handler call as a batch of one
func (p *Proxy) Execute(ctx context.Context, caller, target common.Address, payload []byte, value *uint256.Int) ([]byte, error) {
	batch, err := p.Submit(ctx, caller, value, []models.Instruction{{Target: target, Payload: payload}})
	if err != nil {
		return nil, err
	}
	return batch.Results[0], nil
}

// BatchExecute runs handler calls in order as one atomic batch
func (p *Proxy) BatchExecute(ctx context.Context, caller common.Address, value *uint256.Int, targets []common.Address, payloads [][]byte) ([][]byte, error) {
	if len(targets) != len(payloads) {
		return nil, fmt.Errorf("%w: %d targets, %d payloads", ErrArityMismatch, len(targets), len(payloads))
	}
	instrs := make([]models.Instruction, len(targets))
	for i := range targets {
		instrs[i] = models.Instruction{Target: targets[i], Payload: payloads[i]}
	}
	batch, err := p.Submit(ctx, caller, value, instrs)
	if err != nil {
		return nil, err
	}
	return batch.Results, nil
}

// BatchExecuteInstructions runs instructions that each carry their own value
func (p *Proxy) BatchExecuteInstructions(ctx context.Context, caller common.Address, value *uint256.Int, instrs []models.Instruction) ([][]byte, error) {
	batch, err := p.Submit(ctx, caller, value, instrs)
	if err != nil {
		return nil, err
	}
	return batch.Results, nil
}

// Receive handles a bare transfer to the proxy. It is always refused.
func (p *Proxy) Receive(ctx context.Context, from common.Address, value *uint256.Int) error {
	amount := "0"
	if value != nil {
		amount = value.Dec()
	}
	p.logger.Warn("Direct deposit rejected", logging.Fields{"from": from.Hex(), "value": amount})
	if p.observer != nil {
		p.observer.ObserveDepositRejected()
	}
	return fmt.Errorf("%w: from %s", ErrDirectDepositRejected, from.Hex())
}

// Balance returns the native balance of addr without observing a batch in progress
func (p *Proxy) Balance(addr common.Address) *uint256.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.GetBalance(addr)
}

// View runs fn against the ledger between batches. fn must not mutate state.
func (p *Proxy) View(fn func(state *ledger.State) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return fn(p.state)
}

// Submit runs instrs as one atomic batch and returns its audit record. The
// record is returned alongside the error when the batch was reverted.
func (p *Proxy) Submit(ctx context.Context, caller common.Address, value *uint256.Int, instrs []models.Instruction) (*models.Batch, error) {
	if value == nil {
		value = new(uint256.Int)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	targets := make([]common.Address, len(instrs))
	for i, in := range instrs {
		targets[i] = in.Target
	}
	batch := &models.Batch{
		ID:        uuid.New(),
		Caller:    caller,
		Value:     value.Dec(),
		Targets:   targets,
		Status:    models.BatchStatusReceived,
		CreatedAt: time.Now().UTC(),
	}
	p.record(batch, true)

	log := p.logger.WithFields(logging.Fields{
		"batch_id": batch.ID.String(),
		"caller":   caller.Hex(),
	})
	log.Info("Batch started", logging.Fields{"instructions": len(instrs), "value": batch.Value})

	start := time.Now()
	refund, err := p.run(ctx, batch, caller, value, instrs)
	elapsed := time.Since(start)

	if err != nil {
		batch.Results = nil
		batch.Error = err.Error()
		var ie *InstructionError
		if errors.As(err, &ie) && ie.Phase == PhaseInstruction {
			idx := ie.Index
			batch.FailedIndex = &idx
		}
		if terr := batch.Transition(models.BatchStatusReverted, err.Error()); terr != nil {
			log.WithError(terr).Error("Invalid batch transition")
		}
		log.WithError(err).Warn("Batch reverted", logging.Fields{"elapsed": elapsed.String()})
	} else {
		batch.Refund = refund.Dec()
		if terr := batch.Transition(models.BatchStatusCommitted, ""); terr != nil {
			log.WithError(terr).Error("Invalid batch transition")
		}
		log.Info("Batch committed", logging.Fields{
			"obligations": batch.ObligationsRun,
			"refund":      batch.Refund,
			"elapsed":     elapsed.String(),
		})
	}

	p.record(batch, false)
	if p.observer != nil {
		p.observer.ObserveBatch(batch, len(instrs), refund, elapsed)
	}
	return batch, err
}

// run executes the batch against a ledger checkpoint. Every error path,
// including a panic, restores the checkpoint before returning.
func (p *Proxy) run(ctx context.Context, batch *models.Batch, caller common.Address, value *uint256.Int, instrs []models.Instruction) (refund *uint256.Int, err error) {
	zero := new(uint256.Int)

	required := new(uint256.Int)
	for _, in := range instrs {
		if _, overflow := required.AddOverflow(required, in.AttachedValue()); overflow {
			return zero, fmt.Errorf("%w: instruction values overflow", ErrInsufficientValue)
		}
	}
	if required.Gt(value) {
		return zero, fmt.Errorf("%w: instructions need %s, attached %s", ErrInsufficientValue, required.Dec(), value.Dec())
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	admitted, err := p.registry.Admitted(ctx)
	if err != nil {
		return zero, fmt.Errorf("failed to read registry: %w", err)
	}

	baseline := p.state.GetBalance(p.address)
	snap := p.state.Snapshot()
	settled := false
	fail := func(err error) (*uint256.Int, error) {
		settled = true
		p.state.RevertToSnapshot(snap)
		return zero, err
	}
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if !settled {
			p.state.RevertToSnapshot(snap)
		}
		p.logger.Error("Batch panicked", logging.Fields{
			"batch_id": batch.ID.String(),
			"panic":    fmt.Sprint(r),
			"stack":    string(debug.Stack()),
		})
		refund, err = zero, fmt.Errorf("%w: panic: %v", ErrHandlerExecutionFailed, r)
	}()

	if err := batch.Transition(models.BatchStatusExecuting, ""); err != nil {
		return fail(err)
	}
	if err := p.state.Transfer(caller, p.address, value); err != nil {
		return fail(err)
	}

	frame := &batchFrame{id: batch.ID, origin: caller, value: value, admitted: admitted}
	results := make([][]byte, 0, len(instrs))
	for i, in := range instrs {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		callValue := value
		if in.Value != nil {
			callValue = in.Value
		}
		out, err := p.invoke(ctx, frame, PhaseInstruction, i, in.Target, in.Payload, callValue)
		if err != nil {
			return fail(err)
		}
		results = append(results, out)
	}

	if err := batch.Transition(models.BatchStatusDraining, ""); err != nil {
		return fail(err)
	}
	ran, err := p.drain(ctx, frame)
	batch.ObligationsRun = ran
	if err != nil {
		return fail(err)
	}

	// Default obligation: anything above the baseline goes back to the caller.
	refund = new(uint256.Int)
	if current := p.state.GetBalance(p.address); current.Gt(baseline) {
		refund.Sub(current, baseline)
		if err := p.state.Transfer(p.address, caller, refund); err != nil {
			return fail(err)
		}
	}

	if final := p.state.GetBalance(p.address); !final.Eq(baseline) {
		return fail(fmt.Errorf("%w: baseline %s, final %s", ErrInvariantViolation, baseline.Dec(), final.Dec()))
	}

	settled = true
	p.state.Commit()
	batch.Results = results
	return refund, nil
}

// drain runs queued obligations in FIFO order until the queue is empty
func (p *Proxy) drain(ctx context.Context, frame *batchFrame) (int, error) {
	ran := 0
	for {
		ob, ok := frame.queue.pop()
		if !ok {
			return ran, nil
		}
		if ran >= p.maxDrain {
			return ran, fmt.Errorf("%w: more than %d obligations", ErrPostProcessOverflow, p.maxDrain)
		}
		if err := ctx.Err(); err != nil {
			return ran, err
		}
		if _, err := p.invoke(ctx, frame, PhasePostProcess, ran, ob.Target, ob.Payload, frame.value); err != nil {
			return ran, err
		}
		ran++
	}
}

// invoke admits target against the batch's registry view and runs its
// handler in the proxy's context. A panic in the handler or its middleware
// is returned as a failed invocation.
func (p *Proxy) invoke(ctx context.Context, frame *batchFrame, phase Phase, index int, target common.Address, payload []byte, value *uint256.Int) (out []byte, err error) {
	h, installed := p.catalog.Lookup(target)
	if !frame.admitted[target] || !installed || !p.state.HasCode(target) {
		return nil, &InstructionError{Index: index, Target: target, Phase: phase, Kind: ErrHandlerNotRegistered}
	}

	inv := &Invocation{
		BatchID: frame.id,
		Phase:   phase,
		Index:   index,
		Target:  target,
		Handler: h.Name(),
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Handler panicked", logging.Fields{
				"batch_id": frame.id.String(),
				"handler":  inv.Handler,
				"panic":    fmt.Sprint(r),
				"stack":    string(debug.Stack()),
			})
			out = nil
			err = &InstructionError{Index: index, Target: target, Phase: phase, Kind: ErrHandlerExecutionFailed, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	out, err = p.chain(ctx, inv, func(ctx context.Context) ([]byte, error) {
		ec := &ExecContext{
			ctx:         ctx,
			state:       p.state,
			self:        p.address,
			codeAddress: target,
			value:       value,
			frame:       frame,
		}
		return h.Handle(ec, payload)
	})
	if err != nil {
		return nil, &InstructionError{Index: index, Target: target, Phase: phase, Kind: ErrHandlerExecutionFailed, Err: err}
	}
	return out, nil
}

func (p *Proxy) record(batch *models.Batch, create bool) {
	if p.recorder == nil {
		return
	}
	var err error
	if create {
		err = p.recorder.CreateBatch(batch)
	} else {
		err = p.recorder.UpdateBatch(batch)
	}
	if err != nil {
		p.logger.WithError(err).Error("Failed to record batch", logging.Fields{"batch_id": batch.ID.String()})
	}
}
