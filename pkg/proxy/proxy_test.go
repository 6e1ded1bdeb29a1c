package proxy_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/dispatch-proxy/pkg/handlers"
	"github.com/psantana5/dispatch-proxy/pkg/ledger"
	"github.com/psantana5/dispatch-proxy/pkg/logging"
	"github.com/psantana5/dispatch-proxy/pkg/models"
	"github.com/psantana5/dispatch-proxy/pkg/proxy"
	"github.com/psantana5/dispatch-proxy/pkg/registry"
	"github.com/psantana5/dispatch-proxy/pkg/store"
	"github.com/psantana5/dispatch-proxy/pkg/targets"
)

var (
	admin     = common.HexToAddress("0xad00000000000000000000000000000000000001")
	deployer  = common.HexToAddress("0xde00000000000000000000000000000000000002")
	user      = common.HexToAddress("0x0000000000000000000000000000000000005e12")
	proxyAddr = common.HexToAddress("0x00000000000000000000000000000000000000bf")
	sink      = common.HexToAddress("0x000000000000000000000000000000000000dead")
)

func ether(n int64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(uint64(n)), uint256.NewInt(1e18))
}

func milliEther(n int64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(uint64(n)), uint256.NewInt(1e15))
}

type fixture struct {
	state   *ledger.State
	store   *store.MemoryStore
	reg     *registry.Registry
	catalog *proxy.Catalog
	proxy   *proxy.Proxy
	dep     *handlers.Deployment
}

type fixtureOpts struct {
	alloc    ledger.GenesisAlloc
	maxDrain int
	// bare builds the proxy with no options at all
	bare bool
}

func newFixture(t *testing.T, opts fixtureOpts) *fixture {
	t.Helper()
	ctx := context.Background()

	alloc := ledger.GenesisAlloc{user: ether(10)}
	for addr, amount := range opts.alloc {
		alloc[addr] = amount
	}
	f := &fixture{
		state:   ledger.NewState(alloc),
		store:   store.NewMemoryStore(),
		catalog: proxy.NewCatalog(),
	}

	var err error
	f.dep, err = handlers.Deploy(f.state, f.catalog, handlers.DeployConfig{Deployer: deployer, Vaults: 3, Exchanges: 3})
	require.NoError(t, err)

	f.reg, err = registry.New(admin, f.store, nil)
	require.NoError(t, err)
	for name, addr := range f.dep.Handlers {
		require.NoError(t, f.reg.Register(ctx, admin, models.MustHandlerID(name), addr))
	}

	var options []proxy.Option
	if !opts.bare {
		options = append(options,
			proxy.WithRecorder(f.store),
			proxy.WithMiddleware(proxy.Recover(logging.Discard()), proxy.Logging(logging.Discard())),
		)
	}
	f.proxy, err = proxy.New(
		proxy.Config{Address: proxyAddr, MaxDrainIterations: opts.maxDrain},
		f.state, f.reg, f.catalog, options...,
	)
	require.NoError(t, err)
	f.state.Commit()
	return f
}

// install places fn on the ledger and, when register is set, approves it
func (f *fixture) install(t *testing.T, name string, register bool, fn func(ec *proxy.ExecContext, payload []byte) ([]byte, error)) common.Address {
	t.Helper()
	addr, err := f.catalog.Install(f.state, deployer, proxy.HandlerFunc{HandlerName: name, Fn: fn})
	require.NoError(t, err)
	if register {
		require.NoError(t, f.reg.Register(context.Background(), admin, models.MustHandlerID(name), addr))
	}
	f.state.Commit()
	return addr
}

func (f *fixture) vaultValue(t *testing.T, index int) uint64 {
	t.Helper()
	v, err := targets.ReadUint(f.state, targets.VaultABI, f.dep.Vaults[index], "accounts", proxyAddr)
	require.NoError(t, err)
	return v.Uint64()
}

func (f *fixture) tokenBalance(t *testing.T, index int, owner common.Address) *uint256.Int {
	t.Helper()
	v, err := targets.ReadUint(f.state, targets.ExchangeABI, f.dep.Exchanges[index], "balanceOf", owner)
	require.NoError(t, err)
	return v
}

func (f *fixture) counter(t *testing.T) uint64 {
	t.Helper()
	v, err := targets.ReadUint(f.state, targets.CounterABI, f.dep.Counter, "num")
	require.NoError(t, err)
	return v.Uint64()
}

func callPayload(index, num int64) []byte {
	return handlers.CallABI.MustPack("bar", big.NewInt(index), big.NewInt(num))
}

func convertPayload(value *uint256.Int, index int64) []byte {
	return handlers.ConvertABI.MustPack("bar", value.ToBig(), big.NewInt(index))
}

func TestExecuteSingleCall(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	out, err := f.proxy.Execute(context.Background(), user, f.dep.Handlers["call"], callPayload(0, 25), nil)
	require.NoError(t, err)

	vals, err := targets.VaultABI.UnpackResult("accounts", out)
	require.NoError(t, err)
	assert.Equal(t, int64(25), vals[0].(*big.Int).Int64())
	assert.Equal(t, uint64(25), f.vaultValue(t, 0))
}

func TestBatchExecuteMultipleCalls(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	h := f.dep.Handlers["call"]

	results, err := f.proxy.BatchExecute(context.Background(), user, nil,
		[]common.Address{h, h, h},
		[][]byte{callPayload(0, 25), callPayload(1, 26), callPayload(2, 27)},
	)
	require.NoError(t, err)
	assert.Len(t, results, 3)

	assert.Equal(t, uint64(25), f.vaultValue(t, 0))
	assert.Equal(t, uint64(26), f.vaultValue(t, 1))
	assert.Equal(t, uint64(27), f.vaultValue(t, 2))
}

func TestExecuteConvertSingle(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	before := f.state.GetBalance(user)

	_, err := f.proxy.Execute(context.Background(), user, f.dep.Handlers["convert"], convertPayload(ether(1), 0), ether(1))
	require.NoError(t, err)

	assert.True(t, f.state.GetBalance(proxyAddr).IsZero())
	assert.True(t, f.tokenBalance(t, 0, proxyAddr).IsZero())
	assert.Equal(t, milliEther(500), f.tokenBalance(t, 0, user))

	spent := new(uint256.Int).Sub(before, f.state.GetBalance(user))
	assert.Equal(t, milliEther(500), spent)
}

func TestBatchExecuteConvertMultiple(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	h := f.dep.Handlers["convert"]
	values := []*uint256.Int{milliEther(100), milliEther(200), milliEther(500)}
	before := f.state.GetBalance(user)

	batch, err := f.proxy.Submit(context.Background(), user, ether(1), []models.Instruction{
		{Target: h, Payload: convertPayload(values[0], 0)},
		{Target: h, Payload: convertPayload(values[1], 1)},
		{Target: h, Payload: convertPayload(values[2], 2)},
	})
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusCommitted, batch.Status)

	// 0.8 ether converted, half kept by the exchanges, the rest refunded
	assert.Equal(t, milliEther(600).Dec(), batch.Refund)
	assert.True(t, f.state.GetBalance(proxyAddr).IsZero())

	spent := new(uint256.Int).Sub(before, f.state.GetBalance(user))
	assert.Equal(t, milliEther(400), spent)

	for i, v := range values {
		half := new(uint256.Int).Rsh(v, 1)
		assert.Equal(t, half, f.tokenBalance(t, i, user), "exchange %d", i)
		assert.True(t, f.tokenBalance(t, i, proxyAddr).IsZero(), "exchange %d", i)
	}
}

func TestPostProcessHooks(t *testing.T) {
	tests := []struct {
		method string
		want   uint64
	}{
		{"bar1", 1},
		{"bar2", 2},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			f := newFixture(t, fixtureOpts{})
			before := f.state.GetBalance(user)

			payload := handlers.HookABI.MustPack(tt.method, f.dep.Counter)
			batch, err := f.proxy.Submit(context.Background(), user, ether(1), []models.Instruction{
				{Target: f.dep.Handlers["hook"], Payload: payload},
			})
			require.NoError(t, err)

			assert.Equal(t, tt.want, f.counter(t))
			assert.Equal(t, int(tt.want), batch.ObligationsRun)
			assert.Equal(t, before, f.state.GetBalance(user))
			assert.Equal(t, ether(1).Dec(), batch.Refund)
		})
	}
}

func TestUnregisteredTargetHasNoEffect(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	touched := false
	rogue := f.install(t, "rogue", false, func(ec *proxy.ExecContext, _ []byte) ([]byte, error) {
		touched = true
		return nil, nil
	})
	before := f.state.GetBalance(user)

	_, err := f.proxy.Execute(ctx, user, rogue, nil, ether(1))
	require.ErrorIs(t, err, proxy.ErrHandlerNotRegistered)
	assert.False(t, touched)
	assert.Equal(t, before, f.state.GetBalance(user))

	// registered address without installed code
	bare := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	require.NoError(t, f.reg.Register(ctx, admin, models.MustHandlerID("bare"), bare))
	_, err = f.proxy.Execute(ctx, user, bare, nil, nil)
	require.ErrorIs(t, err, proxy.ErrHandlerNotRegistered)

	var ie *proxy.InstructionError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, 0, ie.Index)
	assert.Equal(t, proxy.PhaseInstruction, ie.Phase)
	assert.Equal(t, bare, ie.Target)
}

func TestBatchAtomicityOnLateFailure(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	h := f.dep.Handlers["call"]
	before := f.state.GetBalance(user)

	batch, err := f.proxy.Submit(context.Background(), user, ether(2), []models.Instruction{
		{Target: h, Payload: callPayload(0, 25)},
		{Target: h, Payload: callPayload(1, 26)},
		{Target: h, Payload: callPayload(9, 27)}, // no vault at index 9
	})
	require.ErrorIs(t, err, proxy.ErrHandlerExecutionFailed)

	assert.Equal(t, uint64(0), f.vaultValue(t, 0))
	assert.Equal(t, uint64(0), f.vaultValue(t, 1))
	assert.Equal(t, before, f.state.GetBalance(user))
	assert.True(t, f.state.GetBalance(proxyAddr).IsZero())

	assert.Equal(t, models.BatchStatusReverted, batch.Status)
	require.NotNil(t, batch.FailedIndex)
	assert.Equal(t, 2, *batch.FailedIndex)
	assert.Nil(t, batch.Results)

	stored, err := f.store.GetBatch(batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusReverted, stored.Status)
}

func TestArityMismatch(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	h := f.dep.Handlers["call"]

	_, err := f.proxy.BatchExecute(context.Background(), user, nil,
		[]common.Address{h, h}, [][]byte{callPayload(0, 1)})
	require.ErrorIs(t, err, proxy.ErrArityMismatch)

	batches, err := f.store.ListBatches(store.BatchFilter{})
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestInsufficientValue(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	h := f.dep.Handlers["call"]
	before := f.state.GetBalance(user)

	_, err := f.proxy.BatchExecuteInstructions(context.Background(), user, milliEther(500), []models.Instruction{
		{Target: h, Payload: callPayload(0, 1), Value: milliEther(300)},
		{Target: h, Payload: callPayload(1, 1), Value: milliEther(300)},
	})
	require.ErrorIs(t, err, proxy.ErrInsufficientValue)
	assert.Equal(t, before, f.state.GetBalance(user))
	assert.Equal(t, uint64(0), f.vaultValue(t, 0))
}

func TestInstructionValueVisibleToHandler(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	var seen []string
	inspector := f.install(t, "inspector", true, func(ec *proxy.ExecContext, _ []byte) ([]byte, error) {
		seen = append(seen, ec.Value().Dec())
		return nil, nil
	})

	_, err := f.proxy.BatchExecuteInstructions(context.Background(), user, milliEther(500), []models.Instruction{
		{Target: inspector, Value: milliEther(200)},
		{Target: inspector},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{milliEther(200).Dec(), milliEther(500).Dec()}, seen)
}

func TestDefaultRefundRunsOnce(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	noop := f.install(t, "noop", true, func(ec *proxy.ExecContext, _ []byte) ([]byte, error) {
		return nil, nil
	})
	before := f.state.GetBalance(user)

	batch, err := f.proxy.Submit(context.Background(), user, ether(3), []models.Instruction{
		{Target: noop}, {Target: noop},
	})
	require.NoError(t, err)
	assert.Equal(t, ether(3).Dec(), batch.Refund)
	assert.Equal(t, before, f.state.GetBalance(user))
	assert.True(t, f.state.GetBalance(proxyAddr).IsZero())
}

func TestZeroNetAccumulationWithPreexistingBalance(t *testing.T) {
	f := newFixture(t, fixtureOpts{alloc: ledger.GenesisAlloc{proxyAddr: uint256.NewInt(5)}})
	leak := f.install(t, "leak", true, func(ec *proxy.ExecContext, _ []byte) ([]byte, error) {
		_, err := ec.Call(sink, uint256.NewInt(1), nil)
		return nil, err
	})
	noop := f.install(t, "noop", true, func(ec *proxy.ExecContext, _ []byte) ([]byte, error) {
		return nil, nil
	})

	// surplus above the baseline of 5 goes back, the baseline stays
	batch, err := f.proxy.Submit(context.Background(), user, uint256.NewInt(7), []models.Instruction{{Target: noop}})
	require.NoError(t, err)
	assert.Equal(t, "7", batch.Refund)
	assert.Equal(t, uint64(5), f.state.GetBalance(proxyAddr).Uint64())

	// spending below the baseline is refused
	before := f.state.GetBalance(user)
	_, err = f.proxy.Execute(context.Background(), user, leak, nil, nil)
	require.ErrorIs(t, err, proxy.ErrInvariantViolation)
	assert.Equal(t, uint64(5), f.state.GetBalance(proxyAddr).Uint64())
	assert.True(t, f.state.GetBalance(sink).IsZero())
	assert.Equal(t, before, f.state.GetBalance(user))
}

func TestPostProcessOverflow(t *testing.T) {
	f := newFixture(t, fixtureOpts{maxDrain: 3})
	var fanout func(ec *proxy.ExecContext, payload []byte) ([]byte, error)
	fanout = func(ec *proxy.ExecContext, payload []byte) ([]byte, error) {
		if len(payload) == 1 {
			for i := byte(0); i < payload[0]; i++ {
				ec.EnqueuePostProcess(ec.CodeAddress(), nil)
			}
		}
		return nil, nil
	}
	h := f.install(t, "fanout", true, fanout)

	batch, err := f.proxy.Submit(context.Background(), user, nil, []models.Instruction{{Target: h, Payload: []byte{3}}})
	require.NoError(t, err)
	assert.Equal(t, 3, batch.ObligationsRun)

	_, err = f.proxy.Execute(context.Background(), user, h, []byte{4}, nil)
	require.ErrorIs(t, err, proxy.ErrPostProcessOverflow)

	loop := f.install(t, "loop", true, func(ec *proxy.ExecContext, _ []byte) ([]byte, error) {
		ec.EnqueuePostProcess(ec.CodeAddress(), nil)
		return nil, nil
	})
	_, err = f.proxy.Execute(context.Background(), user, loop, nil, ether(1))
	require.ErrorIs(t, err, proxy.ErrPostProcessOverflow)
	assert.Equal(t, ether(10), f.state.GetBalance(user))
}

func TestObligationsRunInOrder(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	var order []byte
	recorder := f.install(t, "recorder", true, func(ec *proxy.ExecContext, payload []byte) ([]byte, error) {
		order = append(order, payload...)
		return nil, nil
	})
	scheduler := f.install(t, "scheduler", true, func(ec *proxy.ExecContext, payload []byte) ([]byte, error) {
		for _, b := range payload {
			ec.EnqueuePostProcess(recorder, []byte{b})
		}
		return nil, nil
	})

	_, err := f.proxy.BatchExecute(context.Background(), user, nil,
		[]common.Address{scheduler, scheduler},
		[][]byte{{1, 2}, {3}},
	)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, order)
}

func TestObligationTargetMustBeRegistered(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	rogue := f.install(t, "rogue", false, func(ec *proxy.ExecContext, _ []byte) ([]byte, error) {
		return nil, nil
	})
	h := f.install(t, "delegator", true, func(ec *proxy.ExecContext, _ []byte) ([]byte, error) {
		ec.SetState(common.Hash{}, common.HexToHash("0x01"))
		ec.EnqueuePostProcess(rogue, nil)
		return nil, nil
	})

	_, err := f.proxy.Execute(context.Background(), user, h, nil, nil)
	require.ErrorIs(t, err, proxy.ErrHandlerNotRegistered)

	var ie *proxy.InstructionError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, proxy.PhasePostProcess, ie.Phase)
	assert.Equal(t, common.Hash{}, f.state.GetState(proxyAddr, common.Hash{}))
}

func TestHandlerErrorIsPreserved(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	boom := errors.New("boom")
	h := f.install(t, "failing", true, func(ec *proxy.ExecContext, _ []byte) ([]byte, error) {
		ec.SetState(common.Hash{}, common.HexToHash("0x02"))
		return nil, boom
	})

	_, err := f.proxy.Execute(context.Background(), user, h, nil, nil)
	require.ErrorIs(t, err, proxy.ErrHandlerExecutionFailed)
	require.ErrorIs(t, err, boom)

	var ie *proxy.InstructionError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, boom, ie.Cause())
	assert.Equal(t, common.Hash{}, f.state.GetState(proxyAddr, common.Hash{}))
}

func TestPanickingHandlerIsReverted(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	h := f.install(t, "panicky", true, func(ec *proxy.ExecContext, _ []byte) ([]byte, error) {
		ec.SetState(common.Hash{}, common.HexToHash("0x03"))
		panic("unexpected")
	})

	_, err := f.proxy.Execute(context.Background(), user, h, nil, ether(1))
	require.ErrorIs(t, err, proxy.ErrHandlerExecutionFailed)
	assert.Equal(t, common.Hash{}, f.state.GetState(proxyAddr, common.Hash{}))
	assert.Equal(t, ether(10), f.state.GetBalance(user))
}

func TestPanicWithoutMiddlewareIsReverted(t *testing.T) {
	f := newFixture(t, fixtureOpts{bare: true})
	ctx := context.Background()
	h := f.install(t, "panicky", true, func(ec *proxy.ExecContext, _ []byte) ([]byte, error) {
		ec.SetState(common.BigToHash(big.NewInt(1)), common.HexToHash("0x02"))
		panic("unexpected")
	})
	noop := f.install(t, "noop", true, func(*proxy.ExecContext, []byte) ([]byte, error) {
		return nil, nil
	})

	var err error
	require.NotPanics(t, func() {
		_, err = f.proxy.Execute(ctx, user, h, nil, ether(1))
	})
	require.ErrorIs(t, err, proxy.ErrHandlerExecutionFailed)

	var ie *proxy.InstructionError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, proxy.PhaseInstruction, ie.Phase)
	assert.Equal(t, 0, ie.Index)

	_, err = f.proxy.Execute(ctx, user, noop, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, common.Hash{}, f.state.GetState(proxyAddr, common.BigToHash(big.NewInt(1))))
	assert.True(t, f.proxy.Balance(proxyAddr).IsZero())
	assert.Equal(t, ether(10), f.proxy.Balance(user))
}

func TestPanickingObligationIsReverted(t *testing.T) {
	f := newFixture(t, fixtureOpts{bare: true})
	bad := f.install(t, "bad-hook", true, func(*proxy.ExecContext, []byte) ([]byte, error) {
		panic("hook failed")
	})
	h := f.install(t, "scheduler", true, func(ec *proxy.ExecContext, _ []byte) ([]byte, error) {
		ec.SetState(common.Hash{}, common.HexToHash("0x06"))
		ec.EnqueuePostProcess(bad, nil)
		return nil, nil
	})

	batch, err := f.proxy.Submit(context.Background(), user, ether(2), []models.Instruction{{Target: h}})
	require.ErrorIs(t, err, proxy.ErrHandlerExecutionFailed)

	var ie *proxy.InstructionError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, proxy.PhasePostProcess, ie.Phase)
	assert.Equal(t, models.BatchStatusReverted, batch.Status)
	assert.Equal(t, common.Hash{}, f.state.GetState(proxyAddr, common.Hash{}))
	assert.Equal(t, ether(10), f.proxy.Balance(user))
}

func TestHandlerStorageLivesOnProxy(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	var codeAddr common.Address
	h := f.install(t, "writer", true, func(ec *proxy.ExecContext, _ []byte) ([]byte, error) {
		codeAddr = ec.CodeAddress()
		ec.SetState(common.Hash{}, common.HexToHash("0x04"))
		return nil, nil
	})

	_, err := f.proxy.Execute(context.Background(), user, h, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, h, codeAddr)
	assert.Equal(t, common.HexToHash("0x04"), f.state.GetState(proxyAddr, common.Hash{}))
	assert.Equal(t, 0, f.state.StorageSize(h))
}

func TestDirectDepositRejected(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	err := f.proxy.Receive(context.Background(), user, ether(1))
	require.ErrorIs(t, err, proxy.ErrDirectDepositRejected)
	assert.Equal(t, ether(10), f.state.GetBalance(user))

	_, err = f.state.Call(user, proxyAddr, ether(1), nil)
	require.ErrorIs(t, err, proxy.ErrDirectDepositRejected)
	assert.True(t, f.proxy.Balance(proxyAddr).IsZero())
}

func TestHandlerCodeNotCallableDirectly(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	_, err := f.state.Call(user, f.dep.Handlers["call"], nil, callPayload(0, 1))
	require.ErrorIs(t, err, proxy.ErrNotDelegated)
}

func TestCancelledContextReverts(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx, cancel := context.WithCancel(context.Background())
	h := f.install(t, "canceller", true, func(ec *proxy.ExecContext, _ []byte) ([]byte, error) {
		ec.SetState(common.Hash{}, common.HexToHash("0x05"))
		cancel()
		return nil, nil
	})

	_, err := f.proxy.BatchExecute(ctx, user, ether(1),
		[]common.Address{h, f.dep.Handlers["call"]},
		[][]byte{nil, callPayload(0, 1)},
	)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, common.Hash{}, f.state.GetState(proxyAddr, common.Hash{}))
	assert.Equal(t, ether(10), f.state.GetBalance(user))
}

func TestCallerWithoutFunds(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	poor := common.HexToAddress("0x0000000000000000000000000000000000000bad")

	_, err := f.proxy.Execute(context.Background(), poor, f.dep.Handlers["call"], callPayload(0, 1), ether(1))
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	assert.Equal(t, uint64(0), f.vaultValue(t, 0))
}

func TestRebindChangesAdmission(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	oldAddr := f.dep.Handlers["call"]
	replacement, err := f.catalog.Install(f.state, deployer, handlers.NewCallHandler(f.dep.VaultFactory))
	require.NoError(t, err)
	f.state.Commit()

	require.NoError(t, f.reg.Rebind(ctx, admin, models.MustHandlerID("call"), replacement))

	_, err = f.proxy.Execute(ctx, user, oldAddr, callPayload(0, 1), nil)
	require.ErrorIs(t, err, proxy.ErrHandlerNotRegistered)

	_, err = f.proxy.Execute(ctx, user, replacement, callPayload(0, 2), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), f.vaultValue(t, 0))
}

func TestRegistryWritesDuringBatchDoNotChangeAdmission(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	hook := f.install(t, "late-hook", true, func(ec *proxy.ExecContext, _ []byte) ([]byte, error) {
		ec.SetState(common.Hash{}, common.HexToHash("0x07"))
		return nil, nil
	})
	replacement := f.install(t, "replacement", false, func(*proxy.ExecContext, []byte) ([]byte, error) {
		return nil, nil
	})
	h := f.install(t, "admin-writer", true, func(ec *proxy.ExecContext, _ []byte) ([]byte, error) {
		if err := f.reg.Deregister(ctx, admin, models.MustHandlerID("late-hook")); err != nil {
			return nil, err
		}
		if err := f.reg.Register(ctx, admin, models.MustHandlerID("replacement"), replacement); err != nil {
			return nil, err
		}
		ec.EnqueuePostProcess(hook, nil)
		return nil, nil
	})

	_, err := f.proxy.Execute(ctx, user, h, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0x07"), f.state.GetState(proxyAddr, common.Hash{}))

	_, err = f.proxy.BatchExecute(ctx, user, nil,
		[]common.Address{replacement, hook},
		[][]byte{nil, nil},
	)
	require.ErrorIs(t, err, proxy.ErrHandlerNotRegistered)

	var ie *proxy.InstructionError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, 1, ie.Index)
}
