package proxy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/psantana5/dispatch-proxy/pkg/ledger"
)

// Handler is pluggable logic the proxy runs inside its own account context.
// Handlers must be stateless beyond immutable construction parameters.
type Handler interface {
	Name() string
	Handle(ec *ExecContext, payload []byte) ([]byte, error)
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc struct {
	HandlerName string
	Fn          func(ec *ExecContext, payload []byte) ([]byte, error)
}

func (h HandlerFunc) Name() string { return h.HandlerName }

func (h HandlerFunc) Handle(ec *ExecContext, payload []byte) ([]byte, error) {
	return h.Fn(ec, payload)
}

// CatalogEntry describes installed handler code
type CatalogEntry struct {
	Address common.Address `json:"address"`
	Name    string         `json:"name"`
}

// Catalog maps ledger addresses to installed handler code. Installation only
// places code; the registry decides which addresses the proxy will run.
type Catalog struct {
	mu       sync.RWMutex
	handlers map[common.Address]Handler
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{handlers: make(map[common.Address]Handler)}
}

// Install deploys a code marker for h on the ledger and records h under the
// derived address.
func (c *Catalog) Install(state *ledger.State, deployer common.Address, h Handler) (common.Address, error) {
	addr, err := state.Deploy(deployer, handlerCode{name: h.Name()})
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to deploy handler %s: %w", h.Name(), err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[addr] = h
	return addr, nil
}

// Lookup returns the handler installed at addr
func (c *Catalog) Lookup(addr common.Address) (Handler, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.handlers[addr]
	return h, ok
}

// List returns installed handlers ordered by address
func (c *Catalog) List() []CatalogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries := make([]CatalogEntry, 0, len(c.handlers))
	for addr, h := range c.handlers {
		entries = append(entries, CatalogEntry{Address: addr, Name: h.Name()})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Address.Cmp(entries[j].Address) < 0
	})
	return entries
}

// handlerCode marks a handler address on the ledger. Calling it directly fails.
type handlerCode struct {
	name string
}

func (c handlerCode) Run(env *ledger.Env, input []byte) ([]byte, error) {
	return nil, fmt.Errorf("%w: %s", ErrNotDelegated, c.name)
}

// depositGuard is the proxy's own ledger code. Contracts may send funds back
// during a batch; bare transfers from external accounts are refused.
type depositGuard struct{}

func (depositGuard) Run(env *ledger.Env, input []byte) ([]byte, error) {
	if len(input) == 0 && env.State.HasCode(env.Caller) {
		return nil, nil
	}
	return nil, ErrDirectDepositRejected
}
