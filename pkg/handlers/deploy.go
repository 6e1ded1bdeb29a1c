package handlers

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/psantana5/dispatch-proxy/pkg/ledger"
	"github.com/psantana5/dispatch-proxy/pkg/proxy"
	"github.com/psantana5/dispatch-proxy/pkg/targets"
)

// DeployConfig sizes the built-in target contracts
type DeployConfig struct {
	Deployer  common.Address
	Vaults    int
	Exchanges int
}

// Deployment records where targets and handler code were placed
type Deployment struct {
	VaultFactory    common.Address            `json:"vault_factory" yaml:"vault_factory"`
	Vaults          []common.Address          `json:"vaults" yaml:"vaults"`
	ExchangeFactory common.Address            `json:"exchange_factory" yaml:"exchange_factory"`
	Exchanges       []common.Address          `json:"exchanges" yaml:"exchanges"`
	Counter         common.Address            `json:"counter" yaml:"counter"`
	Handlers        map[string]common.Address `json:"handlers" yaml:"handlers"`
}

// Deploy places the target contracts on the ledger and installs the three
// built-in handlers into the catalog. Registration is left to the caller.
func Deploy(state *ledger.State, catalog *proxy.Catalog, cfg DeployConfig) (*Deployment, error) {
	d := &Deployment{Handlers: make(map[string]common.Address)}

	var err error
	d.VaultFactory, d.Vaults, err = targets.DeployFactory(state, cfg.Deployer, targets.NewVault, cfg.Vaults)
	if err != nil {
		return nil, fmt.Errorf("failed to deploy vaults: %w", err)
	}
	d.ExchangeFactory, d.Exchanges, err = targets.DeployFactory(state, cfg.Deployer, targets.NewExchange, cfg.Exchanges)
	if err != nil {
		return nil, fmt.Errorf("failed to deploy exchanges: %w", err)
	}
	if d.Counter, err = state.Deploy(cfg.Deployer, targets.Counter{}); err != nil {
		return nil, fmt.Errorf("failed to deploy counter: %w", err)
	}

	for _, h := range []proxy.Handler{
		NewCallHandler(d.VaultFactory),
		NewConvertHandler(d.ExchangeFactory),
		NewHookHandler(),
	} {
		addr, err := catalog.Install(state, cfg.Deployer, h)
		if err != nil {
			return nil, err
		}
		d.Handlers[h.Name()] = addr
	}
	return d, nil
}
