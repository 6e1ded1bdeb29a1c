package server

import (
	"context"
	"math/big"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/dispatch-proxy/internal/config"
	"github.com/psantana5/dispatch-proxy/pkg/client"
	"github.com/psantana5/dispatch-proxy/pkg/handlers"
	"github.com/psantana5/dispatch-proxy/pkg/logging"
	"github.com/psantana5/dispatch-proxy/pkg/models"
)

const (
	adminAddr = "0x00000000000000000000000000000000000ad111"
	userAddr  = "0x0000000000000000000000000000000000005e12"
)

func loadConfig(t *testing.T, storeType, dsn string) *config.Config {
	t.Helper()
	body := `
store:
  type: ` + storeType + `
  dsn: "` + dsn + `"
administrator: "` + adminAddr + `"
auth:
  enabled: true
  bcrypt_cost: 4
principals:
  - name: admin
    address: "` + adminAddr + `"
    api_key: admin-key
  - name: user
    address: "` + userAddr + `"
    api_key: user-key
genesis:
  - address: "` + userAddr + `"
    balance: "1000000000000000000"
rate_limit:
  rps: 0
`
	path := filepath.Join(t.TempDir(), "proxyd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNewSeedsBuiltinHandlers(t *testing.T) {
	cfg := loadConfig(t, "memory", "")
	app, err := New(cfg, logging.Discard())
	require.NoError(t, err)
	defer app.Close(context.Background())

	ctx := context.Background()
	for _, name := range config.BuiltinHandlers {
		addr, err := app.Registry.Resolve(ctx, models.MustHandlerID(name))
		require.NoError(t, err, name)
		assert.Equal(t, app.Deployment.Handlers[name], addr)
	}
	assert.NotNil(t, app.Metrics)
	assert.NotNil(t, app.Keys)
	assert.Nil(t, app.Limiter)
}

func TestRouterServesBatches(t *testing.T) {
	cfg := loadConfig(t, "memory", "")
	app, err := New(cfg, logging.Discard())
	require.NoError(t, err)
	defer app.Close(context.Background())

	srv := httptest.NewServer(app.Router)
	defer srv.Close()

	ctx := context.Background()
	c := client.New(srv.URL, "user-key", common.HexToAddress(userAddr))

	payload := handlers.CallABI.MustPack("bar", big.NewInt(1), big.NewInt(25))
	resp, err := c.Execute(ctx, app.Deployment.Handlers["call"], payload, "0")
	require.NoError(t, err)

	rec, err := c.GetBatch(ctx, resp.BatchID.String())
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusCommitted, rec.Status)

	wrongKey := client.New(srv.URL, "admin-key", common.HexToAddress(userAddr))
	_, err = wrongKey.ProxyInfo(ctx)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.Status)
}

func TestSeedingSurvivesRestart(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "proxyd.db")

	first, err := New(loadConfig(t, "sqlite", dsn), logging.Discard())
	require.NoError(t, err)
	callAddr := first.Deployment.Handlers["call"]
	first.Close(context.Background())

	same, err := New(loadConfig(t, "sqlite", dsn), logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, callAddr, same.Deployment.Handlers["call"])
	same.Close(context.Background())

	cfg := loadConfig(t, "sqlite", dsn)
	cfg.Deployment.Deployer = "0x00000000000000000000000000000000000de902"
	moved, err := New(cfg, logging.Discard())
	require.NoError(t, err)
	defer moved.Close(context.Background())

	fresh := moved.Deployment.Handlers["call"]
	require.NotEqual(t, callAddr, fresh)
	got, err := moved.Registry.Resolve(context.Background(), models.MustHandlerID("call"))
	require.NoError(t, err)
	assert.Equal(t, fresh, got)
}
