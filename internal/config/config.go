// Package config loads proxyd settings from YAML and PROXYD_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/dispatch-proxy/pkg/ledger"
	"github.com/psantana5/dispatch-proxy/pkg/store"
	"github.com/psantana5/dispatch-proxy/pkg/tracing"
)

// EnvPrefix prefixes environment overrides, e.g. PROXYD_SERVER_ADDRESS
const EnvPrefix = "PROXYD"

// Config is the complete proxyd configuration
type Config struct {
	Server        ServerConfig     `mapstructure:"server" yaml:"server"`
	Metrics       MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Log           LogConfig        `mapstructure:"log" yaml:"log"`
	Store         StoreConfig      `mapstructure:"store" yaml:"store"`
	Proxy         ProxyConfig      `mapstructure:"proxy" yaml:"proxy"`
	Administrator string           `mapstructure:"administrator" yaml:"administrator"`
	Auth          AuthConfig       `mapstructure:"auth" yaml:"auth"`
	Principals    []Principal      `mapstructure:"principals" yaml:"principals"`
	Genesis       []Allocation     `mapstructure:"genesis" yaml:"genesis"`
	Deployment    DeploymentConfig `mapstructure:"deployment" yaml:"deployment"`
	RateLimit     RateLimitConfig  `mapstructure:"rate_limit" yaml:"rate_limit"`
	Tracing       tracing.Config   `mapstructure:"tracing" yaml:"tracing"`
}

// ServerConfig configures the API listener
type ServerConfig struct {
	Address         string        `mapstructure:"address" yaml:"address"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	TLS             TLSConfig     `mapstructure:"tls" yaml:"tls"`
}

// TLSConfig enables HTTPS on the API listener
type TLSConfig struct {
	Enabled      bool     `mapstructure:"enabled" yaml:"enabled"`
	CertFile     string   `mapstructure:"cert_file" yaml:"cert_file"`
	KeyFile      string   `mapstructure:"key_file" yaml:"key_file"`
	ClientCAFile string   `mapstructure:"client_ca_file" yaml:"client_ca_file"`
	AutoGenerate bool     `mapstructure:"auto_generate" yaml:"auto_generate"`
	Hosts        []string `mapstructure:"hosts" yaml:"hosts"`
}

// MetricsConfig configures the Prometheus listener
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Address string `mapstructure:"address" yaml:"address"`
}

// LogConfig configures the logger
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

// StoreConfig selects the persistence backend
type StoreConfig struct {
	Type            string        `mapstructure:"type" yaml:"type"`
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// ProxyConfig configures the dispatch proxy
type ProxyConfig struct {
	Address            string `mapstructure:"address" yaml:"address"`
	MaxDrainIterations int    `mapstructure:"max_drain_iterations" yaml:"max_drain_iterations"`
}

// AuthConfig toggles API key authentication
type AuthConfig struct {
	Enabled    bool `mapstructure:"enabled" yaml:"enabled"`
	BcryptCost int  `mapstructure:"bcrypt_cost" yaml:"bcrypt_cost"`
}

// Principal is an API identity
type Principal struct {
	Name    string `mapstructure:"name" yaml:"name"`
	Address string `mapstructure:"address" yaml:"address"`
	APIKey  string `mapstructure:"api_key" yaml:"api_key"`
}

// Allocation funds an account at startup. Balance is decimal.
type Allocation struct {
	Address string `mapstructure:"address" yaml:"address"`
	Balance string `mapstructure:"balance" yaml:"balance"`
}

// DeploymentConfig places the built-in targets and handlers. Register lists
// the built-in handler names bound in the registry at startup under their
// own names.
type DeploymentConfig struct {
	Deployer  string   `mapstructure:"deployer" yaml:"deployer"`
	Vaults    int      `mapstructure:"vaults" yaml:"vaults"`
	Exchanges int      `mapstructure:"exchanges" yaml:"exchanges"`
	Register  []string `mapstructure:"register" yaml:"register"`
}

// RateLimitConfig throttles batch routes per caller. Zero RPS disables it.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps" yaml:"rps"`
	Burst int     `mapstructure:"burst" yaml:"burst"`
}

// BuiltinHandlers names the handlers proxyd can deploy
var BuiltinHandlers = []string{"call", "convert", "hook"}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.tls.hosts", []string{"localhost", "127.0.0.1"})
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.address", ":9090")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("store.type", "sqlite")
	v.SetDefault("store.dsn", "proxyd.db")
	v.SetDefault("store.max_open_conns", 25)
	v.SetDefault("store.max_idle_conns", 5)
	v.SetDefault("store.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("proxy.address", "0x00000000000000000000000000000000000000bf")
	v.SetDefault("proxy.max_drain_iterations", 64)
	v.SetDefault("auth.enabled", true)
	v.SetDefault("deployment.deployer", "0x00000000000000000000000000000000000de901")
	v.SetDefault("deployment.vaults", 3)
	v.SetDefault("deployment.exchanges", 3)
	v.SetDefault("deployment.register", BuiltinHandlers)
	v.SetDefault("rate_limit.rps", 20.0)
	v.SetDefault("rate_limit.burst", 40)
	v.SetDefault("tracing.service_name", "proxyd")
	v.SetDefault("tracing.environment", "development")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Load reads path, or proxyd.yaml from the working directory or /etc/proxyd
// when path is empty. A missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("proxyd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/proxyd")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Validate reports every problem found in the configuration
func (c *Config) Validate() error {
	var errs []error
	addErr := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}
	checkAddress := func(field, value string) {
		if !common.IsHexAddress(value) {
			addErr("%s: %q is not a hex address", field, value)
		} else if common.HexToAddress(value) == (common.Address{}) {
			addErr("%s: must not be the zero address", field)
		}
	}

	if c.Server.Address == "" {
		addErr("server.address is required")
	}
	if c.Server.TLS.Enabled && !c.Server.TLS.AutoGenerate && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		addErr("server.tls: cert_file and key_file are required unless auto_generate is set")
	}
	if c.Server.TLS.AutoGenerate && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		addErr("server.tls: auto_generate needs cert_file and key_file paths to write to")
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		addErr("metrics.address is required when metrics are enabled")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error", "fatal":
	default:
		addErr("log.level: unknown level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		addErr("log.format: must be text or json, got %q", c.Log.Format)
	}

	switch c.Store.Type {
	case "memory", "sqlite", "postgres", "postgresql":
	default:
		addErr("store.type: unsupported %q", c.Store.Type)
	}
	if (c.Store.Type == "postgres" || c.Store.Type == "postgresql") && c.Store.DSN == "" {
		addErr("store.dsn is required for postgres")
	}

	checkAddress("proxy.address", c.Proxy.Address)
	if c.Proxy.MaxDrainIterations < 1 {
		addErr("proxy.max_drain_iterations must be at least 1")
	}
	checkAddress("administrator", c.Administrator)

	if c.Auth.Enabled && len(c.Principals) == 0 {
		addErr("principals: at least one principal is required when auth is enabled")
	}
	seen := make(map[common.Address]bool)
	for i, p := range c.Principals {
		field := fmt.Sprintf("principals[%d]", i)
		checkAddress(field+".address", p.Address)
		if c.Auth.Enabled && p.APIKey == "" {
			addErr("%s.api_key is required when auth is enabled", field)
		}
		addr := common.HexToAddress(p.Address)
		if seen[addr] {
			addErr("%s: duplicate address %s", field, p.Address)
		}
		seen[addr] = true
	}

	for i, a := range c.Genesis {
		field := fmt.Sprintf("genesis[%d]", i)
		checkAddress(field+".address", a.Address)
		if _, err := uint256.FromDecimal(a.Balance); err != nil {
			addErr("%s.balance: %v", field, err)
		}
	}

	checkAddress("deployment.deployer", c.Deployment.Deployer)
	if c.Deployment.Vaults < 0 || c.Deployment.Exchanges < 0 {
		addErr("deployment: vault and exchange counts must not be negative")
	}
	for _, name := range c.Deployment.Register {
		if !isBuiltin(name) {
			addErr("deployment.register: unknown handler %q", name)
		}
	}

	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		addErr("rate_limit: rps and burst must not be negative")
	}
	if c.Tracing.Enabled && c.Tracing.OTLPEndpoint == "" {
		addErr("tracing.otlp_endpoint is required when tracing is enabled")
	}

	return errors.Join(errs...)
}

func isBuiltin(name string) bool {
	for _, b := range BuiltinHandlers {
		if b == name {
			return true
		}
	}
	return false
}

// ProxyAddress returns the proxy's ledger address
func (c *Config) ProxyAddress() common.Address {
	return common.HexToAddress(c.Proxy.Address)
}

// AdminAddress returns the registry administrator
func (c *Config) AdminAddress() common.Address {
	return common.HexToAddress(c.Administrator)
}

// DeployerAddress returns the account that deploys built-in code
func (c *Config) DeployerAddress() common.Address {
	return common.HexToAddress(c.Deployment.Deployer)
}

// GenesisAlloc converts the genesis list into ledger balances. Repeated
// addresses are summed.
func (c *Config) GenesisAlloc() (ledger.GenesisAlloc, error) {
	alloc := make(ledger.GenesisAlloc, len(c.Genesis))
	for _, a := range c.Genesis {
		bal, err := uint256.FromDecimal(a.Balance)
		if err != nil {
			return nil, fmt.Errorf("genesis balance of %s: %w", a.Address, err)
		}
		addr := common.HexToAddress(a.Address)
		if prev, ok := alloc[addr]; ok {
			bal = new(uint256.Int).Add(prev, bal)
		}
		alloc[addr] = bal
	}
	return alloc, nil
}

// StoreConfig converts the store section for store.NewStore
func (c *Config) StoreConfig() store.Config {
	return store.Config{
		Type:            c.Store.Type,
		DSN:             c.Store.DSN,
		MaxOpenConns:    c.Store.MaxOpenConns,
		MaxIdleConns:    c.Store.MaxIdleConns,
		ConnMaxLifetime: c.Store.ConnMaxLifetime,
	}
}

// YAML renders the effective configuration with API keys and DSN masked
func (c *Config) YAML() ([]byte, error) {
	redacted := *c
	redacted.Principals = make([]Principal, len(c.Principals))
	for i, p := range c.Principals {
		if p.APIKey != "" {
			p.APIKey = "********"
		}
		redacted.Principals[i] = p
	}
	if redacted.Store.DSN != "" && (c.Store.Type == "postgres" || c.Store.Type == "postgresql") {
		redacted.Store.DSN = "********"
	}
	return yaml.Marshal(redacted)
}
