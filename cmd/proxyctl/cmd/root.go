package cmd

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/dispatch-proxy/pkg/client"
	tlsutil "github.com/psantana5/dispatch-proxy/pkg/tls"
)

var (
	cfgFile      string
	serverURL    string
	apiKey       string
	callerAddr   string
	outputFormat string
	caFile       string
	insecure     bool
	timeout      time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "proxyctl",
	Short: "CLI for the dispatch proxy",
	Long: `proxyctl talks to a proxyd server: it manages the handler registry, runs
single calls and atomic batches, and inspects batch records and balances.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.proxyctl/config.yaml)")
	pf.StringVar(&serverURL, "server", "", "proxyd API URL (default from config or http://localhost:8080)")
	pf.StringVar(&apiKey, "api-key", "", "API key of the caller")
	pf.StringVar(&callerAddr, "caller", "", "caller address sent as X-Caller")
	pf.StringVarP(&outputFormat, "output", "o", "table", "output format: table, json or yaml")
	pf.StringVar(&caFile, "ca-file", "", "CA certificate used to verify an HTTPS server")
	pf.BoolVar(&insecure, "insecure", false, "skip TLS verification")
	pf.DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
}

// initConfig fills unset flags from the config file and PROXYCTL_* variables
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".proxyctl"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("PROXYCTL")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil && cfgFile != "" {
		fmt.Fprintf(os.Stderr, "Warning: failed to read %s: %v\n", cfgFile, err)
	}

	if serverURL == "" {
		serverURL = viper.GetString("server")
	}
	if apiKey == "" {
		apiKey = viper.GetString("api_key")
	}
	if callerAddr == "" {
		callerAddr = viper.GetString("caller")
	}
	if caFile == "" {
		caFile = viper.GetString("ca_file")
	}
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}
}

// newClient builds an API client from the global flags
func newClient() (*client.Client, error) {
	var caller common.Address
	if callerAddr != "" {
		if !common.IsHexAddress(callerAddr) {
			return nil, fmt.Errorf("--caller: %q is not a hex address", callerAddr)
		}
		caller = common.HexToAddress(callerAddr)
	}

	hc := &http.Client{Timeout: timeout}
	if strings.HasPrefix(serverURL, "https://") {
		tlsCfg, err := tlsutil.ClientConfig(caFile, insecure)
		if err != nil {
			return nil, err
		}
		hc.Transport = &http.Transport{TLSClientConfig: tlsCfg}
	}
	return client.New(strings.TrimRight(serverURL, "/"), apiKey, caller, client.WithHTTPClient(hc)), nil
}
