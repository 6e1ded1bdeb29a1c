package cmd

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var handlersCmd = &cobra.Command{
	Use:   "handlers",
	Short: "List installed handler code and whether it is registered",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		list, err := c.ListHandlers(cmd.Context())
		if err != nil {
			return err
		}
		return render(list, func(w io.Writer) {
			table := tablewriter.NewWriter(w)
			table.Header("Name", "Address", "Registered")
			for _, h := range list {
				table.Append(h.Name, h.Address.Hex(), fmt.Sprintf("%t", h.Registered))
			}
			table.Render()
		})
	},
}

var proxyInfoCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Show the proxy account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		info, err := c.ProxyInfo(cmd.Context())
		if err != nil {
			return err
		}
		return render(info, func(w io.Writer) {
			fieldTable(w, [][2]string{
				{"Address", info.Address.Hex()},
				{"Balance", info.Balance},
				{"Installed Handlers", fmt.Sprintf("%d", len(info.Handlers))},
			})
		})
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check server health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		h, err := c.Health(cmd.Context())
		if err != nil {
			return err
		}
		return render(h, func(w io.Writer) {
			fieldTable(w, [][2]string{
				{"Status", h.Status},
				{"Uptime", h.Uptime},
				{"Registered Handlers", fmt.Sprintf("%d", h.Handlers)},
				{"Store", h.Store},
				{"Memory Used", fmt.Sprintf("%.1f%%", h.MemoryUsedPct)},
				{"Load (1m)", fmt.Sprintf("%.2f", h.Load1)},
				{"CPUs", fmt.Sprintf("%d", h.NumCPU)},
			})
		})
	},
}

func init() {
	rootCmd.AddCommand(handlersCmd, proxyInfoCmd, healthCmd)
}
