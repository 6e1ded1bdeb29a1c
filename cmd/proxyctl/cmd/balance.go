package cmd

import (
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

var balanceCmd = &cobra.Command{
	Use:   "balance [address]",
	Short: "Show the native balance of an account (default: --caller)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := callerAddr
		if len(args) == 1 {
			target = args[0]
		}
		if !common.IsHexAddress(target) {
			return fmt.Errorf("%q is not a hex address", target)
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		acct, err := c.Balance(cmd.Context(), common.HexToAddress(target))
		if err != nil {
			return err
		}
		return render(acct, func(w io.Writer) {
			fieldTable(w, [][2]string{
				{"Address", acct.Address.Hex()},
				{"Balance", acct.Balance},
			})
		})
	},
}

func init() {
	rootCmd.AddCommand(balanceCmd)
}
