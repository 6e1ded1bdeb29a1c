package cmd

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/psantana5/dispatch-proxy/pkg/codec"
)

var encodeCmd = &cobra.Command{
	Use:   "encode <signature> [args...]",
	Short: "ABI-encode a call locally",
	Long: `Print the 0x-hex payload for a call without contacting the server.

  proxyctl encode 'bar(uint256,uint256)' 0 25`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := codec.EncodeCall(args[0], args[1:]...)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hexutil.Encode(data))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(encodeCmd)
}
