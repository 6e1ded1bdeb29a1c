package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/dispatch-proxy/pkg/api"
)

var registryCmd = &cobra.Command{
	Use:     "registry",
	Aliases: []string{"reg"},
	Short:   "Manage the handler registry",
	Long: `Commands for listing and resolving handler registrations. Changing the
registry requires the administrator as --caller.`,
}

var registryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registrations",
	Args:  cobra.NoArgs,
	RunE:  runRegistryList,
}

var registryResolveCmd = &cobra.Command{
	Use:   "resolve <id>",
	Short: "Resolve a handler id to its address",
	Args:  cobra.ExactArgs(1),
	RunE:  runRegistryResolve,
}

var registryRegisterCmd = &cobra.Command{
	Use:   "register <id> <address>",
	Short: "Bind a new handler id",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutateRegistration(cmd.Context(), args, false)
	},
}

var registryRebindCmd = &cobra.Command{
	Use:   "rebind <id> <address>",
	Short: "Move an existing handler id to a new address",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutateRegistration(cmd.Context(), args, true)
	},
}

var registryDeregisterCmd = &cobra.Command{
	Use:   "deregister <id>",
	Short: "Remove a handler id",
	Args:  cobra.ExactArgs(1),
	RunE:  runRegistryDeregister,
}

func init() {
	rootCmd.AddCommand(registryCmd)
	registryCmd.AddCommand(registryListCmd, registryResolveCmd, registryRegisterCmd, registryRebindCmd, registryDeregisterCmd)
}

func runRegistryList(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	regs, err := c.ListRegistrations(cmd.Context())
	if err != nil {
		return err
	}
	return render(regs, func(w io.Writer) {
		table := tablewriter.NewWriter(w)
		table.Header("ID", "Address", "Registered By", "Registered")
		for _, r := range regs {
			table.Append(r.ID, r.Address.Hex(), r.RegisteredBy.Hex(), r.RegisteredAt.Format(time.RFC3339))
		}
		table.Render()
		fmt.Fprintf(w, "\n%d registrations\n", len(regs))
	})
}

func runRegistryResolve(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	reg, err := c.Resolve(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return render(reg, func(w io.Writer) { fieldTable(w, registrationRows(reg)) })
}

func mutateRegistration(ctx context.Context, args []string, rebind bool) error {
	if !common.IsHexAddress(args[1]) {
		return fmt.Errorf("%q is not a hex address", args[1])
	}
	addr := common.HexToAddress(args[1])

	c, err := newClient()
	if err != nil {
		return err
	}
	var reg *api.RegistrationResponse
	if rebind {
		reg, err = c.Rebind(ctx, args[0], addr)
	} else {
		reg, err = c.Register(ctx, args[0], addr)
	}
	if err != nil {
		return err
	}
	return render(reg, func(w io.Writer) {
		fieldTable(w, registrationRows(reg))
		fmt.Fprintf(w, "\nHandler %s bound to %s\n", reg.ID, reg.Address.Hex())
	})
}

func runRegistryDeregister(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	if err := c.Deregister(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Handler %s deregistered\n", args[0])
	return nil
}

func registrationRows(r *api.RegistrationResponse) [][2]string {
	updated := "-"
	if r.UpdatedAt != nil {
		updated = r.UpdatedAt.Format(time.RFC3339)
	}
	return [][2]string{
		{"ID", r.ID},
		{"ID (hex)", r.IDHex},
		{"Address", r.Address.Hex()},
		{"Registered By", r.RegisteredBy.Hex()},
		{"Registered At", r.RegisteredAt.Format(time.RFC3339)},
		{"Updated At", updated},
	}
}
