package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/dispatch-proxy/pkg/api"
	"github.com/psantana5/dispatch-proxy/pkg/client"
)

var batchQuery client.BatchQuery

var batchesCmd = &cobra.Command{
	Use:   "batches",
	Short: "Inspect batch records",
}

var batchesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List batch records, newest first",
	Args:  cobra.NoArgs,
	RunE:  runBatchesList,
}

var batchesDescribeCmd = &cobra.Command{
	Use:   "describe <batch-id>",
	Short: "Show one batch with its state transitions",
	Args:  cobra.ExactArgs(1),
	RunE:  runBatchesDescribe,
}

func init() {
	rootCmd.AddCommand(batchesCmd)
	batchesCmd.AddCommand(batchesListCmd, batchesDescribeCmd)

	batchesListCmd.Flags().StringVar(&batchQuery.Status, "status", "", "filter by status (committed, reverted, ...)")
	batchesListCmd.Flags().StringVar(&batchQuery.Caller, "from", "", "filter by caller address")
	batchesListCmd.Flags().IntVar(&batchQuery.Limit, "limit", 50, "maximum records")
}

func runBatchesList(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	records, err := c.ListBatches(cmd.Context(), batchQuery)
	if err != nil {
		return err
	}
	return render(records, func(w io.Writer) {
		table := tablewriter.NewWriter(w)
		table.Header("ID", "Caller", "Status", "Calls", "Value", "Refund", "Created")
		for _, b := range records {
			table.Append(
				b.ID.String(),
				b.Caller.Hex(),
				string(b.Status),
				fmt.Sprintf("%d", len(b.Targets)),
				b.Value,
				orDash(b.Refund),
				b.CreatedAt.Format(time.RFC3339),
			)
		}
		table.Render()
	})
}

func runBatchesDescribe(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	b, err := c.GetBatch(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return render(b, func(w io.Writer) { describeBatch(w, b) })
}

func describeBatch(w io.Writer, b *api.BatchRecord) {
	failed := "-"
	if b.FailedIndex != nil {
		failed = fmt.Sprintf("%d", *b.FailedIndex)
	}
	finished := "-"
	if b.FinishedAt != nil {
		finished = b.FinishedAt.Format(time.RFC3339)
	}
	fieldTable(w, [][2]string{
		{"ID", b.ID.String()},
		{"Caller", b.Caller.Hex()},
		{"Status", string(b.Status)},
		{"Value", b.Value},
		{"Refund", orDash(b.Refund)},
		{"Obligations Run", fmt.Sprintf("%d", b.ObligationsRun)},
		{"Failed Index", failed},
		{"Error", orDash(b.Error)},
		{"Created", b.CreatedAt.Format(time.RFC3339)},
		{"Finished", finished},
	})

	fmt.Fprintln(w, "\nInstructions:")
	calls := tablewriter.NewWriter(w)
	calls.Header("#", "Target", "Result")
	for i, t := range b.Targets {
		result := "-"
		if i < len(b.Results) {
			result = orDash(resultHex(b.Results[i]))
		}
		calls.Append(fmt.Sprintf("%d", i), t.Hex(), result)
	}
	calls.Render()

	if len(b.StateTransitions) > 0 {
		fmt.Fprintln(w, "\nTransitions:")
		tr := tablewriter.NewWriter(w)
		tr.Header("From", "To", "At", "Reason")
		for _, st := range b.StateTransitions {
			tr.Append(string(st.From), string(st.To), st.Timestamp.Format(time.RFC3339Nano), orDash(st.Reason))
		}
		tr.Render()
	}
}
