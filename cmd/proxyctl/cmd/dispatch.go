package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/dispatch-proxy/pkg/api"
	"github.com/psantana5/dispatch-proxy/pkg/client"
	"github.com/psantana5/dispatch-proxy/pkg/codec"
)

var (
	execValue   string
	execData    string
	batchValue  string
	batchCalls  []string
	batchValues []string
)

var execCmd = &cobra.Command{
	Use:   "exec <target> [signature] [args...]",
	Short: "Run one handler call through the proxy",
	Long: `Run one handler call. The target is a handler address or a registry id.
The payload is either encoded from a signature and arguments or given raw
with --data.

  proxyctl exec call 'bar(uint256,uint256)' 0 25
  proxyctl exec convert 'bar(uint256,uint256)' 1000000000000000000 0 --value 1000000000000000000
  proxyctl exec 0x5FbD...0aa3 --data 0x0b1a43a8...`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExec,
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run several handler calls as one atomic batch",
	Long: `Run handler calls atomically. Each --call is either
"<target>:<signature>:<arg>,<arg>" or "<target>:0x<payload>".

  proxyctl batch --value 1000 \
    --call 'hook:bar1(address):0x5FbD...0aa3' \
    --call 'call:bar(uint256,uint256):0,25'`,
	Args: cobra.NoArgs,
	RunE: runBatch,
}

var depositCmd = &cobra.Command{
	Use:   "deposit <value>",
	Short: "Send a bare transfer to the proxy (always refused)",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeposit,
}

func init() {
	rootCmd.AddCommand(execCmd, batchCmd, depositCmd)

	execCmd.Flags().StringVar(&execValue, "value", "0", "native amount attached to the call (decimal)")
	execCmd.Flags().StringVar(&execData, "data", "", "raw 0x-hex payload instead of signature and args")

	batchCmd.Flags().StringVar(&batchValue, "value", "0", "native amount attached to the batch (decimal)")
	batchCmd.Flags().StringArrayVar(&batchCalls, "call", nil, "instruction, repeatable")
	batchCmd.Flags().StringSliceVar(&batchValues, "values", nil, "per-instruction amounts, one per --call")
	batchCmd.MarkFlagRequired("call")
}

// callSpec is one parsed --call instruction
type callSpec struct {
	Target    string
	Signature string
	Args      []string
	Data      []byte
}

// parseCall splits "<target>:<signature>[:<args>]" or "<target>:0x<hex>"
func parseCall(spec string) (callSpec, error) {
	i := strings.Index(spec, ":")
	if i <= 0 {
		return callSpec{}, fmt.Errorf("call %q: missing target", spec)
	}
	cs := callSpec{Target: spec[:i]}
	rest := spec[i+1:]

	if strings.HasPrefix(rest, "0x") {
		data, err := hexutil.Decode(rest)
		if err != nil {
			return callSpec{}, fmt.Errorf("call %q: %w", spec, err)
		}
		cs.Data = data
		return cs, nil
	}

	j := strings.Index(rest, ")")
	if j < 0 {
		return callSpec{}, fmt.Errorf("call %q: signature must end with ')'", spec)
	}
	cs.Signature = rest[:j+1]
	tail := rest[j+1:]
	switch {
	case tail == "" || tail == ":":
	case tail[0] != ':':
		return callSpec{}, fmt.Errorf("call %q: expected ':' after signature", spec)
	default:
		for _, a := range strings.Split(tail[1:], ",") {
			cs.Args = append(cs.Args, strings.TrimSpace(a))
		}
	}
	return cs, nil
}

// payload returns the raw data or encodes the signature locally
func (cs callSpec) payload() ([]byte, error) {
	if cs.Data != nil {
		return cs.Data, nil
	}
	return codec.EncodeCall(cs.Signature, cs.Args...)
}

// resolveTarget accepts a hex address or a registry id
func resolveTarget(ctx context.Context, c *client.Client, target string) (common.Address, error) {
	if common.IsHexAddress(target) {
		return common.HexToAddress(target), nil
	}
	reg, err := c.Resolve(ctx, target)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to resolve %q: %w", target, err)
	}
	return reg.Address, nil
}

func runExec(cmd *cobra.Command, args []string) error {
	cs := callSpec{Target: args[0]}
	switch {
	case execData != "":
		if len(args) > 1 {
			return errors.New("--data cannot be combined with a signature")
		}
		data, err := hexutil.Decode(execData)
		if err != nil {
			return fmt.Errorf("--data: %w", err)
		}
		cs.Data = data
	case len(args) >= 2:
		cs.Signature = args[1]
		cs.Args = args[2:]
	default:
		return errors.New("a signature or --data is required")
	}

	payload, err := cs.payload()
	if err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	target, err := resolveTarget(ctx, c, cs.Target)
	if err != nil {
		return err
	}

	resp, err := c.Execute(ctx, target, payload, execValue)
	if err != nil {
		return describeFailure(err)
	}
	return render(resp, func(w io.Writer) {
		fieldTable(w, [][2]string{
			{"Batch", resp.BatchID.String()},
			{"Target", target.Hex()},
			{"Result", orDash(resultHex(resp.Result))},
			{"Refund", resp.Refund},
		})
	})
}

func runBatch(cmd *cobra.Command, args []string) error {
	if len(batchValues) > 0 && len(batchValues) != len(batchCalls) {
		return fmt.Errorf("--values has %d entries for %d calls", len(batchValues), len(batchCalls))
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	req := api.BatchRequest{Value: batchValue, Values: batchValues}
	for _, spec := range batchCalls {
		cs, err := parseCall(spec)
		if err != nil {
			return err
		}
		payload, err := cs.payload()
		if err != nil {
			return err
		}
		target, err := resolveTarget(ctx, c, cs.Target)
		if err != nil {
			return err
		}
		req.Targets = append(req.Targets, target)
		req.Payloads = append(req.Payloads, payload)
	}

	resp, err := c.Batch(ctx, req)
	if err != nil {
		return describeFailure(err)
	}
	return render(resp, func(w io.Writer) {
		table := tablewriter.NewWriter(w)
		table.Header("#", "Target", "Result")
		for i, r := range resp.Results {
			table.Append(fmt.Sprintf("%d", i), req.Targets[i].Hex(), orDash(resultHex(r)))
		}
		table.Render()
		fmt.Fprintf(w, "\nBatch %s committed: %d obligations run, refund %s\n",
			resp.BatchID, resp.ObligationsRun, resp.Refund)
	})
}

func runDeposit(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	if err := c.Deposit(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Println("Deposit accepted")
	return nil
}

// describeFailure names the failing instruction of a reverted batch
func describeFailure(err error) error {
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.FailedIndex == nil {
		return err
	}
	return fmt.Errorf("instruction %d failed: %w", *apiErr.FailedIndex, err)
}

func resultHex(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return hexutil.Encode(b)
}
