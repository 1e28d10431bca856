package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var jsonOutput bool

var callsCmd = &cobra.Command{
	Use:   "calls",
	Short: "List, inspect and end live calls",
}

var callsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List live calls",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		calls, err := admin().ListCalls(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), calls)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "IDENTITY\tCALL ID\tTURNS\tQUEUED\tAGE\tIDLE")
		now := time.Now()
		for _, c := range calls {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
				c.Identity, c.CallID, c.Turns, c.QueuedTurns,
				now.Sub(c.StartedAt).Round(time.Second),
				now.Sub(c.LastActivity).Round(time.Second),
			)
		}
		return tw.Flush()
	},
}

var callsShowCmd = &cobra.Command{
	Use:   "show <identity>",
	Short: "Show a live call and its conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		detail, err := admin().GetCall(ctx, args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), detail)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "call %s for %s, %d turns, started %s\n",
			detail.CallID, detail.Identity, detail.Turns, detail.StartedAt.Format(time.RFC3339))
		for _, turn := range detail.History {
			fmt.Fprintf(out, "  %-9s %s\n", turn.Role+":", turn.Content)
		}
		return nil
	},
}

var callsEndCmd = &cobra.Command{
	Use:   "end <identity>",
	Short: "End a live call",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		if err := admin().EndCall(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ending call for %s\n", args[0])
		return nil
	},
}

var ledgerLimit int

var ledgerCmd = &cobra.Command{
	Use:   "ledger [call-id]",
	Short: "Show recent call records, or one record by call id",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		if len(args) == 1 {
			rec, err := admin().LedgerRecord(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		}

		records, err := admin().Ledger(ctx, ledgerLimit)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), records)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CALL ID\tIDENTITY\tSTARTED\tDURATION\tTURNS\tREASON")
		now := time.Now()
		for _, r := range records {
			reason := string(r.EndReason)
			if r.Active() {
				reason = "(active)"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
				r.CallID, r.UserID, r.StartedAt.Local().Format(time.DateTime),
				r.Duration(now).Round(time.Second), r.TurnCount, reason)
		}
		return tw.Flush()
	},
}

var initiateCmd = &cobra.Command{
	Use:   "initiate <identity>",
	Short: "Ring a caller's device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		msg, err := admin().Initiate(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), msg)
		return nil
	},
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	callsCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON")
	ledgerCmd.Flags().BoolVar(&jsonOutput, "json", false, "print JSON")
	ledgerCmd.Flags().IntVarP(&ledgerLimit, "limit", "n", 20, "number of records")

	callsCmd.AddCommand(callsListCmd)
	callsCmd.AddCommand(callsShowCmd)
	callsCmd.AddCommand(callsEndCmd)

	rootCmd.AddCommand(callsCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(initiateCmd)
}
