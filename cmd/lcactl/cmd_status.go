package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wolfman30/lca-filing-automation/internal/lca"
	"github.com/wolfman30/lca-filing-automation/internal/progress"
)

func newListCmd(opts *globalOpts) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent filing results",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out struct {
				Filings []lca.FilingResult `json:"filings"`
			}
			if _, err := opts.client().do(cmd.Context(), "GET", fmt.Sprintf("/v1/filings?limit=%d", limit), nil, &out); err != nil {
				return fmt.Errorf("list: %w", err)
			}
			for _, f := range out.Filings {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", f.FilingID, f.ApplicationID, f.Status, f.ConfirmationNumber)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum results")
	return cmd
}

func newActiveCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "active",
		Short: "List filings still running on the API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out struct {
				Filings []progress.State `json:"filings"`
			}
			if _, err := opts.client().do(cmd.Context(), "GET", "/v1/filings/active", nil, &out); err != nil {
				return fmt.Errorf("active: %w", err)
			}
			for _, st := range out.Filings {
				line := fmt.Sprintf("%s\t%5.1f%%\t%s\t%s", st.FilingID, st.Percentage, st.Status, st.CurrentSection)
				if st.AwaitingInteraction {
					line += "\tawaiting operator"
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
}

func newResultCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "result <filing-id>",
		Short: "Show the terminal result of a filing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out json.RawMessage
			if _, err := opts.client().do(cmd.Context(), "GET", filingPath(args[0]), nil, &out); err != nil {
				return fmt.Errorf("result: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newProgressCmd(opts *globalOpts) *cobra.Command {
	var (
		follow   bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "progress <filing-id>",
		Short: "Show filing progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := opts.client()
			for {
				var st progress.State
				if _, err := client.do(cmd.Context(), "GET", filingPath(args[0], "progress"), nil, &st); err != nil {
					return fmt.Errorf("progress: %w", err)
				}
				line := fmt.Sprintf("%5.1f%%\t%s\t%s", st.Percentage, st.Status, st.Stage)
				if st.CurrentSection != "" {
					line += "\t" + st.CurrentSection
				}
				if st.AwaitingInteraction {
					line += "\tawaiting operator"
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
				if !follow || st.Status == progress.StatusCompleted || st.Status == progress.StatusFailed {
					return nil
				}
				if err := sleep(cmd.Context(), interval); err != nil {
					return err
				}
			}
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "poll until the filing finishes")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "poll interval with --follow")
	return cmd
}

func newHistoryCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "history <filing-id>",
		Short: "Show resolved operator interactions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out json.RawMessage
			if _, err := opts.client().do(cmd.Context(), "GET", filingPath(args[0], "interactions"), nil, &out); err != nil {
				return fmt.Errorf("history: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newCancelCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <filing-id>",
		Short: "Abort a running filing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := opts.client().do(cmd.Context(), "DELETE", filingPath(args[0]), nil, nil); err != nil {
				return fmt.Errorf("cancel: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancelling %s\n", args[0])
			return nil
		},
	}
}
