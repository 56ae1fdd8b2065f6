package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wolfman30/lca-filing-automation/internal/interaction"
)

func newPendingCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "pending <filing-id>",
		Short: "Show the operator question blocking a filing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req interaction.Request
			if _, err := opts.client().do(cmd.Context(), "GET", filingPath(args[0], "interaction"), nil, &req); err != nil {
				return fmt.Errorf("pending: %w", err)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s\n%s\n", req.Section, req.Guidance)
			for _, e := range req.Errors {
				fmt.Fprintf(w, "  ! %s\n", e)
			}
			for _, p := range req.Fields {
				fmt.Fprintf(w, "  %s (%s", p.FieldID, p.Type)
				if p.Required {
					fmt.Fprint(w, ", required")
				}
				fmt.Fprint(w, ")")
				if p.Current != nil {
					fmt.Fprintf(w, " current=%v", p.Current)
				}
				if p.Suggested != nil {
					fmt.Fprintf(w, " suggested=%v", p.Suggested)
				}
				if len(p.Options) > 0 {
					fmt.Fprintf(w, " options=%s", strings.Join(p.Options, "|"))
				}
				fmt.Fprintln(w)
			}
			if req.Screenshot != "" {
				fmt.Fprintf(w, "screenshot: %s\n", req.Screenshot)
			}
			return nil
		},
	}
}

func newResolveCmd(opts *globalOpts) *cobra.Command {
	var (
		sets []string
		note string
	)
	cmd := &cobra.Command{
		Use:   "resolve <filing-id> --set field=value [--set field=value]",
		Short: "Answer the pending operator question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseAssignments(sets)
			if err != nil {
				return fmt.Errorf("resolve: %w", err)
			}
			res := interaction.Result{Values: values, Note: note}
			if _, err := opts.client().do(cmd.Context(), "POST", filingPath(args[0], "interaction"), res, nil); err != nil {
				return fmt.Errorf("resolve: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "resolved %s (%d field(s))\n", args[0], len(values))
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "field=value assignment; value may be JSON")
	cmd.Flags().StringVar(&note, "note", "", "note recorded in the interaction history")
	return cmd
}

// parseAssignments turns field=value pairs into result values. Values that
// parse as JSON arrays or objects are kept structured, so table rows can be
// supplied inline.
func parseAssignments(sets []string) (map[string]any, error) {
	if len(sets) == 0 {
		return nil, errors.New("at least one --set is required")
	}
	values := make(map[string]any, len(sets))
	for _, s := range sets {
		field, value, ok := strings.Cut(s, "=")
		field = strings.TrimSpace(field)
		if !ok || field == "" {
			return nil, fmt.Errorf("invalid assignment %q", s)
		}
		trimmed := strings.TrimSpace(value)
		if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
			var structured any
			if err := json.Unmarshal([]byte(trimmed), &structured); err == nil {
				values[field] = structured
				continue
			}
		}
		values[field] = value
	}
	return values, nil
}
