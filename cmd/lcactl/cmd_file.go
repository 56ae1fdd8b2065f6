package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wolfman30/lca-filing-automation/internal/lca"
)

// readApplications accepts a single application object or an array of them.
func readApplications(r io.Reader) ([]lca.Application, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, errors.New("input is empty")
	}
	if strings.HasPrefix(trimmed, "[") {
		var apps []lca.Application
		if err := json.Unmarshal(data, &apps); err != nil {
			return nil, fmt.Errorf("parse applications: %w", err)
		}
		return apps, nil
	}
	var app lca.Application
	if err := json.Unmarshal(data, &app); err != nil {
		return nil, fmt.Errorf("parse application: %w", err)
	}
	return []lca.Application{app}, nil
}

func newFileCmd(opts *globalOpts) *cobra.Command {
	var (
		input string
		wait  bool
	)
	cmd := &cobra.Command{
		Use:   "file",
		Short: "Submit one or more applications for filing",
		Long:  "Reads a JSON application, or an array of them, and submits each.\nWith --wait every filing runs to completion before the next is sent.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var r io.Reader = cmd.InOrStdin()
			if input != "" && input != "-" {
				f, err := os.Open(input)
				if err != nil {
					return fmt.Errorf("file: %w", err)
				}
				defer f.Close()
				r = f
			}
			apps, err := readApplications(r)
			if err != nil {
				return fmt.Errorf("file: %w", err)
			}

			client := opts.client()
			if wait {
				// Inline filings can pause on an operator for a long time.
				client.http.Timeout = 0
			}
			path := "/v1/filings"
			if wait {
				path += "?wait=true"
			}
			failed := 0
			for _, app := range apps {
				var out map[string]any
				_, err := client.do(cmd.Context(), "POST", path, app, &out)
				if err != nil {
					var apiErr *apiError
					if errors.As(err, &apiErr) && apiErr.Status == 422 {
						fmt.Fprintf(cmd.OutOrStdout(), "%s\tvalidation_failed\t%s\n", app.ID, apiErr.Message)
					} else {
						fmt.Fprintf(cmd.OutOrStdout(), "%s\terror\t%v\n", app.ID, err)
					}
					failed++
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%v\t%v\n", app.ID, out["filing_id"], out["status"])
			}
			if failed > 0 {
				return fmt.Errorf("file: %d of %d submissions failed", failed, len(apps))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "path to application JSON (default stdin)")
	cmd.Flags().BoolVar(&wait, "wait", false, "file synchronously and print terminal status")
	return cmd
}
