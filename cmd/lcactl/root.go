package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const (
	defaultAPIURL  = "http://localhost:8080"
	defaultTimeout = 30 * time.Second
)

type globalOpts struct {
	apiURL  string
	token   string
	timeout time.Duration
}

func (g *globalOpts) client() *apiClient {
	return newAPIClient(g.apiURL, g.token, g.timeout)
}

func newRootCmd() *cobra.Command {
	opts := &globalOpts{}
	cmd := &cobra.Command{
		Use:           "lcactl",
		Short:         "Operate LCA filings through the filing API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.apiURL, "api", envOr("LCA_API_URL", defaultAPIURL), "filing API base URL")
	cmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("LCA_API_TOKEN"), "operator bearer token")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", defaultTimeout, "per-request timeout")

	cmd.AddCommand(
		newFileCmd(opts),
		newListCmd(opts),
		newActiveCmd(opts),
		newResultCmd(opts),
		newProgressCmd(opts),
		newPendingCmd(opts),
		newResolveCmd(opts),
		newHistoryCmd(opts),
		newCancelCmd(opts),
	)
	return cmd
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
