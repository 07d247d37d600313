// Command auditexport pages through a mod-tender audit log over HTTP and writes
// the entries as JSON lines.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	var (
		opts    exportOptions
		from    string
		to      string
		output  string
		timeout time.Duration
	)
	rootCmd := &cobra.Command{
		Use:   "auditexport",
		Short: "Export moderation audit entries as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if opts.From, err = parseTime(from); err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			if opts.To, err = parseTime(to); err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			out := cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			opts.Timeout = timeout
			n, err := export(cmd.Context(), opts, out)
			fmt.Fprintf(cmd.ErrOrStderr(), "exported %d entries\n", n)
			return err
		},
	}

	rootCmd.Flags().StringVarP(&opts.BaseURL, "server", "s", envOr("MOD_TENDER_URL", "http://localhost:8080"), "mod-tender base URL")
	rootCmd.Flags().StringVar(&opts.Token, "token", os.Getenv("ADMIN_TOKEN"), "admin token (X-Admin-Token)")
	rootCmd.Flags().StringVarP(&opts.Channel, "channel", "c", "", "only entries for this channel")
	rootCmd.Flags().StringVar(&from, "from", "", "inclusive lower bound (RFC3339)")
	rootCmd.Flags().StringVar(&to, "to", "", "exclusive upper bound (RFC3339)")
	rootCmd.Flags().IntVar(&opts.PageSize, "page-size", 500, "entries per request")
	rootCmd.Flags().StringVarP(&output, "output", "o", "-", "output file (- for stdout)")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "per-request timeout")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
