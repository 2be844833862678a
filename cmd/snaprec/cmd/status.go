package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MeKo-Tech/snaprec/internal/failure"
	"github.com/spf13/cobra"
)

type statusOutput struct {
	Reachable  bool         `json:"reachable"`
	Endpoint   string       `json:"endpoint"`
	URL        string       `json:"url,omitempty"`
	StatusCode int          `json:"status_code,omitempty"`
	LatencyMs  int64        `json:"latency_ms,omitempty"`
	Kind       failure.Kind `json:"kind,omitempty"`
	Reason     string       `json:"reason,omitempty"`
}

func newStatusCommand(app *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check that the recognition service is reachable",
		Long: `Send a GET request to the recognition service's status path and report
whether it answered, with the status code and latency.

Examples:
  snaprec status
  snaprec status --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, _ := cmd.Flags().GetString("format")
			if format != outputFormatText && format != outputFormatJSON {
				return fmt.Errorf("invalid output format: %s (must be one of: text, json)", format)
			}

			client, err := app.newClient()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			out := statusOutput{Endpoint: client.Config().Endpoint}
			h, err := client.Health(ctx)
			if err != nil {
				out.Kind = failure.KindOf(err)
				out.StatusCode = failure.StatusOf(err)
				out.Reason = failure.Reason(err)
			} else {
				out.Reachable = true
				out.URL = h.URL
				out.StatusCode = h.StatusCode
				out.LatencyMs = h.Latency.Milliseconds()
			}

			w := cmd.OutOrStdout()
			if format == outputFormatJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(out); encErr != nil {
					return encErr
				}
			} else if out.Reachable {
				_, _ = fmt.Fprintf(w, "Recognition service reachable\n  URL:     %s\n  Status:  %d\n  Latency: %dms\n",
					out.URL, out.StatusCode, out.LatencyMs)
			}

			if err != nil {
				return fmt.Errorf("recognition service unreachable: %s: %w", out.Reason, err)
			}
			return nil
		},
	}
	cmd.Flags().StringP("format", "f", outputFormatText, "output format: text or json")
	return cmd
}
