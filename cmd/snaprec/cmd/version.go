package cmd

import (
	"fmt"

	"github.com/MeKo-Tech/snaprec/internal/version"
	"github.com/spf13/cobra"
)

func newVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationConfig: configSkip},
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			if short, _ := cmd.Flags().GetBool("short"); short {
				_, _ = fmt.Fprintln(w, version.Version)
				return nil
			}
			v, commit, date := version.Info()
			_, _ = fmt.Fprintf(w, "snaprec version %s\nCommit: %s\nBuilt: %s\n", v, commit, date)
			return nil
		},
	}
	cmd.Flags().Bool("short", false, "print only the version number")
	return cmd
}
