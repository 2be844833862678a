package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/MeKo-Tech/snaprec/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCommand(app *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and create configuration files",
		Long: `Configuration is read from snaprec.yaml in the search paths, from
SNAPREC_* environment variables (a .env file in the working directory is
honored) and from command-line flags, in increasing order of precedence.`,
	}
	cmd.AddCommand(newConfigInitCommand(), newConfigShowCommand(app), newConfigPathsCommand(app))
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "init [file]",
		Short:       "Write a configuration file with default values",
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{annotationConfig: configSkip},
		RunE: func(cmd *cobra.Command, args []string) error {
			file := config.ConfigFileName + ".yaml"
			if len(args) == 1 {
				file = args[0]
			}

			force, _ := cmd.Flags().GetBool("force")
			if _, err := os.Stat(file); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", file)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}

			if err := config.GenerateDefaultConfigFile(file); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote default configuration to %s\n", file)
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "overwrite an existing file")
	return cmd
}

func newConfigShowCommand(app *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:         "show",
		Short:       "Print the resolved configuration",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationConfig: configLenient},
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, _ := cmd.Flags().GetString("format")
			w := cmd.OutOrStdout()

			switch format {
			case "yaml":
				enc := yaml.NewEncoder(w)
				enc.SetIndent(2)
				if err := enc.Encode(app.cfg); err != nil {
					return err
				}
				return enc.Close()
			case outputFormatJSON:
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(app.cfg)
			default:
				return fmt.Errorf("invalid format: %s (must be one of: yaml, json)", format)
			}
		},
	}
	cmd.Flags().StringP("format", "f", "yaml", "output format: yaml or json")
	return cmd
}

func newConfigPathsCommand(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:         "paths",
		Short:       "Show where configuration is searched for",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationConfig: configLenient},
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			used := app.loader.GetConfigFileUsed()
			if used == "" {
				used = "(none, defaults and environment only)"
			}
			_, _ = fmt.Fprintf(w, "Configuration file used: %s\n", used)
			_, _ = fmt.Fprintln(w, "Search paths:")
			for _, p := range config.GetConfigSearchPaths() {
				_, _ = fmt.Fprintf(w, "  %s\n", p)
			}
			_, _ = fmt.Fprintf(w, "Environment prefix: %s_\n", config.EnvPrefix)
			return nil
		},
	}
}
