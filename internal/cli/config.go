package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/trackq/internal/config"
)

// ConfigValidation holds config validation results.
type ConfigValidation struct {
	Valid    bool                `json:"valid"`
	Problems []config.FieldError `json:"problems,omitempty"`
}

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate or print the effective configuration",
	}
	cmd.AddCommand(newConfigValidateCommand(rootOpts))
	cmd.AddCommand(newConfigShowCommand(rootOpts))
	return cmd
}

func newConfigValidateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a config file against the schema",
		Long: `Validate a config file (or --config) after applying TRACKQ_*
environment overrides. Every problem is reported, not just the first.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.ConfigPath
			if len(args) == 1 {
				path = args[0]
			}
			return runConfigValidate(opts, path, cmd)
		},
	}
}

func runConfigValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	formatter.Debugf("validating %q", path)

	_, err := config.Load(path)
	if err == nil {
		return formatter.Render(ConfigValidation{Valid: true}, func(w io.Writer) {
			fmt.Fprintln(w, "configuration is valid")
		})
	}

	var vErr *config.ValidationError
	if !errors.As(err, &vErr) {
		return formatter.Fail(ExitCommandError, CodeConfigLoad, err.Error(), nil)
	}

	summary := fmt.Sprintf("%d configuration problem(s)", len(vErr.Problems))
	if opts.Format == "json" {
		return formatter.Fail(ExitFailure, CodeConfigInvalid, summary, ConfigValidation{Problems: vErr.Problems})
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "configuration is invalid (%s):\n", summary)
	for _, p := range vErr.Problems {
		fmt.Fprintf(w, "  %s: %s\n", p.Field, p.Message)
	}
	return NewExitError(ExitFailure, summary)
}

func newConfigShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show",
		Short:         "Print the effective configuration",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(opts, cmd)

			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if cfg.Authorization != "" {
				cfg.Authorization = "<redacted>"
			}

			if opts.Format == "json" {
				return formatter.Success(cfg)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return WrapExitError(ExitCommandError, "failed to encode configuration", err)
			}
			return enc.Close()
		},
	}
}
