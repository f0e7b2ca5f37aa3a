package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/codewandler/eventum-go/core/config"
)

func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate and show the configuration",
	}
	cmd.AddCommand(newConfigValidateCommand(rootOpts), newConfigShowCommand(rootOpts))
	return cmd
}

type validateResult struct {
	File  string `json:"file"`
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

func newConfigValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a configuration file against the schema",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file := rootOpts.ConfigFile
			if len(args) == 1 {
				file = args[0]
			}

			res := validateResult{File: file, Valid: true}
			data, err := os.ReadFile(file)
			if err == nil {
				_, err = config.Load(data)
			}
			if err != nil {
				res.Valid = false
				res.Error = err.Error()
				if rootOpts.Format == "json" {
					_ = write(cmd.OutOrStdout(), rootOpts.Format, res)
				}
				return err
			}
			return writeLine(cmd.OutOrStdout(), rootOpts.Format, file+": valid", res)
		},
	}
}

func newConfigShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig(cmd)
			if err != nil {
				return err
			}
			return write(cmd.OutOrStdout(), rootOpts.Format, cfg)
		},
	}
}
