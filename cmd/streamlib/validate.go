package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tatolab/streamlib-sub000/engine"
	"github.com/tatolab/streamlib-sub000/stream"
)

type validateOptions struct {
	*rootOptions
	Print bool
}

func newValidateCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &validateOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and the demo graph",
		Long: `Load the configuration, build the demo pipeline without starting it and
report graph problems such as unconnected inputs.

Example:
  streamlib validate -c streamlib.yaml --print`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return validatePipeline(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Print, "print", false, "print the effective configuration")
	return cmd
}

func validatePipeline(cmd *cobra.Command, opts *validateOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.Print {
		fmt.Fprint(cmd.OutOrStdout(), cfg.String())
	}

	rt, err := engine.New(cfg, engine.WithLogger(opts.logger))
	if err != nil {
		return err
	}
	defer func() { _ = rt.Stop() }()

	if _, err := buildPipeline(rt, demoOptions{Width: 64, Height: 36, PinCPU: stream.NoCPU}, opts.logger); err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	res := rt.Validate()
	if err := writeValidation(cmd.OutOrStdout(), opts.Format, res); err != nil {
		return err
	}
	if res.Status == engine.StatusErrors {
		return fmt.Errorf("graph has %d errors", len(res.Errors))
	}
	return nil
}
