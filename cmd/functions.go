package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/ethpandaops/chfs/pkg/engine"
	"github.com/ethpandaops/chfs/pkg/functions"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// ErrInvalidArgument is returned when an evaluate argument is not name=value
var ErrInvalidArgument = errors.New("argument must be name=value")

// functionsCmd represents the functions command group
//
//nolint:gochecknoglobals // Cobra commands are typically global
var functionsCmd = &cobra.Command{
	Use:   "functions",
	Short: "Register, list and evaluate on-demand feature functions",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		// Keep output readable unless a level was asked for
		if !cmd.Flags().Changed("log-level") {
			logger.SetLevel(logrus.ErrorLevel)
		}
		return nil
	},
}

//nolint:gochecknoglobals // Cobra commands are typically global
var functionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the functions registered in ClickHouse",
	RunE:  runFunctionsList,
}

//nolint:gochecknoglobals // Cobra commands are typically global
var functionsRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Create or replace the built-in functions in ClickHouse",
	RunE:  runFunctionsRegister,
}

//nolint:gochecknoglobals // Cobra commands are typically global
var functionsEvaluateCmd = &cobra.Command{
	Use:   "evaluate NAME [PARAM=VALUE...]",
	Short: "Evaluate a built-in function in-process",
	Long: `Evaluate runs a built-in function without ClickHouse.

Example:
  chfs functions evaluate avg_price_increase monthly_charges_in=80 tenure_in=10 total_charges_in=700`,
	Args: cobra.MinimumNArgs(1),
	RunE: runFunctionsEvaluate,
}

func init() {
	rootCmd.AddCommand(functionsCmd)
	functionsCmd.AddCommand(functionsListCmd, functionsRegisterCmd, functionsEvaluateCmd)
}

func withRegistrar(cmd *cobra.Command, fn func(context.Context, functions.Registrar) error) error {
	// Silence usage on error
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	config, err := loadValidConfig(cmd)
	if err != nil {
		return err
	}

	backends, err := engine.NewBackends(logger, config, false)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := backends.Close(); closeErr != nil {
			logger.WithError(closeErr).Error("Failed to close backends")
		}
	}()

	return fn(context.Background(), backends.Clients.Registrar)
}

func runFunctionsList(cmd *cobra.Command, _ []string) error {
	return withRegistrar(cmd, func(ctx context.Context, reg functions.Registrar) error {
		infos, err := reg.ListFunctions(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSIGNATURE\tCOMMENT")

		for _, info := range infos {
			fmt.Fprintf(w, "%s\t%s\t%s\n", info.Name, info.Signature, info.Comment)
		}

		return w.Flush()
	})
}

func runFunctionsRegister(cmd *cobra.Command, _ []string) error {
	return withRegistrar(cmd, func(ctx context.Context, reg functions.Registrar) error {
		for _, fn := range functions.Builtins() {
			if err := reg.RegisterFunction(ctx, fn); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "registered %s\n", fn.Signature())
		}

		return nil
	})
}

func runFunctionsEvaluate(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	lib, err := functions.NewLibrary(functions.Builtins()...)
	if err != nil {
		return err
	}

	values, err := parseAssignments(args[1:])
	if err != nil {
		return err
	}

	result, err := lib.Evaluate(args[0], values)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%g\n", result)

	return nil
}

func parseAssignments(args []string) (map[string]any, error) {
	values := make(map[string]any, len(args))

	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidArgument, arg)
		}

		values[name] = value
	}

	return values, nil
}
