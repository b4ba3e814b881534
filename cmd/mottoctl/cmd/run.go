package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Homiakus/motto/internal/transport"
	"github.com/Homiakus/motto/orchestrator"
)

var runVars []string

var runCmd = &cobra.Command{
	Use:   "run <sequence-id>",
	Short: "Load --config and execute one sequence to completion",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringArrayVar(&runVars, "var", nil, "variable values for the run (format: name=value)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	if flagConfigPath == "" {
		return fmt.Errorf("--config is required")
	}
	data, err := os.ReadFile(flagConfigPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", flagConfigPath, err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	tr, err := dialTransport(ctx)
	if err != nil {
		return err
	}
	defer tr.Close()

	o := orchestrator.New(tr, orchestrator.WithLogger(newLogger()))
	defer o.Close()

	if errs, err := o.Load(data); err != nil {
		printConfigErrors(cmd, errs)
		return err
	}

	result := o.Execute(ctx, args[0], parseVarFlags(runVars), flagProfile)
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%d/%d steps, %s)\n",
		result.SequenceID, result.Status, result.Completed, result.Total, result.Elapsed)
	if result.Error != nil {
		return result.Error
	}
	return nil
}

// dialTransport connects to --dial if given, otherwise runs against an
// in-process mock that echoes every command line as "OK <line>" -- useful
// for dry runs against a configuration with no device attached.
func dialTransport(ctx context.Context) (transport.Transport, error) {
	if flagDialAddr == "" {
		return transport.NewMock(func(line string) (transport.Response, error) {
			return transport.Response{Line: "OK " + line}, nil
		}), nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return transport.DialTCP(dialCtx, flagDialAddr)
}
