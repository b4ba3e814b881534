package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Homiakus/motto/orchestrator"
)

var (
	statusRunSeq      string
	statusPollInterval time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Load --config and print status snapshots while optionally running a sequence",
	Long: `status loads --config and prints one Snapshot.

With --run <sequence-id>, the sequence is executed asynchronously and a
Snapshot is printed every --interval until it finishes, useful for
watching resource acquisition and handler queue depth during a long
sequence.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusRunSeq, "run", "", "execute this sequence asynchronously while reporting status")
	statusCmd.Flags().DurationVar(&statusPollInterval, "interval", 500*time.Millisecond, "poll interval when --run is given")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
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

	if statusRunSeq == "" {
		printSnapshot(cmd, o.Status())
		return nil
	}

	h := o.ExecuteAsync(ctx, statusRunSeq, nil, flagProfile)
	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			printSnapshot(cmd, o.Status())
		default:
		}
		if _, done := h.Status(); done {
			printSnapshot(cmd, o.Status())
			result := h.Await()
			fmt.Fprintf(cmd.OutOrStdout(), "final: %s: %s\n", result.SequenceID, result.Status)
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func printSnapshot(cmd *cobra.Command, snap orchestrator.Snapshot) {
	fmt.Fprintf(cmd.OutOrStdout(), "running=%d handlers=%d resources=%d\n",
		len(snap.RunningSequences), len(snap.HandlerQueueSize), len(snap.HeldResources))
	for corr, seq := range snap.RunningSequences {
		fmt.Fprintf(cmd.OutOrStdout(), "  running: %s -> %s\n", corr, seq)
	}
	for res, owners := range snap.HeldResources {
		if len(owners) > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "  held: %s -> %v\n", res, owners)
		}
	}
}
