package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/paxoslab/gpaxos/internal/config"
	"github.com/paxoslab/gpaxos/internal/scheduler"
	"github.com/paxoslab/gpaxos/internal/topology"
)

func newRunCmd() *cobra.Command {
	var configPath string
	var seed uint64

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a topology from a YAML config file to its lifetime end",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return fmt.Errorf("reading config: %w", err)
			}
			cfg, err := config.Parse(data)
			if err != nil {
				return fmt.Errorf("parsing config: %w", err)
			}

			ctx := cmd.Context()
			clk := scheduler.RealClock{}
			handle, err := topology.Launch(ctx, cfg, clk, seed)
			if err != nil {
				return fmt.Errorf("launching topology: %w", err)
			}

			waitCtx, cancel := context.WithTimeout(ctx, cfg.Lifetime()+5*time.Second)
			defer cancel()
			if err := handle.AwaitTermination(waitCtx); err != nil {
				return fmt.Errorf("awaiting termination: %w", err)
			}

			snap := handle.Snapshot()
			for i, l := range snap.LearnedByLearner() {
				fmt.Printf("learner %d: learned %d commands\n", i+1, len(l))
			}
			if len(snap.Errors) > 0 {
				fmt.Printf("run observed %d protocol error(s)\n", len(snap.Errors))
				for _, e := range snap.Errors {
					fmt.Printf("  %s: %v\n", e.Role, e.Err)
				}
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a topology YAML config")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "root PRNG seed for reproducible runs")
	cmd.MarkFlagRequired("config")
	return cmd
}
