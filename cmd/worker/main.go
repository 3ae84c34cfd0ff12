// Command worker connects to a chunkforge coordinator, requests spatial
// chunks, generates their artifacts via an external subprocess, and
// reports timing and completion back to the coordinator.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"chunkforge/internal/generator"
	"chunkforge/internal/worker"
)

var version = "dev"

func main() {
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(baseHandler)

	rootCmd := &cobra.Command{
		Use:   "worker",
		Short: "Request and generate spatial chunks from a coordinator",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to a coordinator and process chunks until end of work",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("coordinator")
			workDir, _ := cmd.Flags().GetString("workdir")
			generatorCmd, _ := cmd.Flags().GetString("generator")
			maxChunks, _ := cmd.Flags().GetInt("maxChunks")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			w := worker.New(worker.Config{
				CoordinatorAddr: addr,
				WorkDir:         workDir,
				Generator:       &generator.SubprocessGenerator{Command: generatorCmd},
				MaxChunksPerReq: maxChunks,
				Logger:          logger,
			})

			result, err := w.Run(ctx)
			logger.Info("worker finished", "offered", len(result.Offered), "succeeded", len(result.Succeeded))
			return err
		},
	}
	runCmd.Flags().String("coordinator", "localhost:5012", "coordinator address (host:port)")
	runCmd.Flags().String("workdir", ".", "directory to write generated artifacts and received bundles into")
	runCmd.Flags().String("generator", "", "path to the chunk generator subprocess (defaults to chunkforge-generate on PATH)")
	runCmd.Flags().Int("maxChunks", 10, "maximum number of chunks to request per batch")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(runCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
