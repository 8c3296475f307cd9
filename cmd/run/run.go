// Package run implements the run subcommand: it builds the declared
// pipelines and drives them until they finish or the process is
// interrupted.
package run

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/mediaflow/internal/conf"
	"github.com/tphakala/mediaflow/internal/engine"
	"github.com/tphakala/mediaflow/internal/logging"
)

const shutdownGrace = 10 * time.Second

// Command returns the run subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the configured pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipelines(settings)
		},
	}
}

func runPipelines(settings *conf.Settings) error {
	if len(settings.Pipelines) == 0 {
		return fmt.Errorf("no pipelines configured")
	}

	eng, err := engine.New(settings)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := eng.Run(ctx); err != nil {
		return err
	}

	// Block until all pipelines drained on their own or a signal arrived.
	waitErr := eng.Wait(ctx)
	if waitErr != nil {
		logging.Info("shutdown requested")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return eng.Shutdown(shutdownCtx)
}
