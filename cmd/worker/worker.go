package worker

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmehdipour/clinic-recall/internal/app"
	"github.com/jmehdipour/clinic-recall/internal/scheduler"
)

// NewWorkerCmd returns the parent "worker" command.
func NewWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run background workers",
	}
	cmd.AddCommand(
		schedulerCmd("reminders", "Send due reminders on scheduler.reminders", (*app.App).RemindersScheduler),
		schedulerCmd("controls", "Materialize recurring control appointments on scheduler.controls", (*app.App).ControlsScheduler),
		archiverCmd(),
	)
	return cmd
}

// setup loads config from the root --config flag and builds the app.
func setup(cmd *cobra.Command) (*app.App, error) {
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, log, err := app.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	return app.New(cfg, log)
}

func schedulerCmd(use, short string, build func(*app.App) (*scheduler.Scheduler, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			s, err := build(a)
			if err != nil {
				return fmt.Errorf("scheduler: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			s.Start()
			a.Log.Info("worker started", zap.String("job", s.Name()))
			<-ctx.Done()
			a.Log.Info("shutting down", zap.String("job", s.Name()))
			s.Stop()
			return nil
		},
	}
}

func archiverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archiver",
		Short: "Copy message status events from Kafka into ClickHouse",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			arc, err := a.Archiver()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a.Log.Info("archiver started", zap.Strings("brokers", a.Cfg.Kafka.Brokers))
			if err := arc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}
