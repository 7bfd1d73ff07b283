package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmehdipour/clinic-recall/internal/app"
	"github.com/jmehdipour/clinic-recall/internal/scheduler"
)

var serveNoSchedulers bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP API and the reminder/control schedulers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := app.Load(cfgPath)
		if err != nil {
			return err
		}
		a, err := app.New(cfg, log)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		var scheds []*scheduler.Scheduler
		if !serveNoSchedulers {
			for _, build := range []func() (*scheduler.Scheduler, error){a.RemindersScheduler, a.ControlsScheduler} {
				s, err := build()
				if err != nil {
					return fmt.Errorf("scheduler: %w", err)
				}
				scheds = append(scheds, s)
			}
		}

		server := a.Server()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() { errCh <- server.Start(cfg.HTTP.Addr) }()
		for _, s := range scheds {
			s.Start()
		}

		select {
		case <-ctx.Done():
			log.Info("signal received, shutting down")
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server exited", zap.Error(err))
			}
		}

		for _, s := range scheds {
			s.Stop()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveNoSchedulers, "no-schedulers", false, "serve HTTP only; run schedulers via `worker`")
}
