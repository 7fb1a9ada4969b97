package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MimeLyc/subclip/internal/config"
	"github.com/MimeLyc/subclip/internal/httpapi"
	"github.com/MimeLyc/subclip/internal/persistence"
	"github.com/MimeLyc/subclip/internal/service"
	"github.com/MimeLyc/subclip/pkg/icron"
	"github.com/MimeLyc/subclip/pkg/log"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

type runScheduler interface {
	Schedule(ctx context.Context) error
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var cronExpr string
	var addr string
	var runNow bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run batches on a cron schedule and serve the status API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.loadConfig(func(c *config.Config) {
				if cmd.Flags().Changed("cron") {
					c.System.CronExpr = cronExpr
				}
				if cmd.Flags().Changed("addr") {
					c.HTTP.Addr = addr
				}
			})
			if err != nil {
				return err
			}

			store, err := persistence.NewSQLiteStore(cfg.DBPath())
			if err != nil {
				return err
			}
			defer store.Close()

			svc, err := service.New(*cfg, service.WithRecorder(store), service.WithJobStore(store))
			if err != nil {
				return err
			}
			defer svc.Close()

			runCtx := cmd.Context()
			trigger := func() {
				if _, err := svc.Trigger(runCtx, service.SourceManual); err != nil {
					log.Error("Run failed: %v", err)
				}
			}
			if runNow {
				go trigger()
			}

			engine := cron.New(cron.WithParser(icron.Parser))
			sched := scheduleFunc(func(ctx context.Context) error {
				_, err := svc.Schedule(ctx, engine, cfg.System.CronExpr)
				return err
			})
			srv := httpapi.NewServer(svc.Queue(), httpapi.WithHistory(store), httpapi.WithTrigger(trigger))
			return runWithComponents(runCtx, cfg.HTTP.Addr, sched, engine, srv)
		},
	}

	cmd.Flags().StringVar(&cronExpr, "cron", "", "Cron expression for scheduled runs (overrides CRON_EXPR)")
	cmd.Flags().StringVar(&addr, "addr", "", "Status API listen address (overrides HTTP_ADDR)")
	cmd.Flags().BoolVar(&runNow, "now", false, "Start a run immediately")
	return cmd
}

type scheduleFunc func(ctx context.Context) error

func (f scheduleFunc) Schedule(ctx context.Context) error {
	return f(ctx)
}

// runWithComponents registers the schedule, starts cron and the HTTP server
// and blocks until ctx is cancelled or the server fails.
func runWithComponents(
	ctx context.Context,
	addr string,
	scheduler runScheduler,
	engine cronEngine,
	srv httpServer,
) error {
	if err := scheduler.Schedule(ctx); err != nil {
		return err
	}
	engine.Start()
	defer func() {
		<-engine.Stop().Done()
	}()

	errCh := make(chan error, 1)
	go func() {
		log.Info("Status API listening on %s", addr)
		if err := srv.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}
