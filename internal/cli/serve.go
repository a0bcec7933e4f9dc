package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/clover/internal/repositories/canonicalstate"
	"github.com/Ramsey-B/clover/internal/repositories/history"
	runrepo "github.com/Ramsey-B/clover/internal/repositories/run"
	"github.com/Ramsey-B/clover/internal/server"
	"github.com/Ramsey-B/clover/internal/store"
	"github.com/Ramsey-B/clover/pkg/journal"
	"github.com/Ramsey-B/clover/pkg/routes/entity"
	"github.com/Ramsey-B/clover/pkg/routes/health"
	"github.com/Ramsey-B/clover/pkg/routes/run"
)

// Version is set at build time.
var Version = "dev"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve health, metrics and the history audit API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	db, err := a.openDB(ctx, true)
	if err != nil {
		return err
	}

	checker := health.NewChecker(Version)
	checker.AddCheck("database", db, true)
	if rdb, err := a.redisClient(ctx); err != nil {
		a.logger.WithContext(ctx).WithError(err).Warn("Redis unavailable")
	} else if rdb != nil {
		checker.AddCheck("redis", health.PingerFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }), false)
	}
	if client, err := a.graphClient(ctx); err != nil {
		a.logger.WithContext(ctx).WithError(err).Warn("Graph database unavailable")
	} else if client != nil {
		checker.AddCheck("graph", health.PingerFunc(client.VerifyConnectivity), false)
	}

	dest := store.NewDestination(a.cfg.Destination, db,
		canonicalstate.NewRepository(db, a.logger), history.NewRepository(db, a.logger), a.logger)

	e := server.New(server.Options{
		ServiceName: a.cfg.AppName,
		Health:      checker,
		Groups: map[string]server.Routes{
			"/entities": entity.NewHandler(dest, journal.New(dest, a.logger)),
			"/runs":     run.NewHandler(runrepo.NewRepository(db, a.logger)),
		},
	}, a.logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Port),
		Handler:           e,
		ReadTimeout:       time.Duration(a.cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(a.cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(a.cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(a.cfg.HttpServerReadTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Infof("Listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	checker.SetReady(true)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	checker.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
