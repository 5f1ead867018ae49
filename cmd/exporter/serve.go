package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Nubiru/bhaskara-sub000/internal/api"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the export API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&a.overrides.Listen, "listen", "", "Listen address (overrides config, default :8080)")
	return cmd
}

func (a *app) runServe(ctx context.Context) error {
	if err := a.validate(); err != nil {
		return err
	}

	ctx, stop := signalContext(ctx)
	defer stop()

	bkt, store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer bkt.Close()

	facade, client := a.newFacade(store, nil)

	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := client.Health(hctx); err != nil {
		a.log.WithError(err).WithField("backend", a.cfg.BackendURL).Warn("report backend is not healthy; exports will fail until it is")
	}
	cancel()

	if a.log.IsLevelEnabled(logrus.DebugLevel) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(&api.Handler{Facade: facade, Store: store, Log: a.log})

	srv := &http.Server{
		Addr:              a.cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("listen", a.cfg.Listen).Info("serving export API")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return exitWith(ExitGeneralError, err)
		}
	case <-ctx.Done():
		a.log.Info("shutting down")
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		a.log.WithError(err).Warn("shutdown")
	}

	facade.CancelAll()
	facade.Wait()
	return nil
}
