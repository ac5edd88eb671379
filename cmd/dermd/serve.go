package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/medmind/go-derm-backend/internal/config"
	"github.com/medmind/go-derm-backend/internal/dispatch"
	httpapi "github.com/medmind/go-derm-backend/internal/http"
	"github.com/medmind/go-derm-backend/internal/inference"
	"github.com/medmind/go-derm-backend/internal/observability"

	// Swagger docs registration (generated by swag).
	_ "github.com/medmind/go-derm-backend/docs"
)

// @title           Derm Checkup API
// @version         1.0
// @description     Clinical skin-lesion checkup backend: asynchronous image inference, credit billing, and biopsy follow-up.
// @BasePath        /api/v1
func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server with the embedded worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.MustLoad()
			setupLogging(cfg)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if cfg.OTEL.Enabled {
				shutdown, err := observability.SetupOTel(ctx, cfg.OTEL, version)
				if err != nil {
					return err
				}
				defer func() {
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := shutdown(sctx); err != nil {
						log.Warn().Err(err).Msg("otel shutdown")
					}
				}()
			}

			db, q, files, err := openStores(cfg)
			if err != nil {
				return err
			}

			d := &dispatch.Dispatcher{DB: db, Broker: q}

			// Single-binary deployments process checkups in-process; set
			// WORKER_EMBEDDED=false when a dedicated `worker` pool runs.
			var workerDone chan struct{}
			if cfg.Worker.Embedded {
				w := inference.NewWorker(db, q, files, inference.NewSession(cfg.Model), inference.OptionsFromConfig(&cfg))
				workerDone = make(chan struct{})
				go func() {
					defer close(workerDone)
					if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
						log.Error().Err(err).Msg("embedded worker stopped")
					}
				}()
			}

			gin.SetMode(cfg.GinMode)
			r := gin.New()
			httpapi.RegisterRoutes(r, db, files, d, cfg)

			srv := &http.Server{
				Addr:              ":" + cfg.Port,
				Handler:           r,
				ReadTimeout:       cfg.ReadTimeout,
				ReadHeaderTimeout: cfg.ReadHeaderTimeout,
				WriteTimeout:      cfg.WriteTimeout,
				IdleTimeout:       cfg.IdleTimeout,
				MaxHeaderBytes:    cfg.MaxHeaderBytes,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", srv.Addr).Str("version", version).Msg("http server listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			log.Info().Msg("shutting down http server")
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			shutdownErr := srv.Shutdown(sctx)
			if workerDone != nil {
				// In-flight checkup runs finish before the process exits.
				<-workerDone
			}
			return shutdownErr
		},
	}
}
