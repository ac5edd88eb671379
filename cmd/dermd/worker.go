package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/medmind/go-derm-backend/internal/config"
	"github.com/medmind/go-derm-backend/internal/inference"
	"github.com/medmind/go-derm-backend/internal/observability"
)

func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the inference worker pool",
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

			session := inference.NewSession(cfg.Model)
			w := inference.NewWorker(db, q, files, session, inference.OptionsFromConfig(&cfg))

			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}
