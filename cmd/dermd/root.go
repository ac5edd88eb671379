package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/medmind/go-derm-backend/internal/config"
	"github.com/medmind/go-derm-backend/internal/queue"
	"github.com/medmind/go-derm-backend/internal/repo"
	"github.com/medmind/go-derm-backend/internal/storage"
	"github.com/medmind/go-derm-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func newRootCommand() *cobra.Command {
	var envFile string

	rootCmd := &cobra.Command{
		Use:           "dermd",
		Short:         "Skin-lesion checkup backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Missing .env is fine; the environment may carry everything.
			if envFile != "" {
				if err := godotenv.Load(envFile); err != nil {
					return err
				}
			} else {
				_ = godotenv.Load()
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Path to an env file to load before reading configuration")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newWorkerCommand())

	return rootCmd
}

// setupLogging configures the process-global zerolog logger per config.
func setupLogging(cfg config.Config) {
	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// openStores opens the database, runs migrations for the domain and queue
// schemas, and prepares the file store.
func openStores(cfg config.Config) (*gorm.DB, *queue.Store, *storage.Store, error) {
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if cfg.OTEL.Enabled {
		if err := repo.EnableTracing(db); err != nil {
			return nil, nil, nil, err
		}
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, nil, nil, err
	}

	q := queue.NewStore(db)
	if err := q.Migrate(); err != nil {
		return nil, nil, nil, err
	}

	files, err := storage.NewStore(cfg.StoragePath)
	if err != nil {
		return nil, nil, nil, err
	}
	return db, q, files, nil
}
