package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"pipemock/internal/config"
	"pipemock/pkg/bus"
	"pipemock/pkg/db"
	"pipemock/pkg/telemetry"
	"pipemock/services/api"
	"pipemock/services/simulator"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the mock HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(commandContext(cmd))
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and seed scenarios, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			cfg, logger, err := loadConfig(ctx)
			if err != nil {
				return err
			}

			database, err := openDatabase(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close(database) }()

			catalog, err := loadCatalog(cfg)
			if err != nil {
				return err
			}
			seeds := append(simulator.DefaultScenarios(), catalog...)
			if err := (&api.Store{ORM: database}).Seed(ctx, seeds); err != nil {
				return err
			}
			logger.Info().Int("scenarios", len(seeds)).Msg("database migrated")
			return nil
		},
	}
}

func loadConfig(ctx context.Context) (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return config.Config{}, zerolog.Nop(), errors.Wrap(err, "load config")
	}
	level, err := cfg.Level()
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	return cfg, telemetry.NewLogger(serviceName, level, cfg.LogFormat, os.Stderr), nil
}

func openDatabase(ctx context.Context, cfg config.Config) (*gorm.DB, error) {
	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, database); err != nil {
		_ = db.Close(database)
		return nil, err
	}
	return database, nil
}

func loadCatalog(cfg config.Config) ([]simulator.Scenario, error) {
	if cfg.ScenariosFile == "" {
		return nil, nil
	}
	return simulator.LoadCatalog(cfg.ScenariosFile)
}

func serve(ctx context.Context) error {
	cfg, logger, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	shutdownTracing, err := telemetry.Init(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown tracing")
		}
	}()

	database, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(database); err != nil {
			logger.Error().Err(err).Msg("close database")
		}
	}()

	catalog, err := loadCatalog(cfg)
	if err != nil {
		return err
	}

	var publisher api.Publisher
	if cfg.NATSURL != "" {
		b, err := bus.New(cfg.NATSURL, nats.Name(serviceName))
		if err != nil {
			return err
		}
		defer b.Close()
		if err := b.EnsureStream(cfg.NATSStream, bus.AllSubjects); err != nil {
			return err
		}
		publisher = b
	}

	store := &api.Store{ORM: database}
	a, err := api.New(store, api.Config{
		BaseURL:             cfg.BaseURL,
		MockToken:           cfg.MockToken,
		AllowReset:          cfg.AllowReset,
		RequireTerminalRule: cfg.RequireTerminalRule,
		Catalog:             catalog,
		AllowedOrigins:      cfg.AllowedOrigins,
		RateLimit:           cfg.RateLimit,
	}, logger, publisher)
	if err != nil {
		return err
	}
	if err := store.Seed(ctx, a.Seeds()); err != nil {
		return err
	}

	router, err := a.Routes()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           telemetry.Tracing(serviceName)(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.Addr).
			Bool("reset_enabled", cfg.AllowReset).
			Bool("events_enabled", publisher != nil).
			Msg("starting pipemock")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "http server")
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown server")
	}
	return nil
}
