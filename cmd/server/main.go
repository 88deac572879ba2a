package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	tomb "gopkg.in/tomb.v2"

	"wager-exchange/internal/api"
	"wager-exchange/internal/audit"
	"wager-exchange/internal/auth"
	"wager-exchange/internal/book"
	"wager-exchange/internal/config"
	"wager-exchange/internal/controller"
	"wager-exchange/internal/db"
	"wager-exchange/internal/ws"
)

const auditInterval = 30 * time.Second

func main() {
	root := &cobra.Command{
		Use:   "exchange",
		Short: "centralized spot exchange server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
	root.AddCommand(serveCmd(), migrateCmd())
	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			configureLogging(cfg.LogLevel)

			store, err := db.Open(cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("db open: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(cfg.MigrationsDir); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			log.Info().Msg("migrations applied")
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the exchange HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func serve() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	configureLogging(cfg.LogLevel)

	store, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	defer store.Close()
	log.Info().Msg("connected to database")

	if err := store.Migrate(cfg.MigrationsDir); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info().Msg("migrations applied")

	ctx := context.Background()
	if err := auth.Bootstrap(ctx, store.DB, cfg.AdminBootstrapKey, cfg.AdminName); err != nil {
		return fmt.Errorf("admin bootstrap: %w", err)
	}

	bv := book.New(store.DB, cfg.BookCacheTTL)
	ctrl := controller.New(store, bv)
	hub := ws.NewHub()
	srv := api.NewServer(store, ctrl, bv, hub, cfg)

	var t tomb.Tomb
	audit.Run(&t, store.DB, auditInterval)

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Router()}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info().Msg("shutting down")

	t.Kill(nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := t.Wait(); err != nil {
		log.Error().Err(err).Msg("auditor shutdown")
	}
	return httpSrv.Shutdown(shutdownCtx)
}

func configureLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
}
