package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/BatmanBruc/bat-bot-uploader/internal/app"
	"github.com/BatmanBruc/bat-bot-uploader/internal/config"
	"github.com/BatmanBruc/bat-bot-uploader/internal/logger"
	"github.com/BatmanBruc/bat-bot-uploader/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot, the upload workers and the HTTP endpoints",
		RunE: func(*cobra.Command, []string) error {
			return runServe(envFile)
		},
	}

	root := &cobra.Command{
		Use:           "uploadbot",
		Short:         "Telegram bot that publishes videos to Dailymotion",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", "config.env", "env file loaded before the process environment")

	root.AddCommand(serve, &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd.Context(), envFile)
		},
	})
	return root
}

func runServe(envFile string) error {
	a := fx.New(
		app.CreateApp(envFile),
		fx.NopLogger,
	)
	if err := a.Err(); err != nil {
		return err
	}
	a.Run()
	return nil
}

func runMigrate(ctx context.Context, envFile string) error {
	db, logging, err := config.LoadDatabase(envFile)
	if err != nil {
		return err
	}
	log := logger.New(logging.Level)

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	// Sealing is irrelevant here; migrations never touch credential values.
	pg, err := store.NewPostgresStore(ctx, db.DSN, nil)
	if err != nil {
		return err
	}
	pg.Close()
	log.Info().Msg("migrations applied")
	return nil
}
