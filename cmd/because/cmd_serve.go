package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"because/internal/bot"
	"because/internal/classify"
	"because/internal/relay"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage your own AI provider key",
	Long: `Save or remove the key used to classify items directly with a
provider (groq, openai or gemini). Without a key, items are classified
through the shared relay when RELAY_URL is set.`,
}

var keySetCmd = &cobra.Command{
	Use:   "set <provider> <key>",
	Short: "Save a provider key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			return a.creds.SaveCredentials(args[0], args[1])
		})
	},
}

var keyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the saved provider key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			return a.creds.ClearCredentials()
		})
	},
}

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Run the Telegram bot",
	Args:  cobra.NoArgs,
	RunE:  runBot,
}

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Serve the shared classification endpoint",
	Args:  cobra.NoArgs,
	RunE:  runRelay,
}

func init() {
	keyCmd.AddCommand(keySetCmd)
	keyCmd.AddCommand(keyClearCmd)
}

func runBot(cmd *cobra.Command, _ []string) error {
	if cfg.TelegramBotToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is not set")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return withApp(ctx, func(a *app) error {
		if err := a.creds.Watch(); err != nil {
			log.WithError(err).Warn("Credential changes will need a restart")
		}

		handler, err := bot.NewHandler(cfg, bot.NewCommands(a.items, a.creds, log), log)
		if err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			handler.Start(gctx)
			return nil
		})
		log.Info("because bot is running. Press Ctrl+C to exit.")
		err = g.Wait()
		log.Info("because bot shut down gracefully.")
		return err
	})
}

func runRelay(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.RelayAPIKey == "" {
		log.Warn("RELAY_API_KEY is not set; classification requests will fail with 500")
	}
	gateway := classify.NewGateway(
		classify.StaticCredentials{Provider: cfg.RelayProvider, Key: cfg.RelayAPIKey},
		classify.Options{Timeout: cfg.ClassifyTimeout},
		log,
	)
	srv := relay.NewServer(relay.Options{
		AllowedOrigins: cfg.RelayAllowedOrigins,
		Configured:     cfg.RelayAPIKey != "",
	}, gateway, relay.NewMetrics(), log)

	if err := srv.Run(ctx, cfg.RelayAddr); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
