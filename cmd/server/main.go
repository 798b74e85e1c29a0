package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-relay/internal/app"
	"github.com/vovakirdan/wirechat-relay/internal/auth"
	"github.com/vovakirdan/wirechat-relay/internal/config"
	applog "github.com/vovakirdan/wirechat-relay/internal/log"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "wirechat-relay",
		Short:        "Realtime chat relay with presence and typing",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	serve := newServeCmd(&configPath)
	root.AddCommand(serve, newTokenCmd(&configPath))
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			bootLogger := applog.New("info")
			cfg, path, err := config.Load(bootLogger, *configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if addr != "" {
				cfg.Addr = addr
			}

			logger := applog.New(cfg.LogLevel)
			logger.Info().Str("config", path).Str("store", cfg.Store.Driver).Msg("configuration loaded")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(ctx, &cfg, logger)
			if err != nil {
				return err
			}

			logger.Info().Str("addr", cfg.Addr).Msg("starting wirechat relay")
			if err := application.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("server exited with error")
				return err
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides config)")

	return cmd
}

func newTokenCmd(configPath *string) *cobra.Command {
	var (
		userID   string
		username string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development credential for a user id",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := config.Load(applog.Nop(), *configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			jwtConfig := app.JWTConfig(cfg.JWT)
			if ttl > 0 {
				jwtConfig.TTL = ttl
			}
			token, err := auth.GenerateToken(jwtConfig, userID, username)
			if err != nil {
				return fmt.Errorf("generate token: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id to embed in the token")
	cmd.Flags().StringVar(&username, "name", "", "display name to embed in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to jwt.ttl)")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
