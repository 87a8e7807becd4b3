package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nous-labs/vacancy-bridge/internal/daemon"
)

func newRootCmd() *cobra.Command {
	v := daemon.NewViper()

	serve := newServeCmd(v)
	cmd := &cobra.Command{
		Use:          "vacancy-bridge",
		Short:        "AI recruiter bridge for WhatsApp and Matrix",
		SilenceUsage: true,
		RunE:         serve.RunE,
	}

	cmd.PersistentFlags().String("config", "", "Config file path (optional).")
	_ = v.BindPFlag("config", cmd.PersistentFlags().Lookup("config"))

	cmd.AddCommand(serve)
	cmd.AddCommand(newResetSessionCmd(v))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// loadConfig reads the config and installs the configured logger.
func loadConfig(v *viper.Viper) (*daemon.Config, error) {
	path := v.GetString("config")
	cfg, err := daemon.LoadConfig(v, path)
	if err != nil {
		return nil, err
	}
	logger, err := daemon.NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return cfg, nil
}

func newServeCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect the transport and answer messages",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			slog.Info("vacancy-bridge starting", "version", version, "transport", cfg.Transport)
			d, err := daemon.New(ctx, cfg)
			if err != nil {
				return fmt.Errorf("create daemon: %w", err)
			}
			if err := d.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("daemon error", "error", err)
				return err
			}
			return nil
		},
	}
}

func newResetSessionCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-session",
		Short: "Delete stored transport credentials so the next start pairs again",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			return daemon.ResetCredentials(cfg)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "vacancy-bridge %s (%s)\n", version, commit)
		},
	}
}
