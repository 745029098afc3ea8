package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	chaindexer "github.com/chaindexer/chaindexer"
	"github.com/chaindexer/chaindexer/internal/boot"
	internalconfig "github.com/chaindexer/chaindexer/internal/config"
	"github.com/chaindexer/chaindexer/internal/migrate"
	pkgconfig "github.com/chaindexer/chaindexer/pkg/config"
)

func main() {
	rootCmd := &cobra.Command{Use: "chaindexerd"}
	var env string
	rootCmd.PersistentFlags().StringVar(&env, "env", "", "environment overlay to merge onto default.yaml")

	rootCmd.AddCommand(runCmd(&env))
	rootCmd.AddCommand(migrateCmd(&env))
	rootCmd.AddCommand(resetCmd(&env))
	rootCmd.AddCommand(configCmd(&env))
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func configCmd(env *string) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "print the effective configuration as YAML and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			pcfg, err := pkgconfig.Load(*env)
			if err != nil {
				return err
			}
			out, err := pcfg.ToYAML()
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
}

func runCmd(env *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "boot a replica and index the configured chains until signalled",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logrus.NewEntry(logrus.StandardLogger())

			pcfg, err := pkgconfig.Load(*env)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := internalconfig.Build(ctx, *pcfg, log)
			if err != nil {
				return err
			}
			defer cfg.Repo.Close()

			return chaindexer.IndexStates(ctx, cfg)
		},
	}
}

func resetCmd(env *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "apply the configured reset epoch (reset_count/reset_queries) and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logrus.NewEntry(logrus.StandardLogger())

			pcfg, err := pkgconfig.Load(*env)
			if err != nil {
				return err
			}

			ctx := context.Background()
			cfg, err := internalconfig.Build(ctx, *pcfg, log)
			if err != nil {
				return err
			}
			defer cfg.Repo.Close()

			return boot.ApplyResetEpoch(ctx, boot.Config{
				Repo:         cfg.Repo,
				ResetCount:   cfg.ResetCount,
				ResetQueries: cfg.ResetQueries,
			})
		},
	}
}

func migrateCmd(env *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "apply schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logrus.NewEntry(logrus.StandardLogger())

			pcfg, err := pkgconfig.Load(*env)
			if err != nil {
				return err
			}

			ctx := context.Background()
			cfg, err := internalconfig.Build(ctx, *pcfg, log)
			if err != nil {
				return err
			}
			defer cfg.Repo.Close()

			return migrate.Run(ctx, cfg.Repo)
		},
	}
}
