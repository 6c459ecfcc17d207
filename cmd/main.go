package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/KAsare1/agriconsult-server/cmd/api"
	"github.com/KAsare1/agriconsult-server/cmd/config"
	"github.com/KAsare1/agriconsult-server/cmd/utils"
	"github.com/KAsare1/agriconsult-server/db"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "agriconsult",
		Short:        "Farmer and expert consultation API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd.Context())
		},
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the API server",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runServer(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Create or update the database schema and upload directories",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMigrations()
			},
		},
		newClearCmd(),
	)
	return root
}

// withDatabase loads the configuration, opens the database and closes it
// once fn returns.
func withDatabase(fn func(cfg *config.Config, gdb *gorm.DB, logger zerolog.Logger) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := utils.NewLogger(cfg.Env)

	gdb, err := db.Open(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("database initialization")
		return err
	}
	defer func() {
		if err := db.Close(gdb); err != nil {
			logger.Error().Err(err).Msg("close database")
			return
		}
		logger.Info().Msg("database connection closed")
	}()
	logger.Info().Str("driver", cfg.DBDriver).Msg("connected to the database")

	return fn(cfg, gdb, logger)
}

func runServer(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return withDatabase(func(cfg *config.Config, gdb *gorm.DB, logger zerolog.Logger) error {
		if cfg.IsDev() {
			if err := db.Migrate(gdb, logger); err != nil {
				return err
			}
		}
		return api.NewApiServer(cfg, gdb, logger).Run(ctx)
	})
}

func runMigrations() error {
	return withDatabase(func(cfg *config.Config, gdb *gorm.DB, logger zerolog.Logger) error {
		if err := db.Migrate(gdb, logger); err != nil {
			return err
		}
		for _, kind := range []string{utils.KindImages, utils.KindFiles} {
			dir := filepath.Join(cfg.UploadDir, kind)
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("create directory %s: %w", dir, err)
			}
			logger.Info().Str("dir", dir).Msg("upload directory ready")
		}
		logger.Info().Msg("migrations completed")
		return nil
	})
}

func newClearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear-db [tables...]",
		Short: "Drop tables (all of them when none are named)",
		Long:  "Drop tables. Known tables: " + strings.Join(db.Tables(), ", "),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(func(_ *config.Config, gdb *gorm.DB, logger zerolog.Logger) error {
				target := "all tables"
				if len(args) > 0 {
					target = strings.Join(args, ", ")
				}
				if !yes && !confirm(cmd, fmt.Sprintf("Drop %s? (yes/no): ", target)) {
					logger.Info().Msg("database clearing cancelled")
					return nil
				}
				if err := db.ClearDatabase(gdb, args, logger); err != nil {
					return err
				}
				logger.Info().Str("tables", target).Msg("database cleared")
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func confirm(cmd *cobra.Command, prompt string) bool {
	fmt.Fprint(cmd.OutOrStdout(), prompt)
	answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	return strings.EqualFold(strings.TrimSpace(answer), "yes")
}
