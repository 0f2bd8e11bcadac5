package main

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/camden-git/photoner/config"
	"github.com/camden-git/photoner/database"
	"github.com/camden-git/photoner/repository"
	"github.com/camden-git/photoner/utils"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const reportsSubdir = "reports"

// commandContext lazily builds the shared configuration and logger once per
// invocation.
type commandContext struct {
	profileFlag *string
	envFlag     *string

	once      sync.Once
	cfg       config.Config
	logger    *slog.Logger
	logCloser io.Closer
	err       error
}

func (c *commandContext) ensure() (config.Config, *slog.Logger, error) {
	c.once.Do(func() {
		envFile := ".env"
		if c.envFlag != nil && *c.envFlag != "" {
			envFile = *c.envFlag
		}
		envErr := godotenv.Load(envFile)

		cfg, err := config.LoadConfig()
		if err != nil {
			c.err = fmt.Errorf("load configuration: %w", err)
			return
		}
		if c.profileFlag != nil && *c.profileFlag != "" && *c.profileFlag != cfg.ProfileName {
			if err := cfg.ApplyProfile(*c.profileFlag); err != nil {
				c.err = err
				return
			}
			if err := cfg.Validate(); err != nil {
				c.err = err
				return
			}
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.err = err
			return
		}

		logger, closer, err := utils.NewLogger(utils.LoggerOptions{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Dir: cfg.Paths.Logs})
		if err != nil {
			c.err = err
			return
		}
		if envErr != nil {
			logger.Debug("no .env file loaded", "file", envFile, "error", envErr)
		}
		c.cfg, c.logger, c.logCloser = cfg, logger, closer
	})
	return c.cfg, c.logger, c.err
}

func (c *commandContext) reportsDir() string {
	return filepath.Join(c.cfg.Paths.Logs, reportsSubdir)
}

// openAudit opens the audit store. The returned func closes it.
func (c *commandContext) openAudit() (*repository.AuditRepository, func(), error) {
	cfg, logger, err := c.ensure()
	if err != nil {
		return nil, nil, err
	}
	db, err := database.Open(cfg.Paths.Database, utils.ParseLevel(cfg.Logging.Level) <= slog.LevelDebug, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit store: %w", err)
	}
	closeDB := func() {
		if sqlDB, err := db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				logger.Warn("failed to close audit store", "error", err)
			}
		}
	}
	return repository.NewAuditRepository(db, c.reportsDir()), closeDB, nil
}

func (c *commandContext) close() {
	if c.logCloser != nil {
		c.logCloser.Close()
	}
}

func newRootCommand() *cobra.Command {
	var profileFlag, envFlag string
	ctx := &commandContext{profileFlag: &profileFlag, envFlag: &envFlag}

	rootCmd := &cobra.Command{
		Use:           "photoner",
		Short:         "Batch photo enhancement with an audit trail",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			ctx.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&profileFlag, "profile", "p", "", "Enhancement profile (conservative, balanced, aggressive or one from PROFILES_FILE)")
	rootCmd.PersistentFlags().StringVar(&envFlag, "env-file", "", "Path to a .env file (default ./.env)")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newReportCommand(ctx))
	rootCmd.AddCommand(newCleanupCommand(ctx))
	rootCmd.AddCommand(newVerifyEXIFCommand(ctx))
	rootCmd.AddCommand(newServeCommand(ctx))
	return rootCmd
}

func megabytes(b int64) string {
	return fmt.Sprintf("%.2f MB", float64(b)/(1024*1024))
}
