package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/camden-git/photoner/handlers"
	"github.com/camden-git/photoner/services"
	"github.com/spf13/cobra"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve read-only audit queries over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := ctx.ensure()
			if err != nil {
				return err
			}
			repo, closeDB, err := ctx.openAudit()
			if err != nil {
				return err
			}
			defer closeDB()

			h := &handlers.AuditHandler{
				Repo:    repo,
				Reports: services.NewReportService(repo, ctx.reportsDir(), logger),
				Logger:  logger,
			}
			if port == "" {
				port = cfg.Server.Port
			}
			server := &http.Server{
				Addr:         ":" + port,
				Handler:      handlers.NewRouter(h, ctx.reportsDir(), cfg.Server.AllowedOrigins, logger),
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 60 * time.Second,
				IdleTimeout:  120 * time.Second,
			}

			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-sigCtx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					logger.Warn("server shutdown", "error", err)
				}
			}()

			logger.Info("audit API listening", "addr", server.Addr, "reports", ctx.reportsDir())
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "Listen port (default from PORT, 8080)")
	return cmd
}
