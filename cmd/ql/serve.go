package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"questline/internal/app"
	"questline/internal/config"
	"questline/internal/logger"
	"questline/internal/metrics"
	"questline/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		Long:  "Serves hosted sessions over HTTP. Settings come from QUESTLINE_* variables (and .env); flags override them.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("addr") {
				cfg.Addr = addr
			}
			if flags.Changed("base-path") {
				cfg.BasePath = basePath
			}
			if flags.Changed("workspace") {
				cfg.Workspace, _ = flags.GetString("workspace")
			}
			if flags.Changed("campaign-dir") {
				cfg.CampaignDir, _ = flags.GetString("campaign-dir")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := logger.Init(cfg.LogLevel, cfg.LogFormat); err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := app.Open(ctx, cfg.Workspace, cfg.CampaignDir)
			if err != nil {
				return err
			}
			defer a.Close()
			e := a.Engine
			e.Metrics = metrics.New()

			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: cfg.BasePath,
				Auth: server.AuthConfig{
					JWTSecret:         cfg.JWTSecret,
					AllowPlayerHeader: cfg.AllowPlayerHeader,
					DevLogin:          cfg.DevLogin,
				},
			})
			if err != nil {
				return err
			}

			if len(cfg.Webhooks.URLs) > 0 {
				go server.NewWebhookDispatcher(e, cfg.Webhooks).Run(ctx)
			}

			srv := &http.Server{Addr: cfg.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			logrus.WithFields(logrus.Fields{
				"addr":      cfg.Addr,
				"base_path": cfg.BasePath,
				"campaigns": len(e.Campaigns),
				"webhooks":  len(cfg.Webhooks.URLs),
			}).Infof("serving Questline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)", cfg.Addr, cfg.BasePath, cfg.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}
