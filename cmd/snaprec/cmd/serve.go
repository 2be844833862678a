package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MeKo-Tech/snaprec/internal/pipeline"
	"github.com/MeKo-Tech/snaprec/internal/server"
	"github.com/spf13/cobra"
)

func newServeCommand(app *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP capture server",
		Long: `Start an HTTP server that accepts captures, runs them through the
pipeline and streams controller snapshots to clients.

The server provides the following endpoints:
  POST   /capture  - Submit a capture (multipart "image" or raw body)
  GET    /state    - Latest snapshot
  GET    /history  - Recognition results, newest first
  DELETE /history  - Clear the history
  GET    /preview  - Last processed image as JPEG
  GET    /ws       - WebSocket snapshot stream
  GET    /status   - Recognition service reachability
  GET    /stats    - Run counters
  GET    /health   - Health check endpoint
  GET    /metrics  - Prometheus metrics

Examples:
  snaprec serve
  snaprec serve --port 8080
  snaprec serve --host 0.0.0.0 --port 3000 --rate-limit-enabled`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.runServe(cmd)
		},
	}

	cmd.Flags().StringP("host", "H", "localhost", "server host")
	cmd.Flags().IntP("port", "p", 8080, "server port")
	cmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	cmd.Flags().Int("max-upload-size", 20, "maximum upload size in MB")
	cmd.Flags().Int("timeout", 180, "request timeout in seconds")
	cmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	// Rate limiting flags
	cmd.Flags().Bool("rate-limit-enabled", false, "enable rate limiting")
	cmd.Flags().Int("requests-per-minute", 30, "maximum captures per minute per client")
	cmd.Flags().Int("requests-per-hour", 600, "maximum captures per hour per client")
	cmd.Flags().Int("max-requests-per-day", 5000, "maximum captures per day per client")
	cmd.Flags().Int64("max-data-per-day", 500*1024*1024, "maximum uploaded bytes per day per client")
	cmd.Flags().Bool("trust-proxy", false, "key rate limits by X-Forwarded-For/X-Real-IP (only behind a trusted proxy)")
	return cmd
}

// serverConfig applies the serve flags over the loaded configuration.
func (a *cli) serverConfig(cmd *cobra.Command) (server.Config, error) {
	scfg := a.cfg.ToServerConfig()
	flags := cmd.Flags()

	if flags.Changed("host") {
		scfg.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		scfg.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("cors-origin") {
		scfg.CORSOrigin, _ = flags.GetString("cors-origin")
	}
	if flags.Changed("max-upload-size") {
		n, _ := flags.GetInt("max-upload-size")
		scfg.MaxUploadMB = int64(n)
	}
	if flags.Changed("timeout") {
		scfg.TimeoutSec, _ = flags.GetInt("timeout")
	}
	if flags.Changed("shutdown-timeout") {
		scfg.ShutdownTimeout, _ = flags.GetInt("shutdown-timeout")
	}
	if flags.Changed("rate-limit-enabled") {
		scfg.RateLimit.Enabled, _ = flags.GetBool("rate-limit-enabled")
	}
	if flags.Changed("requests-per-minute") {
		scfg.RateLimit.RequestsPerMinute, _ = flags.GetInt("requests-per-minute")
	}
	if flags.Changed("requests-per-hour") {
		scfg.RateLimit.RequestsPerHour, _ = flags.GetInt("requests-per-hour")
	}
	if flags.Changed("max-requests-per-day") {
		scfg.RateLimit.MaxRequestsPerDay, _ = flags.GetInt("max-requests-per-day")
	}
	if flags.Changed("max-data-per-day") {
		scfg.RateLimit.MaxDataPerDay, _ = flags.GetInt64("max-data-per-day")
	}
	if flags.Changed("trust-proxy") {
		scfg.RateLimit.TrustProxy, _ = flags.GetBool("trust-proxy")
	}

	if scfg.Port < 1 || scfg.Port > 65535 {
		return scfg, fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", scfg.Port)
	}
	if scfg.MaxUploadMB <= 0 {
		return scfg, fmt.Errorf("invalid max upload size: %d (must be positive)", scfg.MaxUploadMB)
	}
	return scfg, nil
}

func (a *cli) runServe(cmd *cobra.Command) error {
	scfg, err := a.serverConfig(cmd)
	if err != nil {
		return err
	}

	client, err := a.newClient()
	if err != nil {
		return err
	}
	ctrl, err := a.newController(client, pipeline.NewLogProgressCallback(a.logger, slog.LevelDebug))
	if err != nil {
		return err
	}
	defer func() { _ = ctrl.Close() }()

	srv := server.NewServer(scfg, ctrl, server.WithLogger(a.logger), server.WithProber(client))

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	go a.logSnapshots(ctx, ctrl)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", scfg.Host, scfg.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(scfg.TimeoutSec) * time.Second,
		// Long-lived WebSocket streams manage their own deadlines.
		WriteTimeout: 0,
	}

	go func() {
		a.logger.Info("Starting capture server", "host", scfg.Host, "port", scfg.Port,
			"endpoint", a.cfg.Recognition.Endpoint)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		a.logger.Info("Received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		a.logger.Info("Context cancelled, initiating shutdown")
	}

	a.logger.Info("Starting graceful shutdown", "timeout", fmt.Sprintf("%ds", scfg.ShutdownTimeout))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(scfg.ShutdownTimeout)*time.Second)
	defer shutdownCancel()

	// Shutdown HTTP server first
	a.logger.Info("Shutting down HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("HTTP server shutdown error", "error", err)
	} else {
		a.logger.Info("HTTP server shutdown completed")
	}

	// Closing the controller aborts an in-flight upload and ends WebSocket streams.
	a.logger.Info("Stopping pipeline")
	if err := ctrl.Close(); err != nil {
		a.logger.Error("Pipeline shutdown error", "error", err)
	}

	a.logger.Info("Graceful shutdown completed")
	return nil
}

// logSnapshots follows the controller's mailbox and logs state changes.
func (a *cli) logSnapshots(ctx context.Context, ctrl *pipeline.Controller) {
	updates := ctrl.Updates()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			a.logger.Debug("pipeline state", "seq", snap.Seq, "state", snap.State,
				"run_id", snap.RunID, "history", snap.HistoryLen)
		}
	}
}
