package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/DCNick3/unsafe-track/internal/analysis"
	"github.com/DCNick3/unsafe-track/internal/config"
	"github.com/DCNick3/unsafe-track/internal/observability"
	"github.com/DCNick3/unsafe-track/internal/rustscan"
	"github.com/DCNick3/unsafe-track/internal/server"
	"github.com/DCNick3/unsafe-track/pkg/version"
)

const (
	// readHeaderTimeout guards against slowloris on the listener.
	readHeaderTimeout = 10 * time.Second

	// drainTimeout bounds graceful shutdown of in-flight requests.
	drainTimeout = 30 * time.Second
)

// ServeCommand holds flags for the web service command.
type ServeCommand struct {
	configPath string
}

// NewServeCommand creates the serve cobra command.
func NewServeCommand() *cobra.Command {
	sc := &ServeCommand{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chart web service",
		RunE: func(_ *cobra.Command, _ []string) error {
			return sc.run()
		},
	}

	cmd.Flags().StringVarP(&sc.configPath, "config", "c", "", "config file path")

	return cmd
}

func (sc *ServeCommand) run() error {
	cfg, err := config.Load(sc.configPath)
	if err != nil {
		return err
	}

	shutdown, err := observability.Init(observability.Config{
		ServiceVersion: version.Version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		LogLevel:       cfg.Telemetry.LogLevel,
		LogJSON:        cfg.Telemetry.LogJSON,
	})
	if err != nil {
		return err
	}

	ctx, stop := contextWithSignals()
	defer stop()

	defer func() { _ = shutdown(context.Background()) }() //nolint:errcheck // best-effort flush

	scanner, err := rustscan.New()
	if err != nil {
		return err
	}

	pipeline := analysis.NewPipeline(scanner, cfg.Cache.Entries)
	metrics := observability.NewMetrics()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.New(pipeline, metrics).Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		slog.Info("listening", "addr", httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err = <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down")

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	err = httpServer.Shutdown(drainCtx)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("drain: %w", err)
	}

	return nil
}
