package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/telegate/gwcore/gateway"
	"github.com/telegate/gwcore/gwconfig"
	"github.com/telegate/gwcore/logging"
	"github.com/telegate/gwcore/metrics"
)

// version is overridden at build time via -ldflags "-X ... cmd.version=...".
var version = "dev"

var runCMD = &cobra.Command{
	Use:   "run",
	Short: "run the gateway until interrupted",
	RunE:  runGateway,
}

func init() {
	runCMD.Flags().String("platform-url", "", "platform websocket URL (overrides the config file)")
	runCMD.Flags().String("custom-rpc-dir", "", "directory of custom RPC .js modules (overrides the config file)")
	runCMD.Flags().Bool("no-metrics", false, "don't start the Prometheus metrics listener")
	runCMD.Flags().String("metrics-addr", ":9090", "address the Prometheus metrics endpoint listens on")
	CMD.AddCommand(runCMD)
}

func runGateway(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	devicesPath, _ := cmd.Flags().GetString("devices")
	platformURL, _ := cmd.Flags().GetString("platform-url")
	customRPCDir, _ := cmd.Flags().GetString("custom-rpc-dir")
	noMetrics, _ := cmd.Flags().GetBool("no-metrics")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	cfg, _, err := gwconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("gwcore: load config: %w", err)
	}
	if customRPCDir != "" {
		cfg.CustomRPCDir = customRPCDir
	}
	if platformURL == "" {
		return fmt.Errorf("gwcore: --platform-url is required (no platform.url knob in the top-level config)")
	}

	var lvl slog.Level
	_ = lvl.UnmarshalText([]byte(cfg.Logging.Level))
	logging.Init(logging.Options{Level: lvl, NoColor: cfg.Logging.NoColor})

	if !noMetrics {
		handler, err := metrics.InitPrometheus()
		if err != nil {
			return fmt.Errorf("gwcore: init prometheus: %w", err)
		}
		if err := metrics.Init(); err != nil {
			return fmt.Errorf("gwcore: init metrics: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", handler)
		srv := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("gwcore: metrics listener stopped", "error", err)
			}
		}()
		defer srv.Close()
	}

	gw, err := gateway.New(gateway.Options{
		Config:         cfg,
		PlatformURL:    platformURL,
		Version:        version,
		ProcessControl: osProcessControl{},
		DevicesPath:    devicesPath,
	})
	if err != nil {
		return fmt.Errorf("gwcore: construct gateway: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := make(chan error, 1)
	go func() { runErr <- gw.Run(ctx) }()

	select {
	case <-ctx.Done():
		slog.Info("gwcore: shutdown signal received")
	case err := <-runErr:
		if err != nil {
			slog.Error("gwcore: gateway stopped unexpectedly", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return gw.Shutdown(shutdownCtx)
}
