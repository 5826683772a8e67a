package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shelffs/shelf/internal/deviceid"
	"github.com/shelffs/shelf/internal/logger"
	"github.com/shelffs/shelf/internal/telemetry"
	"github.com/shelffs/shelf/pkg/config"
	"github.com/shelffs/shelf/pkg/connection"
	"github.com/shelffs/shelf/pkg/connection/tcp"
	"github.com/shelffs/shelf/pkg/httpapi"
	"github.com/shelffs/shelf/pkg/library"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the shelfd daemon",
	Long: `Run the shelfd daemon in the foreground: opens the library, starts
listening for paired devices on network.listen_addr, and runs until
interrupted.

Use --config to point at a non-default configuration file.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	localDeviceID, err := deviceid.LoadOrCreate(filepath.Join(config.DefaultConfigDir(), "device-id"))
	if err != nil {
		return fmt.Errorf("load device id: %w", err)
	}
	logger.Info("shelfd starting", "device_id", localDeviceID, "listen_addr", cfg.Network.ListenAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "shelfd",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("telemetry shutdown error", "error", err)
		}
	}()

	shutdownProfiling, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "shelfd",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("init profiling: %w", err)
	}
	defer func() {
		if err := shutdownProfiling(); err != nil {
			logger.Warn("profiling shutdown error", "error", err)
		}
	}()

	addresses := tcp.NewStaticAddressBook()
	transport := tcp.New(localDeviceID, addresses)

	var handler connection.RequestHandler // wired to pkg/transfer once a request routing layer exists

	lib, err := library.Open(ctx, localDeviceID, cfg, library.Options{
		Transport:      transport,
		RequestHandler: handler,
	})
	if err != nil {
		return fmt.Errorf("open library: %w", err)
	}
	defer func() {
		if err := lib.Close(); err != nil {
			logger.Error("library close error", "error", err)
		}
	}()

	tcpListener := tcp.NewListener(cfg.Network.ListenAddr, localDeviceID, lib.Conn)
	serveErr := make(chan error, 1)
	go func() { serveErr <- tcpListener.Serve(ctx) }()

	var httpErr <-chan error
	if cfg.Admin.MetricsEnabled {
		httpSrv := httpapi.NewServer(cfg.Admin.MetricsPort, lib.DB, lib.Pool)
		ch := make(chan error, 1)
		go func() { ch <- httpSrv.Start(ctx) }()
		httpErr = ch
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	logger.Info("shelfd is running, press Ctrl+C to stop")

	select {
	case <-sigCh:
		logger.Info("shutdown signal received")
		cancel()
		if err := tcpListener.Close(); err != nil {
			logger.Warn("tcp listener close error", "error", err)
		}
		<-serveErr
	case err := <-serveErr:
		cancel()
		if err != nil {
			return fmt.Errorf("tcp listener: %w", err)
		}
	case err := <-httpErr:
		cancel()
		if err != nil {
			return fmt.Errorf("httpapi server: %w", err)
		}
	}

	logger.Info("shelfd stopped")
	return nil
}
