package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"webpilot/internal/action"
	"webpilot/internal/capture"
	"webpilot/internal/config"
	"webpilot/internal/console"
	"webpilot/internal/guard"
	"webpilot/internal/logging"
	"webpilot/internal/procctl"
	"webpilot/internal/server"
	"webpilot/internal/session"
)

var (
	// Global flags
	configPath string
	listenAddr string
	debugPort  int
	verbose    bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "webpilot",
	Short: "webpilot - browser control plane over the remote-debugging protocol",
	Long: `webpilot drives one externally-visible Chrome instance through its
remote-debugging endpoint, exposing primitive interaction and inspection
operations (navigate, click, type, scroll, drag, capture) as a JSON/HTTP API
for automation agents.

The browser keeps its own window, profile, and lifetime; webpilot attaches,
acts, and detaches.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control-plane HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("webpilot 1.0.0")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&listenAddr, "listen", "", "listen address override")
	rootCmd.PersistentFlags().IntVar(&debugPort, "port", 0, "default browser debugging port override")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if debugPort > 0 {
		cfg.Browser.DebuggingPort = debugPort
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Dev)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	devtools := procctl.NewDevToolsClient()
	supervisor := procctl.NewSupervisor(log, devtools, procctl.NewExecController(log), cfg.Timeouts.LaunchSettle)

	connector := session.NewConnector(log, devtools)
	connector.SetBackoff(cfg.Timeouts.RetryBackoff)

	g := guard.New(log, connector, cfg.Timeouts.RetryAttempts, cfg.Timeouts.RetryBackoff, cfg.Timeouts.DialogPoll)

	bridge := console.NewBridge(log)
	injector := action.NewXdoInjector(log, cfg.Browser.Display)
	executor := action.NewExecutor(log, bridge, injector, cfg.Timeouts.Navigation)
	engine := capture.NewEngine(log, cfg.Timeouts.Navigation, cfg.Browser.Display)

	srv := server.New(log, cfg, supervisor, g, executor, engine, bridge)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(srv.Start)
	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if configPath != "" {
		group.Go(func() error {
			// Log-level changes apply on the fly; structural changes need a
			// restart and are only reported.
			return config.Watch(gctx, configPath, log, func(next config.Config) {
				log.Info("configuration file changed",
					zap.String("level", next.Logging.Level))
			})
		})
	}

	log.Info("webpilot starting",
		zap.String("listen", cfg.ListenAddr),
		zap.Int("default_port", cfg.Browser.DebuggingPort),
		zap.String("display", cfg.Browser.Display))

	if err := group.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
