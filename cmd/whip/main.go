// Command whip runs a single WHIP asset-storage node: it loads a
// properties config file, wires up the VFS backend, cache, mesh, and
// replication workers, and serves the client and intramesh protocols
// until an interrupt or terminate signal requests a clean shutdown.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/whip/pkg/config"
	"github.com/cuemby/whip/pkg/log"
	"github.com/cuemby/whip/pkg/metrics"
	"github.com/cuemby/whip/pkg/server"
	"github.com/spf13/cobra"
)

// Version information, set via ldflags during build.
var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "whip: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "whip [config-file]",
	Short:   "whip - content-addressed binary blob storage node",
	Args:    cobra.MaximumNArgs(1),
	Version: Version,
	RunE:    runNode,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("whip version %s (%s)\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.Flags().String("metrics-addr", "", "Address to serve Prometheus metrics on (e.g. 127.0.0.1:9090); disabled if empty")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func runNode(cmd *cobra.Command, args []string) error {
	path := "whip.cfg"
	if len(args) == 1 {
		path = args[0]
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if errPath := cfg.ErrorLogPath(); errPath != "" {
		logLevel, _ := cmd.Flags().GetString("log-level")
		logJSON, _ := cmd.Flags().GetBool("log-json")
		flusher := log.NewErrorFileFlusher(errPath, 5*time.Second)
		flusher.Start()
		defer flusher.Stop()
		log.Init(log.Config{
			Level:      log.Level(logLevel),
			JSONOutput: logJSON,
			ErrorSink:  flusher,
		})
	}

	logger := log.WithComponent("server")

	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	if metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				logger.Warn().Err(err).Msg("metrics server stopped")
			}
		}()
		logger.Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")
	}

	s, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return s.Run(ctx)
}
