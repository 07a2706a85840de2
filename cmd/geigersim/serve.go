package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/geigersim/internal/peripheral"
	"github.com/srg/geigersim/internal/registry"
	"github.com/srg/geigersim/internal/transport/goble"
	"github.com/srg/geigersim/pkg/config"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Advertise the sensor service on the local Bluetooth radio",
	Long: `Runs the sensor as a BLE peripheral until interrupted.

Examples:
  # Advertise the built-in radiation sensor
  geigersim serve

  # Advertise under another name with a deeper transmit queue
  geigersim serve --name "Bench Geiger" --tx-queue 32

  # Serve a custom catalog
  geigersim serve --catalog sensor.yaml --log-level debug`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveCatalog   string
	serveName      string
	serveTxQueue   uint32
	serveReadDelay time.Duration
	serveVerbose   bool
)

func init() {
	defaults := config.DefaultConfig()
	serveCmd.Flags().StringVar(&serveCatalog, "catalog", "", "Catalog YAML file (built-in sensor catalog by default)")
	serveCmd.Flags().StringVar(&serveName, "name", "", "Advertised local name (overrides the catalog)")
	serveCmd.Flags().Uint32Var(&serveTxQueue, "tx-queue", defaults.TxQueueSize, "Notifications in flight per characteristic")
	serveCmd.Flags().DurationVar(&serveReadDelay, "read-delay", defaults.ReadCompleteDelay, "Delay between a read response and its follow-up notification")
	serveCmd.Flags().BoolVar(&serveVerbose, "verbose", false, "Enable debug logging")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := config.DefaultConfig()
	cfg.CatalogPath = serveCatalog
	cfg.LocalName = serveName
	cfg.TxQueueSize = serveTxQueue
	cfg.ReadCompleteDelay = serveReadDelay
	if cfg.TxQueueSize == 0 {
		return fmt.Errorf("--tx-queue must be at least 1")
	}

	logger, err := configureLogger(cmd, cfg, "verbose")
	if err != nil {
		return err
	}
	cat, reg, err := loadRegistry(cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	tr := goble.New(goble.Options{
		QueueSize:         cfg.TxQueueSize,
		ReadCompleteDelay: cfg.ReadCompleteDelay,
		Logger:            logger,
	})
	p := peripheral.New(reg, tr, peripheral.Options{
		ServiceUUID: cat.Service,
		LocalName:   cat.Name,
		Logger:      logger,
		Status: peripheral.StatusFunc(func(msg string) {
			fmt.Fprintln(out, msg)
		}),
		OnFault: func(err error) {
			logger.WithError(err).Error("Notification delivery fault")
		},
	})

	if err := tr.Open(); err != nil {
		return err
	}
	if !p.Advertising() {
		if err := tr.Close(); err != nil {
			logger.WithError(err).Warn("Failed to release radio after failed start")
		}
		return fmt.Errorf("%w: %s", ErrServiceNotStarted, cat.Name)
	}

	logger.WithFields(logrus.Fields{
		"service":         cat.Service,
		"characteristics": reg.Len(),
	}).Info("Peripheral running")
	fmt.Fprintf(out, "Advertising %q (service %s), press Ctrl+C to stop\n", cat.Name, cat.Service)

	<-ctx.Done()

	closeErr := tr.Close()
	writeStats(out, p.Stats())
	return closeErr
}

// loadRegistry resolves the configured catalog into a registry.
func loadRegistry(cfg *config.Config) (*config.Catalog, *registry.Registry, error) {
	cat, err := cfg.LoadCatalog()
	if err != nil {
		return nil, nil, err
	}
	reg, err := cat.Registry()
	if err != nil {
		return nil, nil, err
	}
	return cat, reg, nil
}

func writeStats(w io.Writer, stats peripheral.Stats) {
	fmt.Fprintf(w, "Sent %d, rejected %d, faults %d, cycles %d, malformed %d, unknown %d\n",
		stats.Engine.Sent, stats.Engine.Rejected, stats.Engine.Faults, stats.Engine.Cycles,
		stats.Dispatch.Malformed, stats.Dispatch.Unknown+stats.Engine.Unknown)
}
