// Package expire is the standalone ExpiryEngine worker (spec §4.5): a
// node process that reclaims disk space under configured PCAP
// directories on a 60-second tick.
package expire

import (
	"os/signal"
	"syscall"

	"github.com/endorses/packhound/internal/pkg/bootstrap"
	"github.com/endorses/packhound/internal/pkg/expiry"
	"github.com/endorses/packhound/internal/pkg/logger"
	"github.com/spf13/cobra"
)

var (
	configPath  string
	catalogPath string
	metricsAddr string
)

var ExpireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Run the PCAP expiry reclaimer standalone",
	Long:  `Run ExpiryEngine's free-space-driven deletion loop as its own process.`,
	RunE:  run,
}

func init() {
	ExpireCmd.Flags().StringVar(&configPath, "config", "", "config file path")
	ExpireCmd.Flags().StringVar(&catalogPath, "catalog", "packhound-catalog.db", "local pcap catalog database path")
	ExpireCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9093", "address to serve /metrics on")
}

func run(cmd *cobra.Command, args []string) error {
	logger.Initialize()

	node, err := bootstrap.New(bootstrap.Options{ConfigPath: configPath, CatalogPath: catalogPath})
	if err != nil {
		return err
	}
	defer node.Close()

	if err := node.Metrics.Serve(metricsAddr); err != nil {
		return err
	}

	cfg := node.Config.Get()
	targets := make([]expiry.Target, 0, len(cfg.PcapDir))
	for _, dir := range cfg.PcapDir {
		targets = append(targets, expiry.Target{Dirs: []string{dir}, FreeSpaceG: cfg.FreeSpaceG})
	}

	engine := expiry.New(node.Catalog, cfg.NodeName, targets, node.Metrics)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("expiry engine starting", "node", cfg.NodeName, "targets", len(targets))
	return engine.Run(ctx)
}
