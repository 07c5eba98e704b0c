// Package hunt is the standalone HuntEngine worker (spec §4.3): a node
// process that runs only the packet-hunt scheduler, for deployments
// that split HuntEngine onto its own workers rather than running it
// inside the combined `serve` process.
package hunt

import (
	"os/signal"
	"syscall"

	"github.com/endorses/packhound/internal/pkg/bootstrap"
	"github.com/endorses/packhound/internal/pkg/huntengine"
	"github.com/endorses/packhound/internal/pkg/logger"
	"github.com/endorses/packhound/internal/pkg/notify"
	"github.com/spf13/cobra"
)

var (
	configPath  string
	catalogPath string
	metricsAddr string
)

var HuntCmd = &cobra.Command{
	Use:   "hunt",
	Short: "Run the packet-hunt scheduler standalone",
	Long:  `Run HuntEngine's queued-hunt scheduler as its own process, without serving HttpFront.`,
	RunE:  run,
}

func init() {
	HuntCmd.Flags().StringVar(&configPath, "config", "", "config file path")
	HuntCmd.Flags().StringVar(&catalogPath, "catalog", "packhound-catalog.db", "local pcap catalog database path")
	HuntCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9091", "address to serve /metrics on")
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

	hub := notify.NewHub()
	engine := huntengine.New(node.Store, node.Pcap, node.Resolver, node.Proxy, hub, node.Metrics)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("hunt engine starting", "node", node.Resolver.NodeName())
	return engine.Run(ctx)
}
