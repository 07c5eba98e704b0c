// Package cron is the standalone CronEngine worker (spec §4.4): a node
// process that runs only the repeating-query scheduler.
package cron

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/endorses/packhound/internal/pkg/bootstrap"
	"github.com/endorses/packhound/internal/pkg/cronengine"
	"github.com/endorses/packhound/internal/pkg/esstore"
	"github.com/endorses/packhound/internal/pkg/logger"
	"github.com/endorses/packhound/internal/pkg/model"
	"github.com/endorses/packhound/internal/pkg/notify"
	"github.com/spf13/cobra"
)

var (
	configPath  string
	catalogPath string
	metricsAddr string
)

var CronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Run the repeating-query scheduler standalone",
	Long:  `Run CronEngine's 60-second query scheduler as its own process, without serving HttpFront.`,
	RunE:  run,
}

func init() {
	CronCmd.Flags().StringVar(&configPath, "config", "", "config file path")
	CronCmd.Flags().StringVar(&catalogPath, "catalog", "packhound-catalog.db", "local pcap catalog database path")
	CronCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9092", "address to serve /metrics on")
}

// directUserResolver looks up cron query creators straight from
// SessionStore, without the HTTP-facing TTL cache HttpFront keeps
// (spec §5's user cache is a PeerProxy/HttpFront request-path
// optimization; a standalone cron worker has no request path to
// amortize it over).
type directUserResolver struct{ store *esstore.Store }

func (r directUserResolver) Get(ctx context.Context, userID string) (model.User, error) {
	var u model.User
	err := r.store.Get(ctx, esstore.IndexUsers, userID, &u)
	return u, err
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
	hub := notify.NewHub()
	forwarder := cronengine.NewRemoteForwarder(node.Store, node.Pcap, cfg.NodeName, cfg.RemoteClusters)
	engine := cronengine.New(node.Store, directUserResolver{store: node.Store}, forwarder, hub, node.Metrics)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("cron engine starting", "node", cfg.NodeName)
	return engine.Run(ctx)
}
