// Package serve starts the combined node process: HttpFront plus the
// HuntEngine, CronEngine, and ExpiryEngine singletons running inside
// the same process, the all-in-one deployment shape most nodes in a
// small fleet use.
package serve

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/endorses/packhound/internal/pkg/bootstrap"
	"github.com/endorses/packhound/internal/pkg/cronengine"
	"github.com/endorses/packhound/internal/pkg/esstore"
	"github.com/endorses/packhound/internal/pkg/expiry"
	"github.com/endorses/packhound/internal/pkg/httpfront"
	"github.com/endorses/packhound/internal/pkg/huntengine"
	"github.com/endorses/packhound/internal/pkg/logger"
	"github.com/endorses/packhound/internal/pkg/model"
	"github.com/endorses/packhound/internal/pkg/notify"
	"github.com/spf13/cobra"
)

// directUserResolver looks up cron query creators straight from
// SessionStore; httpfront's own request-path user cache (TTL, keyed
// for the auth chain) isn't needed to boot CronEngine.
type directUserResolver struct{ store *esstore.Store }

func (r directUserResolver) Get(ctx context.Context, userID string) (model.User, error) {
	var u model.User
	err := r.store.Get(ctx, esstore.IndexUsers, userID, &u)
	return u, err
}

var (
	configPath  string
	catalogPath string
	metricsAddr string
)

var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HttpFront with the hunt, cron, and expiry engines embedded",
	Long:  `Run the combined node process: HttpFront's API plus HuntEngine, CronEngine, and ExpiryEngine all sharing this process's collaborators.`,
	RunE:  run,
}

func init() {
	ServeCmd.Flags().StringVar(&configPath, "config", "", "config file path")
	ServeCmd.Flags().StringVar(&catalogPath, "catalog", "packhound-catalog.db", "local pcap catalog database path")
	ServeCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address to serve /metrics on")
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
	defer node.Metrics.Shutdown(context.Background())

	if err := node.Config.Start(); err != nil {
		return err
	}
	defer node.Config.Stop()

	cfg := node.Config.Get()
	hub := notify.NewHub()

	huntEngine := huntengine.New(node.Store, node.Pcap, node.Resolver, node.Proxy, hub, node.Metrics)
	cronEngine := cronengine.New(node.Store, directUserResolver{store: node.Store}, cronengine.NewRemoteForwarder(node.Store, node.Pcap, cfg.NodeName, cfg.RemoteClusters), hub, node.Metrics)
	front := httpfront.New(node.Config, node.Store, node.Pcap, node.Catalog, node.Resolver, node.Proxy, huntEngine, cronEngine, hub)

	targets := make([]expiry.Target, 0, len(cfg.PcapDir))
	for _, dir := range cfg.PcapDir {
		targets = append(targets, expiry.Target{Dirs: []string{dir}, FreeSpaceG: cfg.FreeSpaceG})
	}
	expiryEngine := expiry.New(node.Catalog, cfg.NodeName, targets, node.Metrics)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	runEngine := func(name string, run func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("engine stopped with error", "engine", name, "error", err)
			}
		}()
	}
	runEngine("hunt", huntEngine.Run)
	runEngine("cron", cronEngine.Run)
	runEngine("expire", expiryEngine.Run)

	addr := cfg.ViewHost + ":" + strconv.Itoa(cfg.ViewPort)
	server := &http.Server{Addr: addr, Handler: front.Mux()}

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("httpfront listening", "addr", addr, "https", cfg.IsHTTPS())
	var serveErr error
	if cfg.IsHTTPS() {
		serveErr = server.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
	} else {
		serveErr = server.ListenAndServe()
	}
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}

	wg.Wait()
	return nil
}
