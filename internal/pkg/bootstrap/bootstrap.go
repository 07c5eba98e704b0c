// Package bootstrap wires the collaborators shared by every cmd/
// subcommand (serve, hunt, cron, expire) from a loaded config.Watcher:
// the Elasticsearch client, SessionStore, PcapStore, NodeResolver,
// PeerProxy, local file catalog, and metrics registry. Grounded on the
// teacher's cmd/sniff wiring style of building collaborators in the
// command package itself, generalized here into one shared builder so
// the four node processes do not each repeat the same construction.
package bootstrap

import (
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/endorses/packhound/internal/pkg/catalog"
	"github.com/endorses/packhound/internal/pkg/cluster"
	"github.com/endorses/packhound/internal/pkg/config"
	"github.com/endorses/packhound/internal/pkg/esstore"
	"github.com/endorses/packhound/internal/pkg/metrics"
	"github.com/endorses/packhound/internal/pkg/pcapstore"
	"github.com/endorses/packhound/internal/pkg/peerproxy"
)

// Node bundles every collaborator a node process needs, independent of
// which engines that process actually runs.
type Node struct {
	Config   *config.Watcher
	Store    *esstore.Store
	Catalog  *catalog.Catalog
	Pcap     *pcapstore.Store
	Resolver *cluster.Resolver
	Proxy    *peerproxy.Proxy
	Metrics  *metrics.Registry
}

// Options configures which catalog database file to open; every other
// collaborator is derived entirely from the loaded config.
type Options struct {
	ConfigPath  string
	CatalogPath string
}

// New loads configuration and builds every shared collaborator.
func New(opt Options) (*Node, error) {
	watcher, err := config.Load(opt.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg := watcher.Get()

	es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: cfg.Elasticsearch})
	if err != nil {
		return nil, fmt.Errorf("build elasticsearch client: %w", err)
	}
	store := esstore.New(es)

	cat, err := catalog.Open(opt.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	resolver := cluster.New(cfg.NodeName)
	resolver.UpdatePeers(peerMap(cfg))
	watcher.OnChange(func(c config.Config) { resolver.UpdatePeers(peerMap(c)) })

	proxy := peerproxy.New(resolver)
	pcap := pcapstore.New(cat)

	node := &Node{
		Config:   watcher,
		Store:    store,
		Catalog:  cat,
		Pcap:     pcap,
		Resolver: resolver,
		Proxy:    proxy,
		Metrics:  metrics.New(),
	}
	return node, nil
}

func peerMap(cfg config.Config) map[string]cluster.Peer {
	out := make(map[string]cluster.Peer, len(cfg.Peers))
	for name, p := range cfg.Peers {
		out[name] = cluster.Peer{Node: name, ViewURL: p.ViewURL, Scheme: p.Scheme, CACert: p.CACert, Secret: p.Secret}
	}
	return out
}

// Close releases the catalog's underlying sqlite connection.
func (n *Node) Close() error {
	return n.Catalog.Close()
}
