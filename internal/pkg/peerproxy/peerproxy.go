// Package peerproxy implements PeerProxy (spec §2, §4.1): forwarding a
// request to the node that owns the session it addresses, with signed
// peer authentication, pooled HTTP(S) clients keyed by scheme, and a
// per-peer circuit breaker so a node that is down is not hammered on
// every hunt tick (SPEC_FULL "Circuit breaking for unreachable peers",
// grounded on the teacher's connection-manager breaker shape).
package peerproxy

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/endorses/packhound/internal/pkg/circuitbreaker"
	"github.com/endorses/packhound/internal/pkg/cluster"
	"github.com/endorses/packhound/internal/pkg/logger"
	"github.com/endorses/packhound/internal/pkg/peerauth"
)

// AuthHeader is the header name carrying a signed peer token (spec
// §4.1, §6.1-6.3).
const AuthHeader = "x-moloch-auth"

// TransportError is returned when the peer could not be reached at
// all (dial/timeout failure), distinct from a non-2xx response the
// peer itself returned. Hunt/cron callers route TransportErrors into
// their retry layers (spec §7 "Transport").
type TransportError struct {
	Node string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("peerproxy: unreachable node %q: %v", e.Node, e.Err)
}
func (e *TransportError) Unwrap() error { return e.Err }

// Proxy forwards requests to peer nodes, one pooled *http.Client per
// scheme (spec §4.1 step 3, §5 "HTTP client connection pools: one per
// target scheme; reused across all proxied requests").
type Proxy struct {
	resolver *cluster.Resolver

	mu      sync.Mutex
	clients map[string]*http.Client // scheme -> pooled client
	breakers map[string]*circuitbreaker.CircuitBreaker // node -> breaker
}

// New builds a Proxy routing through resolver's fleet map.
func New(resolver *cluster.Resolver) *Proxy {
	return &Proxy{
		resolver: resolver,
		clients:  make(map[string]*http.Client),
		breakers: make(map[string]*circuitbreaker.CircuitBreaker),
	}
}

func (p *Proxy) clientFor(scheme, caCert string) (*http.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[scheme]; ok {
		return c, nil
	}

	transport := &http.Transport{
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     90 * time.Second,
	}
	if scheme == "https" {
		pool, err := systemPoolWithCA(caCert)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: pool}
	}
	client := &http.Client{Transport: transport, Timeout: 20 * time.Minute}
	p.clients[scheme] = client
	return client, nil
}

func systemPoolWithCA(caCertPath string) (*x509.CertPool, error) {
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if caCertPath == "" {
		return pool, nil
	}
	pem, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("read peer CA cert %s: %w", caCertPath, err)
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("parse peer CA cert %s", caCertPath)
	}
	return pool, nil
}

func (p *Proxy) breakerFor(node string) *circuitbreaker.CircuitBreaker {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.breakers[node]; ok {
		return b
	}
	b := circuitbreaker.New(circuitbreaker.Config{
		Name:         "peer:" + node,
		MaxFailures:  5,
		ResetTimeout: 30 * time.Second,
	})
	p.breakers[node] = b
	return b
}

// Request is the minimal shape PeerProxy needs out of an inbound HTTP
// request: method, path+query to replay against the peer, and a body
// (streamed through unchanged, per spec §4.1 step 2).
type Request struct {
	Method string
	Path   string // includes query string
	Body   io.Reader
	Header http.Header
	UserID string // for the peer auth token's userId claim
}

// Do forwards req to ownerNode and returns the peer's raw response
// (spec §4.1 "PeerProxy.forward"). The caller streams resp.Body back
// to its own client and must Close it.
func (p *Proxy) Do(ctx context.Context, ownerNode string, req Request) (*http.Response, error) {
	peer, ok := p.resolver.Peer(ownerNode)
	if !ok {
		return nil, fmt.Errorf("peerproxy: no routing info for node %q", ownerNode)
	}

	client, err := p.clientFor(peer.Scheme, peer.CACert)
	if err != nil {
		return nil, fmt.Errorf("peerproxy: build client for %s: %w", ownerNode, err)
	}

	token, err := peerauth.Sign(peer.Secret, req.UserID, req.Path)
	if err != nil {
		return nil, fmt.Errorf("peerproxy: sign token for %s: %w", ownerNode, err)
	}

	url := peer.ViewURL + req.Path
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, req.Body)
	if err != nil {
		return nil, fmt.Errorf("peerproxy: build request to %s: %w", ownerNode, err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set(AuthHeader, token)

	breaker := p.breakerFor(ownerNode)
	var resp *http.Response
	err = breaker.Call(func() error {
		r, doErr := client.Do(httpReq)
		if doErr != nil {
			return doErr
		}
		resp = r
		return nil
	})
	if err != nil {
		logger.Warn("peer proxy request failed", "node", ownerNode, "path", req.Path, "error", err)
		return nil, &TransportError{Node: ownerNode, Err: err}
	}
	return resp, nil
}

// Forward streams req's response straight through to w, the HttpFront
// path used for user-facing session-scoped endpoints that land on a
// non-owning node (spec §4.1 "PeerProxy.forward" steps 2-4).
func (p *Proxy) Forward(ctx context.Context, w http.ResponseWriter, ownerNode string, req Request) error {
	resp, err := p.Do(ctx, ownerNode, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, err = io.Copy(w, resp.Body)
	return err
}
