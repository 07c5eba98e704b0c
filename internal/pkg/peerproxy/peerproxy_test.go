package peerproxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/endorses/packhound/internal/pkg/cluster"
	"github.com/endorses/packhound/internal/pkg/peerauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProxy_Do_SignsAndForwardsRequest(t *testing.T) {
	var gotPath, gotToken string
	peerServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get(AuthHeader)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer peerServer.Close()

	resolver := cluster.New("node-a")
	resolver.UpdatePeers(map[string]cluster.Peer{
		"node-b": {Node: "node-b", ViewURL: peerServer.URL, Scheme: "http", Secret: "shared-secret"},
	})

	p := New(resolver)
	resp, err := p.Do(context.Background(), "node-b", Request{
		Method: http.MethodGet,
		Path:   "/sessions/abc",
		UserID: "alice",
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "/sessions/abc", gotPath)
	userID, err := peerauth.Verify("shared-secret", gotToken, "/sessions/abc")
	require.NoError(t, err)
	assert.Equal(t, "alice", userID)
}

func TestProxy_Do_UnknownNode(t *testing.T) {
	resolver := cluster.New("node-a")
	p := New(resolver)

	_, err := p.Do(context.Background(), "node-missing", Request{Method: http.MethodGet, Path: "/x"})
	assert.Error(t, err)
}

func TestProxy_Do_UnreachablePeerIsTransportError(t *testing.T) {
	resolver := cluster.New("node-a")
	resolver.UpdatePeers(map[string]cluster.Peer{
		"node-b": {Node: "node-b", ViewURL: "http://127.0.0.1:1", Scheme: "http", Secret: "s"},
	})

	p := New(resolver)
	_, err := p.Do(context.Background(), "node-b", Request{Method: http.MethodGet, Path: "/x"})
	require.Error(t, err)

	var transportErr *TransportError
	assert.ErrorAs(t, err, &transportErr)
}

func TestProxy_Forward_StreamsResponse(t *testing.T) {
	peerServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Custom", "peer-value")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("payload"))
	}))
	defer peerServer.Close()

	resolver := cluster.New("node-a")
	resolver.UpdatePeers(map[string]cluster.Peer{
		"node-b": {Node: "node-b", ViewURL: peerServer.URL, Scheme: "http", Secret: "s"},
	})
	p := New(resolver)

	rec := httptest.NewRecorder()
	err := p.Forward(context.Background(), rec, "node-b", Request{Method: http.MethodGet, Path: "/x"})
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "peer-value", rec.Header().Get("X-Custom"))
	body, _ := io.ReadAll(rec.Body)
	assert.Equal(t, "payload", string(body))
}
