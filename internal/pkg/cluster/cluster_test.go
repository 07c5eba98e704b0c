package cluster

import (
	"testing"

	"github.com/endorses/packhound/internal/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_IsLocal(t *testing.T) {
	r := New("node-a")

	assert.True(t, r.IsLocal("node-a"))
	assert.False(t, r.IsLocal("node-b"))
}

func TestResolver_Resolve(t *testing.T) {
	r := New("node-a")
	sess := model.Session{Node: "node-b"}

	assert.Equal(t, "node-b", r.Resolve(sess))
}

func TestResolver_UpdatePeersAndLookup(t *testing.T) {
	r := New("node-a")

	_, ok := r.Peer("node-b")
	require.False(t, ok)

	r.UpdatePeers(map[string]Peer{
		"node-b": {Node: "node-b", ViewURL: "https://node-b:8005", Scheme: "https", Secret: "s3cr3t"},
	})

	p, ok := r.Peer("node-b")
	require.True(t, ok)
	assert.Equal(t, "https://node-b:8005", p.ViewURL)
	assert.Equal(t, "s3cr3t", p.Secret)

	// a second UpdatePeers wholesale-replaces rather than merges
	r.UpdatePeers(map[string]Peer{
		"node-c": {Node: "node-c"},
	})
	_, ok = r.Peer("node-b")
	assert.False(t, ok)
	_, ok = r.Peer("node-c")
	assert.True(t, ok)
}

func TestResolver_Nodes(t *testing.T) {
	r := New("node-a")
	r.UpdatePeers(map[string]Peer{
		"node-b": {Node: "node-b"},
		"node-c": {Node: "node-c"},
	})

	nodes := r.Nodes()
	assert.Len(t, nodes, 3)
	assert.Contains(t, nodes, "node-a")
	assert.Contains(t, nodes, "node-b")
	assert.Contains(t, nodes, "node-c")
	// own node name is always first
	assert.Equal(t, "node-a", nodes[0])
}
