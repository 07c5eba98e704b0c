package cronengine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/endorses/packhound/internal/pkg/esstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeNode(t *testing.T) {
	src, err := json.Marshal(map[string]any{"node": "node-a"})
	require.NoError(t, err)

	assert.Equal(t, "node-a", decodeNode(esstore.Hit{Source: src}))
	assert.Equal(t, "", decodeNode(esstore.Hit{Source: []byte(`not json`)}))
}

type countingForwarder struct {
	mu         sync.Mutex
	current    map[string]int
	maxForNode map[string]int
	calls      atomic.Int64
	failOn     string
}

func newCountingForwarder() *countingForwarder {
	return &countingForwarder{current: map[string]int{}, maxForNode: map[string]int{}}
}

func (f *countingForwarder) Forward(ctx context.Context, cluster, sessionID string) error {
	f.calls.Add(1)

	node := sessionID // tests key sessionID == node for simplicity
	f.mu.Lock()
	f.current[node]++
	if f.current[node] > f.maxForNode[node] {
		f.maxForNode[node] = f.current[node]
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.current[node]--
		f.mu.Unlock()
	}()

	if sessionID == f.failOn {
		return errors.New("boom")
	}
	return nil
}

func hitsFor(nodeSessions map[string]int) []esstore.Hit {
	var hits []esstore.Hit
	for node, n := range nodeSessions {
		for i := 0; i < n; i++ {
			src, _ := json.Marshal(map[string]any{"node": node})
			hits = append(hits, esstore.Hit{ID: node, Source: src})
		}
	}
	return hits
}

func TestForwardBatch_RespectsPerNodeConcurrency(t *testing.T) {
	fwd := newCountingForwarder()
	e := &Engine{forwarder: fwd}

	hits := hitsFor(map[string]int{"node-a": forwardPerNodeConcurrency * 2})

	require.NoError(t, e.forwardBatch(context.Background(), "remote-dc", hits))

	fwd.mu.Lock()
	defer fwd.mu.Unlock()
	assert.LessOrEqual(t, fwd.maxForNode["node-a"], forwardPerNodeConcurrency)
	assert.EqualValues(t, forwardPerNodeConcurrency*2, fwd.calls.Load())
}

func TestForwardBatch_ReturnsFirstError(t *testing.T) {
	fwd := newCountingForwarder()
	fwd.failOn = "node-a"
	e := &Engine{forwarder: fwd}

	hits := hitsFor(map[string]int{"node-a": 1})

	err := e.forwardBatch(context.Background(), "remote-dc", hits)
	assert.Error(t, err)
}
