package huntengine

import (
	"context"
	"fmt"

	"github.com/endorses/packhound/internal/pkg/esstore"
	"github.com/endorses/packhound/internal/pkg/model"
)

// SearchRemote is the receiving side of the peer hunt RPC (spec §6.2
// `GET /:node/hunt/:huntId/remote/:sessionId`): it loads huntID's
// search parameters on this, the owning node, and runs packetSearch
// locally against sessionID. HttpFront calls this directly rather than
// through the scheduler, since the RPC is answered synchronously from
// whichever node owns the session.
func (e *Engine) SearchRemote(ctx context.Context, huntID, sessionID string) (bool, error) {
	var hunt model.Hunt
	if err := e.store.Get(ctx, esstore.IndexHunts, huntID, &hunt); err != nil {
		return false, fmt.Errorf("load hunt %s: %w", huntID, err)
	}
	searcher, err := compilePacketSearch(hunt)
	if err != nil {
		return false, fmt.Errorf("compile packet search for hunt %s: %w", huntID, err)
	}
	return e.searchLocal(ctx, sessionID, searcher, hunt.Src, hunt.Dst)
}
