package httpfront

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/endorses/packhound/internal/pkg/config"
	"github.com/endorses/packhound/internal/pkg/esstore"
	"github.com/endorses/packhound/internal/pkg/model"
	"github.com/endorses/packhound/internal/pkg/peerauth"
	"github.com/endorses/packhound/internal/pkg/peerproxy"
)

// authUser is the authenticated principal a handler acts on behalf of.
type authUser struct {
	model.User
	IsAdmin bool
}

var errAuthFailed = errors.New("authentication failed")

// authenticate runs the auth chain in priority order (spec §4.6 "Auth
// chain"): a signed peer token grants trust without a user lookup for
// node-to-node paths; otherwise a username header (with an optional
// required-header check), HTTP Basic digest against the user's stored
// password hash, or — only when regressionTests is set — anonymous
// access as a fixed test user.
func (f *Front) authenticate(r *http.Request, cfg config.Config) (authUser, error) {
	if token := r.Header.Get(peerproxy.AuthHeader); token != "" {
		userID, err := peerauth.Verify(cfg.ServerSecret, token, r.URL.Path)
		if err != nil {
			return authUser{}, fmt.Errorf("%w: %v", errAuthFailed, err)
		}
		if userID == "" {
			// Pure node-to-node call: trusted, not acting as any user.
			return authUser{User: model.User{UserID: "peer", Enabled: true, Admin: true}, IsAdmin: true}, nil
		}
		return f.loadUser(r.Context(), userID)
	}

	if cfg.UserNameHeader != "" {
		userID := r.Header.Get(cfg.UserNameHeader)
		if userID == "" {
			return authUser{}, fmt.Errorf("%w: missing %s header", errAuthFailed, cfg.UserNameHeader)
		}
		if cfg.RequiredAuthHeader != "" && r.Header.Get(cfg.RequiredAuthHeader) != cfg.RequiredAuthHeaderVal {
			return authUser{}, fmt.Errorf("%w: required auth header mismatch", errAuthFailed)
		}
		return f.loadUser(r.Context(), userID)
	}

	if userID, pass, ok := r.BasicAuth(); ok {
		u, err := f.loadUser(r.Context(), userID)
		if err != nil {
			return authUser{}, err
		}
		if !verifyPassword(cfg.PasswordSecret, userID, pass, u.PassStore) {
			return authUser{}, fmt.Errorf("%w: bad password", errAuthFailed)
		}
		return u, nil
	}

	if cfg.RegressionTests {
		return authUser{User: model.User{UserID: "regressionTestUser", Enabled: true, CreateEnabled: true,
			PacketSearch: true, RemoveEnabled: true, Admin: true}, IsAdmin: true}, nil
	}

	return authUser{}, fmt.Errorf("%w: no credentials presented", errAuthFailed)
}

// verifyPassword checks pass against passStore, an HMAC-SHA256 digest
// of "userID:password" keyed by the node's passwordSecret (spec §6.5
// `passwordSecret`). Grounded on peerauth's HKDF/AEAD-keying style for
// secret-derived cryptography, using HMAC instead of sealing since this
// only needs a one-way comparison, not a reversible token.
func verifyPassword(secret, userID, pass, passStore string) bool {
	if passStore == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(userID + ":" + pass))
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(passStore))
}

// HashPassword computes the passStore digest verifyPassword checks,
// used by user creation/update handlers.
func HashPassword(secret, userID, pass string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(userID + ":" + pass))
	return hex.EncodeToString(mac.Sum(nil))
}

func (f *Front) loadUser(ctx context.Context, userID string) (authUser, error) {
	u, err := f.users.get(ctx, userID)
	if err != nil {
		return authUser{}, fmt.Errorf("%w: unknown user %q", errAuthFailed, userID)
	}
	if !u.Enabled {
		return authUser{}, fmt.Errorf("%w: user %q disabled", errAuthFailed, userID)
	}
	return authUser{User: u, IsAdmin: u.Admin}, nil
}

// userCache is the process-wide user lookup cache (spec §5 "User cache
// and lookup-table cache: process-wide LRU-ish maps with TTL;
// invalidated on user mutation endpoints").
type userCache struct {
	store *esstore.Store
	ttl   time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	user    model.User
	expires time.Time
}

func newUserCache(store *esstore.Store) *userCache {
	return &userCache{store: store, ttl: 60 * time.Second, entries: make(map[string]cacheEntry)}
}

func (c *userCache) get(ctx context.Context, userID string) (model.User, error) {
	c.mu.Lock()
	if e, ok := c.entries[userID]; ok && time.Now().Before(e.expires) {
		c.mu.Unlock()
		return e.user, nil
	}
	c.mu.Unlock()

	var u model.User
	if err := c.store.Get(ctx, esstore.IndexUsers, userID, &u); err != nil {
		return model.User{}, err
	}

	c.mu.Lock()
	c.entries[userID] = cacheEntry{user: u, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
	return u, nil
}

// invalidate drops a cached entry, called by the user mutation
// endpoints (spec §5 "invalidated on user mutation endpoints").
func (c *userCache) invalidate(userID string) {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
}

// cronUserResolver adapts esstore+userCache to cronengine.UserResolver.
type cronUserResolver struct {
	cache *userCache
}

func (r cronUserResolver) Get(ctx context.Context, userID string) (model.User, error) {
	return r.cache.get(ctx, userID)
}

// NewCronUserResolver builds the cronengine.UserResolver this front's
// user cache backs, for wiring at startup.
func (f *Front) NewCronUserResolver() interface {
	Get(ctx context.Context, userID string) (model.User, error)
} {
	return cronUserResolver{cache: f.users}
}

