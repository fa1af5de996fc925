package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nutriplan/client-go/internal/api"
	"github.com/nutriplan/client-go/internal/cache"
	"github.com/nutriplan/client-go/internal/store"
)

// API is the slice of the backend the controller talks to.
type API interface {
	VerifyProfile(ctx context.Context, token string) (*api.Profile, error)
	RefreshToken(ctx context.Context, refreshToken string) (*api.TokenPair, error)
	SignIn(ctx context.Context, email, password string) (*api.Credentials, error)
	SignOut(ctx context.Context, token string) error
}

// Controller manages the authentication session. Constructed once at
// process start and injected into consumers; there is no package-level
// session state.
type Controller struct {
	store  store.Store
	api    API
	cache  *cache.Cache // may be nil; cleared per-user on teardown
	logger zerolog.Logger

	mu          sync.Mutex
	user        *User
	token       string
	initialized bool
	refreshing  bool
	onEnded     func(Event)

	// epoch increments on every teardown or sign-in. A refresh pass
	// captures it before its first await and re-checks it before any
	// write, so a result arriving after the session changed hands is
	// discarded instead of resurrecting stale credentials.
	epoch uint64
}

// NewController creates a session controller. c may be nil when no TTL
// cache should be cleared on teardown.
func NewController(st store.Store, a API, c *cache.Cache, logger zerolog.Logger) *Controller {
	return &Controller{
		store:  st,
		api:    a,
		cache:  c,
		logger: logger,
	}
}

// OnSessionEnded registers the handler for terminal session events. The
// presentation layer decides how to render them.
func (c *Controller) OnSessionEnded(fn func(Event)) {
	c.mu.Lock()
	c.onEnded = fn
	c.mu.Unlock()
}

// Init restores and verifies the persisted session. It runs at most once
// per controller; later calls are no-ops.
func (c *Controller) Init(ctx context.Context) {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return
	}
	c.initialized = true
	c.mu.Unlock()

	c.RefreshAuth(ctx, false)
}

// RefreshAuth loads the persisted session, optimistically installs it, and
// verifies it against the backend unless skipVerification is set.
//
// At most one pass runs at a time: overlapping callers return immediately
// without queuing, so a caller needing the freshest state must call again
// after the in-flight pass completes.
func (c *Controller) RefreshAuth(ctx context.Context, skipVerification bool) {
	c.mu.Lock()
	if c.refreshing {
		c.mu.Unlock()
		c.logger.Debug().Msg("auth refresh already in flight, skipping")
		return
	}
	c.refreshing = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.refreshing = false
		c.mu.Unlock()
	}()

	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()

	token, haveToken := c.store.Get(keyToken)
	rawUser, haveUser := c.store.Get(keyUser)
	if !haveToken || !haveUser {
		c.logger.Debug().Msg("no persisted session")
		c.clearSessionIfCurrent(epoch)
		return
	}

	user, ok := decodeUser(rawUser)
	if !ok {
		c.logger.Warn().Msg("persisted user record malformed, clearing session")
		c.clearSessionIfCurrent(epoch)
		return
	}

	if !tokenUsable(token) {
		c.logger.Warn().Msg("persisted token malformed, clearing session")
		c.clearSessionIfCurrent(epoch)
		return
	}

	// Optimistic install: the UI can render as logged-in while the
	// verification call is in flight.
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		c.logger.Debug().Msg("session changed during restore, discarding pass")
		return
	}
	c.token = token
	c.user = user
	c.mu.Unlock()

	if skipVerification {
		return
	}

	profile, err := c.api.VerifyProfile(ctx, token)
	if err == nil {
		c.mu.Lock()
		if c.epoch == epoch {
			c.user = &User{ID: profile.ID, Email: profile.Email, DisplayName: profile.DisplayName}
		}
		c.mu.Unlock()
		c.logger.Debug().Str("userID", profile.ID).Msg("session verified")
		return
	}

	switch classify(err) {
	case faultAccountDeleted:
		c.logger.Info().Err(err).Msg("account deleted, ending session")
		if c.clearSessionIfCurrent(epoch) {
			c.emit(Event{Reason: ReasonAccountDeleted})
		}

	case faultTokenExpired:
		c.logger.Debug().Err(err).Msg("token expired, attempting refresh")
		c.refreshToken(ctx, epoch)

	default:
		// Transient or unclassified: keep the session rather than punish
		// the user for connectivity issues.
		c.logger.Warn().Err(err).Msg("verification failed, keeping session")
	}
}

// refreshToken makes exactly one attempt to exchange the persisted refresh
// token. Both tokens are persisted before the refresh counts as done; any
// failure ends the session. Results landing after a sign-out or deletion
// notice are discarded, not installed.
func (c *Controller) refreshToken(ctx context.Context, epoch uint64) {
	refreshToken, ok := c.store.Get(keyRefreshToken)
	if !ok || refreshToken == "" {
		c.logger.Debug().Msg("no refresh token, clearing session")
		c.clearSessionIfCurrent(epoch)
		return
	}

	pair, err := c.api.RefreshToken(ctx, refreshToken)
	if err != nil {
		c.logger.Warn().Err(err).Msg("token refresh failed, clearing session")
		c.clearSessionIfCurrent(epoch)
		return
	}

	// Persist and install under the lock so a concurrent teardown either
	// sees the stale epoch here, or runs its removals after these writes.
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		c.logger.Debug().Msg("session ended during token refresh, discarding tokens")
		return
	}
	c.store.Set(keyToken, pair.AccessToken)
	if pair.RefreshToken != "" {
		c.store.Set(keyRefreshToken, pair.RefreshToken)
	}
	c.token = pair.AccessToken
	c.mu.Unlock()

	c.logger.Info().Msg("token refreshed")
}

// SignIn authenticates with the backend and persists the new session.
func (c *Controller) SignIn(ctx context.Context, email, password string) error {
	creds, err := c.api.SignIn(ctx, email, password)
	if err != nil {
		return fmt.Errorf("sign in failed: %w", err)
	}

	userJSON, err := json.Marshal(creds.User)
	if err != nil {
		return fmt.Errorf("failed to encode user record: %w", err)
	}

	c.store.Set(keyToken, creds.AccessToken)
	c.store.Set(keyUser, string(userJSON))
	if creds.RefreshToken != "" {
		c.store.Set(keyRefreshToken, creds.RefreshToken)
	}
	c.store.Set(keySessionID, uuid.NewString())

	c.mu.Lock()
	c.epoch++
	c.token = creds.AccessToken
	c.user = &User{ID: creds.User.ID, Email: creds.User.Email, DisplayName: creds.User.DisplayName}
	c.mu.Unlock()

	c.logger.Info().Str("userID", creds.User.ID).Msg("signed in")

	return nil
}

// SignOut notifies the backend, then unconditionally tears the local
// session down. A failed notification never blocks teardown.
func (c *Controller) SignOut(ctx context.Context) {
	token := c.Token()
	if token != "" {
		if err := c.api.SignOut(ctx, token); err != nil {
			c.logger.Warn().Err(err).Msg("sign-out notification failed")
		}
	}

	c.clearSessionState()
	c.emit(Event{Reason: ReasonSignedOut})
}

// ClearSession removes all persisted session keys and nulls in-memory
// state. The five removals are independent and best-effort; there is no
// cross-key atomicity in the store.
func (c *Controller) ClearSession() {
	c.clearSessionState()
}

func (c *Controller) clearSessionState() {
	c.mu.Lock()
	c.epoch++
	userID := ""
	if c.user != nil {
		userID = c.user.ID
	}
	c.user = nil
	c.token = ""
	c.mu.Unlock()

	c.removeSessionKeys(userID)
}

// clearSessionIfCurrent tears the session down only when epoch still
// matches, and reports whether it did. A mismatch means a sign-out,
// deletion, or fresh sign-in already superseded this pass.
func (c *Controller) clearSessionIfCurrent(epoch uint64) bool {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		c.logger.Debug().Msg("session changed during pass, skipping teardown")
		return false
	}
	c.epoch++
	userID := ""
	if c.user != nil {
		userID = c.user.ID
	}
	c.user = nil
	c.token = ""
	c.mu.Unlock()

	c.removeSessionKeys(userID)
	return true
}

// removeSessionKeys drops the persisted session keys and the user's
// cache scope.
func (c *Controller) removeSessionKeys(userID string) {
	for _, key := range []string{keyToken, keyUser, keyRefreshToken, keySessionID, keySubscription} {
		c.store.Remove(key)
	}

	if c.cache != nil && userID != "" {
		c.cache.ClearUser(userID)
	}

	c.logger.Debug().Msg("session cleared")
}

// IsAuthenticated reports whether a token and user are both present.
func (c *Controller) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token != "" && c.user != nil
}

// CurrentUser returns a copy of the session user, or nil.
func (c *Controller) CurrentUser() *User {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return nil
	}
	u := *c.user
	return &u
}

// Token returns the current access token, empty when signed out.
func (c *Controller) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Controller) emit(ev Event) {
	c.mu.Lock()
	fn := c.onEnded
	c.mu.Unlock()

	if fn != nil {
		fn(ev)
	}
}
