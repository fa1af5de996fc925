package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nutriplan/client-go/internal/api"
	"github.com/nutriplan/client-go/internal/cache"
	"github.com/nutriplan/client-go/internal/store"
)

const validToken = "a-sufficiently-long-opaque-token"

type fakeAPI struct {
	mu sync.Mutex

	verifyCalls  int
	refreshCalls int
	signOutCalls int

	profile   *api.Profile
	verifyErr error

	refreshPair *api.TokenPair
	refreshErr  error

	creds     *api.Credentials
	signInErr error

	signOutErr error

	// When set, VerifyProfile signals started and blocks until release.
	verifyStarted chan struct{}
	verifyRelease chan struct{}

	// Same for RefreshToken.
	refreshStarted chan struct{}
	refreshRelease chan struct{}
}

func (f *fakeAPI) VerifyProfile(ctx context.Context, token string) (*api.Profile, error) {
	f.mu.Lock()
	f.verifyCalls++
	f.mu.Unlock()

	if f.verifyStarted != nil {
		f.verifyStarted <- struct{}{}
	}
	if f.verifyRelease != nil {
		<-f.verifyRelease
	}

	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return f.profile, nil
}

func (f *fakeAPI) RefreshToken(ctx context.Context, refreshToken string) (*api.TokenPair, error) {
	f.mu.Lock()
	f.refreshCalls++
	f.mu.Unlock()

	if f.refreshStarted != nil {
		f.refreshStarted <- struct{}{}
	}
	if f.refreshRelease != nil {
		<-f.refreshRelease
	}

	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.refreshPair, nil
}

func (f *fakeAPI) SignIn(ctx context.Context, email, password string) (*api.Credentials, error) {
	if f.signInErr != nil {
		return nil, f.signInErr
	}
	return f.creds, nil
}

func (f *fakeAPI) SignOut(ctx context.Context, token string) error {
	f.mu.Lock()
	f.signOutCalls++
	f.mu.Unlock()
	return f.signOutErr
}

func (f *fakeAPI) counts() (verify, refresh, signOut int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.verifyCalls, f.refreshCalls, f.signOutCalls
}

func seedSession(t *testing.T, st store.Store, user User) {
	t.Helper()
	raw, err := json.Marshal(user)
	require.NoError(t, err)
	st.Set(keyToken, validToken)
	st.Set(keyUser, string(raw))
}

func newTestController(t *testing.T, st store.Store, a API) *Controller {
	t.Helper()
	return NewController(st, a, cache.New(st, zerolog.Nop()), zerolog.Nop())
}

func TestController_RefreshAuth(t *testing.T) {
	t.Run("restores and verifies a persisted session", func(t *testing.T) {
		st := store.NewMemory(zerolog.Nop())
		seedSession(t, st, User{ID: "u1", Email: "a@b.c"})

		a := &fakeAPI{profile: &api.Profile{ID: "u1", Email: "a@b.c", DisplayName: "Alex"}}
		c := newTestController(t, st, a)

		c.RefreshAuth(context.Background(), false)

		assert.True(t, c.IsAuthenticated())
		assert.Equal(t, validToken, c.Token())
		require.NotNil(t, c.CurrentUser())
		assert.Equal(t, "Alex", c.CurrentUser().DisplayName)
	})

	t.Run("missing token clears the session", func(t *testing.T) {
		st := store.NewMemory(zerolog.Nop())
		raw, _ := json.Marshal(User{ID: "u1", Email: "a@b.c"})
		st.Set(keyUser, string(raw))

		c := newTestController(t, st, &fakeAPI{})
		c.RefreshAuth(context.Background(), false)

		assert.False(t, c.IsAuthenticated())
		_, ok := st.Get(keyUser)
		assert.False(t, ok)
	})

	t.Run("malformed user record clears the session", func(t *testing.T) {
		st := store.NewMemory(zerolog.Nop())
		st.Set(keyToken, validToken)
		st.Set(keyUser, `{"email":"a@b.c"}`) // no id

		a := &fakeAPI{}
		c := newTestController(t, st, a)
		c.RefreshAuth(context.Background(), false)

		assert.False(t, c.IsAuthenticated())
		verify, _, _ := a.counts()
		assert.Zero(t, verify)
	})

	t.Run("short token clears the session", func(t *testing.T) {
		st := store.NewMemory(zerolog.Nop())
		raw, _ := json.Marshal(User{ID: "u1", Email: "a@b.c"})
		st.Set(keyToken, "short")
		st.Set(keyUser, string(raw))

		c := newTestController(t, st, &fakeAPI{})
		c.RefreshAuth(context.Background(), false)

		assert.False(t, c.IsAuthenticated())
	})

	t.Run("skipVerification installs without a verify call", func(t *testing.T) {
		st := store.NewMemory(zerolog.Nop())
		seedSession(t, st, User{ID: "u1", Email: "a@b.c"})

		a := &fakeAPI{}
		c := newTestController(t, st, a)
		c.RefreshAuth(context.Background(), true)

		assert.True(t, c.IsAuthenticated())
		verify, _, _ := a.counts()
		assert.Zero(t, verify)
	})

	t.Run("concurrent passes issue one verify call", func(t *testing.T) {
		st := store.NewMemory(zerolog.Nop())
		seedSession(t, st, User{ID: "u1", Email: "a@b.c"})

		a := &fakeAPI{
			profile:       &api.Profile{ID: "u1", Email: "a@b.c"},
			verifyStarted: make(chan struct{}, 1),
			verifyRelease: make(chan struct{}),
		}
		c := newTestController(t, st, a)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RefreshAuth(context.Background(), false)
		}()

		// Second caller overlaps the in-flight pass and must be a no-op.
		<-a.verifyStarted
		c.RefreshAuth(context.Background(), false)

		close(a.verifyRelease)
		wg.Wait()

		verify, _, _ := a.counts()
		assert.Equal(t, 1, verify)
	})
}

func TestController_VerificationFaults(t *testing.T) {
	t.Run("account_deleted clears session without a refresh attempt", func(t *testing.T) {
		st := store.NewMemory(zerolog.Nop())
		seedSession(t, st, User{ID: "u1", Email: "a@b.c"})
		st.Set(keyRefreshToken, "rt1")

		a := &fakeAPI{verifyErr: &api.Error{
			StatusCode: http.StatusUnauthorized,
			ErrorType:  "account_deleted",
			Message:    "account has been deleted",
		}}
		c := newTestController(t, st, a)

		var events []Event
		c.OnSessionEnded(func(ev Event) { events = append(events, ev) })

		c.RefreshAuth(context.Background(), false)

		assert.False(t, c.IsAuthenticated())
		_, refresh, _ := a.counts()
		assert.Zero(t, refresh, "deletion takes priority over token refresh")
		require.Len(t, events, 1)
		assert.Equal(t, ReasonAccountDeleted, events[0].Reason)
	})

	t.Run("not-found on the profile call is treated as deletion", func(t *testing.T) {
		st := store.NewMemory(zerolog.Nop())
		seedSession(t, st, User{ID: "u1", Email: "a@b.c"})

		a := &fakeAPI{verifyErr: &api.Error{StatusCode: http.StatusNotFound, Message: "user not found"}}
		c := newTestController(t, st, a)
		c.RefreshAuth(context.Background(), false)

		assert.False(t, c.IsAuthenticated())
	})

	t.Run("expired token refreshes and keeps the session", func(t *testing.T) {
		st := store.NewMemory(zerolog.Nop())
		seedSession(t, st, User{ID: "u1", Email: "a@b.c"})
		st.Set(keyRefreshToken, "rt1")

		a := &fakeAPI{
			verifyErr:   &api.Error{StatusCode: http.StatusUnauthorized, Message: "token has expired"},
			refreshPair: &api.TokenPair{AccessToken: "new-access-token-value", RefreshToken: "rt2"},
		}
		c := newTestController(t, st, a)
		c.RefreshAuth(context.Background(), false)

		assert.True(t, c.IsAuthenticated())
		assert.Equal(t, "new-access-token-value", c.Token())

		// Both tokens were persisted before the refresh counted as done.
		v, _ := st.Get(keyToken)
		assert.Equal(t, "new-access-token-value", v)
		v, _ = st.Get(keyRefreshToken)
		assert.Equal(t, "rt2", v)
	})

	t.Run("failed refresh clears the session", func(t *testing.T) {
		st := store.NewMemory(zerolog.Nop())
		seedSession(t, st, User{ID: "u1", Email: "a@b.c"})
		st.Set(keyRefreshToken, "rt1")

		a := &fakeAPI{
			verifyErr:  &api.Error{StatusCode: http.StatusUnauthorized, Message: "invalid token"},
			refreshErr: &api.Error{StatusCode: http.StatusUnauthorized, Message: "refresh token revoked"},
		}
		c := newTestController(t, st, a)
		c.RefreshAuth(context.Background(), false)

		assert.False(t, c.IsAuthenticated())
		_, ok := st.Get(keyToken)
		assert.False(t, ok)
	})

	t.Run("missing refresh token clears the session", func(t *testing.T) {
		st := store.NewMemory(zerolog.Nop())
		seedSession(t, st, User{ID: "u1", Email: "a@b.c"})

		a := &fakeAPI{verifyErr: &api.Error{StatusCode: http.StatusUnauthorized, Message: "token has expired"}}
		c := newTestController(t, st, a)
		c.RefreshAuth(context.Background(), false)

		assert.False(t, c.IsAuthenticated())
	})

	t.Run("network timeout keeps the session", func(t *testing.T) {
		st := store.NewMemory(zerolog.Nop())
		seedSession(t, st, User{ID: "u1", Email: "a@b.c"})

		a := &fakeAPI{verifyErr: errors.New("request failed: context deadline exceeded")}
		c := newTestController(t, st, a)
		c.RefreshAuth(context.Background(), false)

		assert.True(t, c.IsAuthenticated())
		assert.Equal(t, validToken, c.Token())
	})

	t.Run("unclassified 401 keeps the session", func(t *testing.T) {
		st := store.NewMemory(zerolog.Nop())
		seedSession(t, st, User{ID: "u1", Email: "a@b.c"})

		a := &fakeAPI{verifyErr: &api.Error{StatusCode: http.StatusUnauthorized, Message: "authentication required"}}
		c := newTestController(t, st, a)
		c.RefreshAuth(context.Background(), false)

		assert.True(t, c.IsAuthenticated())
		_, refresh, _ := a.counts()
		assert.Zero(t, refresh)
	})

	t.Run("server error keeps the session", func(t *testing.T) {
		st := store.NewMemory(zerolog.Nop())
		seedSession(t, st, User{ID: "u1", Email: "a@b.c"})

		a := &fakeAPI{verifyErr: &api.Error{StatusCode: http.StatusInternalServerError, Message: "database error"}}
		c := newTestController(t, st, a)
		c.RefreshAuth(context.Background(), false)

		assert.True(t, c.IsAuthenticated())
	})
}

func TestController_StaleResults(t *testing.T) {
	t.Run("sign-out during token refresh wins over the refreshed tokens", func(t *testing.T) {
		st := store.NewMemory(zerolog.Nop())
		seedSession(t, st, User{ID: "u1", Email: "a@b.c"})
		st.Set(keyRefreshToken, "rt1")

		a := &fakeAPI{
			verifyErr:      &api.Error{StatusCode: http.StatusUnauthorized, Message: "token has expired"},
			refreshPair:    &api.TokenPair{AccessToken: "refreshed-access-token", RefreshToken: "rt2"},
			refreshStarted: make(chan struct{}, 1),
			refreshRelease: make(chan struct{}),
		}
		c := newTestController(t, st, a)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RefreshAuth(context.Background(), false)
		}()

		// Sign out while the refresh call is in flight.
		<-a.refreshStarted
		c.SignOut(context.Background())

		close(a.refreshRelease)
		wg.Wait()

		// Teardown wins: the refreshed tokens must not be re-persisted.
		assert.False(t, c.IsAuthenticated())
		for _, key := range []string{keyToken, keyUser, keyRefreshToken, keySessionID, keySubscription} {
			_, ok := st.Get(key)
			assert.False(t, ok, key)
		}
	})

	t.Run("sign-out during verification wins over the verified profile", func(t *testing.T) {
		st := store.NewMemory(zerolog.Nop())
		seedSession(t, st, User{ID: "u1", Email: "a@b.c"})

		a := &fakeAPI{
			profile:       &api.Profile{ID: "u1", Email: "a@b.c", DisplayName: "Alex"},
			verifyStarted: make(chan struct{}, 1),
			verifyRelease: make(chan struct{}),
		}
		c := newTestController(t, st, a)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RefreshAuth(context.Background(), false)
		}()

		<-a.verifyStarted
		c.SignOut(context.Background())

		close(a.verifyRelease)
		wg.Wait()

		assert.False(t, c.IsAuthenticated())
		assert.Nil(t, c.CurrentUser())
	})

	t.Run("failed refresh after sign-out does not tear down a new session", func(t *testing.T) {
		st := store.NewMemory(zerolog.Nop())
		seedSession(t, st, User{ID: "u1", Email: "a@b.c"})
		st.Set(keyRefreshToken, "rt1")

		a := &fakeAPI{
			verifyErr:      &api.Error{StatusCode: http.StatusUnauthorized, Message: "token has expired"},
			refreshErr:     &api.Error{StatusCode: http.StatusUnauthorized, Message: "refresh token revoked"},
			refreshStarted: make(chan struct{}, 1),
			refreshRelease: make(chan struct{}),
			creds: &api.Credentials{
				AccessToken: "access-token-from-login",
				User:        api.Profile{ID: "u2", Email: "new@b.c"},
			},
		}
		c := newTestController(t, st, a)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RefreshAuth(context.Background(), false)
		}()

		// A fresh sign-in supersedes the in-flight pass; its late failure
		// must not clear the new session.
		<-a.refreshStarted
		require.NoError(t, c.SignIn(context.Background(), "new@b.c", "secret"))

		close(a.refreshRelease)
		wg.Wait()

		assert.True(t, c.IsAuthenticated())
		assert.Equal(t, "access-token-from-login", c.Token())
		_, ok := st.Get(keyToken)
		assert.True(t, ok)
	})
}

func TestController_SignIn(t *testing.T) {
	t.Run("persists all session keys", func(t *testing.T) {
		st := store.NewMemory(zerolog.Nop())
		a := &fakeAPI{creds: &api.Credentials{
			AccessToken:  "access-token-from-login",
			RefreshToken: "rt1",
			User:         api.Profile{ID: "u1", Email: "a@b.c"},
		}}
		c := newTestController(t, st, a)

		require.NoError(t, c.SignIn(context.Background(), "a@b.c", "secret"))

		assert.True(t, c.IsAuthenticated())
		for _, key := range []string{keyToken, keyUser, keyRefreshToken, keySessionID} {
			_, ok := st.Get(key)
			assert.True(t, ok, key)
		}
	})

	t.Run("surfaces API errors", func(t *testing.T) {
		a := &fakeAPI{signInErr: &api.Error{StatusCode: http.StatusUnauthorized, Message: "bad credentials"}}
		c := newTestController(t, store.NewMemory(zerolog.Nop()), a)

		err := c.SignIn(context.Background(), "a@b.c", "wrong")
		assert.Error(t, err)
		assert.False(t, c.IsAuthenticated())
	})
}

func TestController_SignOut(t *testing.T) {
	t.Run("clears session even when the notification fails", func(t *testing.T) {
		st := store.NewMemory(zerolog.Nop())
		seedSession(t, st, User{ID: "u1", Email: "a@b.c"})
		st.Set(keyRefreshToken, "rt1")
		st.Set(keySessionID, "sid")
		st.Set(keySubscription, "active")

		a := &fakeAPI{signOutErr: errors.New("network down")}
		c := newTestController(t, st, a)
		c.RefreshAuth(context.Background(), true)

		var events []Event
		c.OnSessionEnded(func(ev Event) { events = append(events, ev) })

		c.SignOut(context.Background())

		assert.False(t, c.IsAuthenticated())
		for _, key := range []string{keyToken, keyUser, keyRefreshToken, keySessionID, keySubscription} {
			_, ok := st.Get(key)
			assert.False(t, ok, key)
		}
		require.Len(t, events, 1)
		assert.Equal(t, ReasonSignedOut, events[0].Reason)
	})

	t.Run("clears the user's cache scope", func(t *testing.T) {
		st := store.NewMemory(zerolog.Nop())
		seedSession(t, st, User{ID: "u1", Email: "a@b.c"})

		userCache := cache.New(st, zerolog.Nop())
		userCache.Set("plan", map[string]int{"meals": 21}, "u1", 0)
		userCache.Set("plan", map[string]int{"meals": 7}, "u2", 0)

		a := &fakeAPI{}
		c := NewController(st, a, userCache, zerolog.Nop())
		c.RefreshAuth(context.Background(), true)

		c.SignOut(context.Background())

		assert.False(t, userCache.Has("plan", "u1"))
		assert.True(t, userCache.Has("plan", "u2"))
	})
}

func TestController_Init(t *testing.T) {
	st := store.NewMemory(zerolog.Nop())
	seedSession(t, st, User{ID: "u1", Email: "a@b.c"})

	a := &fakeAPI{profile: &api.Profile{ID: "u1", Email: "a@b.c"}}
	c := newTestController(t, st, a)

	c.Init(context.Background())
	c.Init(context.Background())

	verify, _, _ := a.counts()
	assert.Equal(t, 1, verify, "init runs once per controller")
}
