package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// SessionState is either Anonymous or Authenticated
type SessionState interface {
	sessionState()
}

type Anonymous struct{}

type Authenticated struct {
	Identity Identity
}

func (Anonymous) sessionState()     {}
func (Authenticated) sessionState() {}

// Gate holds the session state and talks to the IdentityService
type Gate struct {
	logger   *zap.SugaredLogger
	identity IdentityService
	profiles ProfileStore

	mu    sync.Mutex
	state SessionState
}

func NewGate(logger *zap.SugaredLogger, identity IdentityService, profiles ProfileStore) *Gate {
	return &Gate{
		logger:   logger,
		identity: identity,
		profiles: profiles,
		state:    Anonymous{},
	}
}

func (g *Gate) State() SessionState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Current returns the authenticated identity if there is one
func (g *Gate) Current() (Identity, bool) {
	auth, ok := g.State().(Authenticated)
	return auth.Identity, ok
}

// Login signs in and upserts the profile of the identity.
// A failed profile write is logged and does not fail the login.
func (g *Gate) Login(ctx context.Context, email, password string) (Identity, error) {
	email = strings.TrimSpace(email)
	g.logger.Debugf("Logging in (%s)", email)

	id, err := g.identity.SignIn(ctx, email, password)
	if err != nil {
		g.logger.Errorf("Error logging in: %v", err)
		return Identity{}, fmt.Errorf("%w: %w", ErrAuth, err)
	}

	if err := g.profiles.SetProfile(ctx, id.ID, Profile{Email: id.Email}); err != nil {
		g.logger.Errorf("Error saving profile of %s: %v", id.ID, err)
	}

	g.mu.Lock()
	g.state = Authenticated{Identity: id}
	g.mu.Unlock()

	g.logger.Debugf("Logged in as %s (id: %s)", id.Email, id.ID)

	return id, nil
}

// Logout always returns to Anonymous, a sign out failure is only reported
func (g *Gate) Logout(ctx context.Context) error {
	g.mu.Lock()
	auth, ok := g.state.(Authenticated)
	g.state = Anonymous{}
	g.mu.Unlock()

	if !ok {
		return nil
	}

	if err := g.identity.SignOut(ctx, auth.Identity); err != nil {
		g.logger.Errorf("Error logging out: %v", err)
		return fmt.Errorf("%w: %w", ErrAuth, err)
	}

	g.logger.Debugf("Logged out (id: %s)", auth.Identity.ID)

	return nil
}
