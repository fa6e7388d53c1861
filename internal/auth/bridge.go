// Package auth implements the unclaimed-grant authentication bridge: grants
// are created before the owning user is known, and a human later claims one
// by submitting a one-time code delivered over email.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/epicweb-dev/epic-me-mcp/internal/email"
	"github.com/epicweb-dev/epic-me-mcp/internal/logging"
	"github.com/epicweb-dev/epic-me-mcp/internal/store"
	"github.com/epicweb-dev/epic-me-mcp/internal/tokens"
	"github.com/epicweb-dev/epic-me-mcp/internal/totp"
	"github.com/epicweb-dev/epic-me-mcp/internal/util"
)

type grantStore interface {
	CreateUnclaimedGrant(ctx context.Context, grantID string) error
	GetGrant(ctx context.Context, grantID string) (store.Grant, error)
	SetGrantOwner(ctx context.Context, grantID string, userID int64) error
	UnclaimGrant(ctx context.Context, grantID string) error
	EnsureUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, userID int64) (store.User, error)
}

type tokenStore interface {
	Create(ctx context.Context, email, grantID, code string) error
	Consume(ctx context.Context, grantID, code string) (tokens.TokenData, error)
}

type emailSender interface {
	Send(msg email.Message) error
}

// ChangeListener is notified after every claim or unclaim. Listeners run on
// the calling goroutine and must not block; the availability gate uses this
// to recompute which operations the session exposes.
type ChangeListener func()

// Bridge orchestrates unclaimed-grant creation at authorization time and
// claim-by-token at runtime.
type Bridge struct {
	store    grantStore
	tokens   tokenStore
	email    emailSender
	log      logging.Logger
	appName  string
	secret   string
	tokenTTL time.Duration
	now      func() time.Time

	mu           sync.Mutex
	listeners    map[int]ChangeListener
	nextListener int
}

func New(grants grantStore, tokens tokenStore, sender emailSender, log logging.Logger, appName, secret string, tokenTTL time.Duration) *Bridge {
	return &Bridge{
		store:    grants,
		tokens:   tokens,
		email:    sender,
		log:      log,
		appName:  appName,
		secret:   secret,
		tokenTTL: tokenTTL,
		now:      time.Now,
	}
}

// Subscribe registers a listener for grant state changes. The returned
// function removes it; sessions must call it when they end so notifications
// never reach a closed transport.
func (b *Bridge) Subscribe(listener ChangeListener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listeners == nil {
		b.listeners = make(map[int]ChangeListener)
	}
	id := b.nextListener
	b.nextListener++
	b.listeners[id] = listener
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, id)
	}
}

func (b *Bridge) notifyChanged() {
	b.mu.Lock()
	listeners := make([]ChangeListener, 0, len(b.listeners))
	for _, listener := range b.listeners {
		listeners = append(listeners, listener)
	}
	b.mu.Unlock()
	for _, listener := range listeners {
		listener()
	}
}

// CreateUnclaimedGrant persists a grant with no owner and returns its id.
// When candidateID is empty a fresh opaque id is generated. Persistence
// failures surface to the caller, which must retry the whole authorization
// handshake.
func (b *Bridge) CreateUnclaimedGrant(ctx context.Context, candidateID string) (string, error) {
	grantID := candidateID
	if grantID == "" {
		grantID = util.NewID("grant")
	}
	if err := b.store.CreateUnclaimedGrant(ctx, grantID); err != nil {
		return "", fmt.Errorf("create unclaimed grant: %w", err)
	}
	return grantID, nil
}

// Authenticate issues a one-time code for the grant and emails it. The code
// supersedes any prior live code for the grant; the grant stays unclaimed
// until the code is validated.
func (b *Bridge) Authenticate(ctx context.Context, grantID, address string) error {
	if _, err := b.getGrant(ctx, grantID); err != nil {
		return err
	}

	code := totp.Code(totp.Key(b.secret, grantID, address), b.now())
	if err := b.tokens.Create(ctx, address, grantID, code); err != nil {
		return fmt.Errorf("persist validation token: %w", err)
	}

	minutes := int(b.tokenTTL.Minutes())
	if minutes < 1 {
		minutes = 1
	}
	msg, err := email.ValidationCodeMessage(b.appName, address, code, minutes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEmailDispatch, err)
	}
	if err := b.email.Send(msg); err != nil {
		return fmt.Errorf("%w: %v", ErrEmailDispatch, err)
	}

	b.log.Info(ctx, "validation token issued", "grantId", grantID, "email", address)
	return nil
}

// ValidateToken claims the grant: on a correct code it consumes the token,
// resolves or creates the user for the email the code was issued to, and
// binds the grant to that user. This is the sole transition from unclaimed
// to claimed.
func (b *Bridge) ValidateToken(ctx context.Context, grantID, code string) (store.User, error) {
	if _, err := b.getGrant(ctx, grantID); err != nil {
		return store.User{}, err
	}

	// Consumption happens before binding; the token store's atomic
	// compare-and-delete is what guarantees a code validates exactly once
	// even across concurrent sessions.
	data, err := b.tokens.Consume(ctx, grantID, code)
	if errors.Is(err, tokens.ErrNotFound) {
		return store.User{}, ErrTokenNotFound
	}
	if errors.Is(err, tokens.ErrCodeMismatch) {
		return store.User{}, ErrInvalidToken
	}
	if err != nil {
		return store.User{}, fmt.Errorf("consume validation token: %w", err)
	}

	user, err := b.store.EnsureUserByEmail(ctx, data.Email)
	if err != nil {
		return store.User{}, fmt.Errorf("ensure user: %w", err)
	}
	if err := b.store.SetGrantOwner(ctx, grantID, user.ID); err != nil {
		return store.User{}, fmt.Errorf("claim grant: %w", err)
	}

	b.log.Info(ctx, "grant claimed", "grantId", grantID, "userId", user.ID)
	b.notifyChanged()
	return user, nil
}

// RequireUser is the single authorization checkpoint: every authenticated
// operation calls it first and propagates its failure unchanged.
func (b *Bridge) RequireUser(ctx context.Context, grantID string) (store.User, error) {
	if grantID == "" {
		return store.User{}, ErrUnauthenticated
	}
	grant, err := b.getGrant(ctx, grantID)
	if err != nil {
		return store.User{}, err
	}
	if !grant.Claimed() {
		return store.User{}, ErrGrantNotClaimed
	}
	user, err := b.store.GetUserByID(ctx, *grant.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.User{}, ErrGrantNotClaimed
		}
		return store.User{}, fmt.Errorf("resolve grant owner: %w", err)
	}
	return user, nil
}

// Unclaim releases the grant back to unclaimed (logout). Unclaiming an
// already-unclaimed grant is a no-op success.
func (b *Bridge) Unclaim(ctx context.Context, grantID string) error {
	if grantID == "" {
		return ErrUnauthenticated
	}
	if _, err := b.getGrant(ctx, grantID); err != nil {
		return err
	}
	if err := b.store.UnclaimGrant(ctx, grantID); err != nil {
		return fmt.Errorf("unclaim grant: %w", err)
	}
	b.log.Info(ctx, "grant unclaimed", "grantId", grantID)
	b.notifyChanged()
	return nil
}

func (b *Bridge) getGrant(ctx context.Context, grantID string) (store.Grant, error) {
	grant, err := b.store.GetGrant(ctx, grantID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Grant{}, ErrGrantNotFound
	}
	if err != nil {
		return store.Grant{}, fmt.Errorf("lookup grant: %w", err)
	}
	return grant, nil
}
