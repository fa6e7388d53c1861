package auth

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/epicweb-dev/epic-me-mcp/internal/email"
	"github.com/epicweb-dev/epic-me-mcp/internal/logging"
	"github.com/epicweb-dev/epic-me-mcp/internal/store"
	"github.com/epicweb-dev/epic-me-mcp/internal/tokens"
	"github.com/epicweb-dev/epic-me-mcp/internal/totp"
)

type fakeGrantStore struct {
	grants map[string]store.Grant
	users  map[string]store.User
	nextID int64
}

func newFakeGrantStore() *fakeGrantStore {
	return &fakeGrantStore{
		grants: map[string]store.Grant{},
		users:  map[string]store.User{},
	}
}

func (f *fakeGrantStore) CreateUnclaimedGrant(ctx context.Context, grantID string) error {
	if _, ok := f.grants[grantID]; !ok {
		f.grants[grantID] = store.Grant{ID: grantID, CreatedAt: time.Now()}
	}
	return nil
}

func (f *fakeGrantStore) GetGrant(ctx context.Context, grantID string) (store.Grant, error) {
	grant, ok := f.grants[grantID]
	if !ok {
		return store.Grant{}, sql.ErrNoRows
	}
	return grant, nil
}

func (f *fakeGrantStore) SetGrantOwner(ctx context.Context, grantID string, userID int64) error {
	grant, ok := f.grants[grantID]
	if !ok {
		return sql.ErrNoRows
	}
	grant.UserID = &userID
	f.grants[grantID] = grant
	return nil
}

func (f *fakeGrantStore) UnclaimGrant(ctx context.Context, grantID string) error {
	grant, ok := f.grants[grantID]
	if !ok {
		return sql.ErrNoRows
	}
	grant.UserID = nil
	f.grants[grantID] = grant
	return nil
}

func (f *fakeGrantStore) EnsureUserByEmail(ctx context.Context, address string) (store.User, error) {
	if user, ok := f.users[address]; ok {
		return user, nil
	}
	f.nextID++
	user := store.User{ID: f.nextID, Email: address, CreatedAt: time.Now()}
	f.users[address] = user
	return user, nil
}

func (f *fakeGrantStore) GetUserByID(ctx context.Context, userID int64) (store.User, error) {
	for _, user := range f.users {
		if user.ID == userID {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

type fakeSender struct {
	sent []email.Message
	err  error
}

func (f *fakeSender) Send(msg email.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newTestBridge(t *testing.T) (*Bridge, *fakeGrantStore, *fakeSender, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	tokenStore := tokens.NewRedisStoreWithClient(client, 10*time.Minute)
	grants := newFakeGrantStore()
	sender := &fakeSender{}
	bridge := New(grants, tokenStore, sender, testLogger(), "EpicMe", "test-secret", 10*time.Minute)
	return bridge, grants, sender, mr
}

func issuedCode(t *testing.T, sender *fakeSender) string {
	t.Helper()
	if len(sender.sent) == 0 {
		t.Fatal("no email sent")
	}
	text := sender.sent[len(sender.sent)-1].Text
	for _, field := range strings.Fields(text) {
		trimmed := strings.Trim(field, ".")
		if len(trimmed) == totp.Digits && strings.IndexFunc(trimmed, func(r rune) bool { return r < '0' || r > '9' }) == -1 {
			return trimmed
		}
	}
	t.Fatalf("no %d-digit code in email text: %q", totp.Digits, text)
	return ""
}

func TestAuthenticateAndValidate(t *testing.T) {
	ctx := context.Background()
	bridge, grants, sender, _ := newTestBridge(t)

	grantID, err := bridge.CreateUnclaimedGrant(ctx, "")
	if err != nil {
		t.Fatalf("CreateUnclaimedGrant: %v", err)
	}
	if grants.grants[grantID].Claimed() {
		t.Fatal("fresh grant should be unclaimed")
	}

	if err := bridge.Authenticate(ctx, grantID, "kody@example.com"); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent %d emails, want 1", len(sender.sent))
	}

	user, err := bridge.ValidateToken(ctx, grantID, issuedCode(t, sender))
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if user.Email != "kody@example.com" {
		t.Fatalf("user email = %q", user.Email)
	}
	if !grants.grants[grantID].Claimed() {
		t.Fatal("grant should be claimed after validation")
	}

	got, err := bridge.RequireUser(ctx, grantID)
	if err != nil {
		t.Fatalf("RequireUser: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("RequireUser user id = %d, want %d", got.ID, user.ID)
	}
}

func TestAuthenticateUnknownGrant(t *testing.T) {
	bridge, _, _, _ := newTestBridge(t)
	err := bridge.Authenticate(context.Background(), "grant_missing", "kody@example.com")
	if !errors.Is(err, ErrGrantNotFound) {
		t.Fatalf("err = %v, want ErrGrantNotFound", err)
	}
}

func TestAuthenticateEmailFailureLeavesNoClaim(t *testing.T) {
	ctx := context.Background()
	bridge, grants, sender, _ := newTestBridge(t)
	sender.err = errors.New("smtp down")

	grantID, _ := bridge.CreateUnclaimedGrant(ctx, "")
	err := bridge.Authenticate(ctx, grantID, "kody@example.com")
	if !errors.Is(err, ErrEmailDispatch) {
		t.Fatalf("err = %v, want ErrEmailDispatch", err)
	}
	if grants.grants[grantID].Claimed() {
		t.Fatal("grant must stay unclaimed when dispatch fails")
	}
}

func TestValidateWrongCodeThenRight(t *testing.T) {
	ctx := context.Background()
	bridge, _, sender, _ := newTestBridge(t)

	grantID, _ := bridge.CreateUnclaimedGrant(ctx, "")
	if err := bridge.Authenticate(ctx, grantID, "kody@example.com"); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	code := issuedCode(t, sender)

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	if _, err := bridge.ValidateToken(ctx, grantID, wrong); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong code err = %v, want ErrInvalidToken", err)
	}
	// A failed guess must not burn the live token.
	if _, err := bridge.ValidateToken(ctx, grantID, code); err != nil {
		t.Fatalf("right code after wrong guess: %v", err)
	}
}

func TestValidateTokenSingleUse(t *testing.T) {
	ctx := context.Background()
	bridge, _, sender, _ := newTestBridge(t)

	grantID, _ := bridge.CreateUnclaimedGrant(ctx, "")
	if err := bridge.Authenticate(ctx, grantID, "kody@example.com"); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	code := issuedCode(t, sender)

	if _, err := bridge.ValidateToken(ctx, grantID, code); err != nil {
		t.Fatalf("first validation: %v", err)
	}
	if _, err := bridge.ValidateToken(ctx, grantID, code); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("second validation err = %v, want ErrTokenNotFound", err)
	}
}

func TestValidateExpiredToken(t *testing.T) {
	ctx := context.Background()
	bridge, _, sender, mr := newTestBridge(t)

	grantID, _ := bridge.CreateUnclaimedGrant(ctx, "")
	if err := bridge.Authenticate(ctx, grantID, "kody@example.com"); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	code := issuedCode(t, sender)

	mr.FastForward(11 * time.Minute)
	if _, err := bridge.ValidateToken(ctx, grantID, code); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expired token err = %v, want ErrTokenNotFound", err)
	}
}

func TestReauthenticateSupersedesToken(t *testing.T) {
	ctx := context.Background()
	bridge, _, sender, _ := newTestBridge(t)
	bridge.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	grantID, _ := bridge.CreateUnclaimedGrant(ctx, "")
	if err := bridge.Authenticate(ctx, grantID, "kody@example.com"); err != nil {
		t.Fatalf("first Authenticate: %v", err)
	}
	first := issuedCode(t, sender)

	bridge.now = func() time.Time { return time.Unix(1_700_000_000, 0).Add(2 * totp.Period) }
	if err := bridge.Authenticate(ctx, grantID, "hannah@example.com"); err != nil {
		t.Fatalf("second Authenticate: %v", err)
	}
	second := issuedCode(t, sender)

	// Only the newest token is live. Codes for distinct key material can
	// collide by value, in which case the superseded-code check is moot.
	if first != second {
		if _, err := bridge.ValidateToken(ctx, grantID, first); err == nil {
			t.Fatal("superseded code must not validate")
		}
	}
	user, err := bridge.ValidateToken(ctx, grantID, second)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if user.Email != "hannah@example.com" {
		t.Fatalf("claim bound to %q, want the superseding email", user.Email)
	}
}

func TestRequireUserStates(t *testing.T) {
	ctx := context.Background()
	bridge, _, _, _ := newTestBridge(t)

	if _, err := bridge.RequireUser(ctx, ""); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("empty grant err = %v, want ErrUnauthenticated", err)
	}
	if _, err := bridge.RequireUser(ctx, "grant_missing"); !errors.Is(err, ErrGrantNotFound) {
		t.Fatalf("missing grant err = %v, want ErrGrantNotFound", err)
	}

	grantID, _ := bridge.CreateUnclaimedGrant(ctx, "")
	if _, err := bridge.RequireUser(ctx, grantID); !errors.Is(err, ErrGrantNotClaimed) {
		t.Fatalf("unclaimed grant err = %v, want ErrGrantNotClaimed", err)
	}
}

func TestUnclaimIsIdempotent(t *testing.T) {
	ctx := context.Background()
	bridge, _, sender, _ := newTestBridge(t)

	grantID, _ := bridge.CreateUnclaimedGrant(ctx, "")
	if err := bridge.Authenticate(ctx, grantID, "kody@example.com"); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if _, err := bridge.ValidateToken(ctx, grantID, issuedCode(t, sender)); err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}

	if err := bridge.Unclaim(ctx, grantID); err != nil {
		t.Fatalf("Unclaim: %v", err)
	}
	if _, err := bridge.RequireUser(ctx, grantID); !errors.Is(err, ErrGrantNotClaimed) {
		t.Fatalf("post-unclaim err = %v, want ErrGrantNotClaimed", err)
	}
	if err := bridge.Unclaim(ctx, grantID); err != nil {
		t.Fatalf("second Unclaim: %v", err)
	}
}

func TestChangeListenersFire(t *testing.T) {
	ctx := context.Background()
	bridge, _, sender, _ := newTestBridge(t)

	var fired int
	bridge.Subscribe(func() { fired++ })

	grantID, _ := bridge.CreateUnclaimedGrant(ctx, "")
	if err := bridge.Authenticate(ctx, grantID, "kody@example.com"); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if fired != 0 {
		t.Fatalf("listener fired %d times before any claim", fired)
	}
	if _, err := bridge.ValidateToken(ctx, grantID, issuedCode(t, sender)); err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if fired != 1 {
		t.Fatalf("listener fired %d times after claim, want 1", fired)
	}
	if err := bridge.Unclaim(ctx, grantID); err != nil {
		t.Fatalf("Unclaim: %v", err)
	}
	if fired != 2 {
		t.Fatalf("listener fired %d times after unclaim, want 2", fired)
	}
}

func TestSubscribeCancelStopsNotifications(t *testing.T) {
	ctx := context.Background()
	bridge, _, sender, _ := newTestBridge(t)

	var gone, kept int
	cancel := bridge.Subscribe(func() { gone++ })
	bridge.Subscribe(func() { kept++ })

	grantID, _ := bridge.CreateUnclaimedGrant(ctx, "")
	if err := bridge.Authenticate(ctx, grantID, "kody@example.com"); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if _, err := bridge.ValidateToken(ctx, grantID, issuedCode(t, sender)); err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if gone != 1 || kept != 1 {
		t.Fatalf("after claim: gone=%d kept=%d, want 1/1", gone, kept)
	}

	cancel()
	if err := bridge.Unclaim(ctx, grantID); err != nil {
		t.Fatalf("Unclaim: %v", err)
	}
	if gone != 1 {
		t.Fatalf("cancelled listener fired %d times, want 1", gone)
	}
	if kept != 2 {
		t.Fatalf("remaining listener fired %d times, want 2", kept)
	}
}
