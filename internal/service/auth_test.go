package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/user-auth-service/internal/model"
	"github.com/iliyamo/user-auth-service/internal/oauth"
	"github.com/iliyamo/user-auth-service/internal/queue"
	"github.com/iliyamo/user-auth-service/internal/repository"
	"github.com/iliyamo/user-auth-service/internal/utils"
)

// ----- fakes -----

// fakeStore is an in-memory CredentialStore honoring the same
// contracts as the MySQL repository: sql.ErrNoRows for missing rows,
// repository.ErrEmailExists on duplicate inserts.
type fakeStore struct {
	mu   sync.Mutex
	seq  uint64
	byID map[uint64]model.User

	// forceExistsFalse makes the pre-check lie, simulating the window
	// of the check-then-insert race.
	forceExistsFalse bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{byID: make(map[uint64]model.User)}
}

func (f *fakeStore) Create(_ context.Context, u model.User) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.byID {
		if existing.Email == u.Email {
			return model.User{}, repository.ErrEmailExists
		}
	}
	f.seq++
	u.ID = f.seq
	u.CreatedAt = time.Now().UTC()
	u.UpdatedAt = u.CreatedAt
	f.byID[u.ID] = u
	return u, nil
}

func (f *fakeStore) GetByEmail(_ context.Context, email string) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return model.User{}, sql.ErrNoRows
}

func (f *fakeStore) GetByID(_ context.Context, id uint64) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.byID[id]; ok {
		return u, nil
	}
	return model.User{}, sql.ErrNoRows
}

func (f *fakeStore) GetByRefreshHash(_ context.Context, hash string) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.RefreshTokenHash != nil && *u.RefreshTokenHash == hash {
			return u, nil
		}
	}
	return model.User{}, sql.ErrNoRows
}

func (f *fakeStore) ExistsByEmail(_ context.Context, email string) (bool, error) {
	if f.forceExistsFalse {
		return false, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) StoreSession(_ context.Context, userID uint64, refreshHash string, exp time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[userID]
	if !ok {
		return sql.ErrNoRows
	}
	u.RefreshTokenHash = &refreshHash
	u.RefreshTokenExpiry = &exp
	f.byID[userID] = u
	return nil
}

func (f *fakeStore) ClearSession(_ context.Context, userID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[userID]
	if !ok {
		return sql.ErrNoRows
	}
	u.RefreshTokenHash = nil
	u.RefreshTokenExpiry = nil
	u.ProviderAccessToken = nil
	f.byID[userID] = u
	return nil
}

func (f *fakeStore) UpdateProviderToken(_ context.Context, userID uint64, token *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[userID]
	if !ok {
		return sql.ErrNoRows
	}
	u.ProviderAccessToken = token
	f.byID[userID] = u
	return nil
}

func (f *fakeStore) UpdateRole(_ context.Context, userID uint64, role model.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[userID]
	if !ok {
		return sql.ErrNoRows
	}
	u.Role = role
	f.byID[userID] = u
	return nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byID)
}

// fakeGateway scripts the provider's answers and records revokes.
type fakeGateway struct {
	exchangeToken string
	exchangeErr   error
	profile       oauth.Profile
	profileErr    error
	revokeErr     error

	revoked []string
}

func (g *fakeGateway) ExchangeCode(_ context.Context, code string) (string, error) {
	if g.exchangeErr != nil {
		return "", g.exchangeErr
	}
	return g.exchangeToken, nil
}

func (g *fakeGateway) FetchProfile(_ context.Context, token string) (oauth.Profile, error) {
	if g.profileErr != nil {
		return oauth.Profile{}, g.profileErr
	}
	return g.profile, nil
}

func (g *fakeGateway) Revoke(_ context.Context, token string) error {
	g.revoked = append(g.revoked, token)
	return g.revokeErr
}

// fakePublisher records published events.
type fakePublisher struct {
	events []queue.UserRegisteredEvent
	err    error
}

func (p *fakePublisher) PublishUserRegistered(_ context.Context, ev queue.UserRegisteredEvent) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

// ----- helpers -----

const testBcryptCost = 4 // minimum cost keeps the suite fast

func newTestService(t *testing.T) (*AuthService, *fakeStore, *fakeGateway, *fakePublisher) {
	t.Helper()
	store := newFakeStore()
	gw := &fakeGateway{}
	pub := &fakePublisher{}
	codec := utils.NewTokenCodec("test-secret", 15, 14)
	return NewAuthService(store, codec, gw, pub, testBcryptCost), store, gw, pub
}

// ----- sign up / login -----

func TestSignUpThenLogin(t *testing.T) {
	t.Parallel()
	svc, store, _, pub := newTestService(t)
	ctx := context.Background()

	u, err := svc.SignUp(ctx, "a@x.com", "pw123", "Al")
	require.NoError(t, err)
	require.Equal(t, model.RoleCommon, u.Role)
	require.NotZero(t, u.ID)
	require.NotEqual(t, "pw123", u.PasswordHash, "raw password must not persist")
	require.Nil(t, u.RefreshTokenHash, "sign-up must not open a session")

	got, pair, err := svc.Login(ctx, "a@x.com", "pw123")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)
	require.NotEmpty(t, pair.Access.Token)
	require.NotEmpty(t, pair.Refresh.Token)

	stored, err := store.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.RefreshTokenHash)
	require.NotNil(t, stored.RefreshTokenExpiry)
	require.Equal(t, utils.HashRefreshRaw(pair.Refresh.Token), *stored.RefreshTokenHash)

	require.Len(t, pub.events, 1)
	require.Equal(t, "local", pub.events[0].Origin)
}

func TestSignUpDuplicateEmail(t *testing.T) {
	t.Parallel()
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.SignUp(ctx, "a@x.com", "pw123", "Al")
	require.NoError(t, err)

	_, err = svc.SignUp(ctx, "a@x.com", "other", "Imposter")
	require.ErrorIs(t, err, ErrDuplicateEmail)
	require.Equal(t, 1, store.count(), "duplicate sign-up must not create a second record")
}

func TestSignUpDuplicateRace_StoreIsAuthoritative(t *testing.T) {
	t.Parallel()
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.SignUp(ctx, "a@x.com", "pw123", "Al")
	require.NoError(t, err)

	// Make the pre-check pass as it would in the race window; the
	// store's uniqueness guard must still surface DuplicateEmail.
	store.forceExistsFalse = true
	_, err = svc.SignUp(ctx, "a@x.com", "pw123", "Al")
	require.ErrorIs(t, err, ErrDuplicateEmail)
	require.Equal(t, 1, store.count())
}

func TestLoginUnknownEmail(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newTestService(t)

	_, _, err := svc.Login(context.Background(), "ghost@x.com", "pw123")
	require.ErrorIs(t, err, ErrUnknownEmail)
}

func TestLoginWrongPassword_NoSessionMutation(t *testing.T) {
	t.Parallel()
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	u, err := svc.SignUp(ctx, "a@x.com", "pw123", "Al")
	require.NoError(t, err)

	_, _, err = svc.Login(ctx, "a@x.com", "wrong")
	require.ErrorIs(t, err, ErrBadCredential)

	stored, err := store.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.Nil(t, stored.RefreshTokenHash, "failed login must not touch session fields")
	require.Nil(t, stored.RefreshTokenExpiry)
}

func TestLogin_OverwritesPreviousSession(t *testing.T) {
	t.Parallel()
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	u, err := svc.SignUp(ctx, "a@x.com", "pw123", "Al")
	require.NoError(t, err)

	_, first, err := svc.Login(ctx, "a@x.com", "pw123")
	require.NoError(t, err)
	_, second, err := svc.Login(ctx, "a@x.com", "pw123")
	require.NoError(t, err)

	stored, err := store.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, utils.HashRefreshRaw(second.Refresh.Token), *stored.RefreshTokenHash)

	// The overwritten refresh token is dead on next use.
	_, err = svc.RenewAccessToken(ctx, first.Refresh.Token)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
}

// ----- renewal -----

func TestRenewAccessToken_NoRotation(t *testing.T) {
	t.Parallel()
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	u, err := svc.SignUp(ctx, "a@x.com", "pw123", "Al")
	require.NoError(t, err)
	_, pair, err := svc.Login(ctx, "a@x.com", "pw123")
	require.NoError(t, err)

	access, err := svc.RenewAccessToken(ctx, pair.Refresh.Token)
	require.NoError(t, err)
	require.NotEmpty(t, access.Token)

	codec := utils.NewTokenCodec("test-secret", 15, 14)
	claims, err := codec.Parse(access.Token)
	require.NoError(t, err)
	require.Equal(t, u.ID, claims.UserID)
	require.Equal(t, utils.TokenTypeAccess, claims.TokenType)

	// The refresh token itself is untouched and still works.
	stored, err := store.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, utils.HashRefreshRaw(pair.Refresh.Token), *stored.RefreshTokenHash)
	_, err = svc.RenewAccessToken(ctx, pair.Refresh.Token)
	require.NoError(t, err)
}

func TestRenewAccessToken_ExpiredSession(t *testing.T) {
	t.Parallel()
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	u, err := svc.SignUp(ctx, "a@x.com", "pw123", "Al")
	require.NoError(t, err)
	_, pair, err := svc.Login(ctx, "a@x.com", "pw123")
	require.NoError(t, err)

	// Force the persisted expiry into the past; the token itself still
	// verifies, but the session window rules.
	err = store.StoreSession(ctx, u.ID, utils.HashRefreshRaw(pair.Refresh.Token), time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)

	_, err = svc.RenewAccessToken(ctx, pair.Refresh.Token)
	require.ErrorIs(t, err, ErrExpiredRefreshToken)
}

func TestRenewAccessToken_UnknownToken(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	// A well-formed refresh token that no account holds.
	codec := utils.NewTokenCodec("test-secret", 15, 14)
	stray, err := codec.NewRefreshToken(99, "COMMON")
	require.NoError(t, err)

	_, err = svc.RenewAccessToken(ctx, stray.Token)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRenewAccessToken_RejectsAccessToken(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.SignUp(ctx, "a@x.com", "pw123", "Al")
	require.NoError(t, err)
	_, pair, err := svc.Login(ctx, "a@x.com", "pw123")
	require.NoError(t, err)

	// An access token must not pass as a refresh token.
	_, err = svc.RenewAccessToken(ctx, pair.Access.Token)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRenewAccessToken_Malformed(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newTestService(t)

	_, err := svc.RenewAccessToken(context.Background(), "not.a.token")
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
}

// ----- promotion -----

func TestPromote_OnceThenIneligible(t *testing.T) {
	t.Parallel()
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	u, err := svc.SignUp(ctx, "a@x.com", "pw123", "Al")
	require.NoError(t, err)

	promoted, pair, err := svc.Promote(ctx, u.ID, model.RoleCommon)
	require.NoError(t, err)
	require.Equal(t, model.RolePremium, promoted.Role)

	// Re-issued tokens carry the new role immediately.
	codec := utils.NewTokenCodec("test-secret", 15, 14)
	claims, err := codec.Parse(pair.Access.Token)
	require.NoError(t, err)
	require.Equal(t, string(model.RolePremium), claims.Role)

	stored, err := store.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, model.RolePremium, stored.Role)

	// Second promotion fails regardless of the claimed role.
	_, _, err = svc.Promote(ctx, u.ID, model.RolePremium)
	require.ErrorIs(t, err, ErrIneligibleRole)
	_, _, err = svc.Promote(ctx, u.ID, model.RoleCommon) // stale claim
	require.ErrorIs(t, err, ErrIneligibleRole)
}

func TestPromote_UserNotFound(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newTestService(t)

	_, _, err := svc.Promote(context.Background(), 12345, model.RoleCommon)
	require.ErrorIs(t, err, ErrUserNotFound)
}

// ----- social login bridging -----

func TestBridgeKakaoLogin_FirstVisitCreatesAccount(t *testing.T) {
	t.Parallel()
	svc, store, gw, pub := newTestService(t)
	ctx := context.Background()

	gw.exchangeToken = "prov-token-1"
	gw.profile = oauth.Profile{Email: "k@x.com", Nickname: "Kay", AvatarURL: "http://img/kay.png"}

	u, pair, err := svc.BridgeKakaoLogin(ctx, "auth-code")
	require.NoError(t, err)
	require.Equal(t, "k@x.com", u.Email)
	require.Equal(t, "Kay", u.DisplayName)
	require.Equal(t, model.RoleCommon, u.Role)
	require.NotEmpty(t, pair.Access.Token)
	require.NotEmpty(t, pair.Refresh.Token)
	require.Equal(t, 1, store.count())

	stored, err := store.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ProviderAccessToken)
	require.Equal(t, "prov-token-1", *stored.ProviderAccessToken)
	require.Equal(t, model.OAuthPasswordPlaceholder, stored.PasswordHash)

	require.Len(t, pub.events, 1)
	require.Equal(t, "kakao", pub.events[0].Origin)

	// An OAuth-only account cannot password-login.
	_, _, err = svc.Login(ctx, "k@x.com", model.OAuthPasswordPlaceholder)
	require.ErrorIs(t, err, ErrBadCredential)
}

func TestBridgeKakaoLogin_SecondVisitReusesAccount(t *testing.T) {
	t.Parallel()
	svc, store, gw, pub := newTestService(t)
	ctx := context.Background()

	gw.exchangeToken = "prov-token-1"
	gw.profile = oauth.Profile{Email: "k@x.com", Nickname: "Kay"}
	first, _, err := svc.BridgeKakaoLogin(ctx, "code-1")
	require.NoError(t, err)

	gw.exchangeToken = "prov-token-2"
	second, _, err := svc.BridgeKakaoLogin(ctx, "code-2")
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID, "same provider email must reuse the account")
	require.Equal(t, 1, store.count())

	stored, err := store.GetByID(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, "prov-token-2", *stored.ProviderAccessToken)

	require.Len(t, pub.events, 1, "returning visitor is not a registration")
}

func TestBridgeKakaoLogin_ExchangeFailure(t *testing.T) {
	t.Parallel()
	svc, store, gw, _ := newTestService(t)

	gw.exchangeErr = errors.New("kakao oauth error: invalid_grant")
	_, _, err := svc.BridgeKakaoLogin(context.Background(), "bad-code")
	require.ErrorIs(t, err, ErrProviderExchange)
	require.Equal(t, 0, store.count(), "provider failure must not touch local state")
}

func TestBridgeKakaoLogin_ProfileFailure_LeavesAccountUntouched(t *testing.T) {
	t.Parallel()
	svc, store, gw, _ := newTestService(t)
	ctx := context.Background()

	gw.exchangeToken = "prov-token-1"
	gw.profile = oauth.Profile{Email: "k@x.com", Nickname: "Kay"}
	u, _, err := svc.BridgeKakaoLogin(ctx, "code-1")
	require.NoError(t, err)

	gw.profileErr = errors.New("kakao profile endpoint: status 500")
	_, _, err = svc.BridgeKakaoLogin(ctx, "code-2")
	require.ErrorIs(t, err, ErrProviderProfile)

	stored, err := store.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "prov-token-1", *stored.ProviderAccessToken, "existing account must be unchanged")
}

// ----- logout -----

func TestLogout_LocalSession(t *testing.T) {
	t.Parallel()
	svc, store, gw, _ := newTestService(t)
	ctx := context.Background()

	u, err := svc.SignUp(ctx, "a@x.com", "pw123", "Al")
	require.NoError(t, err)
	_, _, err = svc.Login(ctx, "a@x.com", "pw123")
	require.NoError(t, err)

	res, err := svc.Logout(ctx, u.ID)
	require.NoError(t, err)
	require.False(t, res.ProviderSession)
	require.False(t, res.ProviderRevoked)
	require.Empty(t, gw.revoked, "no upstream call for a local session")

	stored, err := store.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.Nil(t, stored.RefreshTokenHash)
	require.Nil(t, stored.RefreshTokenExpiry)
}

func TestLogout_RevokesProviderSession(t *testing.T) {
	t.Parallel()
	svc, store, gw, _ := newTestService(t)
	ctx := context.Background()

	gw.exchangeToken = "prov-token-1"
	gw.profile = oauth.Profile{Email: "k@x.com", Nickname: "Kay"}
	u, _, err := svc.BridgeKakaoLogin(ctx, "code-1")
	require.NoError(t, err)

	res, err := svc.Logout(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, res.ProviderSession)
	require.True(t, res.ProviderRevoked)
	require.Equal(t, []string{"prov-token-1"}, gw.revoked)

	stored, err := store.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.Nil(t, stored.ProviderAccessToken)
	require.Nil(t, stored.RefreshTokenHash)
}

func TestLogout_ClearsLocalStateEvenIfRevokeFails(t *testing.T) {
	t.Parallel()
	svc, store, gw, _ := newTestService(t)
	ctx := context.Background()

	gw.exchangeToken = "prov-token-1"
	gw.profile = oauth.Profile{Email: "k@x.com", Nickname: "Kay"}
	u, _, err := svc.BridgeKakaoLogin(ctx, "code-1")
	require.NoError(t, err)

	gw.revokeErr = errors.New("kakao logout endpoint: status 503")
	res, err := svc.Logout(ctx, u.ID)
	require.NoError(t, err, "a flaky provider must not fail the logout")
	require.True(t, res.ProviderSession)
	require.False(t, res.ProviderRevoked)

	stored, err := store.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.Nil(t, stored.ProviderAccessToken, "provider token cleared despite revoke failure")
	require.Nil(t, stored.RefreshTokenHash)
	require.Nil(t, stored.RefreshTokenExpiry)
}

func TestLogout_UserNotFound(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newTestService(t)

	_, err := svc.Logout(context.Background(), 777)
	require.ErrorIs(t, err, ErrUserNotFound)
}

// ----- misc -----

func TestSignUp_PublisherFailureIsSwallowed(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	pub := &fakePublisher{err: errors.New("broker down")}
	codec := utils.NewTokenCodec("test-secret", 15, 14)
	svc := NewAuthService(store, codec, &fakeGateway{}, pub, testBcryptCost)

	_, err := svc.SignUp(context.Background(), "a@x.com", "pw123", "Al")
	require.NoError(t, err, "event publishing is best-effort")
}

func TestEmailInUse(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	inUse, err := svc.EmailInUse(ctx, "a@x.com")
	require.NoError(t, err)
	require.False(t, inUse)

	_, err = svc.SignUp(ctx, "a@x.com", "pw123", "Al")
	require.NoError(t, err)

	inUse, err = svc.EmailInUse(ctx, "a@x.com")
	require.NoError(t, err)
	require.True(t, inUse)
}
