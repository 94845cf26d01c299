// Package service orchestrates sign-up, login, logout, token renewal,
// social-login bridging and role promotion on top of the credential
// store, the password hasher, the token codec and the OAuth gateway.
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/iliyamo/user-auth-service/internal/model"
	"github.com/iliyamo/user-auth-service/internal/oauth"
	"github.com/iliyamo/user-auth-service/internal/queue"
	"github.com/iliyamo/user-auth-service/internal/repository"
	"github.com/iliyamo/user-auth-service/internal/utils"
)

// CredentialStore is the persistence boundary the auth core relies on.
// Missing rows surface as sql.ErrNoRows; Create must enforce email
// uniqueness atomically and return repository.ErrEmailExists on a
// conflict, even when a prior existence check passed.
type CredentialStore interface {
	Create(ctx context.Context, u model.User) (model.User, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
	GetByRefreshHash(ctx context.Context, hash string) (model.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	StoreSession(ctx context.Context, userID uint64, refreshHash string, exp time.Time) error
	ClearSession(ctx context.Context, userID uint64) error
	UpdateProviderToken(ctx context.Context, userID uint64, token *string) error
	UpdateRole(ctx context.Context, userID uint64, role model.Role) error
}

// OAuthGateway is the external identity provider boundary: two network
// calls plus session revocation, all treated as black boxes.
type OAuthGateway interface {
	ExchangeCode(ctx context.Context, code string) (string, error)
	FetchProfile(ctx context.Context, accessToken string) (oauth.Profile, error)
	Revoke(ctx context.Context, accessToken string) error
}

// EventPublisher emits domain events. Publishing is best-effort: the
// auth flows never fail because the broker is down.
type EventPublisher interface {
	PublishUserRegistered(ctx context.Context, ev queue.UserRegisteredEvent) error
}

// TokenPair is the access+refresh pair issued on login, social login
// and promotion.
type TokenPair struct {
	Access  utils.IssuedToken
	Refresh utils.IssuedToken
}

// LogoutResult tells the caller how a logout went. When the session
// had no provider token the logout is purely local. A failed provider
// revoke is a partial success: the local session is gone either way.
type LogoutResult struct {
	ProviderSession bool // a provider access token was present
	ProviderRevoked bool // the provider revoke call succeeded
}

// AuthService implements the auth core. Each method is an independent
// request-scoped operation; concurrent calls for the same user race on
// the single session slot with last-write-wins semantics, so a
// concurrently overwritten refresh token simply turns invalid.
type AuthService struct {
	store      CredentialStore
	codec      *utils.TokenCodec
	gateway    OAuthGateway
	events     EventPublisher // may be nil when no broker is configured
	bcryptCost int
}

func NewAuthService(store CredentialStore, codec *utils.TokenCodec, gateway OAuthGateway, events EventPublisher, bcryptCost int) *AuthService {
	return &AuthService{store: store, codec: codec, gateway: gateway, events: events, bcryptCost: bcryptCost}
}

// EmailInUse reports whether an account already holds the email. This
// backs the sign-up form's pre-check; SignUp re-checks on its own.
func (s *AuthService) EmailInUse(ctx context.Context, email string) (bool, error) {
	return s.store.ExistsByEmail(ctx, email)
}

// SignUp registers a local account with role COMMON. The existence
// pre-check is a fast path only; the unique index behind Create is the
// authoritative guard, so a concurrent identical sign-up still comes
// back as ErrDuplicateEmail.
func (s *AuthService) SignUp(ctx context.Context, email, rawPassword, displayName string) (model.User, error) {
	exists, err := s.store.ExistsByEmail(ctx, email)
	if err != nil {
		return model.User{}, err
	}
	if exists {
		return model.User{}, ErrDuplicateEmail
	}

	hash, err := utils.HashPassword(rawPassword, s.bcryptCost)
	if err != nil {
		return model.User{}, err
	}
	saved, err := s.store.Create(ctx, model.User{
		Email:        email,
		PasswordHash: hash,
		DisplayName:  displayName,
		Role:         model.RoleCommon,
	})
	if err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return model.User{}, ErrDuplicateEmail
		}
		return model.User{}, err
	}

	s.publishRegistered(ctx, saved, "local")
	return saved, nil
}

// Login verifies credentials and opens a new session, overwriting any
// previous one. ErrUnknownEmail and ErrBadCredential stay distinct
// here for logging; the handler collapses them outward.
func (s *AuthService) Login(ctx context.Context, email, rawPassword string) (model.User, TokenPair, error) {
	u, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, TokenPair{}, ErrUnknownEmail
		}
		return model.User{}, TokenPair{}, err
	}
	if !utils.VerifyPassword(u.PasswordHash, rawPassword) {
		return model.User{}, TokenPair{}, ErrBadCredential
	}

	pair, err := s.openSession(ctx, u)
	if err != nil {
		return model.User{}, TokenPair{}, err
	}
	return u, pair, nil
}

// RenewAccessToken exchanges a live refresh token for a fresh access
// token. The refresh token itself is not rotated; it stays valid until
// its own expiry.
func (s *AuthService) RenewAccessToken(ctx context.Context, refreshToken string) (utils.IssuedToken, error) {
	claims, err := s.codec.Parse(refreshToken)
	if err != nil {
		if errors.Is(err, utils.ErrTokenExpired) {
			return utils.IssuedToken{}, ErrExpiredRefreshToken
		}
		return utils.IssuedToken{}, ErrInvalidRefreshToken
	}
	if claims.TokenType != utils.TokenTypeRefresh {
		return utils.IssuedToken{}, ErrInvalidRefreshToken
	}

	u, err := s.store.GetByRefreshHash(ctx, utils.HashRefreshRaw(refreshToken))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return utils.IssuedToken{}, ErrInvalidRefreshToken
		}
		return utils.IssuedToken{}, err
	}
	// The persisted expiry is authoritative: the session is dead at or
	// after that instant even if the token itself still verifies.
	if u.RefreshTokenExpiry == nil || !time.Now().UTC().Before(*u.RefreshTokenExpiry) {
		return utils.IssuedToken{}, ErrExpiredRefreshToken
	}
	return s.codec.NewAccessToken(u.ID, string(u.Role))
}

// Promote upgrades a COMMON user to PREMIUM and re-issues both tokens
// so the changed role claim takes effect without a fresh login. Both
// the caller's claimed role and the stored role must be COMMON.
func (s *AuthService) Promote(ctx context.Context, userID uint64, currentRole model.Role) (model.User, TokenPair, error) {
	u, err := s.store.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, TokenPair{}, ErrUserNotFound
		}
		return model.User{}, TokenPair{}, err
	}

	next, ok := u.Role.Promote()
	if !ok || currentRole != model.RoleCommon {
		return model.User{}, TokenPair{}, ErrIneligibleRole
	}
	if err := s.store.UpdateRole(ctx, u.ID, next); err != nil {
		return model.User{}, TokenPair{}, err
	}
	u.Role = next

	pair, err := s.openSession(ctx, u)
	if err != nil {
		return model.User{}, TokenPair{}, err
	}
	return u, pair, nil
}

// BridgeKakaoLogin maps a provider-authenticated identity onto a local
// account and opens a session exactly as Login does, so the caller's
// downstream experience is the same regardless of login origin. A
// provider failure leaves any existing account untouched.
func (s *AuthService) BridgeKakaoLogin(ctx context.Context, code string) (model.User, TokenPair, error) {
	providerToken, err := s.gateway.ExchangeCode(ctx, code)
	if err != nil {
		return model.User{}, TokenPair{}, fmt.Errorf("%w: %v", ErrProviderExchange, err)
	}
	profile, err := s.gateway.FetchProfile(ctx, providerToken)
	if err != nil {
		return model.User{}, TokenPair{}, fmt.Errorf("%w: %v", ErrProviderProfile, err)
	}

	u, err := s.store.GetByEmail(ctx, profile.Email)
	switch {
	case err == nil:
		// Returning visitor: refresh the stored provider token.
		if err := s.store.UpdateProviderToken(ctx, u.ID, &providerToken); err != nil {
			return model.User{}, TokenPair{}, err
		}
		u.ProviderAccessToken = &providerToken
	case errors.Is(err, sql.ErrNoRows):
		u, err = s.store.Create(ctx, model.User{
			Email:               profile.Email,
			PasswordHash:        model.OAuthPasswordPlaceholder,
			DisplayName:         profile.Nickname,
			AvatarURL:           profile.AvatarURL,
			Role:                model.RoleCommon,
			ProviderAccessToken: &providerToken,
		})
		switch {
		case err == nil:
			s.publishRegistered(ctx, u, "kakao")
		case errors.Is(err, repository.ErrEmailExists):
			// Lost a creation race against a concurrent bridge for the
			// same provider email; reuse whichever account won. The
			// winner already published the registration event.
			u, err = s.store.GetByEmail(ctx, profile.Email)
			if err != nil {
				return model.User{}, TokenPair{}, err
			}
			if err := s.store.UpdateProviderToken(ctx, u.ID, &providerToken); err != nil {
				return model.User{}, TokenPair{}, err
			}
			u.ProviderAccessToken = &providerToken
		default:
			return model.User{}, TokenPair{}, err
		}
	default:
		return model.User{}, TokenPair{}, err
	}

	pair, err := s.openSession(ctx, u)
	if err != nil {
		return model.User{}, TokenPair{}, err
	}
	return u, pair, nil
}

// Logout ends the user's session. When a provider token is present the
// provider revoke endpoint is called first, but local state is cleared
// no matter what it answers: a flaky upstream must not block local
// revocation. The revoke outcome is surfaced in the result.
func (s *AuthService) Logout(ctx context.Context, userID uint64) (LogoutResult, error) {
	u, err := s.store.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LogoutResult{}, ErrUserNotFound
		}
		return LogoutResult{}, err
	}

	res := LogoutResult{ProviderSession: u.HasProviderSession()}
	if res.ProviderSession {
		if err := s.gateway.Revoke(ctx, *u.ProviderAccessToken); err != nil {
			log.Printf("auth: provider revoke failed for user %d: %v", u.ID, err)
		} else {
			res.ProviderRevoked = true
		}
	}
	if err := s.store.ClearSession(ctx, u.ID); err != nil {
		return LogoutResult{}, err
	}
	return res, nil
}

// openSession issues a fresh token pair and persists the refresh hash
// and expiry on the account. Set and cleared together, never one
// without the other.
func (s *AuthService) openSession(ctx context.Context, u model.User) (TokenPair, error) {
	access, err := s.codec.NewAccessToken(u.ID, string(u.Role))
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.codec.NewRefreshToken(u.ID, string(u.Role))
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.store.StoreSession(ctx, u.ID, utils.HashRefreshRaw(refresh.Token), refresh.Exp); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{Access: access, Refresh: refresh}, nil
}

// publishRegistered emits a user.registered event; failures are logged
// and dropped so the request flow never depends on the broker.
func (s *AuthService) publishRegistered(ctx context.Context, u model.User, origin string) {
	if s.events == nil {
		return
	}
	ev := queue.UserRegisteredEvent{
		UserID:       u.ID,
		Email:        u.Email,
		DisplayName:  u.DisplayName,
		Role:         string(u.Role),
		Origin:       origin,
		RegisteredAt: u.CreatedAt.UTC().Format(time.RFC3339),
	}
	if err := s.events.PublishUserRegistered(ctx, ev); err != nil {
		log.Printf("auth: publish user.registered failed: %v", err)
	}
}
