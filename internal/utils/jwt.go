package utils // package utils provides token issuing/validation and hashing helpers

import (
	"crypto/sha256" // SHA-256 hashing for stored refresh tokens
	"encoding/hex"  // hex encoding of digests
	"errors"        // sentinel errors and errors.Is
	"time"          // expiry arithmetic

	"github.com/golang-jwt/jwt/v5" // JWT library for creating and parsing signed tokens
)

// Typed validation failures. Callers can react differently per case
// instead of receiving an opaque library error.
var (
	ErrTokenMalformed        = errors.New("token malformed")
	ErrTokenSignatureInvalid = errors.New("token signature invalid")
	ErrTokenExpired          = errors.New("token expired")
)

// Token type claim values. The "typ" claim keeps access and refresh
// tokens from being replayed in each other's place.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// IssuedToken is a freshly signed token together with its expiry.
type IssuedToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // UTC expiration time
}

// TokenClaims are the verified claims read back out of a token.
// They are populated only after the signature has been checked.
type TokenClaims struct {
	UserID    uint64
	Role      string
	TokenType string
	ExpiresAt time.Time
}

// TokenCodec signs and validates HS256 JWTs for the auth service.
// Access tokens are short-lived (minutes scale), refresh tokens are
// long-lived (days scale). The secret is fixed at construction.
type TokenCodec struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenCodec builds a codec from the signing secret and the two
// configured lifetimes (access in minutes, refresh in days).
func NewTokenCodec(secret string, accessTTLMin, refreshTTLDays int) *TokenCodec {
	return &TokenCodec{
		secret:     []byte(secret),
		accessTTL:  time.Duration(accessTTLMin) * time.Minute,
		refreshTTL: time.Duration(refreshTTLDays) * 24 * time.Hour,
	}
}

// NewAccessToken issues a signed access token for a user.
func (c *TokenCodec) NewAccessToken(userID uint64, role string) (IssuedToken, error) {
	return c.issue(userID, role, TokenTypeAccess, c.accessTTL)
}

// NewRefreshToken issues a signed refresh token for a user. Only the
// SHA-256 hash of the returned token is ever persisted; the raw string
// goes back to the client.
func (c *TokenCodec) NewRefreshToken(userID uint64, role string) (IssuedToken, error) {
	return c.issue(userID, role, TokenTypeRefresh, c.refreshTTL)
}

// issue signs an HS256 token carrying subject, role, type, issued-at
// and expiry claims.
func (c *TokenCodec) issue(userID uint64, role, typ string, ttl time.Duration) (IssuedToken, error) {
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub":  userID,
		"role": role,
		"typ":  typ,
		"iat":  now.Unix(),
		"exp":  exp.Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(c.secret)
	if err != nil {
		return IssuedToken{}, err
	}
	return IssuedToken{Token: signed, Exp: exp}, nil
}

// Parse verifies the signature and expiry of a token and returns its
// claims. The chain is always verify-then-read: claims are never
// inspected before the signature checks out. Failures are mapped to
// ErrTokenMalformed, ErrTokenSignatureInvalid or ErrTokenExpired.
func (c *TokenCodec) Parse(raw string) (TokenClaims, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		// Reject tokens signed with anything but HMAC.
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return c.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return TokenClaims{}, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return TokenClaims{}, ErrTokenSignatureInvalid
		case errors.Is(err, jwt.ErrTokenMalformed):
			return TokenClaims{}, ErrTokenMalformed
		default:
			return TokenClaims{}, ErrTokenMalformed
		}
	}
	if !tok.Valid {
		return TokenClaims{}, ErrTokenSignatureInvalid
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return TokenClaims{}, ErrTokenMalformed
	}

	out := TokenClaims{}
	// JWT numeric values decode as float64.
	if sub, ok := claims["sub"].(float64); ok {
		out.UserID = uint64(sub)
	}
	if role, ok := claims["role"].(string); ok {
		out.Role = role
	}
	if typ, ok := claims["typ"].(string); ok {
		out.TokenType = typ
	}
	if exp, ok := claims["exp"].(float64); ok {
		out.ExpiresAt = time.Unix(int64(exp), 0).UTC()
	}
	if out.UserID == 0 || out.TokenType == "" {
		return TokenClaims{}, ErrTokenMalformed
	}
	return out, nil
}

// HashRefreshRaw returns the SHA-256 hash of a raw refresh token as a
// hex string. Only this hash is stored in the database, so stolen
// rows cannot be replayed as live sessions.
func HashRefreshRaw(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
