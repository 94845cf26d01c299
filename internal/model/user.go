package model

import "time"

// Role is the closed set of authorization tiers a user can hold.
// The only legal transition is COMMON -> PREMIUM; there is no
// downgrade path.
type Role string

const (
	RoleCommon  Role = "COMMON"
	RolePremium Role = "PREMIUM"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleCommon || r == RolePremium
}

// Promote returns the role reached by upgrading r. Only COMMON can be
// promoted; for any other value the second return is false and the
// role is returned unchanged.
func (r Role) Promote() (Role, bool) {
	if r != RoleCommon {
		return r, false
	}
	return RolePremium, true
}

// OAuthPasswordPlaceholder is stored as the password hash of accounts
// created through social login. It is never a valid bcrypt hash, so
// password verification against it always fails and such accounts
// cannot log in locally.
const OAuthPasswordPlaceholder = "*"

// User mirrors the 'users' table. The session a user holds is not a
// separate entity: it is the (RefreshTokenHash, RefreshTokenExpiry,
// ProviderAccessToken) triple embedded here, which means a user has at
// most one live session and a new login overwrites the previous one.
//
// Fields:
//  ID                  – users.id, assigned by the database, immutable.
//  Email               – users.email, unique, normalized lowercase at creation.
//  PasswordHash        – users.password_hash (bcrypt, or OAuthPasswordPlaceholder).
//  DisplayName         – users.display_name.
//  AvatarURL           – users.avatar_url (may be empty).
//  Role                – users.role (COMMON or PREMIUM).
//  ProviderAccessToken – users.provider_access_token; set only while a
//                        social-login session is active, nil otherwise.
//  RefreshTokenHash    – users.refresh_token; SHA-256 hex of the issued
//                        refresh token, nil when no session is live.
//  RefreshTokenExpiry  – users.refresh_token_expiry; set and cleared
//                        together with RefreshTokenHash.
//  CreatedAt           – users.created_at, the join date, immutable.
//  UpdatedAt           – users.updated_at.
type User struct {
	ID                  uint64
	Email               string
	PasswordHash        string
	DisplayName         string
	AvatarURL           string
	Role                Role
	ProviderAccessToken *string
	RefreshTokenHash    *string
	RefreshTokenExpiry  *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// HasProviderSession reports whether the user currently holds an
// active social-login session that would need upstream revocation.
func (u *User) HasProviderSession() bool {
	return u.ProviderAccessToken != nil && *u.ProviderAccessToken != ""
}
