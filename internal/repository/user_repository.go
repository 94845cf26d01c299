package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/user-auth-service/internal/model"
)

const userColumns = "id,email,password_hash,display_name,avatar_url,role,provider_access_token,refresh_token,refresh_token_expiry,created_at,updated_at"

// UserRepo persists user accounts and their embedded session fields
// in the 'users' table.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

// Create inserts a new account and returns the stored record with its
// assigned id and timestamps. A duplicate email maps to ErrEmailExists
// whether it is caught here or by the unique index.
func (r *UserRepo) Create(ctx context.Context, u model.User) (model.User, error) {
	email := strings.ToLower(strings.TrimSpace(u.Email))
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (email, password_hash, display_name, avatar_url, role, provider_access_token) VALUES (?,?,?,?,?,?)",
		email, u.PasswordHash, u.DisplayName, u.AvatarURL, string(u.Role), u.ProviderAccessToken)
	if err != nil {
		if isDuplicateKey(err) {
			return model.User{}, ErrEmailExists
		}
		return model.User{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.User{}, err
	}
	return r.GetByID(ctx, uint64(id))
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return r.getOne(ctx, "SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", email)
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	return r.getOne(ctx, "SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id)
}

// GetByRefreshHash fetches the user holding the given refresh token
// hash as their live session.
func (r *UserRepo) GetByRefreshHash(ctx context.Context, hash string) (model.User, error) {
	return r.getOne(ctx, "SELECT "+userColumns+" FROM users WHERE refresh_token=? LIMIT 1", hash)
}

// ExistsByEmail reports whether an account with the email exists.
func (r *UserRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var exists bool
	err := r.DB.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM users WHERE email=?)", email).Scan(&exists)
	return exists, err
}

// StoreSession overwrites the user's refresh token hash and expiry in
// one statement. Whatever session was live before is invalidated by
// the overwrite (last-write-wins, single session slot per user).
func (r *UserRepo) StoreSession(ctx context.Context, userID uint64, refreshHash string, exp time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET refresh_token=?, refresh_token_expiry=? WHERE id=?",
		refreshHash, exp, userID)
	return err
}

// ClearSession removes the refresh token, its expiry and any provider
// access token in one statement.
func (r *UserRepo) ClearSession(ctx context.Context, userID uint64) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET refresh_token=NULL, refresh_token_expiry=NULL, provider_access_token=NULL WHERE id=?",
		userID)
	return err
}

// UpdateProviderToken sets or clears the stored provider access token.
func (r *UserRepo) UpdateProviderToken(ctx context.Context, userID uint64, token *string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET provider_access_token=? WHERE id=?", token, userID)
	return err
}

// UpdateRole persists a role change.
func (r *UserRepo) UpdateRole(ctx context.Context, userID uint64, role model.Role) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET role=? WHERE id=?", string(role), userID)
	return err
}

func (r *UserRepo) getOne(ctx context.Context, query string, arg interface{}) (model.User, error) {
	var (
		u        model.User
		role     string
		avatar   sql.NullString
		provider sql.NullString
		refresh  sql.NullString
		expiry   sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.DisplayName, &avatar, &role,
		&provider, &refresh, &expiry, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return model.User{}, err
	}
	u.Role = model.Role(role)
	if avatar.Valid {
		u.AvatarURL = avatar.String
	}
	if provider.Valid {
		v := provider.String
		u.ProviderAccessToken = &v
	}
	if refresh.Valid {
		v := refresh.String
		u.RefreshTokenHash = &v
	}
	if expiry.Valid {
		v := expiry.Time.UTC()
		u.RefreshTokenExpiry = &v
	}
	return u, nil
}

// isDuplicateKey detects MySQL error 1062 (duplicate entry).
func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1062
	}
	return strings.Contains(strings.ToLower(err.Error()), "1062")
}
