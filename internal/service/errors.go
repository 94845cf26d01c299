package service

import "errors"

// Failure taxonomy of the auth core. Every operation returns one of
// these sentinels (possibly wrapped) so callers can map each case to a
// distinct outcome; none is ever swallowed. Handlers deliberately
// present ErrUnknownEmail and ErrBadCredential with the same body so
// the API does not leak which emails are registered.
var (
	ErrDuplicateEmail      = errors.New("email already registered")
	ErrUnknownEmail        = errors.New("no account for email")
	ErrBadCredential       = errors.New("wrong password")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrExpiredRefreshToken = errors.New("expired refresh token")
	ErrUserNotFound        = errors.New("user not found")
	ErrIneligibleRole      = errors.New("role not eligible for promotion")
	ErrProviderExchange    = errors.New("provider code exchange failed")
	ErrProviderProfile     = errors.New("provider profile fetch failed")
)
