// Package repository implements persistence over database/sql. It
// defines sentinel errors that higher layers translate into their own
// failure taxonomy, so handlers and services never string-match on
// driver errors.
package repository

import "errors"

// ErrEmailExists is returned when an insert violates the unique index
// on users.email. The index is the authoritative duplicate guard: the
// service layer's existence pre-check can pass and the insert still
// fail with this error under concurrent identical sign-ups.
var ErrEmailExists = errors.New("email already exists")
