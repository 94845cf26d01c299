// Package queue defines message payloads exchanged over the message
// broker and the publisher/consumer that move them.
package queue

// UserRegisteredEvent is published when an account is created, whether
// through local sign-up or social-login bridging. It carries enough
// for downstream consumers to log or notify without querying the
// primary database. No credential material is ever included.
type UserRegisteredEvent struct {
	UserID       uint64 `json:"user_id"`
	Email        string `json:"email"`
	DisplayName  string `json:"display_name"`
	Role         string `json:"role"`
	Origin       string `json:"origin"` // "local" or "kakao"
	RegisteredAt string `json:"registered_at"`
}
