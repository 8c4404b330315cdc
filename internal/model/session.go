package model

import "time"

// SessionData contains the data stored with a session token. The identity
// provider itself is an external collaborator; the engine only needs the
// acting user's email to stamp audit entries.
type SessionData struct {
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
