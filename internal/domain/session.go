package domain

import "time"

// SessionClaim is the identity assertion carried by a bearer token.
type SessionClaim struct {
	SubjectID int64
	IssuedAt  time.Time
	ExpiresAt time.Time
}
