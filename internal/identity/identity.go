package identity

import "context"

// Identity is the canonical identifier pair for a subject as reported by the
// identity service. PrimaryID may differ from the identifier the caller
// resolved with when the subject's natural key has been superseded.
type Identity struct {
	PrimaryID   string `json:"primary_id"`
	SecondaryID string `json:"secondary_id"`
}

// Resolver maps a primary identifier to the subject's current identity.
type Resolver interface {
	Resolve(ctx context.Context, primaryID string) (Identity, error)
}
