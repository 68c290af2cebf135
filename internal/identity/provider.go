// Package identity resolves credentials issued by the external identity
// provider into application users.
package identity

import "context"

// Subject is what the identity provider vouches for: a stable subject id and
// the email it was verified against.
type Subject struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Provider is the identity provider as seen by this service. Its own
// authentication protocol is opaque.
type Provider interface {
	// VerifyToken returns auth.ErrUnauthenticated for tokens the provider rejects.
	VerifyToken(ctx context.Context, token string) (Subject, error)
	// SignInWithPassword returns auth.ErrInvalidCredentials on a bad password.
	SignInWithPassword(ctx context.Context, email, password string) (Subject, error)
	// CreateAccount provisions a credential; auth.ErrConflict if the email exists.
	CreateAccount(ctx context.Context, email, password string) (Subject, error)
	// DeleteAccount removes a credential by subject id. Unknown subjects are
	// not an error.
	DeleteAccount(ctx context.Context, subjectID string) error
}
