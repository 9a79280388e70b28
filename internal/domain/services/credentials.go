package services

import "context"

// CredentialLookup returns a caller-scoped API key for a provider family.
// An empty key with a nil error means the caller has none stored.
type CredentialLookup interface {
	GetAPIKey(ctx context.Context, userID, family string) (string, error)
}

// CredentialService manages caller-scoped provider keys.
type CredentialService interface {
	CredentialLookup
	SetAPIKey(ctx context.Context, userID, family, key string) error
}
