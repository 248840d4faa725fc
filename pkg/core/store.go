package core

import "context"

// Store holds the per-provider token record and the short-lived pending
// authorization slot. Keys never collide across providers, and both
// values are replaced atomically on save. Implementations must tolerate
// malformed stored data: a Load on a corrupted slot returns nil, not an
// error, so a bad write degrades to "not connected" instead of wedging
// the flow.
type Store interface {
	SaveTokens(ctx context.Context, provider string, rec *TokenRecord) error
	LoadTokens(ctx context.Context, provider string) (*TokenRecord, error)
	ClearTokens(ctx context.Context, provider string) error

	SavePending(ctx context.Context, provider string, pending *PendingAuthorization) error
	LoadPending(ctx context.Context, provider string) (*PendingAuthorization, error)
	ClearPending(ctx context.Context, provider string) error
}
