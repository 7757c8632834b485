package core

import "context"

// DefaultResolver resolves the configured default binding the data
// planes fall back to when no Session covers a source and no token
// was ever presented. Resolve returns ok=false when no default
// endpoint is configured at all, in which case the caller must drop.
type DefaultResolver interface {
	Resolve(ctx context.Context) (Binding, bool, error)
}
