package domain

import (
	"context"
)

// EnablementRepository answers whether a platform currently accepts
// publishes. Toggles are runtime state with a TTL; expired entries fall
// back to the configured default.
type EnablementRepository interface {
	IsEnabled(ctx context.Context, platform string) (bool, error)
	SetEnabled(ctx context.Context, platform string, enabled bool) error
}
