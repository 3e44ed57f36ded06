package ports

import (
	"context"
	"donation-logistics-service/internal/domain"
)

// Notifier tells users about status changes. Delivery is fire-and-forget:
// the engine logs a failure and never rolls a transition back because of it.
type Notifier interface {
	NotifyStatusChange(ctx context.Context, change domain.StatusChange) error
}

// ObjectStore resolves opaque proof-of-delivery and identity-document refs.
type ObjectStore interface {
	Exists(ctx context.Context, ref string) (bool, error)
}

// Catalog supplies read-only item metadata.
type Catalog interface {
	GetItem(ctx context.Context, id string) (domain.Item, error)
}
