package ports

import (
	"context"
	"donation-logistics-service/internal/domain"
)

// Port: the persistent store. Every read-then-write transition runs inside
// WithinTx. Updates are conditional on the version the entity was read at;
// a stale write fails the whole unit with domain.ErrConflict and nothing
// from the unit is applied.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx exposes the repositories bound to one unit of work.
type Tx interface {
	Branches() BranchRepository
	Items() ItemRepository
	Requests() RequestRepository
	Offers() OfferRepository
	Deliveries() DeliveryRepository
	Routes() RouteRepository
	StockLots() StockLotRepository
	Ledger() LedgerRepository
}

// Get methods return domain.ErrNotFound for unknown ids. Insert sets
// Version to 1; Update bumps it after a successful conditional write.
// List methods return results ordered by id.

type BranchRepository interface {
	Get(ctx context.Context, id string) (*domain.Branch, error)
	ListActive(ctx context.Context) ([]domain.Branch, error)
	Save(ctx context.Context, b *domain.Branch) error
}

type ItemRepository interface {
	Get(ctx context.Context, id string) (*domain.Item, error)
	Save(ctx context.Context, item *domain.Item) error
}

type RequestRepository interface {
	Get(ctx context.Context, id string) (*domain.Request, error)
	Insert(ctx context.Context, r *domain.Request) error
	Update(ctx context.Context, r *domain.Request) error
	ListByStatus(ctx context.Context, status domain.RequestStatus) ([]*domain.Request, error)
}

type OfferRepository interface {
	Get(ctx context.Context, id string) (*domain.Offer, error)
	Insert(ctx context.Context, o *domain.Offer) error
	Update(ctx context.Context, o *domain.Offer) error
	ListByRequest(ctx context.Context, requestID string) ([]*domain.Offer, error)
}

type DeliveryRepository interface {
	Get(ctx context.Context, id string) (*domain.DeliveryRequest, error)
	Insert(ctx context.Context, d *domain.DeliveryRequest) error
	Update(ctx context.Context, d *domain.DeliveryRequest) error
	ListByStatus(ctx context.Context, status domain.DeliveryStatus) ([]*domain.DeliveryRequest, error)
	ListByRequest(ctx context.Context, requestID string) ([]*domain.DeliveryRequest, error)
}

type RouteRepository interface {
	Get(ctx context.Context, id string) (*domain.ScheduledRoute, error)
	Insert(ctx context.Context, r *domain.ScheduledRoute) error
	Update(ctx context.Context, r *domain.ScheduledRoute) error
}

type StockLotRepository interface {
	Get(ctx context.Context, id string) (*domain.StockLot, error)
	Insert(ctx context.Context, l *domain.StockLot) error
	Update(ctx context.Context, l *domain.StockLot) error
	// FindByKey returns domain.ErrNotFound when no lot has the key.
	FindByKey(ctx context.Context, key domain.LotKey) (*domain.StockLot, error)
	ListByBranchItem(ctx context.Context, branchID, itemID string) ([]*domain.StockLot, error)
	ListByStatus(ctx context.Context, status domain.LotStatus) ([]*domain.StockLot, error)
}

type LedgerRepository interface {
	Insert(ctx context.Context, e *domain.LedgerEntry) error
	ListByBranch(ctx context.Context, branchID string) ([]*domain.LedgerEntry, error)
}
