package repositories

import (
	"context"
	"errors"
	"strconv"

	"donation-logistics-service/internal/domain"
	"donation-logistics-service/internal/ports"
)

// Bind exposes the domain repositories over one unit of work.
func Bind(docs Documents) ports.Tx {
	return &tx{docs: docs}
}

type tx struct{ docs Documents }

func (t *tx) Branches() ports.BranchRepository {
	return branchRepository{collection[domain.Branch]{
		docs:    t.docs,
		kind:    KindBranch,
		id:      func(b *domain.Branch) string { return b.ID },
		version: func(b *domain.Branch) *int64 { return &b.Version },
		attrs: func(b *domain.Branch) map[string]string {
			return map[string]string{"active": strconv.FormatBool(b.Active)}
		},
	}}
}

func (t *tx) Items() ports.ItemRepository {
	return itemRepository{collection[itemDoc]{
		docs:    t.docs,
		kind:    KindItem,
		id:      func(i *itemDoc) string { return i.ID },
		version: func(i *itemDoc) *int64 { return &i.Version },
	}}
}

func (t *tx) Requests() ports.RequestRepository {
	return requestRepository{collection[domain.Request]{
		docs:    t.docs,
		kind:    KindRequest,
		id:      func(r *domain.Request) string { return r.ID },
		version: func(r *domain.Request) *int64 { return &r.Version },
		attrs: func(r *domain.Request) map[string]string {
			return map[string]string{"status": string(r.Status)}
		},
	}}
}

func (t *tx) Offers() ports.OfferRepository {
	return offerRepository{collection[domain.Offer]{
		docs:    t.docs,
		kind:    KindOffer,
		id:      func(o *domain.Offer) string { return o.ID },
		version: func(o *domain.Offer) *int64 { return &o.Version },
		attrs: func(o *domain.Offer) map[string]string {
			return map[string]string{"request_id": o.RequestID, "status": string(o.Status)}
		},
	}}
}

func (t *tx) Deliveries() ports.DeliveryRepository {
	return deliveryRepository{collection[domain.DeliveryRequest]{
		docs:    t.docs,
		kind:    KindDelivery,
		id:      func(d *domain.DeliveryRequest) string { return d.ID },
		version: func(d *domain.DeliveryRequest) *int64 { return &d.Version },
		attrs: func(d *domain.DeliveryRequest) map[string]string {
			return map[string]string{
				"status":     string(d.Status),
				"request_id": d.Source.RequestID,
				"route_id":   d.RouteID,
			}
		},
	}}
}

func (t *tx) Routes() ports.RouteRepository {
	return routeRepository{collection[domain.ScheduledRoute]{
		docs:    t.docs,
		kind:    KindRoute,
		id:      func(r *domain.ScheduledRoute) string { return r.ID },
		version: func(r *domain.ScheduledRoute) *int64 { return &r.Version },
		attrs: func(r *domain.ScheduledRoute) map[string]string {
			return map[string]string{"status": string(r.Status), "home_branch_id": r.HomeBranchID}
		},
	}}
}

func (t *tx) StockLots() ports.StockLotRepository {
	return stockLotRepository{collection[domain.StockLot]{
		docs:    t.docs,
		kind:    KindStockLot,
		id:      func(l *domain.StockLot) string { return l.ID },
		version: func(l *domain.StockLot) *int64 { return &l.Version },
		attrs: func(l *domain.StockLot) map[string]string {
			return map[string]string{
				"branch_id": l.BranchID,
				"item_id":   l.ItemID,
				"status":    string(l.Status),
				"lot_key": lotKeyAttr(domain.LotKey{
					BranchID:       l.BranchID,
					ItemID:         l.ItemID,
					ExpirationDate: l.ExpirationDate,
					OwnerID:        l.OwnerID,
					ActivityID:     l.ActivityID,
				}),
			}
		},
	}}
}

func (t *tx) Ledger() ports.LedgerRepository {
	return ledgerRepository{collection[domain.LedgerEntry]{
		docs:    t.docs,
		kind:    KindLedger,
		id:      func(e *domain.LedgerEntry) string { return e.ID },
		version: func(e *domain.LedgerEntry) *int64 { return &e.Version },
		attrs: func(e *domain.LedgerEntry) map[string]string {
			return map[string]string{"branch_id": e.BranchID}
		},
	}}
}

func lotKeyAttr(k domain.LotKey) string { return k.String() }

type branchRepository struct{ c collection[domain.Branch] }

func (r branchRepository) Get(ctx context.Context, id string) (*domain.Branch, error) {
	return r.c.get(ctx, id)
}

func (r branchRepository) ListActive(ctx context.Context) ([]domain.Branch, error) {
	found, err := r.c.find(ctx, map[string]string{"active": "true"})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Branch, 0, len(found))
	for _, b := range found {
		out = append(out, *b)
	}
	return out, nil
}

func (r branchRepository) Save(ctx context.Context, b *domain.Branch) error {
	return r.c.save(ctx, b)
}

// itemDoc carries a version for catalog items, which the domain keeps plain.
type itemDoc struct {
	domain.Item
	Version int64 `json:"-"`
}

type itemRepository struct{ c collection[itemDoc] }

func (r itemRepository) Get(ctx context.Context, id string) (*domain.Item, error) {
	doc, err := r.c.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &doc.Item, nil
}

// Save upserts catalog metadata; items are reference data, last write wins.
func (r itemRepository) Save(ctx context.Context, item *domain.Item) error {
	existing, err := r.c.get(ctx, item.ID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return r.c.insert(ctx, &itemDoc{Item: *item})
	case err != nil:
		return err
	}
	existing.Item = *item
	return r.c.update(ctx, existing)
}

type requestRepository struct{ c collection[domain.Request] }

func (r requestRepository) Get(ctx context.Context, id string) (*domain.Request, error) {
	return r.c.get(ctx, id)
}

func (r requestRepository) Insert(ctx context.Context, v *domain.Request) error {
	return r.c.insert(ctx, v)
}

func (r requestRepository) Update(ctx context.Context, v *domain.Request) error {
	return r.c.update(ctx, v)
}

func (r requestRepository) ListByStatus(ctx context.Context, status domain.RequestStatus) ([]*domain.Request, error) {
	return r.c.find(ctx, map[string]string{"status": string(status)})
}

type offerRepository struct{ c collection[domain.Offer] }

func (r offerRepository) Get(ctx context.Context, id string) (*domain.Offer, error) {
	return r.c.get(ctx, id)
}

func (r offerRepository) Insert(ctx context.Context, v *domain.Offer) error {
	return r.c.insert(ctx, v)
}

func (r offerRepository) Update(ctx context.Context, v *domain.Offer) error {
	return r.c.update(ctx, v)
}

func (r offerRepository) ListByRequest(ctx context.Context, requestID string) ([]*domain.Offer, error) {
	return r.c.find(ctx, map[string]string{"request_id": requestID})
}

type deliveryRepository struct{ c collection[domain.DeliveryRequest] }

func (r deliveryRepository) Get(ctx context.Context, id string) (*domain.DeliveryRequest, error) {
	return r.c.get(ctx, id)
}

func (r deliveryRepository) Insert(ctx context.Context, v *domain.DeliveryRequest) error {
	return r.c.insert(ctx, v)
}

func (r deliveryRepository) Update(ctx context.Context, v *domain.DeliveryRequest) error {
	return r.c.update(ctx, v)
}

func (r deliveryRepository) ListByStatus(ctx context.Context, status domain.DeliveryStatus) ([]*domain.DeliveryRequest, error) {
	return r.c.find(ctx, map[string]string{"status": string(status)})
}

func (r deliveryRepository) ListByRequest(ctx context.Context, requestID string) ([]*domain.DeliveryRequest, error) {
	return r.c.find(ctx, map[string]string{"request_id": requestID})
}

type routeRepository struct{ c collection[domain.ScheduledRoute] }

func (r routeRepository) Get(ctx context.Context, id string) (*domain.ScheduledRoute, error) {
	return r.c.get(ctx, id)
}

func (r routeRepository) Insert(ctx context.Context, v *domain.ScheduledRoute) error {
	return r.c.insert(ctx, v)
}

func (r routeRepository) Update(ctx context.Context, v *domain.ScheduledRoute) error {
	return r.c.update(ctx, v)
}

type stockLotRepository struct{ c collection[domain.StockLot] }

func (r stockLotRepository) Get(ctx context.Context, id string) (*domain.StockLot, error) {
	return r.c.get(ctx, id)
}

func (r stockLotRepository) Insert(ctx context.Context, v *domain.StockLot) error {
	return r.c.insert(ctx, v)
}

func (r stockLotRepository) Update(ctx context.Context, v *domain.StockLot) error {
	return r.c.update(ctx, v)
}

func (r stockLotRepository) FindByKey(ctx context.Context, key domain.LotKey) (*domain.StockLot, error) {
	found, err := r.c.find(ctx, map[string]string{"lot_key": lotKeyAttr(key)})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, domain.ErrNotFound
	}
	return found[0], nil
}

func (r stockLotRepository) ListByBranchItem(ctx context.Context, branchID, itemID string) ([]*domain.StockLot, error) {
	return r.c.find(ctx, map[string]string{"branch_id": branchID, "item_id": itemID})
}

func (r stockLotRepository) ListByStatus(ctx context.Context, status domain.LotStatus) ([]*domain.StockLot, error) {
	return r.c.find(ctx, map[string]string{"status": string(status)})
}

type ledgerRepository struct{ c collection[domain.LedgerEntry] }

func (r ledgerRepository) Insert(ctx context.Context, v *domain.LedgerEntry) error {
	return r.c.insert(ctx, v)
}

func (r ledgerRepository) ListByBranch(ctx context.Context, branchID string) ([]*domain.LedgerEntry, error) {
	return r.c.find(ctx, map[string]string{"branch_id": branchID})
}
