package catalog

import (
	"context"
	"fmt"

	"donation-logistics-service/internal/domain"
	"donation-logistics-service/internal/ports"
)

// StoreCatalog reads item metadata from the document store.
type StoreCatalog struct {
	store ports.Store
}

func New(store ports.Store) *StoreCatalog {
	return &StoreCatalog{store: store}
}

var _ ports.Catalog = (*StoreCatalog)(nil)

func (c *StoreCatalog) GetItem(ctx context.Context, id string) (domain.Item, error) {
	var item domain.Item
	err := c.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		it, err := tx.Items().Get(ctx, id)
		if err != nil {
			return err
		}
		item = *it
		return nil
	})
	if err != nil {
		return domain.Item{}, fmt.Errorf("catalog: get item %q: %w", id, err)
	}
	return item, nil
}
