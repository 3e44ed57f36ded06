package repositories

import "context"

// Document is one stored aggregate: a JSON body plus the flat attributes
// the repositories filter on.
type Document struct {
	ID      string
	Version int64
	Attrs   map[string]string
	Body    []byte
}

// Documents is the transactional document API each backend provides for
// a single unit of work. Update is conditional on expectedVersion and
// returns domain.ErrConflict when the stored version differs.
type Documents interface {
	Get(ctx context.Context, kind, id string) (Document, error)
	Insert(ctx context.Context, kind string, doc Document) error
	Update(ctx context.Context, kind string, doc Document, expectedVersion int64) error
	// Find returns documents of kind whose attrs match every filter pair, ordered by id.
	Find(ctx context.Context, kind string, filter map[string]string) ([]Document, error)
}

// Kinds of stored aggregates.
const (
	KindBranch   = "branch"
	KindItem     = "item"
	KindRequest  = "request"
	KindOffer    = "offer"
	KindDelivery = "delivery"
	KindRoute    = "route"
	KindStockLot = "stock_lot"
	KindLedger   = "ledger_entry"
)
