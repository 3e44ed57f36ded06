package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Item is catalog metadata, read-only to the engine.
type Item struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Unit          string `json:"unit"`
	ShelfLifeDays int    `json:"shelf_life_days,omitempty"`
}

// Branch is a physical hub that holds stock and dispatches deliveries.
type Branch struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
	Active   bool   `json:"active"`
	Version  int64  `json:"-"`
}

type LotStatus string

const (
	LotValid   LotStatus = "VALID"
	LotExpired LotStatus = "EXPIRED"
)

// StockLot is a quantity of one item at one branch with one expiration date.
// Lots are never deleted; a drained lot stays at zero.
type StockLot struct {
	ID               string          `json:"id"`
	BranchID         string          `json:"branch_id"`
	ItemID           string          `json:"item_id"`
	ExpirationDate   time.Time       `json:"expiration_date"`
	Quantity         decimal.Decimal `json:"quantity"`
	ImportedQuantity decimal.Decimal `json:"imported_quantity"`
	Code             string          `json:"code"`
	Status           LotStatus       `json:"status"`
	OwnerID          string          `json:"owner_id,omitempty"`
	ActivityID       string          `json:"activity_id,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	Version          int64           `json:"-"`
}

// Usable reports whether the lot may be drawn from at the given instant.
func (l *StockLot) Usable(now time.Time) bool {
	return l.Status == LotValid && l.Quantity.IsPositive() && !l.ExpirationDate.Before(DateOf(now))
}

// LotKey identifies the lot an import lands in.
type LotKey struct {
	BranchID       string
	ItemID         string
	ExpirationDate time.Time
	OwnerID        string
	ActivityID     string
}

// String renders the key in a stable form; equal keys render equally.
func (k LotKey) String() string {
	return k.BranchID + "|" + k.ItemID + "|" + DateOf(k.ExpirationDate).Format(time.DateOnly) +
		"|" + k.OwnerID + "|" + k.ActivityID
}

// DateOf truncates t to its calendar date in UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type LedgerEntryType string

const (
	LedgerImport LedgerEntryType = "IMPORT"
	LedgerExport LedgerEntryType = "EXPORT"
)

type LedgerSourceKind string

const (
	LedgerFromDeliveryItem LedgerSourceKind = "DELIVERY_ITEM"
	LedgerFromStockLot     LedgerSourceKind = "STOCK_LOT"
	LedgerFromAidRequest   LedgerSourceKind = "AID_REQUEST"
	LedgerFromDirect       LedgerSourceKind = "DIRECT"
)

// LedgerSource is what a detail line points at: exactly one of a delivery
// item, a stock lot, an aid request (self-shipping) or a direct entry.
type LedgerSource struct {
	Kind  LedgerSourceKind `json:"kind"`
	RefID string           `json:"ref_id,omitempty"`
}

type LedgerDetail struct {
	Source     LedgerSource    `json:"source"`
	StockLotID string          `json:"stock_lot_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	Note       string          `json:"note,omitempty"`
}

// LedgerEntry is one audited import or export event at a branch.
type LedgerEntry struct {
	ID        string          `json:"id"`
	BranchID  string          `json:"branch_id"`
	Type      LedgerEntryType `json:"type"`
	Private   bool            `json:"private"`
	Note      string          `json:"note,omitempty"`
	Details   []LedgerDetail  `json:"details"`
	CreatedAt time.Time       `json:"created_at"`
	Version   int64           `json:"-"`
}

// StatusChange is what the notification dispatcher is told after a transition.
type StatusChange struct {
	Entity   string `json:"entity"`
	EntityID string `json:"entity_id"`
	UserID   string `json:"user_id,omitempty"`
	BranchID string `json:"branch_id,omitempty"`
	Status   string `json:"status"`
}
