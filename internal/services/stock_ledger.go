package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"donation-logistics-service/internal/domain"
	"donation-logistics-service/internal/platform/clock"
	"donation-logistics-service/internal/platform/obs"
	"donation-logistics-service/internal/ports"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Shelf life assumed for imports whose item has none in the catalog.
const defaultShelfLifeDays = 30

var lotNamespace = uuid.MustParse("6f1c3e0a-8d52-4c2b-9a71-3b0e5d4c2f18")

// LotID is the id of the lot a key addresses. Two units creating the same
// lot insert the same id, so the later commit fails with ErrConflict.
func LotID(key domain.LotKey) string {
	return uuid.NewSHA1(lotNamespace, []byte(key.String())).String()
}

// StockLedger owns every quantity-affecting change to stock lots and the
// audit entries that explain it.
type StockLedger struct {
	store   ports.Store
	catalog ports.Catalog
	clock   clock.Clock
	log     *zap.Logger
}

func NewStockLedger(store ports.Store, catalog ports.Catalog, clk clock.Clock, log *zap.Logger) *StockLedger {
	if log == nil {
		log = zap.NewNop()
	}
	return &StockLedger{store: store, catalog: catalog, clock: clk, log: log}
}

type ImportInput struct {
	BranchID       string          `validate:"required"`
	ItemID         string          `validate:"required"`
	ExpirationDate time.Time       `validate:"required"`
	Quantity       decimal.Decimal `validate:"positive"`
	OwnerID        string
	ActivityID     string
	// Zero value means a direct entry.
	Source domain.LedgerSource
	Note   string `validate:"max=500"`
}

type ExportInput struct {
	BranchID string          `validate:"required"`
	ItemID   string          `validate:"required"`
	Quantity decimal.Decimal `validate:"positive"`
	// Only lots of this activity are drawn from; empty means general stock.
	ActivityID string
	// Manual export: exactly these lots, in this order.
	LotIDs []string `validate:"omitempty,unique,dive,required"`
	// Zero value points each detail at the consumed lot.
	Source domain.LedgerSource
	// Self-shipping: the goods are handed over at the branch for this aid
	// request, which must be accepted by BranchID. Excludes Source.
	AidRequestID string
	Note         string `validate:"max=500"`
}

// PostImport runs Import in its own transaction, rerun on conflict.
func (s *StockLedger) PostImport(ctx context.Context, in ImportInput) (lot *domain.StockLot, err error) {
	defer obs.Time(ctx, "ledger.PostImport")(&err)

	err = withinTxRetry(ctx, s.store, func(ctx context.Context, tx ports.Tx) error {
		var err error
		lot, err = s.Import(ctx, tx, in)
		return err
	})
	if err != nil {
		return nil, wrap("post import", err)
	}
	return lot, nil
}

// Import adds quantity to the lot keyed by (item, expiration date, branch,
// owner, activity), creating it when missing, and records one IMPORT entry
// with one detail line.
func (s *StockLedger) Import(ctx context.Context, tx ports.Tx, in ImportInput) (*domain.StockLot, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if _, err := tx.Branches().Get(ctx, in.BranchID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	expiration := domain.DateOf(in.ExpirationDate)
	key := domain.LotKey{
		BranchID:       in.BranchID,
		ItemID:         in.ItemID,
		ExpirationDate: expiration,
		OwnerID:        in.OwnerID,
		ActivityID:     in.ActivityID,
	}

	lot, err := tx.StockLots().FindByKey(ctx, key)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		item, err := s.catalog.GetItem(ctx, in.ItemID)
		if err != nil {
			return nil, err
		}
		lot = &domain.StockLot{
			ID:               LotID(key),
			BranchID:         in.BranchID,
			ItemID:           in.ItemID,
			ExpirationDate:   expiration,
			Quantity:         in.Quantity,
			ImportedQuantity: in.Quantity,
			Code:             StockCode(item.Name, expiration),
			Status:           domain.LotValid,
			OwnerID:          in.OwnerID,
			ActivityID:       in.ActivityID,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		// Goods that arrive already past their date are kept for the record.
		if expiration.Before(domain.DateOf(now)) {
			lot.Status = domain.LotExpired
		}
		if err := tx.StockLots().Insert(ctx, lot); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		lot.Quantity = lot.Quantity.Add(in.Quantity)
		lot.ImportedQuantity = lot.ImportedQuantity.Add(in.Quantity)
		lot.UpdatedAt = now
		if err := tx.StockLots().Update(ctx, lot); err != nil {
			return nil, err
		}
	}

	source := in.Source
	if source.Kind == "" {
		source = domain.LedgerSource{Kind: domain.LedgerFromDirect}
	}

	entry := &domain.LedgerEntry{
		ID:       newID(),
		BranchID: in.BranchID,
		Type:     domain.LedgerImport,
		Private:  in.ActivityID != "",
		Note:     in.Note,
		Details: []domain.LedgerDetail{{
			Source:     source,
			StockLotID: lot.ID,
			Quantity:   in.Quantity,
		}},
		CreatedAt: now,
	}
	if err := tx.Ledger().Insert(ctx, entry); err != nil {
		return nil, err
	}

	return lot, nil
}

// PostExport runs Export in its own transaction, rerun on conflict.
func (s *StockLedger) PostExport(ctx context.Context, in ExportInput) (entries []domain.LedgerEntry, err error) {
	defer obs.Time(ctx, "ledger.PostExport")(&err)

	err = withinTxRetry(ctx, s.store, func(ctx context.Context, tx ports.Tx) error {
		var err error
		entries, err = s.Export(ctx, tx, in)
		return err
	})
	if err != nil {
		return nil, wrap("post export", err)
	}
	return entries, nil
}

// Export removes quantity from a branch's stock, earliest expiration first,
// or from the given lots for a manual export. When the usable quantity falls
// short it fails with *domain.InsufficientStockError and writes nothing.
// Each consumed lot is one detail line; lots are split into one entry per
// privacy class.
func (s *StockLedger) Export(ctx context.Context, tx ports.Tx, in ExportInput) ([]domain.LedgerEntry, error) {
	if in.AidRequestID != "" {
		source, err := s.selfShippingSource(ctx, tx, in)
		if err != nil {
			return nil, err
		}
		in.Source = source
	}

	allocs, err := s.allocate(ctx, tx, in)
	if err != nil {
		return nil, err
	}
	return s.commitExport(ctx, tx, in, allocs)
}

// selfShippingSource checks that the aid request is live and was accepted
// by the exporting branch.
func (s *StockLedger) selfShippingSource(ctx context.Context, tx ports.Tx, in ExportInput) (domain.LedgerSource, error) {
	if in.Source.Kind != "" {
		return domain.LedgerSource{}, domain.NewValidationError("aid_request_id", "cannot be combined with an explicit source")
	}

	r, err := tx.Requests().Get(ctx, in.AidRequestID)
	if err != nil {
		return domain.LedgerSource{}, err
	}
	if r.Kind != domain.RequestAid {
		return domain.LedgerSource{}, domain.NewValidationError("aid_request_id", "request %s is a %s request", r.ID, r.Kind)
	}
	if r.AcceptedBranchID != in.BranchID {
		return domain.LedgerSource{}, domain.NewValidationError("aid_request_id", "request %s is not accepted by branch %s", r.ID, in.BranchID)
	}
	if r.Status != domain.RequestAccepted && r.Status != domain.RequestProcessing {
		return domain.LedgerSource{}, fmt.Errorf("aid request %s is %s: %w", r.ID, r.Status, domain.ErrInvalidState)
	}
	return domain.LedgerSource{Kind: domain.LedgerFromAidRequest, RefID: r.ID}, nil
}

type allocation struct {
	lot      *domain.StockLot
	quantity decimal.Decimal
}

func (s *StockLedger) allocate(ctx context.Context, tx ports.Tx, in ExportInput) ([]allocation, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	now := s.clock.Now()

	var lots []*domain.StockLot
	if len(in.LotIDs) > 0 {
		for _, id := range in.LotIDs {
			lot, err := tx.StockLots().Get(ctx, id)
			if err != nil {
				return nil, err
			}
			if lot.BranchID != in.BranchID || lot.ItemID != in.ItemID {
				return nil, domain.NewValidationError("lot_ids", "lot %s does not hold item %s at branch %s", id, in.ItemID, in.BranchID)
			}
			if lot.Usable(now) {
				lots = append(lots, lot)
			}
		}
	} else {
		all, err := tx.StockLots().ListByBranchItem(ctx, in.BranchID, in.ItemID)
		if err != nil {
			return nil, err
		}
		for _, lot := range all {
			if lot.Usable(now) && lot.ActivityID == in.ActivityID {
				lots = append(lots, lot)
			}
		}
		sortByExpiration(lots)
	}

	available := decimal.Zero
	for _, lot := range lots {
		available = available.Add(lot.Quantity)
	}
	if available.LessThan(in.Quantity) {
		return nil, &domain.InsufficientStockError{
			BranchID:  in.BranchID,
			ItemID:    in.ItemID,
			Requested: in.Quantity,
			Available: available,
		}
	}

	remaining := in.Quantity
	allocs := make([]allocation, 0, len(lots))
	for _, lot := range lots {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(lot.Quantity, remaining)
		allocs = append(allocs, allocation{lot: lot, quantity: take})
		remaining = remaining.Sub(take)
	}
	return allocs, nil
}

func (s *StockLedger) commitExport(ctx context.Context, tx ports.Tx, in ExportInput, allocs []allocation) ([]domain.LedgerEntry, error) {
	now := s.clock.Now()

	byPrivacy := map[bool]*domain.LedgerEntry{}
	order := make([]bool, 0, 2)
	for _, a := range allocs {
		a.lot.Quantity = a.lot.Quantity.Sub(a.quantity)
		a.lot.UpdatedAt = now
		if err := tx.StockLots().Update(ctx, a.lot); err != nil {
			return nil, err
		}

		source := in.Source
		if source.Kind == "" {
			source = domain.LedgerSource{Kind: domain.LedgerFromStockLot, RefID: a.lot.ID}
		}

		private := a.lot.ActivityID != ""
		entry, ok := byPrivacy[private]
		if !ok {
			entry = &domain.LedgerEntry{
				ID:        newID(),
				BranchID:  in.BranchID,
				Type:      domain.LedgerExport,
				Private:   private,
				Note:      in.Note,
				CreatedAt: now,
			}
			byPrivacy[private] = entry
			order = append(order, private)
		}
		entry.Details = append(entry.Details, domain.LedgerDetail{
			Source:     source,
			StockLotID: a.lot.ID,
			Quantity:   a.quantity,
		})
	}

	out := make([]domain.LedgerEntry, 0, len(order))
	for _, private := range order {
		entry := byPrivacy[private]
		if err := tx.Ledger().Insert(ctx, entry); err != nil {
			return nil, err
		}
		out = append(out, *entry)
	}
	return out, nil
}

// ExpireLots flips VALID lots whose expiration date has passed to EXPIRED.
// Quantities are left as they are.
func (s *StockLedger) ExpireLots(ctx context.Context) (n int, err error) {
	defer obs.Time(ctx, "ledger.ExpireLots")(&err)

	today := domain.DateOf(s.clock.Now())
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		lots, err := tx.StockLots().ListByStatus(ctx, domain.LotValid)
		if err != nil {
			return err
		}
		for _, lot := range lots {
			if !lot.ExpirationDate.Before(today) {
				continue
			}
			lot.Status = domain.LotExpired
			lot.UpdatedAt = s.clock.Now()
			if err := tx.StockLots().Update(ctx, lot); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, wrap("expire lots", err)
	}
	if n > 0 {
		s.log.Info("stock lots expired", zap.Int("count", n))
	}
	return n, nil
}

// BranchHistory lists a branch's ledger entries oldest first. The public
// projection leaves out entries of activity-scoped stock.
func (s *StockLedger) BranchHistory(ctx context.Context, branchID string, includePrivate bool) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		if _, err := tx.Branches().Get(ctx, branchID); err != nil {
			return err
		}
		entries, err := tx.Ledger().ListByBranch(ctx, branchID)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.Private && !includePrivate {
				continue
			}
			out = append(out, *e)
		}
		return nil
	})
	if err != nil {
		return nil, wrap("branch history", err)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// AvailableQuantity sums the usable lots of an item at a branch within an
// activity scope (empty for general stock).
func (s *StockLedger) AvailableQuantity(ctx context.Context, branchID, itemID, activityID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		var err error
		total, err = s.available(ctx, tx, branchID, itemID, activityID)
		return err
	})
	if err != nil {
		return decimal.Zero, wrap("available quantity", err)
	}
	return total, nil
}

func (s *StockLedger) available(ctx context.Context, tx ports.Tx, branchID, itemID, activityID string) (decimal.Decimal, error) {
	lots, err := tx.StockLots().ListByBranchItem(ctx, branchID, itemID)
	if err != nil {
		return decimal.Zero, err
	}
	now := s.clock.Now()
	total := decimal.Zero
	for _, lot := range lots {
		if lot.Usable(now) && lot.ActivityID == activityID {
			total = total.Add(lot.Quantity)
		}
	}
	return total, nil
}

// defaultExpiration is the date used for incoming goods with no known
// expiration: today plus the item's shelf life.
func (s *StockLedger) defaultExpiration(ctx context.Context, itemID string) (time.Time, error) {
	item, err := s.catalog.GetItem(ctx, itemID)
	if err != nil {
		return time.Time{}, err
	}
	days := item.ShelfLifeDays
	if days <= 0 {
		days = defaultShelfLifeDays
	}
	return domain.DateOf(s.clock.Now()).AddDate(0, 0, days), nil
}

func sortByExpiration(lots []*domain.StockLot) {
	sort.SliceStable(lots, func(i, j int) bool {
		a, b := lots[i], lots[j]
		if !a.ExpirationDate.Equal(b.ExpirationDate) {
			return a.ExpirationDate.Before(b.ExpirationDate)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// StockCode builds the human-readable lot code ITEMNAME-YYYYMMDD-XXXXXX.
func StockCode(itemName string, expiration time.Time) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(itemName) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-' || r == '_':
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "_") {
				b.WriteByte('_')
			}
		}
	}
	name := strings.Trim(b.String(), "_")
	if name == "" {
		name = "ITEM"
	}

	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("%s-%s-%s", name, expiration.Format("20060102"), suffix)
}
