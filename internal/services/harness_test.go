package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"donation-logistics-service/internal/adapters/catalog"
	"donation-logistics-service/internal/adapters/distance"
	"donation-logistics-service/internal/adapters/repositories/memory"
	"donation-logistics-service/internal/domain"
	"donation-logistics-service/internal/platform/clock"
	"donation-logistics-service/internal/ports"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	locBranch1 = "10.000000,106.000000-Branch One"
	locBranch2 = "10.050000,106.000000-Branch Two"
	locBranch3 = "10.100000,106.000000-Branch Three"
	locDonor   = "10.020000,106.000000-12 Donor Street"
	locDonor2  = "10.010000,106.010000-7 Second Street"
	locCharity = "9.990000,106.000000-Charity Kitchen"
	locFar     = "11.000000,106.000000-Far Away"
)

var t0 = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu      sync.Mutex
	changes []domain.StatusChange
	fail    bool
}

func (n *recordingNotifier) NotifyStatusChange(_ context.Context, c domain.StatusChange) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, c)
	if n.fail {
		return errors.New("notification backend down")
	}
	return nil
}

func (n *recordingNotifier) statuses(entity, id string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, c := range n.changes {
		if c.Entity == entity && c.EntityID == id {
			out = append(out, c.Status)
		}
	}
	return out
}

type proofStore map[string]bool

func (p proofStore) Exists(_ context.Context, ref string) (bool, error) { return p[ref], nil }

type env struct {
	store     *memory.Store
	clock     *clock.Fake
	provider  *distance.MockDistanceProvider
	notifier  *recordingNotifier
	proofs    proofStore
	geo       *GeoMatcher
	ledger    *StockLedger
	lifecycle *RequestLifecycle
	grouper   *DeliveryGrouper
	scheduler *RouteScheduler
}

// newEnv wires every service over the memory store. Distances not pinned
// by a test fall back to the straight-line estimate.
func newEnv(t *testing.T) *env {
	t.Helper()

	log := zaptest.NewLogger(t)
	e := &env{
		store:    memory.NewStore(),
		clock:    clock.NewFake(t0),
		provider: distance.NewMockDistanceProvider(nil).WithFallback(distance.StraightLineProvider{}),
		notifier: &recordingNotifier{},
		proofs:   proofStore{},
	}
	cfg := DefaultGeoMatcherConfig()
	cfg.Timeout = 200 * time.Millisecond
	e.geo = NewGeoMatcher(e.provider, cfg, log)
	e.ledger = NewStockLedger(e.store, catalog.New(e.store), e.clock, log)
	e.lifecycle = NewRequestLifecycle(e.store, e.geo, e.ledger, e.notifier, e.clock, log)
	e.grouper = NewDeliveryGrouper(e.store)
	e.scheduler = NewRouteScheduler(e.store, e.geo, e.ledger, e.notifier, e.proofs, e.clock, log)

	e.seed(t,
		[]domain.Branch{
			{ID: "b1", Name: "Branch One", Location: locBranch1, Active: true},
			{ID: "b2", Name: "Branch Two", Location: locBranch2, Active: true},
			{ID: "b3", Name: "Branch Three", Location: locBranch3, Active: true},
		},
		[]domain.Item{
			{ID: "rice", Name: "Rice", Unit: "kg", ShelfLifeDays: 180},
			{ID: "milk", Name: "Milk", Unit: "l", ShelfLifeDays: 10},
		},
	)
	return e
}

func (e *env) seed(t *testing.T, branches []domain.Branch, items []domain.Item) {
	t.Helper()
	err := e.store.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		for i := range branches {
			if err := tx.Branches().Save(ctx, &branches[i]); err != nil {
				return err
			}
		}
		for i := range items {
			if err := tx.Items().Save(ctx, &items[i]); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func (e *env) stock(t *testing.T, branchID, itemID string, qty int64, exp time.Time) *domain.StockLot {
	t.Helper()
	lot, err := e.ledger.PostImport(context.Background(), ImportInput{
		BranchID:       branchID,
		ItemID:         itemID,
		ExpirationDate: exp,
		Quantity:       decimal.NewFromInt(qty),
	})
	require.NoError(t, err)
	return lot
}

func window(fromHours, toHours int) domain.TimeWindow {
	return domain.TimeWindow{
		Start: t0.Add(time.Duration(fromHours) * time.Hour),
		End:   t0.Add(time.Duration(toHours) * time.Hour),
	}
}

func donation(location string, qty int64, windows ...domain.TimeWindow) SubmitRequestInput {
	if len(windows) == 0 {
		windows = []domain.TimeWindow{window(24, 28)}
	}
	return SubmitRequestInput{
		Kind:        domain.RequestDonation,
		RequesterID: "donor-1",
		Location:    location,
		Items:       []SubmitItem{{ItemID: "rice", Quantity: decimal.NewFromInt(qty)}},
		Windows:     windows,
	}
}

func offerOf(t *testing.T, offers []domain.Offer, branchID string) domain.Offer {
	t.Helper()
	for _, o := range offers {
		if o.BranchID == branchID {
			return o
		}
	}
	t.Fatalf("no offer for branch %s", branchID)
	return domain.Offer{}
}

// acceptedDonation runs a donation through submit, accept and confirm and
// returns its single delivery leg.
func (e *env) acceptedDonation(t *testing.T, location string, qty int64, branchID string) (*domain.Request, domain.DeliveryRequest) {
	t.Helper()
	ctx := context.Background()

	req, offers, err := e.lifecycle.Submit(ctx, donation(location, qty))
	require.NoError(t, err)
	_, err = e.lifecycle.AcceptOffer(ctx, offerOf(t, offers, branchID).ID, branchID)
	require.NoError(t, err)

	req, drs, err := e.lifecycle.ConfirmItems(ctx, req.ID, branchID, []ItemConfirmation{
		{RequestItemID: req.Items[0].ID, Quantity: decimal.NewFromInt(qty)},
	})
	require.NoError(t, err)
	require.Len(t, drs, 1)
	return req, drs[0]
}

func (e *env) delivery(t *testing.T, id string) *domain.DeliveryRequest {
	t.Helper()
	var d *domain.DeliveryRequest
	err := e.store.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		var err error
		d, err = tx.Deliveries().Get(ctx, id)
		return err
	})
	require.NoError(t, err)
	return d
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }
