package services

import (
	"context"
	"testing"
	"time"

	"donation-logistics-service/internal/domain"
	"donation-logistics-service/internal/ports"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	locDonor3 = "9.995000,106.005000-3 Third Street"
	driverD   = "driver-d"
)

var routeStart = t0.Add(25 * time.Hour)

func (e *env) route(t *testing.T, ids ...string) *domain.ScheduledRoute {
	t.Helper()
	r, err := e.scheduler.Propose(context.Background(), ProposeRouteInput{DeliveryRequestIDs: ids, StartTime: routeStart})
	require.NoError(t, err)
	return r
}

// startedRoute proposes, accepts and starts a route over ids for driverD.
func (e *env) startedRoute(t *testing.T, ids ...string) *domain.ScheduledRoute {
	t.Helper()
	ctx := context.Background()
	r := e.route(t, ids...)
	_, err := e.scheduler.Accept(ctx, r.ID, driverD)
	require.NoError(t, err)
	r, err = e.scheduler.Start(ctx, r.ID, driverD, domain.Coordinates{Lat: 10, Lon: 106})
	require.NoError(t, err)
	return r
}

func (e *env) advanceToDone(t *testing.T, routeID string, order int, received map[string]decimal.Decimal) *domain.ScheduledRoute {
	t.Helper()
	var r *domain.ScheduledRoute
	for step := 0; step < 3; step++ {
		var err error
		r, err = e.scheduler.AdvanceStop(context.Background(), routeID, driverD, order, received)
		require.NoError(t, err)
	}
	return r
}

func TestProposeBindsDeliveries(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	req, d1 := e.acceptedDonation(t, locDonor, 2, "b1")
	_, d2 := e.acceptedDonation(t, locDonor2, 3, "b1")

	r, err := e.scheduler.Propose(ctx, ProposeRouteInput{
		DeliveryRequestIDs: []string{d1.ID, d2.ID},
		StartTime:          routeStart,
		OptimizeOrder:      true,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.RoutePending, r.Status)
	assert.Equal(t, "b1", r.HomeBranchID)
	require.Len(t, r.Stops, 2)
	// locDonor2 is closer to the home branch.
	assert.Equal(t, d2.ID, r.Stops[0].DeliveryRequestID)
	assert.Equal(t, locDonor2, r.Stops[0].Destination)
	assert.Equal(t, 1, r.Stops[0].Order)
	assert.Equal(t, 2, r.Stops[1].Order)
	for _, st := range r.Stops {
		assert.Equal(t, domain.StopScheduled, st.Status)
		assert.Positive(t, st.DistanceToNextMeters)
	}
	assert.Positive(t, r.TotalDistanceMeters)
	assert.Positive(t, r.TotalDurationSeconds)

	for _, id := range []string{d1.ID, d2.ID} {
		d := e.delivery(t, id)
		assert.Equal(t, domain.DeliveryAccepted, d.Status)
		assert.Equal(t, r.ID, d.RouteID)
	}

	got, err := e.lifecycle.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestProcessing, got.Status)

	_, err = e.scheduler.Propose(ctx, ProposeRouteInput{DeliveryRequestIDs: []string{d1.ID}, StartTime: routeStart})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestProposeKeepsGivenOrder(t *testing.T) {
	e := newEnv(t)

	_, d1 := e.acceptedDonation(t, locDonor, 2, "b1")
	_, d2 := e.acceptedDonation(t, locDonor2, 3, "b1")

	r := e.route(t, d1.ID, d2.ID)
	assert.Equal(t, d1.ID, r.Stops[0].DeliveryRequestID)
	assert.Equal(t, d2.ID, r.Stops[1].DeliveryRequestID)
}

func TestProposeRejectsMixedGroups(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, d1 := e.acceptedDonation(t, locDonor, 2, "b1")
	_, other := e.acceptedDonation(t, locDonor, 2, "b2")

	_, err := e.scheduler.Propose(ctx, ProposeRouteInput{DeliveryRequestIDs: []string{d1.ID, other.ID}, StartTime: routeStart})
	assert.ErrorIs(t, err, domain.ErrValidation)

	e.stock(t, "b1", "rice", 10, date(2024, 6, 1))
	aid := e.confirmedAid(t, "b1", 2)
	_, err = e.scheduler.Propose(ctx, ProposeRouteInput{DeliveryRequestIDs: []string{d1.ID, aid.ID}, StartTime: routeStart})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = e.scheduler.Propose(ctx, ProposeRouteInput{DeliveryRequestIDs: []string{d1.ID, d1.ID}, StartTime: routeStart})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = e.scheduler.Propose(ctx, ProposeRouteInput{StartTime: routeStart})
	assert.ErrorIs(t, err, domain.ErrValidation)

	// Nothing was bound by the failed proposals.
	assert.Empty(t, e.delivery(t, d1.ID).RouteID)
}

func TestProposeRejectsInfeasibleLeg(t *testing.T) {
	e := newEnv(t)

	far := domain.DeliveryRequest{
		ID:           "far-leg",
		Type:         domain.DonorToBranch,
		ToBranchID:   "b1",
		FromLocation: locFar,
		ToLocation:   locBranch1,
		Status:       domain.DeliveryPending,
		Window:       window(24, 28),
	}
	err := e.store.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		return tx.Deliveries().Insert(ctx, &far)
	})
	require.NoError(t, err)

	_, err = e.scheduler.Propose(context.Background(), ProposeRouteInput{DeliveryRequestIDs: []string{far.ID}, StartTime: routeStart})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, domain.DeliveryPending, e.delivery(t, far.ID).Status)
}

func TestAcceptRoute(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, d1 := e.acceptedDonation(t, locDonor, 2, "b1")
	r := e.route(t, d1.ID)

	accepted, err := e.scheduler.Accept(ctx, r.ID, driverD)
	require.NoError(t, err)
	assert.Equal(t, domain.RouteAccepted, accepted.Status)
	assert.Equal(t, driverD, accepted.DriverID)
	assert.NotNil(t, accepted.AcceptedAt)

	_, err = e.scheduler.Accept(ctx, r.ID, "driver-e")
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, d2 := e.acceptedDonation(t, locDonor2, 2, "b1")
	assigned, err := e.scheduler.Propose(ctx, ProposeRouteInput{DeliveryRequestIDs: []string{d2.ID}, StartTime: routeStart, DriverID: driverD})
	require.NoError(t, err)
	_, err = e.scheduler.Accept(ctx, assigned.ID, "driver-e")
	assert.ErrorIs(t, err, domain.ErrConflict)
}

// A driver on a three-stop route may not finish stop 2 while stop 1 is
// still open.
func TestAdvanceStopEnforcesOrder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, d1 := e.acceptedDonation(t, locDonor, 2, "b1")
	_, d2 := e.acceptedDonation(t, locDonor2, 3, "b1")
	_, d3 := e.acceptedDonation(t, locDonor3, 4, "b1")
	r := e.startedRoute(t, d1.ID, d2.ID, d3.ID)

	_, err := e.scheduler.AdvanceStop(ctx, r.ID, driverD, 2, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = e.scheduler.AdvanceStop(ctx, r.ID, "driver-e", 1, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	r, err = e.scheduler.AdvanceStop(ctx, r.ID, driverD, 1, nil)
	require.NoError(t, err)
	stop, _ := r.Stop(1)
	assert.Equal(t, domain.StopInProgress, stop.Status)
	assert.Equal(t, domain.DeliveryShipping, e.delivery(t, d1.ID).Status)

	// Still refused: stop 1 is only in progress.
	_, err = e.scheduler.AdvanceStop(ctx, r.ID, driverD, 2, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	for step := 0; step < 2; step++ {
		_, err = e.scheduler.AdvanceStop(ctx, r.ID, driverD, 1, nil)
		require.NoError(t, err)
	}
	_, err = e.scheduler.AdvanceStop(ctx, r.ID, driverD, 2, nil)
	assert.NoError(t, err)

	_, err = e.scheduler.AdvanceStop(ctx, r.ID, driverD, 9, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDonationRouteEndToEnd(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	req, d := e.acceptedDonation(t, locDonor, 10, "b1")
	r := e.startedRoute(t, d.ID)

	assert.Equal(t, domain.RouteProcessing, r.Status)
	assert.NotNil(t, r.StartPosition)
	assert.Equal(t, domain.DeliveryCollected, e.delivery(t, d.ID).Status)

	itemID := d.Items[0].ID
	_, err := e.scheduler.AdvanceStop(ctx, r.ID, driverD, 1, nil)
	require.NoError(t, err)
	_, err = e.scheduler.AdvanceStop(ctx, r.ID, driverD, 1, nil)
	require.NoError(t, err)

	_, err = e.scheduler.AdvanceStop(ctx, r.ID, driverD, 1, map[string]decimal.Decimal{itemID: dec(11)})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = e.scheduler.AdvanceStop(ctx, r.ID, driverD, 1, map[string]decimal.Decimal{"other": dec(1)})
	assert.ErrorIs(t, err, domain.ErrValidation)

	r, err = e.scheduler.AdvanceStop(ctx, r.ID, driverD, 1, map[string]decimal.Decimal{itemID: dec(8)})
	require.NoError(t, err)

	assert.Equal(t, domain.RouteFinished, r.Status)
	assert.NotNil(t, r.FinishedAt)
	assert.Equal(t, domain.StopReceived, r.Stops[0].Status)

	finished := e.delivery(t, d.ID)
	assert.Equal(t, domain.DeliveryFinished, finished.Status)
	assert.Equal(t, "8", finished.Items[0].Received().String())

	got, err := e.lifecycle.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestFinished, got.Status)
	assert.Equal(t, []string{"ACCEPTED", "PROCESSING", "FINISHED"}, e.notifier.statuses("request", req.ID))

	have, err := e.ledger.AvailableQuantity(ctx, "b1", "rice", "")
	require.NoError(t, err)
	assert.Equal(t, "8", have.String())

	history, err := e.ledger.BranchHistory(ctx, "b1", false)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.LedgerImport, history[0].Type)
	assert.Equal(t, domain.LedgerSource{Kind: domain.LedgerFromDeliveryItem, RefID: itemID}, history[0].Details[0].Source)

	lot := e.lot(t, history[0].Details[0].StockLotID)
	assert.Equal(t, "donor-1", lot.OwnerID)
	assert.True(t, lot.ExpirationDate.Equal(domain.DateOf(t0).AddDate(0, 0, 180)))

	_, err = e.scheduler.Finish(ctx, r.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

// confirmedAid creates a branch-to-aid leg from branchID for qty rice.
func (e *env) confirmedAid(t *testing.T, branchID string, qty int64) domain.DeliveryRequest {
	t.Helper()
	ctx := context.Background()

	req, offers, err := e.lifecycle.Submit(ctx, aidRequest(locCharity, domain.AidTarget{Kind: domain.TargetCharityUnit, CharityUnitID: "kitchen"}, qty))
	require.NoError(t, err)
	_, err = e.lifecycle.AcceptOffer(ctx, offerOf(t, offers, branchID).ID, branchID)
	require.NoError(t, err)
	_, drs, err := e.lifecycle.ConfirmItems(ctx, req.ID, branchID, []ItemConfirmation{
		{RequestItemID: req.Items[0].ID, Quantity: dec(qty)},
	})
	require.NoError(t, err)
	require.Len(t, drs, 1)
	return drs[0]
}

func TestAidRouteDrawsStockAtStart(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first := e.stock(t, "b1", "rice", 5, date(2024, 1, 10))
	second := e.stock(t, "b1", "rice", 8, date(2024, 2, 1))

	d := e.confirmedAid(t, "b1", 6)
	r := e.startedRoute(t, d.ID)

	assert.True(t, e.lot(t, first.ID).Quantity.IsZero())
	assert.Equal(t, "7", e.lot(t, second.ID).Quantity.String())

	started := e.delivery(t, d.ID)
	require.NotNil(t, started.Items[0].ExpirationDate)
	assert.True(t, started.Items[0].ExpirationDate.Equal(date(2024, 1, 10)))

	history, err := e.ledger.BranchHistory(ctx, "b1", false)
	require.NoError(t, err)
	var exports []domain.LedgerEntry
	for _, entry := range history {
		if entry.Type == domain.LedgerExport {
			exports = append(exports, entry)
		}
	}
	require.Len(t, exports, 1)
	require.Len(t, exports[0].Details, 2)
	for _, det := range exports[0].Details {
		assert.Equal(t, domain.LedgerSource{Kind: domain.LedgerFromDeliveryItem, RefID: started.Items[0].ID}, det.Source)
	}

	r = e.advanceToDone(t, r.ID, 1, nil)
	assert.Equal(t, domain.RouteFinished, r.Status)
	assert.Equal(t, domain.StopDelivered, r.Stops[0].Status)

	// Nothing comes back into stock for a leg that ends at a charity.
	have, err := e.ledger.AvailableQuantity(ctx, "b1", "rice", "")
	require.NoError(t, err)
	assert.Equal(t, "7", have.String())
}

func TestStartFailsWithoutStock(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	lot := e.stock(t, "b1", "rice", 6, date(2024, 6, 1))
	d := e.confirmedAid(t, "b1", 6)
	r := e.route(t, d.ID)
	_, err := e.scheduler.Accept(ctx, r.ID, driverD)
	require.NoError(t, err)

	// Stock leaves through a direct export before the route starts.
	_, err = e.ledger.PostExport(ctx, ExportInput{BranchID: "b1", ItemID: "rice", Quantity: dec(2)})
	require.NoError(t, err)

	_, err = e.scheduler.Start(ctx, r.ID, driverD, domain.Coordinates{})
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	got, err := e.scheduler.GetRoute(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RouteAccepted, got.Status)
	assert.Equal(t, "4", e.lot(t, lot.ID).Quantity.String())
	assert.Equal(t, domain.DeliveryAccepted, e.delivery(t, d.ID).Status)
}

// Goods moved between branches leave one branch and arrive at the other:
// the network total only drops by what was lost on the way.
func TestTransferConservesStock(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.stock(t, "b2", "rice", 5, date(2024, 3, 1))

	req, offers, err := e.lifecycle.Submit(ctx, aidRequest(locBranch3, domain.AidTarget{Kind: domain.TargetBranch, BranchID: "b3"}, 4))
	require.NoError(t, err)
	_, err = e.lifecycle.AcceptOffer(ctx, offerOf(t, offers, "b2").ID, "b2")
	require.NoError(t, err)
	_, drs, err := e.lifecycle.ConfirmItems(ctx, req.ID, "b2", []ItemConfirmation{{RequestItemID: req.Items[0].ID, Quantity: dec(4)}})
	require.NoError(t, err)

	r := e.startedRoute(t, drs[0].ID)
	itemID := drs[0].Items[0].ID
	r = e.advanceToDone(t, r.ID, 1, map[string]decimal.Decimal{itemID: dec(3)})
	assert.Equal(t, domain.RouteFinished, r.Status)
	assert.Equal(t, domain.StopReceived, r.Stops[0].Status)

	atB2, err := e.ledger.AvailableQuantity(ctx, "b2", "rice", "")
	require.NoError(t, err)
	atB3, err := e.ledger.AvailableQuantity(ctx, "b3", "rice", "")
	require.NoError(t, err)
	assert.Equal(t, "1", atB2.String())
	assert.Equal(t, "3", atB3.String())

	history, err := e.ledger.BranchHistory(ctx, "b3", false)
	require.NoError(t, err)
	require.Len(t, history, 1)
	lot := e.lot(t, history[0].Details[0].StockLotID)
	assert.True(t, lot.ExpirationDate.Equal(date(2024, 3, 1)))
	assert.Empty(t, lot.OwnerID)
}

// Each source lot's expiration date survives the move: a transfer drawn
// from two lots lands as two lots, and the shortfall comes off the later one.
func TestTransferKeepsLotExpirations(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.stock(t, "b2", "rice", 2, date(2024, 3, 1))
	e.stock(t, "b2", "rice", 3, date(2024, 4, 1))

	req, offers, err := e.lifecycle.Submit(ctx, aidRequest(locBranch3, domain.AidTarget{Kind: domain.TargetBranch, BranchID: "b3"}, 4))
	require.NoError(t, err)
	_, err = e.lifecycle.AcceptOffer(ctx, offerOf(t, offers, "b2").ID, "b2")
	require.NoError(t, err)
	_, drs, err := e.lifecycle.ConfirmItems(ctx, req.ID, "b2", []ItemConfirmation{{RequestItemID: req.Items[0].ID, Quantity: dec(4)}})
	require.NoError(t, err)

	r := e.startedRoute(t, drs[0].ID)
	dispatched := e.delivery(t, drs[0].ID).Items[0]
	require.Len(t, dispatched.Batches, 2)
	assert.True(t, dispatched.Batches[0].ExpirationDate.Equal(date(2024, 3, 1)))
	assert.Equal(t, "2", dispatched.Batches[0].Quantity.String())
	assert.True(t, dispatched.Batches[1].ExpirationDate.Equal(date(2024, 4, 1)))
	assert.Equal(t, "2", dispatched.Batches[1].Quantity.String())
	require.NotNil(t, dispatched.ExpirationDate)
	assert.True(t, dispatched.ExpirationDate.Equal(date(2024, 3, 1)))

	e.advanceToDone(t, r.ID, 1, map[string]decimal.Decimal{dispatched.ID: dec(3)})

	history, err := e.ledger.BranchHistory(ctx, "b3", false)
	require.NoError(t, err)
	require.Len(t, history, 2)
	got := map[string]string{}
	for _, h := range history {
		lot := e.lot(t, h.Details[0].StockLotID)
		got[lot.ExpirationDate.Format(time.DateOnly)] = lot.Quantity.String()
	}
	assert.Equal(t, map[string]string{"2024-03-01": "2", "2024-04-01": "1"}, got)

	atB3, err := e.ledger.AvailableQuantity(ctx, "b3", "rice", "")
	require.NoError(t, err)
	assert.Equal(t, "3", atB3.String())
}

func TestReportAndResolve(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	req, d1 := e.acceptedDonation(t, locDonor, 2, "b1")
	_, d2 := e.acceptedDonation(t, locDonor2, 3, "b1")
	r := e.startedRoute(t, d1.ID, d2.ID)

	_, err := e.scheduler.ReportStop(ctx, r.ID, driverD, 1, " ")
	assert.ErrorIs(t, err, domain.ErrValidation)

	r, err = e.scheduler.ReportStop(ctx, r.ID, driverD, 1, "donor not at home")
	require.NoError(t, err)
	stop, _ := r.Stop(1)
	assert.Equal(t, domain.StopReported, stop.Status)
	assert.Equal(t, "donor not at home", stop.ReportNote)
	assert.Equal(t, domain.DeliveryReported, e.delivery(t, d1.ID).Status)

	_, err = e.scheduler.AdvanceStop(ctx, r.ID, driverD, 1, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = e.scheduler.ResolveReport(ctx, r.ID, 2, ResolveResume, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = e.scheduler.ResolveReport(ctx, r.ID, 1, "ignore", nil)
	assert.ErrorIs(t, err, domain.ErrValidation)

	r, err = e.scheduler.ResolveReport(ctx, r.ID, 1, ResolveResume, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryCollected, e.delivery(t, d1.ID).Status)

	r = e.advanceToDone(t, r.ID, 1, nil)
	_, err = e.scheduler.AdvanceStop(ctx, r.ID, driverD, 2, nil)
	require.NoError(t, err)
	_, err = e.scheduler.ReportStop(ctx, r.ID, driverD, 2, "truck broke down")
	require.NoError(t, err)

	_, err = e.scheduler.Finish(ctx, r.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	// Closing without received quantities books nothing for that stop.
	r, err = e.scheduler.ResolveReport(ctx, r.ID, 2, ResolveClose, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.RouteFinished, r.Status)

	closed := e.delivery(t, d2.ID)
	assert.Equal(t, domain.DeliveryFinished, closed.Status)
	assert.True(t, closed.Items[0].Received().IsZero())

	have, err := e.ledger.AvailableQuantity(ctx, "b1", "rice", "")
	require.NoError(t, err)
	assert.Equal(t, "2", have.String())

	got, err := e.lifecycle.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestFinished, got.Status)
}

// A reported stop waits on the dispatcher while the driver carries on with
// the rest of the route; the route only finishes once it is resolved.
func TestReportedStopDoesNotBlockLaterStops(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, d1 := e.acceptedDonation(t, locDonor, 2, "b1")
	_, d2 := e.acceptedDonation(t, locDonor2, 3, "b1")
	r := e.startedRoute(t, d1.ID, d2.ID)

	_, err := e.scheduler.AdvanceStop(ctx, r.ID, driverD, 2, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = e.scheduler.ReportStop(ctx, r.ID, driverD, 1, "gate locked")
	require.NoError(t, err)

	r = e.advanceToDone(t, r.ID, 2, nil)
	assert.Equal(t, domain.RouteProcessing, r.Status)
	stop, _ := r.Stop(1)
	assert.Equal(t, domain.StopReported, stop.Status)
	stop, _ = r.Stop(2)
	assert.Equal(t, domain.StopReceived, stop.Status)

	_, err = e.scheduler.ResolveReport(ctx, r.ID, 1, ResolveResume, nil)
	require.NoError(t, err)
	r = e.advanceToDone(t, r.ID, 1, nil)
	assert.Equal(t, domain.RouteFinished, r.Status)

	have, err := e.ledger.AvailableQuantity(ctx, "b1", "rice", "")
	require.NoError(t, err)
	assert.Equal(t, "5", have.String())
}

func TestCancelRoute(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, d1 := e.acceptedDonation(t, locDonor, 2, "b1")
	r := e.route(t, d1.ID)
	_, err := e.scheduler.Accept(ctx, r.ID, driverD)
	require.NoError(t, err)

	_, err = e.scheduler.Cancel(ctx, r.ID, "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	canceled, err := e.scheduler.Cancel(ctx, r.ID, "driver sick")
	require.NoError(t, err)
	assert.Equal(t, domain.RouteCanceled, canceled.Status)

	released := e.delivery(t, d1.ID)
	assert.Equal(t, domain.DeliveryPending, released.Status)
	assert.Empty(t, released.RouteID)

	_, err = e.scheduler.Accept(ctx, r.ID, driverD)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	// The released leg can be routed again.
	again := e.startedRoute(t, d1.ID)
	_, err = e.scheduler.Cancel(ctx, again.ID, "too late")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestAttachProof(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.proofs["proofs/d1.jpg"] = true

	_, d1 := e.acceptedDonation(t, locDonor, 2, "b1")
	r := e.startedRoute(t, d1.ID)

	err := e.scheduler.AttachProof(ctx, r.ID, driverD, 1, "proofs/missing.jpg")
	assert.ErrorIs(t, err, domain.ErrValidation)

	require.NoError(t, e.scheduler.AttachProof(ctx, r.ID, driverD, 1, "proofs/d1.jpg"))
	assert.Equal(t, "proofs/d1.jpg", e.delivery(t, d1.ID).ProofURL)
}
