package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"donation-logistics-service/internal/domain"
	"donation-logistics-service/internal/platform/clock"
	"donation-logistics-service/internal/platform/obs"
	"donation-logistics-service/internal/ports"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RouteScheduler turns groups of delivery legs into driver routes and walks
// them stop by stop, moving stock in and out of branches as goods travel.
type RouteScheduler struct {
	store    ports.Store
	geo      *GeoMatcher
	ledger   *StockLedger
	notifier ports.Notifier
	proofs   ports.ObjectStore
	clock    clock.Clock
	log      *zap.Logger
}

func NewRouteScheduler(
	store ports.Store,
	geo *GeoMatcher,
	ledger *StockLedger,
	notifier ports.Notifier,
	proofs ports.ObjectStore,
	clk clock.Clock,
	log *zap.Logger,
) *RouteScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &RouteScheduler{
		store:    store,
		geo:      geo,
		ledger:   ledger,
		notifier: notifier,
		proofs:   proofs,
		clock:    clk,
		log:      log,
	}
}

type ProposeRouteInput struct {
	DeliveryRequestIDs []string  `json:"delivery_request_ids" validate:"required,min=1,unique,dive,required"`
	StartTime          time.Time `json:"start_time" validate:"required"`
	// Pre-assigns the route; only this driver may accept it.
	DriverID string `json:"driver_id"`
	// Reorders stops nearest-first from the home branch. Otherwise stops
	// keep the given order.
	OptimizeOrder bool `json:"optimize_order"`
}

// Propose creates a PENDING route over legs that share a home branch and
// binds them to it. Distances are resolved between the read and the write
// transaction; a leg touched in between fails the call with
// domain.ErrConflict.
func (s *RouteScheduler) Propose(ctx context.Context, in ProposeRouteInput) (route *domain.ScheduledRoute, err error) {
	defer obs.Time(ctx, "routes.Propose")(&err)

	if err := validateInput(in); err != nil {
		return nil, wrap("propose route", err)
	}

	var (
		drs  []*domain.DeliveryRequest
		home *domain.Branch
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		drs = drs[:0]
		for _, id := range in.DeliveryRequestIDs {
			d, err := tx.Deliveries().Get(ctx, id)
			if err != nil {
				return err
			}
			drs = append(drs, d)
		}
		if err := checkRoutable(drs); err != nil {
			return err
		}
		var err error
		home, err = tx.Branches().Get(ctx, drs[0].HomeBranchID())
		return err
	})
	if err != nil {
		return nil, wrap("propose route", err)
	}

	stops := make([]PlannedStop, 0, len(drs))
	for _, d := range drs {
		if err := s.geo.CheckFeasible(ctx, d.FromLocation, d.ToLocation); err != nil {
			return nil, fmt.Errorf("propose route: delivery request %s: %w", d.ID, err)
		}
		stops = append(stops, PlannedStop{ID: d.ID, Location: stopLocation(d)})
	}

	if in.OptimizeOrder {
		stops, err = PlanStopOrder(ctx, s.geo, home.Location, stops)
		if err != nil {
			return nil, wrap("propose route", err)
		}
	}

	plan, err := MeasureStops(ctx, s.geo, home.Location, stops, true)
	if err != nil {
		return nil, wrap("propose route", err)
	}

	now := s.clock.Now()
	route = &domain.ScheduledRoute{
		ID:                   newID(),
		HomeBranchID:         home.ID,
		DriverID:             in.DriverID,
		Status:               domain.RoutePending,
		StartTime:            in.StartTime,
		TotalDistanceMeters:  plan.TotalDistanceMeters,
		TotalDurationSeconds: plan.TotalDurationSeconds,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	for i, st := range stops {
		// Legs[i] reaches this stop; Legs[i+1] leaves it.
		next := plan.Legs[i+1]
		route.Stops = append(route.Stops, domain.RouteStop{
			Order:                 i + 1,
			DeliveryRequestID:     st.ID,
			Destination:           st.Location,
			DistanceToNextMeters:  next.DistanceMeters,
			DurationToNextSeconds: next.DurationSeconds,
			Status:                domain.StopScheduled,
		})
	}

	readVersions := make(map[string]int64, len(drs))
	for _, d := range drs {
		readVersions[d.ID] = d.Version
	}

	var changes []domain.StatusChange
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		changes = changes[:0]
		bound := make([]*domain.DeliveryRequest, 0, len(drs))
		for _, st := range route.Stops {
			d, err := tx.Deliveries().Get(ctx, st.DeliveryRequestID)
			if err != nil {
				return err
			}
			if d.Version != readVersions[d.ID] {
				return fmt.Errorf("delivery request %s changed while planning: %w", d.ID, domain.ErrConflict)
			}
			if err := d.MoveTo(domain.DeliveryAccepted, now); err != nil {
				return err
			}
			d.RouteID = route.ID
			if err := tx.Deliveries().Update(ctx, d); err != nil {
				return err
			}
			bound = append(bound, d)
			changes = append(changes, deliveryChange(d))
		}
		if err := tx.Routes().Insert(ctx, route); err != nil {
			return err
		}
		changes = append(changes, routeChange(route))

		synced, err := syncParents(ctx, tx, bound, now)
		changes = append(changes, synced...)
		return err
	})
	if err != nil {
		return nil, wrap("propose route", err)
	}

	notifyAll(ctx, s.notifier, s.log, changes)
	return route, nil
}

// checkRoutable enforces what makes a set of legs one route: all open and
// unassigned, one home branch, and a branch-to-aid leg only on its own.
func checkRoutable(drs []*domain.DeliveryRequest) error {
	home := drs[0].HomeBranchID()
	for _, d := range drs {
		if d.Status != domain.DeliveryPending || d.RouteID != "" {
			return fmt.Errorf("delivery request %s is %s on route %q: %w", d.ID, d.Status, d.RouteID, domain.ErrInvalidState)
		}
		if d.HomeBranchID() != home {
			return domain.NewValidationError("delivery_request_ids",
				"delivery requests belong to branches %s and %s", home, d.HomeBranchID())
		}
		if d.Type == domain.BranchToAid && len(drs) > 1 {
			return domain.NewValidationError("delivery_request_ids",
				"branch-to-aid delivery request %s must travel alone", d.ID)
		}
	}
	return nil
}

// stopLocation is where the driver goes for a leg: the pickup for donor
// legs, the drop-off for legs that leave the home branch.
func stopLocation(d *domain.DeliveryRequest) string {
	if d.Type == domain.DonorToBranch {
		return d.FromLocation
	}
	return d.ToLocation
}

// Accept claims a PENDING route for a driver.
func (s *RouteScheduler) Accept(ctx context.Context, routeID, driverID string) (route *domain.ScheduledRoute, err error) {
	defer obs.Time(ctx, "routes.Accept")(&err)

	if driverID == "" {
		return nil, fmt.Errorf("accept route %s: %w", routeID, domain.NewValidationError("driver_id", "required"))
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		r, err := tx.Routes().Get(ctx, routeID)
		if err != nil {
			return err
		}
		switch {
		case r.Status == domain.RouteAccepted || r.Status == domain.RouteProcessing:
			return fmt.Errorf("route %s already claimed by %s: %w", r.ID, r.DriverID, domain.ErrConflict)
		case r.Status == domain.RoutePending && r.DriverID != "" && r.DriverID != driverID:
			return fmt.Errorf("route %s is assigned to driver %s: %w", r.ID, r.DriverID, domain.ErrConflict)
		}

		now := s.clock.Now()
		if err := r.MoveTo(domain.RouteAccepted, now); err != nil {
			return err
		}
		r.DriverID = driverID
		r.AcceptedAt = &now
		if err := tx.Routes().Update(ctx, r); err != nil {
			return err
		}
		route = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("accept route %s: %w", routeID, err)
	}

	notifyAll(ctx, s.notifier, s.log, []domain.StatusChange{routeChange(route)})
	return route, nil
}

// Start puts an accepted route on the road. Every leg is COLLECTED and the
// goods of outbound legs leave their origin branch's stock, earliest
// expiration first, in the same transaction. A shortfall fails the start.
func (s *RouteScheduler) Start(
	ctx context.Context,
	routeID string,
	driverID string,
	position domain.Coordinates,
) (route *domain.ScheduledRoute, err error) {
	defer obs.Time(ctx, "routes.Start")(&err)

	var changes []domain.StatusChange
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		changes = changes[:0]
		now := s.clock.Now()

		r, err := tx.Routes().Get(ctx, routeID)
		if err != nil {
			return err
		}
		if err := checkDriver(r, driverID); err != nil {
			return err
		}
		if err := r.MoveTo(domain.RouteProcessing, now); err != nil {
			return err
		}
		r.StartedAt = &now
		r.StartPosition = &position

		drs := make([]*domain.DeliveryRequest, 0, len(r.Stops))
		for _, st := range r.Stops {
			d, err := tx.Deliveries().Get(ctx, st.DeliveryRequestID)
			if err != nil {
				return err
			}
			if err := d.MoveTo(domain.DeliveryCollected, now); err != nil {
				return err
			}
			if d.Type.Outbound() {
				if err := s.dispatchStock(ctx, tx, r, d); err != nil {
					return err
				}
			}
			if err := tx.Deliveries().Update(ctx, d); err != nil {
				return err
			}
			drs = append(drs, d)
			changes = append(changes, deliveryChange(d))
		}

		if err := tx.Routes().Update(ctx, r); err != nil {
			return err
		}
		changes = append(changes, routeChange(r))

		synced, err := syncParents(ctx, tx, drs, now)
		changes = append(changes, synced...)
		if err != nil {
			return err
		}
		route = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("start route %s: %w", routeID, err)
	}

	notifyAll(ctx, s.notifier, s.log, changes)
	return route, nil
}

// dispatchStock exports an outbound leg's items from its origin branch and
// records on each item how much was drawn per lot expiration date.
func (s *RouteScheduler) dispatchStock(ctx context.Context, tx ports.Tx, r *domain.ScheduledRoute, d *domain.DeliveryRequest) error {
	for i := range d.Items {
		it := &d.Items[i]
		entries, err := s.ledger.Export(ctx, tx, ExportInput{
			BranchID: d.FromBranchID,
			ItemID:   it.ItemID,
			Quantity: it.Quantity,
			Source:   domain.LedgerSource{Kind: domain.LedgerFromDeliveryItem, RefID: it.ID},
			Note:     "route " + r.ID,
		})
		if err != nil {
			return fmt.Errorf("dispatch item %s of delivery request %s: %w", it.ItemID, d.ID, err)
		}

		byDate := map[time.Time]decimal.Decimal{}
		for _, e := range entries {
			for _, det := range e.Details {
				lot, err := tx.StockLots().Get(ctx, det.StockLotID)
				if err != nil {
					return err
				}
				exp := lot.ExpirationDate.UTC()
				byDate[exp] = byDate[exp].Add(det.Quantity)
			}
		}

		it.Batches = it.Batches[:0]
		for exp, qty := range byDate {
			it.Batches = append(it.Batches, domain.DeliveryBatch{ExpirationDate: exp, Quantity: qty})
		}
		sort.Slice(it.Batches, func(a, b int) bool {
			return it.Batches[a].ExpirationDate.Before(it.Batches[b].ExpirationDate)
		})
		it.ExpirationDate = nil
		if len(it.Batches) > 0 {
			earliest := it.Batches[0].ExpirationDate
			it.ExpirationDate = &earliest
		}
	}
	return nil
}

// AdvanceStop moves the leg at the given stop one step along
// COLLECTED -> SHIPPING -> ARRIVED_DESTINATION -> DELIVERED. Stops go in
// order: every earlier stop must be done or reported, so a reported stop
// waiting on the dispatcher does not hold the rest of the route. On the DELIVERED step the received
// quantities are recorded, keyed by delivery item id; a missing item counts
// as fully received. The route finishes by itself after its last stop.
func (s *RouteScheduler) AdvanceStop(
	ctx context.Context,
	routeID string,
	driverID string,
	order int,
	received map[string]decimal.Decimal,
) (route *domain.ScheduledRoute, err error) {
	defer obs.Time(ctx, "routes.AdvanceStop")(&err)

	var changes []domain.StatusChange
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		changes = changes[:0]
		now := s.clock.Now()

		r, st, err := s.activeStop(ctx, tx, routeID, driverID, order)
		if err != nil {
			return err
		}
		for _, prev := range r.Stops {
			if prev.Order < order && !prev.Status.Done() && prev.Status != domain.StopReported {
				return fmt.Errorf("stop %d of route %s is not done: %w", prev.Order, r.ID, domain.ErrInvalidState)
			}
		}

		d, err := tx.Deliveries().Get(ctx, st.DeliveryRequestID)
		if err != nil {
			return err
		}
		if err := d.Advance(now); err != nil {
			return err
		}

		st.Status = domain.StopInProgress
		if d.Status == domain.DeliveryDelivered {
			if err := recordReceived(d, received, true); err != nil {
				return err
			}
			st.Status = doneStatus(d)
		}
		if err := tx.Deliveries().Update(ctx, d); err != nil {
			return err
		}
		changes = append(changes, deliveryChange(d))
		r.UpdatedAt = now

		if r.AllStopsDone() {
			finished, err := s.finish(ctx, tx, r, now)
			changes = append(changes, finished...)
			if err != nil {
				return err
			}
		}
		if err := tx.Routes().Update(ctx, r); err != nil {
			return err
		}
		if r.Status == domain.RouteFinished {
			changes = append(changes, routeChange(r))
		}

		route = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("advance stop %d of route %s: %w", order, routeID, err)
	}

	notifyAll(ctx, s.notifier, s.log, changes)
	return route, nil
}

// AttachProof records a proof-of-delivery reference on a stop's leg. The
// reference must resolve in the object store.
func (s *RouteScheduler) AttachProof(ctx context.Context, routeID, driverID string, order int, ref string) (err error) {
	defer obs.Time(ctx, "routes.AttachProof")(&err)

	if s.proofs == nil {
		return fmt.Errorf("attach proof: %w", domain.NewValidationError("proof", "no proof storage configured"))
	}
	ok, err := s.proofs.Exists(ctx, ref)
	if err != nil {
		return fmt.Errorf("attach proof: lookup %q: %w", ref, err)
	}
	if !ok {
		return fmt.Errorf("attach proof: %w", domain.NewValidationError("proof", "reference %q does not resolve", ref))
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		r, err := tx.Routes().Get(ctx, routeID)
		if err != nil {
			return err
		}
		if err := checkDriver(r, driverID); err != nil {
			return err
		}
		st, ok := r.Stop(order)
		if !ok {
			return fmt.Errorf("route %s has no stop %d: %w", r.ID, order, domain.ErrNotFound)
		}
		d, err := tx.Deliveries().Get(ctx, st.DeliveryRequestID)
		if err != nil {
			return err
		}
		d.ProofURL = ref
		d.UpdatedAt = s.clock.Now()
		return tx.Deliveries().Update(ctx, d)
	})
	if err != nil {
		return fmt.Errorf("attach proof to stop %d of route %s: %w", order, routeID, err)
	}
	return nil
}

// Finish closes a route whose stops are all done. It is also reached
// automatically from the last AdvanceStop or ResolveReport.
func (s *RouteScheduler) Finish(ctx context.Context, routeID string) (route *domain.ScheduledRoute, err error) {
	defer obs.Time(ctx, "routes.Finish")(&err)

	var changes []domain.StatusChange
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		changes = changes[:0]
		now := s.clock.Now()

		r, err := tx.Routes().Get(ctx, routeID)
		if err != nil {
			return err
		}
		if r.Status != domain.RouteProcessing {
			return fmt.Errorf("route %s is %s: %w", r.ID, r.Status, domain.ErrInvalidState)
		}
		if !r.AllStopsDone() {
			return fmt.Errorf("route %s has stops left: %w", r.ID, domain.ErrInvalidState)
		}

		finished, err := s.finish(ctx, tx, r, now)
		changes = append(changes, finished...)
		if err != nil {
			return err
		}
		if err := tx.Routes().Update(ctx, r); err != nil {
			return err
		}
		changes = append(changes, routeChange(r))
		route = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("finish route %s: %w", routeID, err)
	}

	notifyAll(ctx, s.notifier, s.log, changes)
	return route, nil
}

// finish moves every leg to FINISHED, books received goods into the
// receiving branch and marks the route FINISHED. The caller writes the route.
func (s *RouteScheduler) finish(ctx context.Context, tx ports.Tx, r *domain.ScheduledRoute, now time.Time) ([]domain.StatusChange, error) {
	var changes []domain.StatusChange

	drs := make([]*domain.DeliveryRequest, 0, len(r.Stops))
	for _, st := range r.Stops {
		d, err := tx.Deliveries().Get(ctx, st.DeliveryRequestID)
		if err != nil {
			return changes, err
		}
		if err := d.MoveTo(domain.DeliveryFinished, now); err != nil {
			return changes, err
		}
		if d.Type.Inbound() {
			if err := s.receiveStock(ctx, tx, d); err != nil {
				return changes, err
			}
		}
		if err := tx.Deliveries().Update(ctx, d); err != nil {
			return changes, err
		}
		drs = append(drs, d)
		changes = append(changes, deliveryChange(d))
	}

	if err := r.MoveTo(domain.RouteFinished, now); err != nil {
		return changes, err
	}
	r.FinishedAt = &now

	synced, err := syncParents(ctx, tx, drs, now)
	changes = append(changes, synced...)
	return changes, err
}

// receiveStock imports what actually arrived at the leg's destination
// branch. Donated goods keep their donor as owner and their activity.
func (s *RouteScheduler) receiveStock(ctx context.Context, tx ports.Tx, d *domain.DeliveryRequest) error {
	var ownerID, activityID string
	if d.Source.Kind == domain.SourceDonation {
		req, err := tx.Requests().Get(ctx, d.Source.RequestID)
		if err != nil {
			return err
		}
		ownerID, activityID = req.RequesterID, req.ActivityID
	}

	for _, it := range d.Items {
		qty := it.Received()
		if !qty.IsPositive() {
			continue
		}

		batches := it.ReceivedBatches()
		if batches == nil {
			var exp time.Time
			if it.ExpirationDate != nil {
				exp = *it.ExpirationDate
			} else {
				var err error
				exp, err = s.ledger.defaultExpiration(ctx, it.ItemID)
				if err != nil {
					return err
				}
			}
			batches = []domain.DeliveryBatch{{ExpirationDate: exp, Quantity: qty}}
		}

		// One lot per source expiration date keeps dates traceable across
		// branch-to-branch moves.
		for _, b := range batches {
			if _, err := s.ledger.Import(ctx, tx, ImportInput{
				BranchID:       d.ToBranchID,
				ItemID:         it.ItemID,
				ExpirationDate: b.ExpirationDate,
				Quantity:       b.Quantity,
				OwnerID:        ownerID,
				ActivityID:     activityID,
				Source:         domain.LedgerSource{Kind: domain.LedgerFromDeliveryItem, RefID: it.ID},
				Note:           "delivery request " + d.ID,
			}); err != nil {
				return fmt.Errorf("receive item %s of delivery request %s: %w", it.ItemID, d.ID, err)
			}
		}
	}
	return nil
}

// ReportStop suspends a stop with a problem note. A reported stop keeps its
// route from finishing until an administrator resolves it.
func (s *RouteScheduler) ReportStop(
	ctx context.Context,
	routeID string,
	driverID string,
	order int,
	note string,
) (route *domain.ScheduledRoute, err error) {
	defer obs.Time(ctx, "routes.ReportStop")(&err)

	note = strings.TrimSpace(note)
	if note == "" {
		return nil, fmt.Errorf("report stop %d of route %s: %w", order, routeID, domain.NewValidationError("note", "required"))
	}

	var changes []domain.StatusChange
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		changes = changes[:0]
		now := s.clock.Now()

		r, st, err := s.activeStop(ctx, tx, routeID, driverID, order)
		if err != nil {
			return err
		}
		d, err := tx.Deliveries().Get(ctx, st.DeliveryRequestID)
		if err != nil {
			return err
		}
		if err := d.Report(now); err != nil {
			return err
		}
		if err := tx.Deliveries().Update(ctx, d); err != nil {
			return err
		}
		changes = append(changes, deliveryChange(d))

		st.Status = domain.StopReported
		st.ReportNote = note
		r.UpdatedAt = now
		if err := tx.Routes().Update(ctx, r); err != nil {
			return err
		}
		route = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("report stop %d of route %s: %w", order, routeID, err)
	}

	notifyAll(ctx, s.notifier, s.log, changes)
	return route, nil
}

type ResolveAction string

const (
	// ResolveResume puts the leg back where it was before the report.
	ResolveResume ResolveAction = "resume"
	// ResolveClose ends the leg as delivered with what was actually received.
	ResolveClose ResolveAction = "close"
)

// ResolveReport is the administrator's answer to a reported stop. Closing
// records received quantities with missing items counted as zero.
func (s *RouteScheduler) ResolveReport(
	ctx context.Context,
	routeID string,
	order int,
	action ResolveAction,
	received map[string]decimal.Decimal,
) (route *domain.ScheduledRoute, err error) {
	defer obs.Time(ctx, "routes.ResolveReport")(&err)

	if action != ResolveResume && action != ResolveClose {
		return nil, fmt.Errorf("resolve report: %w", domain.NewValidationError("action", "unknown action %q", action))
	}

	var changes []domain.StatusChange
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		changes = changes[:0]
		now := s.clock.Now()

		r, err := tx.Routes().Get(ctx, routeID)
		if err != nil {
			return err
		}
		st, ok := r.Stop(order)
		if !ok {
			return fmt.Errorf("route %s has no stop %d: %w", r.ID, order, domain.ErrNotFound)
		}
		if st.Status != domain.StopReported {
			return fmt.Errorf("stop %d of route %s is %s: %w", order, r.ID, st.Status, domain.ErrInvalidState)
		}

		d, err := tx.Deliveries().Get(ctx, st.DeliveryRequestID)
		if err != nil {
			return err
		}
		switch action {
		case ResolveResume:
			if err := d.Resume(now); err != nil {
				return err
			}
			st.Status = domain.StopInProgress
		case ResolveClose:
			if err := d.MoveTo(domain.DeliveryDelivered, now); err != nil {
				return err
			}
			d.PreviousStatus = ""
			if err := recordReceived(d, received, false); err != nil {
				return err
			}
			st.Status = doneStatus(d)
		}
		if err := tx.Deliveries().Update(ctx, d); err != nil {
			return err
		}
		changes = append(changes, deliveryChange(d))
		r.UpdatedAt = now

		if r.AllStopsDone() {
			finished, err := s.finish(ctx, tx, r, now)
			changes = append(changes, finished...)
			if err != nil {
				return err
			}
			changes = append(changes, routeChange(r))
		}
		if err := tx.Routes().Update(ctx, r); err != nil {
			return err
		}
		route = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("resolve report on stop %d of route %s: %w", order, routeID, err)
	}

	notifyAll(ctx, s.notifier, s.log, changes)
	return route, nil
}

// Cancel withdraws a route that has not started and releases its legs back
// to PENDING so they can be grouped again.
func (s *RouteScheduler) Cancel(ctx context.Context, routeID, reason string) (route *domain.ScheduledRoute, err error) {
	defer obs.Time(ctx, "routes.Cancel")(&err)

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("cancel route %s: %w", routeID, domain.NewValidationError("reason", "required"))
	}

	var changes []domain.StatusChange
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		changes = changes[:0]
		now := s.clock.Now()

		r, err := tx.Routes().Get(ctx, routeID)
		if err != nil {
			return err
		}
		if err := r.MoveTo(domain.RouteCanceled, now); err != nil {
			return err
		}
		r.CancelReason = reason

		for _, st := range r.Stops {
			d, err := tx.Deliveries().Get(ctx, st.DeliveryRequestID)
			if err != nil {
				return err
			}
			if d.RouteID != r.ID {
				continue
			}
			if err := d.MoveTo(domain.DeliveryPending, now); err != nil {
				return err
			}
			d.RouteID = ""
			if err := tx.Deliveries().Update(ctx, d); err != nil {
				return err
			}
			changes = append(changes, deliveryChange(d))
		}

		if err := tx.Routes().Update(ctx, r); err != nil {
			return err
		}
		changes = append(changes, routeChange(r))
		route = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cancel route %s: %w", routeID, err)
	}

	notifyAll(ctx, s.notifier, s.log, changes)
	return route, nil
}

func (s *RouteScheduler) GetRoute(ctx context.Context, routeID string) (*domain.ScheduledRoute, error) {
	var route *domain.ScheduledRoute
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		var err error
		route, err = tx.Routes().Get(ctx, routeID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get route %s: %w", routeID, err)
	}
	return route, nil
}

// activeStop loads a PROCESSING route driven by driverID and one of its
// stops that is neither done nor reported.
func (s *RouteScheduler) activeStop(
	ctx context.Context,
	tx ports.Tx,
	routeID string,
	driverID string,
	order int,
) (*domain.ScheduledRoute, *domain.RouteStop, error) {
	r, err := tx.Routes().Get(ctx, routeID)
	if err != nil {
		return nil, nil, err
	}
	if err := checkDriver(r, driverID); err != nil {
		return nil, nil, err
	}
	if r.Status != domain.RouteProcessing {
		return nil, nil, fmt.Errorf("route %s is %s: %w", r.ID, r.Status, domain.ErrInvalidState)
	}
	st, ok := r.Stop(order)
	if !ok {
		return nil, nil, fmt.Errorf("route %s has no stop %d: %w", r.ID, order, domain.ErrNotFound)
	}
	if st.Status.Done() || st.Status == domain.StopReported {
		return nil, nil, fmt.Errorf("stop %d of route %s is %s: %w", order, r.ID, st.Status, domain.ErrInvalidState)
	}
	return r, st, nil
}

func checkDriver(r *domain.ScheduledRoute, driverID string) error {
	if r.DriverID == "" || r.DriverID != driverID {
		return fmt.Errorf("route %s is not driven by %q: %w", r.ID, driverID, domain.ErrInvalidState)
	}
	return nil
}

// doneStatus is RECEIVED for legs into a branch and DELIVERED otherwise.
func doneStatus(d *domain.DeliveryRequest) domain.StopStatus {
	if d.Type.Inbound() {
		return domain.StopReceived
	}
	return domain.StopDelivered
}

// recordReceived stores received quantities keyed by delivery item id.
// Items missing from received count as their full quantity when
// missingIsFull, zero otherwise.
func recordReceived(d *domain.DeliveryRequest, received map[string]decimal.Decimal, missingIsFull bool) error {
	ids := make([]string, 0, len(received))
	for id := range received {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if _, ok := d.Item(id); !ok {
			return domain.NewValidationError("received", "delivery request %s has no item %s", d.ID, id)
		}
	}

	for i := range d.Items {
		it := &d.Items[i]
		qty, ok := received[it.ID]
		switch {
		case !ok && missingIsFull:
			qty = it.Quantity
		case !ok:
			qty = decimal.Zero
		case qty.IsNegative() || qty.GreaterThan(it.Quantity):
			return domain.NewValidationError("received",
				"item %s: received %s outside 0..%s", it.ID, qty, it.Quantity)
		}
		it.ReceivedQuantity = &qty
	}
	return nil
}

// syncParents recomputes the status of every request behind drs.
func syncParents(ctx context.Context, tx ports.Tx, drs []*domain.DeliveryRequest, now time.Time) ([]domain.StatusChange, error) {
	var changes []domain.StatusChange
	for _, id := range sourceRequestIDs(drs) {
		req, changed, err := syncRequestStatus(ctx, tx, id, now)
		if err != nil {
			return changes, err
		}
		if changed {
			changes = append(changes, requestChange(req))
		}
	}
	return changes, nil
}
