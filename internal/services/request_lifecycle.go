package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"donation-logistics-service/internal/domain"
	"donation-logistics-service/internal/platform/clock"
	"donation-logistics-service/internal/platform/obs"
	"donation-logistics-service/internal/ports"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	minRejectReasonLen = 25
	maxRejectReasonLen = 500
)

// RequestLifecycle drives donation and aid requests from submission through
// branch bidding to delivery materialization and completion.
type RequestLifecycle struct {
	store    ports.Store
	geo      *GeoMatcher
	ledger   *StockLedger
	notifier ports.Notifier
	clock    clock.Clock
	log      *zap.Logger
}

func NewRequestLifecycle(
	store ports.Store,
	geo *GeoMatcher,
	ledger *StockLedger,
	notifier ports.Notifier,
	clk clock.Clock,
	log *zap.Logger,
) *RequestLifecycle {
	if log == nil {
		log = zap.NewNop()
	}
	return &RequestLifecycle{store: store, geo: geo, ledger: ledger, notifier: notifier, clock: clk, log: log}
}

type SubmitItem struct {
	ItemID             string          `json:"item_id" validate:"required"`
	Quantity           decimal.Decimal `json:"quantity" validate:"positive"`
	ExpirationEstimate *time.Time      `json:"expiration_estimate,omitempty"`
}

type SubmitRequestInput struct {
	Kind        domain.RequestKind  `json:"kind" validate:"required,oneof=DONATION AID"`
	RequesterID string              `json:"requester_id" validate:"required"`
	Location    string              `json:"location" validate:"required,location"`
	Items       []SubmitItem        `json:"items" validate:"required,min=1,dive"`
	Windows     []domain.TimeWindow `json:"windows" validate:"required,min=1"`
	Note        string              `json:"note" validate:"max=1000"`
	ActivityID  string              `json:"activity_id"`
	Target      *domain.AidTarget   `json:"target"`
	// Overrides the configured max radius for this request.
	RadiusMeters *int `json:"radius_meters" validate:"omitempty,gt=0"`
}

// Submit stores a PENDING request and one PENDING offer per candidate branch.
func (m *RequestLifecycle) Submit(ctx context.Context, in SubmitRequestInput) (req *domain.Request, offers []domain.Offer, err error) {
	defer obs.Time(ctx, "requests.Submit")(&err)

	now := m.clock.Now()
	if err := m.validateSubmit(in, now); err != nil {
		return nil, nil, wrap("submit request", err)
	}

	// Candidate resolution calls the routing provider, so it runs outside
	// the write transaction.
	var branches []domain.Branch
	var target *domain.Branch
	err = m.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		for _, it := range in.Items {
			if _, err := tx.Items().Get(ctx, it.ItemID); err != nil {
				return err
			}
		}
		if in.Target != nil && in.Target.Kind == domain.TargetBranch {
			b, err := tx.Branches().Get(ctx, in.Target.BranchID)
			if err != nil {
				return err
			}
			target = b
		}
		var err error
		branches, err = tx.Branches().ListActive(ctx)
		return err
	})
	if err != nil {
		return nil, nil, wrap("submit request", err)
	}

	var match BranchMatch
	if target != nil {
		match = m.geo.ReachableFromBranch(ctx, *target, branches, in.RadiusMeters)
	} else {
		match = m.geo.NearbyAndNearestBranches(ctx, in.Location, branches, in.RadiusMeters)
	}
	candidates := match.Candidates()
	if len(candidates) == 0 {
		m.log.Warn("request submitted with no candidate branch",
			zap.String("location", in.Location), zap.Int("excluded", len(match.Excluded)))
	}

	req = &domain.Request{
		ID:          newID(),
		Kind:        in.Kind,
		RequesterID: in.RequesterID,
		Location:    in.Location,
		Windows:     sortedWindows(in.Windows),
		Note:        in.Note,
		Status:      domain.RequestPending,
		ActivityID:  in.ActivityID,
		Target:      in.Target,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, it := range in.Items {
		req.Items = append(req.Items, domain.RequestItem{
			ID:                 newID(),
			ItemID:             it.ItemID,
			Quantity:           it.Quantity,
			ExpirationEstimate: it.ExpirationEstimate,
			Status:             domain.ItemPending,
			ConfirmedQuantity:  decimal.Zero,
		})
	}

	offers = make([]domain.Offer, 0, len(candidates))
	for _, b := range candidates {
		offers = append(offers, domain.Offer{
			ID:          newID(),
			RequestID:   req.ID,
			RequestKind: req.Kind,
			BranchID:    b.ID,
			Status:      domain.OfferPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}

	err = m.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		if err := tx.Requests().Insert(ctx, req); err != nil {
			return err
		}
		for i := range offers {
			if err := tx.Offers().Insert(ctx, &offers[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, wrap("submit request", err)
	}

	changes := make([]domain.StatusChange, 0, len(offers))
	for i := range offers {
		changes = append(changes, offerChange(&offers[i]))
	}
	notifyAll(ctx, m.notifier, m.log, changes)

	return req, offers, nil
}

func (m *RequestLifecycle) validateSubmit(in SubmitRequestInput, now time.Time) error {
	if err := validateInput(in); err != nil {
		return err
	}

	windows := sortedWindows(in.Windows)
	for i, w := range windows {
		if !w.Start.Before(w.End) {
			return domain.NewValidationError("windows", "window %d must start before it ends", i)
		}
		if i > 0 && windows[i-1].Overlaps(w) {
			return domain.NewValidationError("windows", "windows must be disjoint")
		}
	}
	if !windows[len(windows)-1].End.After(now) {
		return domain.NewValidationError("windows", "every window has already ended")
	}

	switch in.Kind {
	case domain.RequestDonation:
		if in.Target != nil {
			return domain.NewValidationError("target", "donations have no aid target")
		}
	case domain.RequestAid:
		if in.ActivityID != "" {
			return domain.NewValidationError("activity_id", "aid requests do not belong to an activity")
		}
		if in.Target == nil {
			return domain.NewValidationError("target", "aid requests need a target")
		}
		switch in.Target.Kind {
		case domain.TargetCharityUnit:
			if in.Target.CharityUnitID == "" || in.Target.BranchID != "" {
				return domain.NewValidationError("target", "a charity unit target names only the charity unit")
			}
		case domain.TargetBranch:
			if in.Target.BranchID == "" || in.Target.CharityUnitID != "" {
				return domain.NewValidationError("target", "a branch target names only the branch")
			}
		default:
			return domain.NewValidationError("target.kind", "unknown target kind %q", in.Target.Kind)
		}
	}
	return nil
}

func sortedWindows(ws []domain.TimeWindow) []domain.TimeWindow {
	out := append([]domain.TimeWindow(nil), ws...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// AcceptOffer lets a branch take a request. Sibling offers are re-read in
// the same transaction: if one is already ACCEPTED the call fails with
// domain.ErrConflict, otherwise every PENDING sibling is rejected and the
// request becomes ACCEPTED.
func (m *RequestLifecycle) AcceptOffer(ctx context.Context, offerID, branchID string) (offer *domain.Offer, err error) {
	defer obs.Time(ctx, "requests.AcceptOffer")(&err)

	var changes []domain.StatusChange
	err = m.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		changes = changes[:0]
		now := m.clock.Now()

		o, err := m.ownOffer(ctx, tx, offerID, branchID)
		if err != nil {
			return err
		}

		siblings, err := tx.Offers().ListByRequest(ctx, o.RequestID)
		if err != nil {
			return err
		}
		for _, s := range siblings {
			if s.ID != o.ID && s.Status == domain.OfferAccepted {
				return fmt.Errorf("request %s already accepted by branch %s: %w", o.RequestID, s.BranchID, domain.ErrConflict)
			}
		}

		if err := o.Accept(now); err != nil {
			return err
		}

		req, err := tx.Requests().Get(ctx, o.RequestID)
		if err != nil {
			return err
		}
		if err := req.MoveTo(domain.RequestAccepted, now); err != nil {
			return err
		}
		req.AcceptedBranchID = o.BranchID

		if err := tx.Offers().Update(ctx, o); err != nil {
			return err
		}
		changes = append(changes, offerChange(o))
		for _, s := range siblings {
			if s.ID == o.ID || s.Status != domain.OfferPending {
				continue
			}
			if err := s.Reject("accepted by another branch", now); err != nil {
				return err
			}
			if err := tx.Offers().Update(ctx, s); err != nil {
				return err
			}
			changes = append(changes, offerChange(s))
		}
		if err := tx.Requests().Update(ctx, req); err != nil {
			return err
		}
		changes = append(changes, requestChange(req))

		offer = o
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("accept offer %s: %w", offerID, err)
	}

	notifyAll(ctx, m.notifier, m.log, changes)
	return offer, nil
}

// RejectOffer records a branch declining a request. When no PENDING or
// ACCEPTED offer remains, the request itself becomes REJECTED.
func (m *RequestLifecycle) RejectOffer(ctx context.Context, offerID, branchID, reason string) (offer *domain.Offer, err error) {
	defer obs.Time(ctx, "requests.RejectOffer")(&err)

	reason = strings.TrimSpace(reason)
	if n := utf8.RuneCountInString(reason); n < minRejectReasonLen || n > maxRejectReasonLen {
		return nil, fmt.Errorf("reject offer %s: %w", offerID,
			domain.NewValidationError("reason", "must be %d-%d characters, got %d", minRejectReasonLen, maxRejectReasonLen, n))
	}

	var changes []domain.StatusChange
	err = withinTxRetry(ctx, m.store, func(ctx context.Context, tx ports.Tx) error {
		changes = changes[:0]
		now := m.clock.Now()

		o, err := m.ownOffer(ctx, tx, offerID, branchID)
		if err != nil {
			return err
		}
		if err := o.Reject(reason, now); err != nil {
			return err
		}
		if err := tx.Offers().Update(ctx, o); err != nil {
			return err
		}
		changes = append(changes, offerChange(o))

		// The request is written on every reject so that two units rejecting
		// the last open offers conflict instead of both missing the outcome.
		req, err := tx.Requests().Get(ctx, o.RequestID)
		if err != nil {
			return err
		}
		req.UpdatedAt = now

		siblings, err := tx.Offers().ListByRequest(ctx, o.RequestID)
		if err != nil {
			return err
		}
		open := false
		for _, s := range siblings {
			if s.ID != o.ID && s.Status != domain.OfferRejected {
				open = true
				break
			}
		}
		if !open && req.Status == domain.RequestPending {
			if err := req.MoveTo(domain.RequestRejected, now); err != nil {
				return err
			}
			req.StatusReason = "declined by every candidate branch"
			changes = append(changes, requestChange(req))
		}
		if err := tx.Requests().Update(ctx, req); err != nil {
			return err
		}

		offer = o
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reject offer %s: %w", offerID, err)
	}

	notifyAll(ctx, m.notifier, m.log, changes)
	return offer, nil
}

func (m *RequestLifecycle) ownOffer(ctx context.Context, tx ports.Tx, offerID, branchID string) (*domain.Offer, error) {
	o, err := tx.Offers().Get(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if o.BranchID != branchID {
		return nil, domain.NewValidationError("branch_id", "offer %s belongs to another branch", offerID)
	}
	return o, nil
}

// ItemConfirmation is the accepting branch's commitment for one request line.
type ItemConfirmation struct {
	RequestItemID string          `json:"request_item_id" validate:"required"`
	Quantity      decimal.Decimal `json:"quantity" validate:"positive"`
	// Index into the request's windows, ordered by start.
	WindowIndex    int        `json:"window_index" validate:"gte=0"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
}

type confirmItemsInput struct {
	Confirmations []ItemConfirmation `validate:"dive"`
}

// ConfirmItems settles which lines the accepting branch takes and in which
// window. Lines left out are rejected; with nothing confirmed the request is
// REJECTED. Otherwise one delivery request is created per distinct window,
// in window order, carrying the lines assigned to it.
func (m *RequestLifecycle) ConfirmItems(
	ctx context.Context,
	requestID string,
	branchID string,
	confirmations []ItemConfirmation,
) (req *domain.Request, deliveries []domain.DeliveryRequest, err error) {
	defer obs.Time(ctx, "requests.ConfirmItems")(&err)

	if err := validateInput(confirmItemsInput{Confirmations: confirmations}); err != nil {
		return nil, nil, fmt.Errorf("confirm items of request %s: %w", requestID, err)
	}

	var changes []domain.StatusChange
	err = m.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		changes = changes[:0]
		deliveries = deliveries[:0]
		now := m.clock.Now()

		r, err := tx.Requests().Get(ctx, requestID)
		if err != nil {
			return err
		}
		if r.Status != domain.RequestAccepted {
			return fmt.Errorf("request %s is %s, not ACCEPTED: %w", r.ID, r.Status, domain.ErrInvalidState)
		}
		if r.AcceptedBranchID != branchID {
			return domain.NewValidationError("branch_id", "request %s was accepted by another branch", r.ID)
		}
		for _, it := range r.Items {
			if it.Status != domain.ItemPending {
				return fmt.Errorf("items of request %s already confirmed: %w", r.ID, domain.ErrInvalidState)
			}
		}

		byLine := make(map[string]ItemConfirmation, len(confirmations))
		for _, c := range confirmations {
			it, ok := r.Item(c.RequestItemID)
			if !ok {
				return domain.NewValidationError("request_item_id", "request %s has no item %s", r.ID, c.RequestItemID)
			}
			if _, dup := byLine[c.RequestItemID]; dup {
				return domain.NewValidationError("request_item_id", "item %s confirmed twice", c.RequestItemID)
			}
			if c.Quantity.GreaterThan(it.Quantity) {
				return domain.NewValidationError("quantity", "item %s: confirmed %s exceeds requested %s", it.ID, c.Quantity, it.Quantity)
			}
			if c.WindowIndex >= len(r.Windows) {
				return domain.NewValidationError("window_index", "request %s has %d windows", r.ID, len(r.Windows))
			}
			byLine[c.RequestItemID] = c
		}

		for i := range r.Items {
			it := &r.Items[i]
			if c, ok := byLine[it.ID]; ok {
				it.Status = domain.ItemAccepted
				it.ConfirmedQuantity = c.Quantity
			} else {
				it.Status = domain.ItemRejected
				it.ConfirmedQuantity = decimal.Zero
			}
		}
		r.UpdatedAt = now

		if len(byLine) == 0 {
			if err := r.MoveTo(domain.RequestRejected, now); err != nil {
				return err
			}
			r.StatusReason = "no items confirmed"
			if err := tx.Requests().Update(ctx, r); err != nil {
				return err
			}
			changes = append(changes, requestChange(r))
			req = r
			return nil
		}

		if r.Kind == domain.RequestAid {
			if err := m.checkStock(ctx, tx, r, byLine); err != nil {
				return err
			}
		}

		drs, err := m.materialize(ctx, tx, r, byLine, now)
		if err != nil {
			return err
		}
		for i := range drs {
			if err := tx.Deliveries().Insert(ctx, &drs[i]); err != nil {
				return err
			}
			changes = append(changes, deliveryChange(&drs[i]))
		}
		if err := tx.Requests().Update(ctx, r); err != nil {
			return err
		}

		req = r
		deliveries = drs
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("confirm items of request %s: %w", requestID, err)
	}

	notifyAll(ctx, m.notifier, m.log, changes)
	return req, deliveries, nil
}

// checkStock makes sure the accepting branch holds enough general stock for
// every confirmed aid line.
func (m *RequestLifecycle) checkStock(ctx context.Context, tx ports.Tx, r *domain.Request, byLine map[string]ItemConfirmation) error {
	need := map[string]decimal.Decimal{}
	for _, it := range r.Items {
		if c, ok := byLine[it.ID]; ok {
			need[it.ItemID] = need[it.ItemID].Add(c.Quantity)
		}
	}

	itemIDs := make([]string, 0, len(need))
	for id := range need {
		itemIDs = append(itemIDs, id)
	}
	sort.Strings(itemIDs)

	for _, itemID := range itemIDs {
		have, err := m.ledger.available(ctx, tx, r.AcceptedBranchID, itemID, "")
		if err != nil {
			return err
		}
		if have.LessThan(need[itemID]) {
			return &domain.InsufficientStockError{
				BranchID:  r.AcceptedBranchID,
				ItemID:    itemID,
				Requested: need[itemID],
				Available: have,
			}
		}
	}
	return nil
}

// materialize builds the delivery legs of an accepted request, one per
// chosen window in window order.
func (m *RequestLifecycle) materialize(
	ctx context.Context,
	tx ports.Tx,
	r *domain.Request,
	byLine map[string]ItemConfirmation,
	now time.Time,
) ([]domain.DeliveryRequest, error) {
	branch, err := tx.Branches().Get(ctx, r.AcceptedBranchID)
	if err != nil {
		return nil, err
	}

	template := domain.DeliveryRequest{Status: domain.DeliveryPending, CreatedAt: now, UpdatedAt: now}
	switch {
	case r.Kind == domain.RequestDonation:
		template.Type = domain.DonorToBranch
		template.Source = domain.DonationSource(r.ID)
		template.FromLocation = r.Location
		template.ToBranchID = branch.ID
		template.ToLocation = branch.Location
	case r.Target != nil && r.Target.Kind == domain.TargetBranch:
		target, err := tx.Branches().Get(ctx, r.Target.BranchID)
		if err != nil {
			return nil, err
		}
		template.Type = domain.BranchToBranch
		template.Source = domain.AidSource(r.ID)
		template.FromBranchID = branch.ID
		template.FromLocation = branch.Location
		template.ToBranchID = target.ID
		template.ToLocation = target.Location
	default:
		template.Type = domain.BranchToAid
		template.Source = domain.AidSource(r.ID)
		template.FromBranchID = branch.ID
		template.FromLocation = branch.Location
		template.ToLocation = r.Location
	}

	byWindow := map[int][]domain.DeliveryItem{}
	for _, it := range r.Items {
		c, ok := byLine[it.ID]
		if !ok {
			continue
		}
		exp := c.ExpirationDate
		if exp == nil {
			exp = it.ExpirationEstimate
		}
		byWindow[c.WindowIndex] = append(byWindow[c.WindowIndex], domain.DeliveryItem{
			ID:             newID(),
			RequestItemID:  it.ID,
			ItemID:         it.ItemID,
			Quantity:       c.Quantity,
			ExpirationDate: exp,
		})
	}

	indexes := make([]int, 0, len(byWindow))
	for idx := range byWindow {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return r.Windows[indexes[i]].Start.Before(r.Windows[indexes[j]].Start) })

	out := make([]domain.DeliveryRequest, 0, len(indexes))
	for _, idx := range indexes {
		d := template
		d.ID = newID()
		d.Window = r.Windows[idx]
		d.Items = byWindow[idx]
		out = append(out, d)
	}
	return out, nil
}

// SyncRequestStatus recomputes a request's status from its delivery legs
// inside the caller's transaction.
func (m *RequestLifecycle) SyncRequestStatus(ctx context.Context, tx ports.Tx, requestID string) error {
	_, _, err := syncRequestStatus(ctx, tx, requestID, m.clock.Now())
	return err
}

// syncRequestStatus moves ACCEPTED to PROCESSING once any leg left PENDING,
// and on to FINISHED once every leg is FINISHED. changed reports a write.
func syncRequestStatus(ctx context.Context, tx ports.Tx, requestID string, now time.Time) (req *domain.Request, changed bool, err error) {
	req, err = tx.Requests().Get(ctx, requestID)
	if err != nil {
		return nil, false, err
	}
	if req.Status != domain.RequestAccepted && req.Status != domain.RequestProcessing {
		return req, false, nil
	}

	children, err := tx.Deliveries().ListByRequest(ctx, requestID)
	if err != nil {
		return nil, false, err
	}
	if len(children) == 0 {
		return req, false, nil
	}

	// Canceled and expired legs no longer count toward progress.
	started, finished, live := false, true, 0
	for _, d := range children {
		switch d.Status {
		case domain.DeliveryCanceled, domain.DeliveryExpired:
			continue
		case domain.DeliveryPending:
		default:
			started = true
		}
		live++
		if d.Status != domain.DeliveryFinished {
			finished = false
		}
	}
	if live == 0 {
		return req, false, nil
	}

	if req.Status == domain.RequestAccepted && started {
		if err := req.MoveTo(domain.RequestProcessing, now); err != nil {
			return nil, false, err
		}
		changed = true
	}
	if req.Status == domain.RequestProcessing && finished {
		if err := req.MoveTo(domain.RequestFinished, now); err != nil {
			return nil, false, err
		}
		changed = true
	}

	if changed {
		if err := tx.Requests().Update(ctx, req); err != nil {
			return nil, false, err
		}
	}
	return req, changed, nil
}

// ExpirySummary counts what one sweep moved to EXPIRED.
type ExpirySummary struct {
	Requests   int
	Deliveries int
	// Items skipped because a concurrent writer won; the next sweep retries them.
	Conflicts int
}

// ExpireRequests expires PENDING requests whose last window has ended,
// rejecting their open offers, and PENDING unassigned delivery legs whose
// window has ended. Each entity moves in its own transaction.
func (m *RequestLifecycle) ExpireRequests(ctx context.Context) (sum ExpirySummary, err error) {
	defer obs.Time(ctx, "requests.ExpireRequests")(&err)

	now := m.clock.Now()

	var requestIDs, deliveryIDs []string
	err = m.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		reqs, err := tx.Requests().ListByStatus(ctx, domain.RequestPending)
		if err != nil {
			return err
		}
		for _, r := range reqs {
			if !r.LastWindowEnd().After(now) {
				requestIDs = append(requestIDs, r.ID)
			}
		}
		drs, err := tx.Deliveries().ListByStatus(ctx, domain.DeliveryPending)
		if err != nil {
			return err
		}
		for _, d := range drs {
			if d.RouteID == "" && !d.Window.End.After(now) {
				deliveryIDs = append(deliveryIDs, d.ID)
			}
		}
		return nil
	})
	if err != nil {
		return sum, wrap("expire requests", err)
	}

	for _, id := range requestIDs {
		ok, err := m.expireRequest(ctx, id, now)
		switch {
		case errors.Is(err, domain.ErrConflict):
			sum.Conflicts++
		case err != nil:
			return sum, fmt.Errorf("expire request %s: %w", id, err)
		case ok:
			sum.Requests++
		}
	}
	for _, id := range deliveryIDs {
		ok, err := m.expireDelivery(ctx, id, now)
		switch {
		case errors.Is(err, domain.ErrConflict):
			sum.Conflicts++
		case err != nil:
			return sum, fmt.Errorf("expire delivery request %s: %w", id, err)
		case ok:
			sum.Deliveries++
		}
	}

	if sum != (ExpirySummary{}) {
		m.log.Info("expiry sweep",
			zap.Int("requests", sum.Requests),
			zap.Int("deliveries", sum.Deliveries),
			zap.Int("conflicts", sum.Conflicts))
	}
	return sum, nil
}

func (m *RequestLifecycle) expireRequest(ctx context.Context, id string, now time.Time) (bool, error) {
	var changes []domain.StatusChange
	err := m.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		changes = changes[:0]
		r, err := tx.Requests().Get(ctx, id)
		if err != nil {
			return err
		}
		if r.Status != domain.RequestPending || r.LastWindowEnd().After(now) {
			return nil
		}
		if err := r.MoveTo(domain.RequestExpired, now); err != nil {
			return err
		}
		r.StatusReason = "no branch accepted before the last window ended"
		if err := tx.Requests().Update(ctx, r); err != nil {
			return err
		}
		changes = append(changes, requestChange(r))

		offers, err := tx.Offers().ListByRequest(ctx, id)
		if err != nil {
			return err
		}
		for _, o := range offers {
			if o.Status != domain.OfferPending {
				continue
			}
			if err := o.Reject("request expired", now); err != nil {
				return err
			}
			if err := tx.Offers().Update(ctx, o); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	notifyAll(ctx, m.notifier, m.log, changes)
	return len(changes) > 0, nil
}

func (m *RequestLifecycle) expireDelivery(ctx context.Context, id string, now time.Time) (bool, error) {
	var changes []domain.StatusChange
	err := m.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		changes = changes[:0]
		d, err := tx.Deliveries().Get(ctx, id)
		if err != nil {
			return err
		}
		if d.Status != domain.DeliveryPending || d.RouteID != "" || d.Window.End.After(now) {
			return nil
		}
		if err := d.MoveTo(domain.DeliveryExpired, now); err != nil {
			return err
		}
		if err := tx.Deliveries().Update(ctx, d); err != nil {
			return err
		}
		changes = append(changes, deliveryChange(d))

		if d.Source.RequestID != "" {
			req, changed, err := syncRequestStatus(ctx, tx, d.Source.RequestID, now)
			if err != nil {
				return err
			}
			if changed {
				changes = append(changes, requestChange(req))
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	notifyAll(ctx, m.notifier, m.log, changes)
	return len(changes) > 0, nil
}

// CancelRequest withdraws a request that has not started moving: every leg
// must still be PENDING (or already closed). Open legs are canceled and open
// offers rejected in the same transaction.
func (m *RequestLifecycle) CancelRequest(ctx context.Context, requestID, reason string) (req *domain.Request, err error) {
	defer obs.Time(ctx, "requests.CancelRequest")(&err)

	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("cancel request %s: %w", requestID, domain.NewValidationError("reason", "required"))
	}

	var changes []domain.StatusChange
	err = m.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		changes = changes[:0]
		now := m.clock.Now()

		r, err := tx.Requests().Get(ctx, requestID)
		if err != nil {
			return err
		}

		children, err := tx.Deliveries().ListByRequest(ctx, requestID)
		if err != nil {
			return err
		}
		for _, d := range children {
			switch d.Status {
			case domain.DeliveryPending, domain.DeliveryCanceled, domain.DeliveryExpired:
			default:
				return fmt.Errorf("delivery request %s is already %s: %w", d.ID, d.Status, domain.ErrInvalidState)
			}
		}

		if err := r.MoveTo(domain.RequestCanceled, now); err != nil {
			return err
		}
		r.StatusReason = strings.TrimSpace(reason)
		if err := tx.Requests().Update(ctx, r); err != nil {
			return err
		}
		changes = append(changes, requestChange(r))

		for _, d := range children {
			if d.Status != domain.DeliveryPending {
				continue
			}
			if err := d.MoveTo(domain.DeliveryCanceled, now); err != nil {
				return err
			}
			if err := tx.Deliveries().Update(ctx, d); err != nil {
				return err
			}
			changes = append(changes, deliveryChange(d))
		}

		offers, err := tx.Offers().ListByRequest(ctx, requestID)
		if err != nil {
			return err
		}
		for _, o := range offers {
			if o.Status != domain.OfferPending {
				continue
			}
			if err := o.Reject("request canceled", now); err != nil {
				return err
			}
			if err := tx.Offers().Update(ctx, o); err != nil {
				return err
			}
			changes = append(changes, offerChange(o))
		}

		req = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cancel request %s: %w", requestID, err)
	}

	notifyAll(ctx, m.notifier, m.log, changes)
	return req, nil
}

func (m *RequestLifecycle) GetRequest(ctx context.Context, requestID string) (*domain.Request, error) {
	var req *domain.Request
	err := m.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		var err error
		req, err = tx.Requests().Get(ctx, requestID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get request %s: %w", requestID, err)
	}
	return req, nil
}

// ListOffers returns a request's offers ordered by id.
func (m *RequestLifecycle) ListOffers(ctx context.Context, requestID string) ([]domain.Offer, error) {
	var out []domain.Offer
	err := m.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		if _, err := tx.Requests().Get(ctx, requestID); err != nil {
			return err
		}
		offers, err := tx.Offers().ListByRequest(ctx, requestID)
		if err != nil {
			return err
		}
		for _, o := range offers {
			out = append(out, *o)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list offers of request %s: %w", requestID, err)
	}
	return out, nil
}

// ListDeliveries returns the delivery legs materialized for a request.
func (m *RequestLifecycle) ListDeliveries(ctx context.Context, requestID string) ([]domain.DeliveryRequest, error) {
	var out []domain.DeliveryRequest
	err := m.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		if _, err := tx.Requests().Get(ctx, requestID); err != nil {
			return err
		}
		drs, err := tx.Deliveries().ListByRequest(ctx, requestID)
		if err != nil {
			return err
		}
		for _, d := range drs {
			out = append(out, *d)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list deliveries of request %s: %w", requestID, err)
	}
	return out, nil
}
