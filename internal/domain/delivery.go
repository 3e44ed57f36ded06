package domain

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

type DeliveryType string

const (
	DonorToBranch  DeliveryType = "DONOR_TO_BRANCH"
	BranchToAid    DeliveryType = "BRANCH_TO_AID"
	BranchToBranch DeliveryType = "BRANCH_TO_BRANCH"
)

// Inbound reports whether the leg ends at a branch that takes the goods into stock.
func (t DeliveryType) Inbound() bool { return t == DonorToBranch || t == BranchToBranch }

// Outbound reports whether the leg draws its goods from a branch's stock.
func (t DeliveryType) Outbound() bool { return t == BranchToAid || t == BranchToBranch }

type DeliveryStatus string

const (
	DeliveryPending            DeliveryStatus = "PENDING"
	DeliveryAccepted           DeliveryStatus = "ACCEPTED"
	DeliveryCollected          DeliveryStatus = "COLLECTED"
	DeliveryShipping           DeliveryStatus = "SHIPPING"
	DeliveryArrivedDestination DeliveryStatus = "ARRIVED_DESTINATION"
	DeliveryDelivered          DeliveryStatus = "DELIVERED"
	DeliveryFinished           DeliveryStatus = "FINISHED"
	DeliveryReported           DeliveryStatus = "REPORTED"
	DeliveryCanceled           DeliveryStatus = "CANCELED"
	DeliveryExpired            DeliveryStatus = "EXPIRED"
)

// ACCEPTED -> PENDING is the release path taken when a route is canceled.
var deliveryTransitions = map[DeliveryStatus][]DeliveryStatus{
	DeliveryPending:            {DeliveryAccepted, DeliveryCanceled, DeliveryExpired},
	DeliveryAccepted:           {DeliveryPending, DeliveryCollected, DeliveryCanceled},
	DeliveryCollected:          {DeliveryShipping, DeliveryReported},
	DeliveryShipping:           {DeliveryArrivedDestination, DeliveryReported},
	DeliveryArrivedDestination: {DeliveryDelivered, DeliveryReported},
	DeliveryDelivered:          {DeliveryFinished},
	DeliveryReported:           {DeliveryCollected, DeliveryShipping, DeliveryArrivedDestination, DeliveryDelivered},
}

// nextInTransit is the driver-facing progression of a leg once its route started.
var nextInTransit = map[DeliveryStatus]DeliveryStatus{
	DeliveryCollected:          DeliveryShipping,
	DeliveryShipping:           DeliveryArrivedDestination,
	DeliveryArrivedDestination: DeliveryDelivered,
}

type SourceKind string

const (
	SourceDonation SourceKind = "DONATION"
	SourceAid      SourceKind = "AID"
	SourceTransfer SourceKind = "TRANSFER"
)

// DeliverySource says which request, if any, a leg was materialized from.
// A leg never points at both a donation and an aid request.
type DeliverySource struct {
	Kind      SourceKind `json:"kind"`
	RequestID string     `json:"request_id,omitempty"`
}

func DonationSource(requestID string) DeliverySource {
	return DeliverySource{Kind: SourceDonation, RequestID: requestID}
}

func AidSource(requestID string) DeliverySource {
	return DeliverySource{Kind: SourceAid, RequestID: requestID}
}

type DeliveryItem struct {
	ID               string           `json:"id"`
	RequestItemID    string           `json:"request_item_id,omitempty"`
	ItemID           string           `json:"item_id"`
	Quantity         decimal.Decimal  `json:"quantity"`
	ReceivedQuantity *decimal.Decimal `json:"received_quantity,omitempty"`
	// Earliest expiration among the dispatched goods.
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
	// Dispatched quantity per source expiration date, earliest first. Only
	// legs leaving a branch carry batches.
	Batches []DeliveryBatch `json:"batches,omitempty"`
}

// DeliveryBatch is the part of a dispatched item drawn from lots sharing
// one expiration date.
type DeliveryBatch struct {
	ExpirationDate time.Time       `json:"expiration_date"`
	Quantity       decimal.Decimal `json:"quantity"`
}

// ReceivedBatches splits the received quantity over the dispatched batches,
// earliest expiration first, so a shortfall comes out of the latest dates.
// Items without batches yield nil.
func (i DeliveryItem) ReceivedBatches() []DeliveryBatch {
	if len(i.Batches) == 0 {
		return nil
	}
	left := i.Received()
	out := make([]DeliveryBatch, 0, len(i.Batches))
	for _, b := range i.Batches {
		if !left.IsPositive() {
			break
		}
		take := decimal.Min(b.Quantity, left)
		out = append(out, DeliveryBatch{ExpirationDate: b.ExpirationDate, Quantity: take})
		left = left.Sub(take)
	}
	return out
}

// Received is the recorded received quantity, zero until recorded.
func (i DeliveryItem) Received() decimal.Decimal {
	if i.ReceivedQuantity == nil {
		return decimal.Zero
	}
	return *i.ReceivedQuantity
}

// DeliveryRequest is one transport leg.
type DeliveryRequest struct {
	ID             string         `json:"id"`
	Type           DeliveryType   `json:"type"`
	Source         DeliverySource `json:"source"`
	FromBranchID   string         `json:"from_branch_id,omitempty"`
	ToBranchID     string         `json:"to_branch_id,omitempty"`
	FromLocation   string         `json:"from_location"`
	ToLocation     string         `json:"to_location"`
	Items          []DeliveryItem `json:"items"`
	Window         TimeWindow     `json:"window"`
	Status         DeliveryStatus `json:"status"`
	PreviousStatus DeliveryStatus `json:"previous_status,omitempty"`
	RouteID        string         `json:"route_id,omitempty"`
	ProofURL       string         `json:"proof_url,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	Version        int64          `json:"-"`
}

// HomeBranchID is the branch that dispatches or receives the leg and so
// owns its route: the destination for donor pickups, the origin otherwise.
func (d *DeliveryRequest) HomeBranchID() string {
	switch d.Type {
	case DonorToBranch:
		return d.ToBranchID
	default:
		return d.FromBranchID
	}
}

func (d *DeliveryRequest) MoveTo(to DeliveryStatus, at time.Time) error {
	if !slices.Contains(deliveryTransitions[d.Status], to) {
		return invalidTransition("delivery request", d.ID, d.Status, to)
	}
	d.Status = to
	d.UpdatedAt = at
	return nil
}

// Advance moves an in-transit leg one step along its progression.
func (d *DeliveryRequest) Advance(at time.Time) error {
	next, ok := nextInTransit[d.Status]
	if !ok {
		return invalidTransition("delivery request", d.ID, d.Status, "next stop status")
	}
	return d.MoveTo(next, at)
}

// Report suspends the leg, remembering where it was.
func (d *DeliveryRequest) Report(at time.Time) error {
	prev := d.Status
	if err := d.MoveTo(DeliveryReported, at); err != nil {
		return err
	}
	d.PreviousStatus = prev
	return nil
}

// Resume returns a reported leg to where it was before the report.
func (d *DeliveryRequest) Resume(at time.Time) error {
	if d.Status != DeliveryReported {
		return invalidTransition("delivery request", d.ID, d.Status, d.PreviousStatus)
	}
	if err := d.MoveTo(d.PreviousStatus, at); err != nil {
		return err
	}
	d.PreviousStatus = ""
	return nil
}

func (d *DeliveryRequest) Item(id string) (*DeliveryItem, bool) {
	for i := range d.Items {
		if d.Items[i].ID == id {
			return &d.Items[i], true
		}
	}
	return nil, false
}
