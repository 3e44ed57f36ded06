package domain

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

type RequestKind string

const (
	RequestDonation RequestKind = "DONATION"
	RequestAid      RequestKind = "AID"
)

type RequestStatus string

const (
	RequestPending    RequestStatus = "PENDING"
	RequestAccepted   RequestStatus = "ACCEPTED"
	RequestProcessing RequestStatus = "PROCESSING"
	RequestFinished   RequestStatus = "FINISHED"
	RequestRejected   RequestStatus = "REJECTED"
	RequestExpired    RequestStatus = "EXPIRED"
	RequestCanceled   RequestStatus = "CANCELED"
)

var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestPending:    {RequestAccepted, RequestRejected, RequestExpired, RequestCanceled},
	RequestAccepted:   {RequestProcessing, RequestRejected, RequestCanceled},
	RequestProcessing: {RequestFinished, RequestCanceled},
}

func (s RequestStatus) Terminal() bool {
	return len(requestTransitions[s]) == 0
}

// AidTargetKind tells who receives an aid request's goods.
type AidTargetKind string

const (
	TargetCharityUnit AidTargetKind = "CHARITY_UNIT"
	TargetBranch      AidTargetKind = "BRANCH"
)

type AidTarget struct {
	Kind          AidTargetKind `json:"kind"`
	CharityUnitID string        `json:"charity_unit_id,omitempty"`
	BranchID      string        `json:"branch_id,omitempty"`
}

// A half-open interval [Start, End) in which pickup or delivery may happen.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (w TimeWindow) Overlaps(o TimeWindow) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

func (w TimeWindow) Equal(o TimeWindow) bool {
	return w.Start.Equal(o.Start) && w.End.Equal(o.End)
}

type ItemStatus string

const (
	ItemPending  ItemStatus = "PENDING"
	ItemAccepted ItemStatus = "ACCEPTED"
	ItemRejected ItemStatus = "REJECTED"
)

// RequestItem is one line of a donation or aid request.
type RequestItem struct {
	ID                 string          `json:"id"`
	ItemID             string          `json:"item_id"`
	Quantity           decimal.Decimal `json:"quantity"`
	ExpirationEstimate *time.Time      `json:"expiration_estimate,omitempty"`
	Status             ItemStatus      `json:"status"`
	ConfirmedQuantity  decimal.Decimal `json:"confirmed_quantity"`
}

// Request is either a donation intake (supply) or an aid outtake (demand).
// ActivityID is only meaningful for donations and Target only for aid.
type Request struct {
	ID               string        `json:"id"`
	Kind             RequestKind   `json:"kind"`
	RequesterID      string        `json:"requester_id"`
	Location         string        `json:"location"`
	Items            []RequestItem `json:"items"`
	Windows          []TimeWindow  `json:"windows"`
	Note             string        `json:"note,omitempty"`
	Status           RequestStatus `json:"status"`
	StatusReason     string        `json:"status_reason,omitempty"`
	ActivityID       string        `json:"activity_id,omitempty"`
	Target           *AidTarget    `json:"target,omitempty"`
	AcceptedBranchID string        `json:"accepted_branch_id,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
	Version          int64         `json:"-"`
}

// MoveTo applies a lifecycle transition, refusing anything not in the table.
func (r *Request) MoveTo(to RequestStatus, at time.Time) error {
	if !slices.Contains(requestTransitions[r.Status], to) {
		return invalidTransition("request", r.ID, r.Status, to)
	}
	r.Status = to
	r.UpdatedAt = at
	return nil
}

// LastWindowEnd is the end of the latest window, zero if there are none.
func (r *Request) LastWindowEnd() time.Time {
	var last time.Time
	for _, w := range r.Windows {
		if w.End.After(last) {
			last = w.End
		}
	}
	return last
}

func (r *Request) Item(id string) (*RequestItem, bool) {
	for i := range r.Items {
		if r.Items[i].ID == id {
			return &r.Items[i], true
		}
	}
	return nil, false
}

type OfferStatus string

const (
	OfferPending  OfferStatus = "PENDING"
	OfferAccepted OfferStatus = "ACCEPTED"
	OfferRejected OfferStatus = "REJECTED"
)

// Offer is a candidate branch's bid to take on a request.
type Offer struct {
	ID           string      `json:"id"`
	RequestID    string      `json:"request_id"`
	RequestKind  RequestKind `json:"request_kind"`
	BranchID     string      `json:"branch_id"`
	Status       OfferStatus `json:"status"`
	ConfirmedAt  *time.Time  `json:"confirmed_at,omitempty"`
	RejectReason string      `json:"reject_reason,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	Version      int64       `json:"-"`
}

func (o *Offer) Accept(at time.Time) error {
	if o.Status != OfferPending {
		return invalidTransition("offer", o.ID, o.Status, OfferAccepted)
	}
	o.Status = OfferAccepted
	o.ConfirmedAt = &at
	o.UpdatedAt = at
	return nil
}

func (o *Offer) Reject(reason string, at time.Time) error {
	if o.Status != OfferPending {
		return invalidTransition("offer", o.ID, o.Status, OfferRejected)
	}
	o.Status = OfferRejected
	o.RejectReason = reason
	o.ConfirmedAt = &at
	o.UpdatedAt = at
	return nil
}
