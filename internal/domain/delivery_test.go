package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDeliveryRequestReportAndResume(t *testing.T) {
	// build test data
	at := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	d := &DeliveryRequest{ID: "d1", Type: DonorToBranch, Status: DeliveryCollected}

	// call the methods under test
	if err := d.Advance(at); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.Report(at.Add(time.Minute)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// verify behavior
	if d.Status != DeliveryReported {
		t.Fatalf("status = %s, want %s", d.Status, DeliveryReported)
	}
	if d.PreviousStatus != DeliveryShipping {
		t.Fatalf("previous status = %s, want %s", d.PreviousStatus, DeliveryShipping)
	}

	if err := d.Advance(at); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("advance while reported: err = %v, want ErrInvalidState", err)
	}

	if err := d.Resume(at.Add(2 * time.Minute)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Status != DeliveryShipping || d.PreviousStatus != "" {
		t.Fatalf("after resume: status = %s previous = %q", d.Status, d.PreviousStatus)
	}
	if !d.UpdatedAt.Equal(at.Add(2 * time.Minute)) {
		t.Errorf("UpdatedAt = %v", d.UpdatedAt)
	}
}

func TestDeliveryRequestTransitions(t *testing.T) {
	tests := []struct {
		from DeliveryStatus
		to   DeliveryStatus
		ok   bool
	}{
		{DeliveryPending, DeliveryAccepted, true},
		{DeliveryPending, DeliveryCollected, false},
		{DeliveryAccepted, DeliveryPending, true},
		{DeliveryAccepted, DeliveryCollected, true},
		{DeliveryDelivered, DeliveryFinished, true},
		{DeliveryFinished, DeliveryPending, false},
		{DeliveryCanceled, DeliveryPending, false},
		{DeliveryExpired, DeliveryAccepted, false},
		{DeliveryReported, DeliveryDelivered, true},
	}

	for _, tt := range tests {
		d := &DeliveryRequest{ID: "d", Status: tt.from}
		err := d.MoveTo(tt.to, time.Now())
		if tt.ok && err != nil {
			t.Errorf("%s -> %s: unexpected error: %v", tt.from, tt.to, err)
		}
		if !tt.ok && !errors.Is(err, ErrInvalidState) {
			t.Errorf("%s -> %s: err = %v, want ErrInvalidState", tt.from, tt.to, err)
		}
		if !tt.ok && d.Status != tt.from {
			t.Errorf("%s -> %s: status changed to %s on refusal", tt.from, tt.to, d.Status)
		}
	}
}

func TestDeliveryRequestHomeBranch(t *testing.T) {
	tests := []struct {
		typ  DeliveryType
		want string
	}{
		{DonorToBranch, "to"},
		{BranchToAid, "from"},
		{BranchToBranch, "from"},
	}
	for _, tt := range tests {
		d := &DeliveryRequest{Type: tt.typ, FromBranchID: "from", ToBranchID: "to"}
		if got := d.HomeBranchID(); got != tt.want {
			t.Errorf("%s: home branch = %q, want %q", tt.typ, got, tt.want)
		}
	}

	if !BranchToBranch.Inbound() || !BranchToBranch.Outbound() {
		t.Errorf("branch to branch must be both inbound and outbound")
	}
	if DonorToBranch.Outbound() || BranchToAid.Inbound() {
		t.Errorf("unexpected direction for one-way legs")
	}
}

func TestDeliveryItemReceived(t *testing.T) {
	it := DeliveryItem{Quantity: decimal.NewFromInt(4)}
	if !it.Received().IsZero() {
		t.Fatalf("received before recording = %s", it.Received())
	}

	q := decimal.NewFromInt(3)
	it.ReceivedQuantity = &q
	if !it.Received().Equal(q) {
		t.Fatalf("received = %s, want 3", it.Received())
	}
}

func TestDeliveryItemReceivedBatches(t *testing.T) {
	// build test data
	mar := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	apr := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	q := decimal.NewFromInt(3)
	it := DeliveryItem{
		Quantity:         decimal.NewFromInt(5),
		ReceivedQuantity: &q,
		Batches: []DeliveryBatch{
			{ExpirationDate: mar, Quantity: decimal.NewFromInt(2)},
			{ExpirationDate: apr, Quantity: decimal.NewFromInt(3)},
		},
	}

	got := it.ReceivedBatches()
	if len(got) != 2 {
		t.Fatalf("batches = %d, want 2", len(got))
	}
	if !got[0].ExpirationDate.Equal(mar) || got[0].Quantity.String() != "2" {
		t.Fatalf("first batch = %v %s, want 2024-03-01 2", got[0].ExpirationDate, got[0].Quantity)
	}
	if !got[1].ExpirationDate.Equal(apr) || got[1].Quantity.String() != "1" {
		t.Fatalf("second batch = %v %s, want 2024-04-01 1", got[1].ExpirationDate, got[1].Quantity)
	}

	one := decimal.NewFromInt(1)
	it.ReceivedQuantity = &one
	if got := it.ReceivedBatches(); len(got) != 1 || got[0].Quantity.String() != "1" {
		t.Fatalf("short receipt batches = %v", got)
	}

	if got := (DeliveryItem{Quantity: q, ReceivedQuantity: &q}).ReceivedBatches(); got != nil {
		t.Fatalf("item without batches = %v, want nil", got)
	}
}
