package dto

import (
	"time"

	"donation-logistics-service/internal/domain"

	"github.com/shopspring/decimal"
)

type SubmitItemRequest struct {
	ItemID             string          `json:"item_id"`
	Quantity           decimal.Decimal `json:"quantity"`
	ExpirationEstimate *time.Time      `json:"expiration_estimate"`
}

type WindowRequest struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type TargetRequest struct {
	Kind          string `json:"kind"`
	CharityUnitID string `json:"charity_unit_id"`
	BranchID      string `json:"branch_id"`
}

type SubmitRequestRequest struct {
	Kind         string              `json:"kind"`
	RequesterID  string              `json:"requester_id"`
	Location     string              `json:"location"`
	Items        []SubmitItemRequest `json:"items"`
	Windows      []WindowRequest     `json:"windows"`
	Note         string              `json:"note"`
	ActivityID   string              `json:"activity_id"`
	Target       *TargetRequest      `json:"target"`
	RadiusMeters *int                `json:"radius_meters"`
}

type SubmitRequestResponse struct {
	Request domain.Request `json:"request"`
	Offers  []domain.Offer `json:"offers"`
}

type RequestResponse struct {
	Request domain.Request `json:"request"`
}

type OfferDecisionRequest struct {
	BranchID string `json:"branch_id"`
	Reason   string `json:"reason"`
}

type OfferResponse struct {
	Offer domain.Offer `json:"offer"`
}

type ListOffersResponse struct {
	Offers []domain.Offer `json:"offers"`
}

type ItemConfirmationRequest struct {
	RequestItemID  string          `json:"request_item_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	WindowIndex    int             `json:"window_index"`
	ExpirationDate *time.Time      `json:"expiration_date"`
}

type ConfirmItemsRequest struct {
	BranchID string                    `json:"branch_id"`
	Items    []ItemConfirmationRequest `json:"items"`
}

type ConfirmItemsResponse struct {
	Request    domain.Request           `json:"request"`
	Deliveries []domain.DeliveryRequest `json:"deliveries"`
}

type ReasonRequest struct {
	Reason string `json:"reason"`
}

type ListDeliveriesResponse struct {
	Deliveries []domain.DeliveryRequest `json:"deliveries"`
}

type DeliveryGroupsResponse struct {
	Groups [][]domain.DeliveryRequest `json:"groups"`
}

type SweepResponse struct {
	ExpiredRequests   int `json:"expired_requests"`
	ExpiredDeliveries int `json:"expired_deliveries"`
	ExpiredLots       int `json:"expired_lots"`
	Conflicts         int `json:"conflicts"`
}
