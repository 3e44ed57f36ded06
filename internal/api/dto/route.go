package dto

import (
	"time"

	"donation-logistics-service/internal/domain"

	"github.com/shopspring/decimal"
)

type ProposeRouteRequest struct {
	DeliveryRequestIDs []string  `json:"delivery_request_ids"`
	StartTime          time.Time `json:"start_time"`
	DriverID           string    `json:"driver_id"`
	OptimizeOrder      bool      `json:"optimize_order"`
}

type RouteResponse struct {
	Route domain.ScheduledRoute `json:"route"`
}

type DriverRequest struct {
	DriverID string `json:"driver_id"`
}

type PositionRequest struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type StartRouteRequest struct {
	DriverID string          `json:"driver_id"`
	Position PositionRequest `json:"position"`
}

// Received is keyed by delivery item id.
type AdvanceStopRequest struct {
	DriverID string                     `json:"driver_id"`
	Received map[string]decimal.Decimal `json:"received"`
}

type ReportStopRequest struct {
	DriverID string `json:"driver_id"`
	Note     string `json:"note"`
}

type ResolveReportRequest struct {
	Action   string                     `json:"action"`
	Received map[string]decimal.Decimal `json:"received"`
}

type AttachProofRequest struct {
	DriverID string `json:"driver_id"`
	Ref      string `json:"ref"`
}
