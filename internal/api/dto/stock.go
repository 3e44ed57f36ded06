package dto

import (
	"donation-logistics-service/internal/domain"

	"github.com/shopspring/decimal"
)

type ImportStockRequest struct {
	ItemID string `json:"item_id"`
	// Calendar date, YYYY-MM-DD.
	ExpirationDate string          `json:"expiration_date"`
	Quantity       decimal.Decimal `json:"quantity"`
	OwnerID        string          `json:"owner_id"`
	ActivityID     string          `json:"activity_id"`
	Note           string          `json:"note"`
}

type StockLotResponse struct {
	Lot domain.StockLot `json:"lot"`
}

type ExportStockRequest struct {
	ItemID     string          `json:"item_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	ActivityID string          `json:"activity_id"`
	LotIDs     []string        `json:"lot_ids"`
	// Set when the goods are handed over at the branch for an accepted aid request.
	AidRequestID string `json:"aid_request_id"`
	Note         string `json:"note"`
}

type LedgerEntriesResponse struct {
	Entries []domain.LedgerEntry `json:"entries"`
}

type AvailableStockResponse struct {
	BranchID   string          `json:"branch_id"`
	ItemID     string          `json:"item_id"`
	ActivityID string          `json:"activity_id,omitempty"`
	Quantity   decimal.Decimal `json:"quantity"`
}
