package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"donation-logistics-service/internal/api/dto"
	"donation-logistics-service/internal/domain"
	"donation-logistics-service/internal/services"
)

type StockHandler struct {
	Ledger *services.StockLedger
}

// Import posts a direct stock entry at the branch.
func (h *StockHandler) Import(w http.ResponseWriter, r *http.Request) {
	var req dto.ImportStockRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	exp, err := time.Parse(time.DateOnly, strings.TrimSpace(req.ExpirationDate))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "expiration_date must be YYYY-MM-DD")
		return
	}

	lot, err := h.Ledger.PostImport(r.Context(), services.ImportInput{
		BranchID:       r.PathValue("branchID"),
		ItemID:         req.ItemID,
		ExpirationDate: exp,
		Quantity:       req.Quantity,
		OwnerID:        req.OwnerID,
		ActivityID:     req.ActivityID,
		Source:         domain.LedgerSource{Kind: domain.LedgerFromDirect},
		Note:           req.Note,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, dto.StockLotResponse{Lot: *lot})
}

// Export draws stock FEFO, or from exactly lot_ids when given.
func (h *StockHandler) Export(w http.ResponseWriter, r *http.Request) {
	var req dto.ExportStockRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	entries, err := h.Ledger.PostExport(r.Context(), services.ExportInput{
		BranchID:     r.PathValue("branchID"),
		ItemID:       req.ItemID,
		Quantity:     req.Quantity,
		ActivityID:   req.ActivityID,
		LotIDs:       req.LotIDs,
		AidRequestID: req.AidRequestID,
		Note:         req.Note,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, dto.LedgerEntriesResponse{Entries: entries})
}

// History lists the branch ledger. Activity-scoped entries are only
// included with private=true.
func (h *StockHandler) History(w http.ResponseWriter, r *http.Request) {
	includePrivate := false
	if raw := r.URL.Query().Get("private"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "private must be a boolean")
			return
		}
		includePrivate = v
	}

	entries, err := h.Ledger.BranchHistory(r.Context(), r.PathValue("branchID"), includePrivate)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	writeJSON(w, r, http.StatusOK, dto.LedgerEntriesResponse{Entries: entries})
}

func (h *StockHandler) Available(w http.ResponseWriter, r *http.Request) {
	branchID := r.PathValue("branchID")
	itemID := r.PathValue("itemID")
	activityID := r.URL.Query().Get("activity_id")

	qty, err := h.Ledger.AvailableQuantity(r.Context(), branchID, itemID, activityID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto.AvailableStockResponse{
		BranchID:   branchID,
		ItemID:     itemID,
		ActivityID: activityID,
		Quantity:   qty,
	})
}
