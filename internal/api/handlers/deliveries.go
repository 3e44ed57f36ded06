package handlers

import (
	"net/http"
	"strings"

	"donation-logistics-service/internal/api/dto"
	"donation-logistics-service/internal/domain"
	"donation-logistics-service/internal/services"
)

type DeliveryHandler struct {
	Grouper *services.DeliveryGrouper
}

// Groups lists the pending, unrouted legs grouped into route candidates.
// Optional query filters: type and branch_id.
func (h *DeliveryHandler) Groups(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var deliveryType *domain.DeliveryType
	if raw := strings.ToUpper(strings.TrimSpace(q.Get("type"))); raw != "" {
		t := domain.DeliveryType(raw)
		switch t {
		case domain.DonorToBranch, domain.BranchToAid, domain.BranchToBranch:
		default:
			writeError(w, r, http.StatusBadRequest, "type must be one of DONOR_TO_BRANCH, BRANCH_TO_AID, BRANCH_TO_BRANCH")
			return
		}
		deliveryType = &t
	}

	groups, err := h.Grouper.GroupPendingDeliveryRequests(r.Context(), deliveryType, strings.TrimSpace(q.Get("branch_id")))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if groups == nil {
		groups = [][]domain.DeliveryRequest{}
	}
	writeJSON(w, r, http.StatusOK, dto.DeliveryGroupsResponse{Groups: groups})
}

type MaintenanceHandler struct {
	Sweeper *services.Sweeper
}

// Sweep runs one expiry pass on demand.
func (h *MaintenanceHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Sweeper.Sweep(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto.SweepResponse{
		ExpiredRequests:   sum.Requests,
		ExpiredDeliveries: sum.Deliveries,
		ExpiredLots:       sum.Lots,
		Conflicts:         sum.Conflicts,
	})
}
