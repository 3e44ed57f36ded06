package handlers

import (
	"net/http"

	"donation-logistics-service/internal/api/dto"
	"donation-logistics-service/internal/domain"
	"donation-logistics-service/internal/services"
)

type RequestHandler struct {
	Lifecycle *services.RequestLifecycle
}

// Submit stores a donation or aid request and fans out offers to the
// candidate branches.
func (h *RequestHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req dto.SubmitRequestRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	in := services.SubmitRequestInput{
		Kind:         domain.RequestKind(req.Kind),
		RequesterID:  req.RequesterID,
		Location:     req.Location,
		Items:        make([]services.SubmitItem, 0, len(req.Items)),
		Windows:      make([]domain.TimeWindow, 0, len(req.Windows)),
		Note:         req.Note,
		ActivityID:   req.ActivityID,
		RadiusMeters: req.RadiusMeters,
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, services.SubmitItem{
			ItemID:             it.ItemID,
			Quantity:           it.Quantity,
			ExpirationEstimate: it.ExpirationEstimate,
		})
	}
	for _, win := range req.Windows {
		in.Windows = append(in.Windows, domain.TimeWindow{Start: win.Start, End: win.End})
	}
	if req.Target != nil {
		in.Target = &domain.AidTarget{
			Kind:          domain.AidTargetKind(req.Target.Kind),
			CharityUnitID: req.Target.CharityUnitID,
			BranchID:      req.Target.BranchID,
		}
	}

	created, offers, err := h.Lifecycle.Submit(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if offers == nil {
		offers = []domain.Offer{}
	}
	writeJSON(w, r, http.StatusCreated, dto.SubmitRequestResponse{Request: *created, Offers: offers})
}

func (h *RequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	req, err := h.Lifecycle.GetRequest(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto.RequestResponse{Request: *req})
}

func (h *RequestHandler) ListOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := h.Lifecycle.ListOffers(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if offers == nil {
		offers = []domain.Offer{}
	}
	writeJSON(w, r, http.StatusOK, dto.ListOffersResponse{Offers: offers})
}

func (h *RequestHandler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	drs, err := h.Lifecycle.ListDeliveries(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if drs == nil {
		drs = []domain.DeliveryRequest{}
	}
	writeJSON(w, r, http.StatusOK, dto.ListDeliveriesResponse{Deliveries: drs})
}

// Confirm records the accepting branch's per-line decision and materializes
// delivery requests.
func (h *RequestHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req dto.ConfirmItemsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	confs := make([]services.ItemConfirmation, 0, len(req.Items))
	for _, it := range req.Items {
		confs = append(confs, services.ItemConfirmation{
			RequestItemID:  it.RequestItemID,
			Quantity:       it.Quantity,
			WindowIndex:    it.WindowIndex,
			ExpirationDate: it.ExpirationDate,
		})
	}

	updated, drs, err := h.Lifecycle.ConfirmItems(r.Context(), r.PathValue("id"), req.BranchID, confs)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if drs == nil {
		drs = []domain.DeliveryRequest{}
	}
	writeJSON(w, r, http.StatusOK, dto.ConfirmItemsResponse{Request: *updated, Deliveries: drs})
}

func (h *RequestHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req dto.ReasonRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	updated, err := h.Lifecycle.CancelRequest(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto.RequestResponse{Request: *updated})
}

func (h *RequestHandler) AcceptOffer(w http.ResponseWriter, r *http.Request) {
	var req dto.OfferDecisionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	offer, err := h.Lifecycle.AcceptOffer(r.Context(), r.PathValue("id"), req.BranchID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto.OfferResponse{Offer: *offer})
}

func (h *RequestHandler) RejectOffer(w http.ResponseWriter, r *http.Request) {
	var req dto.OfferDecisionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	offer, err := h.Lifecycle.RejectOffer(r.Context(), r.PathValue("id"), req.BranchID, req.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto.OfferResponse{Offer: *offer})
}
