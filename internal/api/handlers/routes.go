package handlers

import (
	"net/http"

	"donation-logistics-service/internal/api/dto"
	"donation-logistics-service/internal/domain"
	"donation-logistics-service/internal/services"
)

type RouteHandler struct {
	Scheduler *services.RouteScheduler
}

// Propose builds a PENDING route over the given delivery requests.
// Distances come from the routing provider, so this call may answer 503.
func (h *RouteHandler) Propose(w http.ResponseWriter, r *http.Request) {
	var req dto.ProposeRouteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	route, err := h.Scheduler.Propose(r.Context(), services.ProposeRouteInput{
		DeliveryRequestIDs: req.DeliveryRequestIDs,
		StartTime:          req.StartTime,
		DriverID:           req.DriverID,
		OptimizeOrder:      req.OptimizeOrder,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, dto.RouteResponse{Route: *route})
}

func (h *RouteHandler) Get(w http.ResponseWriter, r *http.Request) {
	route, err := h.Scheduler.GetRoute(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto.RouteResponse{Route: *route})
}

func (h *RouteHandler) Accept(w http.ResponseWriter, r *http.Request) {
	var req dto.DriverRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	route, err := h.Scheduler.Accept(r.Context(), r.PathValue("id"), req.DriverID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto.RouteResponse{Route: *route})
}

func (h *RouteHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req dto.StartRouteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	pos := domain.Coordinates{Lat: req.Position.Lat, Lon: req.Position.Lon}
	route, err := h.Scheduler.Start(r.Context(), r.PathValue("id"), req.DriverID, pos)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto.RouteResponse{Route: *route})
}

// Advance moves one stop forward. Received quantities only matter when the
// stop reaches its destination.
func (h *RouteHandler) Advance(w http.ResponseWriter, r *http.Request) {
	order, ok := pathInt(w, r, "order")
	if !ok {
		return
	}
	var req dto.AdvanceStopRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	route, err := h.Scheduler.AdvanceStop(r.Context(), r.PathValue("id"), req.DriverID, order, req.Received)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto.RouteResponse{Route: *route})
}

func (h *RouteHandler) Report(w http.ResponseWriter, r *http.Request) {
	order, ok := pathInt(w, r, "order")
	if !ok {
		return
	}
	var req dto.ReportStopRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	route, err := h.Scheduler.ReportStop(r.Context(), r.PathValue("id"), req.DriverID, order, req.Note)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto.RouteResponse{Route: *route})
}

func (h *RouteHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	order, ok := pathInt(w, r, "order")
	if !ok {
		return
	}
	var req dto.ResolveReportRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	route, err := h.Scheduler.ResolveReport(
		r.Context(), r.PathValue("id"), order, services.ResolveAction(req.Action), req.Received,
	)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto.RouteResponse{Route: *route})
}

func (h *RouteHandler) AttachProof(w http.ResponseWriter, r *http.Request) {
	order, ok := pathInt(w, r, "order")
	if !ok {
		return
	}
	var req dto.AttachProofRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.Scheduler.AttachProof(r.Context(), r.PathValue("id"), req.DriverID, order, req.Ref); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RouteHandler) Finish(w http.ResponseWriter, r *http.Request) {
	route, err := h.Scheduler.Finish(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto.RouteResponse{Route: *route})
}

func (h *RouteHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req dto.ReasonRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	route, err := h.Scheduler.Cancel(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto.RouteResponse{Route: *route})
}
