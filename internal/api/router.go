package api

import (
	"net/http"

	"donation-logistics-service/internal/api/handlers"
	"donation-logistics-service/internal/platform/clock"
	"donation-logistics-service/internal/services"

	"go.uber.org/zap"
)

// Deps are the core services the HTTP surface maps onto.
type Deps struct {
	Requests  *services.RequestLifecycle
	Grouper   *services.DeliveryGrouper
	Scheduler *services.RouteScheduler
	Ledger    *services.StockLedger
	Sweeper   *services.Sweeper
	Clock     clock.Clock
	Log       *zap.Logger
}

// NewRouter wires HTTP handlers with their dependencies and returns an http.Handler.
// This is the API composition root (handlers stay unaware of concrete adapters).
func NewRouter(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Clock == nil {
		d.Clock = clock.Real()
	}

	mux := http.NewServeMux()

	health := &handlers.HealthHandler{Clock: d.Clock}
	requests := &handlers.RequestHandler{Lifecycle: d.Requests}
	deliveries := &handlers.DeliveryHandler{Grouper: d.Grouper}
	routes := &handlers.RouteHandler{Scheduler: d.Scheduler}
	stock := &handlers.StockHandler{Ledger: d.Ledger}
	maintenance := &handlers.MaintenanceHandler{Sweeper: d.Sweeper}

	mux.HandleFunc("/health", health.Health)

	mux.HandleFunc("POST /requests", requests.Submit)
	mux.HandleFunc("GET /requests/{id}", requests.Get)
	mux.HandleFunc("GET /requests/{id}/offers", requests.ListOffers)
	mux.HandleFunc("GET /requests/{id}/deliveries", requests.ListDeliveries)
	mux.HandleFunc("POST /requests/{id}/confirm", requests.Confirm)
	mux.HandleFunc("POST /requests/{id}/cancel", requests.Cancel)
	mux.HandleFunc("POST /offers/{id}/accept", requests.AcceptOffer)
	mux.HandleFunc("POST /offers/{id}/reject", requests.RejectOffer)

	mux.HandleFunc("GET /deliveries/groups", deliveries.Groups)

	mux.HandleFunc("POST /routes", routes.Propose)
	mux.HandleFunc("GET /routes/{id}", routes.Get)
	mux.HandleFunc("POST /routes/{id}/accept", routes.Accept)
	mux.HandleFunc("POST /routes/{id}/start", routes.Start)
	mux.HandleFunc("POST /routes/{id}/finish", routes.Finish)
	mux.HandleFunc("POST /routes/{id}/cancel", routes.Cancel)
	mux.HandleFunc("POST /routes/{id}/stops/{order}/advance", routes.Advance)
	mux.HandleFunc("POST /routes/{id}/stops/{order}/report", routes.Report)
	mux.HandleFunc("POST /routes/{id}/stops/{order}/resolve", routes.Resolve)
	mux.HandleFunc("POST /routes/{id}/stops/{order}/proof", routes.AttachProof)

	mux.HandleFunc("POST /branches/{branchID}/stock/imports", stock.Import)
	mux.HandleFunc("POST /branches/{branchID}/stock/exports", stock.Export)
	mux.HandleFunc("GET /branches/{branchID}/stock/history", stock.History)
	mux.HandleFunc("GET /branches/{branchID}/stock/items/{itemID}", stock.Available)

	if d.Sweeper != nil {
		mux.HandleFunc("POST /maintenance/sweep", maintenance.Sweep)
	}

	var h http.Handler = mux
	h = recoverMiddleware(d.Log)(h)
	h = loggingMiddleware(d.Log)(h)
	h = requestIDMiddleware(h)
	return h
}
