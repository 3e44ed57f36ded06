package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"donation-logistics-service/internal/adapters/catalog"
	"donation-logistics-service/internal/adapters/distance"
	"donation-logistics-service/internal/adapters/repositories/memory"
	"donation-logistics-service/internal/api/dto"
	"donation-logistics-service/internal/domain"
	"donation-logistics-service/internal/platform/clock"
	"donation-logistics-service/internal/ports"
	"donation-logistics-service/internal/services"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var now = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	log := zaptest.NewLogger(t)
	store := memory.NewStore()
	clk := clock.NewFake(now)

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		for _, b := range []domain.Branch{
			{ID: "b1", Name: "Branch One", Location: "10.000000,106.000000-Branch One", Active: true},
			{ID: "b2", Name: "Branch Two", Location: "10.050000,106.000000-Branch Two", Active: true},
		} {
			if err := tx.Branches().Save(ctx, &b); err != nil {
				return err
			}
		}
		return tx.Items().Save(ctx, &domain.Item{ID: "rice", Name: "Rice", Unit: "kg", ShelfLifeDays: 180})
	})
	require.NoError(t, err)

	geo := services.NewGeoMatcher(distance.StraightLineProvider{}, services.DefaultGeoMatcherConfig(), log)
	ledger := services.NewStockLedger(store, catalog.New(store), clk, log)
	lifecycle := services.NewRequestLifecycle(store, geo, ledger, nil, clk, log)

	return NewRouter(Deps{
		Requests:  lifecycle,
		Grouper:   services.NewDeliveryGrouper(store),
		Scheduler: services.NewRouteScheduler(store, geo, ledger, nil, nil, clk, log),
		Ledger:    ledger,
		Sweeper:   services.NewSweeper(lifecycle, ledger, log),
		Clock:     clk,
		Log:       log,
	})
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func submitDonation(t *testing.T, h http.Handler) dto.SubmitRequestResponse {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/requests", map[string]any{
		"kind":         "DONATION",
		"requester_id": "donor-1",
		"location":     "10.020000,106.000000-12 Donor Street",
		"items":        []map[string]any{{"item_id": "rice", "quantity": 4}},
		"windows":      []map[string]any{{"start": now.Add(24 * time.Hour), "end": now.Add(28 * time.Hour)}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[dto.SubmitRequestResponse](t, rec)
}

func TestHealth(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "2024-01-01T08:00:00Z", body["time"])

	rec = do(t, h, http.MethodPost, "/health", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodGet, rec.Header().Get("Allow"))
}

func TestRequestIDIsEchoed(t *testing.T) {
	h := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))

	rec = do(t, h, http.MethodGet, "/health", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestDonationFlowOverHTTP(t *testing.T) {
	h := newTestRouter(t)

	submitted := submitDonation(t, h)
	require.Len(t, submitted.Offers, 2)
	assert.Equal(t, domain.RequestPending, submitted.Request.Status)

	var offerID string
	for _, o := range submitted.Offers {
		if o.BranchID == "b1" {
			offerID = o.ID
		}
	}
	require.NotEmpty(t, offerID)

	rec := do(t, h, http.MethodPost, "/offers/"+offerID+"/accept", dto.OfferDecisionRequest{BranchID: "b1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.OfferAccepted, decodeBody[dto.OfferResponse](t, rec).Offer.Status)

	reqID := submitted.Request.ID
	rec = do(t, h, http.MethodPost, "/requests/"+reqID+"/confirm", dto.ConfirmItemsRequest{
		BranchID: "b1",
		Items: []dto.ItemConfirmationRequest{
			{RequestItemID: submitted.Request.Items[0].ID, Quantity: decimal.NewFromInt(4)},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	confirmed := decodeBody[dto.ConfirmItemsResponse](t, rec)
	require.Len(t, confirmed.Deliveries, 1)
	legID := confirmed.Deliveries[0].ID

	rec = do(t, h, http.MethodGet, "/deliveries/groups?type=DONOR_TO_BRANCH&branch_id=b1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	groups := decodeBody[dto.DeliveryGroupsResponse](t, rec).Groups
	require.Len(t, groups, 1)
	assert.Equal(t, legID, groups[0][0].ID)

	rec = do(t, h, http.MethodPost, "/routes", dto.ProposeRouteRequest{
		DeliveryRequestIDs: []string{legID},
		StartTime:          now.Add(25 * time.Hour),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	routeID := decodeBody[dto.RouteResponse](t, rec).Route.ID

	rec = do(t, h, http.MethodPost, "/routes/"+routeID+"/accept", dto.DriverRequest{DriverID: "driver-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/routes/"+routeID+"/start", dto.StartRouteRequest{
		DriverID: "driver-1",
		Position: dto.PositionRequest{Lat: 10, Lon: 106},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	for step := 0; step < 3; step++ {
		rec = do(t, h, http.MethodPost, "/routes/"+routeID+"/stops/1/advance", dto.AdvanceStopRequest{DriverID: "driver-1"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	assert.Equal(t, domain.RouteFinished, decodeBody[dto.RouteResponse](t, rec).Route.Status)

	rec = do(t, h, http.MethodGet, "/requests/"+reqID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.RequestFinished, decodeBody[dto.RequestResponse](t, rec).Request.Status)

	rec = do(t, h, http.MethodGet, "/branches/b1/stock/items/rice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	avail := decodeBody[dto.AvailableStockResponse](t, rec)
	assert.True(t, avail.Quantity.Equal(decimal.NewFromInt(4)), "available %s", avail.Quantity)
}

func TestStockEndpoints(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/branches/b1/stock/imports", dto.ImportStockRequest{
		ItemID:         "rice",
		ExpirationDate: "2024-03-01",
		Quantity:       decimal.NewFromInt(10),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	lot := decodeBody[dto.StockLotResponse](t, rec).Lot
	assert.Equal(t, domain.LotValid, lot.Status)

	rec = do(t, h, http.MethodPost, "/branches/b1/stock/exports", dto.ExportStockRequest{
		ItemID:   "rice",
		Quantity: decimal.NewFromInt(3),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/branches/b1/stock/exports", dto.ExportStockRequest{
		ItemID:   "rice",
		Quantity: decimal.NewFromInt(30),
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodGet, "/branches/b1/stock/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[dto.LedgerEntriesResponse](t, rec).Entries, 2)

	rec = do(t, h, http.MethodPost, "/branches/b1/stock/imports", dto.ImportStockRequest{
		ItemID:         "rice",
		ExpirationDate: "01/03/2024",
		Quantity:       decimal.NewFromInt(1),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/branches/b1/stock/history?private=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodGet, "/requests/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/requests", map[string]any{"kind": "DONATION", "bogus": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/requests", map[string]any{
		"kind":         "DONATION",
		"requester_id": "donor-1",
		"location":     "10.020000,106.000000-12 Donor Street",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, http.MethodGet, "/requests", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = do(t, h, http.MethodPost, "/routes/r1/stops/first/advance", dto.AdvanceStopRequest{DriverID: "d"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/deliveries/groups?type=TELEPORT", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	submitted := submitDonation(t, h)
	for i, o := range submitted.Offers {
		rec = do(t, h, http.MethodPost, "/offers/"+o.ID+"/accept", dto.OfferDecisionRequest{BranchID: o.BranchID})
		if i == 0 {
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			continue
		}
		assert.Equal(t, http.StatusConflict, rec.Code)
	}
}

func TestSweepEndpoint(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/maintenance/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, dto.SweepResponse{}, decodeBody[dto.SweepResponse](t, rec))
}
