/*
handlers_test.go - HTTP surface tests

Wires the real core services against the in-memory store and drives the
router with httptest, checking status mapping and identity gating.
*/
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/fridge-ledger/account"
	"github.com/warp/fridge-ledger/api"
	"github.com/warp/fridge-ledger/catalog"
	"github.com/warp/fridge-ledger/ledger"
	"github.com/warp/fridge-ledger/store/memory"
)

type testServer struct {
	router http.Handler
	store  *memory.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	store := memory.New()
	engine := ledger.NewEngine(store, ledger.Config{})
	handler := api.NewHandler(
		catalog.NewService(store),
		account.NewService(store),
		engine,
		ledger.NewViews(store, store),
		ledger.NewReconciler(store),
		zap.NewNop(),
	)
	router := api.NewRouter(handler, []string{"*"})

	// Seed: a category, COLA with 10 units, an admin, a funded buyer.
	require.NoError(t, store.SaveCategory(ctx, ledger.ItemCategory{ID: "cat-1", Name: "Drinks"}))
	require.NoError(t, store.SaveItem(ctx, ledger.Item{
		ID: "item-cola", Code: "COLA", Name: "Cola",
		Cost: ledger.MustParseMoney("1.00"), Markup: ledger.MustParseMoney("0.5"),
		CategoryID: "cat-1", Enabled: true,
	}))
	require.NoError(t, store.CreateUser(ctx,
		ledger.User{ID: "admin", Email: "admin@fridge.local", PasswordHash: "x", IsAdmin: true, Enabled: true},
		ledger.Account{ID: "acc-admin", UserID: "admin", Balance: ledger.MustParseMoney("0")},
	))
	require.NoError(t, store.CreateUser(ctx,
		ledger.User{ID: "alice", Email: "alice@fridge.local", PasswordHash: "x", Enabled: true},
		ledger.Account{ID: "acc-alice", UserID: "alice", Balance: ledger.MustParseMoney("0")},
	))

	admin := ledger.Session{UserID: "admin", IsAdmin: true}
	_, err := engine.Append(ctx, admin, ledger.Restock{ItemCode: "COLA", Units: 10})
	require.NoError(t, err)
	_, err = engine.Append(ctx, admin, ledger.Topup{ForUser: "alice", Amount: ledger.MustParseMoney("10.00")})
	require.NoError(t, err)

	return &testServer{router: router, store: store}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, as ledger.Session) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if as.UserID != "" {
		req.Header.Set("X-User-ID", string(as.UserID))
	}
	if as.IsAdmin {
		req.Header.Set("X-User-Admin", "true")
	}

	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

var (
	asAdmin = ledger.Session{UserID: "admin", IsAdmin: true}
	asAlice = ledger.Session{UserID: "alice"}
)

func TestPurchaseEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/purchases",
		map[string]any{"item_code": "COLA"}, asAlice)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var entry struct {
		Type     string `json:"type"`
		Quantity string `json:"quantity"`
		Units    int    `json:"units"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, "purchase", entry.Type)
	assert.Equal(t, "1.5", entry.Quantity)
	assert.Equal(t, 1, entry.Units)

	// Balance reflects the debit.
	rec = ts.do(t, http.MethodGet, "/api/users/alice/balance", nil, asAlice)
	require.Equal(t, http.StatusOK, rec.Code)
	var balance struct {
		Balance string `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &balance))
	assert.Equal(t, "8.5", balance.Balance)
}

func TestPurchaseEndpoint_InsufficientFundsIs422(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/purchases",
		map[string]any{"item_code": "COLA", "units": 7}, asAlice)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPurchaseEndpoint_UnknownItemIs400(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/purchases",
		map[string]any{"item_code": "NOPE"}, asAlice)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRestockEndpoint_AdminGate(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/restocks",
		map[string]any{"item_code": "COLA", "units": 5}, asAlice)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/restocks",
		map[string]any{"item_code": "COLA", "units": 5}, asAdmin)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestTransferEndpoint(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.store.CreateUser(context.Background(),
		ledger.User{ID: "bob", Email: "bob@fridge.local", PasswordHash: "x", Enabled: true},
		ledger.Account{ID: "acc-bob", UserID: "bob", Balance: ledger.MustParseMoney("0")},
	))

	rec := ts.do(t, http.MethodPost, "/api/transfers",
		map[string]any{"to": "bob", "amount": "4.00"}, asAlice)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Transfer to self maps to 422.
	rec = ts.do(t, http.MethodPost, "/api/transfers",
		map[string]any{"to": "alice", "amount": "1.00"}, asAlice)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// Malformed amount maps to 400.
	rec = ts.do(t, http.MethodPost, "/api/transfers",
		map[string]any{"to": "bob", "amount": "lots"}, asAlice)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestItemEndpoints(t *testing.T) {
	ts := newTestServer(t)

	// Anyone can list.
	rec := ts.do(t, http.MethodGet, "/api/items", nil, asAlice)
	require.Equal(t, http.StatusOK, rec.Code)
	var items []struct {
		Code       string `json:"code"`
		StockCount int    `json:"stock_count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "COLA", items[0].Code)
	assert.Equal(t, 10, items[0].StockCount)

	// Creation is admin-only, duplicate code conflicts.
	body := map[string]any{
		"code": "MATE", "name": "Club Mate", "cost": "1.20", "markup": "0.25", "category_id": "cat-1",
	}
	rec = ts.do(t, http.MethodPost, "/api/items", body, asAlice)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/items", body, asAdmin)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/items", body, asAdmin)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Missing item is 404.
	rec = ts.do(t, http.MethodGet, "/api/items/NOPE", nil, asAlice)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLoginEndpoint(t *testing.T) {
	ts := newTestServer(t)

	// Create a user through the API so the hash is real.
	rec := ts.do(t, http.MethodPost, "/api/users",
		map[string]any{"email": "carol@fridge.local", "password": "secret"}, asAdmin)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/login",
		map[string]any{"email": "carol@fridge.local", "password": "secret"}, ledger.Session{})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/login",
		map[string]any{"email": "carol@fridge.local", "password": "wrong"}, ledger.Session{})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestReconcileEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/reconcile", nil, asAlice)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/reconcile", nil, asAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	var report struct {
		Clean bool `json:"clean"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.True(t, report.Clean)

	// Drift a projection behind the ledger's back; the endpoint reports it
	// with a 500 and the full report.
	ctx := context.Background()
	require.NoError(t, ts.store.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.AdjustStock(ctx, "item-cola", -1)
	}))

	rec = ts.do(t, http.MethodPost, "/api/reconcile", nil, asAdmin)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.False(t, report.Clean)
}

func TestVerifiedEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/purchases",
		map[string]any{"item_code": "COLA"}, asAlice)
	require.Equal(t, http.StatusCreated, rec.Code)
	var entry struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))

	rec = ts.do(t, http.MethodPut, "/api/entries/"+entry.ID+"/verified",
		map[string]any{"verified": false}, asAlice)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPut, "/api/entries/"+entry.ID+"/verified",
		map[string]any{"verified": false}, asAdmin)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
