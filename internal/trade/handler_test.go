package trade_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/trade"
)

func newRouter(f fixture) http.Handler {
	h := trade.NewHandler(nil, f.svc)
	r := chi.NewRouter()
	r.Route("/transactions", h.MountRoutes)
	r.Route("/products", h.MountStockRoutes)
	return r
}

func post(h http.Handler, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandlerCommitAndFetch(t *testing.T) {
	f := newFixture(t)
	router := newRouter(f)
	p := f.product(t, "Beras")

	body := `{"type":"IN","new_contact":{"name":"Toko Padi"},"transaction_date":"2024-01-10","items":[{"product_id":"` + p.ID.String() + `","qty":10,"unit_price":100}]}`
	rr := post(router, "/transactions", body, map[string]string{trade.IdempotencyHeader: "k-1"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&created))
	require.Equal(t, "INV-20240110-00001", created["invoice_number"])
	require.Equal(t, "2024-01-10", created["transaction_date"])
	require.Equal(t, "Toko Padi", created["contact_name"])
	require.EqualValues(t, 1000, created["total_amount"])
	items := created["items"].([]any)
	require.Len(t, items, 1)
	require.EqualValues(t, 100, items[0].(map[string]any)["cost_at_moment"])

	rr = post(router, "/transactions", body, map[string]string{trade.IdempotencyHeader: "k-1"})
	require.Equal(t, http.StatusConflict, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/transactions/"+created["id"].(string), nil)
	got := httptest.NewRecorder()
	router.ServeHTTP(got, req)
	require.Equal(t, http.StatusOK, got.Code)

	req = httptest.NewRequest(http.MethodGet, "/transactions/stats?type=IN", nil)
	stats := httptest.NewRecorder()
	router.ServeHTTP(stats, req)
	require.Equal(t, http.StatusOK, stats.Code)
	var s map[string]any
	require.NoError(t, json.NewDecoder(stats.Body).Decode(&s))
	require.EqualValues(t, 1, s["total_count"])
	require.EqualValues(t, 1000, s["total_amount_in"])
}

func TestHandlerCommitErrors(t *testing.T) {
	f := newFixture(t)
	router := newRouter(f)
	p := f.product(t, "Kopi")

	rr := post(router, "/transactions", `{"type":"OUT","items":[]}`, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = post(router, "/transactions", `{"type":"OUT","items":[{"product_id":"`+p.ID.String()+`","qty":0,"unit_price":1}]}`, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "invalid_quantity")

	rr = post(router, "/transactions", `{"type":"OUT","items":[{"product_id":"`+p.ID.String()+`","qty":1,"unit_price":1}]}`, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Contains(t, rr.Body.String(), "Kopi")

	rr = post(router, "/transactions", `{"type":"IN","invoice_number":"A-1","items":[{"product_id":"`+p.ID.String()+`","qty":1,"unit_price":1}]}`, nil)
	require.Equal(t, http.StatusCreated, rr.Code)
	rr = post(router, "/transactions", `{"type":"IN","invoice_number":"A-1","items":[{"product_id":"`+p.ID.String()+`","qty":1,"unit_price":1}]}`, nil)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Contains(t, rr.Body.String(), "duplicate_invoice")
}

func TestHandlerCommitIgnoresClientSubtotal(t *testing.T) {
	f := newFixture(t)
	router := newRouter(f)
	p := f.product(t, "Beras")
	f.stock(t, p.ID, "10", "100")

	body := `{"type":"OUT","items":[{"product_id":"` + p.ID.String() + `","qty":5,"unit_price":200,"subtotal":1}]}`
	rr := post(router, "/transactions", body, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&created))
	require.EqualValues(t, 1000, created["total_amount"])
	item := created["items"].([]any)[0].(map[string]any)
	require.EqualValues(t, 1000, item["subtotal"])
	require.EqualValues(t, 500, item["cogs"])

	stats, err := f.svc.Stats(context.Background(), trade.Filter{Type: inventory.DirectionOut})
	require.NoError(t, err)
	require.True(t, stats.TotalAmountOut.Equal(dec("1000")), stats.TotalAmountOut.String())
}

func TestHandlerAddStock(t *testing.T) {
	f := newFixture(t)
	router := newRouter(f)
	p := f.product(t, "Gula")

	rr := post(router, "/products/"+p.ID.String()+"/stock", `{"qty":4,"total_buy_price":50000}`, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = post(router, "/products/"+p.ID.String()+"/stock", `{"qty":4,"supplier_name":"CV Manis","supplier_phone":"0812","total_buy_price":50000}`, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&created))
	require.Equal(t, trade.StockAddSource, created["input_source"])
	require.Equal(t, "CV Manis", created["contact_name"])

	got, err := f.inv.GetProduct(t.Context(), p.ID)
	require.NoError(t, err)
	require.True(t, got.Stock.Equal(dec("4")))
	require.True(t, got.AverageCost.Equal(dec("12500")))
}
