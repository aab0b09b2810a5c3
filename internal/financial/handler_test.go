package financial_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/financial"
	"github.com/odyssey-erp/backoffice/internal/testing/memstore"
)

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	store := memstore.New()
	seed(t, store, nil)
	svc := financial.NewService(store.Financial(), nil, nil).WithClock(func() time.Time { return today })
	h := financial.NewHandler(nil, svc)
	r := chi.NewRouter()
	r.Route("/financial", h.MountFinancialRoutes)
	r.Route("/dashboard", h.MountDashboardRoutes)
	return r
}

func get(t *testing.T, h http.Handler, path string, out any) int {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil && rr.Code == http.StatusOK {
		require.NoError(t, json.NewDecoder(rr.Body).Decode(out))
	}
	return rr.Code
}

func TestHandlerProfitLoss(t *testing.T) {
	router := newRouter(t)

	var pl map[string]any
	require.Equal(t, http.StatusOK, get(t, router, "/financial/profit-loss?date_from=2024-01-01&date_to=2024-01-31", &pl))
	require.EqualValues(t, 1000, pl["revenue"])
	require.EqualValues(t, 600, pl["cogs"])
	require.EqualValues(t, 400, pl["gross_profit"])
	require.EqualValues(t, 0, pl["operational_expenses"])
	require.EqualValues(t, 400, pl["net_profit"])
	require.Equal(t, "2024-01-01", pl["date_from"])

	require.Equal(t, http.StatusBadRequest, get(t, router, "/financial/profit-loss?date_from=2024-02-01&date_to=2024-01-01", nil))
	require.Equal(t, http.StatusBadRequest, get(t, router, "/financial/profit-loss?date_from=yesterday", nil))
}

func TestHandlerDashboard(t *testing.T) {
	router := newRouter(t)

	var sum map[string]any
	require.Equal(t, http.StatusOK, get(t, router, "/dashboard/summary", &sum))
	require.EqualValues(t, 1000, sum["total_sales_month"])
	require.EqualValues(t, 1, sum["transaction_count_today"])

	var points []map[string]any
	require.Equal(t, http.StatusOK, get(t, router, "/dashboard/chart?days=3", &points))
	require.Len(t, points, 3)
	require.Equal(t, "2024-01-20", points[2]["date"])
	require.EqualValues(t, 1000, points[2]["sales"])

	require.Equal(t, http.StatusBadRequest, get(t, router, "/dashboard/chart?days=abc", nil))
}
