package financial

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Handler wires HTTP endpoints for reports.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs financial handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountFinancialRoutes registers routes under /financial.
func (h *Handler) MountFinancialRoutes(r chi.Router) {
	r.Get("/profit-loss", h.profitLoss)
}

// MountDashboardRoutes registers routes under /dashboard.
func (h *Handler) MountDashboardRoutes(r chi.Router) {
	r.Get("/summary", h.summary)
	r.Get("/chart", h.chart)
}

type profitLossResponse struct {
	Revenue             float64 `json:"revenue"`
	COGS                float64 `json:"cogs"`
	GrossProfit         float64 `json:"gross_profit"`
	OperationalExpenses float64 `json:"operational_expenses"`
	NetProfit           float64 `json:"net_profit"`
	DateFrom            *string `json:"date_from"`
	DateTo              *string `json:"date_to"`
}

type chartPoint struct {
	Date     string  `json:"date"`
	Sales    float64 `json:"sales"`
	Purchase float64 `json:"purchase"`
}

func (h *Handler) profitLoss(w http.ResponseWriter, r *http.Request) {
	dr, err := shared.ParseDateRange(r.URL.Query().Get("date_from"), r.URL.Query().Get("date_to"))
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	pl, err := h.service.ProfitLoss(r.Context(), dr)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	resp := profitLossResponse{
		Revenue:             shared.Float(pl.Revenue),
		COGS:                shared.Float(pl.COGS),
		GrossProfit:         shared.Float(pl.GrossProfit),
		OperationalExpenses: shared.Float(pl.OperationalExpenses),
		NetProfit:           shared.Float(pl.NetProfit),
	}
	if dr.From != nil {
		from := dr.From.Format(shared.DateLayout)
		resp.DateFrom = &from
	}
	if dr.To != nil {
		to := dr.To.Format(shared.DateLayout)
		resp.DateTo = &to
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.service.DashboardSummary(r.Context())
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"total_sales_month":       shared.Float(sum.TotalSalesMonth),
		"total_purchase_month":    shared.Float(sum.TotalPurchaseMonth),
		"estimated_profit_today":  shared.Float(sum.EstimatedProfitToday),
		"transaction_count_today": sum.TransactionCountToday,
		"sales_count_month":       sum.SalesCountMonth,
		"purchase_count_month":    sum.PurchaseCountMonth,
	})
}

func (h *Handler) chart(w http.ResponseWriter, r *http.Request) {
	days, err := httpx.QueryInt(r, "days", DefaultChartDays)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	points, err := h.service.Chart(r.Context(), days)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	out := make([]chartPoint, 0, len(points))
	for _, p := range points {
		out = append(out, chartPoint{
			Date:     p.Day.Format(shared.DateLayout),
			Sales:    shared.Float(p.Sales),
			Purchase: shared.Float(p.Purchase),
		})
	}
	httpx.JSON(w, http.StatusOK, out)
}
