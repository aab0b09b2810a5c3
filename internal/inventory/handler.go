package inventory

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// RecalculationHeader marks product responses served from a stale projection.
const RecalculationHeader = "X-Recalculation-Required"

// Enqueuer schedules background recompute sweeps.
type Enqueuer interface {
	EnqueueRecompute(ctx context.Context, productID *uuid.UUID, limit int) (string, error)
}

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	enqueuer Enqueuer
	validate *validator.Validate
}

// NewHandler constructs inventory handler. A nil enqueuer runs sweeps inline.
func NewHandler(logger *slog.Logger, service *Service, enqueuer Enqueuer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, enqueuer: enqueuer, validate: httpx.NewValidator()}
}

// MountProductRoutes registers routes under /products.
func (h *Handler) MountProductRoutes(r chi.Router) {
	r.Get("/", h.listProducts)
	r.Post("/", h.createProduct)
	r.Get("/search", h.searchProducts)
	r.Get("/stats", h.productStats)
	r.Get("/{id}", h.getProduct)
	r.Put("/{id}", h.updateProduct)
	r.Delete("/{id}", h.deleteProduct)
	r.Post("/{id}/recalculate", h.recalculate)
	r.Get("/{id}/history", h.history)
}

// MountInventoryRoutes registers routes under /inventory.
func (h *Handler) MountInventoryRoutes(r chi.Router) {
	r.Get("/ledger", h.ledger)
	r.Get("/stats", h.inventoryStats)
	r.Post("/recompute", h.recomputeSweep)
}

type productListItem struct {
	ID                 string      `json:"id"`
	Name               string      `json:"name"`
	SKU                *string     `json:"sku"`
	Stock              float64     `json:"stock"`
	Unit               string      `json:"unit"`
	Price              float64     `json:"price"`
	Initial            string      `json:"initial"`
	Category           *string     `json:"category"`
	Variant            *string     `json:"variant"`
	Status             StockStatus `json:"status"`
	NeedsRecalculation bool        `json:"needs_recalculation"`
}

type productDetail struct {
	productListItem
	AverageCost   float64   `json:"average_cost"`
	CostPerPcs    *float64  `json:"cost_per_pcs"`
	StockValue    float64   `json:"stock_value"`
	ProductStatus string    `json:"product_status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type ledgerItem struct {
	ID               string  `json:"id"`
	ProductID        string  `json:"product_id"`
	Seq              int64   `json:"seq"`
	Date             string  `json:"date"`
	Type             string  `json:"type"`
	QtyChange        float64 `json:"qty_change"`
	QtyBalance       float64 `json:"qty_balance"`
	PriceAtMoment    float64 `json:"price_at_moment"`
	CostBasis        float64 `json:"cost_basis"`
	COGS             float64 `json:"cogs"`
	AverageCostAfter float64 `json:"average_cost_after"`
	ProductName      string  `json:"product_name"`
	ProductSKU       *string `json:"product_sku"`
	ProductUnit      string  `json:"product_unit"`
	InvoiceNumber    *string `json:"invoice_number"`
	ContactName      *string `json:"contact_name"`
	Note             string  `json:"note,omitempty"`
}

type recomputeResponse struct {
	ProductID           string  `json:"product_id"`
	Entries             int     `json:"entries"`
	Stock               float64 `json:"stock"`
	AverageCost         float64 `json:"average_cost"`
	PreviousStock       float64 `json:"previous_stock"`
	PreviousAverageCost float64 `json:"previous_average_cost"`
	Drifted             bool    `json:"drifted"`
	ChainBreakSeq       int64   `json:"chain_break_seq,omitempty"`
}

type createProductRequest struct {
	Name               string  `json:"name" validate:"required,max=200"`
	SKU                *string `json:"sku" validate:"omitempty,max=64"`
	BaseUnit           string  `json:"base_unit" validate:"max=32"`
	Category           *string `json:"category" validate:"omitempty,max=100"`
	Variant            *string `json:"variant" validate:"omitempty,max=100"`
	LatestSellingPrice float64 `json:"latest_selling_price" validate:"gte=0"`
}

type updateProductRequest struct {
	Name               *string  `json:"name" validate:"omitempty,min=1,max=200"`
	SKU                *string  `json:"sku" validate:"omitempty,max=64"`
	BaseUnit           *string  `json:"base_unit" validate:"omitempty,max=32"`
	Category           *string  `json:"category" validate:"omitempty,max=100"`
	Variant            *string  `json:"variant" validate:"omitempty,max=100"`
	LatestSellingPrice *float64 `json:"latest_selling_price" validate:"omitempty,gte=0"`
	CurrentStock       *float64 `json:"current_stock" validate:"omitempty,gte=0"`
	AverageCost        *float64 `json:"average_cost" validate:"omitempty,gte=0"`
	Note               string   `json:"note" validate:"max=500"`
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	status, err := ParseStatusFilter(r.URL.Query().Get("status"))
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	page, err := pageFromQuery(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	products, err := h.service.ListProducts(r.Context(), ProductFilter{
		Status:          status,
		Search:          r.URL.Query().Get("search"),
		IncludeInactive: r.URL.Query().Get("include_inactive") == "true",
		Page:            page,
	})
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.listItems(products))
}

func (h *Handler) searchProducts(w http.ResponseWriter, r *http.Request) {
	limit, err := httpx.QueryInt(r, "limit", 10)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	products, err := h.service.SearchProducts(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.listItems(products))
}

func (h *Handler) productStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.ProductStats(r.Context())
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int{
		"total":        stats.Total,
		"low_stock":    stats.LowStock,
		"out_of_stock": stats.OutOfStock,
	})
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	product, err := h.service.GetProduct(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	h.respondDetail(w, http.StatusOK, product)
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	product, err := h.service.CreateProduct(r.Context(), ProductInput{
		Name:         req.Name,
		SKU:          deref(req.SKU),
		Category:     deref(req.Category),
		Variant:      deref(req.Variant),
		BaseUnit:     req.BaseUnit,
		SellingPrice: decimal.NewFromFloat(req.LatestSellingPrice),
	})
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	h.respondDetail(w, http.StatusCreated, product)
}

func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	var req updateProductRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	product, err := h.service.UpdateProduct(r.Context(), id, ProductUpdate{
		Name:         req.Name,
		SKU:          req.SKU,
		Category:     req.Category,
		Variant:      req.Variant,
		BaseUnit:     req.BaseUnit,
		SellingPrice: decimalPtr(req.LatestSellingPrice),
		Stock:        decimalPtr(req.CurrentStock),
		AverageCost:  decimalPtr(req.AverageCost),
		Note:         req.Note,
	})
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	h.respondDetail(w, http.StatusOK, product)
}

func (h *Handler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	deactivated, err := h.service.DeleteProduct(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if deactivated {
		httpx.JSON(w, http.StatusOK, map[string]any{"id": id.String(), "status": string(ProductInactive)})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) recalculate(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	result, err := h.service.Recompute(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRecomputeResponse(result))
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	page, err := pageFromQuery(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	entries, err := h.service.EntriesFor(r.Context(), id, page)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toLedgerItems(entries))
}

func (h *Handler) ledger(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	entries, err := h.service.RecentAcrossProducts(r.Context(), page)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toLedgerItems(entries))
}

func (h *Handler) inventoryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.InventoryStats(r.Context())
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"total_products":    stats.TotalProducts,
		"total_stock_value": shared.Float(stats.TotalStockValue),
	})
}

func (h *Handler) recomputeSweep(w http.ResponseWriter, r *http.Request) {
	productID, err := httpx.QueryUUID(r, "product_id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	limit, err := httpx.QueryInt(r, "limit", 0)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if h.enqueuer != nil {
		taskID, err := h.enqueuer.EnqueueRecompute(r.Context(), productID, limit)
		if err != nil {
			httpx.RespondError(w, r, h.logger, err)
			return
		}
		httpx.JSON(w, http.StatusAccepted, map[string]string{"task_id": taskID, "status": "queued"})
		return
	}

	var results []RecomputeResult
	if productID != nil {
		var res RecomputeResult
		if res, err = h.service.Recompute(r.Context(), *productID); err == nil {
			results = []RecomputeResult{res}
		}
	} else {
		results, err = h.service.RecomputeFlagged(r.Context(), limit)
	}
	if err != nil && len(results) == 0 {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if err != nil {
		h.logger.Warn("inline recompute sweep partially failed", slog.Any("error", err))
	}
	out := make([]recomputeResponse, 0, len(results))
	for _, res := range results {
		out = append(out, toRecomputeResponse(res))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "completed", "results": out})
}

func (h *Handler) respondDetail(w http.ResponseWriter, status int, product Product) {
	if errors.Is(product.Staleness(), shared.ErrRecalculationRequired) {
		w.Header().Set(RecalculationHeader, "true")
	}
	httpx.JSON(w, status, h.detail(product))
}

func (h *Handler) listItems(products []Product) []productListItem {
	out := make([]productListItem, 0, len(products))
	for _, p := range products {
		out = append(out, h.listItem(p))
	}
	return out
}

func (h *Handler) listItem(p Product) productListItem {
	return productListItem{
		ID:                 p.ID.String(),
		Name:               p.Name,
		SKU:                nullable(p.SKU),
		Stock:              shared.Float(p.Stock),
		Unit:               p.BaseUnit,
		Price:              shared.Float(p.SellingPrice),
		Initial:            initial(p.Name),
		Category:           nullable(p.Category),
		Variant:            nullable(p.Variant),
		Status:             h.service.Projector().Classify(p.Stock),
		NeedsRecalculation: p.NeedsRecalculation,
	}
}

func (h *Handler) detail(p Product) productDetail {
	d := productDetail{
		productListItem: h.listItem(p),
		AverageCost:     shared.Float(p.AverageCost),
		StockValue:      shared.Float(p.StockValue()),
		ProductStatus:   string(p.Status),
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
	if p.AverageCost.IsPositive() {
		cost := shared.Float(p.AverageCost)
		d.CostPerPcs = &cost
	}
	return d
}

func toLedgerItems(entries []LedgerView) []ledgerItem {
	out := make([]ledgerItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, ledgerItem{
			ID:               e.ID.String(),
			ProductID:        e.ProductID.String(),
			Seq:              e.Seq,
			Date:             e.CreatedAt.UTC().Format(time.RFC3339),
			Type:             string(e.Direction),
			QtyChange:        shared.Float(e.SignedQty()),
			QtyBalance:       shared.Float(e.Balance),
			PriceAtMoment:    shared.Float(e.UnitPrice),
			CostBasis:        shared.Float(e.CostBasis),
			COGS:             shared.Float(e.COGS),
			AverageCostAfter: shared.Float(e.AverageCostAfter),
			ProductName:      e.ProductName,
			ProductSKU:       nullable(e.ProductSKU),
			ProductUnit:      e.ProductUnit,
			InvoiceNumber:    nullable(e.InvoiceNumber),
			ContactName:      nullable(e.ContactName),
			Note:             e.Note,
		})
	}
	return out
}

func toRecomputeResponse(res RecomputeResult) recomputeResponse {
	return recomputeResponse{
		ProductID:           res.ProductID.String(),
		Entries:             res.Entries,
		Stock:               shared.Float(res.Stock),
		AverageCost:         shared.Float(res.AverageCost),
		PreviousStock:       shared.Float(res.PreviousStock),
		PreviousAverageCost: shared.Float(res.PreviousAverageCost),
		Drifted:             res.Drifted,
		ChainBreakSeq:       res.ChainBreak,
	}
}

func pageFromQuery(r *http.Request) (shared.Page, error) {
	limit, err := httpx.QueryInt(r, "limit", shared.DefaultLimit)
	if err != nil {
		return shared.Page{}, err
	}
	offset, err := httpx.QueryInt(r, "offset", 0)
	if err != nil {
		return shared.Page{}, err
	}
	return shared.NewPage(limit, offset), nil
}

func initial(name string) string {
	for _, r := range strings.TrimSpace(name) {
		return strings.ToUpper(string(r))
	}
	return ""
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func decimalPtr(f *float64) *decimal.Decimal {
	if f == nil {
		return nil
	}
	d := decimal.NewFromFloat(*f)
	return &d
}
