package trade

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/contacts"
	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// IdempotencyHeader carries the client supplied idempotency key.
const IdempotencyHeader = "Idempotency-Key"

// Handler wires HTTP endpoints for transactions.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs trade handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validate: httpx.NewValidator()}
}

// MountRoutes registers routes under /transactions.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.commit)
	r.Get("/stats", h.stats)
	r.Get("/{id}", h.get)
}

// MountStockRoutes registers the purchase shortcut under /products.
func (h *Handler) MountStockRoutes(r chi.Router) {
	r.Post("/{id}/stock", h.addStock)
}

type lineRequest struct {
	ProductID string   `json:"product_id" validate:"required,uuid"`
	Qty       float64  `json:"qty"`
	UnitPrice float64  `json:"unit_price" validate:"gte=0"`
	Unit      string   `json:"unit" validate:"max=32"`
	Notes     string   `json:"notes" validate:"max=500"`
}

type contactRequest struct {
	Name    string `json:"name" validate:"required,max=200"`
	Phone   string `json:"phone" validate:"max=50"`
	Address string `json:"address" validate:"max=500"`
}

type commitRequest struct {
	Type            string          `json:"type" validate:"required,oneof=IN OUT"`
	ContactID       *string         `json:"contact_id" validate:"omitempty,uuid"`
	NewContact      *contactRequest `json:"new_contact"`
	InvoiceNumber   string          `json:"invoice_number" validate:"max=64"`
	TransactionDate string          `json:"transaction_date"`
	PaymentMethod   string          `json:"payment_method" validate:"max=32"`
	InputSource     string          `json:"input_source" validate:"max=32"`
	Notes           string          `json:"notes" validate:"max=1000"`
	Items           []lineRequest   `json:"items" validate:"required,min=1,dive"`
}

type stockAddRequest struct {
	Qty             float64 `json:"qty"`
	SupplierName    string  `json:"supplier_name" validate:"required_without=ContactID,max=200"`
	SupplierPhone   *string `json:"supplier_phone" validate:"omitempty,max=50"`
	SupplierAddress *string `json:"supplier_address" validate:"omitempty,max=500"`
	ContactID       *string `json:"contact_id" validate:"omitempty,uuid"`
	TotalBuyPrice   float64 `json:"total_buy_price" validate:"gte=0"`
	InvoiceNumber   string  `json:"invoice_number" validate:"max=64"`
	TransactionDate string  `json:"transaction_date"`
	PaymentMethod   string  `json:"payment_method" validate:"max=32"`
	Notes           string  `json:"notes" validate:"max=1000"`
}

type listItem struct {
	ID              string    `json:"id"`
	Type            string    `json:"type"`
	TransactionDate string    `json:"transaction_date"`
	TotalAmount     float64   `json:"total_amount"`
	InvoiceNumber   *string   `json:"invoice_number"`
	PaymentMethod   *string   `json:"payment_method"`
	InputSource     string    `json:"input_source"`
	ContactID       *string   `json:"contact_id"`
	ContactName     string    `json:"contact_name"`
	ContactPhone    *string   `json:"contact_phone"`
	ContactAddress  *string   `json:"contact_address"`
	Notes           *string   `json:"notes"`
	CreatedAt       time.Time `json:"created_at"`
}

type itemDetail struct {
	ID            string  `json:"id"`
	LineNo        int     `json:"line_no"`
	ProductID     string  `json:"product_id"`
	ProductName   string  `json:"product_name"`
	Variant       *string `json:"variant"`
	Qty           float64 `json:"qty"`
	Unit          string  `json:"unit"`
	UnitPrice     float64 `json:"unit_price"`
	Subtotal      float64 `json:"subtotal"`
	CostAtMoment  float64 `json:"cost_at_moment"`
	COGS          float64 `json:"cogs"`
	LedgerEntryID string  `json:"ledger_entry_id"`
	Notes         *string `json:"notes"`
}

type detail struct {
	listItem
	Items []itemDetail `json:"items"`
}

func (h *Handler) commit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	input, err := req.toInput()
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	input.IdempotencyKey = r.Header.Get(IdempotencyHeader)
	txn, err := h.service.Commit(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toDetail(txn))
}

func (req commitRequest) toInput() (CommitInput, error) {
	contactID, err := parseOptionalUUID(req.ContactID, "contact_id")
	if err != nil {
		return CommitInput{}, err
	}
	date, err := parseOptionalDate(req.TransactionDate)
	if err != nil {
		return CommitInput{}, err
	}
	input := CommitInput{
		Type:          inventory.Direction(req.Type),
		ContactID:     contactID,
		InvoiceNumber: req.InvoiceNumber,
		Date:          date,
		PaymentMethod: req.PaymentMethod,
		InputSource:   req.InputSource,
		Notes:         req.Notes,
	}
	if req.NewContact != nil {
		input.NewContact = &contacts.Inline{Name: req.NewContact.Name, Phone: req.NewContact.Phone, Address: req.NewContact.Address}
	}
	for _, line := range req.Items {
		productID, err := uuid.Parse(line.ProductID)
		if err != nil {
			return CommitInput{}, fmt.Errorf("%w: invalid product_id", shared.ErrValidation)
		}
		in := LineInput{
			ProductID: productID,
			Qty:       decimal.NewFromFloat(line.Qty),
			UnitPrice: decimal.NewFromFloat(line.UnitPrice),
			Unit:      line.Unit,
			Notes:     line.Notes,
		}
		input.Lines = append(input.Lines, in)
	}
	return input, nil
}

func (h *Handler) addStock(w http.ResponseWriter, r *http.Request) {
	productID, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	var req stockAddRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	contactID, err := parseOptionalUUID(req.ContactID, "contact_id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	date, err := parseOptionalDate(req.TransactionDate)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	txn, err := h.service.AddStock(r.Context(), StockAddInput{
		ProductID:       productID,
		Qty:             decimal.NewFromFloat(req.Qty),
		TotalBuyPrice:   decimal.NewFromFloat(req.TotalBuyPrice),
		ContactID:       contactID,
		SupplierName:    req.SupplierName,
		SupplierPhone:   deref(req.SupplierPhone),
		SupplierAddress: deref(req.SupplierAddress),
		InvoiceNumber:   req.InvoiceNumber,
		Date:            date,
		PaymentMethod:   req.PaymentMethod,
		Notes:           req.Notes,
		IdempotencyKey:  r.Header.Get(IdempotencyHeader),
	})
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toDetail(txn))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	txns, err := h.service.List(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	out := make([]listItem, 0, len(txns))
	for _, t := range txns {
		out = append(out, toListItem(t))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	txn, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDetail(txn))
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	stats, err := h.service.Stats(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"total_count":      stats.TotalCount,
		"total_amount_in":  shared.Float(stats.TotalAmountIn),
		"total_amount_out": shared.Float(stats.TotalAmountOut),
	})
}

func filterFromQuery(r *http.Request) (Filter, error) {
	q := r.URL.Query()
	typ, err := ParseType(q.Get("type"))
	if err != nil {
		return Filter{}, err
	}
	dates, err := shared.ParseDateRange(q.Get("date_from"), q.Get("date_to"))
	if err != nil {
		return Filter{}, err
	}
	contactID, err := httpx.QueryUUID(r, "contact_id")
	if err != nil {
		return Filter{}, err
	}
	limit, err := httpx.QueryInt(r, "limit", shared.DefaultLimit)
	if err != nil {
		return Filter{}, err
	}
	offset, err := httpx.QueryInt(r, "offset", 0)
	if err != nil {
		return Filter{}, err
	}
	return Filter{
		Type:      typ,
		Range:     dates,
		Search:    q.Get("search"),
		ContactID: contactID,
		Page:      shared.NewPage(limit, offset),
	}, nil
}

func toListItem(t Transaction) listItem {
	item := listItem{
		ID:              t.ID.String(),
		Type:            string(t.Type),
		TransactionDate: t.Date.Format(shared.DateLayout),
		TotalAmount:     shared.Float(t.TotalAmount),
		InvoiceNumber:   nullable(t.InvoiceNumber),
		PaymentMethod:   nullable(t.PaymentMethod),
		InputSource:     t.InputSource,
		ContactName:     t.ContactName,
		ContactPhone:    nullable(t.ContactPhone),
		ContactAddress:  nullable(t.ContactAddress),
		Notes:           nullable(t.Notes),
		CreatedAt:       t.CreatedAt,
	}
	if t.ContactID != nil {
		id := t.ContactID.String()
		item.ContactID = &id
	}
	return item
}

func toDetail(t Transaction) detail {
	d := detail{listItem: toListItem(t), Items: make([]itemDetail, 0, len(t.Items))}
	for _, it := range t.Items {
		d.Items = append(d.Items, itemDetail{
			ID:            it.ID.String(),
			LineNo:        it.LineNo,
			ProductID:     it.ProductID.String(),
			ProductName:   it.ProductName,
			Variant:       nullable(it.Variant),
			Qty:           shared.Float(it.Qty),
			Unit:          it.Unit,
			UnitPrice:     shared.Float(it.UnitPrice),
			Subtotal:      shared.Float(it.Subtotal),
			CostAtMoment:  shared.Float(it.CostAtMoment),
			COGS:          shared.Float(it.COGS),
			LedgerEntryID: it.LedgerEntryID.String(),
			Notes:         nullable(it.Notes),
		})
	}
	return d
}

func parseOptionalUUID(raw *string, field string) (*uuid.UUID, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	id, err := uuid.Parse(*raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid %s", shared.ErrValidation, field)
	}
	return &id, nil
}

func parseOptionalDate(raw string) (*time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	d, err := shared.ParseDate(raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
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
