package contacts

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Handler wires HTTP endpoints for contacts.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs contacts handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validate: httpx.NewValidator()}
}

// MountRoutes registers routes under /contacts.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/summary", h.summary)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.delete)
	r.Get("/{id}/stats", h.stats)
}

type contactItem struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      Type      `json:"type"`
	Phone     *string   `json:"phone"`
	Address   *string   `json:"address"`
	Notes     *string   `json:"notes"`
	CreatedAt time.Time `json:"created_at"`
}

type createRequest struct {
	Name    string  `json:"name" validate:"required,max=200"`
	Type    string  `json:"type" validate:"required,oneof=CUSTOMER SUPPLIER"`
	Phone   *string `json:"phone" validate:"omitempty,max=50"`
	Address *string `json:"address" validate:"omitempty,max=500"`
	Notes   *string `json:"notes" validate:"omitempty,max=1000"`
}

type updateRequest struct {
	Name    *string `json:"name" validate:"omitempty,max=200"`
	Phone   *string `json:"phone" validate:"omitempty,max=50"`
	Address *string `json:"address" validate:"omitempty,max=500"`
	Notes   *string `json:"notes" validate:"omitempty,max=1000"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	typ, err := ParseType(r.URL.Query().Get("type"))
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	limit, err := httpx.QueryInt(r, "limit", shared.DefaultLimit)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	offset, err := httpx.QueryInt(r, "offset", 0)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	items, err := h.service.List(r.Context(), Filter{
		Type:   typ,
		Search: r.URL.Query().Get("search"),
		Page:   shared.Page{Limit: limit, Offset: offset},
	})
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	out := make([]contactItem, 0, len(items))
	for _, c := range items {
		out = append(out, toItem(c))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	contact, err := h.service.Create(r.Context(), Input{
		Name:    req.Name,
		Type:    Type(req.Type),
		Phone:   deref(req.Phone),
		Address: deref(req.Address),
		Notes:   deref(req.Notes),
	})
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toItem(contact))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	contact, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toItem(contact))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	var req updateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	contact, err := h.service.Update(r.Context(), id, Update{Name: req.Name, Phone: req.Phone, Address: req.Address, Notes: req.Notes})
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toItem(contact))
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	archived, err := h.service.Delete(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if archived {
		httpx.JSON(w, http.StatusOK, map[string]any{"id": id.String(), "archived": true})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	stats, err := h.service.Stats(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"count":        stats.Count,
		"total_amount": shared.Float(stats.TotalAmount),
	})
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.service.Summary(r.Context())
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int{
		"total_customers": sum.TotalCustomers,
		"total_suppliers": sum.TotalSuppliers,
	})
}

func toItem(c Contact) contactItem {
	return contactItem{
		ID:        c.ID.String(),
		Name:      c.Name,
		Type:      c.Type,
		Phone:     nullable(c.Phone),
		Address:   nullable(c.Address),
		Notes:     nullable(c.Notes),
		CreatedAt: c.CreatedAt,
	}
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
