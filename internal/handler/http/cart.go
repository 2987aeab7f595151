package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/cartstore/internal/service"
	apperrors "github.com/utafrali/cartstore/pkg/errors"
	"github.com/utafrali/cartstore/pkg/httputil"
	"github.com/utafrali/cartstore/pkg/validator"
)

// maxBodyBytes bounds request bodies on cart endpoints.
const maxBodyBytes = 1 << 20

// CartHandler handles HTTP requests for cart endpoints.
type CartHandler struct {
	service *service.CartService
	logger  *slog.Logger
}

// NewCartHandler creates a new cart HTTP handler.
func NewCartHandler(svc *service.CartService, logger *slog.Logger) *CartHandler {
	return &CartHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// AddItemRequest is the JSON request body for adding an item to the cart.
// Price must be present but may be zero or negative. An omitted quantity adds
// one unit.
type AddItemRequest struct {
	ID       string   `json:"id" validate:"required,max=255"`
	Name     string   `json:"name" validate:"required,max=500"`
	Price    *float64 `json:"price" validate:"required"`
	Image    string   `json:"image,omitempty" validate:"max=2048"`
	Quantity *int     `json:"quantity,omitempty" validate:"omitempty,gte=1"`
}

// UpdateQuantityRequest is the JSON request body for updating an item's
// quantity. Zero or negative values remove the item.
type UpdateQuantityRequest struct {
	Quantity *int `json:"quantity" validate:"required"`
}

// AddItemResponse is returned by AddItem.
type AddItemResponse struct {
	ID   string             `json:"id"`
	Cart *service.CartView `json:"cart"`
}

// --- Handlers ---

// GetCart handles GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	cart, err := h.service.GetCart(r.Context(), sessionIDFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: cart})
}

// AddItem handles POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	id, cart, err := h.service.AddItem(r.Context(), sessionIDFromContext(r.Context()), service.AddItemInput{
		ID:       req.ID,
		Name:     req.Name,
		Price:    *req.Price,
		Image:    req.Image,
		Quantity: quantity,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: AddItemResponse{ID: id, Cart: cart}})
}

// UpdateItemQuantity handles PUT /api/v1/cart/items/{itemId}
func (h *CartHandler) UpdateItemQuantity(w http.ResponseWriter, r *http.Request) {
	itemID, err := itemIDParam(r)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	var req UpdateQuantityRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	cart, err := h.service.UpdateItemQuantity(r.Context(), sessionIDFromContext(r.Context()), itemID, *req.Quantity)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: cart})
}

// RemoveItem handles DELETE /api/v1/cart/items/{itemId}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := itemIDParam(r)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	cart, err := h.service.RemoveItem(r.Context(), sessionIDFromContext(r.Context()), itemID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: cart})
}

// ClearCart handles DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ClearCart(r.Context(), sessionIDFromContext(r.Context())); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]string{"status": "cleared"}})
}

// itemIDParam returns the decoded {itemId} path segment. chi routes on the
// escaped path whenever the request carries one (an id holding "/" arrives as
// "%2F"), leaving the parameter escaped.
func itemIDParam(r *http.Request) (string, error) {
	id := chi.URLParam(r, "itemId")
	if r.URL.RawPath == "" {
		return id, nil
	}
	decoded, err := url.PathUnescape(id)
	if err != nil {
		return "", apperrors.InvalidInput(fmt.Sprintf("item id %q is not a valid path segment", id))
	}
	return decoded, nil
}
