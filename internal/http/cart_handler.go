package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/KMikhailS/flower-shop/internal/catalog"
	"github.com/KMikhailS/flower-shop/internal/domain"
	"github.com/KMikhailS/flower-shop/internal/orders"
	"github.com/KMikhailS/flower-shop/internal/service"
	"github.com/KMikhailS/flower-shop/internal/users"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

type CartService interface {
	GetCart(ctx context.Context, userID int64) (domain.CartState, error)
	AddItem(ctx context.Context, userID, productID int64) (domain.CartState, error)
	IncreaseQuantity(ctx context.Context, userID, productID int64) (domain.CartState, error)
	DecreaseQuantity(ctx context.Context, userID, productID int64) (domain.CartState, error)
	RemoveItem(ctx context.Context, userID, productID int64) (domain.CartState, error)
	UpdateDelivery(ctx context.Context, userID int64, update service.DeliveryUpdate) (domain.CartState, error)
	ClearCart(ctx context.Context, userID int64) (domain.CartState, error)
	Checkout(ctx context.Context, userID int64, initData string) (*orders.Order, error)
}

type CartHandler struct {
	carts   CartService
	timeout time.Duration
	log     *logrus.Entry
}

func NewCartHandler(carts CartService, timeout time.Duration, log *logrus.Entry) *CartHandler {
	return &CartHandler{
		carts:   carts,
		timeout: timeout,
		log:     log,
	}
}

type AddItemRequestDTO struct {
	ProductID int64 `json:"product_id"`
}

// UpdateDeliveryRequestDTO carries optional fields; an empty payment_method unsets it.
type UpdateDeliveryRequestDTO struct {
	DeliveryMethod *string `json:"delivery_method"`
	PaymentMethod  *string `json:"payment_method"`
	Address        *string `json:"address"`
}

type CartItemDTO struct {
	ProductID   int64  `json:"product_id"`
	Title       string `json:"title"`
	Image       string `json:"image"`
	Alt         string `json:"alt,omitempty"`
	Description string `json:"description,omitempty"`
	Price       string `json:"price"`
	Quantity    int    `json:"quantity"`
	Total       string `json:"total"`
}

type CartResponseDTO struct {
	Items           []CartItemDTO `json:"items"`
	DeliveryMethod  string        `json:"delivery_method"`
	PaymentMethod   *string       `json:"payment_method"`
	SelectedAddress string        `json:"selected_address"`
	ItemCount       int           `json:"item_count"`
	Total           string        `json:"total"`
}

type CheckoutResponseDTO struct {
	OrderID int64  `json:"order_id"`
	Status  string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func toCartResponse(state domain.CartState) CartResponseDTO {
	resp := CartResponseDTO{
		Items:           make([]CartItemDTO, 0, len(state.CartItems)),
		DeliveryMethod:  string(state.DeliveryMethod),
		SelectedAddress: state.SelectedAddress,
		ItemCount:       state.ItemCount(),
		Total:           domain.FormatPrice(state.Total()),
	}
	if state.PaymentMethod != nil {
		pm := string(*state.PaymentMethod)
		resp.PaymentMethod = &pm
	}
	for _, item := range state.CartItems {
		resp.Items = append(resp.Items, CartItemDTO{
			ProductID:   item.Product.ID,
			Title:       item.Product.Title,
			Image:       item.Product.Image,
			Alt:         item.Product.Alt,
			Description: item.Product.Description,
			Price:       item.Product.Price,
			Quantity:    item.Quantity,
			Total:       domain.FormatPrice(item.Total()),
		})
	}
	return resp
}

// GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, http.StatusOK, func(ctx context.Context, userID int64) (domain.CartState, error) {
		return h.carts.GetCart(ctx, userID)
	})
}

// POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ProductID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be positive")
		return
	}

	h.handle(w, r, http.StatusCreated, func(ctx context.Context, userID int64) (domain.CartState, error) {
		return h.carts.AddItem(ctx, userID, req.ProductID)
	})
}

// POST /api/v1/cart/items/{product_id}/increase
func (h *CartHandler) IncreaseQuantity(w http.ResponseWriter, r *http.Request) {
	h.handleItem(w, r, h.carts.IncreaseQuantity)
}

// POST /api/v1/cart/items/{product_id}/decrease
func (h *CartHandler) DecreaseQuantity(w http.ResponseWriter, r *http.Request) {
	h.handleItem(w, r, h.carts.DecreaseQuantity)
}

// DELETE /api/v1/cart/items/{product_id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	h.handleItem(w, r, h.carts.RemoveItem)
}

// PUT /api/v1/cart/delivery
func (h *CartHandler) UpdateDelivery(w http.ResponseWriter, r *http.Request) {
	var req UpdateDeliveryRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	var update service.DeliveryUpdate
	if req.DeliveryMethod != nil {
		method := domain.DeliveryMethod(*req.DeliveryMethod)
		if !method.Valid() {
			respondError(w, http.StatusBadRequest, "invalid_delivery_method", "delivery_method must be pickup or delivery")
			return
		}
		update.Method = &method
	}
	if req.PaymentMethod != nil {
		var payment *domain.PaymentMethod
		if *req.PaymentMethod != "" {
			pm := domain.PaymentMethod(*req.PaymentMethod)
			if !pm.Valid() {
				respondError(w, http.StatusBadRequest, "invalid_payment_method", "payment_method must be cash, card or sbp")
				return
			}
			payment = &pm
		}
		update.Payment = &payment
	}
	update.Address = req.Address

	h.handle(w, r, http.StatusOK, func(ctx context.Context, userID int64) (domain.CartState, error) {
		return h.carts.UpdateDelivery(ctx, userID, update)
	})
}

// DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, http.StatusOK, func(ctx context.Context, userID int64) (domain.CartState, error) {
		return h.carts.ClearCart(ctx, userID)
	})
}

// POST /api/v1/checkout
func (h *CartHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	initData := getInitDataFromContext(r.Context())
	if userID == 0 || initData == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing Telegram authentication")
		return
	}

	order, err := h.carts.Checkout(ctx, userID, initData)
	if err != nil {
		h.handleError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, CheckoutResponseDTO{OrderID: order.ID, Status: order.Status})
}

func (h *CartHandler) handle(w http.ResponseWriter, r *http.Request, status int, call func(ctx context.Context, userID int64) (domain.CartState, error)) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == 0 {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	state, err := call(ctx, userID)
	if err != nil {
		h.handleError(w, err)
		return
	}

	respondJSON(w, status, toCartResponse(state))
}

func (h *CartHandler) handleItem(w http.ResponseWriter, r *http.Request, call func(ctx context.Context, userID, productID int64) (domain.CartState, error)) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "product_id"), 10, 64)
	if err != nil || productID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be a positive integer")
		return
	}

	h.handle(w, r, http.StatusOK, func(ctx context.Context, userID int64) (domain.CartState, error) {
		return call(ctx, userID, productID)
	})
}

func (h *CartHandler) handleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrProductNotFound):
		respondError(w, http.StatusNotFound, "product_not_found", err.Error())
	case errors.Is(err, domain.ErrItemNotFound):
		respondError(w, http.StatusNotFound, "item_not_found", err.Error())
	case errors.Is(err, service.ErrEmptyCart),
		errors.Is(err, service.ErrAddressRequired),
		errors.Is(err, service.ErrInvalidDelivery),
		errors.Is(err, service.ErrInvalidPayment):
		respondError(w, http.StatusBadRequest, "invalid_argument", err.Error())
	case errors.Is(err, service.ErrPhoneRequired):
		respondError(w, http.StatusConflict, "phone_required", err.Error())
	case errors.Is(err, users.ErrNotFound):
		respondError(w, http.StatusConflict, "user_not_registered", err.Error())
	case errors.Is(err, orders.ErrRejected):
		respondError(w, http.StatusUnprocessableEntity, "order_rejected", err.Error())
	case errors.Is(err, orders.ErrUnauthorized), errors.Is(err, users.ErrUnauthorized):
		respondError(w, http.StatusUnauthorized, "unauthorized", err.Error())
	case errors.Is(err, catalog.ErrUnavailable), errors.Is(err, orders.ErrUnavailable), errors.Is(err, users.ErrUnavailable):
		respondError(w, http.StatusServiceUnavailable, "service_unavailable", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		h.log.WithError(err).Error("request failed")
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logrus.WithError(err).Error("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
