package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/KMikhailS/flower-shop/internal/domain"
	"github.com/shopspring/decimal"
)

// SchemaVersion is written into every payload. Payloads without the field
// predate versioning and are read as version 0.
const SchemaVersion = 1

var (
	ErrMalformed          = errors.New("malformed cart payload")
	ErrUnsupportedVersion = errors.New("unsupported cart schema version")
)

type payloadV1 struct {
	SchemaVersion int `json:"schemaVersion"`
	domain.CartState
}

// Encode serializes state into the transport string kept by the storage media.
func Encode(state domain.CartState) (string, error) {
	if state.CartItems == nil {
		state.CartItems = []domain.CartItem{}
	}
	data, err := json.Marshal(payloadV1{SchemaVersion: SchemaVersion, CartState: state})
	if err != nil {
		return "", fmt.Errorf("marshal cart failed: %w", err)
	}
	return string(data), nil
}

// Decode parses a stored payload, migrating older schema versions, and checks
// that the result is a structurally valid cart.
func Decode(raw string) (*domain.CartState, error) {
	var header struct {
		SchemaVersion *int `json:"schemaVersion"`
	}
	if err := json.Unmarshal([]byte(raw), &header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var (
		state *domain.CartState
		err   error
	)
	switch {
	case header.SchemaVersion == nil || *header.SchemaVersion == 0:
		state, err = decodeV0(raw)
	case *header.SchemaVersion == SchemaVersion:
		state, err = decodeV1(raw)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, *header.SchemaVersion)
	}
	if err != nil {
		return nil, err
	}

	if err := checkStructure(state); err != nil {
		return nil, err
	}
	return state, nil
}

func decodeV1(raw string) (*domain.CartState, error) {
	var p payloadV1
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &p.CartState, nil
}

// legacy payloads were written before versioning, when product DTOs carried
// their picture under several different field names and prices could be numbers.
type legacyImage struct {
	ImageURL string `json:"image_url"`
}

type legacyProduct struct {
	ID          int64           `json:"id"`
	Image       string          `json:"image"`
	ImageURL    string          `json:"image_url"`
	ImageURLs   []string        `json:"image_urls"`
	Images      []legacyImage   `json:"images"`
	Alt         string          `json:"alt"`
	Title       string          `json:"title"`
	Name        string          `json:"name"`
	Price       json.RawMessage `json:"price"`
	Description string          `json:"description"`
}

type legacyItem struct {
	Product  legacyProduct `json:"product"`
	Quantity int           `json:"quantity"`
}

type legacyState struct {
	CartItems       []legacyItem `json:"cartItems"`
	DeliveryMethod  string       `json:"deliveryMethod"`
	PaymentMethod   *string      `json:"paymentMethod"`
	SelectedAddress string       `json:"selectedAddress"`
	Timestamp       time.Time    `json:"timestamp"`
}

func decodeV0(raw string) (*domain.CartState, error) {
	var legacy legacyState
	if err := json.Unmarshal([]byte(raw), &legacy); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	state := &domain.CartState{
		CartItems:       make([]domain.CartItem, 0, len(legacy.CartItems)),
		DeliveryMethod:  domain.DeliveryMethod(legacy.DeliveryMethod),
		SelectedAddress: legacy.SelectedAddress,
		Timestamp:       legacy.Timestamp,
	}
	if state.DeliveryMethod == "" {
		state.DeliveryMethod = domain.DeliveryPickup
	}
	if legacy.PaymentMethod != nil && *legacy.PaymentMethod != "" {
		pm := domain.PaymentMethod(*legacy.PaymentMethod)
		state.PaymentMethod = &pm
	}

	for _, item := range legacy.CartItems {
		price, err := legacyPrice(item.Product.Price)
		if err != nil {
			return nil, err
		}
		state.CartItems = append(state.CartItems, domain.CartItem{
			Product: domain.ProductSnapshot{
				ID:          item.Product.ID,
				Image:       item.Product.image(),
				Alt:         item.Product.Alt,
				Title:       firstNonEmpty(item.Product.Title, item.Product.Name),
				Price:       price,
				Description: item.Product.Description,
			},
			Quantity: item.Quantity,
		})
	}
	return state, nil
}

func (p legacyProduct) image() string {
	switch {
	case p.Image != "":
		return p.Image
	case p.ImageURL != "":
		return p.ImageURL
	case len(p.ImageURLs) > 0:
		return p.ImageURLs[0]
	case len(p.Images) > 0:
		return p.Images[0].ImageURL
	}
	return ""
}

func legacyPrice(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n decimal.Decimal
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("%w: price %s", ErrMalformed, raw)
	}
	return domain.FormatPrice(n), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func checkStructure(state *domain.CartState) error {
	if state.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrMalformed)
	}
	if !state.DeliveryMethod.Valid() {
		return fmt.Errorf("%w: delivery method %q", ErrMalformed, state.DeliveryMethod)
	}
	if state.PaymentMethod != nil && !state.PaymentMethod.Valid() {
		return fmt.Errorf("%w: payment method %q", ErrMalformed, *state.PaymentMethod)
	}
	if state.CartItems == nil {
		state.CartItems = []domain.CartItem{}
	}

	seen := make(map[int64]struct{}, len(state.CartItems))
	for _, item := range state.CartItems {
		if item.Product.ID <= 0 {
			return fmt.Errorf("%w: product id %d", ErrMalformed, item.Product.ID)
		}
		if item.Quantity < 1 {
			return fmt.Errorf("%w: quantity %d for product %d", ErrMalformed, item.Quantity, item.Product.ID)
		}
		if _, dup := seen[item.Product.ID]; dup {
			return fmt.Errorf("%w: duplicate product %d", ErrMalformed, item.Product.ID)
		}
		seen[item.Product.ID] = struct{}{}
	}
	return nil
}
