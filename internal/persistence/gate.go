package persistence

import (
	"errors"
	"fmt"
	"time"

	"github.com/KMikhailS/flower-shop/internal/domain"
)

// DefaultMaxAge is the freshness window of a persisted cart.
const DefaultMaxAge = 24 * time.Hour

var (
	ErrStale          = errors.New("cart is older than the freshness window")
	ErrUnknownProduct = errors.New("cart references a product missing from the catalog")
)

// Gate decides whether a decoded cart may be handed back to the caller.
type Gate struct {
	MaxAge time.Duration
	Now    func() time.Time
}

// Check rejects carts older than MaxAge and carts holding any product whose id
// is not in knownIDs. A single unknown product rejects the whole cart.
func (g Gate) Check(state *domain.CartState, knownIDs []int64) error {
	age := g.Now().Sub(state.Timestamp)
	if age > g.MaxAge {
		return fmt.Errorf("%w: saved %s ago", ErrStale, age.Round(time.Second))
	}

	known := make(map[int64]struct{}, len(knownIDs))
	for _, id := range knownIDs {
		known[id] = struct{}{}
	}
	for _, item := range state.CartItems {
		if _, ok := known[item.Product.ID]; !ok {
			return fmt.Errorf("%w: %d", ErrUnknownProduct, item.Product.ID)
		}
	}
	return nil
}
