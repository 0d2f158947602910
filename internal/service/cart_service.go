package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/KMikhailS/flower-shop/internal/catalog"
	"github.com/KMikhailS/flower-shop/internal/domain"
	"github.com/KMikhailS/flower-shop/internal/orders"
	"github.com/KMikhailS/flower-shop/internal/persistence"
	"github.com/KMikhailS/flower-shop/internal/storage"
	"github.com/KMikhailS/flower-shop/internal/users"
	"github.com/sirupsen/logrus"
)

var (
	ErrEmptyCart       = errors.New("cart is empty")
	ErrAddressRequired = errors.New("delivery address is required")
	ErrPhoneRequired   = errors.New("phone number is required to place an order")
	ErrInvalidDelivery = errors.New("invalid delivery method")
	ErrInvalidPayment  = errors.New("invalid payment method")
)

type Catalog interface {
	ProductIDs(ctx context.Context) ([]int64, error)
	Product(ctx context.Context, id int64) (catalog.Product, error)
}

type OrderPlacer interface {
	Create(ctx context.Context, initData string, order orders.Request) (*orders.Order, error)
}

type UserDirectory interface {
	Me(ctx context.Context, initData string) (*users.Info, error)
}

// Config holds the per-deployment cart settings.
type Config struct {
	StorageKey string
	// PickupAddress is the shop a new cart picks up from.
	PickupAddress string
	StoreOptions  []persistence.Option
}

// DeliveryUpdate changes any subset of the delivery selections. A non-nil
// Payment pointing at nil unsets the payment method.
type DeliveryUpdate struct {
	Method  *domain.DeliveryMethod
	Payment **domain.PaymentMethod
	Address *string
}

type session struct {
	mu       sync.Mutex
	state    domain.CartState
	store    *persistence.Store
	restored bool
}

// CartService holds the cart of every Telegram user seen by this process. Each
// user's cart is restored from storage on first access and written back after
// every change.
type CartService struct {
	catalog Catalog
	orders  OrderPlacer
	users   UserDirectory
	medium  storage.Medium
	cfg     Config
	log     *logrus.Entry

	mu       sync.Mutex
	sessions map[int64]*session
}

func NewCartService(cat Catalog, placer OrderPlacer, directory UserDirectory, medium storage.Medium, cfg Config, log *logrus.Entry) *CartService {
	return &CartService{
		catalog:  cat,
		orders:   placer,
		users:    directory,
		medium:   medium,
		cfg:      cfg,
		log:      log,
		sessions: make(map[int64]*session),
	}
}

func (s *CartService) storageKey(userID int64) string {
	return fmt.Sprintf("%s:%d", s.cfg.StorageKey, userID)
}

func (s *CartService) newState() domain.CartState {
	state := domain.NewCartState()
	state.SelectedAddress = s.cfg.PickupAddress
	return state
}

func (s *CartService) session(userID int64) *session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID]
	if !ok {
		key := s.storageKey(userID)
		opts := append([]persistence.Option{persistence.WithLogger(s.log.WithField("user_id", userID))}, s.cfg.StoreOptions...)
		sess = &session{
			state: s.newState(),
			store: persistence.NewStore(s.medium, key, opts...),
		}
		s.sessions[userID] = sess
	}
	return sess
}

// withSession runs fn on the user's restored cart while holding the session lock.
func (s *CartService) withSession(ctx context.Context, userID int64, fn func(*session) error) (domain.CartState, error) {
	sess := s.session(userID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if !sess.restored {
		ids, err := s.catalog.ProductIDs(ctx)
		if err != nil {
			return domain.CartState{}, fmt.Errorf("failed to restore cart: %w", err)
		}
		if saved, ok := sess.store.Load(ctx, ids); ok {
			sess.state = *saved
			if sess.state.DeliveryMethod == domain.DeliveryPickup && strings.TrimSpace(sess.state.SelectedAddress) == "" {
				sess.state.SelectedAddress = s.cfg.PickupAddress
			}
			s.log.WithFields(logrus.Fields{"user_id": userID, "items": len(saved.CartItems)}).Info("cart restored")
		}
		sess.restored = true
	}

	if err := fn(sess); err != nil {
		return domain.CartState{}, err
	}
	return sess.state.Clone(), nil
}

// mutate applies change and persists the result.
func (s *CartService) mutate(ctx context.Context, userID int64, change func(*domain.CartState) error) (domain.CartState, error) {
	return s.withSession(ctx, userID, func(sess *session) error {
		if err := change(&sess.state); err != nil {
			return err
		}
		persist(sess)
		return nil
	})
}

func persist(sess *session) {
	if sess.state.IsEmpty() {
		sess.store.Clear()
		return
	}
	sess.store.Save(sess.state)
}

func (s *CartService) GetCart(ctx context.Context, userID int64) (domain.CartState, error) {
	return s.withSession(ctx, userID, func(*session) error { return nil })
}

func (s *CartService) AddItem(ctx context.Context, userID, productID int64) (domain.CartState, error) {
	product, err := s.catalog.Product(ctx, productID)
	if err != nil {
		return domain.CartState{}, err
	}
	snapshot := product.Snapshot()

	return s.mutate(ctx, userID, func(state *domain.CartState) error {
		state.Add(snapshot)
		return nil
	})
}

func (s *CartService) IncreaseQuantity(ctx context.Context, userID, productID int64) (domain.CartState, error) {
	return s.mutate(ctx, userID, func(state *domain.CartState) error {
		return state.Increase(productID)
	})
}

// DecreaseQuantity removes the item when its quantity was 1.
func (s *CartService) DecreaseQuantity(ctx context.Context, userID, productID int64) (domain.CartState, error) {
	return s.mutate(ctx, userID, func(state *domain.CartState) error {
		return state.Decrease(productID)
	})
}

func (s *CartService) RemoveItem(ctx context.Context, userID, productID int64) (domain.CartState, error) {
	return s.mutate(ctx, userID, func(state *domain.CartState) error {
		return state.Remove(productID)
	})
}

func (s *CartService) SetDeliveryMethod(ctx context.Context, userID int64, method domain.DeliveryMethod) (domain.CartState, error) {
	return s.UpdateDelivery(ctx, userID, DeliveryUpdate{Method: &method})
}

// SetPaymentMethod sets the payment method; nil unsets it.
func (s *CartService) SetPaymentMethod(ctx context.Context, userID int64, method *domain.PaymentMethod) (domain.CartState, error) {
	return s.UpdateDelivery(ctx, userID, DeliveryUpdate{Payment: &method})
}

func (s *CartService) SetAddress(ctx context.Context, userID int64, address string) (domain.CartState, error) {
	return s.UpdateDelivery(ctx, userID, DeliveryUpdate{Address: &address})
}

// UpdateDelivery validates every field of u, then applies them together with a
// single write.
func (s *CartService) UpdateDelivery(ctx context.Context, userID int64, u DeliveryUpdate) (domain.CartState, error) {
	if u.Method != nil && !u.Method.Valid() {
		return domain.CartState{}, fmt.Errorf("%w: %q", ErrInvalidDelivery, *u.Method)
	}
	if u.Payment != nil && *u.Payment != nil && !(*u.Payment).Valid() {
		return domain.CartState{}, fmt.Errorf("%w: %q", ErrInvalidPayment, **u.Payment)
	}
	return s.mutate(ctx, userID, func(state *domain.CartState) error {
		if u.Method != nil {
			state.DeliveryMethod = *u.Method
		}
		if u.Payment != nil {
			state.PaymentMethod = nil
			if *u.Payment != nil {
				m := **u.Payment
				state.PaymentMethod = &m
			}
		}
		if u.Address != nil {
			state.SelectedAddress = *u.Address
		}
		return nil
	})
}

func (s *CartService) ClearCart(ctx context.Context, userID int64) (domain.CartState, error) {
	return s.mutate(ctx, userID, func(state *domain.CartState) error {
		state.Empty()
		return nil
	})
}

// Checkout submits the cart as an order and empties it once the backend has
// accepted it. The user must have shared a phone number first.
func (s *CartService) Checkout(ctx context.Context, userID int64, initData string) (*orders.Order, error) {
	var created *orders.Order
	_, err := s.withSession(ctx, userID, func(sess *session) error {
		if sess.state.IsEmpty() {
			return ErrEmptyCart
		}
		if strings.TrimSpace(sess.state.SelectedAddress) == "" {
			return ErrAddressRequired
		}

		user, err := s.users.Me(ctx, initData)
		if err != nil {
			return err
		}
		if !user.HasPhone() {
			return ErrPhoneRequired
		}

		order, err := s.orders.Create(ctx, initData, orders.NewRequest(userID, sess.state))
		if err != nil {
			return err
		}
		created = order

		sess.state.Empty()
		sess.store.Clear()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Forget empties the user's cart and its saved copy, e.g. after an order was
// placed from another device.
func (s *CartService) Forget(userID int64) {
	sess := s.session(userID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.state.Empty()
	sess.restored = true
	sess.store.Clear()
	s.log.WithField("user_id", userID).Info("cart forgotten")
}

// Flush waits for every pending cart write to reach storage.
func (s *CartService) Flush() {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.store.Flush()
	}
}
