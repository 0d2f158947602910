package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/KMikhailS/flower-shop/internal/domain"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
)

var (
	ErrUnauthorized = errors.New("order rejected: unauthorized")
	ErrRejected     = errors.New("order rejected")
	ErrUnavailable  = errors.New("orders backend unavailable")
)

const StatusNew = "NEW"

type DeliveryType string

const (
	DeliveryPickUp  DeliveryType = "PICK_UP"
	DeliveryCourier DeliveryType = "COURIER"
)

type Item struct {
	GoodID int64 `json:"good_id"`
	Count  int   `json:"count"`
}

type Request struct {
	Status          string       `json:"status"`
	UserID          int64        `json:"user_id"`
	DeliveryType    DeliveryType `json:"delivery_type"`
	DeliveryAddress string       `json:"delivery_address"`
	CartItems       []Item       `json:"cart_items"`
}

type Order struct {
	ID              int64        `json:"id"`
	Status          string       `json:"status"`
	UserID          int64        `json:"user_id"`
	DeliveryType    DeliveryType `json:"delivery_type"`
	DeliveryAddress string       `json:"delivery_address"`
	CartItems       []Item       `json:"cart_items"`
}

// NewRequest builds an order for the given cart.
func NewRequest(userID int64, state domain.CartState) Request {
	req := Request{
		Status:          StatusNew,
		UserID:          userID,
		DeliveryType:    DeliveryPickUp,
		DeliveryAddress: strings.TrimSpace(state.SelectedAddress),
		CartItems:       make([]Item, 0, len(state.CartItems)),
	}
	if state.DeliveryMethod == domain.DeliveryCourier {
		req.DeliveryType = DeliveryCourier
	}
	for _, item := range state.CartItems {
		req.CartItems = append(req.CartItems, Item{GoodID: item.Product.ID, Count: item.Quantity})
	}
	return req
}

type Client struct {
	baseURL string
	http    *http.Client
	log     *logrus.Entry
	breaker *gobreaker.CircuitBreaker[*Order]
}

func NewClient(baseURL string, httpClient *http.Client, log *logrus.Entry) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		log:     log,
	}
	c.breaker = gobreaker.NewCircuitBreaker[*Order](gobreaker.Settings{
		Name:        "orders",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		// a rejected order says nothing about backend health
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrRejected) || errors.Is(err, ErrUnauthorized)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).Warn("circuit breaker state changed")
		},
	})
	return c
}

// Create places the order on behalf of the Telegram user identified by initData.
func (c *Client) Create(ctx context.Context, initData string, order Request) (*Order, error) {
	requestID := uuid.NewString()

	created, err := c.breaker.Execute(func() (*Order, error) {
		return c.post(ctx, initData, requestID, order)
	})
	if err != nil {
		if errors.Is(err, ErrRejected) || errors.Is(err, ErrUnauthorized) {
			return nil, err
		}
		c.log.WithError(err).WithField("request_id", requestID).Error("failed to create order")
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	c.log.WithFields(logrus.Fields{"order_id": created.ID, "user_id": order.UserID, "request_id": requestID}).Info("order created")
	return created, nil
}

func (c *Client) post(ctx context.Context, initData, requestID string, order Request) (*Order, error) {
	body, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build order request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "tma "+initData)
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to post order: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(detail)))
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("failed to post order: status %d", resp.StatusCode)
	}

	var created Order
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, fmt.Errorf("failed to decode order: %w", err)
	}
	return &created, nil
}
