package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/KMikhailS/flower-shop/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"
)

const defaultFetchTimeout = 10 * time.Second

var (
	ErrProductNotFound = errors.New("product not found")
	ErrUnavailable     = errors.New("catalog unavailable")
)

type Image struct {
	ImageURL     string `json:"image_url"`
	DisplayOrder int    `json:"display_order"`
}

// Product mirrors the backend's goods DTO.
type Product struct {
	ID               int64            `json:"id"`
	Name             string           `json:"name"`
	Category         string           `json:"category"`
	Price            decimal.Decimal  `json:"price"`
	NonDiscountPrice *decimal.Decimal `json:"non_discount_price"`
	Description      string           `json:"description"`
	Images           []Image          `json:"images"`
	Status           string           `json:"status"`
}

// Snapshot copies the fields the cart displays.
func (p Product) Snapshot() domain.ProductSnapshot {
	image := ""
	if len(p.Images) > 0 {
		images := append([]Image(nil), p.Images...)
		sort.SliceStable(images, func(i, j int) bool { return images[i].DisplayOrder < images[j].DisplayOrder })
		image = images[0].ImageURL
	}
	return domain.ProductSnapshot{
		ID:          p.ID,
		Image:       image,
		Alt:         p.Name,
		Title:       p.Name,
		Price:       domain.FormatPrice(p.Price),
		Description: p.Description,
	}
}

// Client reads the public goods list from the shop backend. Results are cached
// for ttl; when the backend fails the last good list keeps being served.
type Client struct {
	baseURL      string
	http         *http.Client
	ttl          time.Duration
	fetchTimeout time.Duration
	now          func() time.Time
	log          *logrus.Entry
	breaker      *gobreaker.CircuitBreaker[[]Product]
	sfg          singleflight.Group // collapses concurrent refreshes

	mu        sync.RWMutex
	products  []Product
	fetchedAt time.Time
}

func NewClient(baseURL string, httpClient *http.Client, ttl time.Duration, log *logrus.Entry) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		http:         httpClient,
		ttl:          ttl,
		fetchTimeout: defaultFetchTimeout,
		now:          time.Now,
		log:          log,
	}
	if httpClient.Timeout > 0 {
		c.fetchTimeout = httpClient.Timeout
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]Product](gobreaker.Settings{
		Name:        "catalog",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).Warn("circuit breaker state changed")
		},
	})
	return c
}

func (c *Client) Products(ctx context.Context) ([]Product, error) {
	c.mu.RLock()
	products, fetchedAt := c.products, c.fetchedAt
	c.mu.RUnlock()

	if products != nil && c.now().Sub(fetchedAt) < c.ttl {
		return products, nil
	}

	// shared by every waiter: detached from the starting caller's cancellation
	v, err, _ := c.sfg.Do("goods", func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()

		fresh, err := c.breaker.Execute(func() ([]Product, error) {
			return c.fetch(fetchCtx)
		})
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.products = fresh
		c.fetchedAt = c.now()
		c.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		if products != nil {
			c.log.WithError(err).Warn("catalog refresh failed, serving last known goods")
			return products, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return v.([]Product), nil
}

// ProductIDs lists the ids of every product currently on sale.
func (c *Client) ProductIDs(ctx context.Context) ([]int64, error) {
	products, err := c.Products(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(products))
	for i, p := range products {
		ids[i] = p.ID
	}
	return ids, nil
}

func (c *Client) Product(ctx context.Context, id int64) (Product, error) {
	products, err := c.Products(ctx)
	if err != nil {
		return Product{}, err
	}
	for _, p := range products {
		if p.ID == id {
			return p, nil
		}
	}
	return Product{}, ErrProductNotFound
}

func (c *Client) fetch(ctx context.Context) ([]Product, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/goods", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build goods request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch goods: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch goods: status %d", resp.StatusCode)
	}

	products := []Product{}
	if err := json.NewDecoder(resp.Body).Decode(&products); err != nil {
		return nil, fmt.Errorf("failed to decode goods: %w", err)
	}
	return products, nil
}
