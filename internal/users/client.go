package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
)

var (
	ErrUnauthorized = errors.New("user lookup rejected: unauthorized")
	ErrNotFound     = errors.New("user not found")
	ErrUnavailable  = errors.New("users backend unavailable")
)

// Info mirrors the backend's user info DTO.
type Info struct {
	ID       int64   `json:"id"`
	Role     string  `json:"role"`
	Mode     string  `json:"mode"`
	Status   string  `json:"status"`
	Username *string `json:"username"`
	Phone    *string `json:"phone"`
}

// HasPhone reports whether the user has shared a contact phone.
func (i Info) HasPhone() bool {
	return i.Phone != nil && strings.TrimSpace(*i.Phone) != ""
}

type Client struct {
	baseURL string
	http    *http.Client
	log     *logrus.Entry
	breaker *gobreaker.CircuitBreaker[*Info]
}

func NewClient(baseURL string, httpClient *http.Client, log *logrus.Entry) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		log:     log,
	}
	c.breaker = gobreaker.NewCircuitBreaker[*Info](gobreaker.Settings{
		Name:        "users",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).Warn("circuit breaker state changed")
		},
	})
	return c
}

// Me returns the Telegram user identified by initData.
func (c *Client) Me(ctx context.Context, initData string) (*Info, error) {
	info, err := c.breaker.Execute(func() (*Info, error) {
		return c.get(ctx, initData)
	})
	if err != nil {
		if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		c.log.WithError(err).Error("failed to fetch user info")
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return info, nil
}

func (c *Client) get(ctx context.Context, initData string) (*Info, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/users/me", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build user request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "tma "+initData)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("failed to fetch user: status %d", resp.StatusCode)
	}

	var info Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	return &info, nil
}
