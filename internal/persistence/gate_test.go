package persistence

import (
	"testing"
	"time"

	"github.com/KMikhailS/flower-shop/internal/domain"
	"github.com/stretchr/testify/assert"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestGate(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	gate := Gate{MaxAge: 24 * time.Hour, Now: fixedClock(now)}

	tests := []struct {
		name  string
		saved time.Time
		known []int64
		want  error
	}{
		{"fresh and known", now.Add(-time.Hour), []int64{3, 7, 9}, nil},
		{"exactly at the window", now.Add(-24 * time.Hour), []int64{3, 7}, nil},
		{"stale", now.Add(-25 * time.Hour), []int64{3, 7}, ErrStale},
		{"one product gone", now.Add(-time.Hour), []int64{3}, ErrUnknownProduct},
		{"empty catalog", now.Add(-time.Hour), nil, ErrUnknownProduct},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := testState(tt.saved)
			err := gate.Check(&state, tt.known)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestGate_EmptyCartNeedsNoCatalog(t *testing.T) {
	now := time.Now()
	gate := Gate{MaxAge: time.Hour, Now: fixedClock(now)}
	state := domain.NewCartState()
	state.Timestamp = now

	assert.NoError(t, gate.Check(&state, nil))
}
