package persistence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/KMikhailS/flower-shop/internal/domain"
	"github.com/KMikhailS/flower-shop/internal/storage"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var catalogIDs = []int64{3, 7, 9}

func roses() domain.ProductSnapshot {
	return domain.ProductSnapshot{ID: 7, Image: "/images/flower-1.png", Title: "Roses", Price: "1000 руб."}
}

func tulips() domain.ProductSnapshot {
	return domain.ProductSnapshot{ID: 3, Image: "/images/flower-3.png", Title: "Tulips", Price: "2499 руб."}
}

func testState(ts time.Time) domain.CartState {
	state := domain.NewCartState()
	state.Add(roses())
	state.Add(roses())
	state.Add(tulips())
	state.SelectedAddress = "Lenina 1"
	state.Timestamp = ts
	return state
}

type media struct {
	mr        *miniredis.Miniredis
	primary   *storage.RedisMedium
	secondary *storage.SQLiteMedium
	fallback  *storage.Fallback
}

// setupMedia wires the production fallback chain: Redis first, SQLite second.
func setupMedia(t *testing.T) *media {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	secondary, err := storage.NewSQLiteMedium(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { secondary.Close() })

	logger, _ := logtest.NewNullLogger()
	primary := storage.NewRedisMedium(client, DefaultMaxAge)
	return &media{
		mr:        mr,
		primary:   primary,
		secondary: secondary,
		fallback:  storage.NewFallback(logrus.NewEntry(logger), primary, secondary),
	}
}

func TestStore_RoundTrip(t *testing.T) {
	m := setupMedia(t)
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	store := NewStore(m.fallback, DefaultKey, WithClock(fixedClock(now)))

	card := domain.PaymentCard
	state := testState(now)
	state.DeliveryMethod = domain.DeliveryCourier
	state.PaymentMethod = &card

	store.Save(state)
	loaded, ok := store.Load(context.Background(), catalogIDs)

	require.True(t, ok)
	assert.Equal(t, state, *loaded)
	assert.True(t, m.mr.Exists("cart:"+DefaultKey), "primary medium should hold the cart")
}

func TestStore_SaveRefreshesTimestamp(t *testing.T) {
	m := setupMedia(t)
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	store := NewStore(m.fallback, DefaultKey, WithClock(fixedClock(now)))

	state := testState(time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC))
	store.Save(state)

	loaded, ok := store.Load(context.Background(), catalogIDs)
	require.True(t, ok)
	assert.Equal(t, now, loaded.Timestamp)
	assert.Equal(t, time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC), state.Timestamp, "caller's state must not be touched")
}

func TestStore_StaleCartRejected(t *testing.T) {
	for _, tc := range []struct {
		name  string
		write func(t *testing.T, m *media, raw string)
	}{
		{"primary", func(t *testing.T, m *media, raw string) {
			require.NoError(t, m.primary.Set(context.Background(), DefaultKey, raw))
		}},
		{"secondary", func(t *testing.T, m *media, raw string) {
			require.NoError(t, m.secondary.Set(context.Background(), DefaultKey, raw))
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := setupMedia(t)
			now := time.Now().UTC()
			raw, err := Encode(testState(now.Add(-25 * time.Hour)))
			require.NoError(t, err)
			tc.write(t, m, raw)

			store := NewStore(m.fallback, DefaultKey, WithClock(fixedClock(now)))
			loaded, ok := store.Load(context.Background(), catalogIDs)

			assert.False(t, ok)
			assert.Nil(t, loaded)
		})
	}
}

func TestStore_UnknownProductRejectsWholeCart(t *testing.T) {
	m := setupMedia(t)
	store := NewStore(m.fallback, DefaultKey)

	store.Save(testState(time.Now()))

	loaded, ok := store.Load(context.Background(), []int64{3, 9})
	assert.False(t, ok)
	assert.Nil(t, loaded)

	// the same payload is fine once the catalog knows every product again
	loaded, ok = store.Load(context.Background(), catalogIDs)
	require.True(t, ok)
	assert.Len(t, loaded.CartItems, 2)
}

func TestStore_EmptyCartClearsStorage(t *testing.T) {
	m := setupMedia(t)
	store := NewStore(m.fallback, DefaultKey)

	state := testState(time.Now())
	store.Save(state)
	store.Flush()
	require.True(t, m.mr.Exists("cart:"+DefaultKey))

	state.Empty()
	store.Save(state)
	store.Flush()

	assert.False(t, m.mr.Exists("cart:"+DefaultKey))
	_, err := m.secondary.Get(context.Background(), DefaultKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	loaded, ok := store.Load(context.Background(), catalogIDs)
	assert.False(t, ok)
	assert.Nil(t, loaded)
}

func TestStore_PrimaryFailureFallsBackToSecondary(t *testing.T) {
	m := setupMedia(t)
	store := NewStore(m.fallback, DefaultKey)

	m.mr.SetError("cloud storage unavailable")
	store.Save(testState(time.Now()))
	store.Flush()

	raw, err := m.secondary.Get(context.Background(), DefaultKey)
	require.NoError(t, err)
	decoded, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, 2, decoded.Quantity(7))

	loaded, ok := store.Load(context.Background(), catalogIDs)
	require.True(t, ok)
	assert.Equal(t, 2, loaded.Quantity(7))
}

func TestStore_HostNotPresent(t *testing.T) {
	secondary, err := storage.NewSQLiteMedium(":memory:")
	require.NoError(t, err)
	defer secondary.Close()

	logger, _ := logtest.NewNullLogger()
	fallback := storage.NewFallback(logrus.NewEntry(logger), storage.NewRedisMedium(nil, time.Hour), secondary)
	store := NewStore(fallback, DefaultKey)

	store.Save(testState(time.Now()))
	loaded, ok := store.Load(context.Background(), catalogIDs)

	require.True(t, ok)
	assert.Equal(t, 1, loaded.Quantity(3))
}

func TestStore_ClearIsIdempotent(t *testing.T) {
	m := setupMedia(t)
	store := NewStore(m.fallback, DefaultKey)

	assert.NotPanics(t, func() {
		store.Clear()
		store.Clear()
		store.Flush()
	})

	assert.False(t, m.mr.Exists("cart:"+DefaultKey))
	_, err := m.secondary.Get(context.Background(), DefaultKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_ClearRemovesEveryCopy(t *testing.T) {
	m := setupMedia(t)
	ctx := context.Background()
	raw, err := Encode(testState(time.Now()))
	require.NoError(t, err)
	require.NoError(t, m.primary.Set(ctx, DefaultKey, raw))
	require.NoError(t, m.secondary.Set(ctx, DefaultKey, raw))

	store := NewStore(m.fallback, DefaultKey)
	store.Clear()
	store.Flush()

	assert.False(t, m.mr.Exists("cart:"+DefaultKey))
	_, err = m.secondary.Get(ctx, DefaultKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_FailuresAreLoggedNotRaised(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	broken := &blockingMedium{err: errors.New("quota exceeded")}
	store := NewStore(broken, DefaultKey, WithLogger(logrus.NewEntry(logger)))

	assert.NotPanics(t, func() {
		store.Save(testState(time.Now()))
		store.Flush()
		store.Clear()
		store.Flush()
	})
	loaded, ok := store.Load(context.Background(), catalogIDs)
	assert.False(t, ok)
	assert.Nil(t, loaded)

	var messages []string
	for _, e := range hook.AllEntries() {
		messages = append(messages, e.Message)
	}
	assert.Contains(t, messages, "cart save failed")
	assert.Contains(t, messages, "cart clear failed")
	assert.Contains(t, messages, "cart load failed")
}

func TestStore_GarbageInStorageIsNothing(t *testing.T) {
	m := setupMedia(t)
	require.NoError(t, m.primary.Set(context.Background(), DefaultKey, "{not json"))

	store := NewStore(m.fallback, DefaultKey)
	loaded, ok := store.Load(context.Background(), catalogIDs)

	assert.False(t, ok)
	assert.Nil(t, loaded)
}

// blockingMedium holds every Set until release is closed, after signalling entered.
type blockingMedium struct {
	m       sync.Mutex
	values  []string
	removes int
	err     error
	entered chan struct{}
	release chan struct{}
}

func (b *blockingMedium) Set(_ context.Context, _ string, value string) error {
	if b.entered != nil {
		b.entered <- struct{}{}
		<-b.release
	}
	b.m.Lock()
	defer b.m.Unlock()
	if b.err != nil {
		return b.err
	}
	b.values = append(b.values, value)
	return nil
}

func (b *blockingMedium) Get(context.Context, string) (string, error) {
	b.m.Lock()
	defer b.m.Unlock()
	if b.err != nil {
		return "", b.err
	}
	if len(b.values) == 0 {
		return "", storage.ErrNotFound
	}
	return b.values[len(b.values)-1], nil
}

func (b *blockingMedium) Remove(context.Context, string) error {
	b.m.Lock()
	defer b.m.Unlock()
	b.removes++
	if b.err != nil {
		return b.err
	}
	b.values = nil
	return nil
}

func TestStore_RapidSavesCoalesceToLast(t *testing.T) {
	medium := &blockingMedium{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	store := NewStore(medium, DefaultKey)

	state := domain.NewCartState()
	state.Add(roses())
	store.Save(state)
	<-medium.entered // first write is in flight

	for i := 0; i < 5; i++ {
		state.Add(roses())
		store.Save(state)
	}

	go func() {
		for range medium.entered {
		}
	}()
	close(medium.release)
	store.Flush()
	close(medium.entered)

	require.Len(t, medium.values, 2, "queued saves should collapse into one write")
	last, err := Decode(medium.values[1])
	require.NoError(t, err)
	assert.Equal(t, 6, last.Quantity(7))
}

func TestStore_ClearAfterSaveWins(t *testing.T) {
	medium := &blockingMedium{}
	store := NewStore(medium, DefaultKey)

	store.Save(testState(time.Now()))
	store.Clear()
	store.Flush()

	_, err := medium.Get(context.Background(), DefaultKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_EndToEnd(t *testing.T) {
	m := setupMedia(t)
	store := NewStore(m.fallback, DefaultKey)

	state := domain.NewCartState()
	state.Add(roses())
	require.Len(t, state.CartItems, 1)
	assert.Equal(t, 1, state.Quantity(7))
	state.Add(roses())
	assert.Equal(t, 2, state.Quantity(7))

	m.mr.SetError("cloud storage unavailable")
	store.Save(state)
	store.Flush()

	raw, err := m.secondary.Get(context.Background(), DefaultKey)
	require.NoError(t, err)
	saved, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, 2, saved.Quantity(7))
	assert.WithinDuration(t, time.Now(), saved.Timestamp, time.Second)

	loaded, ok := store.Load(context.Background(), []int64{1, 2, 3})
	assert.False(t, ok)
	assert.Nil(t, loaded)
}
