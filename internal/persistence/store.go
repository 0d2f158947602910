package persistence

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/KMikhailS/flower-shop/internal/domain"
	"github.com/KMikhailS/flower-shop/internal/storage"
	"github.com/sirupsen/logrus"
)

// DefaultKey is the storage key used by the Mini-App.
const DefaultKey = "fanfantulpan_cart"

const defaultWriteTimeout = 3 * time.Second

type writeOp struct {
	value string
	clear bool
}

// Store remembers one user's cart across restarts.
//
// Save and Clear never report errors and never block on storage: the write is
// handed to a background writer that keeps only the latest pending request,
// so the last call wins on the medium. Load is the only blocking call.
type Store struct {
	medium  storage.Medium
	key     string
	gate    Gate
	now     func() time.Time
	timeout time.Duration
	log     *logrus.Entry

	mu      sync.Mutex
	idle    *sync.Cond
	pending *writeOp
	running bool
}

type Option func(*Store)

func WithMaxAge(d time.Duration) Option {
	return func(s *Store) { s.gate.MaxAge = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
		s.gate.Now = now
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

func WithLogger(log *logrus.Entry) Option {
	return func(s *Store) { s.log = log }
}

func NewStore(medium storage.Medium, key string, opts ...Option) *Store {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	s := &Store{
		medium:  medium,
		key:     key,
		gate:    Gate{MaxAge: DefaultMaxAge, Now: time.Now},
		now:     time.Now,
		timeout: defaultWriteTimeout,
		log:     logrus.NewEntry(discard),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("key", key)
	s.idle = sync.NewCond(&s.mu)
	return s
}

// Save persists the full cart state with a fresh timestamp. An empty cart is
// never stored: it clears the key instead.
func (s *Store) Save(state domain.CartState) {
	if state.IsEmpty() {
		s.Clear()
		return
	}

	snapshot := state.Clone()
	snapshot.Timestamp = s.now().UTC()

	data, err := Encode(snapshot)
	if err != nil {
		s.log.WithError(err).Error("cart save failed")
		return
	}
	s.enqueue(writeOp{value: data})
}

// Clear removes the key from every medium. Clearing an empty store is a no-op.
func (s *Store) Clear() {
	s.enqueue(writeOp{clear: true})
}

// Load returns the saved cart, or false when there is nothing usable: no data,
// unreadable data, a stale cart or a cart naming products outside knownIDs.
func (s *Store) Load(ctx context.Context, knownIDs []int64) (*domain.CartState, bool) {
	s.Flush()

	raw, err := s.medium.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.log.Debug("no saved cart")
		} else {
			s.log.WithError(err).Warn("cart load failed")
		}
		return nil, false
	}

	state, err := Decode(raw)
	if err != nil {
		s.log.WithError(err).Warn("discarding unreadable cart")
		return nil, false
	}

	if err := s.gate.Check(state, knownIDs); err != nil {
		s.log.WithError(err).Info("discarding saved cart")
		return nil, false
	}
	return state, true
}

// Flush blocks until every write handed to Save or Clear has been applied.
func (s *Store) Flush() {
	s.mu.Lock()
	for s.running {
		s.idle.Wait()
	}
	s.mu.Unlock()
}

func (s *Store) enqueue(op writeOp) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = &op
	if !s.running {
		s.running = true
		go s.drain()
	}
}

func (s *Store) drain() {
	for {
		s.mu.Lock()
		op := s.pending
		s.pending = nil
		if op == nil {
			s.running = false
			s.idle.Broadcast()
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		s.apply(*op)
	}
}

func (s *Store) apply(op writeOp) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if op.clear {
		if err := s.medium.Remove(ctx, s.key); err != nil {
			s.log.WithError(err).Warn("cart clear failed")
		}
		return
	}
	if err := s.medium.Set(ctx, s.key, op.value); err != nil {
		s.log.WithError(err).Warn("cart save failed")
	}
}
