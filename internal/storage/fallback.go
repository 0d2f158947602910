package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Fallback tries its media in priority order.
//
// Set stops at the first medium that accepts the write and then drops the key
// from every other medium, so an older copy elsewhere cannot shadow or outlive
// it. Get returns the first non-empty value, skipping media that fail or have
// nothing. Remove is applied to every medium so no stale copy survives a clear.
type Fallback struct {
	media []Medium
	log   *logrus.Entry
}

func NewFallback(log *logrus.Entry, media ...Medium) *Fallback {
	return &Fallback{media: media, log: log}
}

func (f *Fallback) Set(ctx context.Context, key, value string) error {
	var errs []error
	for i, m := range f.media {
		err := m.Set(ctx, key, value)
		if err == nil {
			f.dropOthers(ctx, key, i)
			return nil
		}
		f.log.WithError(err).WithField("medium", name(m)).Warn("storage set failed, trying next medium")
		errs = append(errs, fmt.Errorf("%s: %w", name(m), err))
	}
	if len(errs) == 0 {
		return ErrUnavailable
	}
	return errors.Join(errs...)
}

func (f *Fallback) Get(ctx context.Context, key string) (string, error) {
	var errs []error
	for _, m := range f.media {
		value, err := m.Get(ctx, key)
		if err == nil && value != "" {
			return value, nil
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			f.log.WithError(err).WithField("medium", name(m)).Warn("storage get failed, trying next medium")
			errs = append(errs, fmt.Errorf("%s: %w", name(m), err))
		}
	}
	if len(errs) == 0 {
		return "", ErrNotFound
	}
	return "", errors.Join(errs...)
}

func (f *Fallback) Remove(ctx context.Context, key string) error {
	var errs []error
	for _, m := range f.media {
		if err := m.Remove(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name(m), err))
		}
	}
	return errors.Join(errs...)
}

// dropOthers removes key from every medium except the one at index keep.
// Failures are only logged: the write itself already succeeded.
func (f *Fallback) dropOthers(ctx context.Context, key string, keep int) {
	for i, m := range f.media {
		if i == keep {
			continue
		}
		if err := m.Remove(ctx, key); err != nil {
			f.log.WithError(err).WithField("medium", name(m)).Warn("storage cleanup of stale copy failed")
		}
	}
}

func name(m Medium) string {
	if s, ok := m.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", m)
}
