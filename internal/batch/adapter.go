// Package batch fetches a product's receipt lots from the inventory
// backend and reduces them to the ones the cart may allocate from.
package batch

import (
	"context"
	"fmt"
	"math"
	"time"

	"retailpos/backend/internal/domain"
)

type Source interface {
	GetBatchesByProduct(ctx context.Context, productID string) ([]domain.Batch, error)
}

type Adapter struct {
	source Source
	now    func() time.Time
	loc    *time.Location
}

type Option func(*Adapter)

func WithClock(now func() time.Time) Option {
	return func(a *Adapter) {
		if now != nil {
			a.now = now
		}
	}
}

// WithLocation sets the zone that defines "today" for expiry checks.
func WithLocation(loc *time.Location) Option {
	return func(a *Adapter) {
		if loc != nil {
			a.loc = loc
		}
	}
}

func NewAdapter(source Source, opts ...Option) *Adapter {
	a := &Adapter{source: source, now: time.Now, loc: time.UTC}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Today is the start of the current day in the adapter's location.
func (a *Adapter) Today() time.Time {
	return StartOfDay(a.now(), a.loc)
}

func (a *Adapter) Now() time.Time {
	return a.now()
}

// FetchValidBatches returns the product's allocatable batches in the order
// the source returned them (oldest first). No valid batches yields an empty
// slice and a nil error.
func (a *Adapter) FetchValidBatches(ctx context.Context, productID string) ([]domain.Batch, error) {
	snap, err := a.Lookup(ctx, productID)
	if err != nil {
		return nil, err
	}
	return snap.Batches, nil
}

// Lookup is FetchValidBatches plus the counts the cart engine needs to tell
// "all expired" apart from "nothing on record".
func (a *Adapter) Lookup(ctx context.Context, productID string) (domain.BatchSnapshot, error) {
	raw, err := a.source.GetBatchesByProduct(ctx, productID)
	if err != nil {
		return domain.BatchSnapshot{}, fmt.Errorf("get batches for product %s: %w", productID, err)
	}

	today := a.Today()
	snap := domain.BatchSnapshot{
		ProductID: productID,
		Batches:   make([]domain.Batch, 0, len(raw)),
		Fetched:   len(raw),
		FetchedAt: a.now(),
	}
	for _, b := range raw {
		if b.CurrentQuantity <= 0 {
			continue
		}
		if IsExpired(b, today) {
			snap.Expired++
			continue
		}
		snap.Batches = append(snap.Batches, b)
	}
	return snap, nil
}

func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// expiryDay reads the expiry as a calendar date in today's location.
func expiryDay(b domain.Batch, today time.Time) (time.Time, bool) {
	if b.ExpiryDate == nil || b.ExpiryDate.IsZero() {
		return time.Time{}, false
	}
	e := *b.ExpiryDate
	return time.Date(e.Year(), e.Month(), e.Day(), 0, 0, 0, 0, today.Location()), true
}

// IsExpired reports whether the batch's expiry day is strictly before today.
// A batch expiring today is still sellable.
func IsExpired(b domain.Batch, today time.Time) bool {
	day, ok := expiryDay(b, today)
	return ok && day.Before(today)
}

func IsValid(b domain.Batch, today time.Time) bool {
	return b.CurrentQuantity > 0 && !IsExpired(b, today)
}

// DaysUntilExpiry is negative for expired batches. ok is false when the
// batch has no expiry.
func DaysUntilExpiry(b domain.Batch, today time.Time) (days int, ok bool) {
	day, ok := expiryDay(b, today)
	if !ok {
		return 0, false
	}
	return int(math.Round(day.Sub(today).Hours() / 24)), true
}

// ExpiresWithin is true for batches that are not yet expired and expire in
// at most days days.
func ExpiresWithin(b domain.Batch, days int, today time.Time) bool {
	left, ok := DaysUntilExpiry(b, today)
	return ok && left >= 0 && left <= days
}
