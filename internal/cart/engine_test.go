package cart

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retailpos/backend/internal/batch"
	"retailpos/backend/internal/cache"
	"retailpos/backend/internal/domain"
)

var testNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type fakeSource struct {
	batches map[string][]domain.Batch
	err     error
}

func (f *fakeSource) GetBatchesByProduct(_ context.Context, productID string) ([]domain.Batch, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.batches[productID], nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func daysFromNow(n int) *time.Time {
	t := testNow.AddDate(0, 0, n)
	return &t
}

func newEngine(src *fakeSource, opts ...Option) *Engine {
	e, _ := newEngineWithSnapshots(src, opts...)
	return e
}

func newEngineWithSnapshots(src *fakeSource, opts ...Option) (*Engine, *batch.Snapshots) {
	adapter := batch.NewAdapter(src, batch.WithClock(func() time.Time { return testNow }))
	snaps := adapter.Scoped(cache.NewMemoryBatchCache(), "test", time.Minute)
	return NewEngine(snaps, opts...), snaps
}

func productP() domain.Product {
	return domain.Product{
		ID:           "p",
		Name:         "Paracetamol 500mg",
		SKU:          "PARA-500",
		SellingPrice: dec("16"),
		CostPrice:    dec("11"),
		CurrentStock: 7,
	}
}

func twoBatches() []domain.Batch {
	return []domain.Batch{
		{ProductID: "p", BatchNumber: "B1", CostPrice: dec("10"), SellingPrice: dec("15"), CurrentQuantity: 2, ExpiryDate: daysFromNow(90)},
		{ProductID: "p", BatchNumber: "B2", CostPrice: dec("12"), SellingPrice: dec("18"), CurrentQuantity: 5, ExpiryDate: daysFromNow(180)},
	}
}

func mustAdd(t *testing.T, e *Engine, product domain.Product) Line {
	t.Helper()
	out, err := e.AddUnit(context.Background(), product)
	require.NoError(t, err)
	require.False(t, out.NeedsConfirmation())
	return out.Line
}

func TestAddUnitFillsOldestBatchFirst(t *testing.T) {
	e := newEngine(&fakeSource{batches: map[string][]domain.Batch{"p": twoBatches()}})
	product := productP()

	for n := 0; n < 4; n++ {
		mustAdd(t, e, product)
	}

	lines := e.Cart().Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, "B2", lines[0].BatchNumber())
	assert.Equal(t, 2, lines[0].Quantity)
	assert.True(t, dec("18").Equal(lines[0].UnitPrice))
	assert.True(t, dec("36").Equal(lines[0].TotalPrice))
	assert.Equal(t, "B1", lines[1].BatchNumber())
	assert.Equal(t, 2, lines[1].Quantity)
	assert.True(t, dec("15").Equal(lines[1].UnitPrice))
	assert.True(t, dec("30").Equal(lines[1].TotalPrice))

	fifth := mustAdd(t, e, product)
	assert.Equal(t, "B2", fifth.BatchNumber())
	assert.Equal(t, 3, fifth.Quantity)
	assert.True(t, dec("54").Equal(fifth.TotalPrice))
	assert.Equal(t, 2, e.Cart().Len())
}

func TestAddUnitBatchSequenceIsNonDecreasing(t *testing.T) {
	batches := []domain.Batch{
		{BatchNumber: "B1", SellingPrice: dec("1"), CurrentQuantity: 1},
		{BatchNumber: "B2", SellingPrice: dec("1"), CurrentQuantity: 3},
		{BatchNumber: "B3", SellingPrice: dec("1"), CurrentQuantity: 2},
	}
	e := newEngine(&fakeSource{batches: map[string][]domain.Batch{"p": batches}})
	product := productP()
	product.CurrentStock = 6

	order := map[string]int{"B1": 0, "B2": 1, "B3": 2}
	last := -1
	for n := 0; n < 6; n++ {
		line := mustAdd(t, e, product)
		pos := order[line.BatchNumber()]
		assert.GreaterOrEqual(t, pos, last)
		last = pos
	}

	_, err := e.AddUnit(context.Background(), product)
	assert.ErrorIs(t, err, ErrInsufficientStock)
}

func TestAddUnitNeverOverAllocatesBatch(t *testing.T) {
	batches := []domain.Batch{
		{BatchNumber: "B1", SellingPrice: dec("2"), CurrentQuantity: 2},
		{BatchNumber: "B2", SellingPrice: dec("3"), CurrentQuantity: 1},
	}
	e := newEngine(&fakeSource{batches: map[string][]domain.Batch{"p": batches}})
	product := productP()
	product.CurrentStock = 50

	ctx := context.Background()
	for i := 0; i < 6; i++ {
		_, err := e.AddUnit(ctx, product)
		if i < 3 {
			require.NoError(t, err)
		} else {
			assert.ErrorIs(t, err, ErrInsufficientStock)
		}
		for _, b := range batches {
			assert.LessOrEqual(t, e.Cart().QuantityOnBatch("p", b.BatchNumber), b.CurrentQuantity)
		}
	}
}

func TestAddUnitRespectsProductStockCeiling(t *testing.T) {
	batches := []domain.Batch{{BatchNumber: "B1", SellingPrice: dec("5"), CurrentQuantity: 100}}
	e := newEngine(&fakeSource{batches: map[string][]domain.Batch{"p": batches}})
	product := productP()
	product.CurrentStock = 2

	mustAdd(t, e, product)
	mustAdd(t, e, product)
	_, err := e.AddUnit(context.Background(), product)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, 2, e.Cart().TotalItems())
}

func TestAddUnitRejectsZeroStock(t *testing.T) {
	e := newEngine(&fakeSource{batches: map[string][]domain.Batch{"p": twoBatches()}})
	product := productP()
	product.CurrentStock = 0

	_, err := e.AddUnit(context.Background(), product)
	assert.ErrorIs(t, err, ErrOutOfStock)
	assert.True(t, e.Cart().IsEmpty())
}

func TestAddUnitRejectsExpiredAndDepletedBatches(t *testing.T) {
	src := &fakeSource{batches: map[string][]domain.Batch{
		"expired":  {{BatchNumber: "X", CurrentQuantity: 4, ExpiryDate: daysFromNow(-1)}},
		"depleted": {{BatchNumber: "D", CurrentQuantity: 0}},
	}}
	e := newEngine(src)

	expired := productP()
	expired.ID = "expired"
	_, err := e.AddUnit(context.Background(), expired)
	assert.ErrorIs(t, err, ErrExpiredStock)

	depleted := productP()
	depleted.ID = "depleted"
	_, err = e.AddUnit(context.Background(), depleted)
	assert.ErrorIs(t, err, ErrNoValidBatches)

	assert.True(t, e.Cart().IsEmpty())
}

func TestAddUnitWithoutBatchRecordsUsesProductPricing(t *testing.T) {
	e := newEngine(&fakeSource{batches: map[string][]domain.Batch{}})
	product := productP()

	line := mustAdd(t, e, product)
	_, linked := line.Batch()
	assert.False(t, linked)
	assert.True(t, dec("16").Equal(line.UnitPrice))
	assert.True(t, dec("11").Equal(line.CostPrice))

	again := mustAdd(t, e, product)
	assert.Equal(t, line.ID, again.ID)
	assert.Equal(t, 2, again.Quantity)
}

func TestAddUnitFallsBackWhenLookupFails(t *testing.T) {
	src := &fakeSource{err: errors.New("timeout")}
	e := newEngine(src)
	product := productP()
	product.SellingPrice = dec("19.999")

	line := mustAdd(t, e, product)
	fallback, ok := line.Source.(Unlinked)
	require.True(t, ok)
	assert.True(t, dec("20").Equal(fallback.FallbackPrice))
	assert.True(t, dec("20").Equal(line.UnitPrice))

	again := mustAdd(t, e, product)
	assert.Equal(t, line.ID, again.ID)
	assert.Equal(t, 2, again.Quantity)
	assert.True(t, dec("40").Equal(again.TotalPrice))
}

func TestAddUnitAfterFallbackRejectsExpiredBatches(t *testing.T) {
	src := &fakeSource{err: errors.New("timeout")}
	e := newEngine(src)
	product := productP()

	line := mustAdd(t, e, product)
	_, unlinked := line.Source.(Unlinked)
	require.True(t, unlinked)

	src.err = nil
	src.batches = map[string][]domain.Batch{"p": {
		{ProductID: "p", BatchNumber: "OLD", SellingPrice: dec("15"), CurrentQuantity: 4, ExpiryDate: daysFromNow(-10)},
	}}

	_, err := e.AddUnit(context.Background(), product)
	assert.ErrorIs(t, err, ErrExpiredStock)
	assert.Equal(t, 1, e.Cart().TotalItems())
}

func TestAddUnitExpiringSoonNeedsConfirmation(t *testing.T) {
	batches := []domain.Batch{{BatchNumber: "SOON", SellingPrice: dec("9"), CostPrice: dec("6"), CurrentQuantity: 3, ExpiryDate: daysFromNow(2)}}
	e := newEngine(&fakeSource{batches: map[string][]domain.Batch{"p": batches}})
	product := productP()
	ctx := context.Background()

	out, err := e.AddUnit(ctx, product)
	require.NoError(t, err)
	require.True(t, out.NeedsConfirmation())
	assert.Equal(t, 2, out.Pending.DaysToExpiry)
	assert.Contains(t, out.Pending.Reason, "SOON")
	assert.True(t, e.Cart().IsEmpty())

	line, err := out.Pending.Proceed(ctx)
	require.NoError(t, err)
	assert.Equal(t, "SOON", line.BatchNumber())
	assert.Equal(t, 1, e.Cart().TotalItems())

	_, err = out.Pending.Proceed(ctx)
	assert.ErrorIs(t, err, ErrConfirmationResolved)
	assert.Equal(t, 1, e.Cart().TotalItems())
}

func TestAddUnitExpiringSoonCancelLeavesCart(t *testing.T) {
	batches := []domain.Batch{{BatchNumber: "SOON", SellingPrice: dec("9"), CurrentQuantity: 3, ExpiryDate: daysFromNow(0)}}
	e := newEngine(&fakeSource{batches: map[string][]domain.Batch{"p": batches}})

	out, err := e.AddUnit(context.Background(), productP())
	require.NoError(t, err)
	require.True(t, out.NeedsConfirmation())

	out.Pending.Cancel()
	assert.True(t, out.Pending.Resolved())
	assert.True(t, e.Cart().IsEmpty())
}

func TestExpiryWarningDaysOption(t *testing.T) {
	batches := []domain.Batch{{BatchNumber: "B", SellingPrice: dec("9"), CurrentQuantity: 3, ExpiryDate: daysFromNow(2)}}
	e := newEngine(&fakeSource{batches: map[string][]domain.Batch{"p": batches}}, WithExpiryWarningDays(1))

	mustAdd(t, e, productP())
}

func TestChangeQuantitySplitsAcrossBatches(t *testing.T) {
	e := newEngine(&fakeSource{batches: map[string][]domain.Batch{"p": twoBatches()}})
	first := mustAdd(t, e, productP())

	change, err := e.ChangeQuantity(context.Background(), first.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, change.Line.Quantity)
	require.Len(t, change.Split, 1)
	assert.Equal(t, "B2", change.Split[0].BatchNumber())
	assert.Equal(t, 2, change.Split[0].Quantity)
	assert.True(t, dec("36").Equal(change.Split[0].TotalPrice))

	lines := e.Cart().Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, 4, lines[0].Quantity+lines[1].Quantity)
	assert.Equal(t, 2, e.Cart().QuantityOnBatch("p", "B1"))
	assert.Equal(t, 2, e.Cart().QuantityOnBatch("p", "B2"))
	assert.True(t, dec("66").Equal(e.Cart().Total()))
}

func TestChangeQuantitySplitClampsToRefreshedBatch(t *testing.T) {
	src := &fakeSource{batches: map[string][]domain.Batch{"p": {
		{ProductID: "p", BatchNumber: "B1", SellingPrice: dec("15"), CurrentQuantity: 3, ExpiryDate: daysFromNow(90)},
		{ProductID: "p", BatchNumber: "B2", SellingPrice: dec("18"), CurrentQuantity: 5, ExpiryDate: daysFromNow(180)},
	}}}
	e, snaps := newEngineWithSnapshots(src)
	ctx := context.Background()
	first := mustAdd(t, e, productP())

	_, err := e.ChangeQuantity(ctx, first.ID, 2)
	require.NoError(t, err)
	require.Equal(t, 3, e.Cart().QuantityOnBatch("p", "B1"))

	src.batches["p"][0].CurrentQuantity = 1
	_, err = snaps.Refresh(ctx, "p")
	require.NoError(t, err)

	change, err := e.ChangeQuantity(ctx, first.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, change.Line.Quantity)
	assert.Equal(t, 1, e.Cart().QuantityOnBatch("p", "B1"))
	assert.Equal(t, 3, e.Cart().QuantityOnBatch("p", "B2"))
	assert.Equal(t, 4, e.Cart().QuantityFor("p"))
}

func TestChangeQuantitySplitRejectedAtomically(t *testing.T) {
	batches := []domain.Batch{
		{BatchNumber: "B1", SellingPrice: dec("15"), CurrentQuantity: 2},
		{BatchNumber: "B2", SellingPrice: dec("18"), CurrentQuantity: 1},
	}
	e := newEngine(&fakeSource{batches: map[string][]domain.Batch{"p": batches}})
	product := productP()
	product.CurrentStock = 20
	first := mustAdd(t, e, product)
	before := e.Cart().Lines()

	_, err := e.ChangeQuantity(context.Background(), first.ID, 5)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, before, e.Cart().Lines())
}

func TestChangeQuantityRespectsStockCeiling(t *testing.T) {
	e := newEngine(&fakeSource{batches: map[string][]domain.Batch{"p": twoBatches()}})
	first := mustAdd(t, e, productP())

	_, err := e.ChangeQuantity(context.Background(), first.ID, 7)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, 1, e.Cart().TotalItems())
}

func TestChangeQuantityToZeroRemovesLine(t *testing.T) {
	e := newEngine(&fakeSource{batches: map[string][]domain.Batch{"p": twoBatches()}})
	first := mustAdd(t, e, productP())

	change, err := e.ChangeQuantity(context.Background(), first.ID, -1)
	require.NoError(t, err)
	assert.True(t, change.Removed)
	assert.True(t, e.Cart().IsEmpty())

	_, err = e.ChangeQuantity(context.Background(), first.ID, 1)
	assert.ErrorIs(t, err, ErrLineNotFound)
}

func TestChangeProductQuantityTargetsNewestLine(t *testing.T) {
	e := newEngine(&fakeSource{batches: map[string][]domain.Batch{"p": twoBatches()}})
	for n := 0; n < 3; n++ {
		mustAdd(t, e, productP())
	}

	change, err := e.ChangeProductQuantity(context.Background(), "p", 1)
	require.NoError(t, err)
	assert.Equal(t, "B2", change.Line.BatchNumber())
	assert.Equal(t, 2, change.Line.Quantity)

	_, err = e.ChangeProductQuantity(context.Background(), "nope", 1)
	assert.ErrorIs(t, err, ErrLineNotFound)
}

func TestRoundingIsStableAcrossQuantityChanges(t *testing.T) {
	batches := []domain.Batch{{BatchNumber: "B1", SellingPrice: dec("3.33"), CostPrice: dec("1.11"), CurrentQuantity: 500}}
	e := newEngine(&fakeSource{batches: map[string][]domain.Batch{"p": batches}})
	product := productP()
	product.CurrentStock = 500
	line := mustAdd(t, e, product)
	_, err := e.SetUnitPrice(line.ID, dec("3.335"))
	require.NoError(t, err)
	start, _ := e.Cart().Line(line.ID)

	ctx := context.Background()
	for n := 0; n < 100; n++ {
		_, err := e.ChangeQuantity(ctx, line.ID, 1)
		require.NoError(t, err)
		_, err = e.ChangeQuantity(ctx, line.ID, -1)
		require.NoError(t, err)
	}

	end, _ := e.Cart().Line(line.ID)
	assert.True(t, start.TotalPrice.Equal(end.TotalPrice))
	assert.True(t, dec("3.34").Equal(end.UnitPrice))
}

func TestSetUnitPriceEnforcesCostFloor(t *testing.T) {
	e := newEngine(&fakeSource{batches: map[string][]domain.Batch{"p": twoBatches()}})
	line := mustAdd(t, e, productP())

	_, err := e.SetUnitPrice(line.ID, dec("9.99"))
	assert.ErrorIs(t, err, ErrInvalidPrice)
	kept, _ := e.Cart().Line(line.ID)
	assert.True(t, dec("15").Equal(kept.UnitPrice))

	updated, err := e.SetUnitPrice(line.ID, dec("12.345"))
	require.NoError(t, err)
	assert.True(t, dec("12.35").Equal(updated.UnitPrice))
	assert.True(t, dec("12.35").Equal(updated.TotalPrice))
	assert.True(t, dec("10").Equal(updated.CostPrice))

	_, err = e.SetUnitPrice("missing", dec("20"))
	assert.ErrorIs(t, err, ErrLineNotFound)
}

func TestSetUnitPriceWithoutCostAcceptsAnyNonNegative(t *testing.T) {
	e := newEngine(&fakeSource{batches: map[string][]domain.Batch{}})
	product := productP()
	product.CostPrice = decimal.Zero
	line := mustAdd(t, e, product)

	updated, err := e.SetProductUnitPrice("p", decimal.Zero)
	require.NoError(t, err)
	assert.True(t, updated.TotalPrice.IsZero())

	_, err = e.SetUnitPrice(line.ID, dec("-1"))
	assert.ErrorIs(t, err, ErrInvalidPrice)
}
