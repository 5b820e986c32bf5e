package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"retailpos/backend/internal/batch"
	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/logger"
	"retailpos/backend/internal/metrics"
)

const defaultExpiryWarningDays = 3

// BatchLookup supplies the product's valid batches for the current cart.
// batch.Snapshots satisfies it.
type BatchLookup interface {
	Snapshot(ctx context.Context, productID string) (domain.BatchSnapshot, error)
	Today() time.Time
}

// Engine applies add, quantity and price operations to a cart. Callers
// serialize access.
type Engine struct {
	cart     *Cart
	batches  BatchLookup
	warnDays int
	log      *logger.Logger
	metrics  *metrics.Billing
}

type Option func(*Engine)

// WithExpiryWarningDays sets how close to expiry a first-picked batch must
// be before the add needs confirmation.
func WithExpiryWarningDays(days int) Option {
	return func(e *Engine) {
		if days >= 0 {
			e.warnDays = days
		}
	}
}

func WithLogger(log *logger.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

func WithMetrics(m *metrics.Billing) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func NewEngine(batches BatchLookup, opts ...Option) *Engine {
	e := &Engine{
		cart:     New(),
		batches:  batches,
		warnDays: defaultExpiryWarningDays,
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Cart() *Cart {
	return e.cart
}

// Outcome is the result of AddUnit: either the line that received the unit,
// or a pending confirmation that must be resolved before anything changes.
type Outcome struct {
	Line    Line
	Pending *Pending
}

func (o Outcome) NeedsConfirmation() bool {
	return o.Pending != nil
}

// Pending holds an add that is waiting for the operator because the chosen
// batch is close to expiry.
type Pending struct {
	Reason       string
	Product      domain.Product
	Batch        domain.Batch
	DaysToExpiry int

	engine   *Engine
	line     Line
	resolved bool
}

// Proceed commits the held line. If the product reached the cart in the
// meantime the unit is added through the normal repeat-add rules.
func (p *Pending) Proceed(ctx context.Context) (Line, error) {
	if p.resolved {
		return Line{}, ErrConfirmationResolved
	}
	p.resolved = true

	e := p.engine
	if e.cart.QuantityFor(p.Product.ID) > 0 {
		line, err := e.addToExisting(ctx, p.Product)
		e.metrics.CartOp("confirm", err)
		return line, err
	}
	line := e.cart.AddLine(p.line)
	e.metrics.CartOp("confirm", nil)
	return line, nil
}

// Cancel drops the held line. The cart is left as it was.
func (p *Pending) Cancel() {
	if p.resolved {
		return
	}
	p.resolved = true
	p.engine.metrics.CartOp("cancel", nil)
}

func (p *Pending) Resolved() bool {
	return p.resolved
}

// AddUnit adds exactly one unit of the product.
func (e *Engine) AddUnit(ctx context.Context, product domain.Product) (Outcome, error) {
	var (
		out Outcome
		err error
	)
	if e.cart.QuantityFor(product.ID) > 0 {
		out.Line, err = e.addToExisting(ctx, product)
	} else {
		out, err = e.addFirst(ctx, product)
	}
	e.metrics.CartOp("add", err)
	return out, err
}

func (e *Engine) addFirst(ctx context.Context, product domain.Product) (Outcome, error) {
	if product.CurrentStock <= 0 {
		return Outcome{}, ErrOutOfStock
	}

	snap, err := e.batches.Snapshot(ctx, product.ID)
	if err != nil {
		e.degrade(ctx, product, err)
		return Outcome{Line: e.cart.AddLine(unlinkedLine(product, 1))}, nil
	}

	if len(snap.Batches) == 0 {
		switch {
		case snap.Expired > 0:
			return Outcome{}, ErrExpiredStock
		case snap.Fetched == 0:
			return Outcome{Line: e.cart.AddLine(unlinkedLine(product, 1))}, nil
		default:
			return Outcome{}, ErrNoValidBatches
		}
	}

	chosen := snap.Batches[0]
	line := batchLine(product, chosen, 1)
	today := e.batches.Today()
	if batch.ExpiresWithin(chosen, e.warnDays, today) {
		days, _ := batch.DaysUntilExpiry(chosen, today)
		return Outcome{Pending: &Pending{
			Reason:       expiryReason(chosen, days),
			Product:      product,
			Batch:        chosen,
			DaysToExpiry: days,
			engine:       e,
			line:         line,
		}}, nil
	}
	return Outcome{Line: e.cart.AddLine(line)}, nil
}

func (e *Engine) addToExisting(ctx context.Context, product domain.Product) (Line, error) {
	if e.cart.QuantityFor(product.ID)+1 > product.CurrentStock {
		return Line{}, ErrInsufficientStock
	}

	snap, err := e.batches.Snapshot(ctx, product.ID)
	if err != nil {
		e.degrade(ctx, product, err)
		first, _ := e.cart.FirstLineFor(product.ID)
		return e.bump(first.ID, 1), nil
	}

	next, ok := findNextAvailableBatch(product.ID, snap.Batches, e.cart)
	if !ok {
		if len(snap.Batches) == 0 && snap.Expired > 0 {
			return Line{}, ErrExpiredStock
		}
		if idx, unlinked := e.cart.firstUnlinked(product.ID); unlinked && snap.Fetched == 0 {
			return e.bump(e.cart.lines[idx].ID, 1), nil
		}
		return Line{}, ErrInsufficientStock
	}

	if idx, found := e.cart.lineOnBatch(product.ID, next.BatchNumber); found {
		return e.bump(e.cart.lines[idx].ID, 1), nil
	}
	return e.cart.AddLine(batchLine(product, next, 1)), nil
}

// Change describes what a quantity change did to the cart.
type Change struct {
	Line    Line
	Removed bool
	Split   []Line
}

// ChangeQuantity moves a line's quantity by delta. A result of zero or less
// removes the line. Growth past the line's batch spills onto later batches
// at their own prices; if they cannot absorb it the cart is left untouched.
func (e *Engine) ChangeQuantity(ctx context.Context, lineID string, delta int) (Change, error) {
	change, err := e.changeQuantity(ctx, lineID, delta)
	e.metrics.CartOp("change_quantity", err)
	return change, err
}

// ChangeProductQuantity applies ChangeQuantity to the product's most recent
// line.
func (e *Engine) ChangeProductQuantity(ctx context.Context, productID string, delta int) (Change, error) {
	line, ok := e.cart.FirstLineFor(productID)
	if !ok {
		e.metrics.CartOp("change_quantity", ErrLineNotFound)
		return Change{}, ErrLineNotFound
	}
	return e.ChangeQuantity(ctx, line.ID, delta)
}

func (e *Engine) changeQuantity(ctx context.Context, lineID string, delta int) (Change, error) {
	idx := e.cart.index(lineID)
	if idx < 0 {
		return Change{}, ErrLineNotFound
	}
	line := e.cart.lines[idx]
	if delta == 0 {
		return Change{Line: line.clone()}, nil
	}

	target := line.Quantity + delta
	if target <= 0 {
		e.cart.RemoveLine(lineID)
		return Change{Line: line.clone(), Removed: true}, nil
	}
	if delta < 0 {
		return Change{Line: e.bump(lineID, delta)}, nil
	}

	if e.cart.QuantityFor(line.Product.ID)+delta > line.Product.CurrentStock {
		return Change{}, ErrInsufficientStock
	}

	assigned, linked := line.Batch()
	if !linked {
		return Change{Line: e.bump(lineID, delta)}, nil
	}

	snap, err := e.batches.Snapshot(ctx, line.Product.ID)
	if err != nil {
		e.log.Warn(ctx, "batch lookup failed during quantity change", err)
		snap = domain.BatchSnapshot{ProductID: line.Product.ID}
	}
	if current, ok := batchByNumber(snap.Batches, assigned.BatchNumber); ok {
		assigned = current
	}

	others := e.cart.QuantityOnBatch(line.Product.ID, assigned.BatchNumber) - line.Quantity
	capacity := assigned.CurrentQuantity - others
	if target <= capacity {
		return Change{Line: e.bump(lineID, delta)}, nil
	}

	return e.split(line, target, max(capacity, 0), snap.Batches)
}

// split clamps the line to keep units, plans the spill on a copy of the cart
// and swaps it in only when every overflow unit found a batch. A line whose
// batch has nothing left for it is dropped from the plan.
func (e *Engine) split(line Line, target int, keep int, candidates []domain.Batch) (Change, error) {
	plan := e.cart.Clone()
	if keep > 0 {
		plan.lines[plan.index(line.ID)].setQuantity(keep)
	} else {
		plan.RemoveLine(line.ID)
	}

	productID := line.Product.ID
	remaining := target - keep
	var created []Line
	for remaining > 0 {
		next, ok := findNextAvailableBatch(productID, candidates, plan)
		if !ok {
			return Change{}, ErrInsufficientStock
		}
		take := min(headroom(productID, next, plan), remaining)
		if at, found := plan.lineOnBatch(productID, next.BatchNumber); found {
			plan.lines[at].setQuantity(plan.lines[at].Quantity + take)
			created = append(created, plan.lines[at].clone())
		} else {
			created = append(created, plan.AddLine(batchLine(line.Product, next, take)))
		}
		remaining -= take
	}

	e.cart.lines = plan.lines
	kept, ok := e.cart.Line(line.ID)
	if !ok {
		return Change{Line: line.clone(), Removed: true, Split: created}, nil
	}
	return Change{Line: kept, Split: created}, nil
}

// SetUnitPrice overrides a line's selling price. Prices below a known cost
// are refused and the previous price stays.
func (e *Engine) SetUnitPrice(lineID string, price decimal.Decimal) (Line, error) {
	line, err := e.setUnitPrice(lineID, price)
	e.metrics.CartOp("set_price", err)
	return line, err
}

func (e *Engine) SetProductUnitPrice(productID string, price decimal.Decimal) (Line, error) {
	line, ok := e.cart.FirstLineFor(productID)
	if !ok {
		e.metrics.CartOp("set_price", ErrLineNotFound)
		return Line{}, ErrLineNotFound
	}
	return e.SetUnitPrice(line.ID, price)
}

func (e *Engine) setUnitPrice(lineID string, price decimal.Decimal) (Line, error) {
	idx := e.cart.index(lineID)
	if idx < 0 {
		return Line{}, ErrLineNotFound
	}
	line := &e.cart.lines[idx]
	if price.IsNegative() {
		return Line{}, fmt.Errorf("%w: price cannot be negative", ErrInvalidPrice)
	}
	if line.CostPrice.IsPositive() && price.LessThan(line.CostPrice) {
		return Line{}, fmt.Errorf("%w: %s is below cost %s", ErrInvalidPrice, price.StringFixed(2), line.CostPrice.StringFixed(2))
	}
	line.setUnitPrice(price)
	return line.clone(), nil
}

func (e *Engine) bump(lineID string, delta int) Line {
	idx := e.cart.index(lineID)
	if idx < 0 {
		return Line{}
	}
	line := &e.cart.lines[idx]
	line.setQuantity(line.Quantity + delta)
	return line.clone()
}

func (e *Engine) degrade(ctx context.Context, product domain.Product, err error) {
	e.metrics.BatchFallback()
	ctx = e.log.WithField(ctx, "product_id", product.ID)
	e.log.Warn(ctx, "batch lookup failed, using product pricing", err)
}

func expiryReason(b domain.Batch, days int) string {
	switch days {
	case 0:
		return fmt.Sprintf("batch %s expires today", b.BatchNumber)
	case 1:
		return fmt.Sprintf("batch %s expires tomorrow", b.BatchNumber)
	default:
		return fmt.Sprintf("batch %s expires in %d days", b.BatchNumber, days)
	}
}
