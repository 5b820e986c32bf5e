package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"retailpos/backend/internal/batch"
	"retailpos/backend/internal/cart"
	"retailpos/backend/internal/checkout"
	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/money"
	"retailpos/backend/internal/store"
)

// Session is one terminal's in-progress sale. Cart operations hold mu for
// their whole duration, including awaited batch lookups, so requests from
// the same terminal apply one at a time.
type Session struct {
	id         string
	terminalID string
	svc        *Service
	createdAt  time.Time

	mu            sync.Mutex
	engine        *cart.Engine
	snapshots     *batch.Snapshots
	composer      *checkout.Composer
	customer      *domain.Customer
	paymentMethod string
	receipt       *domain.Receipt
	pending       *cart.Pending
	settled       bool
	resetGen      uint64
	resetTimer    *time.Timer
	updatedAt     time.Time

	searchMu     sync.Mutex
	searchSeq    uint64
	searchCancel context.CancelFunc
}

func newSession(svc *Service, id string, terminalID string) *Session {
	snapshots := svc.adapter.Scoped(svc.cache, id, svc.cfg.BatchCacheTTL)
	now := svc.now()
	return &Session{
		id:         id,
		terminalID: terminalID,
		svc:        svc,
		createdAt:  now,
		updatedAt:  now,
		snapshots:  snapshots,
		engine: cart.NewEngine(snapshots,
			cart.WithExpiryWarningDays(svc.cfg.ExpiryWarningDays),
			cart.WithLogger(svc.log),
			cart.WithMetrics(svc.metrics),
		),
		composer: checkout.NewComposer(svc.repo,
			checkout.WithClock(svc.now),
			checkout.WithLogger(svc.log),
			checkout.WithMetrics(svc.metrics),
		),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) TerminalID() string {
	return s.terminalID
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// ScanBarcode looks the barcode up and adds one unit of the product.
func (s *Session) ScanBarcode(ctx context.Context, barcode string) (View, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return View{}, fmt.Errorf("%w: empty barcode", store.ErrNotFound)
	}
	return s.add(ctx, func(ctx context.Context) (*domain.Product, error) {
		return s.svc.repo.GetProductByBarcode(ctx, barcode)
	})
}

// AddProduct adds one unit of a product picked from search results.
func (s *Session) AddProduct(ctx context.Context, productID string) (View, error) {
	return s.add(ctx, func(ctx context.Context) (*domain.Product, error) {
		return s.svc.repo.GetProductByID(ctx, productID)
	})
}

func (s *Session) add(ctx context.Context, lookup func(context.Context) (*domain.Product, error)) (View, error) {
	ctx = s.logContext(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.prepareLocked(); err != nil {
		return View{}, err
	}

	cctx, cancel := s.svc.bounded(ctx)
	defer cancel()

	product, err := lookup(cctx)
	if err != nil {
		return View{}, fmt.Errorf("lookup product: %w", err)
	}

	out, err := s.engine.AddUnit(cctx, *product)
	if err != nil {
		return View{}, err
	}
	if out.NeedsConfirmation() {
		s.pending = out.Pending
		s.svc.log.Info(ctx, "add held for expiry confirmation")
	}
	s.touchLocked()
	return s.viewLocked(), nil
}

// ConfirmPending commits the add that was held for confirmation.
func (s *Session) ConfirmPending(ctx context.Context) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil {
		return View{}, ErrNoPendingConfirmation
	}
	pending := s.pending
	s.pending = nil

	cctx, cancel := s.svc.bounded(s.logContext(ctx))
	defer cancel()
	if _, err := pending.Proceed(cctx); err != nil {
		return View{}, err
	}
	s.touchLocked()
	return s.viewLocked(), nil
}

func (s *Session) CancelPending(_ context.Context) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil {
		return View{}, ErrNoPendingConfirmation
	}
	s.pending.Cancel()
	s.pending = nil
	s.touchLocked()
	return s.viewLocked(), nil
}

func (s *Session) ChangeQuantity(ctx context.Context, lineID string, delta int) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.prepareLocked(); err != nil {
		return View{}, err
	}

	cctx, cancel := s.svc.bounded(s.logContext(ctx))
	defer cancel()
	if _, err := s.engine.ChangeQuantity(cctx, lineID, delta); err != nil {
		return View{}, err
	}
	s.touchLocked()
	return s.viewLocked(), nil
}

// SetUnitPrice applies a cashier price override and records it in the
// audit log.
func (s *Session) SetUnitPrice(ctx context.Context, lineID string, price decimal.Decimal) (View, error) {
	ctx = s.logContext(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.prepareLocked(); err != nil {
		return View{}, err
	}

	before, ok := s.engine.Cart().Line(lineID)
	if !ok {
		return View{}, cart.ErrLineNotFound
	}
	line, err := s.engine.SetUnitPrice(lineID, price)
	if err != nil {
		return View{}, err
	}
	s.svc.logAudit(ctx, s.terminalID, "price_override", "cart_line", line.ID,
		fmt.Sprintf("product=%s from=%s to=%s", line.Product.ID, money.Format(before.UnitPrice), money.Format(line.UnitPrice)))
	s.touchLocked()
	return s.viewLocked(), nil
}

// RemoveProduct drops every line of the product.
func (s *Session) RemoveProduct(_ context.Context, productID string) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.prepareLocked(); err != nil {
		return View{}, err
	}
	if s.engine.Cart().RemoveProduct(productID) == 0 {
		return View{}, cart.ErrLineNotFound
	}
	s.touchLocked()
	return s.viewLocked(), nil
}

// Clear empties the cart and forgets every batch snapshot.
func (s *Session) Clear(ctx context.Context) (View, error) {
	ctx = s.logContext(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.flushResetLocked()
	if s.pending != nil {
		s.pending.Cancel()
		s.pending = nil
	}
	items := s.engine.Cart().TotalItems()
	s.engine.Cart().Clear()
	s.invalidateLocked(ctx)
	if items > 0 {
		s.svc.logAudit(ctx, s.terminalID, "cart_clear", "session", s.id, fmt.Sprintf("items=%d", items))
	}
	s.touchLocked()
	return s.viewLocked(), nil
}

// SetCustomer attaches the customer with this phone, creating the record if
// needed. An empty phone detaches the current customer.
func (s *Session) SetCustomer(ctx context.Context, phone string, name string) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.prepareLocked(); err != nil {
		return View{}, err
	}
	if strings.TrimSpace(phone) == "" {
		s.customer = nil
		s.touchLocked()
		return s.viewLocked(), nil
	}

	cctx, cancel := s.svc.bounded(s.logContext(ctx))
	defer cancel()
	found, err := s.svc.customers.FindOrCreate(cctx, phone, name)
	if err != nil {
		return View{}, err
	}
	s.customer = &found
	s.touchLocked()
	return s.viewLocked(), nil
}

func (s *Session) SetPaymentMethod(_ context.Context, method string) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.prepareLocked(); err != nil {
		return View{}, err
	}
	method = strings.ToLower(strings.TrimSpace(method))
	if !checkout.IsSupportedPaymentMethod(method) {
		return View{}, fmt.Errorf("%w: %q", checkout.ErrInvalidPaymentMethod, method)
	}
	s.paymentMethod = method
	s.touchLocked()
	return s.viewLocked(), nil
}

// Checkout submits the sale. The cart, customer and payment method are
// reset ResetDelay after success; the receipt stays available. On failure
// nothing changes and the operator may retry.
func (s *Session) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.Receipt, error) {
	if s.composer.InFlight() {
		return domain.Receipt{}, checkout.ErrCheckoutInProgress
	}

	ctx = s.logContext(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.settled {
		return domain.Receipt{}, ErrSessionSettled
	}
	if s.pending != nil {
		return domain.Receipt{}, ErrConfirmationPending
	}

	method := strings.TrimSpace(req.PaymentMethod)
	if method == "" {
		method = s.paymentMethod
	}
	cashier := "system"
	if actor, ok := ActorFromContext(ctx); ok {
		cashier = actor.Username
	}

	cctx, cancel := s.svc.bounded(ctx)
	defer cancel()
	receipt, err := s.composer.Checkout(cctx, checkout.Request{
		Cart:           s.engine.Cart(),
		PaymentMethod:  method,
		AmountTendered: req.AmountTendered,
		Customer:       s.customer,
		Cashier:        cashier,
	})
	if err != nil {
		return domain.Receipt{}, err
	}

	s.receipt = &receipt
	s.paymentMethod = receipt.PaymentMethod
	s.settled = true
	s.invalidateLocked(ctx)
	s.svc.logAudit(ctx, s.terminalID, "checkout", "sale", receipt.BillNumber,
		fmt.Sprintf("total=%s method=%s items=%d", receipt.Total.StringFixed(2), receipt.PaymentMethod, receipt.TotalItems))
	s.scheduleResetLocked()
	s.touchLocked()
	return receipt.Clone(), nil
}

func (s *Session) LastReceipt(_ context.Context) (domain.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.receipt == nil {
		return domain.Receipt{}, ErrNoReceipt
	}
	return s.receipt.Clone(), nil
}

// RefreshBatches drops the cached batch lists and refetches them for the
// products already in the cart. Existing lines keep their batches.
func (s *Session) RefreshBatches(ctx context.Context) (View, error) {
	ctx = s.logContext(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.flushResetLocked()
	s.invalidateLocked(ctx)

	cctx, cancel := s.svc.bounded(ctx)
	defer cancel()
	seen := make(map[string]struct{})
	for _, line := range s.engine.Cart().Lines() {
		if _, ok := seen[line.Product.ID]; ok {
			continue
		}
		seen[line.Product.ID] = struct{}{}
		if _, err := s.snapshots.Refresh(cctx, line.Product.ID); err != nil {
			s.svc.log.Warn(s.svc.log.WithField(ctx, "product_id", line.Product.ID), "batch refresh failed", err)
		}
	}
	s.touchLocked()
	return s.viewLocked(), nil
}

// SearchProducts runs a catalogue search. Starting a new search cancels the
// one still running on this session, whose caller gets ErrSearchSuperseded.
func (s *Session) SearchProducts(ctx context.Context, query string, limit int) ([]domain.Product, error) {
	if limit < 1 {
		limit = defaultSearchLimit
	}

	s.searchMu.Lock()
	if s.searchCancel != nil {
		s.searchCancel()
	}
	s.searchSeq++
	seq := s.searchSeq
	sctx, cancel := s.svc.bounded(ctx)
	s.searchCancel = cancel
	s.searchMu.Unlock()

	defer func() {
		s.searchMu.Lock()
		if s.searchSeq == seq {
			s.searchCancel = nil
		}
		s.searchMu.Unlock()
		cancel()
	}()

	products, err := s.svc.repo.SearchProducts(sctx, strings.TrimSpace(query), limit)

	s.searchMu.Lock()
	superseded := s.searchSeq != seq
	s.searchMu.Unlock()
	if superseded {
		return nil, ErrSearchSuperseded
	}
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() == nil {
			return nil, ErrSearchSuperseded
		}
		return nil, fmt.Errorf("search products: %w", err)
	}
	return products, nil
}

// prepareLocked applies a pending post-checkout reset early and refuses
// cart edits while a confirmation is open.
func (s *Session) prepareLocked() error {
	s.flushResetLocked()
	if s.pending != nil {
		return ErrConfirmationPending
	}
	return nil
}

func (s *Session) scheduleResetLocked() {
	s.resetGen++
	gen := s.resetGen
	delay := s.svc.cfg.ResetDelay
	if delay <= 0 {
		s.resetLocked()
		return
	}
	s.resetTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.resetGen == gen {
			s.resetLocked()
		}
	})
}

func (s *Session) flushResetLocked() {
	if !s.settled {
		return
	}
	if s.resetTimer != nil {
		s.resetTimer.Stop()
	}
	s.resetLocked()
}

func (s *Session) resetLocked() {
	if !s.settled {
		return
	}
	s.engine.Cart().Clear()
	s.customer = nil
	s.paymentMethod = ""
	s.settled = false
	s.resetTimer = nil
	s.resetGen++
	s.updatedAt = s.svc.now()
}

func (s *Session) invalidateLocked(ctx context.Context) {
	if err := s.snapshots.Invalidate(ctx); err != nil {
		s.svc.log.Warn(ctx, "batch cache invalidation failed", err)
	}
}

func (s *Session) touchLocked() {
	s.updatedAt = s.svc.now()
}

func (s *Session) logContext(ctx context.Context) context.Context {
	return s.svc.log.WithSessionID(ctx, s.id)
}
