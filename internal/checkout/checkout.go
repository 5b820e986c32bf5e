// Package checkout turns a finished cart into a receipt and submits the
// sale to the inventory backend.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"retailpos/backend/internal/cart"
	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/logger"
	"retailpos/backend/internal/metrics"
	"retailpos/backend/internal/money"
	"retailpos/backend/internal/xid"
)

var (
	ErrEmptyCart                  = errors.New("cart is empty")
	ErrInvalidPaymentMethod       = errors.New("unsupported payment method")
	ErrInsufficientAmountReceived = errors.New("amount received is less than the total")
	ErrPaymentFailed              = errors.New("payment processing failed")
	ErrCheckoutInProgress         = errors.New("checkout already in progress")
)

type SaleProcessor interface {
	ProcessSale(ctx context.Context, req domain.SaleRequest) (*domain.SaleResult, error)
}

// Cart is the read side of a cart that checkout needs.
type Cart interface {
	Lines() []cart.Line
	Subtotal() decimal.Decimal
	Tax() decimal.Decimal
	Total() decimal.Decimal
	TotalItems() int
}

type Request struct {
	Cart           Cart
	PaymentMethod  string
	AmountTendered string
	Customer       *domain.Customer
	Cashier        string
}

// Composer builds receipts. It allows one checkout at a time and never
// touches the cart it is given.
type Composer struct {
	processor  SaleProcessor
	now        func() time.Time
	billNumber func(time.Time) string
	log        *logger.Logger
	metrics    *metrics.Billing
	inFlight   atomic.Bool
}

type Option func(*Composer)

func WithClock(now func() time.Time) Option {
	return func(c *Composer) {
		if now != nil {
			c.now = now
		}
	}
}

func WithBillNumbers(next func(time.Time) string) Option {
	return func(c *Composer) {
		if next != nil {
			c.billNumber = next
		}
	}
}

func WithLogger(log *logger.Logger) Option {
	return func(c *Composer) {
		if log != nil {
			c.log = log
		}
	}
}

func WithMetrics(m *metrics.Billing) Option {
	return func(c *Composer) {
		c.metrics = m
	}
}

func NewComposer(processor SaleProcessor, opts ...Option) *Composer {
	c := &Composer{
		processor:  processor,
		now:        time.Now,
		billNumber: xid.BillNumber,
		log:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Composer) InFlight() bool {
	return c.inFlight.Load()
}

func IsSupportedPaymentMethod(method string) bool {
	switch method {
	case domain.PaymentCash, domain.PaymentCard, domain.PaymentUPI:
		return true
	default:
		return false
	}
}

// Checkout validates the payment, builds the receipt and submits the sale.
// On any error nothing was recorded and the caller may retry with the same
// cart.
func (c *Composer) Checkout(ctx context.Context, req Request) (domain.Receipt, error) {
	if !c.inFlight.CompareAndSwap(false, true) {
		return domain.Receipt{}, ErrCheckoutInProgress
	}
	defer c.inFlight.Store(false)

	start := time.Now()
	receipt, err := c.checkout(ctx, req)
	c.metrics.Checkout(req.PaymentMethod, err, time.Since(start))
	return receipt, err
}

func (c *Composer) checkout(ctx context.Context, req Request) (domain.Receipt, error) {
	if req.Cart == nil {
		return domain.Receipt{}, ErrEmptyCart
	}
	lines := req.Cart.Lines()
	if len(lines) == 0 {
		return domain.Receipt{}, ErrEmptyCart
	}

	method := strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if !IsSupportedPaymentMethod(method) {
		return domain.Receipt{}, fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, req.PaymentMethod)
	}

	total := req.Cart.Total()
	tendered := decimal.Zero
	change := decimal.Zero
	if method == domain.PaymentCash {
		amount, err := money.Parse(req.AmountTendered)
		if err != nil {
			return domain.Receipt{}, fmt.Errorf("%w: %q is not an amount", ErrInsufficientAmountReceived, req.AmountTendered)
		}
		if amount.LessThan(total) {
			return domain.Receipt{}, fmt.Errorf("%w: received %s, total %s", ErrInsufficientAmountReceived, money.Format(amount), money.Format(total))
		}
		tendered = amount
		change = money.Round2(amount.Sub(total))
	}

	issuedAt := c.now()
	receipt := domain.Receipt{
		BillNumber:     c.billNumber(issuedAt),
		IssuedAt:       issuedAt,
		Cashier:        req.Cashier,
		Items:          receiptItems(lines),
		TotalItems:     req.Cart.TotalItems(),
		Subtotal:       req.Cart.Subtotal(),
		Tax:            req.Cart.Tax(),
		Total:          total,
		PaymentMethod:  method,
		AmountTendered: tendered,
		Change:         change,
	}
	if req.Customer != nil {
		customer := *req.Customer
		receipt.Customer = &customer
	}

	submitted := receipt.Clone()
	result, err := c.processor.ProcessSale(ctx, domain.SaleRequest{
		SaleItems:       saleItems(lines),
		ReferenceNumber: receipt.BillNumber,
		ReceiptData:     &submitted,
	})
	if err != nil {
		ctx = c.log.WithField(ctx, "bill_number", receipt.BillNumber)
		c.log.Error(ctx, "sale submission failed", err)
		return domain.Receipt{}, fmt.Errorf("%w: %w", ErrPaymentFailed, err)
	}
	if result == nil || !result.Success {
		return domain.Receipt{}, fmt.Errorf("%w: sale was not accepted", ErrPaymentFailed)
	}

	ctx = c.log.WithField(ctx, "bill_number", receipt.BillNumber)
	c.log.Info(ctx, "sale recorded")
	return receipt, nil
}

func receiptItems(lines []cart.Line) []domain.ReceiptItem {
	items := make([]domain.ReceiptItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, domain.ReceiptItem{
			ProductID:   line.Product.ID,
			ProductName: line.Product.Name,
			SKU:         line.Product.SKU,
			BatchNumber: line.BatchNumber(),
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			TotalPrice:  line.TotalPrice,
			CostPrice:   line.CostPrice,
		})
	}
	return items
}

// saleItems sends one entry per product. The backend picks batches itself.
func saleItems(lines []cart.Line) []domain.SaleItem {
	index := make(map[string]int, len(lines))
	items := make([]domain.SaleItem, 0, len(lines))
	for _, line := range lines {
		if at, ok := index[line.Product.ID]; ok {
			items[at].Quantity += line.Quantity
			continue
		}
		index[line.Product.ID] = len(items)
		items = append(items, domain.SaleItem{ProductID: line.Product.ID, Quantity: line.Quantity})
	}
	return items
}
