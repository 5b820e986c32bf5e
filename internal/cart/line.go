package cart

import (
	"time"

	"github.com/shopspring/decimal"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/money"
)

// Allocation says where a line's units come from: a specific batch, or the
// product's own pricing when batch data was unavailable.
type Allocation interface {
	isAllocation()
}

type BatchLinked struct {
	Batch domain.Batch
}

type Unlinked struct {
	FallbackCost  decimal.Decimal
	FallbackPrice decimal.Decimal
}

func (BatchLinked) isAllocation() {}
func (Unlinked) isAllocation()    {}

// Line is one row of the cart. TotalPrice is always round2(Quantity x UnitPrice).
type Line struct {
	ID         string
	Product    domain.Product
	Source     Allocation
	Quantity   int
	UnitPrice  decimal.Decimal
	CostPrice  decimal.Decimal
	TotalPrice decimal.Decimal
}

func batchLine(product domain.Product, b domain.Batch, qty int) Line {
	line := Line{
		Product:   product,
		Source:    BatchLinked{Batch: b},
		UnitPrice: money.Round2(b.SellingPrice),
		CostPrice: money.Round2(b.CostPrice),
	}
	line.setQuantity(qty)
	return line
}

func unlinkedLine(product domain.Product, qty int) Line {
	price := money.Round2(product.SellingPrice)
	cost := money.Round2(product.CostPrice)
	line := Line{
		Product:   product,
		Source:    Unlinked{FallbackCost: cost, FallbackPrice: price},
		UnitPrice: price,
		CostPrice: cost,
	}
	line.setQuantity(qty)
	return line
}

func (l *Line) setQuantity(qty int) {
	l.Quantity = qty
	l.TotalPrice = money.LineTotal(l.UnitPrice, qty)
}

func (l *Line) setUnitPrice(price decimal.Decimal) {
	l.UnitPrice = money.Round2(price)
	l.TotalPrice = money.LineTotal(l.UnitPrice, l.Quantity)
}

// Batch returns the line's batch when it is batch-linked.
func (l Line) Batch() (domain.Batch, bool) {
	linked, ok := l.Source.(BatchLinked)
	if !ok {
		return domain.Batch{}, false
	}
	return linked.Batch, true
}

func (l Line) BatchNumber() string {
	b, ok := l.Batch()
	if !ok {
		return ""
	}
	return b.BatchNumber
}

func (l Line) clone() Line {
	if linked, ok := l.Source.(BatchLinked); ok && linked.Batch.ExpiryDate != nil {
		expiry := *linked.Batch.ExpiryDate
		linked.Batch.ExpiryDate = &expiry
		l.Source = linked
	}
	return l
}

// LineView is the wire shape of a line.
type LineView struct {
	ID          string          `json:"id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	SKU         string          `json:"sku"`
	BatchLinked bool            `json:"batch_linked"`
	BatchNumber string          `json:"batch_number,omitempty"`
	ExpiryDate  *time.Time      `json:"expiry_date,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	CostPrice   decimal.Decimal `json:"cost_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
}

func (l Line) View() LineView {
	view := LineView{
		ID:          l.ID,
		ProductID:   l.Product.ID,
		ProductName: l.Product.Name,
		SKU:         l.Product.SKU,
		Quantity:    l.Quantity,
		UnitPrice:   l.UnitPrice,
		CostPrice:   l.CostPrice,
		TotalPrice:  l.TotalPrice,
	}
	if b, ok := l.Batch(); ok {
		view.BatchLinked = true
		view.BatchNumber = b.BatchNumber
		view.ExpiryDate = b.ExpiryDate
	}
	return view
}
