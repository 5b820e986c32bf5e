// Package cart holds the in-progress sale and the FIFO rules that decide
// which batch each unit is taken from.
package cart

import (
	"github.com/shopspring/decimal"

	"retailpos/backend/internal/money"
	"retailpos/backend/internal/xid"
)

// Cart is an ordered list of lines, most recently added first. Totals are
// derived from the lines on every call. A Cart is not safe for concurrent
// use.
type Cart struct {
	lines []Line
}

func New() *Cart {
	return &Cart{}
}

// AddLine prepends the line, assigning an id when it has none.
func (c *Cart) AddLine(line Line) Line {
	if line.ID == "" {
		line.ID = xid.New("line")
	}
	c.lines = append([]Line{line.clone()}, c.lines...)
	return line
}

// RemoveProduct drops every line for the product and reports how many went.
func (c *Cart) RemoveProduct(productID string) int {
	kept := c.lines[:0]
	removed := 0
	for _, line := range c.lines {
		if line.Product.ID == productID {
			removed++
			continue
		}
		kept = append(kept, line)
	}
	clear(c.lines[len(kept):])
	c.lines = kept
	return removed
}

func (c *Cart) RemoveLine(lineID string) bool {
	idx := c.index(lineID)
	if idx < 0 {
		return false
	}
	c.lines = append(c.lines[:idx], c.lines[idx+1:]...)
	return true
}

func (c *Cart) Clear() {
	c.lines = nil
}

func (c *Cart) Len() int {
	return len(c.lines)
}

func (c *Cart) IsEmpty() bool {
	return len(c.lines) == 0
}

// Lines returns copies of the lines in display order.
func (c *Cart) Lines() []Line {
	out := make([]Line, len(c.lines))
	for i, line := range c.lines {
		out[i] = line.clone()
	}
	return out
}

func (c *Cart) Line(lineID string) (Line, bool) {
	idx := c.index(lineID)
	if idx < 0 {
		return Line{}, false
	}
	return c.lines[idx].clone(), true
}

// FirstLineFor returns the most recently added line for the product.
func (c *Cart) FirstLineFor(productID string) (Line, bool) {
	for _, line := range c.lines {
		if line.Product.ID == productID {
			return line.clone(), true
		}
	}
	return Line{}, false
}

func (c *Cart) Subtotal() decimal.Decimal {
	totals := make([]decimal.Decimal, 0, len(c.lines))
	for _, line := range c.lines {
		totals = append(totals, line.TotalPrice)
	}
	return money.Sum(totals...)
}

// Tax is fixed at zero.
func (c *Cart) Tax() decimal.Decimal {
	return decimal.Zero
}

func (c *Cart) Total() decimal.Decimal {
	return money.Round2(c.Subtotal().Add(c.Tax()))
}

func (c *Cart) TotalItems() int {
	total := 0
	for _, line := range c.lines {
		total += line.Quantity
	}
	return total
}

func (c *Cart) QuantityFor(productID string) int {
	total := 0
	for _, line := range c.lines {
		if line.Product.ID == productID {
			total += line.Quantity
		}
	}
	return total
}

// QuantityOnBatch sums the quantities of the product's lines drawing from
// the batch.
func (c *Cart) QuantityOnBatch(productID string, batchNumber string) int {
	total := 0
	for _, line := range c.lines {
		if line.Product.ID == productID && line.BatchNumber() == batchNumber && batchNumber != "" {
			total += line.Quantity
		}
	}
	return total
}

// Clone returns an independent copy used to plan multi-line changes.
func (c *Cart) Clone() *Cart {
	return &Cart{lines: c.Lines()}
}

func (c *Cart) index(lineID string) int {
	for i, line := range c.lines {
		if line.ID == lineID {
			return i
		}
	}
	return -1
}

func (c *Cart) lineOnBatch(productID string, batchNumber string) (int, bool) {
	for i, line := range c.lines {
		if line.Product.ID == productID && line.BatchNumber() == batchNumber {
			return i, true
		}
	}
	return -1, false
}

func (c *Cart) firstUnlinked(productID string) (int, bool) {
	for i, line := range c.lines {
		if line.Product.ID != productID {
			continue
		}
		if _, ok := line.Source.(Unlinked); ok {
			return i, true
		}
	}
	return -1, false
}
