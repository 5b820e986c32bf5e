package billing

import (
	"time"

	"github.com/shopspring/decimal"

	"retailpos/backend/internal/cart"
	"retailpos/backend/internal/domain"
)

// View is what the client renders after every operation.
type View struct {
	ID               string           `json:"id"`
	TerminalID       string           `json:"terminal_id"`
	Lines            []cart.LineView  `json:"lines"`
	TotalItems       int              `json:"total_items"`
	Subtotal         decimal.Decimal  `json:"subtotal"`
	Tax              decimal.Decimal  `json:"tax"`
	Total            decimal.Decimal  `json:"total"`
	PaymentMethod    string           `json:"payment_method,omitempty"`
	Customer         *domain.Customer `json:"customer,omitempty"`
	Pending          *PendingView     `json:"pending_confirmation,omitempty"`
	LastBillNumber   string           `json:"last_bill_number,omitempty"`
	Settled          bool             `json:"settled"`
	CheckoutInFlight bool             `json:"checkout_in_flight"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

type PendingView struct {
	Reason       string     `json:"reason"`
	ProductID    string     `json:"product_id"`
	ProductName  string     `json:"product_name"`
	BatchNumber  string     `json:"batch_number"`
	ExpiryDate   *time.Time `json:"expiry_date,omitempty"`
	DaysToExpiry int        `json:"days_to_expiry"`
}

func (s *Session) viewLocked() View {
	c := s.engine.Cart()
	lines := c.Lines()
	views := make([]cart.LineView, 0, len(lines))
	for _, line := range lines {
		views = append(views, line.View())
	}

	view := View{
		ID:               s.id,
		TerminalID:       s.terminalID,
		Lines:            views,
		TotalItems:       c.TotalItems(),
		Subtotal:         c.Subtotal(),
		Tax:              c.Tax(),
		Total:            c.Total(),
		PaymentMethod:    s.paymentMethod,
		Settled:          s.settled,
		CheckoutInFlight: s.composer.InFlight(),
		CreatedAt:        s.createdAt,
		UpdatedAt:        s.updatedAt,
	}
	if s.customer != nil {
		customer := *s.customer
		view.Customer = &customer
	}
	if s.receipt != nil {
		view.LastBillNumber = s.receipt.BillNumber
	}
	if p := s.pending; p != nil {
		view.Pending = &PendingView{
			Reason:       p.Reason,
			ProductID:    p.Product.ID,
			ProductName:  p.Product.Name,
			BatchNumber:  p.Batch.BatchNumber,
			ExpiryDate:   p.Batch.ExpiryDate,
			DaysToExpiry: p.DaysToExpiry,
		}
	}
	return view
}
