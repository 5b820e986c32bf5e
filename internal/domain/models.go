package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	SKU          string          `json:"sku"`
	Barcode      string          `json:"barcode,omitempty"`
	SellingPrice decimal.Decimal `json:"selling_price"`
	CostPrice    decimal.Decimal `json:"cost_price"`
	CurrentStock int             `json:"current_stock"`
}

// Batch is one receipt lot of a product.
type Batch struct {
	ID              string          `json:"id,omitempty"`
	ProductID       string          `json:"product_id"`
	BatchNumber     string          `json:"batch_number"`
	CostPrice       decimal.Decimal `json:"cost_price"`
	SellingPrice    decimal.Decimal `json:"selling_price"`
	CurrentQuantity int             `json:"current_quantity"`
	ExpiryDate      *time.Time      `json:"expiry_date,omitempty"`
	PurchaseDate    time.Time       `json:"purchase_date"`
}

// BatchSnapshot is the filtered, FIFO-ordered view of a product's batches
// taken at FetchedAt. Fetched and Expired count what the source returned
// before filtering.
type BatchSnapshot struct {
	ProductID string    `json:"product_id"`
	Batches   []Batch   `json:"batches"`
	Fetched   int       `json:"fetched"`
	Expired   int       `json:"expired"`
	FetchedAt time.Time `json:"fetched_at"`
}

type Customer struct {
	ID        string    `json:"id"`
	Phone     string    `json:"phone"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type CustomerLookupRequest struct {
	Phone string `json:"phone" validate:"required"`
	Name  string `json:"name,omitempty" validate:"omitempty,max=120"`
}

type SaleItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Notes     string `json:"notes,omitempty"`
}

type SaleRequest struct {
	SaleItems       []SaleItem `json:"sale_items"`
	ReferenceNumber string     `json:"reference_number"`
	ReceiptData     *Receipt   `json:"receipt_data,omitempty"`
}

type SaleResult struct {
	Success   bool      `json:"success"`
	SaleID    string    `json:"sale_id,omitempty"`
	Duplicate bool      `json:"duplicate,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Sale struct {
	ID              string
	ReferenceNumber string
	Items           []SaleItem
	Receipt         *Receipt
	CreatedAt       time.Time
}

type ReceiptItem struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	SKU         string          `json:"sku"`
	BatchNumber string          `json:"batch_number,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	CostPrice   decimal.Decimal `json:"cost_price"`
}

// Receipt is the immutable record of a completed sale.
type Receipt struct {
	BillNumber     string          `json:"bill_number"`
	IssuedAt       time.Time       `json:"issued_at"`
	Cashier        string          `json:"cashier"`
	Customer       *Customer       `json:"customer,omitempty"`
	Items          []ReceiptItem   `json:"items"`
	TotalItems     int             `json:"total_items"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Tax            decimal.Decimal `json:"tax"`
	Total          decimal.Decimal `json:"total"`
	PaymentMethod  string          `json:"payment_method"`
	AmountTendered decimal.Decimal `json:"amount_tendered"`
	Change         decimal.Decimal `json:"change"`
}

// Clone returns a deep copy so holders never share item slices.
func (r Receipt) Clone() Receipt {
	dup := r
	dup.Items = make([]ReceiptItem, len(r.Items))
	copy(dup.Items, r.Items)
	if r.Customer != nil {
		c := *r.Customer
		dup.Customer = &c
	}
	return dup
}

type ExpiryRisk struct {
	ProductID       string          `json:"product_id"`
	ProductName     string          `json:"product_name"`
	BatchNumber     string          `json:"batch_number"`
	CurrentQuantity int             `json:"current_quantity"`
	CostPrice       decimal.Decimal `json:"cost_price"`
	ExpiryDate      time.Time       `json:"expiry_date"`
	DaysToExpiry    int             `json:"days_to_expiry"`
	Expired         bool            `json:"expired"`
	ValueAtRisk     decimal.Decimal `json:"value_at_risk"`
}

type ValueAtRiskReport struct {
	WithinDays  int             `json:"within_days"`
	GeneratedAt time.Time       `json:"generated_at"`
	Batches     []ExpiryRisk    `json:"batches"`
	Total       decimal.Decimal `json:"total"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	TerminalID    string    `json:"terminal_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

// Billing session requests.

type OpenSessionRequest struct {
	TerminalID string `json:"terminal_id" validate:"required,max=64"`
}

type ScanRequest struct {
	Barcode string `json:"barcode" validate:"required,max=64"`
}

type AddItemRequest struct {
	ProductID string `json:"product_id" validate:"required"`
}

type ConfirmationRequest struct {
	Decision string `json:"decision" validate:"required,oneof=proceed cancel"`
}

type QuantityChangeRequest struct {
	Delta int `json:"delta" validate:"required"`
}

type PriceOverrideRequest struct {
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type PaymentSelectionRequest struct {
	PaymentMethod string `json:"payment_method" validate:"required,oneof=cash card upi"`
}

// SessionCustomerRequest attaches a customer by mobile number. An empty
// phone detaches the current one.
type SessionCustomerRequest struct {
	Phone string `json:"phone" validate:"max=20"`
	Name  string `json:"name,omitempty" validate:"max=120"`
}

type CheckoutRequest struct {
	PaymentMethod  string `json:"payment_method" validate:"omitempty,oneof=cash card upi"`
	AmountTendered string `json:"amount_tendered,omitempty" validate:"max=32"`
}

const (
	PaymentCash = "cash"
	PaymentCard = "card"
	PaymentUPI  = "upi"
)

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)
