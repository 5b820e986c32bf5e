package store

import (
	"context"
	"errors"
	"time"

	"retailpos/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransaction = errors.New("invalid transaction")
)

// Catalog is the read side of the product collaborator.
type Catalog interface {
	GetProductByID(ctx context.Context, productID string) (*domain.Product, error)
	GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error)
	SearchProducts(ctx context.Context, query string, limit int) ([]domain.Product, error)
}

type BatchStore interface {
	GetBatchesByProduct(ctx context.Context, productID string) ([]domain.Batch, error)
	ListBatches(ctx context.Context) ([]domain.Batch, error)
}

type CustomerStore interface {
	FindOrCreateCustomer(ctx context.Context, req domain.CustomerLookupRequest) (*domain.Customer, error)
}

type SaleProcessor interface {
	ProcessSale(ctx context.Context, req domain.SaleRequest) (*domain.SaleResult, error)
}

// Inventory is everything the billing flow needs from the inventory
// backend. It is satisfied by the local stores and by the remote API client.
type Inventory interface {
	Catalog
	BatchStore
	CustomerStore
	SaleProcessor
}

type AuditStore interface {
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, terminalID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type Repository interface {
	Inventory
	AuditStore
	UserStore
}

// Composite serves inventory calls from one backend and audit/user calls
// from another, e.g. a remote inventory API with local accounts.
type Composite struct {
	Inventory
	AuditStore
	UserStore
}

func Compose(inventory Inventory, local interface {
	AuditStore
	UserStore
}) *Composite {
	return &Composite{Inventory: inventory, AuditStore: local, UserStore: local}
}
