package store

import (
	"context"
	"testing"
	"time"

	"retailpos/backend/internal/domain"
)

type inventoryStub struct {
	Inventory
}

func (inventoryStub) GetProductByID(_ context.Context, productID string) (*domain.Product, error) {
	return &domain.Product{ID: productID, Name: "remote"}, nil
}

type localStub struct {
	AuditStore
	UserStore
	entries []domain.AuditLog
}

func (l *localStub) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	l.entries = append(l.entries, entry)
	return nil
}

func TestComposeRoutesCalls(t *testing.T) {
	local := &localStub{}
	var repo Repository = Compose(inventoryStub{}, local)

	product, err := repo.GetProductByID(context.Background(), "p1")
	if err != nil || product.Name != "remote" {
		t.Fatalf("expected remote product, got %+v (%v)", product, err)
	}
	if err := repo.CreateAuditLog(context.Background(), domain.AuditLog{Action: "checkout", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("audit log: %v", err)
	}
	if len(local.entries) != 1 {
		t.Fatalf("expected audit entry on local store, got %d", len(local.entries))
	}
}
