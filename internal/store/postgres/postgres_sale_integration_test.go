package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("POS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set POS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestProcessSaleDrawsBatchesOldestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	productID := fmt.Sprintf("prod-it-%d", stamp)
	reference := fmt.Sprintf("BILL-IT-%d", stamp)
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE reference_number = $1`, reference)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	})

	require.NoError(t, s.UpsertProduct(ctx, domain.Product{
		ID:           productID,
		Name:         "Integration Tablet",
		SKU:          "SKU-" + productID,
		SellingPrice: decimal.RequireFromString("18"),
		CostPrice:    decimal.RequireFromString("12"),
		CurrentStock: 9,
	}))

	now := time.Now().UTC()
	expired := now.AddDate(0, 0, -2)
	fresh := now.AddDate(0, 3, 0)
	for _, b := range []domain.Batch{
		{ProductID: productID, BatchNumber: "IT-0", CurrentQuantity: 2, ExpiryDate: &expired, PurchaseDate: now.AddDate(0, -3, 0), CostPrice: decimal.RequireFromString("9")},
		{ProductID: productID, BatchNumber: "IT-1", CurrentQuantity: 3, ExpiryDate: &fresh, PurchaseDate: now.AddDate(0, -2, 0), CostPrice: decimal.RequireFromString("10")},
		{ProductID: productID, BatchNumber: "IT-2", CurrentQuantity: 4, ExpiryDate: &fresh, PurchaseDate: now.AddDate(0, -1, 0), CostPrice: decimal.RequireFromString("12")},
	} {
		require.NoError(t, s.UpsertBatch(ctx, b))
	}

	req := domain.SaleRequest{
		ReferenceNumber: reference,
		SaleItems:       []domain.SaleItem{{ProductID: productID, Quantity: 5}},
		ReceiptData:     &domain.Receipt{BillNumber: reference, Total: decimal.RequireFromString("90")},
	}
	result, err := s.ProcessSale(ctx, req)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.False(t, result.Duplicate)

	batches, err := s.GetBatchesByProduct(ctx, productID)
	require.NoError(t, err)
	require.Len(t, batches, 3)
	assert.Equal(t, 2, batches[0].CurrentQuantity, "expired batch is never drawn")
	assert.Equal(t, 0, batches[1].CurrentQuantity)
	assert.Equal(t, 2, batches[2].CurrentQuantity)

	product, err := s.GetProductByID(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 4, product.CurrentStock)

	again, err := s.ProcessSale(ctx, req)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, result.SaleID, again.SaleID)

	product, err = s.GetProductByID(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 4, product.CurrentStock, "replayed reference must not draw stock twice")

	_, err = s.ProcessSale(ctx, domain.SaleRequest{
		ReferenceNumber: reference + "-big",
		SaleItems:       []domain.SaleItem{{ProductID: productID, Quantity: 3}},
	})
	assert.ErrorIs(t, err, store.ErrInsufficientStock)
}

func TestFindOrCreateCustomerKeepsKnownName(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	phone := fmt.Sprintf("9%09d", time.Now().UnixNano()%1_000_000_000)
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM customers WHERE phone = $1`, phone)
	})

	first, err := s.FindOrCreateCustomer(ctx, domain.CustomerLookupRequest{Phone: phone})
	require.NoError(t, err)
	assert.Empty(t, first.Name)

	named, err := s.FindOrCreateCustomer(ctx, domain.CustomerLookupRequest{Phone: phone, Name: "Asha"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, named.ID)
	assert.Equal(t, "Asha", named.Name)

	renamed, err := s.FindOrCreateCustomer(ctx, domain.CustomerLookupRequest{Phone: phone, Name: "Other"})
	require.NoError(t, err)
	assert.Equal(t, "Asha", renamed.Name)
}
