package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"retailpos/backend/internal/batch"
	"retailpos/backend/internal/config"
	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

type Store struct {
	mu                 sync.RWMutex
	now                func() time.Time
	loc                *time.Location
	products           map[string]domain.Product
	productByBarcode   map[string]string
	batchesByProduct   map[string][]domain.Batch
	customersByPhone   map[string]domain.Customer
	salesByReference   map[string]domain.Sale
	auditLogs          []domain.AuditLog
	usersByUsername    map[string]domain.UserAccount
	defaultCredentials bool
}

type Option func(*Store)

// WithClock fixes the store's notion of now. Seed dates are relative to it.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocation sets the zone whose calendar day decides batch expiry.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		now:              time.Now,
		loc:              time.UTC,
		products:         make(map[string]domain.Product),
		productByBarcode: make(map[string]string),
		batchesByProduct: make(map[string][]domain.Batch),
		customersByPhone: make(map[string]domain.Customer),
		salesByReference: make(map[string]domain.Sale),
		auditLogs:        make([]domain.AuditLog, 0, 128),
		usersByUsername:  make(map[string]domain.UserAccount),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD;
// the second return value reports whether a hardcoded default was used.
func seedUsers(now time.Time) (map[string]domain.UserAccount, bool, error) {
	usedDefault := false
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		fallback string
		role     string
	}{
		{"admin", "admin123", domain.RoleAdmin},
		{"cashier", "cashier123", domain.RoleCashier},
	} {
		password := config.SeedPassword(u.username, "")
		if password == "" {
			password = u.fallback
			usedDefault = true
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, false, fmt.Errorf("hash seed password for %s: %w", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users, usedDefault, nil
}

// DemoCatalogue is the demo product list with batch history, dated relative
// to today. Paracetamol splits across two batches, milk expires soon, curd
// has only an expired batch and bread is sold out.
func DemoCatalogue(today time.Time) ([]domain.Product, []domain.Batch) {
	days := func(n int) *time.Time {
		d := today.AddDate(0, 0, n)
		return &d
	}
	price := decimal.RequireFromString

	products := []domain.Product{
		{ID: "prd-paracetamol", Name: "Paracetamol 500mg Strip", SKU: "MED-PARA-500", Barcode: "8901030865012", SellingPrice: price("18.00"), CostPrice: price("12.00"), CurrentStock: 7},
		{ID: "prd-milk", Name: "Toned Milk 500ml", SKU: "DAIRY-MILK-500", Barcode: "8901262010016", SellingPrice: price("27.00"), CostPrice: price("24.00"), CurrentStock: 30},
		{ID: "prd-rice", Name: "Basmati Rice 1kg", SKU: "GROC-RICE-1K", Barcode: "8904004400212", SellingPrice: price("129.00"), CostPrice: price("98.00"), CurrentStock: 40},
		{ID: "prd-tea", Name: "Assam Tea 250g", SKU: "BEV-TEA-250", Barcode: "8901725121020", SellingPrice: price("145.50"), CostPrice: price("110.25"), CurrentStock: 25},
		{ID: "prd-curd", Name: "Fresh Curd 400g", SKU: "DAIRY-CURD-400", Barcode: "8901262030014", SellingPrice: price("35.00"), CostPrice: price("29.00"), CurrentStock: 6},
		{ID: "prd-soap", Name: "Neem Bath Soap 100g", SKU: "HH-SOAP-NEEM", Barcode: "8901138511432", SellingPrice: price("42.00"), CostPrice: price("31.50"), CurrentStock: 50},
		{ID: "prd-bread", Name: "Whole Wheat Bread", SKU: "BAK-BREAD-WW", Barcode: "8906009230018", SellingPrice: price("45.00"), CostPrice: price("36.00"), CurrentStock: 0},
	}
	batches := []domain.Batch{
		{ProductID: "prd-paracetamol", BatchNumber: "PCM-2401", CostPrice: price("10.00"), SellingPrice: price("15.00"), CurrentQuantity: 2, PurchaseDate: today.AddDate(0, -3, 0), ExpiryDate: days(300)},
		{ProductID: "prd-paracetamol", BatchNumber: "PCM-2402", CostPrice: price("12.00"), SellingPrice: price("18.00"), CurrentQuantity: 5, PurchaseDate: today.AddDate(0, -1, 0), ExpiryDate: days(420)},
		{ProductID: "prd-milk", BatchNumber: "MLK-A", CostPrice: price("23.50"), SellingPrice: price("27.00"), CurrentQuantity: 10, PurchaseDate: today.AddDate(0, 0, -3), ExpiryDate: days(2)},
		{ProductID: "prd-milk", BatchNumber: "MLK-B", CostPrice: price("24.00"), SellingPrice: price("27.00"), CurrentQuantity: 20, PurchaseDate: today.AddDate(0, 0, -1), ExpiryDate: days(6)},
		{ProductID: "prd-rice", BatchNumber: "RICE-OLD", CostPrice: price("95.00"), SellingPrice: price("125.00"), CurrentQuantity: 15, PurchaseDate: today.AddDate(0, -2, 0)},
		{ProductID: "prd-rice", BatchNumber: "RICE-NEW", CostPrice: price("98.00"), SellingPrice: price("129.00"), CurrentQuantity: 25, PurchaseDate: today.AddDate(0, 0, -10)},
		{ProductID: "prd-tea", BatchNumber: "TEA-0925", CostPrice: price("110.25"), SellingPrice: price("145.50"), CurrentQuantity: 25, PurchaseDate: today.AddDate(0, -1, 0), ExpiryDate: days(200)},
		{ProductID: "prd-curd", BatchNumber: "CRD-11", CostPrice: price("29.00"), SellingPrice: price("35.00"), CurrentQuantity: 6, PurchaseDate: today.AddDate(0, 0, -9), ExpiryDate: days(-1)},
		{ProductID: "prd-bread", BatchNumber: "BRD-07", CostPrice: price("36.00"), SellingPrice: price("45.00"), CurrentQuantity: 0, PurchaseDate: today.AddDate(0, 0, -4), ExpiryDate: days(1)},
	}
	return products, batches
}

// NewSeeded returns a store holding the demo catalogue, a demo customer and
// the admin/cashier accounts.
func NewSeeded(opts ...Option) (*Store, error) {
	s := New(opts...)
	now := s.now().UTC()
	products, batches := DemoCatalogue(batch.StartOfDay(now, s.loc))

	for _, p := range products {
		s.products[p.ID] = p
		if p.Barcode != "" {
			s.productByBarcode[p.Barcode] = p.ID
		}
	}
	for _, b := range batches {
		b.ID = xid.New("batch")
		s.batchesByProduct[b.ProductID] = append(s.batchesByProduct[b.ProductID], b)
	}
	s.customersByPhone["9876543210"] = domain.Customer{ID: "cust-demo", Phone: "9876543210", Name: "Walk-in Demo", CreatedAt: now}

	users, usedDefault, err := seedUsers(now)
	if err != nil {
		return nil, err
	}
	s.usersByUsername = users
	s.defaultCredentials = usedDefault
	return s, nil
}

// UsesDefaultCredentials reports whether the seed accounts fell back to
// the built-in dev passwords.
func (s *Store) UsesDefaultCredentials() bool {
	return s.defaultCredentials
}

// PutProduct inserts or replaces a product.
func (s *Store) PutProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.products[product.ID]; ok && old.Barcode != "" {
		delete(s.productByBarcode, old.Barcode)
	}
	s.products[product.ID] = product
	if product.Barcode != "" {
		s.productByBarcode[product.Barcode] = product.ID
	}
}

// PutBatches replaces the batch records of a product.
func (s *Store) PutBatches(productID string, batches []domain.Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dup := make([]domain.Batch, 0, len(batches))
	for _, b := range batches {
		b.ProductID = productID
		if b.ID == "" {
			b.ID = xid.New("batch")
		}
		dup = append(dup, cloneBatch(b))
	}
	s.batchesByProduct[productID] = dup
}

func (s *Store) GetProductByID(_ context.Context, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[productID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) GetProductByBarcode(_ context.Context, barcode string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.productByBarcode[strings.TrimSpace(barcode)]
	if !ok {
		return nil, store.ErrNotFound
	}
	product := s.products[id]
	return &product, nil
}

func (s *Store) SearchProducts(ctx context.Context, query string, limit int) ([]domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(query))
	result := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if needle != "" &&
			!strings.Contains(strings.ToLower(p.Name), needle) &&
			!strings.Contains(strings.ToLower(p.SKU), needle) &&
			p.Barcode != needle {
			continue
		}
		result = append(result, p)
	}
	slices.SortFunc(result, func(a, b domain.Product) int {
		return cmpString(a.Name, b.Name)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// GetBatchesByProduct returns every batch record of the product, oldest
// purchase first, including depleted and expired ones.
func (s *Store) GetBatchesByProduct(_ context.Context, productID string) ([]domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.products[productID]; !ok {
		return nil, store.ErrNotFound
	}
	batches := s.batchesByProduct[productID]
	result := make([]domain.Batch, 0, len(batches))
	for _, b := range batches {
		result = append(result, cloneBatch(b))
	}
	slices.SortStableFunc(result, compareBatchForFIFO)
	return result, nil
}

func (s *Store) ListBatches(_ context.Context) ([]domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Batch, 0, 64)
	for _, batches := range s.batchesByProduct {
		for _, b := range batches {
			result = append(result, cloneBatch(b))
		}
	}
	slices.SortStableFunc(result, func(a, b domain.Batch) int {
		if c := cmpString(a.ProductID, b.ProductID); c != 0 {
			return c
		}
		return compareBatchForFIFO(a, b)
	})
	return result, nil
}

func (s *Store) FindOrCreateCustomer(_ context.Context, req domain.CustomerLookupRequest) (*domain.Customer, error) {
	phone := strings.TrimSpace(req.Phone)
	if phone == "" {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.customersByPhone[phone]; ok {
		if existing.Name == "" && strings.TrimSpace(req.Name) != "" {
			existing.Name = strings.TrimSpace(req.Name)
			s.customersByPhone[phone] = existing
		}
		return &existing, nil
	}
	created := domain.Customer{
		ID:        xid.New("cust"),
		Phone:     phone,
		Name:      strings.TrimSpace(req.Name),
		CreatedAt: s.now().UTC(),
	}
	s.customersByPhone[phone] = created
	return &created, nil
}

// ProcessSale records a sale and draws its quantities from product stock
// and from valid batches oldest first. A reference number already recorded
// returns the earlier result without touching stock.
func (s *Store) ProcessSale(_ context.Context, req domain.SaleRequest) (*domain.SaleResult, error) {
	reference := strings.TrimSpace(req.ReferenceNumber)
	if reference == "" || len(req.SaleItems) == 0 {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.salesByReference[reference]; ok {
		return &domain.SaleResult{Success: true, SaleID: existing.ID, Duplicate: true, CreatedAt: existing.CreatedAt}, nil
	}

	today := batch.StartOfDay(s.now(), s.loc)
	wanted := make(map[string]int, len(req.SaleItems))
	for _, item := range req.SaleItems {
		if item.Quantity < 1 {
			return nil, store.ErrInvalidTransaction
		}
		if _, ok := s.products[item.ProductID]; !ok {
			return nil, fmt.Errorf("product %s: %w", item.ProductID, store.ErrNotFound)
		}
		wanted[item.ProductID] += item.Quantity
	}
	for productID, qty := range wanted {
		if s.products[productID].CurrentStock < qty {
			return nil, fmt.Errorf("product %s: %w", productID, store.ErrInsufficientStock)
		}
		if batches := s.batchesByProduct[productID]; len(batches) > 0 && availableInBatches(batches, today) < qty {
			return nil, fmt.Errorf("product %s batches: %w", productID, store.ErrInsufficientStock)
		}
	}

	for productID, qty := range wanted {
		product := s.products[productID]
		product.CurrentStock -= qty
		s.products[productID] = product

		batches := s.batchesByProduct[productID]
		slices.SortStableFunc(batches, compareBatchForFIFO)
		remaining := qty
		for i := range batches {
			if remaining == 0 {
				break
			}
			if !batch.IsValid(batches[i], today) {
				continue
			}
			used := min(remaining, batches[i].CurrentQuantity)
			batches[i].CurrentQuantity -= used
			remaining -= used
		}
		s.batchesByProduct[productID] = batches
	}

	sale := domain.Sale{
		ID:              xid.New("sale"),
		ReferenceNumber: reference,
		Items:           slices.Clone(req.SaleItems),
		CreatedAt:       s.now().UTC(),
	}
	if req.ReceiptData != nil {
		receipt := req.ReceiptData.Clone()
		sale.Receipt = &receipt
	}
	s.salesByReference[reference] = sale
	return &domain.SaleResult{Success: true, SaleID: sale.ID, CreatedAt: sale.CreatedAt}, nil
}

// Sale returns a recorded sale by reference number.
func (s *Store) Sale(reference string) (domain.Sale, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sale, ok := s.salesByReference[reference]
	return sale, ok
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, terminalID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if terminalID != "" && entry.TerminalID != terminalID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidTransaction
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func availableInBatches(batches []domain.Batch, today time.Time) int {
	total := 0
	for _, b := range batches {
		if batch.IsExpired(b, today) {
			continue
		}
		total += max(b.CurrentQuantity, 0)
	}
	return total
}

// compareBatchForFIFO orders by purchase date, then batch number.
func compareBatchForFIFO(a domain.Batch, b domain.Batch) int {
	if a.PurchaseDate.Before(b.PurchaseDate) {
		return -1
	}
	if a.PurchaseDate.After(b.PurchaseDate) {
		return 1
	}
	return cmpString(a.BatchNumber, b.BatchNumber)
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneBatch(src domain.Batch) domain.Batch {
	dup := src
	if src.ExpiryDate != nil {
		expiry := *src.ExpiryDate
		dup.ExpiryDate = &expiry
	}
	return dup
}
