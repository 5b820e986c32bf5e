package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"retailpos/backend/internal/batch"
	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	db  *sql.DB
	now func() time.Time
	loc *time.Location
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocation sets the zone whose calendar day decides batch expiry when a
// sale draws stock.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func New(ctx context.Context, databaseURL string, opts ...Option) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, now: time.Now, loc: time.UTC}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded goose migrations.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

const productColumns = `id, name, sku, COALESCE(barcode, ''), selling_price, cost_price, current_stock`

func scanProduct(row interface{ Scan(...any) error }) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.SKU, &p.Barcode, &p.SellingPrice, &p.CostPrice, &p.CurrentStock)
	return p, err
}

func (s *Store) GetProductByID(ctx context.Context, productID string) (*domain.Product, error) {
	return s.getProduct(ctx, "id", productID)
}

func (s *Store) GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	return s.getProduct(ctx, "barcode", strings.TrimSpace(barcode))
}

func (s *Store) getProduct(ctx context.Context, column string, value string) (*domain.Product, error) {
	product, err := scanProduct(s.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE `+column+` = $1`, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) SearchProducts(ctx context.Context, query string, limit int) ([]domain.Product, error) {
	if limit < 1 {
		limit = 50
	}
	needle := strings.TrimSpace(query)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE $1 = ''
			OR name ILIKE '%' || $1 || '%'
			OR sku ILIKE '%' || $1 || '%'
			OR barcode = $1
		ORDER BY name ASC
		LIMIT $2
	`, needle, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, limit)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

// UpsertProduct inserts or replaces a catalogue row. The server uses it to
// seed the demo catalogue into an empty database.
func (s *Store) UpsertProduct(ctx context.Context, p domain.Product) error {
	if p.ID == "" || p.Name == "" || p.SKU == "" || p.CurrentStock < 0 {
		return store.ErrInvalidTransaction
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, sku, barcode, selling_price, cost_price, current_stock, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now(),now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			sku = EXCLUDED.sku,
			barcode = EXCLUDED.barcode,
			selling_price = EXCLUDED.selling_price,
			cost_price = EXCLUDED.cost_price,
			current_stock = EXCLUDED.current_stock,
			updated_at = now()
	`, p.ID, p.Name, p.SKU, nullIfEmpty(p.Barcode), p.SellingPrice, p.CostPrice, p.CurrentStock)
	if isUniqueViolation(err) {
		return store.ErrInvalidTransaction
	}
	return err
}

func (s *Store) UpsertBatch(ctx context.Context, b domain.Batch) error {
	if b.ProductID == "" || b.BatchNumber == "" || b.CurrentQuantity < 0 {
		return store.ErrInvalidTransaction
	}
	if b.ID == "" {
		b.ID = xid.New("batch")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO batches (id, product_id, batch_number, cost_price, selling_price, current_quantity, expiry_date, purchase_date, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())
		ON CONFLICT (product_id, batch_number) DO UPDATE SET
			cost_price = EXCLUDED.cost_price,
			selling_price = EXCLUDED.selling_price,
			current_quantity = EXCLUDED.current_quantity,
			expiry_date = EXCLUDED.expiry_date,
			purchase_date = EXCLUDED.purchase_date,
			updated_at = now()
	`, b.ID, b.ProductID, b.BatchNumber, b.CostPrice, b.SellingPrice, b.CurrentQuantity, nullDate(b.ExpiryDate), b.PurchaseDate)
	return err
}

const batchColumns = `id, product_id, batch_number, cost_price, selling_price, current_quantity, expiry_date, purchase_date`

func scanBatch(row interface{ Scan(...any) error }) (domain.Batch, error) {
	var b domain.Batch
	var expiry sql.NullTime
	if err := row.Scan(&b.ID, &b.ProductID, &b.BatchNumber, &b.CostPrice, &b.SellingPrice, &b.CurrentQuantity, &expiry, &b.PurchaseDate); err != nil {
		return b, err
	}
	if expiry.Valid {
		e := calendarDate(expiry.Time)
		b.ExpiryDate = &e
	}
	b.PurchaseDate = b.PurchaseDate.UTC()
	return b, nil
}

// GetBatchesByProduct returns every batch record of the product, oldest
// purchase first, including depleted and expired ones.
func (s *Store) GetBatchesByProduct(ctx context.Context, productID string) ([]domain.Batch, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrNotFound
	}
	return s.queryBatches(ctx, `
		SELECT `+batchColumns+`
		FROM batches
		WHERE product_id = $1
		ORDER BY purchase_date ASC, batch_number ASC
	`, productID)
}

func (s *Store) ListBatches(ctx context.Context) ([]domain.Batch, error) {
	return s.queryBatches(ctx, `
		SELECT `+batchColumns+`
		FROM batches
		ORDER BY product_id ASC, purchase_date ASC, batch_number ASC
	`)
}

func (s *Store) queryBatches(ctx context.Context, query string, args ...any) ([]domain.Batch, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := make([]domain.Batch, 0, 16)
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return batches, nil
}

func (s *Store) FindOrCreateCustomer(ctx context.Context, req domain.CustomerLookupRequest) (*domain.Customer, error) {
	phone := strings.TrimSpace(req.Phone)
	if phone == "" {
		return nil, store.ErrInvalidTransaction
	}
	name := strings.TrimSpace(req.Name)

	// An empty stored name is filled in; a known name is never overwritten.
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO customers (id, phone, name, created_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (phone) DO UPDATE SET
			name = CASE WHEN customers.name = '' THEN EXCLUDED.name ELSE customers.name END
		RETURNING id, phone, name, created_at
	`, xid.New("cust"), phone, name, s.now().UTC()).Scan(&c.ID, &c.Phone, &c.Name, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

// ProcessSale records a sale and draws its quantities from product stock
// and from valid batches oldest first, all in one serializable transaction.
// A reference number already recorded returns the earlier result without
// touching stock.
func (s *Store) ProcessSale(ctx context.Context, req domain.SaleRequest) (*domain.SaleResult, error) {
	reference := strings.TrimSpace(req.ReferenceNumber)
	if reference == "" || len(req.SaleItems) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	wanted := make(map[string]int, len(req.SaleItems))
	for _, item := range req.SaleItems {
		if item.Quantity < 1 || item.ProductID == "" {
			return nil, store.ErrInvalidTransaction
		}
		wanted[item.ProductID] += item.Quantity
	}
	var receipt []byte
	if req.ReceiptData != nil {
		encoded, err := json.Marshal(req.ReceiptData)
		if err != nil {
			return nil, fmt.Errorf("encode receipt: %w", err)
		}
		receipt = encoded
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	saleID := xid.New("sale")
	createdAt := s.now().UTC()
	err = tx.QueryRowContext(ctx, `
		INSERT INTO sales (id, reference_number, receipt, created_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (reference_number) DO NOTHING
		RETURNING id
	`, saleID, reference, nullJSON(receipt), createdAt).Scan(&saleID)
	if errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		return s.existingSale(ctx, reference)
	}
	if err != nil {
		return nil, err
	}

	// Lock products in a stable order so concurrent sales cannot deadlock.
	productIDs := make([]string, 0, len(wanted))
	for id := range wanted {
		productIDs = append(productIDs, id)
	}
	slices.Sort(productIDs)

	today := batch.StartOfDay(s.now(), s.loc)
	for _, productID := range productIDs {
		if err := drawStock(ctx, tx, productID, wanted[productID], today); err != nil {
			return nil, err
		}
	}

	for _, item := range req.SaleItems {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, product_id, quantity, notes)
			VALUES ($1,$2,$3,$4)
		`, saleID, item.ProductID, item.Quantity, item.Notes); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &domain.SaleResult{Success: true, SaleID: saleID, CreatedAt: createdAt}, nil
}

func drawStock(ctx context.Context, tx *sql.Tx, productID string, qty int, today time.Time) error {
	var stock int
	err := tx.QueryRowContext(ctx, `SELECT current_stock FROM products WHERE id = $1 FOR UPDATE`, productID).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("product %s: %w", productID, store.ErrNotFound)
	}
	if err != nil {
		return err
	}
	if stock < qty {
		return fmt.Errorf("product %s: %w", productID, store.ErrInsufficientStock)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, current_quantity, expiry_date
		FROM batches
		WHERE product_id = $1
		ORDER BY purchase_date ASC, batch_number ASC
		FOR UPDATE
	`, productID)
	if err != nil {
		return err
	}
	type lot struct {
		id        string
		available int
	}
	lots := make([]lot, 0, 8)
	tracked := false
	for rows.Next() {
		var id string
		var available int
		var expiry sql.NullTime
		if err := rows.Scan(&id, &available, &expiry); err != nil {
			_ = rows.Close()
			return err
		}
		tracked = true
		candidate := domain.Batch{CurrentQuantity: available}
		if expiry.Valid {
			e := calendarDate(expiry.Time)
			candidate.ExpiryDate = &e
		}
		if !batch.IsValid(candidate, today) {
			continue
		}
		lots = append(lots, lot{id: id, available: available})
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	if tracked {
		remaining := qty
		for _, l := range lots {
			if remaining == 0 {
				break
			}
			used := min(remaining, l.available)
			if _, err := tx.ExecContext(ctx, `
				UPDATE batches SET current_quantity = current_quantity - $1, updated_at = now()
				WHERE id = $2
			`, used, l.id); err != nil {
				return err
			}
			remaining -= used
		}
		if remaining > 0 {
			return fmt.Errorf("product %s batches: %w", productID, store.ErrInsufficientStock)
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE products SET current_stock = current_stock - $1, updated_at = now()
		WHERE id = $2
	`, qty, productID)
	return err
}

func (s *Store) existingSale(ctx context.Context, reference string) (*domain.SaleResult, error) {
	result := domain.SaleResult{Success: true, Duplicate: true}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, created_at FROM sales WHERE reference_number = $1
	`, reference).Scan(&result.SaleID, &result.CreatedAt)
	if err != nil {
		return nil, err
	}
	result.CreatedAt = result.CreatedAt.UTC()
	return &result, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, terminal_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.TerminalID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, terminalID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, terminal_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR terminal_id = $1)
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, terminalID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.TerminalID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,true,$4,now())
	`, user.Username, user.Password, user.Role, user.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrInvalidTransaction
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// calendarDate keeps the day as written in t's own zone, so an expiry set
// at local midnight is stored as that same date.
func calendarDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullDate(val *time.Time) any {
	if val == nil {
		return nil
	}
	return calendarDate(*val)
}

func nullJSON(val []byte) any {
	if len(val) == 0 {
		return nil
	}
	return string(val)
}
