// Package inventoryapi is a JSON client for a remote inventory service that
// owns products, batches, customers and sale processing.
package inventoryapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

const errorBodyReadLimit int64 = 1024

var errBaseURLRequired = errors.New("inventory api base url is required")

// Client implements store.Inventory over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithToken sends the token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errBaseURLRequired
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("inventory api base url: %w", err)
	}

	c := &Client{
		baseURL:    trimmed,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// envelope is the response wrapper used by every endpoint.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

type productPayload struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	SKU          string          `json:"sku"`
	Barcode      string          `json:"barcode"`
	SellingPrice decimal.Decimal `json:"sellingPrice"`
	CostPrice    decimal.Decimal `json:"costPrice"`
	CurrentStock int             `json:"currentStock"`
}

func (p productPayload) toDomain() domain.Product {
	return domain.Product{
		ID:           p.ID,
		Name:         p.Name,
		SKU:          p.SKU,
		Barcode:      p.Barcode,
		SellingPrice: p.SellingPrice,
		CostPrice:    p.CostPrice,
		CurrentStock: p.CurrentStock,
	}
}

type batchPayload struct {
	ID              string          `json:"id"`
	ProductID       string          `json:"productId"`
	BatchNumber     string          `json:"batchNumber"`
	CostPrice       decimal.Decimal `json:"costPrice"`
	SellingPrice    decimal.Decimal `json:"sellingPrice"`
	CurrentQuantity int             `json:"currentQuantity"`
	ExpiryDate      string          `json:"expiryDate"`
	PurchaseDate    string          `json:"purchaseDate"`
}

func (b batchPayload) toDomain(productID string) (domain.Batch, error) {
	batch := domain.Batch{
		ID:              b.ID,
		ProductID:       b.ProductID,
		BatchNumber:     b.BatchNumber,
		CostPrice:       b.CostPrice,
		SellingPrice:    b.SellingPrice,
		CurrentQuantity: b.CurrentQuantity,
	}
	if batch.ProductID == "" {
		batch.ProductID = productID
	}
	if b.ExpiryDate != "" {
		expiry, err := parseDate(b.ExpiryDate)
		if err != nil {
			return domain.Batch{}, fmt.Errorf("batch %s expiry: %w", b.BatchNumber, err)
		}
		batch.ExpiryDate = &expiry
	}
	if b.PurchaseDate != "" {
		purchased, err := parseDate(b.PurchaseDate)
		if err != nil {
			return domain.Batch{}, fmt.Errorf("batch %s purchase date: %w", b.BatchNumber, err)
		}
		batch.PurchaseDate = purchased
	}
	return batch, nil
}

type customerPayload struct {
	ID        string    `json:"id"`
	Phone     string    `json:"phone"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

type saleItemPayload struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Notes     string `json:"notes,omitempty"`
}

type saleRequestPayload struct {
	SaleItems       []saleItemPayload `json:"saleItems"`
	ReferenceNumber string            `json:"referenceNumber"`
	ReceiptData     *domain.Receipt   `json:"receiptData,omitempty"`
}

type saleResultPayload struct {
	ID        string    `json:"id"`
	Duplicate bool      `json:"duplicate"`
	CreatedAt time.Time `json:"createdAt"`
}

func (c *Client) GetProductByID(ctx context.Context, productID string) (*domain.Product, error) {
	var payload productPayload
	if err := c.do(ctx, http.MethodGet, "/products/"+url.PathEscape(productID), nil, &payload); err != nil {
		return nil, fmt.Errorf("get product %s: %w", productID, err)
	}
	product := payload.toDomain()
	return &product, nil
}

func (c *Client) GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	var payload productPayload
	if err := c.do(ctx, http.MethodGet, "/products/barcode/"+url.PathEscape(strings.TrimSpace(barcode)), nil, &payload); err != nil {
		return nil, fmt.Errorf("get product by barcode %s: %w", barcode, err)
	}
	product := payload.toDomain()
	return &product, nil
}

func (c *Client) SearchProducts(ctx context.Context, query string, limit int) ([]domain.Product, error) {
	params := url.Values{}
	params.Set("q", query)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var payload []productPayload
	if err := c.do(ctx, http.MethodGet, "/products?"+params.Encode(), nil, &payload); err != nil {
		return nil, fmt.Errorf("search products: %w", err)
	}
	products := make([]domain.Product, 0, len(payload))
	for _, p := range payload {
		products = append(products, p.toDomain())
	}
	return products, nil
}

func (c *Client) GetBatchesByProduct(ctx context.Context, productID string) ([]domain.Batch, error) {
	var payload struct {
		Batches []batchPayload `json:"batches"`
	}
	if err := c.do(ctx, http.MethodGet, "/products/"+url.PathEscape(productID)+"/batches", nil, &payload); err != nil {
		return nil, fmt.Errorf("get batches for %s: %w", productID, err)
	}
	return toBatches(payload.Batches, productID)
}

func (c *Client) ListBatches(ctx context.Context) ([]domain.Batch, error) {
	var payload struct {
		Batches []batchPayload `json:"batches"`
	}
	if err := c.do(ctx, http.MethodGet, "/batches", nil, &payload); err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	return toBatches(payload.Batches, "")
}

func (c *Client) FindOrCreateCustomer(ctx context.Context, req domain.CustomerLookupRequest) (*domain.Customer, error) {
	body := map[string]string{"phone": req.Phone}
	if req.Name != "" {
		body["name"] = req.Name
	}
	var payload customerPayload
	if err := c.do(ctx, http.MethodPost, "/customers/find-or-create", body, &payload); err != nil {
		return nil, fmt.Errorf("find or create customer: %w", err)
	}
	return &domain.Customer{
		ID:        payload.ID,
		Phone:     payload.Phone,
		Name:      payload.Name,
		CreatedAt: payload.CreatedAt,
	}, nil
}

func (c *Client) ProcessSale(ctx context.Context, req domain.SaleRequest) (*domain.SaleResult, error) {
	body := saleRequestPayload{
		SaleItems:       make([]saleItemPayload, 0, len(req.SaleItems)),
		ReferenceNumber: req.ReferenceNumber,
		ReceiptData:     req.ReceiptData,
	}
	for _, item := range req.SaleItems {
		body.SaleItems = append(body.SaleItems, saleItemPayload(item))
	}

	var payload saleResultPayload
	if err := c.do(ctx, http.MethodPost, "/sales", body, &payload); err != nil {
		return nil, fmt.Errorf("process sale %s: %w", req.ReferenceNumber, err)
	}
	return &domain.SaleResult{
		Success:   true,
		SaleID:    payload.ID,
		Duplicate: payload.Duplicate,
		CreatedAt: payload.CreatedAt,
	}, nil
}

func (c *Client) do(ctx context.Context, method string, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
		return statusError(resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !env.Success {
		return fmt.Errorf("%w: %s", store.ErrInvalidTransaction, env.Message)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

func statusError(code int, msg string) error {
	cause := fmt.Errorf("status %d: %s", code, msg)
	switch code {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", store.ErrNotFound, cause)
	case http.StatusConflict:
		return fmt.Errorf("%w: %w", store.ErrInsufficientStock, cause)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %w", store.ErrInvalidTransaction, cause)
	default:
		return cause
	}
}

func toBatches(payload []batchPayload, productID string) ([]domain.Batch, error) {
	batches := make([]domain.Batch, 0, len(payload))
	for _, p := range payload {
		b, err := p.toDomain(productID)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, nil
}

// parseDate accepts a calendar date or a full RFC 3339 timestamp.
func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}
