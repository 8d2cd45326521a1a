package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pos-terminal/internal/models"
	"pos-terminal/internal/util"
)

var (
	// ErrUnreachable wraps transport-level failures: the backoffice
	// never saw the request and it is safe to buffer locally.
	ErrUnreachable = errors.New("backoffice unreachable")

	// ErrUnauthorized means the stored token was rejected
	ErrUnauthorized = errors.New("backoffice rejected credentials")
)

// InsufficientStockError is the structured rejection of a sale
type InsufficientStockError struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	StoreName   string `json:"store_name"`
	Available   int    `json:"available"`
	Requested   int    `json:"requested"`
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s at %s: available=%d, requested=%d",
		e.ProductName, e.StoreName, e.Available, e.Requested)
}

// DuplicateProductError means a product with the same name, category
// and price already exists on the backoffice
type DuplicateProductError struct {
	Name string
}

func (e *DuplicateProductError) Error() string {
	return fmt.Sprintf("product already exists: %s", e.Name)
}

// apiError is the backoffice's error envelope
type apiError struct {
	Code        string `json:"error"`
	Message     string `json:"message"`
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	StoreName   string `json:"store_name"`
	Available   int    `json:"available"`
	Requested   int    `json:"requested"`
}

// SaleItem is a normalized line item in a sale submission
type SaleItem struct {
	ProductID *int64          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Discount  decimal.Decimal `json:"discount"`
	Total     decimal.Decimal `json:"total"`
}

// SalePayment is one entry of a split payment
type SalePayment struct {
	Method    string          `json:"method"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty"`
}

// SaleRequest is the finalize payload posted to the sale endpoint
type SaleRequest struct {
	StaffID       int64           `json:"staff_id"`
	Store         string          `json:"store"`
	CustomerID    *int64          `json:"customer_id"`
	Items         []SaleItem      `json:"items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod string          `json:"payment_method"`
	Payments      []SalePayment   `json:"payments"`
}

// TokenSource supplies the current bearer token, empty when logged out
type TokenSource interface {
	Token() string
}

// Client talks to the backoffice REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	logger     *zap.Logger
}

// NewClient creates a backoffice client
func NewClient(baseURL string, timeout time.Duration, tokens TokenSource) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		tokens:     tokens,
		logger:     util.GetLogger(),
	}
}

// Ping checks reachability of the backoffice
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: health returned %d", ErrUnreachable, resp.StatusCode)
	}
	return nil
}

// CreateSale posts a finalized sale
func (c *Client) CreateSale(ctx context.Context, sale *SaleRequest) (*models.SaleConfirmation, error) {
	ctx, span := util.StartSpan(ctx, "upstream.CreateSale")
	defer span.End()

	body, err := json.Marshal(sale)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sale: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/sales", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, c.decodeError(resp)
	}

	var conf models.SaleConfirmation
	if err := json.NewDecoder(resp.Body).Decode(&conf); err != nil {
		return nil, fmt.Errorf("failed to decode sale confirmation: %w", err)
	}
	return &conf, nil
}

// CreateProduct posts a product as a multipart form, attaching any
// locally stored images. A missing image file is skipped rather than
// failing the whole create; the queue may outlive temp uploads.
func (c *Client) CreateProduct(ctx context.Context, p *models.NewProduct) error {
	ctx, span := util.StartSpan(ctx, "upstream.CreateProduct")
	defer span.End()

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	form.WriteField("name", p.Name)
	form.WriteField("category_id", strconv.FormatInt(p.CategoryID, 10))
	form.WriteField("price", p.Price.String())
	form.WriteField("track_stock", strconv.FormatBool(p.TrackStock))
	form.WriteField("stock", strconv.Itoa(p.Stock))

	if len(p.Variants) > 0 {
		variants, err := json.Marshal(p.Variants)
		if err != nil {
			return fmt.Errorf("failed to marshal variants: %w", err)
		}
		form.WriteField("variants", string(variants))
	}

	for _, path := range p.ImagePaths {
		if err := attachFile(form, "images[]", path); err != nil {
			c.logger.Warn("Skipping product image",
				zap.String("path", path),
				zap.Error(err))
		}
	}

	if err := form.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/products", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return c.decodeError(resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// GetProduct fetches a single catalog product
func (c *Client) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/products/%d", c.baseURL, id), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.decodeError(resp)
	}

	var product models.Product
	if err := json.NewDecoder(resp.Body).Decode(&product); err != nil {
		return nil, fmt.Errorf("failed to decode product: %w", err)
	}
	return &product, nil
}

// SearchProducts queries the catalog by name or code
func (c *Client) SearchProducts(ctx context.Context, query string) ([]models.Product, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/products/search?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.decodeError(resp)
	}

	var products []models.Product
	if err := json.NewDecoder(resp.Body).Decode(&products); err != nil {
		return nil, fmt.Errorf("failed to decode products: %w", err)
	}
	return products, nil
}

// do sends the request with the current bearer token and classifies
// transport failures and authentication rejections.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return nil, ErrUnauthorized
	}
	return resp, nil
}

// decodeError maps the backoffice error envelope to typed errors
func (c *Client) decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	var ae apiError
	if err := json.Unmarshal(body, &ae); err == nil {
		switch ae.Code {
		case "insufficient_stock":
			return &InsufficientStockError{
				ProductID:   ae.ProductID,
				ProductName: ae.ProductName,
				StoreName:   ae.StoreName,
				Available:   ae.Available,
				Requested:   ae.Requested,
			}
		case "duplicate_product":
			name := ae.ProductName
			if name == "" {
				name = ae.Message
			}
			return &DuplicateProductError{Name: name}
		}
		if ae.Message != "" {
			return fmt.Errorf("backoffice error (%d): %s", resp.StatusCode, ae.Message)
		}
		if ae.Code != "" {
			return fmt.Errorf("backoffice error (%d): %s", resp.StatusCode, ae.Code)
		}
	}
	return fmt.Errorf("backoffice returned status %d", resp.StatusCode)
}

func attachFile(form *multipart.Writer, field, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	part, err := form.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}
