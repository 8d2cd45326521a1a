package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pos-terminal/internal/cart"
	"pos-terminal/internal/journal"
	"pos-terminal/internal/localstore"
	"pos-terminal/internal/models"
	"pos-terminal/internal/upstream"
	"pos-terminal/internal/util"
)

// ErrNoSession is returned when finalize is attempted while logged out
var ErrNoSession = errors.New("no operator session")

// SaleGateway submits finalized sales to the backoffice
type SaleGateway interface {
	CreateSale(ctx context.Context, sale *upstream.SaleRequest) (*models.SaleConfirmation, error)
}

// CatalogSource resolves products added to the cart by ID
type CatalogSource interface {
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
}

// ReceiptJournal records completed sales locally
type ReceiptJournal interface {
	RecordSale(ctx context.Context, sale *journal.SaleRecord, lines []journal.SaleLineRecord) error
}

// SalePublisher publishes SaleCompleted events
type SalePublisher interface {
	PublishSaleCompleted(ctx context.Context, event *models.SaleCompletedEvent) error
}

// CartView is the cart state rendered for the terminal UI
type CartView struct {
	State         cart.State               `json:"state"`
	RejectReason  string                   `json:"reject_reason,omitempty"`
	Lines         []cart.Line              `json:"lines"`
	Payments      []cart.Payment           `json:"payments"`
	Totals        cart.Totals              `json:"totals"`
	PaymentMethod string                   `json:"payment_method"`
	Confirmation  *models.SaleConfirmation `json:"confirmation,omitempty"`
}

// CheckoutService owns the terminal's single in-progress sale. Every
// mutation is mirrored to the local store so a restart restores the
// cart, last write wins.
type CheckoutService struct {
	mu        sync.Mutex
	cart      *cart.Cart
	store     *localstore.Store
	gateway   SaleGateway
	catalog   CatalogSource
	journal   ReceiptJournal
	publisher SalePublisher
	storeCode string
	logger    *zap.Logger
}

// NewCheckoutService restores the snapshotted cart, or starts a fresh
// draft when none exists.
func NewCheckoutService(
	store *localstore.Store,
	gateway SaleGateway,
	catalogSource CatalogSource,
	receiptJournal ReceiptJournal,
	publisher SalePublisher,
	storeCode string,
) *CheckoutService {
	s := &CheckoutService{
		store:     store,
		gateway:   gateway,
		catalog:   catalogSource,
		journal:   receiptJournal,
		publisher: publisher,
		storeCode: storeCode,
		logger:    util.GetLogger(),
	}

	s.cart = cart.New()
	if snap, err := store.LoadCartSnapshot(); err != nil {
		s.logger.Warn("Failed to load cart snapshot", zap.Error(err))
	} else if snap != nil {
		restored := cart.New()
		if err := json.Unmarshal(snap, restored); err != nil {
			s.logger.Warn("Discarding unreadable cart snapshot", zap.Error(err))
		} else {
			s.cart = restored
		}
	}

	return s
}

// View returns the current cart state
func (s *CheckoutService) View() CartView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view()
}

func (s *CheckoutService) view() CartView {
	return CartView{
		State:         s.cart.State(),
		RejectReason:  s.cart.RejectReason(),
		Lines:         s.cart.Lines(),
		Payments:      s.cart.Payments(),
		Totals:        s.cart.Totals(),
		PaymentMethod: s.cart.PaymentMethodLabel(),
		Confirmation:  s.cart.Confirmation(),
	}
}

// AddItem resolves a catalog product and adds it to the cart
func (s *CheckoutService) AddItem(ctx context.Context, productID int64, quantity int) (CartView, error) {
	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return CartView{}, fmt.Errorf("failed to resolve product %d: %w", productID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.cart.AddItem(product, quantity); err != nil {
		return CartView{}, err
	}
	s.persist()
	return s.view(), nil
}

// AddQuickSale adds an ad-hoc line with no catalog entry
func (s *CheckoutService) AddQuickSale(name string, price decimal.Decimal, quantity int) (CartView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.cart.AddQuickSale(name, price, quantity); err != nil {
		return CartView{}, err
	}
	s.persist()
	return s.view(), nil
}

// UpdateQuantity adjusts a line quantity by delta, floored at 1
func (s *CheckoutService) UpdateQuantity(lineID string, delta int) (CartView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cart.UpdateQuantity(lineID, delta); err != nil {
		return CartView{}, err
	}
	s.persist()
	return s.view(), nil
}

// RemoveItem drops a cart line
func (s *CheckoutService) RemoveItem(lineID string) (CartView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cart.RemoveItem(lineID); err != nil {
		return CartView{}, err
	}
	s.persist()
	return s.view(), nil
}

// SetLineDiscount sets a per-line discount
func (s *CheckoutService) SetLineDiscount(lineID string, value decimal.Decimal, percent bool) (CartView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cart.SetLineDiscount(lineID, value, percent); err != nil {
		return CartView{}, err
	}
	s.persist()
	return s.view(), nil
}

// ApplyGlobalDiscount sets the sale-wide discount
func (s *CheckoutService) ApplyGlobalDiscount(value decimal.Decimal, percent bool) (CartView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cart.ApplyGlobalDiscount(value, percent); err != nil {
		return CartView{}, err
	}
	s.persist()
	return s.view(), nil
}

// SetCustomer attaches a customer to the sale
func (s *CheckoutService) SetCustomer(customerID *int64) (CartView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cart.SetCustomer(customerID); err != nil {
		return CartView{}, err
	}
	s.persist()
	return s.view(), nil
}

// AddPayment records a payment entry
func (s *CheckoutService) AddPayment(method string, amount decimal.Decimal, reference string) (CartView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.cart.AddPayment(method, amount, reference); err != nil {
		return CartView{}, err
	}
	util.PaymentsRecordedTotal.WithLabelValues(method).Inc()
	s.persist()
	return s.view(), nil
}

// RemovePayment drops a payment entry
func (s *CheckoutService) RemovePayment(paymentID string) (CartView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cart.RemovePayment(paymentID); err != nil {
		return CartView{}, err
	}
	s.persist()
	return s.view(), nil
}

// Reset abandons the current sale and starts a fresh draft. The old
// snapshot is simply overwritten; nothing is cancelled server-side.
func (s *CheckoutService) Reset() CartView {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cart = cart.New()
	s.persist()
	return s.view()
}

// Finalize submits the sale to the backoffice. The decision is a
// single atomic accept/reject made server-side: on success the cart
// completes, on a structured rejection the offending line is flagged
// and the cart is left for correction, and on anything else the cart
// returns to draft untouched so the operator may retry as-is.
func (s *CheckoutService) Finalize(ctx context.Context) (*models.SaleConfirmation, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.Finalize")
	defer span.End()

	start := time.Now()
	defer func() {
		util.CheckoutLatency.Observe(time.Since(start).Seconds())
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.store.LoadSession()
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session == nil {
		return nil, ErrNoSession
	}

	if err := s.cart.BeginSubmit(); err != nil {
		return nil, err
	}

	req := s.buildSubmission(session)
	conf, err := s.gateway.CreateSale(ctx, req)
	if err != nil {
		return nil, s.handleSubmitError(err)
	}

	if err := s.cart.Complete(conf); err != nil {
		return nil, err
	}
	util.SalesCompletedTotal.Inc()
	s.logger.Info("Sale completed",
		zap.Int64("sale_id", conf.SaleID),
		zap.String("receipt", conf.Receipt))

	s.recordSale(ctx, session, req, conf)
	s.publishSaleCompleted(ctx, session, req, conf)
	s.persist()

	return conf, nil
}

func (s *CheckoutService) handleSubmitError(err error) error {
	if errors.Is(err, upstream.ErrUnauthorized) {
		// The stored token is dead; force a re-login.
		if clearErr := s.store.ClearSession(); clearErr != nil {
			s.logger.Error("Failed to clear session", zap.Error(clearErr))
		}
		_ = s.cart.Fail()
		util.SalesFailedTotal.WithLabelValues("unauthorized").Inc()
		s.persist()
		return err
	}

	var stockErr *upstream.InsufficientStockError
	if errors.As(err, &stockErr) {
		s.cart.MarkOutOfStock(stockErr.ProductID, stockErr.Available)
		_ = s.cart.Reject(stockErr.Error())
		util.SalesFailedTotal.WithLabelValues("insufficient_stock").Inc()
		s.logger.Warn("Sale rejected for stock",
			zap.Int64("product_id", stockErr.ProductID),
			zap.Int("available", stockErr.Available),
			zap.Int("requested", stockErr.Requested))
		s.persist()
		return err
	}

	_ = s.cart.Fail()
	util.SalesFailedTotal.WithLabelValues("upstream_error").Inc()
	s.persist()
	return err
}

// buildSubmission normalizes the cart into the sale payload. Quick-sale
// lines keep a nil product reference so no foreign key is implied.
func (s *CheckoutService) buildSubmission(session *models.Session) *upstream.SaleRequest {
	totals := s.cart.Totals()

	lines := s.cart.Lines()
	items := make([]upstream.SaleItem, 0, len(lines))
	for _, l := range lines {
		gross := l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
		total := l.Total()
		items = append(items, upstream.SaleItem{
			ProductID: l.ProductID,
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			Discount:  gross.Sub(total),
			Total:     total,
		})
	}

	cartPayments := s.cart.Payments()
	payments := make([]upstream.SalePayment, 0, len(cartPayments))
	for _, p := range cartPayments {
		payments = append(payments, upstream.SalePayment{
			Method:    p.Method,
			Amount:    p.Amount,
			Reference: p.Reference,
		})
	}

	return &upstream.SaleRequest{
		StaffID:       session.StaffID,
		Store:         s.storeCode,
		CustomerID:    s.cart.CustomerID(),
		Items:         items,
		Subtotal:      totals.Subtotal,
		Total:         totals.Total,
		PaymentMethod: s.cart.PaymentMethodLabel(),
		Payments:      payments,
	}
}

// recordSale journals the completed sale; failures are logged, not
// surfaced, because the sale already exists server-side.
func (s *CheckoutService) recordSale(ctx context.Context, session *models.Session, req *upstream.SaleRequest, conf *models.SaleConfirmation) {
	if s.journal == nil {
		return
	}

	record := &journal.SaleRecord{
		Receipt:       conf.Receipt,
		RemoteSaleID:  conf.SaleID,
		StaffID:       session.StaffID,
		Store:         s.storeCode,
		CustomerID:    journal.NullableID(req.CustomerID),
		Subtotal:      req.Subtotal,
		Discount:      req.Subtotal.Sub(req.Total),
		Total:         req.Total,
		PaymentMethod: req.PaymentMethod,
		CreatedAt:     conf.CreatedAt,
	}

	lines := make([]journal.SaleLineRecord, 0, len(req.Items))
	for _, item := range req.Items {
		lines = append(lines, journal.SaleLineRecord{
			ProductID: journal.NullableID(item.ProductID),
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			LineTotal: item.Total,
		})
	}

	if err := s.journal.RecordSale(ctx, record, lines); err != nil {
		s.logger.Error("Failed to journal sale",
			zap.String("receipt", conf.Receipt),
			zap.Error(err))
	}
}

func (s *CheckoutService) publishSaleCompleted(ctx context.Context, session *models.Session, req *upstream.SaleRequest, conf *models.SaleConfirmation) {
	if s.publisher == nil {
		return
	}

	items := make([]models.SaleLineData, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, models.SaleLineData{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			LineTotal: item.Total,
		})
	}

	event := &models.SaleCompletedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeSaleCompleted,
			Timestamp: conf.CreatedAt,
		},
		SaleID:  conf.SaleID,
		Receipt: conf.Receipt,
		StaffID: session.StaffID,
		Store:   s.storeCode,
		Total:   req.Total,
		Items:   items,
	}

	if err := s.publisher.PublishSaleCompleted(ctx, event); err != nil {
		s.logger.Error("Failed to publish SaleCompleted event", zap.Error(err))
	}
}

func (s *CheckoutService) persist() {
	snap, err := json.Marshal(s.cart)
	if err != nil {
		s.logger.Error("Failed to serialize cart snapshot", zap.Error(err))
		return
	}
	if err := s.store.SaveCartSnapshot(snap); err != nil {
		s.logger.Error("Failed to save cart snapshot", zap.Error(err))
	}
}
