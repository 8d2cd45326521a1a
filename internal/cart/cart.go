package cart

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"pos-terminal/internal/models"
)

// State of the in-progress sale
type State string

const (
	StateDraft     State = "DRAFT"
	StateSubmitted State = "SUBMITTED"
	StateCompleted State = "COMPLETED"
	StateRejected  State = "REJECTED"
)

var (
	ErrSaleCompleted   = errors.New("sale already completed")
	ErrSaleInFlight    = errors.New("sale submission in flight")
	ErrEmptyCart       = errors.New("cart has no items")
	ErrLineNotFound    = errors.New("line not found")
	ErrPaymentNotFound = errors.New("payment not found")
	ErrInvalidAmount   = errors.New("payment amount must be positive")
	ErrNotSubmitted    = errors.New("sale is not in flight")
)

var hundred = decimal.NewFromInt(100)

// Discount is a per-line or sale-wide reduction, either an absolute
// amount or a percentage of the discounted base.
type Discount struct {
	Value   decimal.Decimal `json:"value"`
	Percent bool            `json:"percent"`
}

func (d Discount) amountOf(base decimal.Decimal) decimal.Decimal {
	if d.Percent {
		return base.Mul(d.Value).Div(hundred)
	}
	return d.Value
}

// Line is a single cart line. ProductID is nil for quick-sale lines
// that have no catalog entry; those carry a generated ID instead.
type Line struct {
	ID         string          `json:"id"`
	ProductID  *int64          `json:"product_id"`
	Name       string          `json:"name"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Quantity   int             `json:"quantity"`
	Discount   *Discount       `json:"discount,omitempty"`
	QuickSale  bool            `json:"quick_sale"`
	OutOfStock bool            `json:"out_of_stock"`
	Available  int             `json:"available"`
}

// Total is always recomputed from the line's current fields and floors
// at zero when the discount exceeds the gross amount.
func (l *Line) Total() decimal.Decimal {
	gross := l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
	if l.Discount == nil {
		return gross
	}
	total := gross.Sub(l.Discount.amountOf(gross))
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}

// Payment is one entry of a possibly split payment
type Payment struct {
	ID        string          `json:"id"`
	Method    string          `json:"method"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty"`
}

// Totals are derived figures, recomputed on demand and never stored
type Totals struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	ItemDiscount   decimal.Decimal `json:"item_discount"`
	GlobalDiscount decimal.Decimal `json:"global_discount"`
	Discount       decimal.Decimal `json:"discount"`
	Total          decimal.Decimal `json:"total"`
	Paid           decimal.Decimal `json:"paid"`
	Remaining      decimal.Decimal `json:"remaining"`
}

// Cart holds the working set of a single in-progress sale. It is not
// safe for concurrent use; callers serialize access.
type Cart struct {
	state          State
	rejectReason   string
	lines          []*Line
	payments       []Payment
	globalDiscount Discount
	customerID     *int64
	confirmation   *models.SaleConfirmation
	createdAt      time.Time
}

// New starts an empty draft cart
func New() *Cart {
	return &Cart{
		state:     StateDraft,
		createdAt: time.Now(),
	}
}

// State returns the sale state
func (c *Cart) State() State { return c.state }

// RejectReason returns the server rejection reason, if any
func (c *Cart) RejectReason() string { return c.rejectReason }

// Confirmation returns the backoffice confirmation after completion
func (c *Cart) Confirmation() *models.SaleConfirmation { return c.confirmation }

// CustomerID returns the attached customer, nil for walk-in sales
func (c *Cart) CustomerID() *int64 { return c.customerID }

// Lines returns a copy of the current lines in insertion order
func (c *Cart) Lines() []Line {
	out := make([]Line, len(c.lines))
	for i, l := range c.lines {
		out[i] = *l
	}
	return out
}

// Payments returns a copy of the recorded payment entries
func (c *Cart) Payments() []Payment {
	out := make([]Payment, len(c.payments))
	copy(out, c.payments)
	return out
}

// mutable gates every mutation. A rejected cart becomes editable again:
// touching it clears the rejection and returns it to draft.
func (c *Cart) mutable() error {
	switch c.state {
	case StateCompleted:
		return ErrSaleCompleted
	case StateSubmitted:
		return ErrSaleInFlight
	case StateRejected:
		c.state = StateDraft
		c.rejectReason = ""
		for _, l := range c.lines {
			l.OutOfStock = false
			l.Available = 0
		}
	}
	return nil
}

// AddItem adds a catalog product to the cart. Adding a product that is
// already in the cart bumps its quantity instead of creating a new line.
func (c *Cart) AddItem(p *models.Product, quantity int) (*Line, error) {
	if err := c.mutable(); err != nil {
		return nil, err
	}
	if quantity < 1 {
		quantity = 1
	}
	for _, l := range c.lines {
		if l.ProductID != nil && *l.ProductID == p.ID {
			l.Quantity += quantity
			return l, nil
		}
	}
	id := p.ID
	line := &Line{
		ID:        uuid.New().String(),
		ProductID: &id,
		Name:      p.Name,
		UnitPrice: p.Price,
		Quantity:  quantity,
	}
	c.lines = append(c.lines, line)
	return line, nil
}

// AddQuickSale adds an ad-hoc line with no catalog entry
func (c *Cart) AddQuickSale(name string, price decimal.Decimal, quantity int) (*Line, error) {
	if err := c.mutable(); err != nil {
		return nil, err
	}
	if quantity < 1 {
		quantity = 1
	}
	line := &Line{
		ID:        uuid.New().String(),
		Name:      name,
		UnitPrice: price,
		Quantity:  quantity,
		QuickSale: true,
	}
	c.lines = append(c.lines, line)
	return line, nil
}

// UpdateQuantity adjusts a line's quantity by delta, floored at 1
func (c *Cart) UpdateQuantity(lineID string, delta int) error {
	if err := c.mutable(); err != nil {
		return err
	}
	line := c.findLine(lineID)
	if line == nil {
		return ErrLineNotFound
	}
	line.Quantity += delta
	if line.Quantity < 1 {
		line.Quantity = 1
	}
	return nil
}

// SetLineDiscount sets or replaces a per-line discount. Negative values
// are treated as zero; percentages are clamped to [0,100].
func (c *Cart) SetLineDiscount(lineID string, value decimal.Decimal, percent bool) error {
	if err := c.mutable(); err != nil {
		return err
	}
	line := c.findLine(lineID)
	if line == nil {
		return ErrLineNotFound
	}
	if value.IsNegative() {
		value = decimal.Zero
	}
	if percent {
		value = decimal.Min(value, hundred)
	}
	line.Discount = &Discount{Value: value, Percent: percent}
	return nil
}

// RemoveItem drops a line from the cart
func (c *Cart) RemoveItem(lineID string) error {
	if err := c.mutable(); err != nil {
		return err
	}
	for i, l := range c.lines {
		if l.ID == lineID {
			c.lines = append(c.lines[:i], c.lines[i+1:]...)
			return nil
		}
	}
	return ErrLineNotFound
}

// ApplyGlobalDiscount sets the sale-wide discount. Percentages clamp to
// [0,100]; absolute amounts clamp to the current subtotal.
func (c *Cart) ApplyGlobalDiscount(value decimal.Decimal, percent bool) error {
	if err := c.mutable(); err != nil {
		return err
	}
	if value.IsNegative() {
		value = decimal.Zero
	}
	if percent {
		value = decimal.Min(value, hundred)
	} else {
		value = decimal.Min(value, c.subtotal())
	}
	c.globalDiscount = Discount{Value: value, Percent: percent}
	return nil
}

// SetCustomer attaches a customer to the sale, nil for walk-in
func (c *Cart) SetCustomer(customerID *int64) error {
	if err := c.mutable(); err != nil {
		return err
	}
	c.customerID = customerID
	return nil
}

// AddPayment records one entry of a split payment. Overpayment is
// allowed; the remaining figure simply floors at zero.
func (c *Cart) AddPayment(method string, amount decimal.Decimal, reference string) (*Payment, error) {
	if err := c.mutable(); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	p := Payment{
		ID:        uuid.New().String(),
		Method:    method,
		Amount:    amount,
		Reference: reference,
	}
	c.payments = append(c.payments, p)
	return &p, nil
}

// RemovePayment drops a payment entry
func (c *Cart) RemovePayment(paymentID string) error {
	if err := c.mutable(); err != nil {
		return err
	}
	for i, p := range c.payments {
		if p.ID == paymentID {
			c.payments = append(c.payments[:i], c.payments[i+1:]...)
			return nil
		}
	}
	return ErrPaymentNotFound
}

// MarkOutOfStock flags a line the backoffice rejected for stock. Unlike
// the other mutations it is applied while the sale is in flight.
func (c *Cart) MarkOutOfStock(productID int64, available int) {
	for _, l := range c.lines {
		if l.ProductID != nil && *l.ProductID == productID {
			l.OutOfStock = true
			l.Available = available
			return
		}
	}
}

func (c *Cart) findLine(lineID string) *Line {
	for _, l := range c.lines {
		if l.ID == lineID {
			return l
		}
	}
	return nil
}

func (c *Cart) subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range c.lines {
		sum = sum.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return sum
}

// Totals derives all monetary figures from the current state. The
// combined discount is capped at the subtotal so the total never goes
// negative, and remaining floors at zero under overpayment.
func (c *Cart) Totals() Totals {
	subtotal := c.subtotal()

	itemDiscount := decimal.Zero
	for _, l := range c.lines {
		gross := l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
		itemDiscount = itemDiscount.Add(gross.Sub(l.Total()))
	}

	globalDiscount := c.globalDiscount.amountOf(subtotal)
	if globalDiscount.IsNegative() {
		globalDiscount = decimal.Zero
	}

	discount := decimal.Min(itemDiscount.Add(globalDiscount), subtotal)
	total := subtotal.Sub(discount)

	paid := decimal.Zero
	for _, p := range c.payments {
		paid = paid.Add(p.Amount)
	}
	remaining := decimal.Max(total.Sub(paid), decimal.Zero)

	return Totals{
		Subtotal:       subtotal,
		ItemDiscount:   itemDiscount,
		GlobalDiscount: globalDiscount,
		Discount:       discount,
		Total:          total,
		Paid:           paid,
		Remaining:      remaining,
	}
}

// PaymentMethodLabel collapses the payment entries into the single
// summary label the backoffice expects: the uniform method name, or
// "mixed" when entries disagree. An unpaid sale defaults to cash.
func (c *Cart) PaymentMethodLabel() string {
	if len(c.payments) == 0 {
		return models.PaymentMethodCash
	}
	method := c.payments[0].Method
	for _, p := range c.payments[1:] {
		if p.Method != method {
			return models.PaymentMethodMixed
		}
	}
	return method
}

// BeginSubmit moves the sale in flight. Only a draft or rejected cart
// with at least one line may be submitted.
func (c *Cart) BeginSubmit() error {
	switch c.state {
	case StateCompleted:
		return ErrSaleCompleted
	case StateSubmitted:
		return ErrSaleInFlight
	}
	if len(c.lines) == 0 {
		return ErrEmptyCart
	}
	c.state = StateSubmitted
	c.rejectReason = ""
	return nil
}

// Complete records the backoffice confirmation; the cart is terminal
// afterwards and a new one must be started to sell again.
func (c *Cart) Complete(conf *models.SaleConfirmation) error {
	if c.state != StateSubmitted {
		return ErrNotSubmitted
	}
	c.state = StateCompleted
	c.confirmation = conf
	return nil
}

// Reject records a structured server rejection; the cart stays intact
// for correction and returns to draft on the next mutation.
func (c *Cart) Reject(reason string) error {
	if c.state != StateSubmitted {
		return ErrNotSubmitted
	}
	c.state = StateRejected
	c.rejectReason = reason
	return nil
}

// Fail returns an in-flight sale to draft untouched, so the operator
// may retry the exact same submission.
func (c *Cart) Fail() error {
	if c.state != StateSubmitted {
		return ErrNotSubmitted
	}
	c.state = StateDraft
	return nil
}

// snapshot is the serialized form of a cart, persisted last-write-wins
type snapshot struct {
	State          State                    `json:"state"`
	RejectReason   string                   `json:"reject_reason,omitempty"`
	Lines          []*Line                  `json:"lines"`
	Payments       []Payment                `json:"payments"`
	GlobalDiscount Discount                 `json:"global_discount"`
	CustomerID     *int64                   `json:"customer_id,omitempty"`
	Confirmation   *models.SaleConfirmation `json:"confirmation,omitempty"`
	CreatedAt      time.Time                `json:"created_at"`
}

// MarshalJSON serializes the full cart state for snapshotting
func (c *Cart) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshot{
		State:          c.state,
		RejectReason:   c.rejectReason,
		Lines:          c.lines,
		Payments:       c.payments,
		GlobalDiscount: c.globalDiscount,
		CustomerID:     c.customerID,
		Confirmation:   c.confirmation,
		CreatedAt:      c.createdAt,
	})
}

// UnmarshalJSON restores a snapshotted cart. A sale that was in flight
// when the snapshot was taken comes back as draft: the terminal cannot
// know whether the submission landed, and the operator retries.
func (c *Cart) UnmarshalJSON(data []byte) error {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	c.state = s.State
	if c.state == StateSubmitted || c.state == "" {
		c.state = StateDraft
	}
	c.rejectReason = s.RejectReason
	c.lines = s.Lines
	c.payments = s.Payments
	c.globalDiscount = s.GlobalDiscount
	c.customerID = s.CustomerID
	c.confirmation = s.Confirmation
	c.createdAt = s.CreatedAt
	return nil
}
