package cart

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pos-terminal/internal/models"
)

func testProduct(id int64, price int64) *models.Product {
	return &models.Product{
		ID:    id,
		Name:  "product",
		Price: decimal.NewFromInt(price),
	}
}

func assertDecimal(t *testing.T, expected int64, actual decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.NewFromInt(expected).Equal(actual),
		"expected %d, got %s", expected, actual)
}

func TestQuantityFloor(t *testing.T) {
	c := New()
	line, err := c.AddItem(testProduct(1, 100), 1)
	require.NoError(t, err)

	deltas := []int{-5, 3, -10, 1, -1, -1, -1}
	for _, d := range deltas {
		require.NoError(t, c.UpdateQuantity(line.ID, d))
		assert.GreaterOrEqual(t, c.Lines()[0].Quantity, 1)
	}
}

func TestAddItemBelowOneQuantityClamps(t *testing.T) {
	c := New()
	line, err := c.AddItem(testProduct(1, 100), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, line.Quantity)
}

func TestAddItemMergesExistingLine(t *testing.T) {
	c := New()
	_, err := c.AddItem(testProduct(1, 100), 2)
	require.NoError(t, err)
	_, err = c.AddItem(testProduct(1, 100), 3)
	require.NoError(t, err)

	lines := c.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, 5, lines[0].Quantity)
}

func TestLineTotalFloorsAtZero(t *testing.T) {
	c := New()
	line, err := c.AddItem(testProduct(1, 100), 1)
	require.NoError(t, err)
	require.NoError(t, c.SetLineDiscount(line.ID, decimal.NewFromInt(500), false))

	assertDecimal(t, 0, c.Lines()[0].Total())
	totals := c.Totals()
	assert.False(t, totals.Total.IsNegative())
}

func TestGlobalDiscountPercentClamped(t *testing.T) {
	c := New()
	_, err := c.AddItem(testProduct(1, 100), 1)
	require.NoError(t, err)

	require.NoError(t, c.ApplyGlobalDiscount(decimal.NewFromInt(150), true))
	totals := c.Totals()
	assertDecimal(t, 100, totals.Discount)
	assertDecimal(t, 0, totals.Total)

	require.NoError(t, c.ApplyGlobalDiscount(decimal.NewFromInt(-10), true))
	assertDecimal(t, 0, c.Totals().Discount)
}

func TestGlobalDiscountAbsoluteClampedToSubtotal(t *testing.T) {
	c := New()
	_, err := c.AddItem(testProduct(1, 300), 1)
	require.NoError(t, err)

	require.NoError(t, c.ApplyGlobalDiscount(decimal.NewFromInt(1000), false))
	totals := c.Totals()
	assertDecimal(t, 300, totals.Discount)
	assertDecimal(t, 0, totals.Total)
}

func TestCombinedDiscountCappedAtSubtotal(t *testing.T) {
	c := New()
	a, err := c.AddItem(testProduct(1, 500), 1)
	require.NoError(t, err)
	b, err := c.AddItem(testProduct(2, 500), 1)
	require.NoError(t, err)

	require.NoError(t, c.SetLineDiscount(a.ID, decimal.NewFromInt(400), false))
	require.NoError(t, c.SetLineDiscount(b.ID, decimal.NewFromInt(90), true))
	require.NoError(t, c.ApplyGlobalDiscount(decimal.NewFromInt(50), true))

	totals := c.Totals()
	assert.True(t, totals.Discount.LessThanOrEqual(totals.Subtotal))
	assert.False(t, totals.Total.IsNegative())
}

func TestExampleCheckoutFigures(t *testing.T) {
	c := New()
	_, err := c.AddItem(testProduct(1, 1000), 2)
	require.NoError(t, err)
	require.NoError(t, c.ApplyGlobalDiscount(decimal.NewFromInt(10), true))

	totals := c.Totals()
	assertDecimal(t, 2000, totals.Subtotal)
	assertDecimal(t, 200, totals.Discount)
	assertDecimal(t, 1800, totals.Total)

	_, err = c.AddPayment(models.PaymentMethodCash, decimal.NewFromInt(1800), "")
	require.NoError(t, err)

	totals = c.Totals()
	assertDecimal(t, 1800, totals.Paid)
	assertDecimal(t, 0, totals.Remaining)
}

func TestOverpaymentRemainingFloorsAtZero(t *testing.T) {
	c := New()
	_, err := c.AddItem(testProduct(1, 100), 1)
	require.NoError(t, err)
	_, err = c.AddPayment(models.PaymentMethodCash, decimal.NewFromInt(500), "")
	require.NoError(t, err)

	assertDecimal(t, 0, c.Totals().Remaining)
}

func TestAddPaymentRejectsNonPositiveAmount(t *testing.T) {
	c := New()
	_, err := c.AddPayment(models.PaymentMethodCash, decimal.Zero, "")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = c.AddPayment(models.PaymentMethodCard, decimal.NewFromInt(-5), "ref")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestPaymentMethodLabel(t *testing.T) {
	c := New()
	assert.Equal(t, models.PaymentMethodCash, c.PaymentMethodLabel())

	_, err := c.AddPayment(models.PaymentMethodCard, decimal.NewFromInt(100), "ref-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentMethodCard, c.PaymentMethodLabel())

	_, err = c.AddPayment(models.PaymentMethodCard, decimal.NewFromInt(50), "ref-2")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentMethodCard, c.PaymentMethodLabel())

	_, err = c.AddPayment(models.PaymentMethodCash, decimal.NewFromInt(25), "")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentMethodMixed, c.PaymentMethodLabel())
}

func TestRemovePayment(t *testing.T) {
	c := New()
	p, err := c.AddPayment(models.PaymentMethodCash, decimal.NewFromInt(100), "")
	require.NoError(t, err)
	require.NoError(t, c.RemovePayment(p.ID))
	assert.Empty(t, c.Payments())
	assert.ErrorIs(t, c.RemovePayment(p.ID), ErrPaymentNotFound)
}

func TestQuickSaleLineHasNoProductReference(t *testing.T) {
	c := New()
	line, err := c.AddQuickSale("misc", decimal.NewFromInt(50), 1)
	require.NoError(t, err)
	assert.Nil(t, line.ProductID)
	assert.True(t, line.QuickSale)
	assert.NotEmpty(t, line.ID)
}

func TestSubmitLifecycle(t *testing.T) {
	c := New()
	assert.ErrorIs(t, c.BeginSubmit(), ErrEmptyCart)

	line, err := c.AddItem(testProduct(1, 100), 1)
	require.NoError(t, err)
	require.NoError(t, c.BeginSubmit())
	assert.Equal(t, StateSubmitted, c.State())

	_, err = c.AddItem(testProduct(2, 100), 1)
	assert.ErrorIs(t, err, ErrSaleInFlight)
	assert.ErrorIs(t, c.BeginSubmit(), ErrSaleInFlight)

	require.NoError(t, c.Complete(&models.SaleConfirmation{SaleID: 7, Receipt: "R-7"}))
	assert.Equal(t, StateCompleted, c.State())
	assert.Equal(t, "R-7", c.Confirmation().Receipt)

	assert.ErrorIs(t, c.BeginSubmit(), ErrSaleCompleted)
	assert.ErrorIs(t, c.UpdateQuantity(line.ID, 1), ErrSaleCompleted)
}

func TestFailReturnsToDraftUntouched(t *testing.T) {
	c := New()
	_, err := c.AddItem(testProduct(1, 1000), 2)
	require.NoError(t, err)
	before := c.Totals()

	require.NoError(t, c.BeginSubmit())
	require.NoError(t, c.Fail())

	assert.Equal(t, StateDraft, c.State())
	assert.True(t, before.Total.Equal(c.Totals().Total))
}

func TestRejectKeepsCartForCorrection(t *testing.T) {
	c := New()
	_, err := c.AddItem(testProduct(1, 100), 3)
	require.NoError(t, err)
	_, err = c.AddItem(testProduct(2, 50), 1)
	require.NoError(t, err)

	require.NoError(t, c.BeginSubmit())
	c.MarkOutOfStock(1, 2)
	require.NoError(t, c.Reject("insufficient stock"))

	assert.Equal(t, StateRejected, c.State())
	assert.Equal(t, "insufficient stock", c.RejectReason())

	lines := c.Lines()
	require.Len(t, lines, 2)
	assert.True(t, lines[0].OutOfStock)
	assert.Equal(t, 2, lines[0].Available)
	assert.False(t, lines[1].OutOfStock)

	// Correcting the cart clears the rejection.
	require.NoError(t, c.UpdateQuantity(lines[0].ID, -1))
	assert.Equal(t, StateDraft, c.State())
	assert.Empty(t, c.RejectReason())
	assert.False(t, c.Lines()[0].OutOfStock)
}

func TestSnapshotRoundTrip(t *testing.T) {
	c := New()
	line, err := c.AddItem(testProduct(1, 1000), 2)
	require.NoError(t, err)
	require.NoError(t, c.SetLineDiscount(line.ID, decimal.NewFromInt(100), false))
	require.NoError(t, c.ApplyGlobalDiscount(decimal.NewFromInt(5), true))
	_, err = c.AddPayment(models.PaymentMethodBankTransfer, decimal.NewFromInt(500), "TRX-1")
	require.NoError(t, err)

	data, err := json.Marshal(c)
	require.NoError(t, err)

	restored := New()
	require.NoError(t, json.Unmarshal(data, restored))

	assert.Equal(t, c.State(), restored.State())
	assert.Equal(t, c.Lines(), restored.Lines())
	assert.Equal(t, c.Payments(), restored.Payments())
	assert.True(t, c.Totals().Total.Equal(restored.Totals().Total))
}

func TestSnapshotOfInFlightSaleRestoresAsDraft(t *testing.T) {
	c := New()
	_, err := c.AddItem(testProduct(1, 100), 1)
	require.NoError(t, err)
	require.NoError(t, c.BeginSubmit())

	data, err := json.Marshal(c)
	require.NoError(t, err)

	restored := New()
	require.NoError(t, json.Unmarshal(data, restored))
	assert.Equal(t, StateDraft, restored.State())
}
