package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment methods accepted at the terminal
const (
	PaymentMethodCash         = "cash"
	PaymentMethodBankTransfer = "bank_transfer"
	PaymentMethodCard         = "card"
	PaymentMethodMixed        = "mixed"
)

// Product is a catalog product as served by the backoffice API
type Product struct {
	ID         int64           `json:"id"`
	Name       string          `json:"name"`
	CategoryID int64           `json:"category_id"`
	Price      decimal.Decimal `json:"price"`
	TrackStock bool            `json:"track_stock"`
	Stock      int             `json:"stock"`
	ImageURL   string          `json:"image_url,omitempty"`
}

// ProductVariant is an optional size/flavour variant of a product
type ProductVariant struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

// NewProduct is the payload for creating a product on the backoffice
type NewProduct struct {
	Name       string           `json:"name"`
	CategoryID int64            `json:"category_id"`
	Price      decimal.Decimal  `json:"price"`
	TrackStock bool             `json:"track_stock"`
	Stock      int              `json:"stock"`
	ImagePaths []string         `json:"image_paths,omitempty"`
	Variants   []ProductVariant `json:"variants,omitempty"`
}

// QueuedProduct is a product creation buffered locally while the
// backoffice is unreachable
type QueuedProduct struct {
	Key      uint64     `json:"key"`
	Product  NewProduct `json:"product"`
	QueuedAt time.Time  `json:"queued_at"`
}

// Session is the operator identity stored on the terminal
type Session struct {
	Token   string `json:"token"`
	StaffID int64  `json:"staff_id"`
	Name    string `json:"name"`
	Role    string `json:"role"`
}

// SaleConfirmation is returned by the backoffice once a sale is accepted
type SaleConfirmation struct {
	SaleID    int64           `json:"sale_id"`
	Receipt   string          `json:"receipt_number"`
	Total     decimal.Decimal `json:"total"`
	CreatedAt time.Time       `json:"created_at"`
}
