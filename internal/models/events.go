package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeSaleCompleted = "SALE_COMPLETED"
	EventTypeProductSynced = "PRODUCT_SYNCED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// SaleCompletedEvent published when the backoffice accepts a sale
type SaleCompletedEvent struct {
	BaseEvent
	SaleID  int64           `json:"sale_id"`
	Receipt string          `json:"receipt_number"`
	StaffID int64           `json:"staff_id"`
	Store   string          `json:"store"`
	Total   decimal.Decimal `json:"total"`
	Items   []SaleLineData  `json:"items"`
}

// SaleLineData represents line data in events. ProductID is nil for
// quick-sale lines that have no catalog entry.
type SaleLineData struct {
	ProductID *int64          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// ProductSyncedEvent published when a queued product reaches the backoffice
type ProductSyncedEvent struct {
	BaseEvent
	LocalKey uint64 `json:"local_key"`
	Name     string `json:"name"`
}
