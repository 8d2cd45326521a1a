package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// SaleRecord is a completed sale as written to the local journal
type SaleRecord struct {
	ID            int64           `db:"id" json:"id"`
	Receipt       string          `db:"receipt" json:"receipt"`
	RemoteSaleID  int64           `db:"remote_sale_id" json:"remote_sale_id"`
	StaffID       int64           `db:"staff_id" json:"staff_id"`
	Store         string          `db:"store" json:"store"`
	CustomerID    sql.NullInt64   `db:"customer_id" json:"customer_id,omitempty"`
	Subtotal      decimal.Decimal `db:"subtotal" json:"subtotal"`
	Discount      decimal.Decimal `db:"discount" json:"discount"`
	Total         decimal.Decimal `db:"total" json:"total"`
	PaymentMethod string          `db:"payment_method" json:"payment_method"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// SaleLineRecord is one journaled line of a sale
type SaleLineRecord struct {
	ID        int64           `db:"id" json:"id"`
	SaleID    int64           `db:"sale_id" json:"sale_id"`
	ProductID sql.NullInt64   `db:"product_id" json:"product_id,omitempty"`
	Name      string          `db:"name" json:"name"`
	Quantity  int             `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
	LineTotal decimal.Decimal `db:"line_total" json:"line_total"`
}

// Journal is the terminal's postgres-backed sales history
type Journal struct {
	db *sqlx.DB
}

// New connects to the journal database
func New(databaseURL string) (*Journal, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to journal database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping journal database: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the database connection
func (j *Journal) Close() error {
	return j.db.Close()
}

// RecordSale writes a completed sale and its lines in one transaction
func (j *Journal) RecordSale(ctx context.Context, sale *SaleRecord, lines []SaleLineRecord) error {
	tx, err := j.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO sales (receipt, remote_sale_id, staff_id, store, customer_id,
			subtotal, discount, total, payment_method, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	err = tx.GetContext(ctx, &sale.ID, query,
		sale.Receipt, sale.RemoteSaleID, sale.StaffID, sale.Store, sale.CustomerID,
		sale.Subtotal, sale.Discount, sale.Total, sale.PaymentMethod, sale.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert sale: %w", err)
	}

	for i := range lines {
		lines[i].SaleID = sale.ID
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sale_lines (sale_id, product_id, name, quantity, unit_price, line_total)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			lines[i].SaleID, lines[i].ProductID, lines[i].Name,
			lines[i].Quantity, lines[i].UnitPrice, lines[i].LineTotal)
		if err != nil {
			return fmt.Errorf("failed to insert sale line: %w", err)
		}
	}

	return tx.Commit()
}

// GetSaleByReceipt retrieves a journaled sale and its lines
func (j *Journal) GetSaleByReceipt(ctx context.Context, receipt string) (*SaleRecord, []SaleLineRecord, error) {
	var sale SaleRecord
	err := j.db.GetContext(ctx, &sale, "SELECT * FROM sales WHERE receipt = $1", receipt)
	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("sale not found: %s", receipt)
	}
	if err != nil {
		return nil, nil, err
	}

	var lines []SaleLineRecord
	err = j.db.SelectContext(ctx, &lines,
		"SELECT * FROM sale_lines WHERE sale_id = $1 ORDER BY id", sale.ID)
	if err != nil {
		return nil, nil, err
	}
	return &sale, lines, nil
}

// AddToDailyTotal folds a completed sale into the day's rollup
func (j *Journal) AddToDailyTotal(ctx context.Context, day time.Time, store string, total decimal.Decimal) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO daily_totals (day, store, sales_count, gross)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (day, store)
		DO UPDATE SET sales_count = daily_totals.sales_count + 1,
			gross = daily_totals.gross + EXCLUDED.gross`,
		day.Format("2006-01-02"), store, total)
	return err
}

// DailyTotal returns the rollup for one day, zeroes when absent
func (j *Journal) DailyTotal(ctx context.Context, day time.Time, store string) (int, decimal.Decimal, error) {
	var row struct {
		SalesCount int             `db:"sales_count"`
		Gross      decimal.Decimal `db:"gross"`
	}
	err := j.db.GetContext(ctx, &row,
		"SELECT sales_count, gross FROM daily_totals WHERE day = $1 AND store = $2",
		day.Format("2006-01-02"), store)
	if err == sql.ErrNoRows {
		return 0, decimal.Zero, nil
	}
	if err != nil {
		return 0, decimal.Zero, err
	}
	return row.SalesCount, row.Gross, nil
}

// IsEventProcessed checks whether a broker event was already applied
func (j *Journal) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := j.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed records an applied broker event
func (j *Journal) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := j.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}

// NullableID converts an optional reference into a sql null
func NullableID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}
