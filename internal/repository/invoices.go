package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"invoice-scanner/internal/entity"
)

// Storage limits for string columns. Oversized values are truncated
// here so no caller can fail an insert on length alone.
const (
	maxMerchantLen      = 500
	maxSupplierLen      = 500
	maxItemNameLen      = 500
	maxDateLen          = 100
	maxInvoiceNumberLen = 100
)

// CategoryGroupItem is one stored item viewed through its category,
// with enough invoice context to render a grouped table.
type CategoryGroupItem struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Price        int64  `json:"price"`
	InvoiceID    int64  `json:"invoice_id"`
	InvoiceDate  string `json:"invoice_date"`
	MerchantName string `json:"merchant_name"`
}

// CategoryGroup collects the items of one category bucket. A nil
// CategoryID marks the uncategorized bucket.
type CategoryGroup struct {
	CategoryID          *int64              `json:"category_id"`
	CategoryName        string              `json:"category_name"`
	CategoryDescription string              `json:"category_description"`
	TotalItems          int                 `json:"total_items"`
	TotalAmount         int64               `json:"total_amount"`
	Items               []CategoryGroupItem `json:"items"`
}

// CategoryStats is the per-category aggregate used by the statistics
// endpoint. AveragePerItem is 0 for empty buckets.
type CategoryStats struct {
	CategoryID     *int64  `json:"category_id"`
	CategoryName   string  `json:"category_name"`
	TotalItems     int     `json:"total_items"`
	TotalAmount    int64   `json:"total_amount"`
	InvoiceCount   int     `json:"invoice_count"`
	AveragePerItem float64 `json:"average_per_item"`
}

type InvoiceRepository interface {
	// CreateInvoice persists an invoice and its items in a single
	// transaction: either everything is stored or nothing is.
	CreateInvoice(ctx context.Context, inv *entity.Invoice) (int64, error)
	// CreateStructuredInvoice stores a pre-categorized invoice verbatim:
	// the submitted total is kept as-is (line totals may exclude VAT)
	// and category references are written through unchanged. Callers
	// validate the category before calling.
	CreateStructuredInvoice(ctx context.Context, inv *entity.Invoice) (int64, error)
	ListInvoices(ctx context.Context, limit int) ([]*entity.Invoice, error)
	ItemsByCategory(ctx context.Context) ([]*CategoryGroup, error)
	ItemsByCategoryID(ctx context.Context, categoryID int64) (*CategoryGroup, error)
	CategoryStatistics(ctx context.Context) ([]*CategoryStats, error)
}

type invoiceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewInvoiceRepository(db *sql.DB, logger *slog.Logger) InvoiceRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &invoiceRepository{db: db, logger: logger}
}

func (r *invoiceRepository) CreateInvoice(ctx context.Context, inv *entity.Invoice) (int64, error) {
	// The stored total is recomputed from the items when they carry any
	// amount; the submitted total is only trusted for item-less payloads.
	var calculated int64
	for _, it := range inv.Items {
		calculated += it.Price
	}
	total := inv.TotalAmount
	if calculated > 0 {
		total = calculated
	}
	return r.create(ctx, inv, total, true)
}

func (r *invoiceRepository) CreateStructuredInvoice(ctx context.Context, inv *entity.Invoice) (int64, error) {
	return r.create(ctx, inv, inv.TotalAmount, false)
}

func (r *invoiceRepository) create(ctx context.Context, inv *entity.Invoice, total int64, nullUnknown bool) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO invoices
		   (invoice_number, merchant_name, supplier_name, date, total_amount, vat_rate, vat_amount, raw_text, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		truncatePtr(inv.InvoiceNumber, maxInvoiceNumberLen),
		truncateString(inv.MerchantName, maxMerchantLen),
		truncatePtr(inv.SupplierName, maxSupplierLen),
		truncateString(inv.Date, maxDateLen),
		total,
		inv.VATRate,
		inv.VATAmount,
		inv.RawText,
		time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert invoice: %w", err)
	}

	for _, it := range inv.Items {
		categoryID := it.CategoryID
		if categoryID != nil && nullUnknown {
			ok, err := r.categoryExists(ctx, tx, *categoryID)
			if err != nil {
				return 0, err
			}
			if !ok {
				r.logger.Warn("dropping unknown category reference",
					"category_id", *categoryID, "item", it.Name)
				categoryID = nil
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO invoice_items (invoice_id, category_id, name, quantity, unit_price, price)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			id, categoryID, truncateString(it.Name, maxItemNameLen),
			it.Quantity, it.UnitPrice, it.Price); err != nil {
			return 0, fmt.Errorf("insert invoice item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	r.logger.Info("invoice saved", "invoice_id", id, "items", len(inv.Items), "total", total)
	return id, nil
}

func (r *invoiceRepository) categoryExists(ctx context.Context, tx *sql.Tx, id int64) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM product_categories WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *invoiceRepository) ListInvoices(ctx context.Context, limit int) ([]*entity.Invoice, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, invoice_number, COALESCE(merchant_name, ''), supplier_name,
		        COALESCE(date, ''), total_amount, vat_rate, vat_amount,
		        COALESCE(raw_text, ''), created_at
		   FROM invoices ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		r.logger.Error("failed to list invoices", "error", err)
		return nil, err
	}
	defer rows.Close()

	invoices := []*entity.Invoice{}
	byID := map[int64]*entity.Invoice{}
	for rows.Next() {
		var inv entity.Invoice
		var number, supplier sql.NullString
		if err := rows.Scan(&inv.ID, &number, &inv.MerchantName, &supplier,
			&inv.Date, &inv.TotalAmount, &inv.VATRate, &inv.VATAmount,
			&inv.RawText, &inv.CreatedAt); err != nil {
			return nil, err
		}
		if number.Valid {
			inv.InvoiceNumber = &number.String
		}
		if supplier.Valid {
			inv.SupplierName = &supplier.String
		}
		inv.Items = []entity.InvoiceItem{}
		invoices = append(invoices, &inv)
		byID[inv.ID] = &inv
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	itemRows, err := r.db.QueryContext(ctx,
		`SELECT it.id, it.invoice_id, it.category_id, COALESCE(c.name, ''),
		        COALESCE(it.name, ''), it.quantity, it.unit_price, it.price
		   FROM invoice_items it
		   LEFT JOIN product_categories c ON c.id = it.category_id
		  WHERE it.invoice_id IN (SELECT id FROM invoices ORDER BY id DESC LIMIT $1)
		  ORDER BY it.id`, limit)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var it entity.InvoiceItem
		var categoryID sql.NullInt64
		if err := itemRows.Scan(&it.ID, &it.InvoiceID, &categoryID, &it.CategoryName,
			&it.Name, &it.Quantity, &it.UnitPrice, &it.Price); err != nil {
			return nil, err
		}
		if categoryID.Valid {
			it.CategoryID = &categoryID.Int64
		}
		if inv, ok := byID[it.InvoiceID]; ok {
			inv.Items = append(inv.Items, it)
		}
	}
	return invoices, itemRows.Err()
}

func (r *invoiceRepository) ItemsByCategory(ctx context.Context) ([]*CategoryGroup, error) {
	cats, err := r.listCategoryRows(ctx)
	if err != nil {
		return nil, err
	}

	groups := make([]*CategoryGroup, 0, len(cats)+1)
	byID := map[int64]*CategoryGroup{}
	for _, c := range cats {
		id := c.ID
		g := &CategoryGroup{
			CategoryID:          &id,
			CategoryName:        c.Name,
			CategoryDescription: c.Description,
			Items:               []CategoryGroupItem{},
		}
		groups = append(groups, g)
		byID[id] = g
	}
	uncategorized := &CategoryGroup{
		CategoryName:        "Uncategorized",
		CategoryDescription: "Items without a category",
		Items:               []CategoryGroupItem{},
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT it.id, COALESCE(it.name, ''), it.price, it.category_id,
		        it.invoice_id, COALESCE(i.date, ''), COALESCE(i.merchant_name, '')
		   FROM invoice_items it
		   JOIN invoices i ON i.id = it.invoice_id
		  ORDER BY it.id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item CategoryGroupItem
		var categoryID sql.NullInt64
		if err := rows.Scan(&item.ID, &item.Name, &item.Price, &categoryID,
			&item.InvoiceID, &item.InvoiceDate, &item.MerchantName); err != nil {
			return nil, err
		}
		g := uncategorized
		if categoryID.Valid {
			if known, ok := byID[categoryID.Int64]; ok {
				g = known
			}
		}
		g.Items = append(g.Items, item)
		g.TotalItems++
		g.TotalAmount += item.Price
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if uncategorized.TotalItems > 0 {
		groups = append(groups, uncategorized)
	}
	return groups, nil
}

func (r *invoiceRepository) ItemsByCategoryID(ctx context.Context, categoryID int64) (*CategoryGroup, error) {
	groups, err := r.ItemsByCategory(ctx)
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		if g.CategoryID != nil && *g.CategoryID == categoryID {
			return g, nil
		}
	}
	return nil, nil
}

func (r *invoiceRepository) CategoryStatistics(ctx context.Context) ([]*CategoryStats, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT c.id, c.name,
		        COUNT(it.id), COALESCE(SUM(it.price), 0), COUNT(DISTINCT it.invoice_id)
		   FROM product_categories c
		   LEFT JOIN invoice_items it ON it.category_id = c.id
		  GROUP BY c.id, c.name
		  ORDER BY c.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := []*CategoryStats{}
	for rows.Next() {
		var s CategoryStats
		var id int64
		if err := rows.Scan(&id, &s.CategoryName, &s.TotalItems, &s.TotalAmount, &s.InvoiceCount); err != nil {
			return nil, err
		}
		s.CategoryID = &id
		if s.TotalItems > 0 {
			s.AveragePerItem = float64(s.TotalAmount) / float64(s.TotalItems)
		}
		stats = append(stats, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var un CategoryStats
	un.CategoryName = "Uncategorized"
	err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(id), COALESCE(SUM(price), 0), COUNT(DISTINCT invoice_id)
		   FROM invoice_items WHERE category_id IS NULL`).
		Scan(&un.TotalItems, &un.TotalAmount, &un.InvoiceCount)
	if err != nil {
		return nil, err
	}
	if un.TotalItems > 0 {
		un.AveragePerItem = float64(un.TotalAmount) / float64(un.TotalItems)
		stats = append(stats, &un)
	}
	return stats, nil
}

// listCategoryRows is a tx-free variant of the category listing used
// to build grouped views without importing the category repository.
func (r *invoiceRepository) listCategoryRows(ctx context.Context) ([]entity.Category, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, COALESCE(description, '') FROM product_categories ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cats []entity.Category
	for rows.Next() {
		var c entity.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description); err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

func truncateString(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func truncatePtr(s *string, max int) *string {
	if s == nil {
		return nil
	}
	t := truncateString(*s, max)
	return &t
}
