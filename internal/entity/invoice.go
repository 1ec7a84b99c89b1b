package entity

import "time"

// Invoice represents a stored invoice for data transfer between layers.
type Invoice struct {
	ID            int64         `json:"id"`
	InvoiceNumber *string       `json:"invoice_number,omitempty"`
	MerchantName  string        `json:"merchant_name"`
	SupplierName  *string       `json:"supplier_name,omitempty"`
	Date          string        `json:"date"`
	TotalAmount   int64         `json:"total_amount"`
	VATRate       int32         `json:"vat_rate,omitempty"`
	VATAmount     int64         `json:"vat_amount,omitempty"`
	RawText       string        `json:"raw_text"`
	Items         []InvoiceItem `json:"items"`
	CreatedAt     time.Time     `json:"created_at"`
}

// InvoiceItem is one purchased product/service entry on an invoice.
// Quantity and UnitPrice are only populated by the structured OCR
// create path; the heuristic parser produces name and price alone.
type InvoiceItem struct {
	ID           int64  `json:"id"`
	InvoiceID    int64  `json:"invoice_id"`
	CategoryID   *int64 `json:"category_id,omitempty"`
	CategoryName string `json:"category_name,omitempty"`
	Name         string `json:"name"`
	Quantity     int64  `json:"quantity,omitempty"`
	UnitPrice    int64  `json:"unit_price,omitempty"`
	Price        int64  `json:"price"`
}
