package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	_ "modernc.org/sqlite"

	"invoice-scanner/internal/export"
	"invoice-scanner/internal/parser"
	"invoice-scanner/internal/repository"
	"invoice-scanner/internal/taxonomy"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testSchema = `
CREATE TABLE product_categories (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    description TEXT
);
CREATE TABLE invoices (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    invoice_number TEXT,
    merchant_name TEXT,
    supplier_name TEXT,
    date TEXT,
    total_amount INTEGER NOT NULL DEFAULT 0,
    vat_rate INTEGER NOT NULL DEFAULT 0,
    vat_amount INTEGER NOT NULL DEFAULT 0,
    raw_text TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE TABLE invoice_items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    invoice_id INTEGER NOT NULL REFERENCES invoices (id) ON DELETE CASCADE,
    category_id INTEGER REFERENCES product_categories (id),
    name TEXT,
    quantity INTEGER NOT NULL DEFAULT 0,
    unit_price INTEGER NOT NULL DEFAULT 0,
    price INTEGER NOT NULL DEFAULT 0
);
`

// stubOCR returns a canned transcript, or an error when set.
type stubOCR struct {
	text string
	err  error
}

func (s *stubOCR) ExtractText(_ context.Context, _ []byte, _ string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.text, nil
}

func testRouter(t *testing.T, ocrStub *stubOCR) *gin.Engine {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(testSchema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	categories := repository.NewCategoryRepository(db, logger)
	if err := categories.Seed(context.Background(), taxonomy.DefaultCategories()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	invoices := repository.NewInvoiceRepository(db, logger)
	exporter := export.NewService(invoices, logger)
	if ocrStub == nil {
		ocrStub = &stubOCR{}
	}

	srv := New(parser.New(parser.PolicySum), ocrStub, invoices, categories, exporter, db, false, logger)
	return srv.Router()
}

func do(t *testing.T, router *gin.Engine, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func multipartImage(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return buf, mw.FormDataContentType()
}

func TestAnalyzeInvoice(t *testing.T) {
	receipt := "Highlands Coffee\r\nNgay: 05/11/2024\r\nLatte ..... 45,000\r\nBanh mi: 30.000\r\nTong cong: 75,000"
	router := testRouter(t, &stubOCR{text: receipt})

	body, ct := multipartImage(t, "file", "receipt.jpg", []byte("fake image bytes"))
	w := do(t, router, http.MethodPost, "/analyze-invoice", body, ct)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		MerchantName string `json:"merchant_name"`
		Date         string `json:"date"`
		TotalAmount  int64  `json:"total_amount"`
		Items        []struct {
			Name  string `json:"name"`
			Price int64  `json:"price"`
		} `json:"items"`
		RawText string `json:"raw_text"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.MerchantName != "Highlands Coffee" {
		t.Errorf("merchant = %q", resp.MerchantName)
	}
	if resp.Date != "05/11/2024" {
		t.Errorf("date = %q", resp.Date)
	}
	if len(resp.Items) != 3 {
		t.Fatalf("items = %+v", resp.Items)
	}
	if resp.TotalAmount != 150000 {
		t.Errorf("total = %d, want sum 150000", resp.TotalAmount)
	}
	if resp.RawText != receipt {
		t.Error("raw_text should echo the transcript")
	}
}

func TestAnalyzeInvoiceOCRFailureStillSucceeds(t *testing.T) {
	router := testRouter(t, &stubOCR{err: errors.New("provider down")})

	body, ct := multipartImage(t, "file", "receipt.jpg", []byte("fake"))
	w := do(t, router, http.MethodPost, "/analyze-invoice", body, ct)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 despite OCR failure", w.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["merchant_name"] != "Unknown" {
		t.Errorf("merchant = %v, want default", resp["merchant_name"])
	}
}

func TestAnalyzeInvoiceRejectsOversizedUpload(t *testing.T) {
	router := testRouter(t, &stubOCR{text: "should never be reached"})

	body, ct := multipartImage(t, "file", "huge.jpg", bytes.Repeat([]byte("x"), maxUploadBytes+1))
	w := do(t, router, http.MethodPost, "/analyze-invoice", body, ct)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", w.Code)
	}
}

func TestAnalyzeInvoiceRequiresFile(t *testing.T) {
	router := testRouter(t, nil)
	w := do(t, router, http.MethodPost, "/analyze-invoice", strings.NewReader(""), "application/json")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestCreateInvoiceLenientPayload(t *testing.T) {
	router := testRouter(t, nil)

	payload := `{
		"merchant_name": "Coffee House",
		"date": "05/11/2024",
		"total_amount": "75,000",
		"items": [
			{"name": "Latte", "price": "45.000", "category_id": "1"},
			{"name": null, "price": -5},
			{"name": "Bagel", "price": 30000, "category_id": 9999}
		]
	}`
	w := do(t, router, http.MethodPost, "/invoices", strings.NewReader(payload), "application/json")
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var created struct {
		Message string `json:"message"`
		ID      int64  `json:"id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Message != "Success" || created.ID == 0 {
		t.Fatalf("created = %+v", created)
	}

	lw := do(t, router, http.MethodGet, "/invoices", nil, "")
	if lw.Code != http.StatusOK {
		t.Fatalf("list status = %d", lw.Code)
	}
	var invoices []struct {
		MerchantName string `json:"merchant_name"`
		TotalAmount  int64  `json:"total_amount"`
		Items        []struct {
			Name       string `json:"name"`
			Price      int64  `json:"price"`
			CategoryID *int64 `json:"category_id"`
		} `json:"items"`
	}
	if err := json.Unmarshal(lw.Body.Bytes(), &invoices); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(invoices) != 1 {
		t.Fatalf("got %d invoices", len(invoices))
	}
	inv := invoices[0]
	// 45000 + 0 + 30000: negative price coerced to zero, total recomputed.
	if inv.TotalAmount != 75000 {
		t.Errorf("total = %d, want 75000", inv.TotalAmount)
	}
	if inv.Items[0].Price != 45000 {
		t.Errorf("coerced price = %d, want 45000", inv.Items[0].Price)
	}
	if inv.Items[0].CategoryID == nil || *inv.Items[0].CategoryID != 1 {
		t.Errorf("string category id not coerced: %+v", inv.Items[0])
	}
	if inv.Items[1].Name != "Unknown Item" || inv.Items[1].Price != 0 {
		t.Errorf("null name / negative price defaults: %+v", inv.Items[1])
	}
	if inv.Items[2].CategoryID != nil {
		t.Errorf("unknown category should be nulled: %+v", inv.Items[2])
	}
}

func TestCreateInvoiceResolvesCategoryNames(t *testing.T) {
	router := testRouter(t, nil)

	payload := `{
		"merchant_name": "Corner Shop",
		"items": [
			{"name": "Latte", "price": 45000, "category": "coffee"},
			{"name": "Pens", "price": 20000, "category": "Offce Supplies"},
			{"name": "Gadget", "price": 10000, "category": "quantum physics"},
			{"name": "Soap", "price": 5000, "category": "coffee", "category_id": 2}
		]
	}`
	w := do(t, router, http.MethodPost, "/invoices", strings.NewReader(payload), "application/json")
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	lw := do(t, router, http.MethodGet, "/invoices", nil, "")
	var invoices []struct {
		Items []struct {
			Name         string `json:"name"`
			CategoryID   *int64 `json:"category_id"`
			CategoryName string `json:"category_name"`
		} `json:"items"`
	}
	if err := json.Unmarshal(lw.Body.Bytes(), &invoices); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	items := invoices[0].Items

	if items[0].CategoryName != "Food & Beverages" {
		t.Errorf("synonym label resolved to %q, want Food & Beverages", items[0].CategoryName)
	}
	if items[1].CategoryName != "Office Supplies" {
		t.Errorf("fuzzy label resolved to %q, want Office Supplies", items[1].CategoryName)
	}
	if items[2].CategoryID != nil {
		t.Errorf("unresolvable label should stay uncategorized, got %q", items[2].CategoryName)
	}
	// An explicit id wins over the free-form label.
	if items[3].CategoryID == nil || *items[3].CategoryID != 2 {
		t.Errorf("explicit category_id overridden: %+v", items[3])
	}
}

func TestCreateInvoiceOverflowingTotalStoresZero(t *testing.T) {
	router := testRouter(t, nil)

	payload := `{"merchant_name": "Big Spender", "total_amount": 1e30}`
	w := do(t, router, http.MethodPost, "/invoices", strings.NewReader(payload), "application/json")
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	lw := do(t, router, http.MethodGet, "/invoices", nil, "")
	var invoices []struct {
		TotalAmount int64 `json:"total_amount"`
	}
	if err := json.Unmarshal(lw.Body.Bytes(), &invoices); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if invoices[0].TotalAmount != 0 {
		t.Errorf("total = %d, want 0 for an amount beyond int64", invoices[0].TotalAmount)
	}
}

func TestCreateInvoiceRejectsMalformedShape(t *testing.T) {
	router := testRouter(t, nil)
	w := do(t, router, http.MethodPost, "/invoices", strings.NewReader(`{"items": "not-an-array"}`), "application/json")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestCategoryEndpoints(t *testing.T) {
	router := testRouter(t, nil)

	w := do(t, router, http.MethodGet, "/categories", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var cats []struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &cats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(cats) != len(taxonomy.DefaultCategories()) {
		t.Fatalf("got %d categories", len(cats))
	}

	single := do(t, router, http.MethodGet, "/categories/1", nil, "")
	if single.Code != http.StatusOK {
		t.Fatalf("status = %d", single.Code)
	}
	missing := do(t, router, http.MethodGet, "/categories/9999", nil, "")
	if missing.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", missing.Code)
	}
	bad := do(t, router, http.MethodGet, "/categories/abc", nil, "")
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", bad.Code)
	}
}

func TestProductsByCategory(t *testing.T) {
	router := testRouter(t, nil)

	payload := `{"merchant_name": "Shop", "items": [{"name": "Soap", "price": 20000, "category_id": 2}, {"name": "Mystery", "price": 5000}]}`
	if w := do(t, router, http.MethodPost, "/invoices", strings.NewReader(payload), "application/json"); w.Code != http.StatusCreated {
		t.Fatalf("create status = %d", w.Code)
	}

	w := do(t, router, http.MethodGet, "/products/by-category", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var groups []struct {
		CategoryID  *int64 `json:"category_id"`
		TotalItems  int    `json:"total_items"`
		TotalAmount int64  `json:"total_amount"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &groups); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// 20 seeded buckets plus the uncategorized one.
	if len(groups) != len(taxonomy.DefaultCategories())+1 {
		t.Fatalf("got %d groups", len(groups))
	}
	last := groups[len(groups)-1]
	if last.CategoryID != nil || last.TotalItems != 1 || last.TotalAmount != 5000 {
		t.Errorf("uncategorized group = %+v", last)
	}

	byID := do(t, router, http.MethodGet, "/products/by-category/2", nil, "")
	if byID.Code != http.StatusOK {
		t.Fatalf("status = %d", byID.Code)
	}
	missing := do(t, router, http.MethodGet, "/products/by-category/9999", nil, "")
	if missing.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", missing.Code)
	}
}

func TestStatisticsByCategory(t *testing.T) {
	router := testRouter(t, nil)

	payload := `{"merchant_name": "Shop", "items": [{"name": "A", "price": 10000, "category_id": 1}, {"name": "B", "price": 30000, "category_id": 1}]}`
	if w := do(t, router, http.MethodPost, "/invoices", strings.NewReader(payload), "application/json"); w.Code != http.StatusCreated {
		t.Fatalf("create status = %d", w.Code)
	}

	w := do(t, router, http.MethodGet, "/statistics/by-category", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var stats []struct {
		CategoryID     *int64  `json:"category_id"`
		TotalItems     int     `json:"total_items"`
		TotalAmount    int64   `json:"total_amount"`
		InvoiceCount   int     `json:"invoice_count"`
		AveragePerItem float64 `json:"average_per_item"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	var found bool
	for _, st := range stats {
		if st.CategoryID != nil && *st.CategoryID == 1 {
			found = true
			if st.TotalItems != 2 || st.TotalAmount != 40000 || st.InvoiceCount != 1 || st.AveragePerItem != 20000 {
				t.Errorf("stats = %+v", st)
			}
		}
	}
	if !found {
		t.Fatal("missing stats for category 1")
	}
}

func TestCreateStructuredInvoice(t *testing.T) {
	router := testRouter(t, nil)

	payload := `{
		"invoiceNumber": "INV-001",
		"supplierName": "Paper Co",
		"date": "01/02/2024",
		"totalAmount": "110,000",
		"vatRate": 10,
		"vatAmount": 10000,
		"productCategory": {"id": 1},
		"lineItems": [{"productName": "Paper", "quantity": 10, "unitPrice": 10000, "total": 0}]
	}`
	w := do(t, router, http.MethodPost, "/ocr-invoices", strings.NewReader(payload), "application/json")
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Message       string `json:"message"`
		ID            int64  `json:"id"`
		InvoiceNumber string `json:"invoiceNumber"`
		TotalAmount   int64  `json:"totalAmount"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.InvoiceNumber != "INV-001" || resp.TotalAmount != 110000 {
		t.Fatalf("resp = %+v", resp)
	}

	lw := do(t, router, http.MethodGet, "/invoices", nil, "")
	var invoices []struct {
		InvoiceNumber *string `json:"invoice_number"`
		MerchantName  string  `json:"merchant_name"`
		TotalAmount   int64   `json:"total_amount"`
		Items         []struct {
			Quantity  int64 `json:"quantity"`
			UnitPrice int64 `json:"unit_price"`
			Price     int64 `json:"price"`
		} `json:"items"`
	}
	if err := json.Unmarshal(lw.Body.Bytes(), &invoices); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	inv := invoices[0]
	if inv.InvoiceNumber == nil || *inv.InvoiceNumber != "INV-001" {
		t.Errorf("invoice number = %v", inv.InvoiceNumber)
	}
	if inv.MerchantName != "Paper Co" {
		t.Errorf("merchant should mirror supplier, got %q", inv.MerchantName)
	}
	// Submitted total kept; zero line total backfilled from qty*unit.
	if inv.TotalAmount != 110000 {
		t.Errorf("total = %d, want 110000", inv.TotalAmount)
	}
	if inv.Items[0].Price != 100000 {
		t.Errorf("line total = %d, want 100000", inv.Items[0].Price)
	}
}

func TestCreateStructuredInvoiceValidation(t *testing.T) {
	router := testRouter(t, nil)

	cases := []struct {
		name    string
		payload string
	}{
		{"missing invoice number", `{"productCategory": {"id": 1}, "lineItems": [{"productName": "X"}]}`},
		{"missing category", `{"invoiceNumber": "A", "lineItems": [{"productName": "X"}]}`},
		{"unknown category", `{"invoiceNumber": "A", "productCategory": {"id": 9999}, "lineItems": [{"productName": "X"}]}`},
		{"no line items", `{"invoiceNumber": "A", "productCategory": {"id": 1}, "lineItems": []}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, router, http.MethodPost, "/ocr-invoices", strings.NewReader(tc.payload), "application/json")
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400, body %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestExportInvoices(t *testing.T) {
	router := testRouter(t, nil)

	payload := `{"merchant_name": "Shop", "items": [{"name": "Soap", "price": 20000}]}`
	if w := do(t, router, http.MethodPost, "/invoices", strings.NewReader(payload), "application/json"); w.Code != http.StatusCreated {
		t.Fatalf("create status = %d", w.Code)
	}

	w := do(t, router, http.MethodGet, "/invoices/export?limit=5", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Errorf("content type = %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "invoices.xlsx") {
		t.Errorf("content disposition = %q", cd)
	}
	// XLSX files are zip archives.
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("PK")) {
		t.Error("body does not look like a zip archive")
	}

	bad := do(t, router, http.MethodGet, "/invoices/export?limit=abc", nil, "")
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", bad.Code)
	}
}

func TestHealthz(t *testing.T) {
	router := testRouter(t, nil)
	w := do(t, router, http.MethodGet, "/healthz", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestRequestIDEcho(t *testing.T) {
	router := testRouter(t, nil)

	w := do(t, router, http.MethodGet, "/healthz", nil, "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-ID") != "fixed-id" {
		t.Error("expected the caller's request id to be echoed")
	}
}
