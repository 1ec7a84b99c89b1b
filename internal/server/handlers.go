package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"invoice-scanner/internal/common"
	"invoice-scanner/internal/entity"
	"invoice-scanner/internal/ocr"
	"invoice-scanner/internal/taxonomy"
)

// maxUploadBytes caps receipt uploads; OCR.space rejects big files
// anyway, so there is no point buffering them.
const maxUploadBytes = 10 << 20

func (s *Server) analyzeInvoice(c *gin.Context) {
	ctx := c.Request.Context()
	reqID := common.RequestIDFromContext(ctx)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read uploaded file"})
		return
	}
	defer f.Close()

	// Read one byte past the cap so an oversized upload is rejected
	// whole rather than clipped to a partial image.
	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read uploaded file"})
		return
	}
	if len(data) > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}

	if s.enhance {
		if enhanced, err := ocr.EnhanceImage(data); err != nil {
			// Undecodable uploads are still sent as-is; the provider
			// gives a better error than we could guess here.
			s.logger.Warn("analyze.enhance_failed", "request_id", reqID, "error", err)
		} else {
			data = enhanced
		}
	}

	text, err := s.ocr.ExtractText(ctx, data, fileHeader.Filename)
	if err != nil {
		s.logger.Warn("analyze.ocr_failed", "request_id", reqID, "error", err)
	}

	inv := s.parser.Parse(text)
	s.logger.Info("analyze.done",
		"request_id", reqID,
		"items", len(inv.Items),
		"total", inv.TotalAmount,
	)
	c.JSON(http.StatusOK, inv)
}

type createItemRequest struct {
	Name       *string    `json:"name"`
	Price      FlexAmount `json:"price"`
	CategoryID FlexID     `json:"category_id"`
	// Category is a free-form label ("coffee", "Offce Supplies"); it
	// is resolved to a seeded bucket when category_id is absent.
	Category *string `json:"category"`
}

type createInvoiceRequest struct {
	MerchantName *string             `json:"merchant_name"`
	Date         *string             `json:"date"`
	TotalAmount  FlexAmount          `json:"total_amount"`
	RawText      *string             `json:"raw_text"`
	Items        []createItemRequest `json:"items"`
}

func (s *Server) createInvoice(c *gin.Context) {
	ctx := c.Request.Context()
	reqID := common.RequestIDFromContext(ctx)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxUploadBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read request body"})
		return
	}
	if err := validateAgainst(compiledInvoiceSchema, body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": schemaError(err)})
		return
	}
	var req createInvoiceRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON"})
		return
	}

	inv := &entity.Invoice{
		MerchantName: stringOr(req.MerchantName, "Unknown Store"),
		Date:         stringOr(req.Date, ""),
		TotalAmount:  req.TotalAmount.Int64(),
		RawText:      stringOr(req.RawText, ""),
	}
	for _, it := range req.Items {
		categoryID := it.CategoryID.Value
		if categoryID == nil && it.Category != nil {
			categoryID = s.resolveCategoryName(ctx, *it.Category, reqID)
		}
		inv.Items = append(inv.Items, entity.InvoiceItem{
			Name:       stringOr(it.Name, "Unknown Item"),
			Price:      it.Price.Int64(),
			CategoryID: categoryID,
		})
	}

	id, err := s.invoices.CreateInvoice(ctx, inv)
	if err != nil {
		s.logger.Error("invoice.create_failed", "request_id", reqID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save invoice"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Success", "id": id})
}

// resolveCategoryName maps a free-form category label to a seeded
// bucket id. Labels that fall through to the catch-all, or buckets
// missing from the table, leave the item uncategorized.
func (s *Server) resolveCategoryName(ctx context.Context, label string, reqID string) *int64 {
	canonical, ok := taxonomy.Canonicalize(label)
	if !ok {
		return nil
	}
	cat, err := s.categories.GetByName(ctx, canonical)
	if err != nil {
		if !errors.Is(err, common.ErrNotFound) {
			s.logger.Error("invoice.category_lookup_failed", "request_id", reqID, "category", canonical, "error", err)
		}
		return nil
	}
	return &cat.ID
}

func (s *Server) listInvoices(c *gin.Context) {
	invoices, err := s.invoices.ListInvoices(c.Request.Context(), 20)
	if err != nil {
		s.logger.Error("invoice.list_failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list invoices"})
		return
	}
	c.JSON(http.StatusOK, invoices)
}

func (s *Server) listCategories(c *gin.Context) {
	cats, err := s.categories.ListCategories(c.Request.Context())
	if err != nil {
		s.logger.Error("category.list_failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list categories"})
		return
	}
	if cats == nil {
		cats = []*entity.Category{}
	}
	c.JSON(http.StatusOK, cats)
}

func (s *Server) getCategory(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid category id"})
		return
	}
	cat, err := s.categories.GetByID(c.Request.Context(), id)
	if errors.Is(err, common.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "category not found"})
		return
	}
	if err != nil {
		s.logger.Error("category.get_failed", "category_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load category"})
		return
	}
	c.JSON(http.StatusOK, cat)
}

func (s *Server) productsByCategory(c *gin.Context) {
	groups, err := s.invoices.ItemsByCategory(c.Request.Context())
	if err != nil {
		s.logger.Error("category.group_failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to group products"})
		return
	}
	c.JSON(http.StatusOK, groups)
}

func (s *Server) productsByCategoryID(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid category id"})
		return
	}
	group, err := s.invoices.ItemsByCategoryID(c.Request.Context(), id)
	if err != nil {
		s.logger.Error("category.group_failed", "category_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to group products"})
		return
	}
	if group == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "category not found"})
		return
	}
	c.JSON(http.StatusOK, group)
}

func (s *Server) statisticsByCategory(c *gin.Context) {
	stats, err := s.invoices.CategoryStatistics(c.Request.Context())
	if err != nil {
		s.logger.Error("category.stats_failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute statistics"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

type lineItemRequest struct {
	ProductName *string    `json:"productName"`
	Quantity    FlexAmount `json:"quantity"`
	UnitPrice   FlexAmount `json:"unitPrice"`
	Total       FlexAmount `json:"total"`
}

type structuredInvoiceRequest struct {
	InvoiceNumber   string     `json:"invoiceNumber"`
	SupplierName    string     `json:"supplierName"`
	Date            string     `json:"date"`
	TotalAmount     FlexAmount `json:"totalAmount"`
	VATRate         FlexAmount `json:"vatRate"`
	VATAmount       FlexAmount `json:"vatAmount"`
	RawText         string     `json:"rawText"`
	ProductCategory *struct {
		ID FlexID `json:"id"`
	} `json:"productCategory"`
	LineItems []lineItemRequest `json:"lineItems"`
}

func (s *Server) createStructuredInvoice(c *gin.Context) {
	ctx := c.Request.Context()
	reqID := common.RequestIDFromContext(ctx)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxUploadBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read request body"})
		return
	}
	if err := validateAgainst(compiledStructuredSchema, body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": schemaError(err)})
		return
	}
	var req structuredInvoiceRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON"})
		return
	}

	if req.InvoiceNumber == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invoice number is required"})
		return
	}
	if req.ProductCategory == nil || req.ProductCategory.ID.Value == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "product category is required"})
		return
	}
	if len(req.LineItems) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one line item is required"})
		return
	}

	categoryID := *req.ProductCategory.ID.Value
	ok, err := s.categories.Exists(ctx, categoryID)
	if err != nil {
		s.logger.Error("ocr_invoice.category_check_failed", "request_id", reqID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify category"})
		return
	}
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "category does not exist"})
		return
	}

	number := req.InvoiceNumber
	supplier := req.SupplierName
	inv := &entity.Invoice{
		InvoiceNumber: &number,
		SupplierName:  &supplier,
		MerchantName:  supplier,
		Date:          req.Date,
		TotalAmount:   req.TotalAmount.Int64(),
		VATRate:       int32(req.VATRate.Int64()),
		VATAmount:     req.VATAmount.Int64(),
		RawText:       req.RawText,
	}
	for _, li := range req.LineItems {
		total := li.Total.Int64()
		if total == 0 {
			total = li.Quantity.Int64() * li.UnitPrice.Int64()
		}
		catID := categoryID
		inv.Items = append(inv.Items, entity.InvoiceItem{
			Name:       stringOr(li.ProductName, ""),
			Quantity:   li.Quantity.Int64(),
			UnitPrice:  li.UnitPrice.Int64(),
			Price:      total,
			CategoryID: &catID,
		})
	}

	id, err := s.invoices.CreateStructuredInvoice(ctx, inv)
	if err != nil {
		s.logger.Error("ocr_invoice.create_failed", "request_id", reqID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save invoice"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message":       "Success",
		"id":            id,
		"invoiceNumber": req.InvoiceNumber,
		"totalAmount":   req.TotalAmount.Int64(),
	})
}

func (s *Server) exportInvoices(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	data, err := s.exporter.ExportInvoicesXLSX(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("export.failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to export invoices"})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="invoices.xlsx"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

func stringOr(s *string, fallback string) string {
	if s == nil || *s == "" {
		return fallback
	}
	return *s
}
