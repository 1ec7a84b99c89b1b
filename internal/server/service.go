// Package server exposes the HTTP surface: invoice analysis, storage,
// category views and exports. Handlers stay thin; persistence rules
// live in the repositories and text handling in the parser.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"invoice-scanner/internal/common"
	"invoice-scanner/internal/export"
	"invoice-scanner/internal/parser"
	"invoice-scanner/internal/repository"
)

// TextExtractor is the OCR collaborator. Implementations return an
// empty transcript on provider failure; the error is for logs only.
type TextExtractor interface {
	ExtractText(ctx context.Context, image []byte, filename string) (string, error)
}

// Pinger is the health-check view of the database handle.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Server struct {
	parser     *parser.Parser
	ocr        TextExtractor
	invoices   repository.InvoiceRepository
	categories repository.CategoryRepository
	exporter   *export.Service
	db         Pinger
	enhance    bool
	logger     *slog.Logger
}

func New(
	p *parser.Parser,
	ocr TextExtractor,
	invoices repository.InvoiceRepository,
	categories repository.CategoryRepository,
	exporter *export.Service,
	db Pinger,
	enhance bool,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		parser:     p,
		ocr:        ocr,
		invoices:   invoices,
		categories: categories,
		exporter:   exporter,
		db:         db,
		enhance:    enhance,
		logger:     logger,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestID())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"*"},
		AllowCredentials: false,
	}))

	r.POST("/analyze-invoice", s.analyzeInvoice)
	r.POST("/invoices", s.createInvoice)
	r.GET("/invoices", s.listInvoices)
	r.GET("/invoices/export", s.exportInvoices)
	r.GET("/categories", s.listCategories)
	r.GET("/categories/:id", s.getCategory)
	r.GET("/products/by-category", s.productsByCategory)
	r.GET("/products/by-category/:id", s.productsByCategoryID)
	r.GET("/statistics/by-category", s.statisticsByCategory)
	r.POST("/ocr-invoices", s.createStructuredInvoice)
	r.GET("/healthz", s.healthz)
	return r
}

// requestID tags every request with a UUID, echoed in X-Request-ID and
// attached to the request context for log correlation.
func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-ID", id)
		c.Request = c.Request.WithContext(common.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

func (s *Server) healthz(c *gin.Context) {
	if err := s.db.PingContext(c.Request.Context()); err != nil {
		s.logger.Error("healthz.db_unreachable", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
