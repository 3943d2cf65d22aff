// Package server exposes the KSeF client facade over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/RexEtImperator/skaner-faktur-projekt/internal/ksef"
	"github.com/RexEtImperator/skaner-faktur-projekt/internal/model"
)

// Facade is the slice of the KSeF client consumed by the handlers.
type Facade interface {
	TestSession(ctx context.Context) error
	ListInvoicesSince(ctx context.Context, since string) ([]model.InvoiceHeader, error)
	ImportInvoice(ctx context.Context, reference string) (*model.Invoice, []model.LineItem, []model.VatBreakdownRow, error)
}

// ClientFactory builds a facade for one set of taxpayer credentials.
// Each request carries its own credentials, so clients are constructed
// per call.
type ClientFactory func(creds ksef.Credentials) Facade

// Config holds server configuration
type Config struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Debug        bool
}

// Server represents the HTTP API server
type Server struct {
	config  *Config
	router  *gin.Engine
	clients ClientFactory
}

// NewServer creates a new API server
func NewServer(config *Config, clients ClientFactory) *Server {
	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if config.Debug {
		router.Use(gin.Logger())
	}

	s := &Server{
		config:  config,
		router:  router,
		clients: clients,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", s.handleHealth)

	// API v1
	v1 := s.router.Group("/api/v1/ksef")
	{
		v1.POST("/test", s.handleTestSession)
		v1.POST("/invoices", s.handleListInvoices)
		v1.POST("/import", s.handleImportInvoice)
	}
}

// Run starts the HTTP server
func (s *Server) Run() error {
	srv := &http.Server{
		Addr:         s.config.Address,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	return srv.ListenAndServe()
}

// Handler returns the http.Handler for use with custom servers
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleTestSession(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request: " + err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Minute)
	defer cancel()

	client := s.clients(credentials(req))
	if err := client.TestSession(ctx); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, TestResponse{
		Success: true,
		Message: "KSeF session established",
	})
}

func (s *Server) handleListInvoices(c *gin.Context) {
	var req ListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request: " + err.Error()})
		return
	}
	if _, err := time.Parse("2006-01-02", req.StartDate); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "start_date must be YYYY-MM-DD"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Minute)
	defer cancel()

	client := s.clients(credentials(req.CredentialsRequest))
	headers, err := client.ListInvoicesSince(ctx, req.StartDate)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, ListResponse{
		Invoices: headers,
		Count:    len(headers),
	})
}

func (s *Server) handleImportInvoice(c *gin.Context) {
	var req ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request: " + err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Minute)
	defer cancel()

	client := s.clients(credentials(req.CredentialsRequest))
	invoice, items, breakdown, err := client.ImportInvoice(ctx, req.Reference)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, ImportResponse{
		Invoice:      invoice,
		Items:        items,
		VatBreakdown: breakdown,
	})
}

func credentials(req CredentialsRequest) ksef.Credentials {
	return ksef.Credentials{
		NIP:       req.NIP,
		AuthToken: req.Token,
		KeyRef:    req.KeyRef,
	}
}

// writeError maps the client error taxonomy onto HTTP statuses:
// authentication problems are the caller's configuration to fix,
// transport problems are transient, unknown Exchange codes are
// upstream faults.
func writeError(c *gin.Context, err error) {
	var kerr *ksef.Error
	if !errors.As(err, &kerr) {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	status := http.StatusInternalServerError
	switch kerr.Kind {
	case ksef.KindAuthSession, ksef.KindAuthCredentials:
		status = http.StatusUnauthorized
	case ksef.KindValidation:
		status = http.StatusBadRequest
	case ksef.KindTransport:
		status = http.StatusServiceUnavailable
	case ksef.KindUnknownRemote:
		status = http.StatusBadGateway
	case ksef.KindKeyUnavailable, ksef.KindSigning:
		status = http.StatusInternalServerError
	}

	c.JSON(status, ErrorResponse{
		Error:     kerr.Message,
		Kind:      kerr.Kind.String(),
		Retriable: kerr.Retriable,
	})
}
