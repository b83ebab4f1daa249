package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"demper-service/internal/models"
	"demper-service/internal/service"
	"demper-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ProductStore is the storage surface the HTTP API uses
type ProductStore interface {
	CreateProduct(ctx context.Context, product *models.TrackedProduct) error
	GetProducts(ctx context.Context) ([]models.TrackedProduct, error)
	GetProductByID(ctx context.Context, id int64) (*models.TrackedProduct, error)
	UpdateProductConfig(ctx context.Context, id int64, minMargin int64, maxPrice *int64, priceStep int64, checkIntervalSeconds int) error
	SetProductsActiveBySKU(ctx context.Context, skus []string, active bool) (int64, error)
	GetPriceHistory(ctx context.Context, productID int64, from, to *time.Time) ([]models.PriceHistoryEntry, error)
	GetLastEntry(ctx context.Context, productID int64) (*models.PriceHistoryEntry, error)
	GetLossSummary(ctx context.Context, productID *int64, from, to *time.Time) (*models.LossSummary, error)
}

// Handler contains HTTP handlers
type Handler struct {
	store           ProductStore
	demper          *service.DemperService
	defaultInterval int
}

// NewHandler creates a new HTTP handler. defaultIntervalSeconds is used when
// a product is created without an explicit check interval.
func NewHandler(store ProductStore, demper *service.DemperService, defaultIntervalSeconds int) *Handler {
	return &Handler{
		store:           store,
		demper:          demper,
		defaultInterval: defaultIntervalSeconds,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/products", h.createProduct)
		v1.GET("/products", h.listProducts)
		v1.GET("/products/:id", h.getProduct)
		v1.PUT("/products/:id", h.updateProduct)
		v1.POST("/products/batch_enable", h.batchSetActive(true))
		v1.POST("/products/batch_disable", h.batchSetActive(false))
		v1.POST("/products/:id/price", h.overridePrice)
		v1.GET("/products/:id/history", h.getHistory)
		v1.GET("/analytics/losses", h.getLosses)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// CreateProductRequest enables price tracking for a listing
type CreateProductRequest struct {
	SKU                  string `json:"sku" binding:"required"`
	ExternalID           string `json:"external_id"`
	Name                 string `json:"name" binding:"required"`
	CurrentPrice         int64  `json:"current_price" binding:"required,gt=0"`
	Cost                 int64  `json:"cost" binding:"required,gt=0"`
	MinMargin            int64  `json:"min_margin" binding:"min=0"`
	MaxPrice             *int64 `json:"max_price"`
	PriceStep            int64  `json:"price_step" binding:"required,min=1"`
	CheckIntervalSeconds int    `json:"check_interval_seconds"`
}

func (h *Handler) createProduct(c *gin.Context) {
	var req CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	minPrice := req.Cost + req.MinMargin
	if req.CurrentPrice < minPrice {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "current_price is below the margin floor (cost + min_margin)",
		})
		return
	}
	if req.MaxPrice != nil && *req.MaxPrice < minPrice {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "max_price is below the margin floor",
		})
		return
	}

	interval := req.CheckIntervalSeconds
	if interval == 0 {
		interval = h.defaultInterval
	}

	product := &models.TrackedProduct{
		SKU:                  req.SKU,
		ExternalID:           req.ExternalID,
		Name:                 req.Name,
		CurrentPrice:         req.CurrentPrice,
		Cost:                 req.Cost,
		MinMargin:            req.MinMargin,
		MaxPrice:             req.MaxPrice,
		PriceStep:            req.PriceStep,
		CheckIntervalSeconds: models.ClampCheckInterval(interval),
		IsActive:             true,
	}

	if err := h.store.CreateProduct(c.Request.Context(), product); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to create product",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, product)
}

type productView struct {
	models.TrackedProduct
	Stale      bool                      `json:"stale"`
	LastChange *models.PriceHistoryEntry `json:"last_change,omitempty"`
}

func (h *Handler) listProducts(c *gin.Context) {
	products, err := h.store.GetProducts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to list products",
			"details": err.Error(),
		})
		return
	}

	now := time.Now()
	views := make([]productView, 0, len(products))
	for _, p := range products {
		views = append(views, productView{TrackedProduct: p, Stale: p.IsStale(now)})
	}

	c.JSON(http.StatusOK, gin.H{"products": views, "total": len(views)})
}

func (h *Handler) getProduct(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	product, err := h.store.GetProductByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Product not found",
			"details": err.Error(),
		})
		return
	}

	last, err := h.store.GetLastEntry(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to load last price change",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, productView{
		TrackedProduct: *product,
		Stale:          product.IsStale(time.Now()),
		LastChange:     last,
	})
}

// UpdateProductRequest edits pricing guardrails; changes take effect on the
// next cycle
type UpdateProductRequest struct {
	MinMargin            int64  `json:"min_margin" binding:"min=0"`
	MaxPrice             *int64 `json:"max_price"`
	PriceStep            int64  `json:"price_step" binding:"required,min=1"`
	CheckIntervalSeconds int    `json:"check_interval_seconds"`
}

func (h *Handler) updateProduct(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req UpdateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	product, err := h.store.GetProductByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Product not found",
			"details": err.Error(),
		})
		return
	}

	// The floor moves with min_margin; the ceiling must stay at or above it
	if req.MaxPrice != nil && *req.MaxPrice < product.Cost+req.MinMargin {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "max_price is below the margin floor (cost + min_margin)",
		})
		return
	}

	err = h.store.UpdateProductConfig(c.Request.Context(), id,
		req.MinMargin, req.MaxPrice, req.PriceStep,
		models.ClampCheckInterval(req.CheckIntervalSeconds))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to update product",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// BatchRequest toggles tracking for a set of SKUs
type BatchRequest struct {
	SKUs []string `json:"skus" binding:"required,min=1"`
}

func (h *Handler) batchSetActive(active bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req BatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid request body",
				"details": err.Error(),
			})
			return
		}

		updated, err := h.store.SetProductsActiveBySKU(c.Request.Context(), req.SKUs, active)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "Failed to update products",
				"details": err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":       true,
			"updated_count": updated,
		})
	}
}

// OverridePriceRequest applies a seller-chosen price immediately
type OverridePriceRequest struct {
	Price int64 `json:"price" binding:"required,gt=0"`
}

func (h *Handler) overridePrice(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req OverridePriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	product, err := h.store.GetProductByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Product not found",
			"details": err.Error(),
		})
		return
	}

	if req.Price < product.MinPrice() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "price is below the margin floor",
		})
		return
	}

	result, err := h.demper.ManualOverride(c.Request.Context(), product, req.Price)
	if err == service.ErrCycleInFlight {
		c.JSON(http.StatusConflict, gin.H{
			"error": "A pricing cycle is in progress for this product, try again",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "Failed to apply price",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"old_price": result.OldPrice,
		"new_price": result.NewPrice,
		"reason":    result.Reason,
	})
}

func (h *Handler) getHistory(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	from, to, ok := parseDateRange(c)
	if !ok {
		return
	}

	entries, err := h.store.GetPriceHistory(c.Request.Context(), id, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to load price history",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"history": entries, "total": len(entries)})
}

func (h *Handler) getLosses(c *gin.Context) {
	var productID *int64
	if raw := c.Query("product_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product_id"})
			return
		}
		productID = &id
	}

	from, to, ok := parseDateRange(c)
	if !ok {
		return
	}

	summary, err := h.store.GetLossSummary(c.Request.Context(), productID, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to load loss summary",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, summary)
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return 0, false
	}
	return id, true
}

func parseDateRange(c *gin.Context) (from, to *time.Time, ok bool) {
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'from' date, expected RFC3339"})
			return nil, nil, false
		}
		from = &t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'to' date, expected RFC3339"})
			return nil, nil, false
		}
		to = &t
	}
	return from, to, true
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
