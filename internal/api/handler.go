package api

import (
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"pos-terminal/internal/cart"
	"pos-terminal/internal/catalog"
	"pos-terminal/internal/journal"
	"pos-terminal/internal/localstore"
	"pos-terminal/internal/models"
	"pos-terminal/internal/service"
	"pos-terminal/internal/upstream"
	"pos-terminal/internal/util"
)

// Handler contains the terminal's HTTP handlers
type Handler struct {
	checkout  *service.CheckoutService
	products  *service.ProductService
	catalog   *catalog.Client
	journal   *journal.Journal
	store     *localstore.Store
	storeCode string
	uploadDir string
}

// NewHandler creates a new HTTP handler
func NewHandler(
	checkout *service.CheckoutService,
	products *service.ProductService,
	catalogClient *catalog.Client,
	jnl *journal.Journal,
	store *localstore.Store,
	storeCode string,
	uploadDir string,
) *Handler {
	return &Handler{
		checkout:  checkout,
		products:  products,
		catalog:   catalogClient,
		journal:   jnl,
		store:     store,
		storeCode: storeCode,
		uploadDir: uploadDir,
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
		v1.GET("/cart", h.getCart)
		v1.POST("/cart/items", h.addItem)
		v1.POST("/cart/quick-sale", h.addQuickSale)
		v1.PATCH("/cart/items/:id/quantity", h.updateQuantity)
		v1.POST("/cart/items/:id/discount", h.setLineDiscount)
		v1.DELETE("/cart/items/:id", h.removeItem)
		v1.POST("/cart/discount", h.applyGlobalDiscount)
		v1.POST("/cart/customer", h.setCustomer)
		v1.POST("/cart/payments", h.addPayment)
		v1.DELETE("/cart/payments/:id", h.removePayment)
		v1.POST("/cart/checkout", h.checkoutCart)
		v1.POST("/cart/reset", h.resetCart)

		v1.POST("/products", h.createProduct)
		v1.GET("/products/:id", h.getProduct)
		v1.GET("/products/search", h.searchProducts)
		v1.GET("/queue", h.getQueue)

		v1.PUT("/session", h.putSession)
		v1.DELETE("/session", h.deleteSession)

		v1.GET("/sales/:receipt", h.getSale)
		v1.GET("/reports/daily", h.getDailyReport)
	}
}

func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) getCart(c *gin.Context) {
	c.JSON(http.StatusOK, h.checkout.View())
}

type addItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity"`
}

func (h *Handler) addItem(c *gin.Context) {
	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	view, err := h.checkout.AddItem(c.Request.Context(), req.ProductID, req.Quantity)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type quickSaleRequest struct {
	Name     string          `json:"name" binding:"required"`
	Price    decimal.Decimal `json:"price" binding:"required"`
	Quantity int             `json:"quantity"`
}

func (h *Handler) addQuickSale(c *gin.Context) {
	var req quickSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	view, err := h.checkout.AddQuickSale(req.Name, req.Price, req.Quantity)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type quantityRequest struct {
	Delta int `json:"delta" binding:"required"`
}

func (h *Handler) updateQuantity(c *gin.Context) {
	var req quantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	view, err := h.checkout.UpdateQuantity(c.Param("id"), req.Delta)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type discountRequest struct {
	Value   decimal.Decimal `json:"value"`
	Percent bool            `json:"percent"`
}

func (h *Handler) setLineDiscount(c *gin.Context) {
	var req discountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	view, err := h.checkout.SetLineDiscount(c.Param("id"), req.Value, req.Percent)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) removeItem(c *gin.Context) {
	view, err := h.checkout.RemoveItem(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) applyGlobalDiscount(c *gin.Context) {
	var req discountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	view, err := h.checkout.ApplyGlobalDiscount(req.Value, req.Percent)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type customerRequest struct {
	CustomerID *int64 `json:"customer_id"`
}

func (h *Handler) setCustomer(c *gin.Context) {
	var req customerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	view, err := h.checkout.SetCustomer(req.CustomerID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type paymentRequest struct {
	Method    string          `json:"method" binding:"required,oneof=cash bank_transfer card"`
	Amount    decimal.Decimal `json:"amount" binding:"required"`
	Reference string          `json:"reference"`
}

func (h *Handler) addPayment(c *gin.Context) {
	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	view, err := h.checkout.AddPayment(req.Method, req.Amount, req.Reference)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) removePayment(c *gin.Context) {
	view, err := h.checkout.RemovePayment(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) checkoutCart(c *gin.Context) {
	conf, err := h.checkout.Finalize(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"confirmation": conf,
		"cart":         h.checkout.View(),
	})
}

func (h *Handler) resetCart(c *gin.Context) {
	c.JSON(http.StatusOK, h.checkout.Reset())
}

// createProduct accepts the same multipart form the backoffice does,
// stores any uploaded images locally and forwards the create. When the
// backoffice is unreachable the product lands in the offline queue.
func (h *Handler) createProduct(c *gin.Context) {
	price, err := decimal.NewFromString(c.PostForm("price"))
	if err != nil {
		badRequest(c, errors.New("invalid price"))
		return
	}
	categoryID, err := strconv.ParseInt(c.PostForm("category_id"), 10, 64)
	if err != nil {
		badRequest(c, errors.New("invalid category_id"))
		return
	}
	name := c.PostForm("name")
	if name == "" {
		badRequest(c, errors.New("name is required"))
		return
	}
	trackStock, _ := strconv.ParseBool(c.PostForm("track_stock"))
	stock, _ := strconv.Atoi(c.PostForm("stock"))

	product := &models.NewProduct{
		Name:       name,
		CategoryID: categoryID,
		Price:      price,
		TrackStock: trackStock,
		Stock:      stock,
	}

	form, err := c.MultipartForm()
	if err == nil {
		for _, file := range form.File["images[]"] {
			dest := filepath.Join(h.uploadDir, uuid.New().String()+filepath.Ext(file.Filename))
			if err := c.SaveUploadedFile(file, dest); err != nil {
				h.respondError(c, err)
				return
			}
			product.ImagePaths = append(product.ImagePaths, dest)
		}
	}

	result, err := h.products.CreateProduct(c.Request.Context(), product)
	if err != nil {
		h.respondError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Queued {
		status = http.StatusAccepted
	}
	c.JSON(status, result)
}

func (h *Handler) getProduct(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, errors.New("invalid product ID"))
		return
	}

	// refresh=true busts the cache first, for when the backoffice
	// edited the product out from under the terminal.
	if c.Query("refresh") == "true" {
		h.catalog.InvalidateProduct(c.Request.Context(), id)
	}

	product, err := h.catalog.GetProduct(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) searchProducts(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		badRequest(c, errors.New("missing query"))
		return
	}

	products, err := h.catalog.Search(c.Request.Context(), query)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, products)
}

func (h *Handler) getQueue(c *gin.Context) {
	records, err := h.products.Queue()
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"depth":   len(records),
		"records": records,
	})
}

func (h *Handler) putSession(c *gin.Context) {
	var session models.Session
	if err := c.ShouldBindJSON(&session); err != nil {
		badRequest(c, err)
		return
	}
	if session.Token == "" {
		badRequest(c, errors.New("token is required"))
		return
	}

	if err := h.store.SaveSession(&session); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteSession(c *gin.Context) {
	if err := h.store.ClearSession(); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) getSale(c *gin.Context) {
	sale, lines, err := h.journal.GetSaleByReceipt(c.Request.Context(), c.Param("receipt"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Sale not found",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sale":  sale,
		"lines": lines,
	})
}

// getDailyReport returns the terminal's local sales rollup for one day
func (h *Handler) getDailyReport(c *gin.Context) {
	day := time.Now()
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			badRequest(c, errors.New("invalid date, expected YYYY-MM-DD"))
			return
		}
		day = parsed
	}

	storeCode := c.DefaultQuery("store", h.storeCode)
	count, gross, err := h.journal.DailyTotal(c.Request.Context(), day, storeCode)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"date":        day.Format("2006-01-02"),
		"store":       storeCode,
		"sales_count": count,
		"gross":       gross,
	})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request",
		"details": err.Error(),
	})
}

// respondError maps service errors onto HTTP statuses
func (h *Handler) respondError(c *gin.Context, err error) {
	var stockErr *upstream.InsufficientStockError
	switch {
	case errors.Is(err, upstream.ErrUnauthorized), errors.Is(err, service.ErrNoSession):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})

	case errors.As(err, &stockErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":        "insufficient_stock",
			"product_id":   stockErr.ProductID,
			"product_name": stockErr.ProductName,
			"store_name":   stockErr.StoreName,
			"available":    stockErr.Available,
			"requested":    stockErr.Requested,
		})

	case errors.Is(err, localstore.ErrAlreadyQueued),
		errors.Is(err, cart.ErrSaleCompleted),
		errors.Is(err, cart.ErrSaleInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})

	case errors.Is(err, cart.ErrLineNotFound),
		errors.Is(err, cart.ErrPaymentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})

	case errors.Is(err, cart.ErrEmptyCart),
		errors.Is(err, cart.ErrInvalidAmount):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})

	case errors.Is(err, upstream.ErrUnreachable):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})

	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
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
