package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"medprice-service/internal/service"
	"medprice-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Services are the domain services behind the routes
type Services struct {
	Catalog       *service.CatalogService
	Prices        *service.PriceService
	Alerts        *service.AlertService
	AlertEngine   *service.AlertEngine
	Subscriptions *service.SubscriptionService
	Campaigns     *service.CampaignService
	Digest        *service.DigestService
	Messages      *service.MessageService
	Blog          *service.BlogService
	Audit         *service.AuditLogger
}

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options tune the HTTP surface
type Options struct {
	AdminAPIKey      string
	RateWindow       time.Duration
	AlertsPerWindow  int64
	ContactPerWindow int64
	// Ready lists the dependencies checked by /ready
	Ready map[string]Pinger
}

// Handler contains HTTP handlers
type Handler struct {
	svc     Services
	limiter RateLimiter
	opts    Options
	logger  *zap.Logger
}

// NewHandler creates a new HTTP handler. limiter may be nil to disable rate limiting.
func NewHandler(svc Services, limiter RateLimiter, opts Options) *Handler {
	if opts.RateWindow <= 0 {
		opts.RateWindow = 15 * time.Minute
	}
	return &Handler{
		svc:     svc,
		limiter: limiter,
		opts:    opts,
		logger:  util.ComponentLogger("api"),
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
		v1.GET("/medications", h.listMedications)
		v1.GET("/medications/search", h.searchMedications)
		v1.GET("/medications/:id", h.getMedication)
		v1.GET("/medications/:id/prices", h.listPrices)
		v1.GET("/medications/:id/prices/grid", h.priceGrid)
		v1.GET("/medications/:id/compare", h.comparePrices)
		v1.GET("/medications/:id/lowest", h.lowestPrice)
		v1.GET("/medications/:id/messages", h.activeMessages)

		v1.GET("/pharmacies", h.listPharmacies)
		v1.GET("/pharmacies/top-rated", h.topRatedPharmacies)
		v1.GET("/pharmacies/:id", h.getPharmacy)

		v1.GET("/categories", h.listCategories)
		v1.GET("/categories/:id", h.getCategory)
		v1.GET("/categories/:id/subcategories/:subId", h.getSubcategory)

		v1.GET("/matrix/:subcategory", h.priceMatrix)
		v1.GET("/prices/recent", h.recentPrices)

		v1.POST("/alerts", h.rateLimit("alerts", h.opts.AlertsPerWindow), h.createAlert)
		v1.DELETE("/alerts/:id", h.cancelAlert)

		v1.POST("/subscriptions", h.subscribe)
		v1.POST("/subscriptions/unsubscribe", h.unsubscribe)
		v1.GET("/unsubscribe", h.unsubscribe)
		v1.PUT("/subscriptions/preferences", h.updatePreferences)

		v1.POST("/contact", h.rateLimit("contact", h.opts.ContactPerWindow), h.submitContact)

		v1.GET("/blog/posts", h.listBlogPosts)
		v1.GET("/blog/posts/:slug", h.getBlogPost)
		v1.GET("/blog/posts/:slug/related", h.relatedBlogPosts)
	}

	admin := v1.Group("/admin", adminAuth(h.opts.AdminAPIKey))
	h.setupAdminRoutes(admin)
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	ready := true
	for name, p := range h.opts.Ready {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not ready", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status": status,
		"checks": checks,
		"time":   time.Now().Unix(),
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Inc()
	}
}
