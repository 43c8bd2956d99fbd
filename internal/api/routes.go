package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig configures the HTTP surface.
type RouterConfig struct {
	AuthHeader     string
	AuthDisabled   bool
	RequestTimeout time.Duration
	MetricsEnabled bool
	MetricsPath    string
}

// RegisterRoutes registers the resolver routes under rg.
//
// Routes:
//
//	POST     /tree            - ancestry and a children page for a root set
//	POST     /events          - paginated events of a set of entities
//	GET/POST /:id/alerts      - deprecated alerts of one entity
//	GET      /:id/children    - deprecated children page
//	GET      /:id/ancestry    - deprecated ancestry
//	GET      /:id             - deprecated combined tree
//	GET      /entity          - entity attributes by _id
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	resolver := rg.Group("/endpoint/resolver")
	{
		resolver.POST("/tree", handlers.HandleTree)
		resolver.POST("/events", handlers.HandleEvents)
		resolver.GET("/entity", handlers.HandleEntity)

		resolver.GET("/:id/alerts", handlers.HandleAlerts)
		resolver.POST("/:id/alerts", handlers.HandleAlerts)
		resolver.GET("/:id/children", handlers.HandleChildren)
		resolver.GET("/:id/ancestry", handlers.HandleAncestry)
		resolver.GET("/:id", handlers.HandleCombined)
	}
}

// NewRouter builds the engine with health, metrics and authenticated
// resolver routes.
func NewRouter(cfg RouterConfig, handlers *Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), metricsMiddleware())

	router.GET("/healthz", handlers.HandleHealth)
	if cfg.MetricsEnabled {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.GET(path, gin.WrapH(promhttp.Handler()))
	}

	api := router.Group("/api", timeoutMiddleware(cfg.RequestTimeout))
	if !cfg.AuthDisabled {
		header := cfg.AuthHeader
		if header == "" {
			header = "X-Authenticated-User"
		}
		api.Use(authMiddleware(header))
	}
	RegisterRoutes(api, handlers)
	return router
}
