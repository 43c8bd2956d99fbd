package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"procresolver/internal/compat"
	"procresolver/internal/logger"
)

// Dispatcher resolves validated requests.
type Dispatcher interface {
	Dispatch(ctx context.Context, req compat.Request) (any, error)
}

// Limits are the defaults applied when a query parameter is absent and the
// largest values a caller may ask for.
type Limits struct {
	DefaultPageSize    int
	DefaultGenerations int
	MaxPageSize        int
	MaxGenerations     int
}

// Handlers contains the HTTP handlers for the resolver routes.
type Handlers struct {
	dispatcher Dispatcher
	limits     Limits
	log        *logger.Logger
}

// NewHandlers creates handlers over dispatcher.
func NewHandlers(dispatcher Dispatcher, limits Limits) *Handlers {
	if limits.MaxPageSize <= 0 {
		limits.MaxPageSize = 1000
	}
	if limits.MaxGenerations <= 0 {
		limits.MaxGenerations = 100
	}
	if limits.DefaultPageSize <= 0 {
		limits.DefaultPageSize = 100
	}
	limits.DefaultPageSize = min(limits.DefaultPageSize, limits.MaxPageSize)
	limits.DefaultGenerations = min(max(limits.DefaultGenerations, 0), limits.MaxGenerations)
	return &Handlers{dispatcher: dispatcher, limits: limits, log: logger.Named("resolver")}
}

// HandleTree handles POST /tree.
func (h *Handlers) HandleTree(c *gin.Context) {
	req, verr := parseTree(c, h.limits)
	h.serve(c, req, verr, "cursor")
}

// HandleEvents handles POST /events.
func (h *Handlers) HandleEvents(c *gin.Context) {
	req, verr := parseEvents(c, h.limits)
	h.serve(c, req, verr, "cursor")
}

// HandleAlerts handles GET and POST /:id/alerts.
//
// Deprecated route kept for older clients; it can be switched off.
func (h *Handlers) HandleAlerts(c *gin.Context) {
	req, verr := parseLegacy(c, compat.LegacyAlerts, "afterAlert")
	h.serve(c, req, verr, "afterAlert")
}

// HandleChildren handles GET /:id/children.
func (h *Handlers) HandleChildren(c *gin.Context) {
	req, verr := parseLegacy(c, compat.LegacyChildren, "afterChild")
	h.serve(c, req, verr, "afterChild")
}

// HandleAncestry handles GET /:id/ancestry.
func (h *Handlers) HandleAncestry(c *gin.Context) {
	req, verr := parseLegacy(c, compat.LegacyAncestry, "")
	h.serve(c, req, verr, "")
}

// HandleCombined handles GET /:id.
func (h *Handlers) HandleCombined(c *gin.Context) {
	req, verr := parseLegacy(c, compat.LegacyCombined, "")
	h.serve(c, req, verr, "")
}

// HandleEntity handles GET /entity.
func (h *Handlers) HandleEntity(c *gin.Context) {
	req, verr := parseEntity(c)
	h.serve(c, req, verr, "")
}

// HandleHealth reports liveness.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handlers) serve(c *gin.Context, req compat.Request, verr *ValidationError, cursorField string) {
	requestID := getOrCreateRequestID(c)
	if verr != nil {
		h.log.Warnf("[%s] %s %s rejected: %v", requestID, c.Request.Method, c.FullPath(), verr)
		abortWithError(c, verr, cursorField)
		return
	}

	body, err := h.dispatcher.Dispatch(c.Request.Context(), req)
	if err != nil {
		status := abortWithError(c, err, cursorField)
		if status >= http.StatusInternalServerError {
			h.log.Errorf("[%s] %s failed for %s: %v", requestID, req.Variant, req.EntityID, err)
		} else {
			h.log.Warnf("[%s] %s: %v", requestID, req.Variant, err)
		}
		return
	}
	c.JSON(http.StatusOK, body)
}
