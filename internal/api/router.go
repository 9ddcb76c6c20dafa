package api

import (
	"github.com/gin-gonic/gin"

	"github.com/tunablelabs/codebase-rag/internal/service"
)

// RouterConfig holds configuration for the router
type RouterConfig struct {
	APIKey       string
	AllowOrigins []string
}

// SetupRouter sets up the Gin router
func SetupRouter(
	ingestService *service.IngestService,
	sessionService *service.SessionService,
	queryService *service.QueryService,
	cfg RouterConfig,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.Use(CORS(cfg.AllowOrigins))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	handler := NewHandler(ingestService, sessionService, queryService)
	group := r.Group("/api")
	group.Use(Auth(cfg.APIKey))
	handler.RegisterRoutes(group)

	return r
}
