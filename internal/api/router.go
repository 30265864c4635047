package api

import (
	"github.com/dubaigit/task-mail-sub001/internal/api/handler"
	"github.com/dubaigit/task-mail-sub001/internal/api/middleware"
	"github.com/dubaigit/task-mail-sub001/internal/cache"
	"github.com/dubaigit/task-mail-sub001/internal/config"
	"github.com/dubaigit/task-mail-sub001/internal/metrics"
	"github.com/dubaigit/task-mail-sub001/internal/repository"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures the Gin router with all routes
func SetupRouter(
	jobs *repository.JobRepository,
	store *cache.Store,
	collector *metrics.Collector,
	cfg *config.Config,
) *gin.Engine {
	switch cfg.Server.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
	}))

	healthHandler := handler.NewHealthHandler()
	jobHandler := handler.NewJobHandler(jobs, cfg.Pipeline.MaxRetries)
	cacheHandler := handler.NewCacheHandler(store)
	metricsHandler := handler.NewMetricsHandler(collector)

	r.GET("/health", healthHandler.Health)

	v1 := r.Group("/api/v1")
	{
		// Job submission and status
		v1.POST("/jobs", jobHandler.Enqueue)
		v1.POST("/jobs/bulk", jobHandler.EnqueueBulk)
		v1.GET("/jobs", jobHandler.Query)
		v1.GET("/jobs/:id", jobHandler.GetByID)

		// Cache administration
		v1.DELETE("/cache", cacheHandler.Invalidate)
		v1.DELETE("/cache/:key", cacheHandler.InvalidateKey)

		// Metrics
		v1.GET("/metrics", metricsHandler.Snapshot)
	}

	return r
}
