package api

import (
	"github.com/gin-gonic/gin"
	"github.com/kaoru/booru/internal/api/handler"
	"github.com/kaoru/booru/internal/api/middleware"
	"github.com/kaoru/booru/internal/config"
	"github.com/kaoru/booru/internal/service"
	"github.com/kaoru/booru/internal/similarity"
)

// SetupRouter configures the Gin router with all routes.
func SetupRouter(
	postService *service.PostService,
	engine *similarity.Engine,
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
	postHandler := handler.NewPostHandler(postService, cfg.Upload.MaxFileSize)
	searchHandler := handler.NewSearchHandler(postService, cfg.Upload.MaxFileSize)
	adminHandler := handler.NewAdminHandler(postService, engine)

	r.GET("/health", healthHandler.Health)

	v1 := r.Group("/api/v1")
	{
		// Posts
		v1.POST("/posts", postHandler.Upload)
		v1.GET("/posts", postHandler.List)
		v1.GET("/posts/:id", postHandler.Get)
		v1.DELETE("/posts/:id", postHandler.Delete)
		v1.POST("/posts/:id/merge", postHandler.Merge)

		// Reverse image search
		v1.POST("/posts/reverse-search", searchHandler.ReverseSearch)

		// Maintenance
		v1.POST("/admin/reindex", adminHandler.Reindex)
		v1.GET("/admin/reindex", adminHandler.ReindexStatus)
		v1.GET("/admin/consistency", adminHandler.Consistency)
	}

	return r
}
