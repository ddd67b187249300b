package api

import (
	"net/http"
	"time"

	"github.com/creativable/mailsync/internal/api/handlers"
	"github.com/creativable/mailsync/internal/api/middleware"
	"github.com/creativable/mailsync/internal/config"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SetupRouter builds the Gin engine with every route configured
func SetupRouter(cfg *config.Config, svc *Services, log *zap.Logger) (*gin.Engine, *middleware.AuthManager, error) {
	if log == nil {
		log = zap.NewNop()
	}
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(log.Named("http")))

	// 配置 CORS - 允许跨域请求
	origins := cfg.CORSOriginList()
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.APIKeyHeader},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: len(origins) > 0 && origins[0] != "*",
		MaxAge:           12 * time.Hour,
	}))

	authManager, err := middleware.NewAuthManager(cfg.APIKeyPath(), cfg.JWTSecret, middleware.DefaultTokenExpiry)
	if err != nil {
		return nil, nil, err
	}

	authHandler := handlers.NewAuthHandler(svc.Users, authManager.JWTManager, svc.Logs)
	userHandler := handlers.NewUserHandler(svc.Users, svc.Logs)
	settingsHandler := handlers.NewSettingsHandler(svc.Accounts, svc.Negotiator)
	syncHandler := handlers.NewSyncHandler(svc.Orchestrator, svc.Progress, svc.Repair, log.Named("http"))
	folderHandler := handlers.NewFolderHandler(svc.Catalog, svc.Folders)
	emailHandler := handlers.NewEmailHandler(svc.Emails)
	logHandler := handlers.NewLogHandler(svc.Logs)

	// Health check and metrics (no auth required)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.Use(middleware.APIKeyMiddleware(authManager.APIKeyManager))
	{
		api.POST("/auth/login", authHandler.Login)

		protected := api.Group("")
		protected.Use(middleware.JWTMiddleware(authManager.JWTManager))
		{
			protected.POST("/auth/refresh", authHandler.RefreshToken)
			protected.POST("/auth/logout", authHandler.Logout)
			protected.GET("/auth/me", authHandler.GetCurrentUser)

			protected.GET("/user/profile", userHandler.GetProfile)
			protected.PUT("/user/password", userHandler.ChangePassword)

			settings := protected.Group("/settings/imap")
			{
				settings.GET("", settingsHandler.GetIMAPSettings)
				settings.PUT("", settingsHandler.UpdateIMAPSettings)
				settings.POST("/test", settingsHandler.TestIMAPSettings)
			}

			sync := protected.Group("/sync")
			{
				sync.POST("", syncHandler.Sync)
				sync.GET("/status", syncHandler.Status)
				sync.GET("/progress", syncHandler.Progress)
				sync.POST("/reset", syncHandler.Reset)
				sync.POST("/repair", syncHandler.Repair)
			}

			folders := protected.Group("/folders")
			{
				folders.GET("", folderHandler.ListFolders)
				folders.POST("", folderHandler.FolderAction)
				folders.POST("/sync", folderHandler.SyncCatalog)
				folders.POST("/reconcile", folderHandler.Reconcile)
			}

			emails := protected.Group("/emails")
			{
				emails.GET("", emailHandler.ListEmails)
				emails.GET("/counts", emailHandler.FolderCounts)
				emails.GET("/:id", emailHandler.GetEmail)
				emails.PUT("/:id/read", emailHandler.MarkAsRead)
				emails.PUT("/:id/star", emailHandler.SetStarred)
			}

			protected.GET("/logs", logHandler.QueryLogs)
		}
	}

	return router, authManager, nil
}
