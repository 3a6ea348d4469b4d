package api

import (
	"net/http"

	"github.com/formy-ai/formy/pkg/auth"
	"github.com/formy-ai/formy/pkg/billing"
	"github.com/formy-ai/formy/pkg/config"
	"github.com/formy-ai/formy/pkg/storage"
	"github.com/formy-ai/formy/pkg/tasks"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps bundles everything the router needs.
type Deps struct {
	Config   *config.Config
	Auth     *auth.Service
	Tasks    *tasks.Service
	Billing  *billing.Service
	Store    storage.ObjectStore
	HealthFn func() map[string]string
}

// NewRouter assembles the gin engine with the full middleware chain and
// route table.
func NewRouter(deps Deps) *gin.Engine {
	if !deps.Config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(MetricsMiddleware())
	r.Use(LoggingMiddleware())
	r.Use(CORSMiddleware(deps.Config.CORSOrigins))

	authHandler := NewAuthHandler(deps.Auth)
	taskHandler := NewTaskHandler(deps.Tasks)
	uploadHandler := NewUploadHandler(deps.Store)
	billingHandler := NewBillingHandler(deps.Billing)
	requireAuth := auth.Middleware(deps.Auth)

	r.GET("/health", func(c *gin.Context) {
		status := http.StatusOK
		checks := map[string]string{}
		if deps.HealthFn != nil {
			checks = deps.HealthFn()
			for _, v := range checks {
				if v != "ok" {
					status = http.StatusServiceUnavailable
				}
			}
		}
		c.JSON(status, gin.H{"status": http.StatusText(status), "checks": checks})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/send-code", authHandler.SendCode)
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/signup", authHandler.Signup)
		authGroup.POST("/login-password", authHandler.LoginPassword)
		authGroup.POST("/refresh", authHandler.Refresh)
		authGroup.POST("/password", requireAuth, authHandler.SetPassword)
		authGroup.GET("/me", requireAuth, authHandler.Me)
	}

	taskGroup := r.Group("/tasks", requireAuth)
	{
		taskGroup.POST("", taskHandler.Create)
		taskGroup.GET("", taskHandler.List)
		taskGroup.GET("/history", taskHandler.History)
		taskGroup.GET("/:id", taskHandler.Get)
		taskGroup.POST("/:id/cancel", taskHandler.Cancel)
	}

	r.POST("/uploads", requireAuth, uploadHandler.Upload)

	billingGroup := r.Group("/billing", requireAuth)
	{
		billingGroup.GET("/me", billingHandler.Me)
		billingGroup.GET("/plans", billingHandler.Plans)
		billingGroup.POST("/change-plan", billingHandler.ChangePlan)
	}

	r.GET("/queue/stats", requireAuth, taskHandler.Stats)

	// Local-disk artifacts are served straight from the store directories.
	if deps.Config.Storage.Backend == "local" || deps.Config.Storage.Backend == "" {
		r.Static("/files/uploads", deps.Config.Storage.UploadDir)
		r.Static("/files/results", deps.Config.Storage.ResultDir)
	}

	return r
}
