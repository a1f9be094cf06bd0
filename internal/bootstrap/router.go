package bootstrap

import (
	"time"

	httpapi "github.com/GoSim-25-26J-441/adsec-backend/internal/api/http"
	"github.com/GoSim-25-26J-441/adsec-backend/internal/api/http/middleware"
	assessmenthttp "github.com/GoSim-25-26J-441/adsec-backend/internal/assessment/http"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterDeps struct {
	ServiceName string
	Version     string
	CORSOrigins []string
	App         *App
}

func BuildRouter(dep RouterDeps) *gin.Engine {
	r := gin.Default()
	r.Use(cors.New(cors.Config{
		AllowOrigins:     dep.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-Id"},
		ExposeHeaders:    []string{"X-Request-Id", "X-Document-Generation"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(middleware.RequestIDMiddleware())

	var redisHealth httpapi.Pinger
	if dep.App.Redis != nil {
		redisHealth = redisPinger{client: dep.App.Redis}
	}
	healthHandler := httpapi.NewHealthHandler(dep.ServiceName, dep.Version, dep.App.DB, redisHealth)
	healthHandler.RegisterRoutes(r)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")

	handler := assessmenthttp.New(dep.App.Assessments, dep.App.Uploads, dep.App.Runs, dep.App.AIConfig, dep.App.Bus)
	handler.Register(api)

	return r
}
