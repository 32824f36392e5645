package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/vnkhanh/timesheet-server/controllers"
	"github.com/vnkhanh/timesheet-server/middleware"
)

func SetupRoutes(r *gin.Engine, ec *controllers.ExtractionController) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})
	r.GET("/health", controllers.HealthCheck)

	api := r.Group("/api")
	{
		extractions := api.Group("/extractions")
		extractions.Use(middleware.AuthJWT())
		{
			extractions.POST("", middleware.RateLimitExtractionStart(), ec.StartExtraction)
			extractions.GET("/status", middleware.RateLimitExtractionStatus(), ec.GetExtractionStatus)
		}
	}
}
