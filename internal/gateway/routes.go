package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CORSMiddleware opens the lookup endpoint to any origin. Only GET and
// OPTIONS are advertised; preflight requests get an empty 200.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

// SetupRoutes registers the public lookup surface on the router. Any method
// other than GET and OPTIONS is answered with 405.
func SetupRoutes(router *gin.Engine, handler *Handler) {
	router.HandleMethodNotAllowed = true
	router.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method not allowed"})
	})

	lookupGroup := router.Group("/lookup")
	lookupGroup.Use(CORSMiddleware())
	lookupGroup.GET("", handler.Lookup)
	lookupGroup.OPTIONS("", func(c *gin.Context) {})
}
