package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORS allows the listed origins, or every origin when none are given.
// Progress streams are long-lived GETs, so preflight results are cached.
func CORS(origins ...string) gin.HandlerFunc {
	config := cors.DefaultConfig()
	if len(origins) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
	}
	config.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Cache-Control", RequestIDHeader}
	config.ExposeHeaders = []string{RequestIDHeader, "Content-Length"}
	config.MaxAge = 12 * time.Hour

	return cors.New(config)
}
