package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORS builds a gin-contrib/cors middleware scoped to allowedOrigins. An
// empty list allows no cross-origin requests at all, rather than falling
// back to "allow everything" — callers that want an open API must say so
// explicitly with a literal "*" entry. A nil/empty list is expressed via
// AllowOriginFunc (always false) rather than leaving AllowOrigins empty,
// since gin-contrib/cors rejects a Config with neither set.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	allowAll := len(allowedOrigins) == 1 && allowedOrigins[0] == "*"

	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Session-Id", RequestIDHeader},
		ExposeHeaders:    []string{RequestIDHeader},
		AllowCredentials: !allowAll,
		MaxAge:           12 * time.Hour,
	}

	switch {
	case allowAll:
		cfg.AllowAllOrigins = true
	case len(allowedOrigins) > 0:
		cfg.AllowOrigins = allowedOrigins
	default:
		cfg.AllowOriginFunc = func(string) bool { return false }
	}
	return cors.New(cfg)
}
