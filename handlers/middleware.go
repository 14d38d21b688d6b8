package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const (
	ctxUserID   = "userID"
	ctxUsername = "username"
)

type TokenParser interface {
	ParseToken(token string) (userID, username string, err error)
}

// AuthMiddleware accepts "Authorization: Bearer <token>" or the bare token.
func AuthMiddleware(auth TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		if token == "" {
			respondWithError(c, "Unauthorized", "Missing Authorization header", http.StatusUnauthorized)
			return
		}
		uid, uname, err := auth.ParseToken(token)
		if err != nil {
			respondWithError(c, "Unauthorized", "Invalid token", http.StatusUnauthorized)
			return
		}
		c.Set(ctxUserID, uid)
		c.Set(ctxUsername, uname)
		c.Next()
	}
}

func MustUserID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}

// RequestLogger logs one line per request once it completes.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	log = log.With().Str("component", "http").Logger()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ev := log.Info()
		if status >= http.StatusInternalServerError {
			ev = log.Error()
		}
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", c.Errors.String())
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("request completed")
	}
}

// CORS echoes allowed origins. allowed is "*" or a comma separated list.
func CORS(allowed string) gin.HandlerFunc {
	set := make(map[string]struct{})
	for _, o := range strings.Split(allowed, ",") {
		if o = strings.TrimSpace(o); o != "" {
			set[o] = struct{}{}
		}
	}
	_, wildcard := set["*"]

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			if _, ok := set[origin]; ok || wildcard {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Access-Control-Allow-Credentials", "true")
			}
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
