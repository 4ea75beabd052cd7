package http

import (
	"net/http"
	"strings"
	"time"

	"live-quiz-service/internal/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const contextIdentity = "identity"

// IdentityProvider resolves a bearer token to the calling user.
type IdentityProvider interface {
	Validate(token string) (domain.Identity, error)
}

// RequireIdentity rejects requests without a valid bearer token and stores the caller identity.
func RequireIdentity(provider IdentityProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			abortWith(c, http.StatusUnauthorized, "missing authorization header")
			return
		}
		who, err := provider.Validate(token)
		if err != nil {
			abortWith(c, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		c.Set(contextIdentity, who)
		c.Next()
	}
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func identityFrom(c *gin.Context) domain.Identity {
	who, _ := c.Get(contextIdentity)
	id, _ := who.(domain.Identity)
	return id
}

// Logger logs one line per request.
func Logger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()
		logger.Info("request",
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
