package http

import (
	"net/http"
	"strings"
	"time"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/metrics"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouterDeps collects what the HTTP surface needs.
type RouterDeps struct {
	Rooms               *app.RoomService
	Runner              *app.QuizRunner
	Sessions            app.SessionRepository
	Hub                 *Hub
	Auth                IdentityProvider
	Logger              *zap.Logger
	CORSOrigins         string
	MaxInboundPerSecond int
}

// NewRouter wires health, metrics, the websocket gateway and the REST mirror.
func NewRouter(deps RouterDeps) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(Logger(logger))
	r.Use(corsMiddleware(deps.CORSOrigins))
	r.Use(metrics.MetricsMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/metrics", metrics.PrometheusHandler())

	ws := NewWSHandler(deps.Rooms, deps.Runner, deps.Sessions, deps.Hub, deps.Auth, logger, deps.MaxInboundPerSecond)
	r.GET("/ws", ws.ServeWS)

	api := r.Group("/api/live-rooms", RequireIdentity(deps.Auth))
	NewRoomHandler(deps.Rooms, deps.Runner, deps.Sessions, deps.Hub, logger).Register(api)
	return r
}

func corsMiddleware(origins string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}
	var list []string
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			list = append(list, o)
		}
	}
	if len(list) == 0 || (len(list) == 1 && list[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = list
	}
	return cors.New(cfg)
}
