package ginserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"campusmarket/internal/infra/config"
	"campusmarket/internal/infra/obs"
)

type Handlers struct {
	Chat           ChatHTTP
	Uploads        UploadHTTP
	Communities    CommunityHTTP
	Streams        StreamHTTP
	AuthMiddleware gin.HandlerFunc
}

func NewServer(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           NewRouter(cfg, obsMW, health, h),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// NewRouter builds the gin engine. Everything under /api/v1 requires a bearer token.
func NewRouter(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *gin.Engine {
	mode := configureGinMode(cfg.Env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.Correlation())
	router.Use(obsMW.AccessLog())
	router.Use(obs.HTTPMetricsMiddleware())
	router.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	if h.AuthMiddleware != nil {
		api.Use(h.AuthMiddleware)
	}
	if h.Chat != nil {
		api.GET("/conversations", h.Chat.ListConversations)
		api.POST("/listings/:id/conversations", h.Chat.StartConversation)
		api.GET("/conversations/:id", h.Chat.GetConversation)
		api.GET("/conversations/:id/messages", h.Chat.ListMessages)
		api.POST("/conversations/:id/messages", h.Chat.SendMessage)
		api.POST("/conversations/:id/read", h.Chat.MarkRead)
		api.PUT("/messages/:id/reactions/:emoji", h.Chat.AddReaction)
		api.DELETE("/messages/:id/reactions/:emoji", h.Chat.RemoveReaction)
	}
	if h.Uploads != nil {
		api.POST("/uploads/images", h.Uploads.UploadImage)
	}
	if h.Streams != nil {
		api.GET("/ws/conversations/:id", h.Streams.Conversation)
		api.GET("/ws/inbox", h.Streams.Inbox)
	}
	if h.Communities != nil {
		api.POST("/schools/:id/join", h.Communities.Join)
		api.POST("/schools/leave", h.Communities.Leave)
		api.POST("/schools/:id/admins", h.Communities.AddAdmin)
		api.DELETE("/schools/:id/admins/:userId", h.Communities.RemoveAdmin)
		api.GET("/schools/:id/admin-listings", h.Communities.AdminListings)
		api.GET("/states/:state/listings", h.Communities.StateListings)
		api.POST("/referrals", h.Communities.RecordReferral)
	}
	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "Idempotency-Key"},
		ExposeHeaders: []string{
			"Content-Length",
			"Content-Type",
			"X-Request-ID",
		},
		MaxAge: 12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

// NewUpgrader returns a websocket upgrader honouring the CORS origins.
func NewUpgrader(origins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     allowOrigins(origins),
	}
}

func configureGinMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug", "dev", "local":
		gin.SetMode(gin.DebugMode)
		return gin.DebugMode
	case "test", "testing":
		gin.SetMode(gin.TestMode)
		return gin.TestMode
	default:
		gin.SetMode(gin.ReleaseMode)
		return gin.ReleaseMode
	}
}
