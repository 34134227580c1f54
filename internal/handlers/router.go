package handlers

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouterOptions configures the engine built by NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	StaticDir      string
	Logger         *zap.Logger
}

// NewRouter returns an engine with recovery, request logging, CORS and, when
// StaticDir is set, the page assets served from /.
func NewRouter(opts RouterOptions) *gin.Engine {
	router := gin.New()
	router.MaxMultipartMemory = MaxUploadSize
	router.Use(gin.Recovery())
	if opts.Logger != nil {
		router.Use(requestLogger(opts.Logger.Named("http")))
	}
	router.Use(cors.New(corsConfig(opts.AllowedOrigins)))
	if opts.StaticDir != "" {
		router.Use(static.Serve("/", static.LocalFile(opts.StaticDir, false)))
	}
	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "X-Session-Token"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	allowAll := len(origins) == 0
	for _, origin := range origins {
		allowAll = allowAll || origin == "*"
	}
	if allowAll {
		// Echo the caller's origin so the session cookie is accepted cross-site.
		cfg.AllowOriginFunc = func(string) bool { return true }
		return cfg
	}
	cfg.AllowOrigins = origins
	return cfg
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
