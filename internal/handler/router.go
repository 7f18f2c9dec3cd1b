package handler

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"beaconattend/internal/auth"
	"beaconattend/internal/httpmiddleware"
)

// RouterOptions configures the middleware around the routes.
type RouterOptions struct {
	CORSOrigins []string
	// Limiter is applied to authenticated routes, keyed on the token subject. Optional.
	Limiter *httpmiddleware.TokenBucket
	// Metrics is served on /metrics when set.
	Metrics http.Handler
}

// Router builds the gin engine with every route registered.
func (h *Handler) Router(opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(corsConfig(opts.CORSOrigins)))
	r.Use(securityHeaders())

	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}
	r.GET("/healthz", h.Healthz)

	r.POST("/v1/devices/register", h.RegisterDevice)
	r.POST("/v1/devices/refresh", h.RefreshDevice)
	r.POST("/v1/devices/logout", h.LogoutDevice)

	v1 := r.Group("/v1", auth.Bearer(h.signer))
	if opts.Limiter != nil {
		v1.Use(opts.Limiter.Middleware(func(c *gin.Context) string {
			if s := subject(c); s != "" {
				return s
			}
			return c.ClientIP()
		}))
	}

	read := v1.Group("", auth.RequireRole(auth.RoleScanner, auth.RoleAdmin))
	read.POST("/observations", h.PostObservations)
	read.GET("/attendance", h.ListAttendance)
	read.GET("/attendance/filters", h.AttendanceFilters)
	read.GET("/attendance/students/:matricule", h.AttendanceStatus)
	read.GET("/students", h.ListStudents)
	read.GET("/students/:matricule", h.GetStudent)

	admin := v1.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.DELETE("/attendance", h.DeleteAttendance)
	admin.DELETE("/students/:matricule", h.DeleteStudent)

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	return cfg
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
