package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"filevault/internal/avatars"
	googleauth "filevault/internal/auth"
	"filevault/internal/files"
	"filevault/internal/identity"
	"filevault/internal/services/health"
	"filevault/internal/shared/config"
	"filevault/internal/shared/metrics"
	"filevault/internal/shared/server/middleware"
	"filevault/internal/shared/server/respond"
	localstore "filevault/internal/shared/storage/object/local"
)

const loginRateGroup = "LOGIN"

// RouterDeps are the handlers mounted by NewRouter. Nil optional handlers
// are skipped.
type RouterDeps struct {
	Config      config.Config
	Resolver    middleware.CredentialResolver
	Identity    *identity.Handler
	Files       *files.Handler
	Avatars     *avatars.Handler
	GoogleAuth  *googleauth.GoogleService
	Blobs       *localstore.Handler
	Health      *health.Service
	RateLimiter *middleware.RateLimiter
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if !deps.Config.IsDevLike() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
	)

	r.GET("/metrics", metrics.Handler())
	if deps.Blobs != nil {
		deps.Blobs.RegisterRoutes(r)
	}

	api := r.Group("/api")
	api.GET("/health", func(c *gin.Context) {
		if deps.Health == nil {
			respond.JSON(c, http.StatusOK, gin.H{"ok": true})
			return
		}
		report := deps.Health.Status(c.Request.Context())
		status := http.StatusOK
		if !report.OK {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(c, status, report)
	})

	public := api.Group("")
	public.Use(middleware.RateLimit(deps.RateLimiter, middleware.Throttle{
		Name:      loginRateGroup,
		PerMinute: deps.Config.LoginRatePerMin,
		Burst:     deps.Config.LoginBurst,
		Match: func(c *gin.Context) bool {
			return c.Request.Method == http.MethodPost && c.FullPath() == "/api/auth/login"
		},
	}))
	if deps.Identity != nil {
		deps.Identity.RegisterAuthRoutes(public)
	}
	if deps.GoogleAuth != nil {
		deps.GoogleAuth.RegisterRoutes(public)
	}

	protected := api.Group("")
	protected.Use(middleware.Auth(deps.Resolver))
	registerMeRoutes(protected)
	if deps.Identity != nil {
		deps.Identity.RegisterRoutes(protected)
	}
	if deps.Files != nil {
		deps.Files.RegisterRoutes(protected)
	}
	if deps.Avatars != nil {
		deps.Avatars.RegisterRoutes(protected)
	}

	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
