package handler

import (
	"strings"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/ireporter/internal/middleware"
	"github.com/noah-isme/ireporter/internal/models"
	"github.com/noah-isme/ireporter/internal/service"
	"github.com/noah-isme/ireporter/pkg/logger"
	corsmiddleware "github.com/noah-isme/ireporter/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/ireporter/pkg/middleware/requestid"
)

// RouterConfig carries everything the HTTP surface depends on.
type RouterConfig struct {
	APIPrefix      string
	AllowedOrigins []string
	EnableDocs     bool
	Logger         *zap.Logger

	Tokens  middleware.TokenValidator
	Audit   middleware.AuditWriter
	Metrics *service.MetricsService

	Auth    *AuthHandler
	Reports *ReportHandler
	Media   *MediaHandler
	Export  *ExportHandler
	Ops     *MetricsHandler
}

// NewRouter builds the gin engine serving the report API.
func NewRouter(cfg RouterConfig) *gin.Engine {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(log))
	r.Use(corsmiddleware.New(cfg.AllowedOrigins))
	r.Use(middleware.Metrics(cfg.Metrics))
	r.Use(middleware.WithResponseMeta())

	if cfg.Ops != nil {
		r.GET("/health", cfg.Ops.Health)
		r.GET("/ready", cfg.Ops.Ready)
		r.GET("/metrics", cfg.Ops.Prometheus)
	}
	if cfg.EnableDocs {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	prefix := "/" + strings.Trim(cfg.APIPrefix, "/")
	if prefix == "/" {
		prefix = ""
	}
	api := r.Group(prefix)
	authn := middleware.JWT(cfg.Tokens)
	audit := func(action models.AuditAction) gin.HandlerFunc {
		return middleware.Audit(cfg.Audit, log, action, "report")
	}

	if cfg.Auth != nil {
		auth := api.Group("/auth")
		auth.POST("/signup", cfg.Auth.Signup)
		auth.POST("/login", cfg.Auth.Login)
		auth.GET("/me", authn, cfg.Auth.Me)
		auth.POST("/logout", authn, cfg.Auth.Logout)
		auth.POST("/change-password", authn, cfg.Auth.ChangePassword)
	}

	if cfg.Media != nil {
		api.GET("/media/:token", cfg.Media.Download)
	}

	if cfg.Reports != nil {
		api.GET("/reports", authn, cfg.Reports.List)
		for _, kind := range models.Kinds {
			group := api.Group("/"+kind.Segment(), authn, WithKind(kind))
			group.GET("", cfg.Reports.List)
			group.POST("", middleware.RequireRoles(models.RoleCitizen, models.RoleAdmin), audit(models.AuditActionReportCreate), cfg.Reports.Create)
			group.GET("/:id", cfg.Reports.Get)
			group.PATCH("/:id", audit(models.AuditActionReportUpdate), cfg.Reports.Update)
			group.PUT("/:id", audit(models.AuditActionReportUpdate), cfg.Reports.Update)
			group.PATCH("/:id/status", middleware.RequireRoles(models.RoleAdmin), audit(models.AuditActionReportStatus), cfg.Reports.ChangeStatus)
			group.DELETE("/:id", audit(models.AuditActionReportDelete), cfg.Reports.Delete)
			group.POST("/:id/media", audit(models.AuditActionMediaAttach), cfg.Reports.AttachMedia)
		}
	}

	admin := api.Group("/admin", authn, middleware.RequireRoles(models.RoleAdmin))
	if cfg.Export != nil {
		admin.GET("/reports/export", audit(models.AuditActionReportExport), cfg.Export.Export)
	}
	if cfg.Ops != nil {
		admin.GET("/metrics", cfg.Ops.Snapshot)
	}

	return r
}
