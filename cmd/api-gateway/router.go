package main

import (
	"context"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/noah-isme/campus-cert-api/internal/bootstrap"
	"github.com/noah-isme/campus-cert-api/internal/handler"
	"github.com/noah-isme/campus-cert-api/internal/middleware"
	"github.com/noah-isme/campus-cert-api/internal/models"
	"github.com/noah-isme/campus-cert-api/pkg/config"
	"github.com/noah-isme/campus-cert-api/pkg/database"
	"github.com/noah-isme/campus-cert-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/campus-cert-api/pkg/middleware/cors"
	"github.com/noah-isme/campus-cert-api/pkg/middleware/ratelimit"
	reqidmiddleware "github.com/noah-isme/campus-cert-api/pkg/middleware/requestid"
)

func newRouter(c *bootstrap.Container, limiter *ratelimit.Limiter) *gin.Engine {
	cfg := c.Config

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(c.Logger))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(c.Metrics))
	r.Use(middleware.WithResponseMeta())

	metricsHandler := handler.NewMetricsHandler(c.Metrics, map[string]handler.ReadinessCheck{
		"database": func(ctx context.Context) error { return database.Ping(ctx, c.DB) },
	})
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	certificates := handler.NewCertificateHandler(c.Issuance, c.Documents, c.Audit)
	verification := handler.NewVerificationHandler(c.Verification)
	sisHandler := handler.NewSISHandler(c.SISSync, c.Verification)

	api := r.Group(cfg.APIPrefix)

	public := api.Group("")
	public.Use(limiter.Middleware())
	public.GET("/verify/:code", verification.VerifyByCode)
	public.POST("/verify", verification.Verify)
	// signed links carry their own authorization
	public.GET("/certificates/documents/:token",
		middleware.Audit(c.Audit, c.Logger, models.AuditActionDocumentDownload, "certificate"),
		certificates.DownloadDocument)

	secured := api.Group("")
	secured.Use(middleware.JWT(c.Auth))

	view := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleRegistrar, models.RoleAdmin)
	manage := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleRegistrar)

	certs := secured.Group("/certificates")
	certs.GET("", view, certificates.List)
	certs.GET("/export", view,
		middleware.Audit(c.Audit, c.Logger, models.AuditActionRegisterExport, "certificate"),
		certificates.Export)
	certs.GET("/:id", view, certificates.Get)
	certs.GET("/:id/history", view, certificates.History)
	certs.GET("/:id/document", view,
		middleware.Audit(c.Audit, c.Logger, models.AuditActionDocumentLink, "certificate"),
		certificates.DocumentLink)
	certs.POST("", manage, certificates.Issue)
	certs.PUT("/:id", manage, certificates.UpdateDraft)
	certs.POST("/:id/submit", manage, certificates.Submit)
	certs.POST("/:id/reject", manage, certificates.Reject)
	certs.POST("/:id/approve", manage, certificates.Approve)
	certs.POST("/:id/anchor/retry", manage, certificates.RetryAnchor)
	certs.POST("/:id/anchor/override", manage, certificates.OverrideAnchor)
	certs.POST("/:id/revoke", manage, certificates.Revoke)

	sisGroup := secured.Group("/sis")
	sisGroup.GET("/status", view, sisHandler.Status)
	sisGroup.GET("/verify", view, sisHandler.Verify)
	sisGroup.POST("/verify", view, sisHandler.Verify)
	sisGroup.GET("/students/:studentId/records", view, sisHandler.StudentRecords)
	sisGroup.POST("/sync", manage, sisHandler.Sync)

	secured.GET("/metrics/summary", middleware.RequireRoles(models.RoleSuperAdmin), metricsHandler.Snapshot)

	return r
}
