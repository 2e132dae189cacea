package bootstrap

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-cert-api/internal/repository"
	"github.com/noah-isme/campus-cert-api/internal/service"
	"github.com/noah-isme/campus-cert-api/pkg/cache"
	"github.com/noah-isme/campus-cert-api/pkg/config"
	"github.com/noah-isme/campus-cert-api/pkg/database"
	"github.com/noah-isme/campus-cert-api/pkg/jobs"
	"github.com/noah-isme/campus-cert-api/pkg/sis"
	"github.com/noah-isme/campus-cert-api/pkg/storage"
)

// Container holds the wired services shared by the API server and the operator CLI.
type Container struct {
	Config *config.Config
	Logger *zap.Logger

	DB    *sqlx.DB
	Redis *redis.Client

	Certificates *repository.CertificateRepository
	Audit        *repository.AuditRepository
	Gateway      *sis.Client
	Metrics      *service.MetricsService
	Cache        *service.CacheService
	Auth         *service.AuthService
	Issuance     *service.IssuanceService
	Verification *service.VerificationService
	Documents    *service.DocumentService
	SISSync      *service.SISSyncService
	AnchorQueue  *jobs.Queue
}

// New connects to Postgres and, when enabled, Redis, then wires every service.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logger.Warn("redis unavailable, verification cache disabled", zap.Error(err))
			redisClient = nil
		}
	}

	c, err := Wire(cfg, logger, db, redisClient)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// Wire builds the services over existing connections. redisClient may be nil.
func Wire(cfg *config.Config, logger *zap.Logger, db *sqlx.DB, redisClient *redis.Client) (*Container, error) {
	metrics := service.NewMetricsService()

	gateway, err := sis.NewClient(sis.Config{
		BaseURL:           cfg.SIS.BaseURL,
		APIKey:            cfg.SIS.APIKey,
		InstitutionID:     cfg.SIS.InstitutionID,
		Timeout:           cfg.SIS.Timeout,
		RequireConfigured: cfg.Env == config.EnvProduction && cfg.Anchoring.Enabled,
	}, sis.WithObserver(metrics), sis.WithLogger(logger.Named("sis")))
	if err != nil {
		return nil, fmt.Errorf("sis gateway: %w", err)
	}
	if !gateway.Configured() {
		logger.Warn("sis gateway not configured, running in sentinel mode")
	}

	validate := validator.New()
	sequences := repository.NewSequenceRepository(db)
	certificates := repository.NewCertificateRepository(db, sequences)
	audit := repository.NewAuditRepository(db)

	cacheRepo := repository.NewCacheRepository(redisClient, logger)
	cacheService := service.NewCacheService(cacheRepo, metrics, cfg.Certificates.VerificationCacheTTL, logger, cacheRepo.Enabled())

	issuance := service.NewIssuanceService(certificates, gateway, audit, validate, logger.Named("issuance"),
		service.IssuanceServiceConfig{
			Anchoring:       cfg.Anchoring,
			CGPAScale:       cfg.Certificates.CGPAScale,
			InstitutionName: cfg.SIS.InstitutionName,
			InstitutionCode: cfg.SIS.InstitutionCode,
		},
		service.WithVerificationCache(cacheService),
		service.WithIssuanceMetrics(metrics),
	)

	queue := jobs.NewQueue(service.AnchorJobType, issuance.HandleJob, jobs.QueueConfig{
		Workers:       cfg.Anchoring.Workers,
		BufferSize:    cfg.Anchoring.Workers * 16,
		RetryDelay:    cfg.Anchoring.RetryBaseDelay,
		MaxRetryDelay: cfg.Anchoring.RetryMaxDelay,
		Logger:        logger.Named("anchor-queue"),
	})
	issuance.AttachScheduler(queue)

	verification := service.NewVerificationService(certificates, gateway, cacheService, audit, metrics, logger.Named("verification"),
		service.VerificationServiceConfig{
			InstitutionName: cfg.SIS.InstitutionName,
			CacheTTL:        cfg.Certificates.VerificationCacheTTL,
			LedgerTimeout:   cfg.Anchoring.Timeout,
		})

	documentStore, err := storage.NewLocalStorage(cfg.Certificates.DocumentsDir)
	if err != nil {
		return nil, fmt.Errorf("document storage: %w", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Certificates.DocumentURLSecret, cfg.Certificates.DocumentURLTTL)
	documents := service.NewDocumentService(issuance, certificates, documentStore, signer, logger.Named("documents"),
		service.DocumentServiceConfig{
			APIPrefix:       cfg.APIPrefix,
			VerifyBaseURL:   cfg.Certificates.VerifyBaseURL,
			InstitutionName: cfg.SIS.InstitutionName,
		})

	sisSync := service.NewSISSyncService(gateway, issuance, audit, validate, logger.Named("sis-sync"))

	auth := service.NewAuthService(service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.AccessTokenExpiry,
		Issuer:            cfg.JWT.Issuer,
	})

	return &Container{
		Config:       cfg,
		Logger:       logger,
		DB:           db,
		Redis:        redisClient,
		Certificates: certificates,
		Audit:        audit,
		Gateway:      gateway,
		Metrics:      metrics,
		Cache:        cacheService,
		Auth:         auth,
		Issuance:     issuance,
		Verification: verification,
		Documents:    documents,
		SISSync:      sisSync,
		AnchorQueue:  queue,
	}, nil
}

// Close releases connections. The anchor queue is stopped by whoever started it.
func (c *Container) Close() {
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			c.Logger.Warn("failed to close postgres", zap.Error(err))
		}
	}
}
