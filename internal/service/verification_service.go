package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/campus-cert-api/internal/dto"
	"github.com/noah-isme/campus-cert-api/internal/models"
	"github.com/noah-isme/campus-cert-api/pkg/certcode"
	appErrors "github.com/noah-isme/campus-cert-api/pkg/errors"
	"github.com/noah-isme/campus-cert-api/pkg/sis"
)

type certificateLookup interface {
	GetByVerificationCode(ctx context.Context, code string) (*models.Certificate, error)
	GetByCertificateNo(ctx context.Context, tenantID, certificateNo string) (*models.Certificate, error)
}

type ledgerVerifier interface {
	Configured() bool
	VerifyCertificate(ctx context.Context, certificateNoOrCode string) (*sis.VerificationResult, error)
}

type verificationCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

type verificationMetrics interface {
	RecordVerification(outcome string)
	RecordIntegrityAlert(source string)
}

// Verification outcomes reported to metrics.
const (
	verificationValid       = "valid"
	verificationInvalid     = "invalid"
	verificationRevoked     = "revoked"
	verificationUnavailable = "chain_unavailable"
	verificationIntegrity   = "integrity_alert"
)

// VerificationServiceConfig tunes the public verification path.
type VerificationServiceConfig struct {
	InstitutionName string
	CacheTTL        time.Duration
	LedgerTimeout   time.Duration
}

// VerificationService resolves verification codes for the public. It holds no locks and only
// reads, apart from audit entries for integrity alerts.
type VerificationService struct {
	repo    certificateLookup
	ledger  ledgerVerifier
	cache   verificationCache
	audit   auditLogger
	metrics verificationMetrics
	logger  *zap.Logger
	cfg     VerificationServiceConfig
	now     func() time.Time
}

// NewVerificationService constructs the verification service. cache, audit and metrics may be nil.
func NewVerificationService(repo certificateLookup, ledger ledgerVerifier, cache verificationCache, audit auditLogger, metrics verificationMetrics, logger *zap.Logger, cfg VerificationServiceConfig) *VerificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.LedgerTimeout <= 0 {
		cfg.LedgerTimeout = 10 * time.Second
	}
	return &VerificationService{
		repo:    repo,
		ledger:  ledger,
		cache:   cache,
		audit:   audit,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Verify resolves a verification code to a verification result. Certificate numbers are
// sequential and are not accepted here. Unknown identifiers and local store failures both
// yield Valid=false with no further detail.
func (s *VerificationService) Verify(ctx context.Context, input string) (*dto.VerificationResult, error) {
	code := certcode.NormalizeCode(input)
	if certcode.IsCertificateNumber(strings.ToUpper(strings.TrimSpace(input))) || !certcode.ValidCode(code) {
		s.record(verificationInvalid)
		return notVerified(), nil
	}

	cert, err := s.lookup(ctx, verificationCacheKey(code), func() (*models.Certificate, error) {
		return s.repo.GetByVerificationCode(ctx, code)
	})
	if err != nil {
		s.logger.Error("verification lookup failed", zap.Error(err))
	}
	if cert == nil {
		return s.verifyOnLedger(ctx, code), nil
	}
	return s.verifyLocal(ctx, cert), nil
}

// VerifyCertificateNo resolves a certificate number within the caller's tenant. It backs the
// authenticated SIS endpoint and never consults other tenants or the ledger for unknown numbers.
func (s *VerificationService) VerifyCertificateNo(ctx context.Context, tenantID, certificateNo string) (*dto.VerificationResult, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "tenant scope required")
	}
	number := strings.ToUpper(strings.TrimSpace(certificateNo))
	if !certcode.IsCertificateNumber(number) {
		s.record(verificationInvalid)
		return notVerified(), nil
	}

	cert, err := s.lookup(ctx, numberCacheKey(tenantID, number), func() (*models.Certificate, error) {
		return s.repo.GetByCertificateNo(ctx, tenantID, number)
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify certificate")
	}
	if cert == nil {
		s.record(verificationInvalid)
		return notVerified(), nil
	}
	return s.verifyLocal(ctx, cert), nil
}

// lookup returns nil, nil when the store has no matching row.
func (s *VerificationService) lookup(ctx context.Context, key string, fetch func() (*models.Certificate, error)) (*models.Certificate, error) {
	if s.cache != nil {
		var cached models.Certificate
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			return &cached, nil
		}
	}

	cert, err := fetch()
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if s.cache != nil && (cert.Status == models.CertificateStatusIssued || cert.Status == models.CertificateStatusRevoked) {
		if err := s.cache.Set(ctx, key, cert, s.cfg.CacheTTL); err != nil {
			s.logger.Debug("verification cache set failed", zap.Error(err))
		}
	}
	return cert, nil
}

func (s *VerificationService) verifyLocal(ctx context.Context, cert *models.Certificate) *dto.VerificationResult {
	switch cert.Status {
	case models.CertificateStatusRevoked:
		s.record(verificationRevoked)
		return &dto.VerificationResult{
			Valid:       false,
			Revoked:     true,
			Source:      dto.VerificationSourceLocal,
			Certificate: s.localView(cert),
		}
	case models.CertificateStatusIssued:
	default:
		s.record(verificationInvalid)
		return notVerified()
	}

	recomputed, err := ComputeDataHash(*cert)
	if err != nil || recomputed != cert.Hash() {
		s.integrityAlert(ctx, cert, "local_hash_mismatch", map[string]interface{}{
			"storedHash":     cert.Hash(),
			"recomputedHash": recomputed,
		})
		return notVerified()
	}

	now := s.now()
	result := &dto.VerificationResult{
		Valid:       true,
		Source:      dto.VerificationSourceLocal,
		Certificate: s.localView(cert),
		VerifiedAt:  &now,
	}
	if !cert.OnChain {
		result.ChainStatus = dto.ChainStatusNotAnchored
		s.record(verificationValid)
		return result
	}

	result.BlockchainHash = deref(cert.BlockchainTransactionID)
	result.ExplorerURL = deref(cert.ExplorerURL)
	if s.ledger == nil || !s.ledger.Configured() {
		return s.chainUnavailable(cert, result, nil)
	}

	lctx, cancel := context.WithTimeout(ctx, s.cfg.LedgerTimeout)
	defer cancel()
	live, err := s.ledger.VerifyCertificate(lctx, cert.Number())
	if err != nil {
		return s.chainUnavailable(cert, result, err)
	}

	switch {
	case live.Revoked:
		s.integrityAlert(ctx, cert, "chain_revoked", map[string]interface{}{"localStatus": cert.Status})
		return &dto.VerificationResult{Valid: false, Revoked: true, Source: dto.VerificationSourceLedger}
	case !live.Valid:
		s.integrityAlert(ctx, cert, "chain_not_found", map[string]interface{}{"transactionId": result.BlockchainHash})
		return notVerified()
	case live.Certificate != nil && live.Certificate.DataHash != "" && live.Certificate.DataHash != cert.Hash():
		s.integrityAlert(ctx, cert, "chain_hash_mismatch", map[string]interface{}{
			"storedHash": cert.Hash(),
			"chainHash":  live.Certificate.DataHash,
		})
		return notVerified()
	}

	result.ChainStatus = dto.ChainStatusConfirmed
	if live.BlockchainHash != "" {
		result.BlockchainHash = live.BlockchainHash
	}
	if live.ExplorerURL != "" {
		result.ExplorerURL = live.ExplorerURL
	}
	if live.VerifiedAt != nil {
		result.VerifiedAt = live.VerifiedAt
	}
	s.record(verificationValid)
	return result
}

func (s *VerificationService) chainUnavailable(cert *models.Certificate, result *dto.VerificationResult, err error) *dto.VerificationResult {
	fields := []zap.Field{zap.String("certificate_id", cert.ID), zap.String("certificate_no", cert.Number())}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	s.logger.Warn("chain confirmation unavailable", fields...)
	result.ChainStatus = dto.ChainStatusUnavailable
	result.Caveat = dto.CaveatChainUnavailable
	s.record(verificationUnavailable)
	return result
}

func (s *VerificationService) verifyOnLedger(ctx context.Context, identifier string) *dto.VerificationResult {
	if s.ledger == nil || !s.ledger.Configured() {
		s.record(verificationInvalid)
		return notVerified()
	}
	lctx, cancel := context.WithTimeout(ctx, s.cfg.LedgerTimeout)
	defer cancel()
	live, err := s.ledger.VerifyCertificate(lctx, identifier)
	if err != nil {
		s.logger.Warn("ledger lookup failed", zap.Error(err))
		s.record(verificationInvalid)
		return notVerified()
	}
	if live.Revoked {
		s.record(verificationRevoked)
		return &dto.VerificationResult{Valid: false, Revoked: true, Source: dto.VerificationSourceLedger}
	}
	if !live.Valid {
		s.record(verificationInvalid)
		return notVerified()
	}
	s.record(verificationValid)
	return &dto.VerificationResult{
		Valid:          true,
		Source:         dto.VerificationSourceLedger,
		ChainStatus:    dto.ChainStatusConfirmed,
		Certificate:    ledgerView(live.Certificate),
		BlockchainHash: live.BlockchainHash,
		ExplorerURL:    live.ExplorerURL,
		VerifiedAt:     live.VerifiedAt,
	}
}

func (s *VerificationService) integrityAlert(ctx context.Context, cert *models.Certificate, source string, details map[string]interface{}) {
	s.record(verificationIntegrity)
	if s.metrics != nil {
		s.metrics.RecordIntegrityAlert(source)
	}
	s.logger.Error("integrity_alert",
		zap.String("source", source),
		zap.String("certificate_id", cert.ID),
		zap.String("certificate_no", cert.Number()),
		zap.Any("details", details),
	)
	if s.audit == nil {
		return
	}
	payload := map[string]interface{}{"source": source}
	for k, v := range details {
		payload[k] = v
	}
	resourceID := cert.ID
	entry := &models.AuditLog{
		Action:     models.AuditActionIntegrityAlert,
		Resource:   certificateResource,
		ResourceID: &resourceID,
		IPAddress:  "system",
		UserAgent:  "verification-service",
	}
	if cert.TenantID != "" {
		tenant := cert.TenantID
		entry.TenantID = &tenant
	}
	entry.NewValues, _ = json.Marshal(payload)
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to persist integrity alert", zap.Error(err))
	}
}

func (s *VerificationService) record(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordVerification(outcome)
	}
}

func (s *VerificationService) localView(cert *models.Certificate) *dto.VerifiedCertificate {
	return &dto.VerifiedCertificate{
		CertificateNo:   cert.Number(),
		StudentName:     cert.StudentName,
		StudentNumber:   cert.StudentNumber,
		Program:         cert.Program,
		Department:      cert.Department,
		Type:            string(cert.Type),
		ClassOfDegree:   cert.ClassOfDegree,
		CGPA:            cert.CGPA,
		GraduationYear:  cert.GraduationYear,
		IssuedAt:        cert.IssuedAt,
		InstitutionName: s.cfg.InstitutionName,
		OnChain:         cert.OnChain,
	}
}

func ledgerView(data *sis.CertificateData) *dto.VerifiedCertificate {
	if data == nil {
		return nil
	}
	view := &dto.VerifiedCertificate{
		CertificateNo:   data.CertificateNo,
		StudentName:     data.StudentName,
		StudentNumber:   data.StudentNumber,
		Program:         data.Program,
		Department:      data.Department,
		Type:            data.Type,
		CGPA:            data.CGPA,
		GraduationYear:  data.GraduationYear,
		InstitutionName: data.InstitutionName,
		OnChain:         true,
	}
	if data.ClassOfDegree != "" {
		class := data.ClassOfDegree
		view.ClassOfDegree = &class
	}
	if ts, err := time.Parse("2006-01-02", data.IssueDate); err == nil {
		view.IssuedAt = &ts
	}
	return view
}

func notVerified() *dto.VerificationResult {
	return &dto.VerificationResult{Valid: false}
}

func verificationCacheKey(code string) string {
	return "certcache:verify:" + code
}

func numberCacheKey(tenantID, certificateNo string) string {
	return "certcache:verify:" + tenantID + ":" + certificateNo
}
