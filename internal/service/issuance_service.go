package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-cert-api/internal/dto"
	"github.com/noah-isme/campus-cert-api/internal/models"
	"github.com/noah-isme/campus-cert-api/internal/repository"
	"github.com/noah-isme/campus-cert-api/pkg/certcode"
	"github.com/noah-isme/campus-cert-api/pkg/config"
	appErrors "github.com/noah-isme/campus-cert-api/pkg/errors"
	"github.com/noah-isme/campus-cert-api/pkg/jobs"
	"github.com/noah-isme/campus-cert-api/pkg/sis"
)

// Job types handled by the anchor queue.
const (
	AnchorJobType     = "certificate.anchor"
	GraduationJobType = "certificate.graduation"
	RevocationJobType = "certificate.revocation"
)

const certificateResource = "certificate"

type certificateStore interface {
	Create(ctx context.Context, cert *models.Certificate) error
	GetByID(ctx context.Context, id string) (*models.Certificate, error)
	List(ctx context.Context, filter models.CertificateFilter) ([]models.Certificate, error)
	Count(ctx context.Context, filter models.CertificateFilter) (int, error)
	Summary(ctx context.Context, tenantID string) (*models.CertificateSummary, error)
	UpdateDraft(ctx context.Context, cert *models.Certificate) error
	Submit(ctx context.Context, id string, submittedAt time.Time) error
	ReturnToDraft(ctx context.Context, id, note string, at time.Time) error
	MarkProcessing(ctx context.Context, params repository.MarkProcessingParams) (*models.Certificate, error)
	RecordAnchorAttempt(ctx context.Context, id, lastError string, maxAttempts int) (*repository.AnchorAttemptResult, error)
	MarkIssued(ctx context.Context, params repository.MarkIssuedParams) error
	MarkRevoked(ctx context.Context, id, reason, revokedBy string, revokedAt time.Time) error
	ListPendingAnchors(ctx context.Context, limit int) ([]models.Certificate, error)
}

type ledgerWriter interface {
	Configured() bool
	StoreCertificate(ctx context.Context, cert sis.CertificateData) (*sis.BlockchainRecord, error)
	StoreRevocation(ctx context.Context, rev sis.RevocationData) (*sis.BlockchainRecord, error)
	VerifyCertificate(ctx context.Context, certificateNoOrCode string) (*sis.VerificationResult, error)
	ReportGraduation(ctx context.Context, report sis.GraduationReport) (*sis.SyncResult, error)
}

type anchorScheduler interface {
	EnqueueAfter(job jobs.Job, delay time.Duration) error
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type verificationCacheEvictor interface {
	Delete(ctx context.Context, keys ...string) error
}

type issuanceMetrics interface {
	RecordTransition(from, to models.CertificateStatus)
	RecordAnchorAttempt(outcome string)
	RecordIntegrityAlert(source string)
}

// IssuanceServiceConfig carries institution policy for the workflow.
type IssuanceServiceConfig struct {
	Anchoring       config.AnchoringConfig
	CGPAScale       float64
	InstitutionName string
	InstitutionCode string
}

// IssuanceOption customises the issuance service.
type IssuanceOption func(*IssuanceService)

// WithIssuanceClock overrides the time source.
func WithIssuanceClock(now func() time.Time) IssuanceOption {
	return func(s *IssuanceService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithCodeSource overrides verification code generation.
func WithCodeSource(newCode func() (string, error)) IssuanceOption {
	return func(s *IssuanceService) {
		if newCode != nil {
			s.newCode = newCode
		}
	}
}

// WithVerificationCache evicts verification lookups when a certificate changes.
func WithVerificationCache(cache verificationCacheEvictor) IssuanceOption {
	return func(s *IssuanceService) {
		s.cache = cache
	}
}

// WithIssuanceMetrics attaches workflow instrumentation.
func WithIssuanceMetrics(metrics issuanceMetrics) IssuanceOption {
	return func(s *IssuanceService) {
		s.metrics = metrics
	}
}

// IssuanceService drives certificates through draft, approval, anchoring, issuance and revocation.
type IssuanceService struct {
	repo      certificateStore
	ledger    ledgerWriter
	audit     auditLogger
	scheduler anchorScheduler
	cache     verificationCacheEvictor
	metrics   issuanceMetrics
	validator *validator.Validate
	logger    *zap.Logger
	cfg       IssuanceServiceConfig
	now       func() time.Time
	newCode   func() (string, error)
}

// NewIssuanceService constructs the workflow service.
func NewIssuanceService(repo certificateStore, ledger ledgerWriter, audit auditLogger, validate *validator.Validate, logger *zap.Logger, cfg IssuanceServiceConfig, opts ...IssuanceOption) *IssuanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Anchoring.MaxRetries <= 0 {
		cfg.Anchoring.MaxRetries = 3
	}
	if cfg.Anchoring.Timeout <= 0 {
		cfg.Anchoring.Timeout = 20 * time.Second
	}
	if cfg.Anchoring.RetryBaseDelay <= 0 {
		cfg.Anchoring.RetryBaseDelay = 2 * time.Second
	}
	if cfg.Anchoring.RetryMaxDelay <= 0 {
		cfg.Anchoring.RetryMaxDelay = time.Minute
	}
	if cfg.CGPAScale <= 0 {
		cfg.CGPAScale = 4.0
	}
	s := &IssuanceService{
		repo:      repo,
		ledger:    ledger,
		audit:     audit,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		newCode: func() (string, error) {
			return certcode.VerificationCode(certcode.DefaultCodeLength)
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// AttachScheduler wires the queue that runs delayed anchor retries.
func (s *IssuanceService) AttachScheduler(scheduler anchorScheduler) {
	s.scheduler = scheduler
}

// Issue creates a certificate and, unless a draft is requested, submits it for approval.
func (s *IssuanceService) Issue(ctx context.Context, req dto.IssueCertificateRequest, actor models.Actor) (*models.Certificate, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	if actor.UserID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	cert := &models.Certificate{
		TenantID:       actor.TenantID,
		StudentID:      strings.TrimSpace(req.StudentID),
		StudentName:    strings.TrimSpace(req.StudentName),
		StudentNumber:  strings.TrimSpace(req.StudentNumber),
		Program:        strings.TrimSpace(req.Program),
		Department:     strings.TrimSpace(req.Department),
		ClassOfDegree:  trimmedOrNil(req.ClassOfDegree),
		CGPA:           req.CGPA,
		GraduationYear: req.GraduationYear,
		Type:           models.CertificateType(strings.ToLower(string(req.Type))),
		Status:         models.CertificateStatusDraft,
		CreatedBy:      actor.UserID,
	}
	if !cert.Type.Valid() {
		return nil, appErrors.FieldError("type", "unsupported certificate type")
	}
	if !req.Draft {
		if err := validateCertificateFields(cert, s.cfg.CGPAScale); err != nil {
			return nil, err
		}
		at := s.now()
		cert.Status = models.CertificateStatusPendingApproval
		cert.SubmittedAt = &at
	}
	if err := s.repo.Create(ctx, cert); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create certificate")
	}

	s.emitAudit(ctx, cert, actor.UserID, models.AuditActionCertificateCreate, nil, map[string]interface{}{
		"status": cert.Status,
		"type":   cert.Type,
	})
	if cert.Status == models.CertificateStatusPendingApproval {
		s.recordTransition(models.CertificateStatusDraft, models.CertificateStatusPendingApproval)
		s.emitAudit(ctx, cert, actor.UserID, models.AuditActionCertificateSubmit,
			map[string]interface{}{"status": models.CertificateStatusDraft},
			map[string]interface{}{"status": cert.Status})
	}
	return cert, nil
}

// Get loads a certificate visible to the actor.
func (s *IssuanceService) Get(ctx context.Context, id string, actor models.Actor) (*models.Certificate, error) {
	return s.load(ctx, id, actor)
}

// List returns a page of certificates with register counts.
func (s *IssuanceService) List(ctx context.Context, query dto.CertificateQuery, actor models.Actor) (*dto.CertificateListResponse, *models.Pagination, error) {
	filter := models.CertificateFilter{
		TenantID: actor.TenantID,
		Status:   query.Status,
		Type:     query.Type,
		Year:     query.Year,
		Search:   query.Search,
		Page:     query.Page,
		PageSize: query.PageSize,
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 200 {
		filter.PageSize = 20
	}
	items, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list certificates")
	}
	total, err := s.repo.Count(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count certificates")
	}
	summary, err := s.repo.Summary(ctx, actor.TenantID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to summarize certificates")
	}
	if items == nil {
		items = []models.Certificate{}
	}
	resp := &dto.CertificateListResponse{Items: items, Summary: *summary}
	return resp, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// UpdateDraft amends subject fields while the certificate is still a draft.
func (s *IssuanceService) UpdateDraft(ctx context.Context, id string, req dto.UpdateCertificateRequest, actor models.Actor) (*models.Certificate, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	cert, err := s.load(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if cert.Status != models.CertificateStatusDraft {
		return nil, appErrors.WithDetails(appErrors.ErrInvalidTransition, "certificate can only be amended while in draft",
			map[string]interface{}{"from": string(cert.Status), "to": string(models.CertificateStatusDraft)})
	}
	before := subjectSnapshot(cert)
	applyDraftUpdate(cert, req)
	if !cert.Type.Valid() {
		return nil, appErrors.FieldError("type", "unsupported certificate type")
	}
	if cert.CGPA != nil && (*cert.CGPA < 0 || *cert.CGPA > s.cfg.CGPAScale) {
		return nil, appErrors.FieldError("cgpa", "cgpa is outside the institution scale")
	}
	if err := s.repo.UpdateDraft(ctx, cert); err != nil {
		return nil, s.transitionFailure(ctx, id, models.CertificateStatusDraft, err, "failed to update certificate")
	}
	s.emitAudit(ctx, cert, actor.UserID, models.AuditActionCertificateUpdate, before, subjectSnapshot(cert))
	return cert, nil
}

// Submit moves a complete draft to pending approval.
func (s *IssuanceService) Submit(ctx context.Context, id string, actor models.Actor) (*models.Certificate, error) {
	cert, err := s.load(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(cert.Status, models.CertificateStatusPendingApproval); err != nil {
		return nil, err
	}
	if err := validateCertificateFields(cert, s.cfg.CGPAScale); err != nil {
		return nil, err
	}
	at := s.now()
	if err := s.repo.Submit(ctx, cert.ID, at); err != nil {
		return nil, s.transitionFailure(ctx, id, models.CertificateStatusPendingApproval, err, "failed to submit certificate")
	}
	cert.Status = models.CertificateStatusPendingApproval
	cert.SubmittedAt = &at
	cert.RejectionNote = nil
	s.recordTransition(models.CertificateStatusDraft, cert.Status)
	s.emitAudit(ctx, cert, actor.UserID, models.AuditActionCertificateSubmit,
		map[string]interface{}{"status": models.CertificateStatusDraft},
		map[string]interface{}{"status": cert.Status})
	return cert, nil
}

// Reject sends a pending certificate back to draft with a reviewer note.
func (s *IssuanceService) Reject(ctx context.Context, id, note string, actor models.Actor) (*models.Certificate, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, appErrors.FieldError("note", "a rejection note is required")
	}
	cert, err := s.load(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(cert.Status, models.CertificateStatusDraft); err != nil {
		return nil, err
	}
	if err := s.repo.ReturnToDraft(ctx, cert.ID, note, s.now()); err != nil {
		return nil, s.transitionFailure(ctx, id, models.CertificateStatusDraft, err, "failed to reject certificate")
	}
	cert.Status = models.CertificateStatusDraft
	cert.RejectionNote = &note
	cert.SubmittedAt = nil
	s.recordTransition(models.CertificateStatusPendingApproval, cert.Status)
	s.emitAudit(ctx, cert, actor.UserID, models.AuditActionCertificateReject,
		map[string]interface{}{"status": models.CertificateStatusPendingApproval},
		map[string]interface{}{"status": cert.Status, "note": note})
	return cert, nil
}

// ApproveAndAnchor approves a pending certificate, assigns its number and verification code, and
// anchors it on the ledger. Without anchoring for the tenant it is issued immediately.
func (s *IssuanceService) ApproveAndAnchor(ctx context.Context, id string, approver models.Actor) (*models.Certificate, error) {
	if approver.UserID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	cert, err := s.load(ctx, id, approver)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(cert.Status, models.CertificateStatusProcessing); err != nil {
		return nil, err
	}
	if cert.CreatedBy == approver.UserID {
		return nil, appErrors.ErrFourEyes
	}

	anchorRequired := s.cfg.Anchoring.EnabledFor(cert.TenantID)
	processed, err := s.repo.MarkProcessing(ctx, repository.MarkProcessingParams{
		ID:             cert.ID,
		ApprovedBy:     approver.UserID,
		ApprovedAt:     s.now(),
		AnchorRequired: anchorRequired,
		NewCode:        s.newCode,
		DataHash:       ComputeDataHash,
	})
	if err != nil {
		if errors.Is(err, repository.ErrStatusConflict) && processed != nil {
			return nil, appErrors.InvalidTransition(string(processed.Status), string(models.CertificateStatusProcessing))
		}
		return nil, s.transitionFailure(ctx, id, models.CertificateStatusProcessing, err, "failed to approve certificate")
	}
	// anchoring outlives the request from here on
	ctx = context.WithoutCancel(ctx)
	s.recordTransition(models.CertificateStatusPendingApproval, models.CertificateStatusProcessing)
	s.emitAudit(ctx, processed, approver.UserID, models.AuditActionCertificateApprove,
		map[string]interface{}{"status": models.CertificateStatusPendingApproval},
		map[string]interface{}{
			"status":         processed.Status,
			"certificateNo":  processed.Number(),
			"dataHash":       processed.Hash(),
			"anchorRequired": processed.AnchorRequired,
			"approvedBy":     approver.UserID,
		})

	if !processed.AnchorRequired {
		return s.issue(ctx, processed, approver.UserID, nil, false)
	}
	return s.anchor(ctx, processed, approver.UserID)
}

// RetryAnchor retries anchoring a processing certificate on operator request.
func (s *IssuanceService) RetryAnchor(ctx context.Context, id string, operator models.Actor) (*models.Certificate, error) {
	cert, err := s.load(ctx, id, operator)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(cert.Status, models.CertificateStatusIssued); err != nil {
		return nil, err
	}
	issuer := operator.UserID
	if issuer == "" {
		issuer = deref(cert.ApprovedBy)
	}
	ctx = context.WithoutCancel(ctx)
	if !cert.AnchorRequired {
		return s.issue(ctx, cert, issuer, nil, false)
	}
	return s.anchor(ctx, cert, issuer)
}

// OverrideUnanchored issues a processing certificate without a ledger anchor. It requires the
// institution to allow unanchored fallback and at least one failed anchoring attempt.
func (s *IssuanceService) OverrideUnanchored(ctx context.Context, id, reason string, operator models.Actor) (*models.Certificate, error) {
	if !s.cfg.Anchoring.AllowUnanchoredFallback {
		return nil, appErrors.ErrOverrideNotAllowed
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, appErrors.FieldError("reason", "an override reason is required")
	}
	if operator.UserID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	cert, err := s.load(ctx, id, operator)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(cert.Status, models.CertificateStatusIssued); err != nil {
		return nil, err
	}
	if cert.AnchorRequired && cert.AnchorAttempts < 1 {
		return nil, appErrors.Clone(appErrors.ErrOverrideNotAllowed, "override requires at least one failed anchoring attempt")
	}
	issued, err := s.issue(ctx, cert, operator.UserID, nil, true)
	if err != nil {
		return nil, err
	}
	s.emitAudit(ctx, issued, operator.UserID, models.AuditActionCertificateOverride, nil, map[string]interface{}{
		"reason":         reason,
		"anchorAttempts": issued.AnchorAttempts,
		"lastError":      deref(issued.LastAnchorError),
	})
	return issued, nil
}

// Revoke revokes an issued certificate. Revoking an already revoked certificate returns it unchanged.
func (s *IssuanceService) Revoke(ctx context.Context, id, reason string, revoker models.Actor) (*models.Certificate, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, appErrors.FieldError("reason", "a revocation reason is required")
	}
	if revoker.UserID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	cert, err := s.load(ctx, id, revoker)
	if err != nil {
		return nil, err
	}
	if cert.Status == models.CertificateStatusRevoked {
		return cert, nil
	}
	if err := checkTransition(cert.Status, models.CertificateStatusRevoked); err != nil {
		return nil, err
	}
	at := s.now()
	if err := s.repo.MarkRevoked(ctx, cert.ID, reason, revoker.UserID, at); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			current, loadErr := s.repo.GetByID(ctx, cert.ID)
			if loadErr == nil && current.Status == models.CertificateStatusRevoked {
				return current, nil
			}
		}
		return nil, s.transitionFailure(ctx, id, models.CertificateStatusRevoked, err, "failed to revoke certificate")
	}
	cert.Status = models.CertificateStatusRevoked
	cert.RevokedAt = &at
	cert.RevokedReason = &reason
	cert.RevokedBy = &revoker.UserID
	s.recordTransition(models.CertificateStatusIssued, cert.Status)
	s.emitAudit(ctx, cert, revoker.UserID, models.AuditActionCertificateRevoke,
		map[string]interface{}{"status": models.CertificateStatusIssued},
		map[string]interface{}{"status": cert.Status, "reason": reason})

	s.evictVerification(ctx, cert)
	if cert.OnChain {
		s.followUp(ctx, cert, RevocationJobType, s.publishRevocation)
	}
	return cert, nil
}

// RecoverPendingAnchors re-enqueues processing certificates that still need anchoring.
func (s *IssuanceService) RecoverPendingAnchors(ctx context.Context) (int, error) {
	if s.scheduler == nil {
		return 0, nil
	}
	pending, err := s.repo.ListPendingAnchors(ctx, 200)
	if err != nil {
		s.logger.Warn("failed to list pending anchors", zap.Error(err))
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list pending anchors")
	}
	recovered := 0
	for _, cert := range pending {
		job := jobs.Job{ID: cert.ID, Type: AnchorJobType, Attempt: cert.AnchorAttempts}
		if err := s.scheduler.EnqueueAfter(job, 0); err != nil {
			s.logger.Warn("failed to requeue anchor", zap.String("certificate_id", cert.ID), zap.Error(err))
			continue
		}
		recovered++
	}
	return recovered, nil
}

// HandleJob is the anchor queue handler. It runs delayed anchor retries and the ledger
// follow-ups enqueued after issuance and revocation.
func (s *IssuanceService) HandleJob(ctx context.Context, job jobs.Job) error {
	switch job.Type {
	case GraduationJobType:
		return s.handleFollowUp(ctx, job, models.CertificateStatusIssued, s.reportGraduation)
	case RevocationJobType:
		return s.handleFollowUp(ctx, job, models.CertificateStatusRevoked, s.publishRevocation)
	}

	cert, err := s.repo.GetByID(ctx, job.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return jobs.Permanent(fmt.Errorf("certificate %s not found", job.ID))
		}
		return err
	}
	if cert.Status != models.CertificateStatusProcessing || !cert.AnchorRequired {
		return nil
	}
	if cert.AnchorExhausted {
		return jobs.Permanent(appErrors.ErrManualIntervention)
	}
	_, err = s.anchor(ctx, cert, deref(cert.ApprovedBy))
	switch {
	case err == nil:
		return nil
	case appErrors.HasCode(err, appErrors.ErrAnchorFailed.Code):
		// next attempt already scheduled by anchor
		return nil
	case appErrors.HasCode(err, appErrors.ErrManualIntervention.Code),
		appErrors.HasCode(err, appErrors.ErrIntegrity.Code),
		appErrors.HasCode(err, appErrors.ErrInvalidTransition.Code):
		return jobs.Permanent(err)
	default:
		return err
	}
}

func (s *IssuanceService) handleFollowUp(ctx context.Context, job jobs.Job, want models.CertificateStatus, run func(context.Context, *models.Certificate)) error {
	cert, err := s.repo.GetByID(ctx, job.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return jobs.Permanent(fmt.Errorf("certificate %s not found", job.ID))
		}
		return err
	}
	if cert.Status != want {
		s.logger.Info("skipping ledger follow-up", zap.String("certificate_id", cert.ID), zap.String("job_type", job.Type), zap.String("status", string(cert.Status)))
		return nil
	}
	run(ctx, cert)
	return nil
}

// followUp hands a ledger notification to the queue so the caller does not wait on the gateway.
// Without a queue it runs inline on a detached context.
func (s *IssuanceService) followUp(ctx context.Context, cert *models.Certificate, jobType string, run func(context.Context, *models.Certificate)) {
	if s.ledger == nil || !s.ledger.Configured() {
		return
	}
	if s.scheduler != nil {
		err := s.scheduler.EnqueueAfter(jobs.Job{ID: cert.ID, Type: jobType}, 0)
		if err == nil {
			return
		}
		s.logger.Warn("failed to enqueue ledger follow-up", zap.String("certificate_id", cert.ID), zap.String("job_type", jobType), zap.Error(err))
	}
	run(context.WithoutCancel(ctx), cert)
}

func (s *IssuanceService) anchor(ctx context.Context, cert *models.Certificate, actorID string) (*models.Certificate, error) {
	ctx = context.WithoutCancel(ctx)
	attempt := cert.AnchorAttempts + 1
	record, err := s.attemptAnchor(ctx, cert, attempt)
	if err == nil && record.Confirmed() {
		s.recordAnchorOutcome(string(sis.StatusConfirmed))
		return s.issue(ctx, cert, actorID, record, false)
	}

	outcome, reason := anchorFailure(record, err)
	s.recordAnchorOutcome(outcome)
	s.logger.Warn("certificate anchoring failed",
		zap.String("certificate_id", cert.ID),
		zap.String("certificate_no", cert.Number()),
		zap.Int("attempt", attempt),
		zap.String("outcome", outcome),
		zap.String("reason", reason),
	)

	result, recErr := s.repo.RecordAnchorAttempt(ctx, cert.ID, reason, s.cfg.Anchoring.MaxRetries)
	if recErr != nil {
		s.logger.Error("failed to record anchor attempt", zap.String("certificate_id", cert.ID), zap.Error(recErr))
		if !errors.Is(recErr, repository.ErrStatusConflict) {
			s.scheduleRetry(cert, attempt)
		}
		return nil, s.transitionFailure(ctx, cert.ID, models.CertificateStatusIssued, recErr, "failed to record anchor attempt")
	}
	cert.AnchorAttempts = result.Attempts
	cert.AnchorExhausted = result.Exhausted
	cert.LastAnchorError = &reason
	s.emitAudit(ctx, cert, actorID, models.AuditActionCertificateAnchor, nil, map[string]interface{}{
		"attempt":   result.Attempts,
		"outcome":   outcome,
		"error":     reason,
		"exhausted": result.Exhausted,
	})

	details := map[string]interface{}{
		"certificateId": cert.ID,
		"attempts":      result.Attempts,
		"maxAttempts":   s.cfg.Anchoring.MaxRetries,
		"lastError":     reason,
	}
	if result.Exhausted {
		appErr := appErrors.WithDetails(appErrors.ErrManualIntervention, "", details)
		appErr.Err = err
		return nil, appErr
	}
	details["retryScheduled"] = s.scheduleRetry(cert, result.Attempts)
	appErr := appErrors.WithDetails(appErrors.ErrAnchorFailed, "", details)
	appErr.Err = err
	return nil, appErr
}

// attemptAnchor makes one bounded anchoring call. Attempts after the first ask the ledger whether
// an earlier store already landed before storing again.
func (s *IssuanceService) attemptAnchor(ctx context.Context, cert *models.Certificate, attempt int) (*sis.BlockchainRecord, error) {
	if s.ledger == nil {
		return nil, appErrors.ErrGatewayUnavailable
	}
	actx, cancel := context.WithTimeout(ctx, s.cfg.Anchoring.Timeout)
	defer cancel()

	if attempt > 1 {
		if record := s.existingAnchor(actx, cert); record != nil {
			return record, nil
		}
	}
	return s.ledger.StoreCertificate(actx, s.ledgerPayload(cert))
}

func (s *IssuanceService) existingAnchor(ctx context.Context, cert *models.Certificate) *sis.BlockchainRecord {
	res, err := s.ledger.VerifyCertificate(ctx, cert.Number())
	if err != nil || res == nil || !res.Valid || res.Revoked || res.BlockchainHash == "" {
		return nil
	}
	if res.Certificate != nil && res.Certificate.DataHash != "" && res.Certificate.DataHash != cert.Hash() {
		return nil
	}
	record := &sis.BlockchainRecord{
		Hash:          cert.Hash(),
		TransactionID: res.BlockchainHash,
		Status:        sis.StatusConfirmed,
		ExplorerURL:   res.ExplorerURL,
		Timestamp:     s.now(),
	}
	if res.VerifiedAt != nil {
		record.Timestamp = *res.VerifiedAt
	}
	s.logger.Info("reusing existing ledger anchor", zap.String("certificate_id", cert.ID), zap.String("transaction_id", record.TransactionID))
	return record
}

func (s *IssuanceService) ledgerPayload(cert *models.Certificate) sis.CertificateData {
	data := sis.CertificateData{
		CertificateNo:    cert.Number(),
		VerificationCode: cert.Code(),
		StudentNumber:    cert.StudentNumber,
		StudentName:      cert.StudentName,
		Program:          cert.Program,
		Department:       cert.Department,
		Type:             string(cert.Type),
		ClassOfDegree:    deref(cert.ClassOfDegree),
		CGPA:             cert.CGPA,
		GraduationYear:   cert.GraduationYear,
		IssueDate:        s.now().Format("2006-01-02"),
		InstitutionName:  s.cfg.InstitutionName,
		InstitutionCode:  s.cfg.InstitutionCode,
		DataHash:         cert.Hash(),
		Status:           string(models.CertificateStatusIssued),
	}
	return data
}

func (s *IssuanceService) scheduleRetry(cert *models.Certificate, attempts int) bool {
	if s.scheduler == nil {
		return false
	}
	delay := jobs.Backoff(s.cfg.Anchoring.RetryBaseDelay, s.cfg.Anchoring.RetryMaxDelay, attempts)
	job := jobs.Job{ID: cert.ID, Type: AnchorJobType, Attempt: attempts}
	if err := s.scheduler.EnqueueAfter(job, delay); err != nil {
		s.logger.Warn("failed to schedule anchor retry", zap.String("certificate_id", cert.ID), zap.Int("attempt", attempts), zap.Error(err))
		return false
	}
	return true
}

// issue re-checks the data hash and moves a processing certificate to issued.
func (s *IssuanceService) issue(ctx context.Context, cert *models.Certificate, issuedBy string, record *sis.BlockchainRecord, overridden bool) (*models.Certificate, error) {
	recomputed, err := ComputeDataHash(*cert)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute data hash")
	}
	if recomputed != cert.Hash() {
		s.integrityAlert(ctx, cert, "issuance_hash_mismatch", map[string]interface{}{
			"storedHash":     cert.Hash(),
			"recomputedHash": recomputed,
		})
		return nil, appErrors.WithDetails(appErrors.ErrIntegrity, "certificate data changed since approval",
			map[string]interface{}{"certificateId": cert.ID})
	}

	at := s.now()
	params := repository.MarkIssuedParams{
		ID:           cert.ID,
		ExpectedHash: recomputed,
		IssuedBy:     issuedBy,
		IssuedAt:     at,
		Overridden:   overridden,
	}
	if record != nil && record.Confirmed() {
		params.OnChain = true
		params.TransactionID = &record.TransactionID
		params.BlockNumber = record.Slot
		if record.ExplorerURL != "" {
			params.ExplorerURL = &record.ExplorerURL
		}
	}
	if err := s.repo.MarkIssued(ctx, params); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			current, loadErr := s.repo.GetByID(ctx, cert.ID)
			if loadErr == nil && current.Status == models.CertificateStatusProcessing {
				s.integrityAlert(ctx, cert, "issuance_hash_guard", map[string]interface{}{"storedHash": current.Hash()})
				return nil, appErrors.WithDetails(appErrors.ErrIntegrity, "certificate data changed since approval",
					map[string]interface{}{"certificateId": cert.ID})
			}
		}
		return nil, s.transitionFailure(ctx, cert.ID, models.CertificateStatusIssued, err, "failed to issue certificate")
	}

	cert.Status = models.CertificateStatusIssued
	cert.IssuedAt = &at
	cert.IssuedBy = &issuedBy
	cert.OnChain = params.OnChain
	cert.BlockchainTransactionID = params.TransactionID
	cert.BlockNumber = params.BlockNumber
	cert.ExplorerURL = params.ExplorerURL
	cert.AnchorOverridden = overridden
	cert.LastAnchorError = nil
	s.recordTransition(models.CertificateStatusProcessing, cert.Status)
	s.emitAudit(ctx, cert, issuedBy, models.AuditActionCertificateIssue,
		map[string]interface{}{"status": models.CertificateStatusProcessing},
		map[string]interface{}{
			"status":        cert.Status,
			"onChain":       cert.OnChain,
			"transactionId": deref(cert.BlockchainTransactionID),
			"overridden":    overridden,
		})

	if cert.Type == models.CertificateTypeDegree {
		s.followUp(ctx, cert, GraduationJobType, s.reportGraduation)
	}
	return cert, nil
}

func (s *IssuanceService) reportGraduation(ctx context.Context, cert *models.Certificate) {
	if s.ledger == nil || !s.ledger.Configured() {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, s.cfg.Anchoring.Timeout)
	defer cancel()
	report := sis.GraduationReport{
		StudentID:      cert.StudentNumber,
		Program:        cert.Program,
		ClassOfDegree:  deref(cert.ClassOfDegree),
		CGPA:           cert.CGPA,
		GraduationDate: fmt.Sprintf("%d-07-01", cert.GraduationYear),
		CertificateNo:  cert.Number(),
	}
	if cert.IssuedAt != nil {
		report.GraduationDate = cert.IssuedAt.Format("2006-01-02")
	}
	result, err := s.ledger.ReportGraduation(rctx, report)
	if err != nil {
		s.logger.Warn("graduation report failed", zap.String("certificate_id", cert.ID), zap.Error(err))
		return
	}
	if !result.Success {
		s.logger.Warn("graduation report rejected", zap.String("certificate_id", cert.ID), zap.String("error", result.Error))
	}
}

func (s *IssuanceService) publishRevocation(ctx context.Context, cert *models.Certificate) {
	if s.ledger == nil || !s.ledger.Configured() {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, s.cfg.Anchoring.Timeout)
	defer cancel()
	revokedAt := s.now()
	if cert.RevokedAt != nil {
		revokedAt = *cert.RevokedAt
	}
	record, err := s.ledger.StoreRevocation(rctx, sis.RevocationData{
		CertificateNo: cert.Number(),
		DataHash:      cert.Hash(),
		Reason:        deref(cert.RevokedReason),
		RevokedAt:     revokedAt,
		Status:        string(models.CertificateStatusRevoked),
	})
	if err != nil {
		s.logger.Warn("ledger revocation failed", zap.String("certificate_id", cert.ID), zap.Error(err))
		return
	}
	if record.Status == sis.StatusFailed {
		s.logger.Warn("ledger revocation rejected", zap.String("certificate_id", cert.ID), zap.String("error", record.Error))
	}
}

func (s *IssuanceService) evictVerification(ctx context.Context, cert *models.Certificate) {
	if s.cache == nil {
		return
	}
	keys := make([]string, 0, 2)
	if code := cert.Code(); code != "" {
		keys = append(keys, verificationCacheKey(code))
	}
	if number := cert.Number(); number != "" {
		keys = append(keys, numberCacheKey(cert.TenantID, number))
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.Warn("failed to evict verification cache", zap.String("certificate_id", cert.ID), zap.Error(err))
	}
}

func (s *IssuanceService) integrityAlert(ctx context.Context, cert *models.Certificate, source string, details map[string]interface{}) {
	if s.metrics != nil {
		s.metrics.RecordIntegrityAlert(source)
	}
	s.logger.Error("integrity_alert",
		zap.String("source", source),
		zap.String("certificate_id", cert.ID),
		zap.String("certificate_no", cert.Number()),
		zap.Any("details", details),
	)
	payload := map[string]interface{}{"source": source}
	for k, v := range details {
		payload[k] = v
	}
	s.emitAudit(ctx, cert, "", models.AuditActionIntegrityAlert, nil, payload)
}

// load fetches a certificate and hides records belonging to another tenant.
func (s *IssuanceService) load(ctx context.Context, id string, actor models.Actor) (*models.Certificate, error) {
	cert, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "certificate not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load certificate")
	}
	if actor.TenantID != "" && cert.TenantID != actor.TenantID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "certificate not found")
	}
	return cert, nil
}

// transitionFailure maps a failed guarded update onto the error the caller should see.
func (s *IssuanceService) transitionFailure(ctx context.Context, id string, to models.CertificateStatus, err error, msg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "certificate not found")
	}
	if errors.Is(err, repository.ErrStatusConflict) {
		current, loadErr := s.repo.GetByID(ctx, id)
		if loadErr == nil {
			return appErrors.InvalidTransition(string(current.Status), string(to))
		}
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "certificate changed concurrently")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, msg)
}

func (s *IssuanceService) recordTransition(from, to models.CertificateStatus) {
	if s.metrics != nil {
		s.metrics.RecordTransition(from, to)
	}
}

func (s *IssuanceService) recordAnchorOutcome(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordAnchorAttempt(outcome)
	}
}

func (s *IssuanceService) emitAudit(ctx context.Context, cert *models.Certificate, userID, action string, oldValues, newValues map[string]interface{}) {
	if s.audit == nil || cert == nil {
		return
	}
	resourceID := cert.ID
	entry := &models.AuditLog{
		Action:     action,
		Resource:   certificateResource,
		ResourceID: &resourceID,
		IPAddress:  "system",
		UserAgent:  "issuance-service",
	}
	if cert.TenantID != "" {
		tenant := cert.TenantID
		entry.TenantID = &tenant
	}
	if userID != "" {
		entry.UserID = &userID
	}
	if oldValues != nil {
		entry.OldValues, _ = json.Marshal(oldValues)
	}
	if newValues != nil {
		entry.NewValues, _ = json.Marshal(newValues)
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to persist audit log", zap.String("action", action), zap.Error(err))
	}
}

func anchorFailure(record *sis.BlockchainRecord, err error) (string, string) {
	switch {
	case err != nil:
		if errors.Is(err, context.DeadlineExceeded) {
			return "timeout", err.Error()
		}
		return "transport_error", err.Error()
	case record == nil:
		return "transport_error", "empty gateway response"
	case record.Status == sis.StatusPending:
		return string(sis.StatusPending), "anchor pending confirmation"
	default:
		reason := record.Error
		if reason == "" {
			reason = "gateway reported anchoring failure"
		}
		return string(sis.StatusFailed), reason
	}
}

func applyDraftUpdate(cert *models.Certificate, req dto.UpdateCertificateRequest) {
	if req.StudentName != nil {
		cert.StudentName = strings.TrimSpace(*req.StudentName)
	}
	if req.StudentNumber != nil {
		cert.StudentNumber = strings.TrimSpace(*req.StudentNumber)
	}
	if req.Program != nil {
		cert.Program = strings.TrimSpace(*req.Program)
	}
	if req.Department != nil {
		cert.Department = strings.TrimSpace(*req.Department)
	}
	if req.ClearClassOfDegree {
		cert.ClassOfDegree = nil
	} else if req.ClassOfDegree != nil {
		cert.ClassOfDegree = trimmedOrNil(req.ClassOfDegree)
	}
	if req.ClearCGPA {
		cert.CGPA = nil
	} else if req.CGPA != nil {
		v := *req.CGPA
		cert.CGPA = &v
	}
	if req.GraduationYear != nil {
		cert.GraduationYear = *req.GraduationYear
	}
	if req.Type != nil {
		cert.Type = models.CertificateType(strings.ToLower(string(*req.Type)))
	}
}

func subjectSnapshot(cert *models.Certificate) map[string]interface{} {
	return map[string]interface{}{
		"studentName":    cert.StudentName,
		"studentNumber":  cert.StudentNumber,
		"program":        cert.Program,
		"department":     cert.Department,
		"classOfDegree":  deref(cert.ClassOfDegree),
		"cgpa":           cert.CGPA,
		"graduationYear": cert.GraduationYear,
		"type":           cert.Type,
	}
}

func trimmedOrNil(value *string) *string {
	if value == nil {
		return nil
	}
	v := strings.TrimSpace(*value)
	if v == "" {
		return nil
	}
	return &v
}

func deref(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
