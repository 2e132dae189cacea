package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-cert-api/internal/dto"
	"github.com/noah-isme/campus-cert-api/internal/models"
	"github.com/noah-isme/campus-cert-api/pkg/certcode"
	"github.com/noah-isme/campus-cert-api/pkg/config"
	appErrors "github.com/noah-isme/campus-cert-api/pkg/errors"
	"github.com/noah-isme/campus-cert-api/pkg/jobs"
	"github.com/noah-isme/campus-cert-api/pkg/sis"
)

var (
	registrar = models.Actor{UserID: "registrar-1", TenantID: "tenant-a", Role: models.RoleRegistrar}
	approver  = models.Actor{UserID: "admin-1", TenantID: "tenant-a", Role: models.RoleAdmin}
	fixedNow  = time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)
)

type issuanceFixture struct {
	svc       *IssuanceService
	store     *certificateStoreStub
	ledger    *ledgerStub
	scheduler *schedulerStub
	audit     *auditStub
	metrics   *metricsStub
	cache     *memoryCache
}

func newIssuanceFixture(t *testing.T, mutate ...func(*IssuanceServiceConfig)) *issuanceFixture {
	t.Helper()
	cfg := IssuanceServiceConfig{
		Anchoring: config.AnchoringConfig{
			Enabled:        true,
			MaxRetries:     3,
			Timeout:        time.Second,
			RetryBaseDelay: time.Second,
			RetryMaxDelay:  10 * time.Second,
		},
		CGPAScale:       4.0,
		InstitutionName: "Campus University",
		InstitutionCode: "CU",
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	f := &issuanceFixture{
		store:     newCertificateStoreStub(),
		ledger:    newLedgerStub(),
		scheduler: &schedulerStub{},
		audit:     &auditStub{},
		metrics:   &metricsStub{},
		cache:     newMemoryCache(),
	}
	f.svc = NewIssuanceService(f.store, f.ledger, f.audit, nil, nil, cfg,
		WithIssuanceClock(func() time.Time { return fixedNow }),
		WithIssuanceMetrics(f.metrics),
		WithVerificationCache(f.cache),
	)
	f.svc.AttachScheduler(f.scheduler)
	return f
}

// runFollowUps executes queued ledger notifications and removes them from the scheduler.
func (f *issuanceFixture) runFollowUps(t *testing.T) []string {
	t.Helper()
	f.scheduler.mu.Lock()
	queued := f.scheduler.jobs
	f.scheduler.jobs = nil
	f.scheduler.mu.Unlock()

	var ran []string
	for _, job := range queued {
		if job.Type != GraduationJobType && job.Type != RevocationJobType {
			f.scheduler.jobs = append(f.scheduler.jobs, job)
			continue
		}
		require.NoError(t, f.svc.HandleJob(context.Background(), job))
		ran = append(ran, job.Type)
	}
	return ran
}

func degreeRequest() dto.IssueCertificateRequest {
	return dto.IssueCertificateRequest{
		StudentID:      "student-uuid-1",
		StudentName:    "Ada Lovelace",
		StudentNumber:  "CSC/2020/001",
		Program:        "Computer Science",
		Department:     "Computing",
		ClassOfDegree:  strPtr("First Class"),
		CGPA:           floatPtr(3.91),
		GraduationYear: 2024,
		Type:           models.CertificateTypeDegree,
	}
}

func (f *issuanceFixture) pending(t *testing.T) *models.Certificate {
	t.Helper()
	cert, err := f.svc.Issue(context.Background(), degreeRequest(), registrar)
	require.NoError(t, err)
	return cert
}

func TestIssueSubmitsForApproval(t *testing.T) {
	f := newIssuanceFixture(t)

	cert := f.pending(t)

	assert.Equal(t, models.CertificateStatusPendingApproval, cert.Status)
	assert.Equal(t, "tenant-a", cert.TenantID)
	assert.Equal(t, "registrar-1", cert.CreatedBy)
	assert.Nil(t, cert.CertificateNo)
	assert.Nil(t, cert.VerificationCode)
	require.NotNil(t, cert.SubmittedAt)
	assert.Equal(t, []string{models.AuditActionCertificateCreate, models.AuditActionCertificateSubmit}, f.audit.actions())
}

func TestIssueRejectsMissingTypeFields(t *testing.T) {
	f := newIssuanceFixture(t)
	req := degreeRequest()
	req.ClassOfDegree = nil

	_, err := f.svc.Issue(context.Background(), req, registrar)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))

	req = degreeRequest()
	req.Type = models.CertificateTypeTranscript
	_, err = f.svc.Issue(context.Background(), req, registrar)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))

	req = degreeRequest()
	req.CGPA = floatPtr(4.5)
	_, err = f.svc.Issue(context.Background(), req, registrar)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
	assert.Empty(t, f.store.items)
}

func TestIssueDraftSkipsTypeRules(t *testing.T) {
	f := newIssuanceFixture(t)
	req := degreeRequest()
	req.ClassOfDegree = nil
	req.Draft = true

	cert, err := f.svc.Issue(context.Background(), req, registrar)
	require.NoError(t, err)
	assert.Equal(t, models.CertificateStatusDraft, cert.Status)

	_, err = f.svc.Submit(context.Background(), cert.ID, registrar)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))

	_, err = f.svc.UpdateDraft(context.Background(), cert.ID, dto.UpdateCertificateRequest{ClassOfDegree: strPtr("Second Class Upper")}, registrar)
	require.NoError(t, err)
	submitted, err := f.svc.Submit(context.Background(), cert.ID, registrar)
	require.NoError(t, err)
	assert.Equal(t, models.CertificateStatusPendingApproval, submitted.Status)
}

func TestApproveAnchorsAndIssuesThenVerifies(t *testing.T) {
	f := newIssuanceFixture(t)
	cert := f.pending(t)

	issued, err := f.svc.ApproveAndAnchor(context.Background(), cert.ID, approver)
	require.NoError(t, err)

	assert.Equal(t, models.CertificateStatusIssued, issued.Status)
	assert.Equal(t, "CERT-2024-000001", issued.Number())
	assert.True(t, certcode.ValidCode(issued.Code()))
	assert.True(t, issued.OnChain)
	assert.Equal(t, "tx-CERT-2024-000001", deref(issued.BlockchainTransactionID))
	hash, err := ComputeDataHash(*issued)
	require.NoError(t, err)
	assert.Equal(t, hash, issued.Hash())
	assert.Empty(t, f.ledger.graduations)
	assert.Equal(t, []string{GraduationJobType}, f.runFollowUps(t))
	require.Len(t, f.ledger.graduations, 1)
	assert.Equal(t, "CERT-2024-000001", f.ledger.graduations[0].CertificateNo)
	assert.Contains(t, f.metrics.transitions, "processing>issued")

	stored := f.store.snapshot(cert.ID)
	assert.Equal(t, models.CertificateStatusIssued, stored.Status)
	assert.Equal(t, "admin-1", deref(stored.ApprovedBy))

	verifier := NewVerificationService(f.store, f.ledger, nil, f.audit, f.metrics, nil, VerificationServiceConfig{InstitutionName: "Campus University"})
	result, err := verifier.Verify(context.Background(), issued.Code())
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, dto.ChainStatusConfirmed, result.ChainStatus)
	require.NotNil(t, result.Certificate)
	assert.Equal(t, "Ada Lovelace", result.Certificate.StudentName)
	assert.Equal(t, "Campus University", result.Certificate.InstitutionName)
}

func TestApproveFourEyes(t *testing.T) {
	f := newIssuanceFixture(t)
	cert := f.pending(t)

	_, err := f.svc.ApproveAndAnchor(context.Background(), cert.ID, registrar)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrFourEyes.Code))
	assert.Equal(t, models.CertificateStatusPendingApproval, f.store.snapshot(cert.ID).Status)
}

func TestApproveHidesOtherTenants(t *testing.T) {
	f := newIssuanceFixture(t)
	cert := f.pending(t)

	other := models.Actor{UserID: "admin-9", TenantID: "tenant-b"}
	_, err := f.svc.ApproveAndAnchor(context.Background(), cert.ID, other)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound.Code))
}

func TestApproveFailedAnchorStaysProcessing(t *testing.T) {
	f := newIssuanceFixture(t)
	f.ledger.storeErr = errLedgerDown
	cert := f.pending(t)

	_, err := f.svc.ApproveAndAnchor(context.Background(), cert.ID, approver)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrAnchorFailed.Code))
	appErr := appErrors.FromError(err)
	assert.Equal(t, 1, appErr.Details["attempts"])
	assert.Equal(t, true, appErr.Details["retryScheduled"])

	stored := f.store.snapshot(cert.ID)
	assert.Equal(t, models.CertificateStatusProcessing, stored.Status)
	assert.Equal(t, 1, stored.AnchorAttempts)
	assert.NotNil(t, stored.CertificateNo)
	require.Len(t, f.scheduler.jobs, 1)
	assert.Equal(t, AnchorJobType, f.scheduler.jobs[0].Type)
	assert.Equal(t, cert.ID, f.scheduler.jobs[0].ID)
	assert.Contains(t, f.metrics.anchors, "transport_error")

	_, err = f.svc.ApproveAndAnchor(context.Background(), cert.ID, approver)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidTransition.Code))
}

func TestAnchorRetryReusesNumberAndIssues(t *testing.T) {
	f := newIssuanceFixture(t)
	f.ledger.storeErr = errLedgerDown
	cert := f.pending(t)
	_, err := f.svc.ApproveAndAnchor(context.Background(), cert.ID, approver)
	require.Error(t, err)
	before := f.store.snapshot(cert.ID)

	f.ledger.storeErr = nil
	issued, err := f.svc.RetryAnchor(context.Background(), cert.ID, approver)
	require.NoError(t, err)
	assert.Equal(t, models.CertificateStatusIssued, issued.Status)
	assert.Equal(t, before.Number(), issued.Number())
	assert.Equal(t, before.Code(), issued.Code())
	assert.Equal(t, before.Hash(), issued.Hash())
	assert.Equal(t, 1, f.ledger.verifyCalls)
}

func TestAnchorRetryReusesExistingLedgerRecord(t *testing.T) {
	f := newIssuanceFixture(t)
	f.ledger.storeStatus = sis.StatusPending
	cert := f.pending(t)
	_, err := f.svc.ApproveAndAnchor(context.Background(), cert.ID, approver)
	require.Error(t, err)

	processing := f.store.snapshot(cert.ID)
	f.ledger.stored[processing.Number()] = sis.CertificateData{CertificateNo: processing.Number(), DataHash: processing.Hash()}

	issued, err := f.svc.RetryAnchor(context.Background(), cert.ID, approver)
	require.NoError(t, err)
	assert.True(t, issued.OnChain)
	assert.Equal(t, 1, f.ledger.storeCalls)
}

func TestAnchorExhaustionRequiresManualIntervention(t *testing.T) {
	f := newIssuanceFixture(t, func(cfg *IssuanceServiceConfig) { cfg.Anchoring.MaxRetries = 2 })
	f.ledger.storeErr = errLedgerDown
	cert := f.pending(t)

	_, err := f.svc.ApproveAndAnchor(context.Background(), cert.ID, approver)
	require.True(t, appErrors.HasCode(err, appErrors.ErrAnchorFailed.Code))

	_, err = f.svc.RetryAnchor(context.Background(), cert.ID, approver)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrManualIntervention.Code))

	stored := f.store.snapshot(cert.ID)
	assert.Equal(t, models.CertificateStatusProcessing, stored.Status)
	assert.True(t, stored.AnchorExhausted)
	assert.False(t, stored.OnChain)
	assert.Len(t, f.scheduler.jobs, 1)

	err = f.svc.HandleJob(context.Background(), jobs.Job{ID: cert.ID, Type: AnchorJobType})
	require.Error(t, err)
	assert.True(t, jobs.IsPermanent(err))
}

func TestAnchoringDisabledIssuesWithoutLedger(t *testing.T) {
	f := newIssuanceFixture(t, func(cfg *IssuanceServiceConfig) { cfg.Anchoring.DisabledTenants = []string{"tenant-a"} })
	cert := f.pending(t)

	issued, err := f.svc.ApproveAndAnchor(context.Background(), cert.ID, approver)
	require.NoError(t, err)
	assert.Equal(t, models.CertificateStatusIssued, issued.Status)
	assert.False(t, issued.OnChain)
	assert.False(t, issued.AnchorRequired)
	assert.Zero(t, f.ledger.storeCalls)
}

func TestIssueDetectsDataChangedSinceApproval(t *testing.T) {
	f := newIssuanceFixture(t)
	f.ledger.storeErr = errLedgerDown
	cert := f.pending(t)
	_, err := f.svc.ApproveAndAnchor(context.Background(), cert.ID, approver)
	require.Error(t, err)

	f.store.mutate(cert.ID, func(c *models.Certificate) { c.StudentName = "Mallory" })
	f.ledger.storeErr = nil

	_, err = f.svc.RetryAnchor(context.Background(), cert.ID, approver)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrIntegrity.Code))
	assert.Equal(t, models.CertificateStatusProcessing, f.store.snapshot(cert.ID).Status)
	assert.Contains(t, f.metrics.alerts, "issuance_hash_mismatch")
	assert.Contains(t, f.audit.actions(), models.AuditActionIntegrityAlert)
}

func TestConcurrentApprovalsAssignDistinctNumbers(t *testing.T) {
	f := newIssuanceFixture(t)
	const total = 25
	ids := make([]string, 0, total)
	for i := 0; i < total; i++ {
		ids = append(ids, f.pending(t).ID)
	}

	var wg sync.WaitGroup
	results := make([]*models.Certificate, total)
	errs := make([]error, total)
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			results[i], errs[i] = f.svc.ApproveAndAnchor(context.Background(), id, approver)
		}(i, id)
	}
	wg.Wait()

	numbers := map[string]bool{}
	codes := map[string]bool{}
	for i := range results {
		require.NoError(t, errs[i])
		numbers[results[i].Number()] = true
		codes[results[i].Code()] = true
	}
	assert.Len(t, numbers, total)
	assert.Len(t, codes, total)
	assert.True(t, numbers[fmt.Sprintf("CERT-2024-%06d", total)])
}

func TestDoubleApprovalOnlyOneWins(t *testing.T) {
	f := newIssuanceFixture(t)
	cert := f.pending(t)
	second := models.Actor{UserID: "admin-2", TenantID: "tenant-a"}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, actor := range []models.Actor{approver, second} {
		wg.Add(1)
		go func(i int, actor models.Actor) {
			defer wg.Done()
			_, errs[i] = f.svc.ApproveAndAnchor(context.Background(), cert.ID, actor)
		}(i, actor)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			failures++
			assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidTransition.Code))
		}
	}
	assert.Equal(t, 1, failures)
	assert.Equal(t, 1, f.ledger.storeCalls)
}

func TestRejectReturnsToDraft(t *testing.T) {
	f := newIssuanceFixture(t)
	cert := f.pending(t)

	_, err := f.svc.Reject(context.Background(), cert.ID, "  ", approver)
	require.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))

	rejected, err := f.svc.Reject(context.Background(), cert.ID, "wrong programme", approver)
	require.NoError(t, err)
	assert.Equal(t, models.CertificateStatusDraft, rejected.Status)
	assert.Equal(t, "wrong programme", deref(f.store.snapshot(cert.ID).RejectionNote))
}

func TestUpdateDraftOnlyInDraft(t *testing.T) {
	f := newIssuanceFixture(t)
	cert := f.pending(t)

	_, err := f.svc.UpdateDraft(context.Background(), cert.ID, dto.UpdateCertificateRequest{Program: strPtr("Maths")}, registrar)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidTransition.Code))
}

func TestOverrideUnanchoredRules(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled by policy", func(t *testing.T) {
		f := newIssuanceFixture(t)
		f.ledger.storeErr = errLedgerDown
		cert := f.pending(t)
		_, _ = f.svc.ApproveAndAnchor(ctx, cert.ID, approver)

		_, err := f.svc.OverrideUnanchored(ctx, cert.ID, "gateway outage", approver)
		require.Error(t, err)
		assert.True(t, appErrors.HasCode(err, appErrors.ErrOverrideNotAllowed.Code))
	})

	t.Run("requires a failed attempt", func(t *testing.T) {
		f := newIssuanceFixture(t, func(cfg *IssuanceServiceConfig) { cfg.Anchoring.AllowUnanchoredFallback = true })
		cert := f.pending(t)
		f.store.mutate(cert.ID, func(c *models.Certificate) {
			c.Status = models.CertificateStatusProcessing
			c.AnchorRequired = true
		})

		_, err := f.svc.OverrideUnanchored(ctx, cert.ID, "gateway outage", approver)
		require.Error(t, err)
		assert.True(t, appErrors.HasCode(err, appErrors.ErrOverrideNotAllowed.Code))
	})

	t.Run("issues unanchored", func(t *testing.T) {
		f := newIssuanceFixture(t, func(cfg *IssuanceServiceConfig) { cfg.Anchoring.AllowUnanchoredFallback = true })
		f.ledger.storeErr = errLedgerDown
		cert := f.pending(t)
		_, _ = f.svc.ApproveAndAnchor(ctx, cert.ID, approver)

		issued, err := f.svc.OverrideUnanchored(ctx, cert.ID, "gateway outage", approver)
		require.NoError(t, err)
		assert.Equal(t, models.CertificateStatusIssued, issued.Status)
		assert.False(t, issued.OnChain)
		assert.True(t, issued.AnchorOverridden)
		payload, ok := f.audit.last(models.AuditActionCertificateOverride)
		require.True(t, ok)
		assert.Equal(t, "gateway outage", payload["reason"])
	})
}

func TestRevokeIsIdempotent(t *testing.T) {
	f := newIssuanceFixture(t)
	cert := f.pending(t)
	issued, err := f.svc.ApproveAndAnchor(context.Background(), cert.ID, approver)
	require.NoError(t, err)

	f.runFollowUps(t)

	revoked, err := f.svc.Revoke(context.Background(), cert.ID, "issued in error", approver)
	require.NoError(t, err)
	assert.Equal(t, models.CertificateStatusRevoked, revoked.Status)
	assert.Empty(t, f.ledger.revocations)
	assert.Equal(t, []string{RevocationJobType}, f.runFollowUps(t))
	require.Len(t, f.ledger.revocations, 1)
	assert.Equal(t, issued.Number(), f.ledger.revocations[0].CertificateNo)
	assert.Contains(t, f.cache.deleted, verificationCacheKey(issued.Code()))

	again, err := f.svc.Revoke(context.Background(), cert.ID, "issued in error", approver)
	require.NoError(t, err)
	assert.Equal(t, models.CertificateStatusRevoked, again.Status)
	assert.Empty(t, f.runFollowUps(t))
	assert.Len(t, f.ledger.revocations, 1)

	verifier := NewVerificationService(f.store, f.ledger, nil, nil, nil, nil, VerificationServiceConfig{})
	result, err := verifier.Verify(context.Background(), issued.Code())
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.True(t, result.Revoked)
}

func TestRevokeRequiresIssued(t *testing.T) {
	f := newIssuanceFixture(t)
	cert := f.pending(t)

	_, err := f.svc.Revoke(context.Background(), cert.ID, "typo", approver)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidTransition.Code))

	_, err = f.svc.Revoke(context.Background(), cert.ID, "", approver)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
}

func TestHandleJobIssuesAfterRecovery(t *testing.T) {
	f := newIssuanceFixture(t)
	f.ledger.storeErr = errLedgerDown
	cert := f.pending(t)
	_, _ = f.svc.ApproveAndAnchor(context.Background(), cert.ID, approver)
	require.Len(t, f.scheduler.jobs, 1)

	f.ledger.storeErr = nil
	require.NoError(t, f.svc.HandleJob(context.Background(), f.scheduler.jobs[0]))
	assert.Equal(t, models.CertificateStatusIssued, f.store.snapshot(cert.ID).Status)

	// already issued, so a duplicate delivery is a no-op
	require.NoError(t, f.svc.HandleJob(context.Background(), f.scheduler.jobs[0]))

	err := f.svc.HandleJob(context.Background(), jobs.Job{ID: "missing"})
	assert.True(t, jobs.IsPermanent(err))
}

func TestRecoverPendingAnchors(t *testing.T) {
	f := newIssuanceFixture(t)
	f.ledger.storeErr = errLedgerDown
	first := f.pending(t)
	_, _ = f.svc.ApproveAndAnchor(context.Background(), first.ID, approver)
	f.pending(t)
	f.scheduler.jobs = nil

	recovered, err := f.svc.RecoverPendingAnchors(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)
	require.Len(t, f.scheduler.jobs, 1)
	assert.Equal(t, first.ID, f.scheduler.jobs[0].ID)
	assert.Equal(t, 1, f.scheduler.jobs[0].Attempt)
}

func TestListIncludesSummary(t *testing.T) {
	f := newIssuanceFixture(t)
	f.pending(t)
	issued := f.pending(t)
	_, err := f.svc.ApproveAndAnchor(context.Background(), issued.ID, approver)
	require.NoError(t, err)

	resp, pagination, err := f.svc.List(context.Background(), dto.CertificateQuery{}, approver)
	require.NoError(t, err)
	assert.Len(t, resp.Items, 2)
	assert.Equal(t, 2, resp.Summary.Total)
	assert.Equal(t, 1, resp.Summary.Issued)
	assert.Equal(t, 1, resp.Summary.Pending)
	assert.Equal(t, 1, resp.Summary.Verified)
	assert.Equal(t, 2, pagination.TotalCount)
	assert.Equal(t, 20, pagination.PageSize)
}

func TestApproveSurvivesCancelledRequest(t *testing.T) {
	f := newIssuanceFixture(t)
	cert := f.pending(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.ledger.storeErr = errLedgerDown
	f.ledger.onStore = cancel

	_, err := f.svc.ApproveAndAnchor(ctx, cert.ID, approver)
	require.Error(t, err)
	require.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrAnchorFailed.Code))

	stored := f.store.snapshot(cert.ID)
	assert.Equal(t, models.CertificateStatusProcessing, stored.Status)
	assert.Equal(t, 1, stored.AnchorAttempts)
	require.Len(t, f.scheduler.jobs, 1)
	assert.Equal(t, AnchorJobType, f.scheduler.jobs[0].Type)
	assert.Equal(t, 1, f.scheduler.jobs[0].Attempt)
}

func TestAnchorRecordFailureStillSchedulesRetry(t *testing.T) {
	f := newIssuanceFixture(t)
	cert := f.pending(t)
	f.ledger.storeErr = errLedgerDown
	f.store.recordErr = errors.New("connection reset by peer")

	_, err := f.svc.ApproveAndAnchor(context.Background(), cert.ID, approver)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInternal.Code))
	require.Len(t, f.scheduler.jobs, 1)
	assert.Equal(t, cert.ID, f.scheduler.jobs[0].ID)
	assert.Equal(t, 1, f.scheduler.jobs[0].Attempt)
}

func TestLedgerFollowUpsRunInlineWithoutQueue(t *testing.T) {
	f := newIssuanceFixture(t)
	f.svc.AttachScheduler(nil)
	cert := f.pending(t)

	issued, err := f.svc.ApproveAndAnchor(context.Background(), cert.ID, approver)
	require.NoError(t, err)
	assert.Len(t, f.ledger.graduations, 1)

	_, err = f.svc.Revoke(context.Background(), issued.ID, "issued in error", approver)
	require.NoError(t, err)
	assert.Len(t, f.ledger.revocations, 1)
}

func TestFollowUpSkipsChangedCertificates(t *testing.T) {
	f := newIssuanceFixture(t)
	cert := f.pending(t)
	_, err := f.svc.ApproveAndAnchor(context.Background(), cert.ID, approver)
	require.NoError(t, err)
	f.store.mutate(cert.ID, func(c *models.Certificate) { c.Status = models.CertificateStatusRevoked })

	assert.Equal(t, []string{GraduationJobType}, f.runFollowUps(t))
	assert.Empty(t, f.ledger.graduations)

	err = f.svc.HandleJob(context.Background(), jobs.Job{ID: "missing", Type: RevocationJobType})
	assert.True(t, jobs.IsPermanent(err))
}

func TestCertificateNumberUsesApprovalYear(t *testing.T) {
	f := newIssuanceFixture(t)
	req := degreeRequest()
	req.GraduationYear = 2023
	cert, err := f.svc.Issue(context.Background(), req, registrar)
	require.NoError(t, err)

	issued, err := f.svc.ApproveAndAnchor(context.Background(), cert.ID, approver)
	require.NoError(t, err)
	assert.Equal(t, "CERT-2024-000001", issued.Number())
	assert.Equal(t, 2023, issued.GraduationYear)
}
