package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/noah-isme/campus-cert-api/internal/models"
	"github.com/noah-isme/campus-cert-api/internal/repository"
	"github.com/noah-isme/campus-cert-api/pkg/certcode"
	"github.com/noah-isme/campus-cert-api/pkg/jobs"
	"github.com/noah-isme/campus-cert-api/pkg/sis"
)

// certificateStoreStub mirrors the guarded updates of the postgres repository in memory.
type certificateStoreStub struct {
	mu        sync.Mutex
	items     map[string]*models.Certificate
	sequences map[string]int64
	codes     map[string]string
	nextID    int
	createErr error
	markErr   error
	lookupErr error
	recordErr error
}

func newCertificateStoreStub() *certificateStoreStub {
	return &certificateStoreStub{
		items:     map[string]*models.Certificate{},
		sequences: map[string]int64{},
		codes:     map[string]string{},
	}
}

func (s *certificateStoreStub) put(cert models.Certificate) *models.Certificate {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cert.ID == "" {
		s.nextID++
		cert.ID = fmt.Sprintf("cert-%d", s.nextID)
	}
	c := cert
	s.items[c.ID] = &c
	if code := c.Code(); code != "" {
		s.codes[code] = c.ID
	}
	return s.copyOf(c.ID)
}

func (s *certificateStoreStub) copyOf(id string) *models.Certificate {
	c := *s.items[id]
	return &c
}

func (s *certificateStoreStub) snapshot(id string) *models.Certificate {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return nil
	}
	return s.copyOf(id)
}

func (s *certificateStoreStub) mutate(id string, fn func(*models.Certificate)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.items[id])
}

func (s *certificateStoreStub) Create(ctx context.Context, cert *models.Certificate) error {
	if s.createErr != nil {
		return s.createErr
	}
	stored := s.put(*cert)
	cert.ID = stored.ID
	return nil
}

func (s *certificateStoreStub) GetByID(ctx context.Context, id string) (*models.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return nil, sql.ErrNoRows
	}
	return s.copyOf(id), nil
}

func (s *certificateStoreStub) GetByVerificationCode(ctx context.Context, code string) (*models.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	id, ok := s.codes[code]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return s.copyOf(id), nil
}

func (s *certificateStoreStub) GetByCertificateNo(ctx context.Context, tenantID, no string) (*models.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	for id, c := range s.items {
		if c.Number() == no && (tenantID == "" || c.TenantID == tenantID) {
			return s.copyOf(id), nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *certificateStoreStub) List(ctx context.Context, filter models.CertificateFilter) ([]models.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Certificate
	for _, c := range s.items {
		if filter.TenantID == "" || c.TenantID == filter.TenantID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *certificateStoreStub) Count(ctx context.Context, filter models.CertificateFilter) (int, error) {
	items, _ := s.List(ctx, filter)
	return len(items), nil
}

func (s *certificateStoreStub) Summary(ctx context.Context, tenantID string) (*models.CertificateSummary, error) {
	items, _ := s.List(ctx, models.CertificateFilter{TenantID: tenantID})
	summary := &models.CertificateSummary{Total: len(items)}
	for _, c := range items {
		switch c.Status {
		case models.CertificateStatusIssued:
			summary.Issued++
			if c.OnChain {
				summary.Verified++
			}
		case models.CertificateStatusRevoked:
			summary.Revoked++
		case models.CertificateStatusDraft:
			summary.Draft++
		case models.CertificateStatusPendingApproval:
			summary.Pending++
		case models.CertificateStatusProcessing:
			summary.Processing++
		}
	}
	return summary, nil
}

func (s *certificateStoreStub) guarded(id string, want models.CertificateStatus, fn func(*models.Certificate)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[id]
	if !ok || c.Status != want {
		return repository.ErrStatusConflict
	}
	fn(c)
	return nil
}

func (s *certificateStoreStub) UpdateDraft(ctx context.Context, cert *models.Certificate) error {
	return s.guarded(cert.ID, models.CertificateStatusDraft, func(c *models.Certificate) {
		updated := *cert
		*c = updated
	})
}

func (s *certificateStoreStub) Submit(ctx context.Context, id string, at time.Time) error {
	return s.guarded(id, models.CertificateStatusDraft, func(c *models.Certificate) {
		c.Status = models.CertificateStatusPendingApproval
		c.SubmittedAt = &at
		c.RejectionNote = nil
	})
}

func (s *certificateStoreStub) ReturnToDraft(ctx context.Context, id, note string, at time.Time) error {
	return s.guarded(id, models.CertificateStatusPendingApproval, func(c *models.Certificate) {
		c.Status = models.CertificateStatusDraft
		c.RejectionNote = &note
		c.SubmittedAt = nil
	})
}

func (s *certificateStoreStub) MarkProcessing(ctx context.Context, params repository.MarkProcessingParams) (*models.Certificate, error) {
	if s.markErr != nil {
		return nil, s.markErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[params.ID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	if c.Status != models.CertificateStatusPendingApproval {
		locked := *c
		return &locked, repository.ErrStatusConflict
	}
	updated := *c
	if updated.CertificateNo == nil {
		prefix := certcode.PrefixFor(string(updated.Type))
		year := params.ApprovedAt.UTC().Year()
		key := fmt.Sprintf("%s/%d/%s", updated.TenantID, year, prefix)
		s.sequences[key]++
		no := certcode.CertificateNumber(prefix, year, s.sequences[key])
		updated.CertificateNo = &no
	}
	if updated.VerificationCode == nil {
		code, err := params.NewCode()
		if err != nil {
			return nil, err
		}
		if _, taken := s.codes[code]; taken {
			return nil, repository.ErrCodeSpaceExhausted
		}
		updated.VerificationCode = &code
	}
	hash, err := params.DataHash(updated)
	if err != nil {
		return nil, err
	}
	updated.DataHash = &hash
	updated.Status = models.CertificateStatusProcessing
	updated.ApprovedBy = &params.ApprovedBy
	updated.ApprovedAt = &params.ApprovedAt
	updated.AnchorRequired = params.AnchorRequired
	*c = updated
	s.codes[updated.Code()] = c.ID
	out := updated
	return &out, nil
}

func (s *certificateStoreStub) RecordAnchorAttempt(ctx context.Context, id, lastError string, maxAttempts int) (*repository.AnchorAttemptResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.recordErr != nil {
		return nil, s.recordErr
	}
	var result repository.AnchorAttemptResult
	err := s.guarded(id, models.CertificateStatusProcessing, func(c *models.Certificate) {
		c.AnchorAttempts++
		c.LastAnchorError = &lastError
		if maxAttempts > 0 && c.AnchorAttempts >= maxAttempts {
			c.AnchorExhausted = true
		}
		result = repository.AnchorAttemptResult{Attempts: c.AnchorAttempts, Exhausted: c.AnchorExhausted}
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *certificateStoreStub) MarkIssued(ctx context.Context, params repository.MarkIssuedParams) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[params.ID]
	if !ok || c.Status != models.CertificateStatusProcessing || c.Hash() != params.ExpectedHash {
		return repository.ErrStatusConflict
	}
	c.Status = models.CertificateStatusIssued
	c.IssuedAt = &params.IssuedAt
	c.IssuedBy = &params.IssuedBy
	c.OnChain = params.OnChain
	c.BlockchainTransactionID = params.TransactionID
	c.BlockNumber = params.BlockNumber
	c.ExplorerURL = params.ExplorerURL
	c.AnchorOverridden = params.Overridden
	c.LastAnchorError = nil
	return nil
}

func (s *certificateStoreStub) MarkRevoked(ctx context.Context, id, reason, by string, at time.Time) error {
	return s.guarded(id, models.CertificateStatusIssued, func(c *models.Certificate) {
		c.Status = models.CertificateStatusRevoked
		c.RevokedReason = &reason
		c.RevokedBy = &by
		c.RevokedAt = &at
	})
}

func (s *certificateStoreStub) ListPendingAnchors(ctx context.Context, limit int) ([]models.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Certificate
	for _, c := range s.items {
		if c.Status == models.CertificateStatusProcessing && c.AnchorRequired && !c.AnchorExhausted {
			out = append(out, *c)
		}
	}
	return out, nil
}

// ledgerStub is a scripted SIS gateway that remembers stored certificates for verification.
type ledgerStub struct {
	mu          sync.Mutex
	configured  bool
	storeErr    error
	storeStatus sis.AnchorStatus
	verifyErr   error
	stored      map[string]sis.CertificateData
	revoked     map[string]bool
	storeCalls  int
	verifyCalls int
	revocations []sis.RevocationData
	graduations []sis.GraduationReport
	students    []sis.StudentSync
	syncErr     error
	records     []sis.BlockchainRecord
	onStore     func()
}

func newLedgerStub() *ledgerStub {
	return &ledgerStub{
		configured:  true,
		storeStatus: sis.StatusConfirmed,
		stored:      map[string]sis.CertificateData{},
		revoked:     map[string]bool{},
	}
}

func (l *ledgerStub) Configured() bool { return l.configured }

func (l *ledgerStub) StoreCertificate(ctx context.Context, cert sis.CertificateData) (*sis.BlockchainRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.storeCalls++
	if l.onStore != nil {
		l.onStore()
	}
	if l.storeErr != nil {
		return nil, l.storeErr
	}
	record := &sis.BlockchainRecord{Hash: cert.DataHash, Status: l.storeStatus, Timestamp: time.Now()}
	if l.storeStatus == sis.StatusConfirmed {
		record.TransactionID = fmt.Sprintf("tx-%s", cert.CertificateNo)
		record.ExplorerURL = "https://explorer.test/tx/" + record.TransactionID
		l.stored[cert.CertificateNo] = cert
	} else {
		record.Error = "ledger rejected record"
	}
	return record, nil
}

func (l *ledgerStub) StoreRevocation(ctx context.Context, rev sis.RevocationData) (*sis.BlockchainRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.revocations = append(l.revocations, rev)
	l.revoked[rev.CertificateNo] = true
	return &sis.BlockchainRecord{TransactionID: "tx-revoke", Status: sis.StatusConfirmed}, nil
}

func (l *ledgerStub) VerifyCertificate(ctx context.Context, key string) (*sis.VerificationResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.verifyCalls++
	if l.verifyErr != nil {
		return nil, l.verifyErr
	}
	for no, data := range l.stored {
		if no != key && data.VerificationCode != key {
			continue
		}
		found := data
		return &sis.VerificationResult{
			Valid:          !l.revoked[no],
			Revoked:        l.revoked[no],
			Certificate:    &found,
			BlockchainHash: "tx-" + no,
			ExplorerURL:    "https://explorer.test/tx/tx-" + no,
		}, nil
	}
	return &sis.VerificationResult{Valid: false}, nil
}

func (l *ledgerStub) ReportGraduation(ctx context.Context, report sis.GraduationReport) (*sis.SyncResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.graduations = append(l.graduations, report)
	if l.syncErr != nil {
		return nil, l.syncErr
	}
	return &sis.SyncResult{Success: true, ID: "grad-" + report.StudentID}, nil
}

func (l *ledgerStub) SyncStudent(ctx context.Context, student sis.StudentSync) (*sis.SyncResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.students = append(l.students, student)
	if l.syncErr != nil {
		return nil, l.syncErr
	}
	return &sis.SyncResult{Success: true, ID: "sis-" + student.StudentID}, nil
}

func (l *ledgerStub) StudentRecords(ctx context.Context, studentID string) ([]sis.BlockchainRecord, error) {
	if l.syncErr != nil {
		return nil, l.syncErr
	}
	return l.records, nil
}

func (l *ledgerStub) Status(ctx context.Context) sis.GatewayStatus {
	return sis.GatewayStatus{Connected: l.configured, Network: "devnet"}
}

type schedulerStub struct {
	mu     sync.Mutex
	jobs   []jobs.Job
	delays []time.Duration
	err    error
}

func (s *schedulerStub) EnqueueAfter(job jobs.Job, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.jobs = append(s.jobs, job)
	s.delays = append(s.delays, delay)
	return nil
}

type auditStub struct {
	mu      sync.Mutex
	entries []models.AuditLog
	err     error
}

func (a *auditStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, *log)
	return a.err
}

func (a *auditStub) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

func (a *auditStub) last(action string) (map[string]interface{}, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := len(a.entries) - 1; i >= 0; i-- {
		if a.entries[i].Action != action {
			continue
		}
		payload := map[string]interface{}{}
		_ = json.Unmarshal(a.entries[i].NewValues, &payload)
		return payload, true
	}
	return nil, false
}

type metricsStub struct {
	mu           sync.Mutex
	transitions  []string
	anchors      []string
	verification []string
	alerts       []string
}

func (m *metricsStub) RecordTransition(from, to models.CertificateStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, string(from)+">"+string(to))
}

func (m *metricsStub) RecordAnchorAttempt(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.anchors = append(m.anchors, outcome)
}

func (m *metricsStub) RecordVerification(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verification = append(m.verification, outcome)
}

func (m *metricsStub) RecordIntegrityAlert(source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, source)
}

// memoryCache satisfies both the verification cache and the eviction interface.
type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	deleted []string
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string][]byte{}}
}

func (c *memoryCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (c *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = raw
	return nil
}

func (c *memoryCache) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
		c.deleted = append(c.deleted, k)
	}
	return nil
}

var errLedgerDown = errors.New("dial tcp: connection refused")

func strPtr(v string) *string { return &v }

func floatPtr(v float64) *float64 { return &v }
