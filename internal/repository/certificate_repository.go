package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/campus-cert-api/internal/models"
	"github.com/noah-isme/campus-cert-api/pkg/certcode"
)

// ErrStatusConflict signals that a guarded update found the certificate in another state.
var ErrStatusConflict = errors.New("certificate status changed concurrently")

// ErrCodeSpaceExhausted is returned when no unused verification code was found.
var ErrCodeSpaceExhausted = errors.New("could not generate a unique verification code")

const maxCodeAttempts = 5

const certificateColumns = `id, tenant_id, certificate_no, verification_code, student_id, student_name, student_number,
       program, department, class_of_degree, cgpa, graduation_year, type, status, created_by, submitted_at,
       rejection_note, approved_by, approved_at, issued_at, issued_by, revoked_at, revoked_reason, revoked_by,
       data_hash, blockchain_transaction_id, block_number, explorer_url, on_chain, anchor_required,
       anchor_attempts, last_anchor_error, anchor_exhausted, anchor_overridden, created_at, updated_at`

var certificateSortColumns = map[string]string{
	"created_at":      "created_at",
	"issued_at":       "issued_at",
	"student_name":    "student_name",
	"certificate_no":  "certificate_no",
	"graduation_year": "graduation_year",
}

// CertificateRepository persists certificates.
type CertificateRepository struct {
	db        *sqlx.DB
	sequences *SequenceRepository
}

// NewCertificateRepository constructs the repository.
func NewCertificateRepository(db *sqlx.DB, sequences *SequenceRepository) *CertificateRepository {
	if sequences == nil {
		sequences = NewSequenceRepository(db)
	}
	return &CertificateRepository{db: db, sequences: sequences}
}

// Create inserts a new draft certificate.
func (r *CertificateRepository) Create(ctx context.Context, cert *models.Certificate) error {
	if cert.ID == "" {
		cert.ID = uuid.NewString()
	}
	if cert.Status == "" {
		cert.Status = models.CertificateStatusDraft
	}
	now := time.Now().UTC()
	if cert.CreatedAt.IsZero() {
		cert.CreatedAt = now
	}
	cert.UpdatedAt = cert.CreatedAt
	const query = `INSERT INTO certificates
	(id, tenant_id, student_id, student_name, student_number, program, department, class_of_degree, cgpa,
	 graduation_year, type, status, created_by, submitted_at, created_at, updated_at)
	VALUES (:id, :tenant_id, :student_id, :student_name, :student_number, :program, :department, :class_of_degree, :cgpa,
	 :graduation_year, :type, :status, :created_by, :submitted_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, cert); err != nil {
		return fmt.Errorf("create certificate: %w", err)
	}
	return nil
}

// GetByID fetches a certificate by identifier.
func (r *CertificateRepository) GetByID(ctx context.Context, id string) (*models.Certificate, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates WHERE id = $1`
	var cert models.Certificate
	if err := r.db.GetContext(ctx, &cert, query, id); err != nil {
		return nil, err
	}
	return &cert, nil
}

// GetByVerificationCode fetches a certificate by its public verification code.
func (r *CertificateRepository) GetByVerificationCode(ctx context.Context, code string) (*models.Certificate, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates WHERE verification_code = $1`
	var cert models.Certificate
	if err := r.db.GetContext(ctx, &cert, query, code); err != nil {
		return nil, err
	}
	return &cert, nil
}

// GetByCertificateNo fetches a certificate by number. An empty tenant matches any tenant
// and returns the most recently issued match.
func (r *CertificateRepository) GetByCertificateNo(ctx context.Context, tenantID, certificateNo string) (*models.Certificate, error) {
	args := []interface{}{certificateNo}
	query := `SELECT ` + certificateColumns + ` FROM certificates WHERE certificate_no = $1`
	if tenantID != "" {
		args = append(args, tenantID)
		query += ` AND tenant_id = $2`
	}
	query += ` ORDER BY issued_at DESC NULLS LAST LIMIT 1`
	var cert models.Certificate
	if err := r.db.GetContext(ctx, &cert, query, args...); err != nil {
		return nil, err
	}
	return &cert, nil
}

func buildCertificateFilter(filter models.CertificateFilter) (string, []interface{}) {
	args := make([]interface{}, 0, 6)
	conditions := make([]string, 0, 5)
	if filter.TenantID != "" {
		args = append(args, filter.TenantID)
		conditions = append(conditions, fmt.Sprintf("tenant_id = $%d", len(args)))
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.Year > 0 {
		args = append(args, filter.Year)
		conditions = append(conditions, fmt.Sprintf("graduation_year = $%d", len(args)))
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+strings.ToLower(search)+"%")
		idx := len(args)
		conditions = append(conditions, fmt.Sprintf("(LOWER(student_name) LIKE $%d OR LOWER(student_number) LIKE $%d OR LOWER(COALESCE(certificate_no, '')) LIKE $%d)", idx, idx, idx))
	}
	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// List returns certificates matching the filter.
func (r *CertificateRepository) List(ctx context.Context, filter models.CertificateFilter) ([]models.Certificate, error) {
	where, args := buildCertificateFilter(filter)
	builder := strings.Builder{}
	builder.WriteString(`SELECT ` + certificateColumns + ` FROM certificates`)
	builder.WriteString(where)

	sortColumn, ok := certificateSortColumns[filter.SortBy]
	if !ok {
		sortColumn = "created_at"
	}
	order := "DESC"
	if strings.EqualFold(filter.SortOrder, "asc") {
		order = "ASC"
	}
	builder.WriteString(fmt.Sprintf(" ORDER BY %s %s", sortColumn, order))

	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", pageSize, (page-1)*pageSize))

	var certs []models.Certificate
	if err := r.db.SelectContext(ctx, &certs, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}
	return certs, nil
}

// Count returns the number of certificates matching the filter.
func (r *CertificateRepository) Count(ctx context.Context, filter models.CertificateFilter) (int, error) {
	where, args := buildCertificateFilter(filter)
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM certificates`+where, args...); err != nil {
		return 0, fmt.Errorf("count certificates: %w", err)
	}
	return total, nil
}

// Summary aggregates register counts for a tenant.
func (r *CertificateRepository) Summary(ctx context.Context, tenantID string) (*models.CertificateSummary, error) {
	const query = `SELECT
	COUNT(*) AS total,
	COUNT(*) FILTER (WHERE status = 'draft') AS draft,
	COUNT(*) FILTER (WHERE status = 'pending_approval') AS pending,
	COUNT(*) FILTER (WHERE status = 'processing') AS processing,
	COUNT(*) FILTER (WHERE status = 'issued') AS issued,
	COUNT(*) FILTER (WHERE status = 'issued' AND on_chain) AS verified,
	COUNT(*) FILTER (WHERE status = 'revoked') AS revoked
FROM certificates WHERE ($1 = '' OR tenant_id = $1)`
	var summary models.CertificateSummary
	if err := r.db.GetContext(ctx, &summary, query, tenantID); err != nil {
		return nil, fmt.Errorf("summarize certificates: %w", err)
	}
	return &summary, nil
}

// UpdateDraft amends subject fields of a draft certificate.
func (r *CertificateRepository) UpdateDraft(ctx context.Context, cert *models.Certificate) error {
	cert.UpdatedAt = time.Now().UTC()
	query := fmt.Sprintf(`UPDATE certificates SET student_name = :student_name, student_number = :student_number,
	program = :program, department = :department, class_of_degree = :class_of_degree, cgpa = :cgpa,
	graduation_year = :graduation_year, type = :type, updated_at = :updated_at
	WHERE id = :id AND status = '%s'`, models.CertificateStatusDraft)
	return r.execGuarded(ctx, "update certificate draft", query, cert)
}

// Submit moves a draft to pending approval.
func (r *CertificateRepository) Submit(ctx context.Context, id string, submittedAt time.Time) error {
	query := fmt.Sprintf(`UPDATE certificates SET status = '%s', submitted_at = :submitted_at, rejection_note = NULL, updated_at = :submitted_at
	WHERE id = :id AND status = '%s'`, models.CertificateStatusPendingApproval, models.CertificateStatusDraft)
	return r.execGuarded(ctx, "submit certificate", query, map[string]interface{}{
		"id":           id,
		"submitted_at": submittedAt,
	})
}

// ReturnToDraft sends a pending certificate back to draft with a reviewer note.
func (r *CertificateRepository) ReturnToDraft(ctx context.Context, id, note string, at time.Time) error {
	query := fmt.Sprintf(`UPDATE certificates SET status = '%s', rejection_note = :note, submitted_at = NULL, updated_at = :updated_at
	WHERE id = :id AND status = '%s'`, models.CertificateStatusDraft, models.CertificateStatusPendingApproval)
	return r.execGuarded(ctx, "reject certificate", query, map[string]interface{}{
		"id":         id,
		"note":       note,
		"updated_at": at,
	})
}

// MarkProcessingParams describes the approval transition.
type MarkProcessingParams struct {
	ID             string
	ApprovedBy     string
	ApprovedAt     time.Time
	AnchorRequired bool
	// NewCode draws a candidate verification code.
	NewCode func() (string, error)
	// DataHash computes the content hash once number and code are assigned.
	DataHash func(models.Certificate) (string, error)
}

// MarkProcessing locks the certificate, assigns its number and verification code exactly once,
// stores the data hash and moves it to processing, all in one transaction.
func (r *CertificateRepository) MarkProcessing(ctx context.Context, params MarkProcessingParams) (cert *models.Certificate, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin approval transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	locked := models.Certificate{}
	lockQuery := `SELECT ` + certificateColumns + ` FROM certificates WHERE id = $1 FOR UPDATE`
	if err = tx.GetContext(ctx, &locked, lockQuery, params.ID); err != nil {
		return nil, err
	}
	if locked.Status != models.CertificateStatusPendingApproval {
		return &locked, ErrStatusConflict
	}

	if locked.CertificateNo == nil {
		prefix := certcode.PrefixFor(string(locked.Type))
		year := issuanceYear(params.ApprovedAt)
		var seq int64
		seq, err = r.sequences.Next(ctx, tx, locked.TenantID, year, prefix)
		if err != nil {
			return nil, err
		}
		number := certcode.CertificateNumber(prefix, year, seq)
		locked.CertificateNo = &number
	}
	if locked.VerificationCode == nil {
		var code string
		code, err = r.uniqueCode(ctx, tx, params.NewCode)
		if err != nil {
			return nil, err
		}
		locked.VerificationCode = &code
	}

	var hash string
	hash, err = params.DataHash(locked)
	if err != nil {
		return nil, fmt.Errorf("compute data hash: %w", err)
	}

	now := params.ApprovedAt
	locked.DataHash = &hash
	locked.Status = models.CertificateStatusProcessing
	locked.ApprovedBy = &params.ApprovedBy
	locked.ApprovedAt = &now
	locked.AnchorRequired = params.AnchorRequired
	locked.UpdatedAt = now

	const updateQuery = `UPDATE certificates SET status = $1, certificate_no = $2, verification_code = $3, data_hash = $4,
	approved_by = $5, approved_at = $6, anchor_required = $7, updated_at = $6
	WHERE id = $8 AND status = $9`
	var res sql.Result
	res, err = tx.ExecContext(ctx, updateQuery,
		models.CertificateStatusProcessing, *locked.CertificateNo, *locked.VerificationCode, hash,
		params.ApprovedBy, now, params.AnchorRequired, params.ID, models.CertificateStatusPendingApproval)
	if err != nil {
		return nil, fmt.Errorf("mark certificate processing: %w", err)
	}
	var rows int64
	if rows, err = res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("check approval rows: %w", err)
	}
	if rows == 0 {
		err = ErrStatusConflict
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit approval: %w", err)
	}
	return &locked, nil
}

func (r *CertificateRepository) uniqueCode(ctx context.Context, tx *sqlx.Tx, newCode func() (string, error)) (string, error) {
	if newCode == nil {
		newCode = func() (string, error) { return certcode.VerificationCode(certcode.DefaultCodeLength) }
	}
	const existsQuery = `SELECT EXISTS(SELECT 1 FROM certificates WHERE verification_code = $1)`
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := newCode()
		if err != nil {
			return "", fmt.Errorf("generate verification code: %w", err)
		}
		var taken bool
		if err := tx.GetContext(ctx, &taken, existsQuery, code); err != nil {
			return "", fmt.Errorf("check verification code: %w", err)
		}
		if !taken {
			return code, nil
		}
	}
	return "", ErrCodeSpaceExhausted
}

// AnchorAttemptResult reports the counters after recording a failed attempt.
type AnchorAttemptResult struct {
	Attempts  int  `db:"anchor_attempts"`
	Exhausted bool `db:"anchor_exhausted"`
}

// RecordAnchorAttempt counts a failed anchoring attempt. The record is flagged as exhausted
// once attempts reach maxAttempts; maxAttempts below one never exhausts.
func (r *CertificateRepository) RecordAnchorAttempt(ctx context.Context, id, lastError string, maxAttempts int) (*AnchorAttemptResult, error) {
	const query = `UPDATE certificates SET anchor_attempts = anchor_attempts + 1, last_anchor_error = $2,
	anchor_exhausted = anchor_exhausted OR ($3 > 0 AND anchor_attempts + 1 >= $3), updated_at = $4
	WHERE id = $1 AND status = $5
	RETURNING anchor_attempts, anchor_exhausted`
	var result AnchorAttemptResult
	err := r.db.GetContext(ctx, &result, query, id, lastError, maxAttempts, time.Now().UTC(), models.CertificateStatusProcessing)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStatusConflict
		}
		return nil, fmt.Errorf("record anchor attempt: %w", err)
	}
	return &result, nil
}

// MarkIssuedParams captures the final issuance columns.
type MarkIssuedParams struct {
	ID            string
	ExpectedHash  string
	IssuedBy      string
	IssuedAt      time.Time
	OnChain       bool
	TransactionID *string
	BlockNumber   *int64
	ExplorerURL   *string
	Overridden    bool
}

// MarkIssued moves a processing certificate to issued. The stored hash must still match.
func (r *CertificateRepository) MarkIssued(ctx context.Context, params MarkIssuedParams) error {
	if params.OnChain && (params.TransactionID == nil || *params.TransactionID == "") {
		return fmt.Errorf("mark certificate issued: on-chain issuance requires a transaction id")
	}
	query := fmt.Sprintf(`UPDATE certificates SET status = '%s', issued_by = :issued_by, issued_at = :issued_at,
	on_chain = :on_chain, blockchain_transaction_id = :transaction_id, block_number = :block_number,
	explorer_url = :explorer_url, anchor_overridden = :overridden, last_anchor_error = NULL, updated_at = :issued_at
	WHERE id = :id AND status = '%s' AND data_hash = :expected_hash`,
		models.CertificateStatusIssued, models.CertificateStatusProcessing)
	return r.execGuarded(ctx, "mark certificate issued", query, map[string]interface{}{
		"id":             params.ID,
		"expected_hash":  params.ExpectedHash,
		"issued_by":      params.IssuedBy,
		"issued_at":      params.IssuedAt,
		"on_chain":       params.OnChain,
		"transaction_id": params.TransactionID,
		"block_number":   params.BlockNumber,
		"explorer_url":   params.ExplorerURL,
		"overridden":     params.Overridden,
	})
}

// MarkRevoked moves an issued certificate to revoked, stamping provenance in the same statement.
func (r *CertificateRepository) MarkRevoked(ctx context.Context, id, reason, revokedBy string, revokedAt time.Time) error {
	query := fmt.Sprintf(`UPDATE certificates SET status = '%s', revoked_at = :revoked_at, revoked_reason = :reason,
	revoked_by = :revoked_by, updated_at = :revoked_at
	WHERE id = :id AND status = '%s'`, models.CertificateStatusRevoked, models.CertificateStatusIssued)
	return r.execGuarded(ctx, "revoke certificate", query, map[string]interface{}{
		"id":         id,
		"reason":     reason,
		"revoked_by": revokedBy,
		"revoked_at": revokedAt,
	})
}

// ListPendingAnchors returns processing certificates still eligible for automatic anchoring.
func (r *CertificateRepository) ListPendingAnchors(ctx context.Context, limit int) ([]models.Certificate, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query := `SELECT ` + certificateColumns + ` FROM certificates
	WHERE status = $1 AND anchor_required AND NOT anchor_exhausted
	ORDER BY approved_at ASC LIMIT $2`
	var certs []models.Certificate
	if err := r.db.SelectContext(ctx, &certs, query, models.CertificateStatusProcessing, limit); err != nil {
		return nil, fmt.Errorf("list pending anchors: %w", err)
	}
	return certs, nil
}

func (r *CertificateRepository) execGuarded(ctx context.Context, op, query string, arg interface{}) error {
	result, err := r.db.NamedExecContext(ctx, query, arg)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, ErrStatusConflict)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check %s rows: %w", op, err)
	}
	if rows == 0 {
		return ErrStatusConflict
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// issuanceYear is the numbering year: the year of approval, not of graduation.
func issuanceYear(approvedAt time.Time) int {
	if approvedAt.IsZero() {
		return time.Now().UTC().Year()
	}
	return approvedAt.UTC().Year()
}
