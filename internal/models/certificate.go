package models

import "time"

// CertificateType classifies an academic credential.
type CertificateType string

const (
	CertificateTypeDegree      CertificateType = "degree"
	CertificateTypeDiploma     CertificateType = "diploma"
	CertificateTypeTranscript  CertificateType = "transcript"
	CertificateTypeAttestation CertificateType = "attestation"
	CertificateTypeProvisional CertificateType = "provisional"
)

// Valid reports whether the type is one of the supported classifications.
func (t CertificateType) Valid() bool {
	switch t {
	case CertificateTypeDegree, CertificateTypeDiploma, CertificateTypeTranscript,
		CertificateTypeAttestation, CertificateTypeProvisional:
		return true
	}
	return false
}

// CertificateStatus is the lifecycle state of a certificate.
type CertificateStatus string

const (
	CertificateStatusDraft           CertificateStatus = "draft"
	CertificateStatusPendingApproval CertificateStatus = "pending_approval"
	CertificateStatusProcessing      CertificateStatus = "processing"
	CertificateStatusIssued          CertificateStatus = "issued"
	CertificateStatusRevoked         CertificateStatus = "revoked"
)

// Valid reports whether the status is a known lifecycle state.
func (s CertificateStatus) Valid() bool {
	switch s {
	case CertificateStatusDraft, CertificateStatusPendingApproval, CertificateStatusProcessing,
		CertificateStatusIssued, CertificateStatusRevoked:
		return true
	}
	return false
}

// Certificate is an issuable academic credential and its anchoring proof.
type Certificate struct {
	ID               string  `db:"id" json:"id"`
	TenantID         string  `db:"tenant_id" json:"tenant_id"`
	CertificateNo    *string `db:"certificate_no" json:"certificate_no,omitempty"`
	VerificationCode *string `db:"verification_code" json:"verification_code,omitempty"`

	StudentID      string   `db:"student_id" json:"student_id"`
	StudentName    string   `db:"student_name" json:"student_name"`
	StudentNumber  string   `db:"student_number" json:"student_number"`
	Program        string   `db:"program" json:"program"`
	Department     string   `db:"department" json:"department"`
	ClassOfDegree  *string  `db:"class_of_degree" json:"class_of_degree,omitempty"`
	CGPA           *float64 `db:"cgpa" json:"cgpa,omitempty"`
	GraduationYear int      `db:"graduation_year" json:"graduation_year"`

	Type   CertificateType   `db:"type" json:"type"`
	Status CertificateStatus `db:"status" json:"status"`

	CreatedBy     string     `db:"created_by" json:"created_by"`
	SubmittedAt   *time.Time `db:"submitted_at" json:"submitted_at,omitempty"`
	RejectionNote *string    `db:"rejection_note" json:"rejection_note,omitempty"`
	ApprovedBy    *string    `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt    *time.Time `db:"approved_at" json:"approved_at,omitempty"`

	IssuedAt      *time.Time `db:"issued_at" json:"issued_at,omitempty"`
	IssuedBy      *string    `db:"issued_by" json:"issued_by,omitempty"`
	RevokedAt     *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	RevokedReason *string    `db:"revoked_reason" json:"revoked_reason,omitempty"`
	RevokedBy     *string    `db:"revoked_by" json:"revoked_by,omitempty"`

	DataHash                *string `db:"data_hash" json:"data_hash,omitempty"`
	BlockchainTransactionID *string `db:"blockchain_transaction_id" json:"blockchain_transaction_id,omitempty"`
	BlockNumber             *int64  `db:"block_number" json:"block_number,omitempty"`
	ExplorerURL             *string `db:"explorer_url" json:"explorer_url,omitempty"`
	OnChain                 bool    `db:"on_chain" json:"on_chain"`
	AnchorRequired          bool    `db:"anchor_required" json:"anchor_required"`
	AnchorAttempts          int     `db:"anchor_attempts" json:"anchor_attempts"`
	LastAnchorError         *string `db:"last_anchor_error" json:"last_anchor_error,omitempty"`
	AnchorExhausted         bool    `db:"anchor_exhausted" json:"anchor_exhausted"`
	AnchorOverridden        bool    `db:"anchor_overridden" json:"anchor_overridden"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Number returns the certificate number or an empty string before assignment.
func (c *Certificate) Number() string {
	if c == nil || c.CertificateNo == nil {
		return ""
	}
	return *c.CertificateNo
}

// Code returns the verification code or an empty string before assignment.
func (c *Certificate) Code() string {
	if c == nil || c.VerificationCode == nil {
		return ""
	}
	return *c.VerificationCode
}

// Hash returns the stored data hash or an empty string.
func (c *Certificate) Hash() string {
	if c == nil || c.DataHash == nil {
		return ""
	}
	return *c.DataHash
}

// CertificateFilter captures listing criteria.
type CertificateFilter struct {
	TenantID  string
	Status    []CertificateStatus
	Type      CertificateType
	Year      int
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// CertificateSummary aggregates counts for the register view.
type CertificateSummary struct {
	Total      int `db:"total" json:"total"`
	Draft      int `db:"draft" json:"draft"`
	Pending    int `db:"pending" json:"pending"`
	Processing int `db:"processing" json:"processing"`
	Issued     int `db:"issued" json:"issued"`
	Verified   int `db:"verified" json:"verified"`
	Revoked    int `db:"revoked" json:"revoked"`
}

// CertificateSequence is the per tenant, year and prefix counter row.
type CertificateSequence struct {
	TenantID string `db:"tenant_id" json:"tenant_id"`
	Year     int    `db:"year" json:"year"`
	Prefix   string `db:"prefix" json:"prefix"`
	Value    int64  `db:"value" json:"value"`
}
