package dto

import (
	"time"

	"github.com/noah-isme/campus-cert-api/internal/models"
)

// IssueCertificateRequest captures POST /certificates payload.
type IssueCertificateRequest struct {
	StudentID      string                 `json:"studentId" validate:"required"`
	StudentName    string                 `json:"studentName" validate:"required"`
	StudentNumber  string                 `json:"studentNumber" validate:"required"`
	Program        string                 `json:"program" validate:"required"`
	Department     string                 `json:"department"`
	ClassOfDegree  *string                `json:"classOfDegree,omitempty"`
	CGPA           *float64               `json:"cgpa,omitempty" validate:"omitempty,gte=0"`
	GraduationYear int                    `json:"graduationYear" validate:"required,gte=1900,lte=2200"`
	Type           models.CertificateType `json:"type" validate:"required"`
	// Draft keeps the record in draft instead of submitting it for approval.
	Draft bool `json:"draft"`
}

// UpdateCertificateRequest amends a draft. Nil fields are left unchanged.
type UpdateCertificateRequest struct {
	StudentName        *string                 `json:"studentName,omitempty"`
	StudentNumber      *string                 `json:"studentNumber,omitempty"`
	Program            *string                 `json:"program,omitempty"`
	Department         *string                 `json:"department,omitempty"`
	ClassOfDegree      *string                 `json:"classOfDegree,omitempty"`
	ClearClassOfDegree bool                    `json:"clearClassOfDegree,omitempty"`
	CGPA               *float64                `json:"cgpa,omitempty" validate:"omitempty,gte=0"`
	ClearCGPA          bool                    `json:"clearCgpa,omitempty"`
	GraduationYear     *int                    `json:"graduationYear,omitempty" validate:"omitempty,gte=1900,lte=2200"`
	Type               *models.CertificateType `json:"type,omitempty"`
}

// RejectCertificateRequest sends a pending certificate back to draft.
type RejectCertificateRequest struct {
	Note string `json:"note" validate:"required"`
}

// RevokeCertificateRequest revokes an issued certificate.
type RevokeCertificateRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// OverrideAnchorRequest issues a certificate without a ledger anchor.
type OverrideAnchorRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// CertificateQuery mirrors supported listing filters.
type CertificateQuery struct {
	Status   []models.CertificateStatus
	Type     models.CertificateType
	Year     int
	Search   string
	Page     int
	PageSize int
}

// CertificateListResponse bundles a page of certificates with register counts.
type CertificateListResponse struct {
	Items   []models.Certificate      `json:"items"`
	Summary models.CertificateSummary `json:"summary"`
}

// CertificateDocumentResponse points at a short-lived signed download.
type CertificateDocumentResponse struct {
	CertificateID string    `json:"certificateId"`
	URL           string    `json:"url"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// CertificateExport is a rendered register export.
type CertificateExport struct {
	Filename    string
	ContentType string
	Data        []byte
}
