package models

import "time"

// AuditAction constants represent actions to be logged.
const (
	AuditActionCertificateCreate   = "CERTIFICATE_CREATE"
	AuditActionCertificateUpdate   = "CERTIFICATE_UPDATE"
	AuditActionCertificateSubmit   = "CERTIFICATE_SUBMIT"
	AuditActionCertificateReject   = "CERTIFICATE_REJECT"
	AuditActionCertificateApprove  = "CERTIFICATE_APPROVE"
	AuditActionCertificateAnchor   = "CERTIFICATE_ANCHOR_ATTEMPT"
	AuditActionCertificateIssue    = "CERTIFICATE_ISSUE"
	AuditActionCertificateOverride = "CERTIFICATE_ANCHOR_OVERRIDE"
	AuditActionCertificateRevoke   = "CERTIFICATE_REVOKE"
	AuditActionIntegrityAlert      = "INTEGRITY_ALERT"
	AuditActionSISSync             = "SIS_SYNC"
	AuditActionDocumentLink        = "CERTIFICATE_DOCUMENT_LINK"
	AuditActionDocumentDownload    = "CERTIFICATE_DOCUMENT_DOWNLOAD"
	AuditActionRegisterExport      = "CERTIFICATE_REGISTER_EXPORT"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	TenantID   *string   `db:"tenant_id" json:"tenant_id,omitempty"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
