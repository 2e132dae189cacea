package dto

import "encoding/json"

// SIS sync kinds accepted by POST /sis/sync.
const (
	SISSyncStudent     = "student"
	SISSyncCertificate = "certificate"
	SISSyncGraduation  = "graduation"
)

// SISSyncRequest dispatches a synchronization call by type.
type SISSyncRequest struct {
	Type string          `json:"type" validate:"required,oneof=student certificate graduation"`
	Data json.RawMessage `json:"data" validate:"required"`
}

// SISCertificateSync references a local certificate to (re)anchor.
type SISCertificateSync struct {
	CertificateID string `json:"certificateId" validate:"required"`
}

// SISSyncResponse reports the outcome of a sync call.
type SISSyncResponse struct {
	Type    string      `json:"type"`
	Success bool        `json:"success"`
	ID      string      `json:"id,omitempty"`
	Error   string      `json:"error,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// SISVerifyRequest is the POST /sis/verify payload.
type SISVerifyRequest struct {
	CertificateNo string `json:"certificateNo" validate:"required"`
}
