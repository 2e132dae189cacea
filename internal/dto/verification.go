package dto

import "time"

// Chain statuses reported alongside a verification.
const (
	ChainStatusConfirmed   = "confirmed"
	ChainStatusUnavailable = "unavailable"
	ChainStatusNotAnchored = "not_anchored"
)

// Verification sources.
const (
	VerificationSourceLocal  = "local"
	VerificationSourceLedger = "ledger"
)

// CaveatChainUnavailable marks a verification that could not be confirmed on-chain.
const CaveatChainUnavailable = "locally confirmed, chain confirmation unavailable"

// VerifyRequest is the POST /verify payload.
type VerifyRequest struct {
	Code string `json:"code" validate:"required"`
}

// VerificationResult is what public verifiers see.
type VerificationResult struct {
	Valid          bool                 `json:"valid"`
	Revoked        bool                 `json:"revoked,omitempty"`
	Source         string               `json:"source,omitempty"`
	ChainStatus    string               `json:"chainStatus,omitempty"`
	Caveat         string               `json:"caveat,omitempty"`
	Certificate    *VerifiedCertificate `json:"certificate,omitempty"`
	BlockchainHash string               `json:"blockchainHash,omitempty"`
	ExplorerURL    string               `json:"explorerUrl,omitempty"`
	VerifiedAt     *time.Time           `json:"verifiedAt,omitempty"`
}

// VerifiedCertificate exposes the subject fields of a verified certificate.
type VerifiedCertificate struct {
	CertificateNo   string     `json:"certificateNo"`
	StudentName     string     `json:"studentName"`
	StudentNumber   string     `json:"studentNumber"`
	Program         string     `json:"program"`
	Department      string     `json:"department,omitempty"`
	Type            string     `json:"type"`
	ClassOfDegree   *string    `json:"classOfDegree,omitempty"`
	CGPA            *float64   `json:"cgpa,omitempty"`
	GraduationYear  int        `json:"graduationYear"`
	IssuedAt        *time.Time `json:"issuedAt,omitempty"`
	InstitutionName string     `json:"institutionName,omitempty"`
	OnChain         bool       `json:"onChain"`
}
