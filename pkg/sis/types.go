package sis

import "time"

// AnchorStatus is the ledger-side state of a stored record.
type AnchorStatus string

const (
	StatusPending   AnchorStatus = "pending"
	StatusConfirmed AnchorStatus = "confirmed"
	StatusFailed    AnchorStatus = "failed"
)

const (
	recordTypeCertificate = "CERTIFICATE"
	recordTypeRevocation  = "CERTIFICATE_REVOCATION"
)

// CertificateData is the subject and classification payload anchored on the ledger.
// It never carries institution database identifiers.
type CertificateData struct {
	CertificateNo    string   `json:"certificateNo"`
	VerificationCode string   `json:"verificationCode,omitempty"`
	StudentNumber    string   `json:"studentNumber"`
	StudentName      string   `json:"studentName"`
	Program          string   `json:"program"`
	Department       string   `json:"department,omitempty"`
	Type             string   `json:"type"`
	ClassOfDegree    string   `json:"classOfDegree,omitempty"`
	CGPA             *float64 `json:"cgpa,omitempty"`
	GraduationYear   int      `json:"graduationYear"`
	IssueDate        string   `json:"issueDate,omitempty"`
	InstitutionName  string   `json:"institutionName,omitempty"`
	InstitutionCode  string   `json:"institutionCode,omitempty"`
	DataHash         string   `json:"dataHash,omitempty"`
	Status           string   `json:"status,omitempty"`
}

// RevocationData records that a previously anchored certificate was revoked.
type RevocationData struct {
	CertificateNo string    `json:"certificateNo"`
	DataHash      string    `json:"dataHash,omitempty"`
	Reason        string    `json:"reason"`
	RevokedAt     time.Time `json:"revokedAt"`
	Status        string    `json:"status"`
}

// BlockchainRecord is the normalized result of a store call.
type BlockchainRecord struct {
	Hash          string       `json:"hash"`
	TransactionID string       `json:"transactionId"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        AnchorStatus `json:"status"`
	Slot          *int64       `json:"slot,omitempty"`
	ExplorerURL   string       `json:"explorerUrl,omitempty"`
	Error         string       `json:"error,omitempty"`
}

// Confirmed reports whether the ledger acknowledged the record with a transaction id.
func (r *BlockchainRecord) Confirmed() bool {
	return r != nil && r.Status == StatusConfirmed && r.TransactionID != ""
}

// VerificationResult is the normalized result of a ledger lookup. A negative lookup is
// Valid=false with a nil error.
type VerificationResult struct {
	Valid          bool             `json:"valid"`
	Certificate    *CertificateData `json:"certificate,omitempty"`
	BlockchainHash string           `json:"blockchainHash,omitempty"`
	ExplorerURL    string           `json:"explorerUrl,omitempty"`
	VerifiedAt     *time.Time       `json:"verifiedAt,omitempty"`
	Revoked        bool             `json:"revoked"`
	Error          string           `json:"error,omitempty"`
}

// StudentSync is the student metadata propagated to the SIS.
type StudentSync struct {
	StudentID      string `json:"studentId" validate:"required"`
	FirstName      string `json:"firstName" validate:"required"`
	LastName       string `json:"lastName" validate:"required"`
	Program        string `json:"program" validate:"required"`
	EnrollmentDate string `json:"enrollmentDate"`
	Status         string `json:"status"`
}

// GraduationReport announces a graduation to the SIS.
type GraduationReport struct {
	StudentID      string   `json:"studentId" validate:"required"`
	Program        string   `json:"program" validate:"required"`
	ClassOfDegree  string   `json:"classOfDegree,omitempty"`
	CGPA           *float64 `json:"cgpa,omitempty"`
	GraduationDate string   `json:"graduationDate" validate:"required"`
	CertificateNo  string   `json:"certificateNo,omitempty"`
}

// SyncResult is returned by the fire-and-confirm synchronization calls.
type SyncResult struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// GatewayStatus is the advisory health of the gateway and its ledger.
type GatewayStatus struct {
	Connected      bool    `json:"connected"`
	ChainType      string  `json:"chainType,omitempty"`
	Network        string  `json:"network,omitempty"`
	CurrentSlot    *int64  `json:"currentSlot,omitempty"`
	WalletAddress  string  `json:"walletAddress,omitempty"`
	Balance        float64 `json:"balance,omitempty"`
	TotalRecords   *int64  `json:"totalRecords,omitempty"`
	PendingRecords *int64  `json:"pendingRecords,omitempty"`
}

// wire shapes

type storeRequest struct {
	StudentID  string      `json:"studentId"`
	SchoolID   string      `json:"schoolId"`
	RecordType string      `json:"recordType"`
	RecordData interface{} `json:"recordData"`
}

type wireBlockchainRecord struct {
	Hash          string `json:"hash"`
	TransactionID string `json:"transactionId"`
	Timestamp     string `json:"timestamp"`
	Status        string `json:"status"`
}

type storeResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Data    *struct {
		BlockchainRecord *wireBlockchainRecord `json:"blockchainRecord"`
		Signature        string                `json:"signature"`
		Slot             *int64                `json:"slot"`
		ExplorerURL      string                `json:"explorerUrl"`
	} `json:"data"`
}

type verifyResponse struct {
	Success  bool   `json:"success"`
	Verified *bool  `json:"verified"`
	Error    string `json:"error"`
	Message  string `json:"message"`
	Data     *struct {
		Verified    bool             `json:"verified"`
		Signature   string           `json:"signature"`
		RecordData  *CertificateData `json:"recordData"`
		ExplorerURL string           `json:"explorerUrl"`
		VerifiedAt  string           `json:"verifiedAt"`
	} `json:"data"`
}

type statusResponse struct {
	Success bool `json:"success"`
	Data    *struct {
		Blockchain struct {
			Type          string  `json:"type"`
			Connected     bool    `json:"connected"`
			Network       string  `json:"network"`
			CurrentSlot   *int64  `json:"currentSlot"`
			WalletAddress string  `json:"walletAddress"`
			Balance       float64 `json:"balance"`
		} `json:"blockchain"`
		Statistics struct {
			TotalRecordsStored *int64 `json:"totalRecordsStored"`
			PendingRecords     *int64 `json:"pendingRecords"`
		} `json:"statistics"`
	} `json:"data"`
}

type syncResponse struct {
	Success  bool   `json:"success"`
	ID       string `json:"id"`
	SISID    string `json:"sisId"`
	RecordID string `json:"recordId"`
	Error    string `json:"error"`
	Message  string `json:"message"`
}

type recordsResponse struct {
	Success bool                   `json:"success"`
	Data    []wireBlockchainRecord `json:"data"`
	Error   string                 `json:"error"`
}
