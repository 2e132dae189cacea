package service

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/noah-isme/campus-cert-api/internal/models"
)

// hashedFields is the content covered by a certificate's data hash. Internal identifiers and the
// verification code are excluded so the hash only attests the credential itself.
type hashedFields struct {
	CertificateNo  string `json:"certificateNo"`
	StudentNumber  string `json:"studentNumber"`
	StudentName    string `json:"studentName"`
	Program        string `json:"program"`
	Department     string `json:"department"`
	Type           string `json:"type"`
	ClassOfDegree  string `json:"classOfDegree"`
	CGPA           string `json:"cgpa"`
	GraduationYear int    `json:"graduationYear"`
}

// ComputeDataHash returns the hex SHA-256 of the RFC 8785 canonical JSON of the subject and
// classification fields.
func ComputeDataHash(cert models.Certificate) (string, error) {
	fields := hashedFields{
		CertificateNo:  cert.Number(),
		StudentNumber:  cert.StudentNumber,
		StudentName:    cert.StudentName,
		Program:        cert.Program,
		Department:     cert.Department,
		Type:           string(cert.Type),
		GraduationYear: cert.GraduationYear,
	}
	if cert.ClassOfDegree != nil {
		fields.ClassOfDegree = *cert.ClassOfDegree
	}
	if cert.CGPA != nil {
		fields.CGPA = fmt.Sprintf("%.2f", *cert.CGPA)
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("marshal hashed fields: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize hashed fields: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
