package service

import (
	"strings"

	"github.com/noah-isme/campus-cert-api/internal/models"
	appErrors "github.com/noah-isme/campus-cert-api/pkg/errors"
)

var certificateTransitions = map[models.CertificateStatus][]models.CertificateStatus{
	models.CertificateStatusDraft:           {models.CertificateStatusPendingApproval},
	models.CertificateStatusPendingApproval: {models.CertificateStatusDraft, models.CertificateStatusProcessing},
	models.CertificateStatusProcessing:      {models.CertificateStatusIssued},
	models.CertificateStatusIssued:          {models.CertificateStatusRevoked},
}

// CanTransition reports whether the lifecycle allows moving from one status to another.
func CanTransition(from, to models.CertificateStatus) bool {
	for _, next := range certificateTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to models.CertificateStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	return appErrors.InvalidTransition(string(from), string(to))
}

// validateCertificateFields enforces the type-mandatory field rules.
func validateCertificateFields(cert *models.Certificate, cgpaScale float64) error {
	if !cert.Type.Valid() {
		return appErrors.FieldError("type", "unsupported certificate type")
	}
	if strings.TrimSpace(cert.StudentName) == "" {
		return appErrors.FieldError("studentName", "student name is required")
	}
	if strings.TrimSpace(cert.StudentNumber) == "" {
		return appErrors.FieldError("studentNumber", "student number is required")
	}
	if strings.TrimSpace(cert.Program) == "" {
		return appErrors.FieldError("program", "program is required")
	}
	if cert.GraduationYear <= 0 {
		return appErrors.FieldError("graduationYear", "graduation year is required")
	}
	if cgpaScale <= 0 {
		cgpaScale = 4.0
	}
	if cert.CGPA != nil && (*cert.CGPA < 0 || *cert.CGPA > cgpaScale) {
		return appErrors.FieldError("cgpa", "cgpa is outside the institution scale")
	}
	hasClass := cert.ClassOfDegree != nil && strings.TrimSpace(*cert.ClassOfDegree) != ""
	switch cert.Type {
	case models.CertificateTypeDegree:
		if !hasClass {
			return appErrors.FieldError("classOfDegree", "class of degree is required for degree certificates")
		}
		if cert.CGPA == nil {
			return appErrors.FieldError("cgpa", "cgpa is required for degree certificates")
		}
	case models.CertificateTypeTranscript:
		if cert.ClassOfDegree != nil {
			return appErrors.FieldError("classOfDegree", "class of degree is not allowed on transcripts")
		}
		if cert.CGPA != nil {
			return appErrors.FieldError("cgpa", "cgpa is not allowed on transcripts")
		}
	}
	return nil
}
