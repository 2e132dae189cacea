package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// CertificateDocument carries everything printed on an issued certificate.
type CertificateDocument struct {
	InstitutionName  string
	Title            string
	StudentName      string
	StudentNumber    string
	Program          string
	Department       string
	ClassOfDegree    string
	CGPA             string
	GraduationYear   int
	CertificateNo    string
	VerificationCode string
	VerificationURL  string
	IssuedOn         string
	TransactionID    string
	DataHash         string
}

// CertificatePDF renders a single landscape certificate page.
type CertificatePDF struct{}

// NewCertificatePDF constructs the certificate renderer.
func NewCertificatePDF() *CertificatePDF {
	return &CertificatePDF{}
}

// Render lays out the certificate and its verification footer.
func (r *CertificatePDF) Render(doc CertificateDocument) ([]byte, error) {
	if doc.CertificateNo == "" || doc.StudentName == "" {
		return nil, fmt.Errorf("certificate number and student name required")
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetDrawColor(40, 60, 110)
	pdf.SetLineWidth(1.2)
	pdf.Rect(10, 10, 277, 190, "D")
	pdf.SetLineWidth(0.3)
	pdf.Rect(14, 14, 269, 182, "D")

	pdf.SetY(28)
	pdf.SetTextColor(40, 60, 110)
	pdf.SetFont("Times", "B", 22)
	pdf.CellFormat(0, 12, tr(strings.ToUpper(doc.InstitutionName)), "", 1, "C", false, 0, "")
	pdf.SetFont("Times", "I", 18)
	pdf.CellFormat(0, 12, tr(doc.Title), "", 1, "C", false, 0, "")

	pdf.Ln(8)
	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Times", "", 13)
	pdf.CellFormat(0, 8, "This is to certify that", "", 1, "C", false, 0, "")
	pdf.SetFont("Times", "B", 24)
	pdf.CellFormat(0, 14, tr(doc.StudentName), "", 1, "C", false, 0, "")
	pdf.SetFont("Times", "", 13)
	pdf.CellFormat(0, 8, tr(fmt.Sprintf("Student number %s", doc.StudentNumber)), "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 8, "having satisfied the requirements of the programme in", "", 1, "C", false, 0, "")
	pdf.SetFont("Times", "B", 16)
	program := doc.Program
	if doc.Department != "" {
		program = fmt.Sprintf("%s, %s", doc.Program, doc.Department)
	}
	pdf.CellFormat(0, 10, tr(program), "", 1, "C", false, 0, "")

	pdf.SetFont("Times", "", 13)
	if doc.ClassOfDegree != "" {
		line := doc.ClassOfDegree
		if doc.CGPA != "" {
			line = fmt.Sprintf("%s (CGPA %s)", doc.ClassOfDegree, doc.CGPA)
		}
		pdf.CellFormat(0, 8, tr(line), "", 1, "C", false, 0, "")
	}
	pdf.CellFormat(0, 8, tr(fmt.Sprintf("Class of %d, issued %s", doc.GraduationYear, doc.IssuedOn)), "", 1, "C", false, 0, "")

	pdf.SetY(165)
	pdf.SetFont("Courier", "", 9)
	pdf.CellFormat(0, 5, tr("Certificate No: "+doc.CertificateNo), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 5, tr("Verification code: "+doc.VerificationCode), "", 1, "L", false, 0, "")
	if doc.VerificationURL != "" {
		pdf.CellFormat(0, 5, tr("Verify at: "+doc.VerificationURL), "", 1, "L", false, 0, doc.VerificationURL)
	}
	if doc.TransactionID != "" {
		pdf.CellFormat(0, 5, tr("Ledger transaction: "+doc.TransactionID), "", 1, "L", false, 0, "")
	}
	if doc.DataHash != "" {
		pdf.SetFont("Courier", "", 7)
		pdf.CellFormat(0, 4, "SHA-256: "+doc.DataHash, "", 1, "L", false, 0, "")
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render certificate pdf: %w", err)
	}
	return buf.Bytes(), nil
}
