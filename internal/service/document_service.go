package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/campus-cert-api/internal/dto"
	"github.com/noah-isme/campus-cert-api/internal/models"
	appErrors "github.com/noah-isme/campus-cert-api/pkg/errors"
	"github.com/noah-isme/campus-cert-api/pkg/export"
	"github.com/noah-isme/campus-cert-api/pkg/storage"
)

const (
	exportPageSize = 200
	maxExportRows  = 10000
)

type certificateReader interface {
	Get(ctx context.Context, id string, actor models.Actor) (*models.Certificate, error)
}

type certificateLister interface {
	List(ctx context.Context, filter models.CertificateFilter) ([]models.Certificate, error)
}

type documentStorage interface {
	Save(relPath string, data []byte) (string, error)
	Open(relPath string) (*os.File, error)
	Exists(relPath string) bool
	RemoveAll(relDir string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type documentSigner interface {
	Generate(certificateID, relPath string) (string, time.Time, error)
	Parse(token string) (string, string, time.Time, error)
}

type certificateRenderer interface {
	Render(doc export.CertificateDocument) ([]byte, error)
}

type registerRenderer interface {
	Render(table export.Table) ([]byte, error)
}

// DocumentServiceConfig tunes document links and rendering.
type DocumentServiceConfig struct {
	APIPrefix       string
	VerifyBaseURL   string
	InstitutionName string
	RetainFor       time.Duration
}

// DocumentService renders issued certificates to PDF, hands out signed links and exports the register.
type DocumentService struct {
	certs    certificateReader
	lister   certificateLister
	storage  documentStorage
	signer   documentSigner
	pdf      certificateRenderer
	csv      registerRenderer
	register registerRenderer
	logger   *zap.Logger
	cfg      DocumentServiceConfig
}

// NewDocumentService constructs the document service. Nil renderers use the defaults from pkg/export.
func NewDocumentService(certs certificateReader, lister certificateLister, store documentStorage, signer documentSigner, logger *zap.Logger, cfg DocumentServiceConfig) *DocumentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}
	if cfg.RetainFor <= 0 {
		cfg.RetainFor = 30 * 24 * time.Hour
	}
	return &DocumentService{
		certs:    certs,
		lister:   lister,
		storage:  store,
		signer:   signer,
		pdf:      export.NewCertificatePDF(),
		csv:      export.NewRegisterCSV(),
		register: export.NewRegisterPDF(),
		logger:   logger,
		cfg:      cfg,
	}
}

// DocumentLink renders the certificate document if needed and returns a signed download link.
func (s *DocumentService) DocumentLink(ctx context.Context, id string, actor models.Actor) (*dto.CertificateDocumentResponse, error) {
	cert, err := s.certs.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	relPath, err := s.ensureRendered(cert)
	if err != nil {
		return nil, err
	}
	token, expiresAt, err := s.signer.Generate(cert.ID, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign document link")
	}
	return &dto.CertificateDocumentResponse{
		CertificateID: cert.ID,
		URL:           fmt.Sprintf("%s/certificates/documents/%s", strings.TrimRight(s.cfg.APIPrefix, "/"), token),
		ExpiresAt:     expiresAt,
	}, nil
}

// OpenDocument resolves a signed token to the rendered PDF. The certificate must still be issued
// and unchanged since the link was signed.
func (s *DocumentService) OpenDocument(ctx context.Context, token string) (*os.File, string, error) {
	id, relPath, _, err := s.signer.Parse(token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, "", appErrors.Clone(appErrors.ErrForbidden, "download link expired")
		}
		return nil, "", appErrors.Clone(appErrors.ErrForbidden, "invalid download link")
	}
	cert, err := s.certs.Get(ctx, id, models.Actor{})
	if err != nil {
		return nil, "", err
	}
	if cert.Status != models.CertificateStatusIssued || documentPath(cert) != relPath {
		return nil, "", appErrors.Clone(appErrors.ErrDocumentUnavailable, "certificate document is no longer available")
	}
	if _, err := s.ensureRendered(cert); err != nil {
		return nil, "", err
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open certificate document")
	}
	return file, cert.Number() + ".pdf", nil
}

// Discard removes rendered documents for a certificate, e.g. after revocation.
func (s *DocumentService) Discard(certificateID string) {
	if err := s.storage.RemoveAll("certificates/" + certificateID); err != nil {
		s.logger.Warn("failed to discard certificate documents", zap.String("certificate_id", certificateID), zap.Error(err))
	}
}

// Cleanup deletes rendered documents older than the retention window; they are re-rendered on demand.
func (s *DocumentService) Cleanup() ([]string, error) {
	return s.storage.CleanupOlderThan(s.cfg.RetainFor)
}

// ExportRegister renders the filtered certificate register as csv or pdf.
func (s *DocumentService) ExportRegister(ctx context.Context, query dto.CertificateQuery, format string, actor models.Actor) (*dto.CertificateExport, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "pdf" {
		return nil, appErrors.FieldError("format", "format must be csv or pdf")
	}

	table := export.Table{
		Title: "Certificate register",
		Columns: []string{"Certificate No", "Student Number", "Student Name", "Program", "Type",
			"Class", "CGPA", "Year", "Status", "Issued At", "On Chain", "Transaction"},
	}
	filter := models.CertificateFilter{
		TenantID: actor.TenantID,
		Status:   query.Status,
		Type:     query.Type,
		Year:     query.Year,
		Search:   query.Search,
		PageSize: exportPageSize,
		SortBy:   "created_at",
	}
	for page := 1; len(table.Rows) < maxExportRows; page++ {
		filter.Page = page
		items, err := s.lister.List(ctx, filter)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list certificates")
		}
		for i := range items {
			table.Append(registerRow(&items[i])...)
		}
		if len(items) < exportPageSize {
			break
		}
	}

	var (
		data        []byte
		err         error
		contentType string
	)
	if format == "pdf" {
		data, err = s.register.Render(table)
		contentType = "application/pdf"
	} else {
		data, err = s.csv.Render(table)
		contentType = "text/csv"
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render register")
	}
	return &dto.CertificateExport{
		Filename:    fmt.Sprintf("certificates_%s.%s", time.Now().UTC().Format("20060102_150405"), format),
		ContentType: contentType,
		Data:        data,
	}, nil
}

func (s *DocumentService) ensureRendered(cert *models.Certificate) (string, error) {
	if cert.Status != models.CertificateStatusIssued {
		return "", appErrors.WithDetails(appErrors.ErrDocumentUnavailable, "documents are only available for issued certificates",
			map[string]interface{}{"status": string(cert.Status)})
	}
	relPath := documentPath(cert)
	if s.storage.Exists(relPath) {
		return relPath, nil
	}
	data, err := s.pdf.Render(s.document(cert))
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render certificate")
	}
	if _, err := s.storage.Save(relPath, data); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store certificate document")
	}
	s.logger.Info("certificate document rendered", zap.String("certificate_id", cert.ID), zap.String("path", relPath))
	return relPath, nil
}

func (s *DocumentService) document(cert *models.Certificate) export.CertificateDocument {
	doc := export.CertificateDocument{
		InstitutionName:  s.cfg.InstitutionName,
		Title:            documentTitle(cert.Type),
		StudentName:      cert.StudentName,
		StudentNumber:    cert.StudentNumber,
		Program:          cert.Program,
		Department:       cert.Department,
		ClassOfDegree:    deref(cert.ClassOfDegree),
		GraduationYear:   cert.GraduationYear,
		CertificateNo:    cert.Number(),
		VerificationCode: cert.Code(),
		TransactionID:    deref(cert.BlockchainTransactionID),
		DataHash:         cert.Hash(),
	}
	if cert.CGPA != nil {
		doc.CGPA = strconv.FormatFloat(*cert.CGPA, 'f', 2, 64)
	}
	if cert.IssuedAt != nil {
		doc.IssuedOn = cert.IssuedAt.Format("2 January 2006")
	}
	if s.cfg.VerifyBaseURL != "" && cert.Code() != "" {
		doc.VerificationURL = strings.TrimRight(s.cfg.VerifyBaseURL, "/") + "/" + cert.Code()
	}
	return doc
}

// documentPath keys rendered files by content hash so amended data never reuses a stale render.
func documentPath(cert *models.Certificate) string {
	hash := cert.Hash()
	if len(hash) > 16 {
		hash = hash[:16]
	}
	return fmt.Sprintf("certificates/%s/%s.pdf", cert.ID, hash)
}

func documentTitle(t models.CertificateType) string {
	switch t {
	case models.CertificateTypeDegree:
		return "Degree Certificate"
	case models.CertificateTypeDiploma:
		return "Diploma"
	case models.CertificateTypeTranscript:
		return "Academic Transcript"
	case models.CertificateTypeAttestation:
		return "Letter of Attestation"
	case models.CertificateTypeProvisional:
		return "Provisional Certificate"
	}
	return "Certificate"
}

func registerRow(cert *models.Certificate) []string {
	cgpa := ""
	if cert.CGPA != nil {
		cgpa = strconv.FormatFloat(*cert.CGPA, 'f', 2, 64)
	}
	issuedAt := ""
	if cert.IssuedAt != nil {
		issuedAt = cert.IssuedAt.UTC().Format(time.RFC3339)
	}
	return []string{
		cert.Number(),
		cert.StudentNumber,
		cert.StudentName,
		cert.Program,
		string(cert.Type),
		deref(cert.ClassOfDegree),
		cgpa,
		strconv.Itoa(cert.GraduationYear),
		string(cert.Status),
		issuedAt,
		strconv.FormatBool(cert.OnChain),
		deref(cert.BlockchainTransactionID),
	}
}
