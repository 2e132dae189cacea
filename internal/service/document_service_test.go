package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-cert-api/internal/dto"
	"github.com/noah-isme/campus-cert-api/internal/models"
	appErrors "github.com/noah-isme/campus-cert-api/pkg/errors"
	"github.com/noah-isme/campus-cert-api/pkg/storage"
)

func newDocumentFixture(t *testing.T) (*DocumentService, *issuanceFixture, *storage.LocalStorage) {
	t.Helper()
	f := newIssuanceFixture(t)
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("document-secret", time.Hour)
	svc := NewDocumentService(f.svc, f.store, store, signer, nil, DocumentServiceConfig{
		VerifyBaseURL:   "https://verify.campus.edu/",
		InstitutionName: "Campus University",
	})
	return svc, f, store
}

func TestDocumentLinkForIssuedCertificate(t *testing.T) {
	svc, f, store := newDocumentFixture(t)
	cert := f.pending(t)
	issued, err := f.svc.ApproveAndAnchor(context.Background(), cert.ID, approver)
	require.NoError(t, err)

	link, err := svc.DocumentLink(context.Background(), issued.ID, approver)
	require.NoError(t, err)
	assert.Equal(t, issued.ID, link.CertificateID)
	assert.True(t, strings.HasPrefix(link.URL, "/api/v1/certificates/documents/"))
	assert.True(t, store.Exists(documentPath(issued)))

	token := strings.TrimPrefix(link.URL, "/api/v1/certificates/documents/")
	file, name, err := svc.OpenDocument(context.Background(), token)
	require.NoError(t, err)
	defer file.Close() //nolint:errcheck
	assert.Equal(t, "CERT-2024-000001.pdf", name)
	data, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
}

func TestDocumentUnavailableBeforeIssue(t *testing.T) {
	svc, f, _ := newDocumentFixture(t)
	cert := f.pending(t)

	_, err := svc.DocumentLink(context.Background(), cert.ID, approver)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrDocumentUnavailable.Code))
}

func TestDocumentLinkRefusedAfterRevocation(t *testing.T) {
	svc, f, store := newDocumentFixture(t)
	cert := f.pending(t)
	issued, err := f.svc.ApproveAndAnchor(context.Background(), cert.ID, approver)
	require.NoError(t, err)
	link, err := svc.DocumentLink(context.Background(), issued.ID, approver)
	require.NoError(t, err)

	_, err = f.svc.Revoke(context.Background(), issued.ID, "issued in error", approver)
	require.NoError(t, err)
	svc.Discard(issued.ID)
	assert.False(t, store.Exists(documentPath(issued)))

	token := strings.TrimPrefix(link.URL, "/api/v1/certificates/documents/")
	_, _, err = svc.OpenDocument(context.Background(), token)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrDocumentUnavailable.Code))

	_, _, err = svc.OpenDocument(context.Background(), "bogus.token.value.sig")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrForbidden.Code))
}

func TestExportRegisterCSV(t *testing.T) {
	svc, f, _ := newDocumentFixture(t)
	cert := f.pending(t)
	_, err := f.svc.ApproveAndAnchor(context.Background(), cert.ID, approver)
	require.NoError(t, err)
	f.pending(t)

	out, err := svc.ExportRegister(context.Background(), dto.CertificateQuery{}, "", approver)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", out.ContentType)
	assert.True(t, strings.HasSuffix(out.Filename, ".csv"))

	records, err := csv.NewReader(bytes.NewReader(out.Data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "Certificate No", records[0][0])

	statuses := []string{records[1][8], records[2][8]}
	assert.ElementsMatch(t, []string{string(models.CertificateStatusIssued), string(models.CertificateStatusPendingApproval)}, statuses)
}

func TestExportRegisterFormats(t *testing.T) {
	svc, _, _ := newDocumentFixture(t)

	out, err := svc.ExportRegister(context.Background(), dto.CertificateQuery{}, "PDF", approver)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", out.ContentType)

	_, err = svc.ExportRegister(context.Background(), dto.CertificateQuery{}, "xlsx", approver)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
}

func TestDocumentCarriesVerificationURL(t *testing.T) {
	svc, _, _ := newDocumentFixture(t)
	cert := issuedCertificate(t, true)

	doc := svc.document(&cert)
	assert.Equal(t, "https://verify.campus.edu/ABCD-EFGH-JKLM", doc.VerificationURL)
	assert.Equal(t, "3.91", doc.CGPA)
	assert.Equal(t, "Degree Certificate", doc.Title)
	assert.Equal(t, "1 July 2024", doc.IssuedOn)
}
