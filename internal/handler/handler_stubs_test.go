package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-cert-api/internal/dto"
	"github.com/noah-isme/campus-cert-api/internal/middleware"
	"github.com/noah-isme/campus-cert-api/internal/models"
	appErrors "github.com/noah-isme/campus-cert-api/pkg/errors"
)

type certificateServiceStub struct {
	cert      *models.Certificate
	err       error
	lastQuery dto.CertificateQuery
	lastActor models.Actor
	lastNote  string
	calls     []string
}

func (s *certificateServiceStub) result(call string, actor models.Actor) (*models.Certificate, error) {
	s.calls = append(s.calls, call)
	s.lastActor = actor
	if s.err != nil {
		return nil, s.err
	}
	return s.cert, nil
}

func (s *certificateServiceStub) Issue(ctx context.Context, req dto.IssueCertificateRequest, actor models.Actor) (*models.Certificate, error) {
	return s.result("issue", actor)
}

func (s *certificateServiceStub) Get(ctx context.Context, id string, actor models.Actor) (*models.Certificate, error) {
	return s.result("get", actor)
}

func (s *certificateServiceStub) List(ctx context.Context, query dto.CertificateQuery, actor models.Actor) (*dto.CertificateListResponse, *models.Pagination, error) {
	s.lastQuery = query
	s.lastActor = actor
	if s.err != nil {
		return nil, nil, s.err
	}
	return &dto.CertificateListResponse{Items: []models.Certificate{*s.cert}, Summary: models.CertificateSummary{Total: 1, Issued: 1}},
		&models.Pagination{Page: 1, PageSize: 20, TotalCount: 1}, nil
}

func (s *certificateServiceStub) UpdateDraft(ctx context.Context, id string, req dto.UpdateCertificateRequest, actor models.Actor) (*models.Certificate, error) {
	return s.result("update", actor)
}

func (s *certificateServiceStub) Submit(ctx context.Context, id string, actor models.Actor) (*models.Certificate, error) {
	return s.result("submit", actor)
}

func (s *certificateServiceStub) Reject(ctx context.Context, id, note string, actor models.Actor) (*models.Certificate, error) {
	s.lastNote = note
	return s.result("reject", actor)
}

func (s *certificateServiceStub) ApproveAndAnchor(ctx context.Context, id string, approver models.Actor) (*models.Certificate, error) {
	return s.result("approve", approver)
}

func (s *certificateServiceStub) RetryAnchor(ctx context.Context, id string, operator models.Actor) (*models.Certificate, error) {
	return s.result("retry", operator)
}

func (s *certificateServiceStub) OverrideUnanchored(ctx context.Context, id, reason string, operator models.Actor) (*models.Certificate, error) {
	s.lastNote = reason
	return s.result("override", operator)
}

func (s *certificateServiceStub) Revoke(ctx context.Context, id, reason string, revoker models.Actor) (*models.Certificate, error) {
	s.lastNote = reason
	return s.result("revoke", revoker)
}

type documentServiceStub struct {
	path      string
	filename  string
	openErr   error
	export    *dto.CertificateExport
	format    string
	discarded []string
}

func (d *documentServiceStub) DocumentLink(ctx context.Context, id string, actor models.Actor) (*dto.CertificateDocumentResponse, error) {
	return &dto.CertificateDocumentResponse{CertificateID: id, URL: "/api/v1/certificates/documents/tok"}, nil
}

func (d *documentServiceStub) OpenDocument(ctx context.Context, token string) (*os.File, string, error) {
	if d.openErr != nil {
		return nil, "", d.openErr
	}
	file, err := os.Open(d.path)
	return file, d.filename, err
}

func (d *documentServiceStub) Discard(certificateID string) {
	d.discarded = append(d.discarded, certificateID)
}

func (d *documentServiceStub) ExportRegister(ctx context.Context, query dto.CertificateQuery, format string, actor models.Actor) (*dto.CertificateExport, error) {
	d.format = format
	return d.export, nil
}

type historyStub struct {
	entries []models.AuditLog
}

func (h *historyStub) ListForResource(ctx context.Context, resource, resourceID string, limit int) ([]models.AuditLog, error) {
	return h.entries, nil
}

var registrarClaims = &models.JWTClaims{UserID: "registrar-1", TenantID: "tenant-a", Role: models.RoleRegistrar}

func newContext(t *testing.T, method, target string, body interface{}, claims *models.JWTClaims) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, target, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) *appErrors.Error {
	t.Helper()
	var envelope struct {
		Error *appErrors.Error `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
	return envelope.Error
}
