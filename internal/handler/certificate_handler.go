package handler

import (
	"context"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-cert-api/internal/dto"
	"github.com/noah-isme/campus-cert-api/internal/models"
	appErrors "github.com/noah-isme/campus-cert-api/pkg/errors"
	"github.com/noah-isme/campus-cert-api/pkg/response"
)

const historyLimit = 100

type certificateService interface {
	Issue(ctx context.Context, req dto.IssueCertificateRequest, actor models.Actor) (*models.Certificate, error)
	Get(ctx context.Context, id string, actor models.Actor) (*models.Certificate, error)
	List(ctx context.Context, query dto.CertificateQuery, actor models.Actor) (*dto.CertificateListResponse, *models.Pagination, error)
	UpdateDraft(ctx context.Context, id string, req dto.UpdateCertificateRequest, actor models.Actor) (*models.Certificate, error)
	Submit(ctx context.Context, id string, actor models.Actor) (*models.Certificate, error)
	Reject(ctx context.Context, id, note string, actor models.Actor) (*models.Certificate, error)
	ApproveAndAnchor(ctx context.Context, id string, approver models.Actor) (*models.Certificate, error)
	RetryAnchor(ctx context.Context, id string, operator models.Actor) (*models.Certificate, error)
	OverrideUnanchored(ctx context.Context, id, reason string, operator models.Actor) (*models.Certificate, error)
	Revoke(ctx context.Context, id, reason string, revoker models.Actor) (*models.Certificate, error)
}

type documentService interface {
	DocumentLink(ctx context.Context, id string, actor models.Actor) (*dto.CertificateDocumentResponse, error)
	OpenDocument(ctx context.Context, token string) (*os.File, string, error)
	Discard(certificateID string)
	ExportRegister(ctx context.Context, query dto.CertificateQuery, format string, actor models.Actor) (*dto.CertificateExport, error)
}

type auditHistory interface {
	ListForResource(ctx context.Context, resource, resourceID string, limit int) ([]models.AuditLog, error)
}

// CertificateHandler exposes the issuance workflow, documents and the register export.
type CertificateHandler struct {
	service   certificateService
	documents documentService
	history   auditHistory
}

// NewCertificateHandler constructs the handler. documents and history may be nil.
func NewCertificateHandler(service certificateService, documents documentService, history auditHistory) *CertificateHandler {
	return &CertificateHandler{service: service, documents: documents, history: history}
}

// Issue godoc
// @Summary Issue a certificate
// @Description Creates a certificate and submits it for approval unless draft is set.
// @Tags Certificates
// @Accept json
// @Produce json
// @Param payload body dto.IssueCertificateRequest true "Certificate payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /certificates [post]
func (h *CertificateHandler) Issue(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.IssueCertificateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid certificate payload"))
		return
	}
	cert, err := h.service.Issue(c.Request.Context(), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, cert)
}

// List godoc
// @Summary List certificates
// @Tags Certificates
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param type query string false "Certificate type"
// @Param year query int false "Graduation year"
// @Param search query string false "Name, number or certificate number"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /certificates [get]
func (h *CertificateHandler) List(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	query, err := certificateQueryFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	result, pagination, err := h.service.List(c.Request.Context(), query, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, pagination)
}

// Get godoc
// @Summary Get certificate
// @Tags Certificates
// @Produce json
// @Param id path string true "Certificate ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /certificates/{id} [get]
func (h *CertificateHandler) Get(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	cert, err := h.service.Get(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cert, nil)
}

// UpdateDraft godoc
// @Summary Amend a draft certificate
// @Tags Certificates
// @Accept json
// @Produce json
// @Param id path string true "Certificate ID"
// @Param payload body dto.UpdateCertificateRequest true "Fields to change"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /certificates/{id} [put]
func (h *CertificateHandler) UpdateDraft(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.UpdateCertificateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid certificate payload"))
		return
	}
	cert, err := h.service.UpdateDraft(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cert, nil)
}

// Submit godoc
// @Summary Submit a draft for approval
// @Tags Certificates
// @Produce json
// @Param id path string true "Certificate ID"
// @Success 200 {object} response.Envelope
// @Router /certificates/{id}/submit [post]
func (h *CertificateHandler) Submit(c *gin.Context) {
	h.transition(c, func(ctx context.Context, id string, actor models.Actor) (*models.Certificate, error) {
		return h.service.Submit(ctx, id, actor)
	})
}

// Reject godoc
// @Summary Return a pending certificate to draft
// @Tags Certificates
// @Accept json
// @Produce json
// @Param id path string true "Certificate ID"
// @Param payload body dto.RejectCertificateRequest true "Rejection note"
// @Success 200 {object} response.Envelope
// @Router /certificates/{id}/reject [post]
func (h *CertificateHandler) Reject(c *gin.Context) {
	var req dto.RejectCertificateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid rejection payload"))
		return
	}
	h.transition(c, func(ctx context.Context, id string, actor models.Actor) (*models.Certificate, error) {
		return h.service.Reject(ctx, id, req.Note, actor)
	})
}

// Approve godoc
// @Summary Approve and anchor a certificate
// @Description Assigns the number and verification code, anchors on the ledger and issues.
// @Tags Certificates
// @Produce json
// @Param id path string true "Certificate ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /certificates/{id}/approve [post]
func (h *CertificateHandler) Approve(c *gin.Context) {
	h.transition(c, func(ctx context.Context, id string, actor models.Actor) (*models.Certificate, error) {
		return h.service.ApproveAndAnchor(ctx, id, actor)
	})
}

// RetryAnchor godoc
// @Summary Retry ledger anchoring
// @Tags Certificates
// @Produce json
// @Param id path string true "Certificate ID"
// @Success 200 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /certificates/{id}/anchor/retry [post]
func (h *CertificateHandler) RetryAnchor(c *gin.Context) {
	h.transition(c, func(ctx context.Context, id string, actor models.Actor) (*models.Certificate, error) {
		return h.service.RetryAnchor(ctx, id, actor)
	})
}

// OverrideAnchor godoc
// @Summary Issue without a ledger anchor
// @Tags Certificates
// @Accept json
// @Produce json
// @Param id path string true "Certificate ID"
// @Param payload body dto.OverrideAnchorRequest true "Override reason"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /certificates/{id}/anchor/override [post]
func (h *CertificateHandler) OverrideAnchor(c *gin.Context) {
	var req dto.OverrideAnchorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid override payload"))
		return
	}
	h.transition(c, func(ctx context.Context, id string, actor models.Actor) (*models.Certificate, error) {
		return h.service.OverrideUnanchored(ctx, id, req.Reason, actor)
	})
}

// Revoke godoc
// @Summary Revoke an issued certificate
// @Tags Certificates
// @Accept json
// @Produce json
// @Param id path string true "Certificate ID"
// @Param payload body dto.RevokeCertificateRequest true "Revocation reason"
// @Success 200 {object} response.Envelope
// @Router /certificates/{id}/revoke [post]
func (h *CertificateHandler) Revoke(c *gin.Context) {
	var req dto.RevokeCertificateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid revocation payload"))
		return
	}
	h.transition(c, func(ctx context.Context, id string, actor models.Actor) (*models.Certificate, error) {
		cert, err := h.service.Revoke(ctx, id, req.Reason, actor)
		if err == nil && h.documents != nil {
			h.documents.Discard(cert.ID)
		}
		return cert, err
	})
}

// History godoc
// @Summary Certificate audit trail
// @Tags Certificates
// @Produce json
// @Param id path string true "Certificate ID"
// @Success 200 {object} response.Envelope
// @Router /certificates/{id}/history [get]
func (h *CertificateHandler) History(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	if h.history == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "audit history unavailable"))
		return
	}
	cert, err := h.service.Get(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	entries, err := h.history.ListForResource(c.Request.Context(), "certificate", cert.ID, historyLimit)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load audit history"))
		return
	}
	if entries == nil {
		entries = []models.AuditLog{}
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// DocumentLink godoc
// @Summary Signed link to the certificate document
// @Tags Certificates
// @Produce json
// @Param id path string true "Certificate ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /certificates/{id}/document [get]
func (h *CertificateHandler) DocumentLink(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	if h.documents == nil {
		response.Error(c, appErrors.ErrDocumentUnavailable)
		return
	}
	link, err := h.documents.DocumentLink(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}

// DownloadDocument godoc
// @Summary Download a certificate document
// @Description Streams the PDF behind a signed link. The link carries its own authorization.
// @Tags Certificates
// @Produce application/pdf
// @Param token path string true "Signed token"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Router /certificates/documents/{token} [get]
func (h *CertificateHandler) DownloadDocument(c *gin.Context) {
	if h.documents == nil {
		response.Error(c, appErrors.ErrDocumentUnavailable)
		return
	}
	file, filename, err := h.documents.OpenDocument(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read certificate document"))
		return
	}
	response.Stream(c, filename, "application/pdf", info.Size(), file)
}

// Export godoc
// @Summary Export the certificate register
// @Tags Certificates
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv or pdf"
// @Param status query string false "Comma separated statuses"
// @Param type query string false "Certificate type"
// @Param year query int false "Graduation year"
// @Success 200 {file} file
// @Router /certificates/export [get]
func (h *CertificateHandler) Export(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	if h.documents == nil {
		response.Error(c, appErrors.ErrDocumentUnavailable)
		return
	}
	query, err := certificateQueryFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.documents.ExportRegister(c.Request.Context(), query, c.Query("format"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, result.Filename, result.ContentType, result.Data)
}

func (h *CertificateHandler) transition(c *gin.Context, fn func(ctx context.Context, id string, actor models.Actor) (*models.Certificate, error)) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	cert, err := fn(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cert, nil)
}
