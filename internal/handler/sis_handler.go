package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-cert-api/internal/dto"
	"github.com/noah-isme/campus-cert-api/internal/models"
	appErrors "github.com/noah-isme/campus-cert-api/pkg/errors"
	"github.com/noah-isme/campus-cert-api/pkg/response"
	"github.com/noah-isme/campus-cert-api/pkg/sis"
)

type sisSyncService interface {
	Sync(ctx context.Context, req dto.SISSyncRequest, actor models.Actor) (*dto.SISSyncResponse, error)
	Status(ctx context.Context) sis.GatewayStatus
	StudentRecords(ctx context.Context, studentID string) ([]sis.BlockchainRecord, error)
}

type certificateNoVerifier interface {
	VerifyCertificateNo(ctx context.Context, tenantID, certificateNo string) (*dto.VerificationResult, error)
}

// SISHandler exposes synchronization with the school information system.
type SISHandler struct {
	sync   sisSyncService
	verify certificateNoVerifier
}

// NewSISHandler constructs the SIS handler.
func NewSISHandler(sync sisSyncService, verify certificateNoVerifier) *SISHandler {
	return &SISHandler{sync: sync, verify: verify}
}

// Sync godoc
// @Summary Synchronize with the SIS
// @Tags SIS
// @Accept json
// @Produce json
// @Param payload body dto.SISSyncRequest true "Sync payload"
// @Success 200 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /sis/sync [post]
func (h *SISHandler) Sync(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.SISSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid sync payload"))
		return
	}
	result, err := h.sync.Sync(c.Request.Context(), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Status godoc
// @Summary SIS gateway status
// @Tags SIS
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /sis/status [get]
func (h *SISHandler) Status(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.sync.Status(c.Request.Context()), nil)
}

// StudentRecords godoc
// @Summary Ledger records for a student
// @Tags SIS
// @Produce json
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /sis/students/{studentId}/records [get]
func (h *SISHandler) StudentRecords(c *gin.Context) {
	records, err := h.sync.StudentRecords(c.Request.Context(), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if records == nil {
		records = []sis.BlockchainRecord{}
	}
	response.JSON(c, http.StatusOK, records, nil)
}

// Verify godoc
// @Summary Verify by certificate number
// @Description Resolves a certificate number within the caller's tenant.
// @Tags SIS
// @Accept json
// @Produce json
// @Param certificateNo query string false "Certificate number (GET)"
// @Param payload body dto.SISVerifyRequest false "Certificate number (POST)"
// @Success 200 {object} response.Envelope
// @Router /sis/verify [get]
// @Router /sis/verify [post]
func (h *SISHandler) Verify(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	certificateNo := c.Query("certificateNo")
	if c.Request.Method == http.MethodPost {
		var req dto.SISVerifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid verification payload"))
			return
		}
		certificateNo = req.CertificateNo
	}
	if strings.TrimSpace(certificateNo) == "" {
		response.Error(c, appErrors.FieldError("certificateNo", "certificate number is required"))
		return
	}
	result, err := h.verify.VerifyCertificateNo(c.Request.Context(), actor.TenantID, certificateNo)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
