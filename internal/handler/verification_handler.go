package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-cert-api/internal/dto"
	"github.com/noah-isme/campus-cert-api/internal/middleware"
	appErrors "github.com/noah-isme/campus-cert-api/pkg/errors"
	"github.com/noah-isme/campus-cert-api/pkg/response"
)

type verificationService interface {
	Verify(ctx context.Context, input string) (*dto.VerificationResult, error)
}

// VerificationHandler serves the public verification endpoint.
type VerificationHandler struct {
	service verificationService
}

// NewVerificationHandler constructs a verification handler.
func NewVerificationHandler(service verificationService) *VerificationHandler {
	return &VerificationHandler{service: service}
}

// VerifyByCode godoc
// @Summary Verify a certificate
// @Description Public lookup by verification code. Unknown codes return valid=false.
// @Tags Verification
// @Produce json
// @Param code path string true "Verification code"
// @Success 200 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Router /verify/{code} [get]
func (h *VerificationHandler) VerifyByCode(c *gin.Context) {
	h.verify(c, c.Param("code"))
}

// Verify godoc
// @Summary Verify a certificate
// @Tags Verification
// @Accept json
// @Produce json
// @Param payload body dto.VerifyRequest true "Verification code"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /verify [post]
func (h *VerificationHandler) Verify(c *gin.Context) {
	var req dto.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid verification payload"))
		return
	}
	h.verify(c, req.Code)
}

func (h *VerificationHandler) verify(c *gin.Context, code string) {
	if strings.TrimSpace(code) == "" {
		response.Error(c, appErrors.FieldError("code", "verification code is required"))
		return
	}
	result, err := h.service.Verify(c.Request.Context(), code)
	if err != nil {
		response.Error(c, err)
		return
	}
	if result.Source != "" {
		middleware.SetMeta(c, "source", result.Source)
	}
	response.JSON(c, http.StatusOK, result, nil, middleware.ExtractMeta(c))
}
