package handler

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-cert-api/internal/dto"
	"github.com/noah-isme/campus-cert-api/internal/middleware"
	"github.com/noah-isme/campus-cert-api/internal/models"
	appErrors "github.com/noah-isme/campus-cert-api/pkg/errors"
)

func actorFromContext(c *gin.Context) (models.Actor, error) {
	claims := middleware.ClaimsFromContext(c)
	if claims == nil {
		return models.Actor{}, appErrors.ErrUnauthorized
	}
	return models.ActorFromClaims(claims), nil
}

// certificateQueryFromContext parses list and export filters. status accepts a comma list.
func certificateQueryFromContext(c *gin.Context) (dto.CertificateQuery, error) {
	query := dto.CertificateQuery{
		Type:   models.CertificateType(strings.ToLower(strings.TrimSpace(c.Query("type")))),
		Search: strings.TrimSpace(c.Query("search")),
	}
	for _, raw := range strings.Split(c.Query("status"), ",") {
		if raw = strings.ToLower(strings.TrimSpace(raw)); raw == "" {
			continue
		}
		status := models.CertificateStatus(raw)
		if !status.Valid() {
			return query, appErrors.FieldError("status", "unknown certificate status "+raw)
		}
		query.Status = append(query.Status, status)
	}
	if query.Type != "" && !query.Type.Valid() {
		return query, appErrors.FieldError("type", "unsupported certificate type")
	}

	var err error
	if query.Year, err = intQuery(c, "year"); err != nil {
		return query, err
	}
	if query.Page, err = intQuery(c, "page"); err != nil {
		return query, err
	}
	if query.PageSize, err = intQuery(c, "pageSize"); err != nil {
		return query, err
	}
	return query, nil
}

func intQuery(c *gin.Context, key string) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, appErrors.FieldError(key, key+" must be a non-negative integer")
	}
	return value, nil
}
