package service

import (
	"context"
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-cert-api/internal/dto"
	"github.com/noah-isme/campus-cert-api/internal/models"
	appErrors "github.com/noah-isme/campus-cert-api/pkg/errors"
	"github.com/noah-isme/campus-cert-api/pkg/sis"
)

type sisGateway interface {
	Configured() bool
	SyncStudent(ctx context.Context, student sis.StudentSync) (*sis.SyncResult, error)
	ReportGraduation(ctx context.Context, report sis.GraduationReport) (*sis.SyncResult, error)
	StudentRecords(ctx context.Context, studentID string) ([]sis.BlockchainRecord, error)
	Status(ctx context.Context) sis.GatewayStatus
}

type certificateAnchorer interface {
	Get(ctx context.Context, id string, actor models.Actor) (*models.Certificate, error)
	RetryAnchor(ctx context.Context, id string, operator models.Actor) (*models.Certificate, error)
}

// SISSyncService propagates student, graduation and certificate data to the SIS gateway.
type SISSyncService struct {
	gateway   sisGateway
	issuance  certificateAnchorer
	audit     auditLogger
	validator *validator.Validate
	logger    *zap.Logger
}

// NewSISSyncService constructs the sync service.
func NewSISSyncService(gateway sisGateway, issuance certificateAnchorer, audit auditLogger, validate *validator.Validate, logger *zap.Logger) *SISSyncService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SISSyncService{gateway: gateway, issuance: issuance, audit: audit, validator: validate, logger: logger}
}

// Sync dispatches a sync request by type. Certificates go through the issuance workflow so only
// approved records are ever anchored.
func (s *SISSyncService) Sync(ctx context.Context, req dto.SISSyncRequest, actor models.Actor) (*dto.SISSyncResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}

	var (
		resp *dto.SISSyncResponse
		err  error
	)
	switch req.Type {
	case dto.SISSyncStudent:
		resp, err = s.syncStudent(ctx, req.Data)
	case dto.SISSyncGraduation:
		resp, err = s.reportGraduation(ctx, req.Data)
	case dto.SISSyncCertificate:
		resp, err = s.syncCertificate(ctx, req.Data, actor)
	default:
		return nil, appErrors.FieldError("type", "unknown sync type")
	}
	if err != nil {
		return nil, err
	}
	resp.Type = req.Type
	s.emitAudit(ctx, actor, resp)
	return resp, nil
}

func (s *SISSyncService) syncStudent(ctx context.Context, raw json.RawMessage) (*dto.SISSyncResponse, error) {
	var student sis.StudentSync
	if err := decodePayload(raw, &student); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(student); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	result, err := s.gateway.SyncStudent(ctx, student)
	if err != nil {
		return nil, gatewayError(err, "student sync failed")
	}
	return syncResponse(result), nil
}

func (s *SISSyncService) reportGraduation(ctx context.Context, raw json.RawMessage) (*dto.SISSyncResponse, error) {
	var report sis.GraduationReport
	if err := decodePayload(raw, &report); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(report); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	result, err := s.gateway.ReportGraduation(ctx, report)
	if err != nil {
		return nil, gatewayError(err, "graduation report failed")
	}
	return syncResponse(result), nil
}

func (s *SISSyncService) syncCertificate(ctx context.Context, raw json.RawMessage, actor models.Actor) (*dto.SISSyncResponse, error) {
	var ref dto.SISCertificateSync
	if err := decodePayload(raw, &ref); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(ref); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	cert, err := s.issuance.Get(ctx, ref.CertificateID, actor)
	if err != nil {
		return nil, err
	}
	if cert.Status == models.CertificateStatusProcessing {
		cert, err = s.issuance.RetryAnchor(ctx, ref.CertificateID, actor)
		if err != nil {
			return nil, err
		}
	}
	if cert.Status != models.CertificateStatusIssued {
		return nil, appErrors.InvalidTransition(string(cert.Status), string(models.CertificateStatusIssued))
	}
	return &dto.SISSyncResponse{
		Success: cert.OnChain,
		ID:      deref(cert.BlockchainTransactionID),
		Result:  cert,
	}, nil
}

// Status reports gateway connectivity. It never fails.
func (s *SISSyncService) Status(ctx context.Context) sis.GatewayStatus {
	return s.gateway.Status(ctx)
}

// StudentRecords lists ledger records stored for a student.
func (s *SISSyncService) StudentRecords(ctx context.Context, studentID string) ([]sis.BlockchainRecord, error) {
	if studentID == "" {
		return nil, appErrors.FieldError("studentId", "student id is required")
	}
	records, err := s.gateway.StudentRecords(ctx, studentID)
	if err != nil {
		return nil, gatewayError(err, "failed to list ledger records")
	}
	return records, nil
}

func (s *SISSyncService) emitAudit(ctx context.Context, actor models.Actor, resp *dto.SISSyncResponse) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{
		Action:    models.AuditActionSISSync,
		Resource:  "sis",
		IPAddress: "system",
		UserAgent: "sis-sync-service",
	}
	if actor.UserID != "" {
		entry.UserID = &actor.UserID
	}
	if actor.TenantID != "" {
		entry.TenantID = &actor.TenantID
	}
	if resp.ID != "" {
		id := resp.ID
		entry.ResourceID = &id
	}
	entry.NewValues, _ = json.Marshal(map[string]interface{}{"type": resp.Type, "success": resp.Success, "error": resp.Error})
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}

func decodePayload(raw json.RawMessage, dest interface{}) error {
	if len(raw) == 0 {
		return appErrors.FieldError("data", "data is required")
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return appErrors.FieldError("data", "data is malformed")
	}
	return nil
}

func gatewayError(err error, msg string) error {
	return appErrors.Wrap(err, appErrors.ErrGatewayUnavailable.Code, appErrors.ErrGatewayUnavailable.Status, msg)
}

func syncResponse(result *sis.SyncResult) *dto.SISSyncResponse {
	return &dto.SISSyncResponse{Success: result.Success, ID: result.ID, Error: result.Error}
}
