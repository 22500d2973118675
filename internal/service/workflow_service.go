package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidolu/coursereg-api/internal/models"
	appErrors "github.com/davidolu/coursereg-api/pkg/errors"
	"github.com/davidolu/coursereg-api/pkg/jobs"
)

type workflowRepository interface {
	FindByID(ctx context.Context, id string) (*models.Registration, error)
	FindDetailByID(ctx context.Context, id string) (*models.RegistrationDetail, error)
	UpdateStatus(ctx context.Context, id string, status models.RegistrationStatus) error
	CreateApproval(ctx context.Context, approval *models.RegistrationApproval) error
	CreateSignature(ctx context.Context, sig *models.RegistrationSignature) error
	ListSignatures(ctx context.Context, registrationID string) ([]models.RegistrationSignatureDetail, error)
}

type signerReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// ReviewRequest decides a pending registration.
type ReviewRequest struct {
	Action   string  `json:"action" validate:"required,oneof=approve reject"`
	Comments *string `json:"comments,omitempty"`
}

// RegistrationCompletePayload travels on the notification queue when the
// final countersignature lands.
type RegistrationCompletePayload struct {
	RegistrationID string `json:"registration_id"`
	StudentName    string `json:"student_name"`
	StudentEmail   string `json:"student_email"`
	SessionName    string `json:"session_name"`
	Semester       string `json:"semester"`
}

// WorkflowService drives the review decision and the sequential
// countersignature chain on approved registrations.
type WorkflowService struct {
	repo      workflowRepository
	users     signerReader
	audits    auditWriter
	queue     jobEnqueuer
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewWorkflowService constructs a WorkflowService.
func NewWorkflowService(repo workflowRepository, users signerReader, audits auditWriter, queue jobEnqueuer, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *WorkflowService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &WorkflowService{repo: repo, users: users, audits: audits, queue: queue, metrics: metrics, validator: validate, logger: logger}
}

// Review approves or rejects a registration. Approval writes an approval
// audit row; rejection only flips the status. That asymmetry is long-standing
// observed behavior and is preserved on purpose, as is the absence of a
// status gate: re-approving an approved registration leaves the status alone
// and records another approval row.
func (s *WorkflowService) Review(ctx context.Context, claims *models.JWTClaims, registrationID string, req ReviewRequest) (*models.Registration, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid review payload")
	}

	reg, err := s.repo.FindByID(ctx, registrationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}

	if req.Action == "approve" {
		if err := s.repo.UpdateStatus(ctx, registrationID, models.RegistrationStatusApproved); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to approve registration")
		}
		if err := s.repo.CreateApproval(ctx, &models.RegistrationApproval{
			RegistrationID: registrationID,
			ApprovedBy:     claims.UserID,
			Comments:       req.Comments,
		}); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record approval")
		}
		reg.Status = models.RegistrationStatusApproved
	} else {
		if err := s.repo.UpdateStatus(ctx, registrationID, models.RegistrationStatusRejected); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reject registration")
		}
		reg.Status = models.RegistrationStatusRejected
	}

	s.writeAudit(ctx, claims, models.AuditActionRegistrationReview, registrationID, map[string]interface{}{
		"action": req.Action,
	})

	return reg, nil
}

// AppendSignature adds the caller's countersignature to an approved
// registration, enforcing the fixed officer order. The signer's name and
// title are snapshotted at signing time.
func (s *WorkflowService) AppendSignature(ctx context.Context, claims *models.JWTClaims, registrationID string) (*models.RegistrationSignature, error) {
	reg, err := s.repo.FindByID(ctx, registrationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}

	if reg.Status != models.RegistrationStatusApproved {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only approved registrations can be signed")
	}

	signer, err := s.users.FindByID(ctx, claims.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load signer")
	}

	position := models.SignaturePosition(signer.Role)
	if position < 0 {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "your role does not countersign registrations")
	}

	if signer.SignaturePath == nil || *signer.SignaturePath == "" {
		return nil, appErrors.Clone(appErrors.ErrMissingSignature, "no signature image on file. Upload one before signing")
	}

	existing, err := s.repo.ListSignatures(ctx, registrationID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load signatures")
	}

	signedRoles := make(map[models.UserRole]struct{}, len(existing))
	for _, sig := range existing {
		if sig.SignedBy == claims.UserID {
			return nil, appErrors.Clone(appErrors.ErrAlreadySigned, "you have already signed this registration")
		}
		signedRoles[sig.SignerRole] = struct{}{}
	}
	if _, done := signedRoles[signer.Role]; done {
		return nil, appErrors.Clone(appErrors.ErrAlreadySigned, fmt.Sprintf("the %s has already signed this registration", signer.SignatureTitle()))
	}

	for _, role := range models.SignatureOrder[:position] {
		if _, ok := signedRoles[role]; !ok {
			missing := models.User{Role: role}
			return nil, appErrors.Clone(appErrors.ErrSignatureOrder, fmt.Sprintf("The %s must sign before you", missing.SignatureTitle()))
		}
	}
	for _, role := range models.SignatureOrder[position+1:] {
		if _, ok := signedRoles[role]; ok {
			return nil, appErrors.Clone(appErrors.ErrSignatureOrder, "Cannot insert signature before later signatories who have already signed")
		}
	}

	sig := &models.RegistrationSignature{
		RegistrationID: registrationID,
		SignedBy:       signer.ID,
		SignatureName:  signer.FullName,
		SignatureTitle: signer.SignatureTitle(),
	}
	if err := s.repo.CreateSignature(ctx, sig); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordSignature()
	}

	s.writeAudit(ctx, claims, models.AuditActionSignatureAppend, registrationID, map[string]interface{}{
		"signature_title": sig.SignatureTitle,
	})

	// The final signature completes the chain; the student is told by mail,
	// best effort. A notification failure never unwinds the signature.
	if signer.Role == models.SignatureOrder[len(models.SignatureOrder)-1] {
		s.notifyCompletion(ctx, registrationID)
	}

	return sig, nil
}

func (s *WorkflowService) notifyCompletion(ctx context.Context, registrationID string) {
	if s.queue == nil {
		return
	}
	detail, err := s.repo.FindDetailByID(ctx, registrationID)
	if err != nil {
		s.logger.Warn("failed to load registration for completion notice", zap.Error(err))
		return
	}
	err = s.queue.Enqueue(jobs.Job{
		ID:   uuid.NewString(),
		Type: jobs.TypeRegistrationComplete,
		Payload: RegistrationCompletePayload{
			RegistrationID: detail.ID,
			StudentName:    detail.StudentName,
			StudentEmail:   detail.StudentEmail,
			SessionName:    detail.SessionName,
			Semester:       detail.Semester,
		},
	})
	if err != nil {
		s.logger.Warn("failed to enqueue completion notice", zap.Error(err))
	}
}

func (s *WorkflowService) writeAudit(ctx context.Context, claims *models.JWTClaims, action, resourceID string, values map[string]interface{}) {
	if s.audits == nil {
		return
	}
	payload, _ := json.Marshal(values)
	if err := s.audits.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &claims.UserID,
		Action:     action,
		Resource:   "registration",
		ResourceID: &resourceID,
		NewValues:  payload,
	}); err != nil {
		s.logger.Warn("failed to write audit log", zap.Error(err))
	}
}
