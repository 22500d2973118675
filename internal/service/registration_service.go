package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/davidolu/coursereg-api/internal/models"
	appErrors "github.com/davidolu/coursereg-api/pkg/errors"
)

type registrationRepository interface {
	List(ctx context.Context, filter models.RegistrationFilter) ([]models.RegistrationDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Registration, error)
	FindDetailByID(ctx context.Context, id string) (*models.RegistrationDetail, error)
	FindActiveByKey(ctx context.Context, studentID, sessionID, semester string) (*models.Registration, error)
	PurgeEmptyByKey(ctx context.Context, studentID, sessionID, semester string) error
	DeleteEmpty(ctx context.Context) (int64, error)
	CreateWithCourses(ctx context.Context, reg *models.Registration, items []models.RegistrationCourse) error
	ListCourses(ctx context.Context, registrationID string) ([]models.RegistrationCourseDetail, error)
	EditCourses(ctx context.Context, registrationID string, action models.EditAction, courseIDs []string, maxUnits int) (int, error)
	DeregisterCourse(ctx context.Context, registrationID, courseID string) (int, bool, error)
	FindApprovedCourse(ctx context.Context, studentID, courseID string) (*models.RegistrationCourse, error)
	ListSignatures(ctx context.Context, registrationID string) ([]models.RegistrationSignatureDetail, error)
	ListApprovals(ctx context.Context, registrationID string) ([]models.RegistrationApproval, error)
}

type courseReader interface {
	FindCoursesByIDs(ctx context.Context, ids []string) ([]models.Course, error)
}

type currentSessionReader interface {
	FindByID(ctx context.Context, id string) (*models.AcademicSession, error)
	FindCurrent(ctx context.Context) (*models.AcademicSession, error)
}

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// RegistrationPolicy carries the ledger limits enforced at submission.
type RegistrationPolicy struct {
	MaxUnits        int
	DefaultSemester string
	DefaultLevel    int
}

// SubmitCourse is one selected course in a submission.
type SubmitCourse struct {
	CourseID  string `json:"course_id" validate:"required"`
	CarryOver bool   `json:"carry_over"`
}

// SubmitRegistrationRequest is a student's course selection for a session and
// semester.
type SubmitRegistrationRequest struct {
	SessionID string         `json:"session_id"`
	Semester  string         `json:"semester"`
	Courses   []SubmitCourse `json:"courses" validate:"required,min=1,dive"`
	Comments  *string        `json:"comments,omitempty"`
}

// EditRegistrationRequest applies an administrative line-item edit.
type EditRegistrationRequest struct {
	Action    models.EditAction `json:"action" validate:"required,oneof=replace add remove"`
	CourseIDs []string          `json:"course_ids" validate:"required,min=1"`
}

// RegistrationView is a registration with its line items and workflow trail.
type RegistrationView struct {
	models.RegistrationDetail
	Courses    []models.RegistrationCourseDetail    `json:"courses"`
	Approvals  []models.RegistrationApproval        `json:"approvals"`
	Signatures []models.RegistrationSignatureDetail `json:"signatures"`
}

// DeregisterResult reports what a single-course deregistration did.
type DeregisterResult struct {
	RemainingUnits      int  `json:"remaining_units"`
	RegistrationDeleted bool `json:"registration_deleted"`
}

// RegistrationService owns the registration ledger: submission, reads, edits
// and removals. All unit totals are recomputed inside the repository
// transaction; this layer never does arithmetic on stale reads.
type RegistrationService struct {
	repo      registrationRepository
	courses   courseReader
	sessions  currentSessionReader
	audits    auditWriter
	policy    RegistrationPolicy
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRegistrationService constructs a RegistrationService.
func NewRegistrationService(repo registrationRepository, courses courseReader, sessions currentSessionReader, audits auditWriter, policy RegistrationPolicy, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *RegistrationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if policy.MaxUnits <= 0 {
		policy.MaxUnits = 24
	}
	if policy.DefaultSemester == "" {
		policy.DefaultSemester = "2"
	}
	if policy.DefaultLevel <= 0 {
		policy.DefaultLevel = 500
	}
	return &RegistrationService{repo: repo, courses: courses, sessions: sessions, audits: audits, policy: policy, metrics: metrics, validator: validate, logger: logger}
}

// Submit records a student's course selection as a pending registration.
func (s *RegistrationService) Submit(ctx context.Context, claims *models.JWTClaims, req SubmitRegistrationRequest) (*RegistrationView, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}

	session, err := s.resolveSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	semester := req.Semester
	if semester == "" {
		semester = s.policy.DefaultSemester
	}

	now := time.Now().UTC()
	if !models.IsAdmin(claims) && (now.Before(session.RegStartDate) || now.After(session.RegEndDate)) {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "the registration window for this session is closed")
	}

	// Zero-unit leftovers from abandoned attempts must not block the key.
	if err := s.repo.PurgeEmptyByKey(ctx, claims.UserID, session.ID, semester); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to clear stale registrations")
	}

	existing, err := s.repo.FindActiveByKey(ctx, claims.UserID, session.ID, semester)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing registration")
	}
	if existing != nil {
		s.recordSubmission("conflict")
		switch existing.Status {
		case models.RegistrationStatusPending:
			return nil, appErrors.Clone(appErrors.ErrAlreadyPending, "you already have a pending registration for this session and semester")
		case models.RegistrationStatusApproved:
			return nil, appErrors.Clone(appErrors.ErrAlreadyApproved, "you already have an approved registration for this session and semester")
		default:
			return nil, appErrors.Clone(appErrors.ErrConflict, "a rejected registration exists for this session and semester; contact the registration officer")
		}
	}

	courseIDs := make([]string, 0, len(req.Courses))
	carryOver := make(map[string]bool, len(req.Courses))
	for _, item := range req.Courses {
		if _, dup := carryOver[item.CourseID]; dup {
			return nil, appErrors.Clone(appErrors.ErrValidation, "duplicate course in selection")
		}
		courseIDs = append(courseIDs, item.CourseID)
		carryOver[item.CourseID] = item.CarryOver
	}

	courses, err := s.courses.FindCoursesByIDs(ctx, courseIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve courses")
	}
	if len(courses) != len(courseIDs) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "one or more selected courses do not exist")
	}

	totalUnits := 0
	for _, course := range courses {
		if !course.Active {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("course %s is not open for registration", course.Code))
		}
		totalUnits += course.Units
	}
	if totalUnits > s.policy.MaxUnits {
		s.recordSubmission("over_cap")
		return nil, appErrors.Clone(appErrors.ErrUnitCapExceeded, fmt.Sprintf("maximum units (%d) exceeded. Total units would be %d", s.policy.MaxUnits, totalUnits))
	}

	level := s.policy.DefaultLevel
	var departmentID *string
	if claims.DepartmentID != "" {
		dept := claims.DepartmentID
		departmentID = &dept
	}

	reg := &models.Registration{
		StudentID:    claims.UserID,
		SessionID:    session.ID,
		DepartmentID: departmentID,
		Level:        level,
		Semester:     semester,
		Status:       models.RegistrationStatusPending,
		TotalUnits:   totalUnits,
		Comments:     req.Comments,
	}
	items := make([]models.RegistrationCourse, 0, len(courseIDs))
	for _, id := range courseIDs {
		items = append(items, models.RegistrationCourse{CourseID: id, IsCarryOver: carryOver[id]})
	}

	if err := s.repo.CreateWithCourses(ctx, reg, items); err != nil {
		s.recordSubmission("conflict")
		return nil, err
	}
	s.recordSubmission("accepted")

	s.writeAudit(ctx, claims, models.AuditActionRegistrationSubmit, reg.ID, map[string]interface{}{
		"session_id":  session.ID,
		"semester":    semester,
		"total_units": totalUnits,
		"courses":     len(items),
	})

	return s.view(ctx, reg.ID)
}

// List returns registrations visible to the caller. Students only ever see
// their own; staff and officers see everything the filter matches.
func (s *RegistrationService) List(ctx context.Context, claims *models.JWTClaims, filter models.RegistrationFilter) ([]models.RegistrationDetail, *models.Pagination, error) {
	if !models.Allows(claims, models.CapViewAllRegistrations) {
		filter.StudentID = claims.UserID
	}
	registrations, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list registrations")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return registrations, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns the full registration view, enforcing the self-or-admin rule.
func (s *RegistrationService) Get(ctx context.Context, claims *models.JWTClaims, id string) (*RegistrationView, error) {
	reg, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}
	if !models.CanAccessRegistration(claims, reg.StudentID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you cannot view this registration")
	}
	return s.view(ctx, id)
}

// EditCourses applies an administrative edit to a registration's line items.
// The unit cap holds for edits exactly as it does for submissions.
func (s *RegistrationService) EditCourses(ctx context.Context, claims *models.JWTClaims, id string, req EditRegistrationRequest) (*RegistrationView, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid edit payload")
	}

	reg, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}

	if req.Action != models.EditActionRemove {
		courses, err := s.courses.FindCoursesByIDs(ctx, req.CourseIDs)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve courses")
		}
		if len(courses) != len(req.CourseIDs) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "one or more courses do not exist")
		}
	}

	total, err := s.repo.EditCourses(ctx, id, req.Action, req.CourseIDs, s.policy.MaxUnits)
	if err != nil {
		return nil, err
	}

	s.writeAudit(ctx, claims, models.AuditActionRegistrationEdit, reg.ID, map[string]interface{}{
		"action":      string(req.Action),
		"course_ids":  req.CourseIDs,
		"total_units": total,
	})

	return s.view(ctx, id)
}

// Deregister removes a single approved course for the student, deleting the
// whole registration when its last course goes.
func (s *RegistrationService) Deregister(ctx context.Context, claims *models.JWTClaims, courseID string) (*DeregisterResult, error) {
	item, err := s.repo.FindApprovedCourse(ctx, claims.UserID, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no approved registration contains this course")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to locate registered course")
	}

	remaining, deleted, err := s.repo.DeregisterCourse(ctx, item.RegistrationID, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course is not on the registration")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deregister course")
	}

	s.writeAudit(ctx, claims, models.AuditActionRegistrationEdit, item.RegistrationID, map[string]interface{}{
		"deregistered_course": courseID,
		"remaining_units":     remaining,
		"registration_gone":   deleted,
	})

	return &DeregisterResult{RemainingUnits: remaining, RegistrationDeleted: deleted}, nil
}

// CleanupEmpty removes every zero-unit registration and reports the count.
func (s *RegistrationService) CleanupEmpty(ctx context.Context, claims *models.JWTClaims) (int64, error) {
	count, err := s.repo.DeleteEmpty(ctx)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to clean up registrations")
	}
	if count > 0 {
		s.writeAudit(ctx, claims, models.AuditActionRegistrationEdit, "", map[string]interface{}{"empty_deleted": count})
	}
	return count, nil
}

func (s *RegistrationService) view(ctx context.Context, id string) (*RegistrationView, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}
	courses, err := s.repo.ListCourses(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration courses")
	}
	approvals, err := s.repo.ListApprovals(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approvals")
	}
	signatures, err := s.repo.ListSignatures(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load signatures")
	}
	if approvals == nil {
		approvals = []models.RegistrationApproval{}
	}
	if signatures == nil {
		signatures = []models.RegistrationSignatureDetail{}
	}
	return &RegistrationView{RegistrationDetail: *detail, Courses: courses, Approvals: approvals, Signatures: signatures}, nil
}

func (s *RegistrationService) resolveSession(ctx context.Context, sessionID string) (*models.AcademicSession, error) {
	var session *models.AcademicSession
	var err error
	if sessionID != "" {
		session, err = s.sessions.FindByID(ctx, sessionID)
	} else {
		session, err = s.sessions.FindCurrent(ctx)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "academic session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load academic session")
	}
	return session, nil
}

func (s *RegistrationService) recordSubmission(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordSubmission(outcome)
	}
}

func (s *RegistrationService) writeAudit(ctx context.Context, claims *models.JWTClaims, action, resourceID string, values map[string]interface{}) {
	if s.audits == nil {
		return
	}
	payload, _ := json.Marshal(values)
	var resID *string
	if resourceID != "" {
		resID = &resourceID
	}
	if err := s.audits.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &claims.UserID,
		Action:     action,
		Resource:   "registration",
		ResourceID: resID,
		NewValues:  payload,
	}); err != nil {
		s.logger.Warn("failed to write audit log", zap.Error(err))
	}
}
