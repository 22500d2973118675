package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davidolu/coursereg-api/internal/models"
	appErrors "github.com/davidolu/coursereg-api/pkg/errors"
)

type mockRegistrationRepo struct {
	registrations map[string]models.Registration
	courses       map[string][]models.RegistrationCourseDetail
	approved      map[string]models.RegistrationCourse
	created       *models.Registration
	createdItems  []models.RegistrationCourse
	purgedKeys    []string
	deregRemain   int
	deregDeleted  bool
	emptyDeleted  int64
	statusUpdates map[string]models.RegistrationStatus
}

func (m *mockRegistrationRepo) List(ctx context.Context, filter models.RegistrationFilter) ([]models.RegistrationDetail, int, error) {
	var out []models.RegistrationDetail
	for _, reg := range m.registrations {
		if filter.StudentID != "" && reg.StudentID != filter.StudentID {
			continue
		}
		out = append(out, models.RegistrationDetail{Registration: reg})
	}
	return out, len(out), nil
}

func (m *mockRegistrationRepo) FindByID(ctx context.Context, id string) (*models.Registration, error) {
	if reg, ok := m.registrations[id]; ok {
		return &reg, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockRegistrationRepo) FindDetailByID(ctx context.Context, id string) (*models.RegistrationDetail, error) {
	if reg, ok := m.registrations[id]; ok {
		return &models.RegistrationDetail{Registration: reg, StudentName: "Ada Obi", StudentEmail: "ada@school.test", SessionName: "2025/2026"}, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockRegistrationRepo) FindActiveByKey(ctx context.Context, studentID, sessionID, semester string) (*models.Registration, error) {
	for _, reg := range m.registrations {
		if reg.StudentID == studentID && reg.SessionID == sessionID && reg.Semester == semester && reg.TotalUnits > 0 {
			return &reg, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockRegistrationRepo) PurgeEmptyByKey(ctx context.Context, studentID, sessionID, semester string) error {
	m.purgedKeys = append(m.purgedKeys, studentID+"|"+sessionID+"|"+semester)
	return nil
}

func (m *mockRegistrationRepo) DeleteEmpty(ctx context.Context) (int64, error) {
	return m.emptyDeleted, nil
}

func (m *mockRegistrationRepo) CreateWithCourses(ctx context.Context, reg *models.Registration, items []models.RegistrationCourse) error {
	if reg.ID == "" {
		reg.ID = "reg-new"
	}
	if m.registrations == nil {
		m.registrations = make(map[string]models.Registration)
	}
	m.registrations[reg.ID] = *reg
	m.created = reg
	m.createdItems = items
	return nil
}

func (m *mockRegistrationRepo) ListCourses(ctx context.Context, registrationID string) ([]models.RegistrationCourseDetail, error) {
	return m.courses[registrationID], nil
}

func (m *mockRegistrationRepo) EditCourses(ctx context.Context, registrationID string, action models.EditAction, courseIDs []string, maxUnits int) (int, error) {
	return 12, nil
}

func (m *mockRegistrationRepo) DeregisterCourse(ctx context.Context, registrationID, courseID string) (int, bool, error) {
	return m.deregRemain, m.deregDeleted, nil
}

func (m *mockRegistrationRepo) FindApprovedCourse(ctx context.Context, studentID, courseID string) (*models.RegistrationCourse, error) {
	if item, ok := m.approved[courseID]; ok {
		return &item, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockRegistrationRepo) ListSignatures(ctx context.Context, registrationID string) ([]models.RegistrationSignatureDetail, error) {
	return nil, nil
}

func (m *mockRegistrationRepo) ListApprovals(ctx context.Context, registrationID string) ([]models.RegistrationApproval, error) {
	return nil, nil
}

type mockCourseReader struct {
	courses map[string]models.Course
}

func (m *mockCourseReader) FindCoursesByIDs(ctx context.Context, ids []string) ([]models.Course, error) {
	var out []models.Course
	for _, id := range ids {
		if course, ok := m.courses[id]; ok {
			out = append(out, course)
		}
	}
	return out, nil
}

type mockSessionReader struct {
	session models.AcademicSession
}

func (m *mockSessionReader) FindByID(ctx context.Context, id string) (*models.AcademicSession, error) {
	if id != m.session.ID {
		return nil, sql.ErrNoRows
	}
	s := m.session
	return &s, nil
}

func (m *mockSessionReader) FindCurrent(ctx context.Context) (*models.AcademicSession, error) {
	s := m.session
	return &s, nil
}

type mockAuditWriter struct {
	logs []models.AuditLog
}

func (m *mockAuditWriter) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.logs = append(m.logs, *log)
	return nil
}

func openSession() models.AcademicSession {
	now := time.Now().UTC()
	return models.AcademicSession{
		ID:           "sess-1",
		Name:         "2025/2026",
		StartDate:    now.AddDate(0, -1, 0),
		EndDate:      now.AddDate(0, 11, 0),
		RegStartDate: now.AddDate(0, 0, -7),
		RegEndDate:   now.AddDate(0, 0, 7),
		IsCurrent:    true,
	}
}

func studentClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "stu-1", Role: models.RoleStudent, DepartmentID: "dept-1"}
}

func newRegistrationService(repo *mockRegistrationRepo, courses *mockCourseReader, audits *mockAuditWriter) *RegistrationService {
	return NewRegistrationService(repo, courses, &mockSessionReader{session: openSession()}, audits,
		RegistrationPolicy{MaxUnits: 24, DefaultSemester: "2", DefaultLevel: 500}, nil, validator.New(), zap.NewNop())
}

func sampleCourses() *mockCourseReader {
	return &mockCourseReader{courses: map[string]models.Course{
		"c1": {ID: "c1", Code: "CSC501", Units: 6, Active: true},
		"c2": {ID: "c2", Code: "CSC503", Units: 8, Active: true},
		"c3": {ID: "c3", Code: "CSC505", Units: 8, Active: true},
		"c4": {ID: "c4", Code: "CSC507", Units: 4, Active: true},
	}}
}

func TestRegistrationServiceSubmitWithinCap(t *testing.T) {
	repo := &mockRegistrationRepo{}
	audits := &mockAuditWriter{}
	svc := newRegistrationService(repo, sampleCourses(), audits)

	view, err := svc.Submit(context.Background(), studentClaims(), SubmitRegistrationRequest{
		Courses: []SubmitCourse{{CourseID: "c1"}, {CourseID: "c2"}, {CourseID: "c3", CarryOver: true}},
	})
	require.NoError(t, err)
	assert.Equal(t, 22, view.TotalUnits)
	assert.Equal(t, models.RegistrationStatusPending, view.Status)
	require.NotNil(t, repo.created)
	assert.Equal(t, "2", repo.created.Semester)
	assert.Equal(t, 500, repo.created.Level)
	assert.Len(t, repo.createdItems, 3)
	assert.True(t, repo.createdItems[2].IsCarryOver)
	assert.Len(t, audits.logs, 1)
	assert.Len(t, repo.purgedKeys, 1)
}

func TestRegistrationServiceSubmitOverCap(t *testing.T) {
	repo := &mockRegistrationRepo{}
	svc := newRegistrationService(repo, sampleCourses(), &mockAuditWriter{})

	_, err := svc.Submit(context.Background(), studentClaims(), SubmitRegistrationRequest{
		Courses: []SubmitCourse{{CourseID: "c1"}, {CourseID: "c2"}, {CourseID: "c3"}, {CourseID: "c4"}},
	})
	require.Error(t, err)

	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrUnitCapExceeded.Code, appErr.Code)
	assert.Contains(t, appErr.Message, "maximum units (24) exceeded. Total units would be 26")
	assert.Nil(t, repo.created)
}

func TestRegistrationServiceSubmitPendingConflict(t *testing.T) {
	repo := &mockRegistrationRepo{registrations: map[string]models.Registration{
		"reg-1": {ID: "reg-1", StudentID: "stu-1", SessionID: "sess-1", Semester: "2", Status: models.RegistrationStatusPending, TotalUnits: 12},
	}}
	svc := newRegistrationService(repo, sampleCourses(), &mockAuditWriter{})

	_, err := svc.Submit(context.Background(), studentClaims(), SubmitRegistrationRequest{
		Courses: []SubmitCourse{{CourseID: "c1"}},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAlreadyPending.Code, appErrors.FromError(err).Code)
}

func TestRegistrationServiceSubmitApprovedConflict(t *testing.T) {
	repo := &mockRegistrationRepo{registrations: map[string]models.Registration{
		"reg-1": {ID: "reg-1", StudentID: "stu-1", SessionID: "sess-1", Semester: "2", Status: models.RegistrationStatusApproved, TotalUnits: 12},
	}}
	svc := newRegistrationService(repo, sampleCourses(), &mockAuditWriter{})

	_, err := svc.Submit(context.Background(), studentClaims(), SubmitRegistrationRequest{
		Courses: []SubmitCourse{{CourseID: "c1"}},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAlreadyApproved.Code, appErrors.FromError(err).Code)
}

func TestRegistrationServiceSubmitWindowClosed(t *testing.T) {
	session := openSession()
	session.RegStartDate = time.Now().UTC().AddDate(0, 0, 3)
	session.RegEndDate = time.Now().UTC().AddDate(0, 0, 10)
	repo := &mockRegistrationRepo{}
	svc := NewRegistrationService(repo, sampleCourses(), &mockSessionReader{session: session}, &mockAuditWriter{},
		RegistrationPolicy{MaxUnits: 24, DefaultSemester: "2", DefaultLevel: 500}, nil, validator.New(), zap.NewNop())

	_, err := svc.Submit(context.Background(), studentClaims(), SubmitRegistrationRequest{
		Courses: []SubmitCourse{{CourseID: "c1"}},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestRegistrationServiceSubmitUnknownCourse(t *testing.T) {
	repo := &mockRegistrationRepo{}
	svc := newRegistrationService(repo, sampleCourses(), &mockAuditWriter{})

	_, err := svc.Submit(context.Background(), studentClaims(), SubmitRegistrationRequest{
		Courses: []SubmitCourse{{CourseID: "ghost"}},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestRegistrationServiceListScopesStudents(t *testing.T) {
	repo := &mockRegistrationRepo{registrations: map[string]models.Registration{
		"reg-1": {ID: "reg-1", StudentID: "stu-1", TotalUnits: 12},
		"reg-2": {ID: "reg-2", StudentID: "stu-2", TotalUnits: 10},
	}}
	svc := newRegistrationService(repo, sampleCourses(), &mockAuditWriter{})

	own, _, err := svc.List(context.Background(), studentClaims(), models.RegistrationFilter{})
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, "stu-1", own[0].StudentID)

	officer := &models.JWTClaims{UserID: "off-1", Role: models.RoleRegistrationOfficer}
	all, _, err := svc.List(context.Background(), officer, models.RegistrationFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRegistrationServiceGetForbiddenForOtherStudent(t *testing.T) {
	repo := &mockRegistrationRepo{registrations: map[string]models.Registration{
		"reg-2": {ID: "reg-2", StudentID: "stu-2", TotalUnits: 10},
	}}
	svc := newRegistrationService(repo, sampleCourses(), &mockAuditWriter{})

	_, err := svc.Get(context.Background(), studentClaims(), "reg-2")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestRegistrationServiceDeregisterLastCourseDeletes(t *testing.T) {
	repo := &mockRegistrationRepo{
		approved:     map[string]models.RegistrationCourse{"c1": {ID: "rc-1", RegistrationID: "reg-1", CourseID: "c1"}},
		deregRemain:  0,
		deregDeleted: true,
	}
	audits := &mockAuditWriter{}
	svc := newRegistrationService(repo, sampleCourses(), audits)

	result, err := svc.Deregister(context.Background(), studentClaims(), "c1")
	require.NoError(t, err)
	assert.True(t, result.RegistrationDeleted)
	assert.Zero(t, result.RemainingUnits)
	assert.Len(t, audits.logs, 1)
}

func TestRegistrationServiceDeregisterUnknownCourse(t *testing.T) {
	repo := &mockRegistrationRepo{}
	svc := newRegistrationService(repo, sampleCourses(), &mockAuditWriter{})

	_, err := svc.Deregister(context.Background(), studentClaims(), "c9")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestRegistrationServiceCleanupEmpty(t *testing.T) {
	repo := &mockRegistrationRepo{emptyDeleted: 4}
	svc := newRegistrationService(repo, sampleCourses(), &mockAuditWriter{})

	count, err := svc.CleanupEmpty(context.Background(), &models.JWTClaims{UserID: "off-1", Role: models.RoleRegistrationOfficer})
	require.NoError(t, err)
	assert.EqualValues(t, 4, count)
}
