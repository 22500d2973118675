package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davidolu/coursereg-api/internal/models"
	appErrors "github.com/davidolu/coursereg-api/pkg/errors"
)

type mockFormRepo struct {
	registration *models.Registration
	detail       *models.RegistrationDetail
	details      []models.RegistrationDetail
	courses      []models.RegistrationCourseDetail
	signatures   []models.RegistrationSignatureDetail
}

func (m *mockFormRepo) FindByID(ctx context.Context, id string) (*models.Registration, error) {
	if m.registration == nil || m.registration.ID != id {
		return nil, sql.ErrNoRows
	}
	return m.registration, nil
}

func (m *mockFormRepo) FindDetailByID(ctx context.Context, id string) (*models.RegistrationDetail, error) {
	return m.detail, nil
}

func (m *mockFormRepo) List(ctx context.Context, filter models.RegistrationFilter) ([]models.RegistrationDetail, int, error) {
	return m.details, len(m.details), nil
}

func (m *mockFormRepo) ListCourses(ctx context.Context, registrationID string) ([]models.RegistrationCourseDetail, error) {
	return m.courses, nil
}

func (m *mockFormRepo) ListSignatures(ctx context.Context, registrationID string) ([]models.RegistrationSignatureDetail, error) {
	return m.signatures, nil
}

func formFixture() *mockFormRepo {
	matric := "CPE/2021/014"
	department := "Computer Engineering"
	imagePath := "ro-1.png"
	signedAt := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	detail := models.RegistrationDetail{
		Registration: models.Registration{
			ID:          "reg-1",
			StudentID:   "user-1",
			SessionID:   "sess-1",
			Level:       500,
			Semester:    "2",
			Status:      models.RegistrationStatusApproved,
			TotalUnits:  7,
			SubmittedAt: signedAt.Add(-48 * time.Hour),
		},
		StudentName:  "Ada Obi",
		MatricNumber: &matric,
		SessionName:  "2025/2026",
		Department:   &department,
	}
	return &mockFormRepo{
		registration: &detail.Registration,
		detail:       &detail,
		details:      []models.RegistrationDetail{detail},
		courses: []models.RegistrationCourseDetail{
			{RegistrationCourse: models.RegistrationCourse{ID: "rc-1", CourseID: "c1"}, CourseCode: "CPE501", CourseTitle: "Control Systems", Units: 4},
			{RegistrationCourse: models.RegistrationCourse{ID: "rc-2", CourseID: "c2", IsCarryOver: true}, CourseCode: "CPE503", CourseTitle: "Digital Signal Processing", Units: 3},
		},
		signatures: []models.RegistrationSignatureDetail{
			{
				RegistrationSignature: models.RegistrationSignature{
					ID:             "sig-1",
					RegistrationID: "reg-1",
					SignedBy:       "ro-1",
					SignedAt:       signedAt,
					SignatureName:  "B. Adewale",
					SignatureTitle: "Registration Officer",
				},
				SignerRole:    models.RoleRegistrationOfficer,
				SignaturePath: &imagePath,
			},
		},
	}
}

func TestFormServiceFormForOwner(t *testing.T) {
	repo := formFixture()
	svc := NewFormService(repo, nil, mockURLSigner{}, "Federal University of Technology", zap.NewNop())

	view, err := svc.Form(context.Background(), &models.JWTClaims{UserID: "user-1", Role: models.RoleStudent}, "reg-1")
	require.NoError(t, err)
	assert.Equal(t, "Federal University of Technology", view.SchoolName)
	assert.Equal(t, "Ada Obi", view.StudentName)
	assert.Equal(t, "CPE/2021/014", view.MatricNumber)
	assert.Equal(t, 7, view.TotalUnits)
	require.Len(t, view.Courses, 2)
	assert.True(t, view.Courses[1].CarryOver)
	require.Len(t, view.Signatures, 1)
	assert.Equal(t, "Registration Officer", view.Signatures[0].Title)
	assert.True(t, strings.HasPrefix(view.Signatures[0].ImageURL, "/api/v1/signatures/download?token="))
}

func TestFormServiceFormForbiddenForOtherStudent(t *testing.T) {
	repo := formFixture()
	svc := NewFormService(repo, nil, mockURLSigner{}, "Federal University of Technology", zap.NewNop())

	_, err := svc.Form(context.Background(), &models.JWTClaims{UserID: "user-2", Role: models.RoleStudent}, "reg-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestFormServiceFormUnknownRegistration(t *testing.T) {
	repo := formFixture()
	svc := NewFormService(repo, nil, mockURLSigner{}, "Federal University of Technology", zap.NewNop())

	_, err := svc.Form(context.Background(), &models.JWTClaims{UserID: "user-1", Role: models.RoleStudent}, "ghost")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestFormServiceRenderFormPDF(t *testing.T) {
	repo := formFixture()
	svc := NewFormService(repo, nil, nil, "Federal University of Technology", zap.NewNop())

	pdfBytes, filename, err := svc.RenderFormPDF(context.Background(), &models.JWTClaims{UserID: "ro-1", Role: models.RoleRegistrationOfficer}, "reg-1")
	require.NoError(t, err)
	assert.Equal(t, "course-registration-reg-1.pdf", filename)
	assert.True(t, len(pdfBytes) > 0)
	assert.Equal(t, "%PDF", string(pdfBytes[:4]))
}

func TestFormServiceExportCSV(t *testing.T) {
	repo := formFixture()
	svc := NewFormService(repo, nil, nil, "Federal University of Technology", zap.NewNop())

	csvBytes, filename, err := svc.ExportCSV(context.Background(), models.RegistrationFilter{})
	require.NoError(t, err)
	assert.Equal(t, "registrations.csv", filename)

	lines := strings.Split(strings.TrimSpace(string(csvBytes)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "Matric Number")
	assert.Contains(t, lines[1], "Ada Obi")
	assert.Contains(t, lines[1], "approved")
}
