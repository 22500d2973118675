package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/davidolu/coursereg-api/internal/models"
	appErrors "github.com/davidolu/coursereg-api/pkg/errors"
	"github.com/davidolu/coursereg-api/pkg/export"
)

type formRepository interface {
	FindByID(ctx context.Context, id string) (*models.Registration, error)
	FindDetailByID(ctx context.Context, id string) (*models.RegistrationDetail, error)
	List(ctx context.Context, filter models.RegistrationFilter) ([]models.RegistrationDetail, int, error)
	ListCourses(ctx context.Context, registrationID string) ([]models.RegistrationCourseDetail, error)
	ListSignatures(ctx context.Context, registrationID string) ([]models.RegistrationSignatureDetail, error)
}

type signatureImageReader interface {
	Read(relPath string) ([]byte, error)
}

// FormService assembles the printable course registration form and tabular
// exports for the registration office.
type FormService struct {
	repo       formRepository
	images     signatureImageReader
	signer     urlSigner
	pdf        *export.FormPDFRenderer
	csv        *export.CSVExporter
	schoolName string
	logger     *zap.Logger
}

// NewFormService constructs a FormService.
func NewFormService(repo formRepository, images signatureImageReader, signer urlSigner, schoolName string, logger *zap.Logger) *FormService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FormService{
		repo:       repo,
		images:     images,
		signer:     signer,
		pdf:        export.NewFormPDFRenderer(),
		csv:        export.NewCSVExporter(),
		schoolName: schoolName,
		logger:     logger,
	}
}

// RegistrationFormView is the JSON shape of the course registration form.
type RegistrationFormView struct {
	SchoolName   string              `json:"school_name"`
	StudentName  string              `json:"student_name"`
	MatricNumber string              `json:"matric_number,omitempty"`
	Department   string              `json:"department,omitempty"`
	Level        int                 `json:"level"`
	Session      string              `json:"session"`
	Semester     string              `json:"semester"`
	Status       string              `json:"status"`
	TotalUnits   int                 `json:"total_units"`
	Courses      []FormCourseView    `json:"courses"`
	Signatures   []FormSignatureView `json:"signatures"`
}

// FormCourseView is one line item on the form.
type FormCourseView struct {
	Code      string `json:"code"`
	Title     string `json:"title"`
	Units     int    `json:"units"`
	CarryOver bool   `json:"carry_over"`
}

// FormSignatureView is one countersignature block on the form. ImageURL is a
// time-limited signed download link for the signer's signature image.
type FormSignatureView struct {
	Name     string `json:"name"`
	Title    string `json:"title"`
	Role     string `json:"role"`
	SignedAt string `json:"signed_at"`
	ImageURL string `json:"image_url,omitempty"`
}

func (s *FormService) collect(ctx context.Context, claims *models.JWTClaims, registrationID string) (*models.RegistrationDetail, []models.RegistrationCourseDetail, []models.RegistrationSignatureDetail, error) {
	reg, err := s.repo.FindByID(ctx, registrationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return nil, nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}
	if !models.CanAccessRegistration(claims, reg.StudentID) {
		return nil, nil, nil, appErrors.Clone(appErrors.ErrForbidden, "you cannot view this registration")
	}

	detail, err := s.repo.FindDetailByID(ctx, registrationID)
	if err != nil {
		return nil, nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration detail")
	}
	courses, err := s.repo.ListCourses(ctx, registrationID)
	if err != nil {
		return nil, nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration courses")
	}
	signatures, err := s.repo.ListSignatures(ctx, registrationID)
	if err != nil {
		return nil, nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load signatures")
	}
	return detail, courses, signatures, nil
}

// Form assembles the registration form as JSON, with signed download links
// for the signature images.
func (s *FormService) Form(ctx context.Context, claims *models.JWTClaims, registrationID string) (*RegistrationFormView, error) {
	detail, courses, signatures, err := s.collect(ctx, claims, registrationID)
	if err != nil {
		return nil, err
	}

	view := &RegistrationFormView{
		SchoolName:  s.schoolName,
		StudentName: detail.StudentName,
		Level:       detail.Level,
		Session:     detail.SessionName,
		Semester:    detail.Semester,
		Status:      string(detail.Status),
		TotalUnits:  detail.TotalUnits,
		Courses:     []FormCourseView{},
		Signatures:  []FormSignatureView{},
	}
	if detail.MatricNumber != nil {
		view.MatricNumber = *detail.MatricNumber
	}
	if detail.Department != nil {
		view.Department = *detail.Department
	}

	for _, course := range courses {
		view.Courses = append(view.Courses, FormCourseView{
			Code:      course.CourseCode,
			Title:     course.CourseTitle,
			Units:     course.Units,
			CarryOver: course.IsCarryOver,
		})
	}

	for _, sig := range signatures {
		block := FormSignatureView{
			Name:     sig.SignatureName,
			Title:    sig.SignatureTitle,
			Role:     string(sig.SignerRole),
			SignedAt: sig.SignedAt.Format("02 Jan 2006"),
		}
		if s.signer != nil && sig.SignaturePath != nil && *sig.SignaturePath != "" {
			token, _, err := s.signer.Generate(sig.SignedBy, *sig.SignaturePath)
			if err != nil {
				s.logger.Warn("failed to sign image download url", zap.Error(err))
			} else {
				block.ImageURL = "/api/v1/signatures/download?token=" + token
			}
		}
		view.Signatures = append(view.Signatures, block)
	}

	return view, nil
}

// BuildForm collects everything the printable form shows, enforcing the
// self-or-admin rule.
func (s *FormService) BuildForm(ctx context.Context, claims *models.JWTClaims, registrationID string) (*export.FormData, error) {
	detail, courses, signatures, err := s.collect(ctx, claims, registrationID)
	if err != nil {
		return nil, err
	}

	data := &export.FormData{
		SchoolName:  s.schoolName,
		StudentName: detail.StudentName,
		Level:       detail.Level,
		Session:     detail.SessionName,
		Semester:    detail.Semester,
		Status:      string(detail.Status),
		TotalUnits:  detail.TotalUnits,
	}
	if detail.MatricNumber != nil {
		data.MatricNumber = *detail.MatricNumber
	}
	if detail.Department != nil {
		data.Department = *detail.Department
	}

	for _, course := range courses {
		data.Courses = append(data.Courses, export.FormCourse{
			Code:      course.CourseCode,
			Title:     course.CourseTitle,
			Units:     course.Units,
			CarryOver: course.IsCarryOver,
		})
	}

	for _, sig := range signatures {
		block := export.FormSignature{
			Name:     sig.SignatureName,
			Title:    sig.SignatureTitle,
			SignedAt: sig.SignedAt.Format("02 Jan 2006"),
		}
		if s.images != nil && sig.SignaturePath != nil && *sig.SignaturePath != "" {
			image, err := s.images.Read(*sig.SignaturePath)
			if err != nil {
				s.logger.Warn("signature image unreadable, rendering without it", zap.Error(err))
			} else {
				block.Image = image
				block.ImageExt = filepath.Ext(*sig.SignaturePath)
			}
		}
		data.Signatures = append(data.Signatures, block)
	}

	return data, nil
}

// RenderFormPDF renders the printable form as PDF bytes.
func (s *FormService) RenderFormPDF(ctx context.Context, claims *models.JWTClaims, registrationID string) ([]byte, string, error) {
	data, err := s.BuildForm(ctx, claims, registrationID)
	if err != nil {
		return nil, "", err
	}
	pdfBytes, err := s.pdf.Render(*data)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render registration form")
	}
	filename := fmt.Sprintf("course-registration-%s.pdf", registrationID)
	return pdfBytes, filename, nil
}

// ExportCSV renders every registration matching the filter as CSV for the
// registration office.
func (s *FormService) ExportCSV(ctx context.Context, filter models.RegistrationFilter) ([]byte, string, error) {
	filter.Page = 1
	filter.PageSize = 100

	table := export.Table{
		Columns: []string{"Student", "Matric Number", "Department", "Session", "Semester", "Level", "Status", "Total Units", "Submitted At"},
	}

	for {
		registrations, total, err := s.repo.List(ctx, filter)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list registrations")
		}
		for _, reg := range registrations {
			matric := ""
			if reg.MatricNumber != nil {
				matric = *reg.MatricNumber
			}
			department := ""
			if reg.Department != nil {
				department = *reg.Department
			}
			table.Rows = append(table.Rows, []string{
				reg.StudentName,
				matric,
				department,
				reg.SessionName,
				reg.Semester,
				strconv.Itoa(reg.Level),
				string(reg.Status),
				strconv.Itoa(reg.TotalUnits),
				reg.SubmittedAt.Format("2006-01-02 15:04"),
			})
		}
		if len(table.Rows) >= total || len(registrations) == 0 {
			break
		}
		filter.Page++
	}

	csvBytes, err := s.csv.Render(table)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	return csvBytes, "registrations.csv", nil
}
