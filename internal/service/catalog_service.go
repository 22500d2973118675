package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/davidolu/coursereg-api/internal/models"
	appErrors "github.com/davidolu/coursereg-api/pkg/errors"
)

type catalogRepository interface {
	ListDepartments(ctx context.Context, search string) ([]models.Department, error)
	FindDepartmentByID(ctx context.Context, id string) (*models.Department, error)
	CreateDepartment(ctx context.Context, dept *models.Department) error
	UpdateDepartment(ctx context.Context, dept *models.Department) error
	DeleteDepartment(ctx context.Context, id string) error
	ListCourses(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error)
	FindCourseByID(ctx context.Context, id string) (*models.Course, error)
	CreateCourse(ctx context.Context, course *models.Course) error
	UpdateCourse(ctx context.Context, course *models.Course) error
	DeleteCourse(ctx context.Context, id string) error
	ListPrerequisites(ctx context.Context, courseID string) ([]string, error)
	ReplacePrerequisites(ctx context.Context, courseID string, prerequisiteIDs []string) error
}

type catalogCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

const courseCachePrefix = "catalog:courses:"

type cachedCourseList struct {
	Courses []models.Course `json:"courses"`
	Total   int             `json:"total"`
}

// CreateDepartmentRequest holds a new department.
type CreateDepartmentRequest struct {
	Name        string `json:"name" validate:"required"`
	Code        string `json:"code" validate:"required,uppercase"`
	Description string `json:"description"`
}

// CreateCourseRequest holds a new catalog course.
type CreateCourseRequest struct {
	Code          string   `json:"code" validate:"required"`
	Title         string   `json:"title" validate:"required"`
	Description   string   `json:"description"`
	Units         int      `json:"units" validate:"required,min=1,max=12"`
	Level         int      `json:"level" validate:"required,min=100,max=900"`
	Semester      int      `json:"semester" validate:"required,min=1,max=2"`
	DepartmentID  string   `json:"department_id" validate:"required"`
	Active        *bool    `json:"active,omitempty"`
	Prerequisites []string `json:"prerequisites,omitempty"`
}

// UpdateCourseRequest modifies a catalog course.
type UpdateCourseRequest struct {
	Code          string   `json:"code" validate:"required"`
	Title         string   `json:"title" validate:"required"`
	Description   string   `json:"description"`
	Units         int      `json:"units" validate:"required,min=1,max=12"`
	Level         int      `json:"level" validate:"required,min=100,max=900"`
	Semester      int      `json:"semester" validate:"required,min=1,max=2"`
	DepartmentID  string   `json:"department_id" validate:"required"`
	Active        *bool    `json:"active,omitempty"`
	Prerequisites []string `json:"prerequisites,omitempty"`
}

// CatalogService manages departments and the course catalog with a Redis
// read cache in front of course listings.
type CatalogService struct {
	repo      catalogRepository
	cache     catalogCache
	cacheTTL  time.Duration
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCatalogService constructs a CatalogService.
func NewCatalogService(repo catalogRepository, cache catalogCache, cacheTTL time.Duration, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	return &CatalogService{repo: repo, cache: cache, cacheTTL: cacheTTL, metrics: metrics, validator: validate, logger: logger}
}

// ListDepartments returns all departments.
func (s *CatalogService) ListDepartments(ctx context.Context, search string) ([]models.Department, error) {
	departments, err := s.repo.ListDepartments(ctx, search)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list departments")
	}
	return departments, nil
}

// CreateDepartment adds a department.
func (s *CatalogService) CreateDepartment(ctx context.Context, req CreateDepartmentRequest) (*models.Department, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid department payload")
	}
	dept := &models.Department{Name: req.Name, Code: req.Code, Description: req.Description}
	if err := s.repo.CreateDepartment(ctx, dept); err != nil {
		return nil, err
	}
	return dept, nil
}

// UpdateDepartment modifies a department.
func (s *CatalogService) UpdateDepartment(ctx context.Context, id string, req CreateDepartmentRequest) (*models.Department, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid department payload")
	}
	dept, err := s.repo.FindDepartmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "department not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load department")
	}
	dept.Name = req.Name
	dept.Code = req.Code
	dept.Description = req.Description
	if err := s.repo.UpdateDepartment(ctx, dept); err != nil {
		return nil, err
	}
	return dept, nil
}

// DeleteDepartment removes a department.
func (s *CatalogService) DeleteDepartment(ctx context.Context, id string) error {
	if _, err := s.repo.FindDepartmentByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "department not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load department")
	}
	if err := s.repo.DeleteDepartment(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete department")
	}
	return nil
}

// ListCourses returns courses matching the filter, served from the cache when
// possible.
func (s *CatalogService) ListCourses(ctx context.Context, filter models.CourseFilter) ([]models.Course, *models.Pagination, error) {
	key := s.courseCacheKey(filter)

	if s.cache != nil {
		start := time.Now()
		var cached cachedCourseList
		err := s.cache.Get(ctx, key, &cached)
		if s.metrics != nil {
			s.metrics.RecordCacheOperation(err == nil, time.Since(start))
		}
		if err == nil {
			return cached.Courses, s.coursePagination(filter, cached.Total), nil
		}
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("course cache read failed", zap.Error(err))
		}
	}

	courses, total, err := s.repo.ListCourses(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}

	if s.cache != nil {
		start := time.Now()
		if err := s.cache.Set(ctx, key, cachedCourseList{Courses: courses, Total: total}, s.cacheTTL); err != nil {
			s.logger.Warn("course cache write failed", zap.Error(err))
		} else if s.metrics != nil {
			s.metrics.ObserveCacheWrite(time.Since(start))
		}
	}

	return courses, s.coursePagination(filter, total), nil
}

// GetCourse returns a course with its prerequisite IDs.
func (s *CatalogService) GetCourse(ctx context.Context, id string) (*models.CourseDetail, error) {
	course, err := s.repo.FindCourseByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	prereqs, err := s.repo.ListPrerequisites(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load prerequisites")
	}
	if prereqs == nil {
		prereqs = []string{}
	}
	return &models.CourseDetail{Course: *course, Prerequisites: prereqs}, nil
}

// CreateCourse adds a course and invalidates cached listings.
func (s *CatalogService) CreateCourse(ctx context.Context, req CreateCourseRequest) (*models.CourseDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	if _, err := s.repo.FindDepartmentByID(ctx, req.DepartmentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "department not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load department")
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	course := &models.Course{
		Code:         req.Code,
		Title:        req.Title,
		Description:  req.Description,
		Units:        req.Units,
		Level:        req.Level,
		Semester:     req.Semester,
		DepartmentID: req.DepartmentID,
		Active:       active,
	}
	if err := s.repo.CreateCourse(ctx, course); err != nil {
		return nil, err
	}
	if len(req.Prerequisites) > 0 {
		if err := s.repo.ReplacePrerequisites(ctx, course.ID, req.Prerequisites); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store prerequisites")
		}
	}
	s.invalidateCourseCache(ctx)
	return &models.CourseDetail{Course: *course, Prerequisites: req.Prerequisites}, nil
}

// UpdateCourse modifies a course and invalidates cached listings.
func (s *CatalogService) UpdateCourse(ctx context.Context, id string, req UpdateCourseRequest) (*models.CourseDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	course, err := s.repo.FindCourseByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	course.Code = req.Code
	course.Title = req.Title
	course.Description = req.Description
	course.Units = req.Units
	course.Level = req.Level
	course.Semester = req.Semester
	course.DepartmentID = req.DepartmentID
	if req.Active != nil {
		course.Active = *req.Active
	}

	if err := s.repo.UpdateCourse(ctx, course); err != nil {
		return nil, err
	}
	if req.Prerequisites != nil {
		if err := s.repo.ReplacePrerequisites(ctx, course.ID, req.Prerequisites); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store prerequisites")
		}
	}
	s.invalidateCourseCache(ctx)

	prereqs, err := s.repo.ListPrerequisites(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load prerequisites")
	}
	return &models.CourseDetail{Course: *course, Prerequisites: prereqs}, nil
}

// DeleteCourse removes a course and invalidates cached listings.
func (s *CatalogService) DeleteCourse(ctx context.Context, id string) error {
	if _, err := s.repo.FindCourseByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if err := s.repo.DeleteCourse(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete course")
	}
	s.invalidateCourseCache(ctx)
	return nil
}

func (s *CatalogService) courseCacheKey(filter models.CourseFilter) string {
	active := "any"
	if filter.Active != nil {
		active = fmt.Sprintf("%t", *filter.Active)
	}
	return fmt.Sprintf("%sdept=%s:level=%d:sem=%d:active=%s:q=%s:page=%d:size=%d:sort=%s:%s",
		courseCachePrefix, filter.DepartmentID, filter.Level, filter.Semester, active, filter.Search, filter.Page, filter.PageSize, filter.SortBy, filter.SortOrder)
}

func (s *CatalogService) coursePagination(filter models.CourseFilter, total int) *models.Pagination {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 50
	}
	return &models.Pagination{Page: page, PageSize: size, TotalCount: total}
}

func (s *CatalogService) invalidateCourseCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, courseCachePrefix+"*"); err != nil {
		s.logger.Warn("course cache invalidation failed", zap.Error(err))
	}
}
