package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davidolu/coursereg-api/internal/models"
	appErrors "github.com/davidolu/coursereg-api/pkg/errors"
)

type mockCatalogRepo struct {
	courses     []models.Course
	departments map[string]models.Department
	prereqs     map[string][]string
	listCalls   int
}

func (m *mockCatalogRepo) ListDepartments(ctx context.Context, search string) ([]models.Department, error) {
	var out []models.Department
	for _, d := range m.departments {
		out = append(out, d)
	}
	return out, nil
}

func (m *mockCatalogRepo) FindDepartmentByID(ctx context.Context, id string) (*models.Department, error) {
	if d, ok := m.departments[id]; ok {
		return &d, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCatalogRepo) CreateDepartment(ctx context.Context, dept *models.Department) error {
	dept.ID = "dept-new"
	m.departments[dept.ID] = *dept
	return nil
}

func (m *mockCatalogRepo) UpdateDepartment(ctx context.Context, dept *models.Department) error {
	m.departments[dept.ID] = *dept
	return nil
}

func (m *mockCatalogRepo) DeleteDepartment(ctx context.Context, id string) error {
	delete(m.departments, id)
	return nil
}

func (m *mockCatalogRepo) ListCourses(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	m.listCalls++
	return m.courses, len(m.courses), nil
}

func (m *mockCatalogRepo) FindCourseByID(ctx context.Context, id string) (*models.Course, error) {
	for _, c := range m.courses {
		if c.ID == id {
			course := c
			return &course, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockCatalogRepo) CreateCourse(ctx context.Context, course *models.Course) error {
	course.ID = "course-new"
	m.courses = append(m.courses, *course)
	return nil
}

func (m *mockCatalogRepo) UpdateCourse(ctx context.Context, course *models.Course) error {
	for i, c := range m.courses {
		if c.ID == course.ID {
			m.courses[i] = *course
		}
	}
	return nil
}

func (m *mockCatalogRepo) DeleteCourse(ctx context.Context, id string) error {
	return nil
}

func (m *mockCatalogRepo) ListPrerequisites(ctx context.Context, courseID string) ([]string, error) {
	return m.prereqs[courseID], nil
}

func (m *mockCatalogRepo) ReplacePrerequisites(ctx context.Context, courseID string, prerequisiteIDs []string) error {
	if m.prereqs == nil {
		m.prereqs = make(map[string][]string)
	}
	m.prereqs[courseID] = prerequisiteIDs
	return nil
}

type mockCatalogCache struct {
	entries map[string][]byte
	deletes []string
}

func newMockCatalogCache() *mockCatalogCache {
	return &mockCatalogCache{entries: make(map[string][]byte)}
}

func (m *mockCatalogCache) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *mockCatalogCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.entries[key] = raw
	return nil
}

func (m *mockCatalogCache) DeleteByPattern(ctx context.Context, pattern string) error {
	m.deletes = append(m.deletes, pattern)
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
		}
	}
	return nil
}

func catalogFixture() *mockCatalogRepo {
	return &mockCatalogRepo{
		departments: map[string]models.Department{
			"dept-1": {ID: "dept-1", Name: "Computer Engineering", Code: "CPE"},
		},
		courses: []models.Course{
			{ID: "c1", Code: "CPE501", Title: "Control Systems", Units: 4, Level: 500, Semester: 2, DepartmentID: "dept-1", Active: true},
			{ID: "c2", Code: "CPE503", Title: "Digital Signal Processing", Units: 3, Level: 500, Semester: 2, DepartmentID: "dept-1", Active: true},
		},
	}
}

func TestCatalogServiceListCoursesCachesResult(t *testing.T) {
	repo := catalogFixture()
	cache := newMockCatalogCache()
	svc := NewCatalogService(repo, cache, time.Minute, nil, validator.New(), zap.NewNop())

	filter := models.CourseFilter{DepartmentID: "dept-1", Level: 500}

	courses, pagination, err := svc.ListCourses(context.Background(), filter)
	require.NoError(t, err)
	require.Len(t, courses, 2)
	assert.Equal(t, 2, pagination.TotalCount)
	assert.Equal(t, 1, repo.listCalls)

	// Second call is served from the cache.
	courses, _, err = svc.ListCourses(context.Background(), filter)
	require.NoError(t, err)
	require.Len(t, courses, 2)
	assert.Equal(t, 1, repo.listCalls)
}

func TestCatalogServiceMutationInvalidatesCache(t *testing.T) {
	repo := catalogFixture()
	cache := newMockCatalogCache()
	svc := NewCatalogService(repo, cache, time.Minute, nil, validator.New(), zap.NewNop())

	filter := models.CourseFilter{DepartmentID: "dept-1"}
	_, _, err := svc.ListCourses(context.Background(), filter)
	require.NoError(t, err)
	require.NotEmpty(t, cache.entries)

	_, err = svc.CreateCourse(context.Background(), CreateCourseRequest{
		Code:         "CPE505",
		Title:        "Robotics",
		Units:        3,
		Level:        500,
		Semester:     2,
		DepartmentID: "dept-1",
	})
	require.NoError(t, err)
	assert.Empty(t, cache.entries)
	require.Len(t, cache.deletes, 1)

	_, _, err = svc.ListCourses(context.Background(), filter)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.listCalls)
}

func TestCatalogServiceCreateCourseUnknownDepartment(t *testing.T) {
	repo := catalogFixture()
	svc := NewCatalogService(repo, nil, time.Minute, nil, validator.New(), zap.NewNop())

	_, err := svc.CreateCourse(context.Background(), CreateCourseRequest{
		Code:         "MEE501",
		Title:        "Thermodynamics",
		Units:        3,
		Level:        500,
		Semester:     1,
		DepartmentID: "ghost",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestCatalogServiceGetCourseWithPrerequisites(t *testing.T) {
	repo := catalogFixture()
	repo.prereqs = map[string][]string{"c1": {"c2"}}
	svc := NewCatalogService(repo, nil, time.Minute, nil, validator.New(), zap.NewNop())

	detail, err := svc.GetCourse(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c2"}, detail.Prerequisites)

	detail, err = svc.GetCourse(context.Background(), "c2")
	require.NoError(t, err)
	assert.Equal(t, []string{}, detail.Prerequisites)
}
