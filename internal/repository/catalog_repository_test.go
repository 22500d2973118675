package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/davidolu/coursereg-api/internal/models"
	appErrors "github.com/davidolu/coursereg-api/pkg/errors"
)

func newCatalogRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestCatalogRepositoryListCoursesWithFilters(t *testing.T) {
	db, mock, cleanup := newCatalogRepoMock(t)
	defer cleanup()
	repo := NewCatalogRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "code", "title", "description", "units", "level", "semester", "department_id", "active", "created_at", "updated_at"}).
		AddRow("course-1", "CSC501", "Advanced Algorithms", "", 3, 500, 2, "dept-1", true, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("department_id = $1")).
		WithArgs("dept-1", 500).
		WillReturnRows(rows)
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("dept-1", 500).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	courses, total, err := repo.ListCourses(context.Background(), models.CourseFilter{DepartmentID: "dept-1", Level: 500})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, courses, 1)
	require.Equal(t, "CSC501", courses[0].Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogRepositoryCreateCourseDuplicateCode(t *testing.T) {
	db, mock, cleanup := newCatalogRepoMock(t)
	defer cleanup()
	repo := NewCatalogRepository(db)

	mock.ExpectExec("INSERT INTO courses").
		WillReturnError(fakeUniqueViolation())

	err := repo.CreateCourse(context.Background(), &models.Course{Code: "CSC501", Title: "Advanced Algorithms", Units: 3, Level: 500, Semester: 2, DepartmentID: "dept-1"})
	require.Error(t, err)

	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogRepositoryReplacePrerequisites(t *testing.T) {
	db, mock, cleanup := newCatalogRepoMock(t)
	defer cleanup()
	repo := NewCatalogRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM course_prerequisites WHERE course_id = $1")).
		WithArgs("course-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO course_prerequisites").
		WithArgs("course-1", "course-0").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.ReplacePrerequisites(context.Background(), "course-1", []string{"course-0"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
