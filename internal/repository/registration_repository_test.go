package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/davidolu/coursereg-api/internal/models"
	appErrors "github.com/davidolu/coursereg-api/pkg/errors"
)

func newRegistrationRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestRegistrationRepositoryCreateWithCourses(t *testing.T) {
	db, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO registrations").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO registration_courses (id, registration_id, course_id, is_carry_over) VALUES ($1, $2, $3, $4)")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO registration_courses (id, registration_id, course_id, is_carry_over) VALUES ($1, $2, $3, $4)")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	reg := &models.Registration{StudentID: "stu-1", SessionID: "sess-1", Semester: "2", Level: 500, TotalUnits: 6}
	items := []models.RegistrationCourse{{CourseID: "course-1"}, {CourseID: "course-2", IsCarryOver: true}}

	err := repo.CreateWithCourses(context.Background(), reg, items)
	require.NoError(t, err)
	require.NotEmpty(t, reg.ID)
	require.Equal(t, models.RegistrationStatusPending, reg.Status)
	require.Equal(t, reg.ID, items[0].RegistrationID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryCreateWithCoursesConflict(t *testing.T) {
	db, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO registrations").
		WillReturnError(fakeUniqueViolation())
	mock.ExpectRollback()

	reg := &models.Registration{StudentID: "stu-1", SessionID: "sess-1", Semester: "2"}
	err := repo.CreateWithCourses(context.Background(), reg, nil)
	require.Error(t, err)

	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryEditCoursesRollsBackOverCap(t *testing.T) {
	db, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM registration_courses WHERE registration_id = $1")).
		WithArgs("reg-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO registration_courses").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(SUM(c.units), 0) FROM registration_courses rc JOIN courses c ON c.id = rc.course_id WHERE rc.registration_id = $1")).
		WithArgs("reg-1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(26))
	mock.ExpectRollback()

	_, err := repo.EditCourses(context.Background(), "reg-1", models.EditActionReplace, []string{"course-1"}, 24)
	require.Error(t, err)

	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, appErrors.ErrUnitCapExceeded.Code, appErr.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryEditCoursesDuplicateConflict(t *testing.T) {
	db, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM registration_courses WHERE registration_id = $1")).
		WithArgs("reg-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO registration_courses").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO registration_courses").
		WillReturnError(fakeUniqueViolation())
	mock.ExpectRollback()

	_, err := repo.EditCourses(context.Background(), "reg-1", models.EditActionReplace, []string{"course-1", "course-1"}, 24)
	require.Error(t, err)

	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryEditCoursesUpdatesTotal(t *testing.T) {
	db, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT course_id FROM registration_courses WHERE registration_id = $1")).
		WithArgs("reg-1").
		WillReturnRows(sqlmock.NewRows([]string{"course_id"}).AddRow("course-1"))
	mock.ExpectExec("INSERT INTO registration_courses").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("reg-1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(9))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE registrations SET total_units = $2, updated_at = $3 WHERE id = $1")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	total, err := repo.EditCourses(context.Background(), "reg-1", models.EditActionAdd, []string{"course-1", "course-2"}, 24)
	require.NoError(t, err)
	require.Equal(t, 9, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryDeregisterCourseDeletesEmpty(t *testing.T) {
	db, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM registration_courses WHERE registration_id = $1 AND course_id = $2")).
		WithArgs("reg-1", "course-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("reg-1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM registrations WHERE id = $1")).
		WithArgs("reg-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	remaining, deleted, err := repo.DeregisterCourse(context.Background(), "reg-1", "course-1")
	require.NoError(t, err)
	require.True(t, deleted)
	require.Zero(t, remaining)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryDeregisterCourseMissingLineItem(t *testing.T) {
	db, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM registration_courses").
		WithArgs("reg-1", "course-9").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, _, err := repo.DeregisterCourse(context.Background(), "reg-1", "course-9")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryDeleteEmpty(t *testing.T) {
	db, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM registrations WHERE total_units = 0")).
		WillReturnResult(sqlmock.NewResult(0, 3))

	count, err := repo.DeleteEmpty(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 3, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryCreateSignatureDuplicate(t *testing.T) {
	db, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	mock.ExpectExec("INSERT INTO registration_signatures").
		WillReturnError(fakeUniqueViolation())

	sig := &models.RegistrationSignature{RegistrationID: "reg-1", SignedBy: "officer-1", SignatureName: "A. Officer", SignatureTitle: "Registration Officer"}
	err := repo.CreateSignature(context.Background(), sig)
	require.Error(t, err)

	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, appErrors.ErrAlreadySigned.Code, appErr.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}
