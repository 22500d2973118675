package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/davidolu/coursereg-api/internal/models"
	appErrors "github.com/davidolu/coursereg-api/pkg/errors"
)

// registrationDetailColumns is shared by every detail query.
const registrationDetailColumns = `r.id, r.student_id, r.session_id, r.department_id, r.level, r.semester, r.status, r.total_units, r.comments, r.submitted_at, r.updated_at,
        u.full_name AS student_name, u.email AS student_email, u.matric_number,
        s.name AS session_name, d.name AS department_name, d.code AS department_code`

const registrationDetailJoins = `FROM registrations r
JOIN users u ON u.id = r.student_id
JOIN academic_sessions s ON s.id = r.session_id
LEFT JOIN departments d ON d.id = r.department_id`

// RegistrationRepository handles persistence of the registration ledger and
// its workflow rows.
type RegistrationRepository struct {
	db *sqlx.DB
}

// NewRegistrationRepository constructs the repository.
func NewRegistrationRepository(db *sqlx.DB) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// List returns registrations matching the filter, ordered pending first and
// newest submissions on top within each status.
func (r *RegistrationRepository) List(ctx context.Context, filter models.RegistrationFilter) ([]models.RegistrationDetail, int, error) {
	base := registrationDetailJoins
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("r.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.SessionID != "" {
		conditions = append(conditions, fmt.Sprintf("r.session_id = $%d", len(args)+1))
		args = append(args, filter.SessionID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("r.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Semester != "" {
		conditions = append(conditions, fmt.Sprintf("r.semester = $%d", len(args)+1))
		args = append(args, filter.Semester)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s
        %s ORDER BY CASE r.status WHEN 'pending' THEN 1 WHEN 'approved' THEN 2 WHEN 'rejected' THEN 3 ELSE 4 END, r.submitted_at DESC LIMIT %d OFFSET %d`,
		registrationDetailColumns, base+clause, size, offset)

	var registrations []models.RegistrationDetail
	if err := r.db.SelectContext(ctx, &registrations, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list registrations: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count registrations: %w", err)
	}
	return registrations, total, nil
}

// FindByID returns a registration header by its ID.
func (r *RegistrationRepository) FindByID(ctx context.Context, id string) (*models.Registration, error) {
	const query = `SELECT id, student_id, session_id, department_id, level, semester, status, total_units, comments, submitted_at, updated_at FROM registrations WHERE id = $1`
	var reg models.Registration
	if err := r.db.GetContext(ctx, &reg, query, id); err != nil {
		return nil, err
	}
	return &reg, nil
}

// FindDetailByID returns a registration with student and session context.
func (r *RegistrationRepository) FindDetailByID(ctx context.Context, id string) (*models.RegistrationDetail, error) {
	query := fmt.Sprintf("SELECT %s %s WHERE r.id = $1", registrationDetailColumns, registrationDetailJoins)
	var detail models.RegistrationDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// FindActiveByKey returns the registration with courses for the student,
// session and semester, ignoring zero-unit leftovers.
func (r *RegistrationRepository) FindActiveByKey(ctx context.Context, studentID, sessionID, semester string) (*models.Registration, error) {
	const query = `SELECT id, student_id, session_id, department_id, level, semester, status, total_units, comments, submitted_at, updated_at
        FROM registrations WHERE student_id = $1 AND session_id = $2 AND semester = $3 AND total_units > 0 LIMIT 1`
	var reg models.Registration
	if err := r.db.GetContext(ctx, &reg, query, studentID, sessionID, semester); err != nil {
		return nil, err
	}
	return &reg, nil
}

// PurgeEmptyByKey removes zero-unit leftovers for the key so they cannot
// block a fresh submission.
func (r *RegistrationRepository) PurgeEmptyByKey(ctx context.Context, studentID, sessionID, semester string) error {
	const query = `DELETE FROM registrations WHERE student_id = $1 AND session_id = $2 AND semester = $3 AND total_units = 0`
	if _, err := r.db.ExecContext(ctx, query, studentID, sessionID, semester); err != nil {
		return fmt.Errorf("purge empty registrations: %w", err)
	}
	return nil
}

// DeleteEmpty removes every zero-unit registration regardless of status and
// reports how many rows went away. Operator-triggered hygiene sweep.
func (r *RegistrationRepository) DeleteEmpty(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM registrations WHERE total_units = 0`)
	if err != nil {
		return 0, fmt.Errorf("delete empty registrations: %w", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted registrations: %w", err)
	}
	return count, nil
}

// CreateWithCourses persists the header and all line items in one
// transaction. A uniqueness race on the (student, session, semester) key or a
// duplicate course surfaces as a domain conflict, never a partial write.
func (r *RegistrationRepository) CreateWithCourses(ctx context.Context, reg *models.Registration, items []models.RegistrationCourse) error {
	if reg.ID == "" {
		reg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if reg.SubmittedAt.IsZero() {
		reg.SubmittedAt = now
	}
	reg.UpdatedAt = now
	if reg.Status == "" {
		reg.Status = models.RegistrationStatusPending
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create registration tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const headerQuery = `INSERT INTO registrations (id, student_id, session_id, department_id, level, semester, status, total_units, comments, submitted_at, updated_at)
        VALUES (:id, :student_id, :session_id, :department_id, :level, :semester, :status, :total_units, :comments, :submitted_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, headerQuery, reg); err != nil {
		if isUniqueViolation(err) {
			err = appErrors.Clone(appErrors.ErrConflict, "a registration already exists for this session and semester")
			return err
		}
		return fmt.Errorf("create registration: %w", err)
	}

	const itemQuery = `INSERT INTO registration_courses (id, registration_id, course_id, is_carry_over) VALUES ($1, $2, $3, $4)`
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = uuid.NewString()
		}
		items[i].RegistrationID = reg.ID
		if _, err = tx.ExecContext(ctx, itemQuery, items[i].ID, items[i].RegistrationID, items[i].CourseID, items[i].IsCarryOver); err != nil {
			if isUniqueViolation(err) {
				err = appErrors.Clone(appErrors.ErrConflict, "duplicate course in registration")
				return err
			}
			return fmt.Errorf("create registration course: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create registration tx: %w", err)
	}
	return nil
}

// ListCourses returns the line items of a registration with course fields.
func (r *RegistrationRepository) ListCourses(ctx context.Context, registrationID string) ([]models.RegistrationCourseDetail, error) {
	const query = `SELECT rc.id, rc.registration_id, rc.course_id, rc.is_carry_over,
        c.code AS course_code, c.title AS course_title, c.units
        FROM registration_courses rc
        JOIN courses c ON c.id = rc.course_id
        WHERE rc.registration_id = $1
        ORDER BY c.code`
	var items []models.RegistrationCourseDetail
	if err := r.db.SelectContext(ctx, &items, query, registrationID); err != nil {
		return nil, fmt.Errorf("list registration courses: %w", err)
	}
	return items, nil
}

// EditCourses applies an administrative line-item edit in one transaction and
// returns the recomputed unit total. When the new total exceeds maxUnits the
// whole edit is rolled back and the stored ledger is left untouched.
func (r *RegistrationRepository) EditCourses(ctx context.Context, registrationID string, action models.EditAction, courseIDs []string, maxUnits int) (int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin edit courses tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	switch action {
	case models.EditActionReplace:
		if _, err = tx.ExecContext(ctx, `DELETE FROM registration_courses WHERE registration_id = $1`, registrationID); err != nil {
			return 0, fmt.Errorf("clear registration courses: %w", err)
		}
		for _, courseID := range courseIDs {
			if _, err = tx.ExecContext(ctx, `INSERT INTO registration_courses (id, registration_id, course_id, is_carry_over) VALUES ($1, $2, $3, FALSE)`,
				uuid.NewString(), registrationID, courseID); err != nil {
				if isUniqueViolation(err) {
					err = appErrors.Clone(appErrors.ErrConflict, "duplicate course in registration")
					return 0, err
				}
				return 0, fmt.Errorf("insert registration course: %w", err)
			}
		}
	case models.EditActionAdd:
		var existing []string
		if err = tx.SelectContext(ctx, &existing, `SELECT course_id FROM registration_courses WHERE registration_id = $1`, registrationID); err != nil {
			return 0, fmt.Errorf("load existing courses: %w", err)
		}
		present := make(map[string]struct{}, len(existing))
		for _, id := range existing {
			present[id] = struct{}{}
		}
		for _, courseID := range courseIDs {
			if _, ok := present[courseID]; ok {
				continue
			}
			if _, err = tx.ExecContext(ctx, `INSERT INTO registration_courses (id, registration_id, course_id, is_carry_over) VALUES ($1, $2, $3, FALSE)`,
				uuid.NewString(), registrationID, courseID); err != nil {
				if isUniqueViolation(err) {
					err = appErrors.Clone(appErrors.ErrConflict, "duplicate course in registration")
					return 0, err
				}
				return 0, fmt.Errorf("insert registration course: %w", err)
			}
		}
	case models.EditActionRemove:
		if len(courseIDs) > 0 {
			query, qargs, buildErr := sqlx.In(`DELETE FROM registration_courses WHERE registration_id = ? AND course_id IN (?)`, registrationID, courseIDs)
			if buildErr != nil {
				err = fmt.Errorf("build remove query: %w", buildErr)
				return 0, err
			}
			if _, err = tx.ExecContext(ctx, tx.Rebind(query), qargs...); err != nil {
				return 0, fmt.Errorf("remove registration courses: %w", err)
			}
		}
	default:
		err = appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown edit action %q", action))
		return 0, err
	}

	var total int
	if err = tx.GetContext(ctx, &total, `SELECT COALESCE(SUM(c.units), 0) FROM registration_courses rc JOIN courses c ON c.id = rc.course_id WHERE rc.registration_id = $1`, registrationID); err != nil {
		return 0, fmt.Errorf("recompute unit total: %w", err)
	}

	if maxUnits > 0 && total > maxUnits {
		err = appErrors.Clone(appErrors.ErrUnitCapExceeded, fmt.Sprintf("maximum units (%d) exceeded. Total units would be %d", maxUnits, total))
		return 0, err
	}

	if _, err = tx.ExecContext(ctx, `UPDATE registrations SET total_units = $2, updated_at = $3 WHERE id = $1`, registrationID, total, time.Now().UTC()); err != nil {
		return 0, fmt.Errorf("update unit total: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit edit courses tx: %w", err)
	}
	return total, nil
}

// DeregisterCourse removes one line item, recomputes the total and deletes
// the registration outright when nothing remains. Returns the remaining unit
// total and whether the registration itself was deleted.
func (r *RegistrationRepository) DeregisterCourse(ctx context.Context, registrationID, courseID string) (int, bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("begin deregister tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM registration_courses WHERE registration_id = $1 AND course_id = $2`, registrationID, courseID)
	if err != nil {
		return 0, false, fmt.Errorf("delete registration course: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("count deleted line items: %w", err)
	}
	if affected == 0 {
		err = sql.ErrNoRows
		return 0, false, err
	}

	var total int
	if err = tx.GetContext(ctx, &total, `SELECT COALESCE(SUM(c.units), 0) FROM registration_courses rc JOIN courses c ON c.id = rc.course_id WHERE rc.registration_id = $1`, registrationID); err != nil {
		return 0, false, fmt.Errorf("recompute unit total: %w", err)
	}

	if total == 0 {
		if _, err = tx.ExecContext(ctx, `DELETE FROM registrations WHERE id = $1`, registrationID); err != nil {
			return 0, false, fmt.Errorf("delete empty registration: %w", err)
		}
		if err = tx.Commit(); err != nil {
			return 0, false, fmt.Errorf("commit deregister tx: %w", err)
		}
		return 0, true, nil
	}

	if _, err = tx.ExecContext(ctx, `UPDATE registrations SET total_units = $2, updated_at = $3 WHERE id = $1`, registrationID, total, time.Now().UTC()); err != nil {
		return 0, false, fmt.Errorf("update unit total: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("commit deregister tx: %w", err)
	}
	return total, false, nil
}

// FindApprovedCourse locates the approved registration of a student that
// contains the course, for the deregistration path.
func (r *RegistrationRepository) FindApprovedCourse(ctx context.Context, studentID, courseID string) (*models.RegistrationCourse, error) {
	const query = `SELECT rc.id, rc.registration_id, rc.course_id, rc.is_carry_over
        FROM registration_courses rc
        JOIN registrations r ON r.id = rc.registration_id
        WHERE r.student_id = $1 AND r.status = 'approved' AND rc.course_id = $2
        LIMIT 1`
	var item models.RegistrationCourse
	if err := r.db.GetContext(ctx, &item, query, studentID, courseID); err != nil {
		return nil, err
	}
	return &item, nil
}

// UpdateStatus moves the registration to a new workflow status.
func (r *RegistrationRepository) UpdateStatus(ctx context.Context, id string, status models.RegistrationStatus) error {
	const query = `UPDATE registrations SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("update registration status: %w", err)
	}
	return nil
}

// CreateApproval records an approval audit row.
func (r *RegistrationRepository) CreateApproval(ctx context.Context, approval *models.RegistrationApproval) error {
	if approval.ID == "" {
		approval.ID = uuid.NewString()
	}
	if approval.ApprovedAt.IsZero() {
		approval.ApprovedAt = time.Now().UTC()
	}
	const query = `INSERT INTO registration_approvals (id, registration_id, approved_by, approved_at, comments)
        VALUES (:id, :registration_id, :approved_by, :approved_at, :comments)`
	if _, err := r.db.NamedExecContext(ctx, query, approval); err != nil {
		return fmt.Errorf("create registration approval: %w", err)
	}
	return nil
}

// ListApprovals returns the approval audit trail for a registration.
func (r *RegistrationRepository) ListApprovals(ctx context.Context, registrationID string) ([]models.RegistrationApproval, error) {
	const query = `SELECT id, registration_id, approved_by, approved_at, comments FROM registration_approvals WHERE registration_id = $1 ORDER BY approved_at`
	var approvals []models.RegistrationApproval
	if err := r.db.SelectContext(ctx, &approvals, query, registrationID); err != nil {
		return nil, fmt.Errorf("list registration approvals: %w", err)
	}
	return approvals, nil
}

// CreateSignature appends a countersignature. The unique pair constraint on
// (registration, signer) turns a double-sign race into a domain conflict.
func (r *RegistrationRepository) CreateSignature(ctx context.Context, sig *models.RegistrationSignature) error {
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	if sig.SignedAt.IsZero() {
		sig.SignedAt = time.Now().UTC()
	}
	const query = `INSERT INTO registration_signatures (id, registration_id, signed_by, signed_at, signature_name, signature_title)
        VALUES (:id, :registration_id, :signed_by, :signed_at, :signature_name, :signature_title)`
	if _, err := r.db.NamedExecContext(ctx, query, sig); err != nil {
		if isUniqueViolation(err) {
			return appErrors.Clone(appErrors.ErrAlreadySigned, "you have already signed this registration")
		}
		return fmt.Errorf("create registration signature: %w", err)
	}
	return nil
}

// ListSignatures returns the signatures on a registration with signer role
// and stored image path, ordered by signing time.
func (r *RegistrationRepository) ListSignatures(ctx context.Context, registrationID string) ([]models.RegistrationSignatureDetail, error) {
	const query = `SELECT sg.id, sg.registration_id, sg.signed_by, sg.signed_at, sg.signature_name, sg.signature_title,
        u.role AS signer_role, u.signature_path
        FROM registration_signatures sg
        JOIN users u ON u.id = sg.signed_by
        WHERE sg.registration_id = $1
        ORDER BY sg.signed_at`
	var signatures []models.RegistrationSignatureDetail
	if err := r.db.SelectContext(ctx, &signatures, query, registrationID); err != nil {
		return nil, fmt.Errorf("list registration signatures: %w", err)
	}
	return signatures, nil
}
