package models

import "time"

// RegistrationStatus tracks the approval lifecycle of a registration.
type RegistrationStatus string

const (
	RegistrationStatusPending  RegistrationStatus = "pending"
	RegistrationStatusApproved RegistrationStatus = "approved"
	RegistrationStatusRejected RegistrationStatus = "rejected"
)

// EditAction selects how an administrative course edit is applied.
type EditAction string

const (
	EditActionReplace EditAction = "replace"
	EditActionAdd     EditAction = "add"
	EditActionRemove  EditAction = "remove"
)

// SignatureOrder fixes the sequence in which officers countersign an
// approved registration.
var SignatureOrder = []UserRole{RoleRegistrationOfficer, RoleHOD, RoleSchoolOfficer}

// SignaturePosition returns the role's index in the countersigning order, or
// -1 when the role does not sign.
func SignaturePosition(role UserRole) int {
	for i, r := range SignatureOrder {
		if r == role {
			return i
		}
	}
	return -1
}

// Registration is the ledger header: one student's course selections for a
// session and semester. TotalUnits is a cached aggregate recomputed inside
// the same transaction as any line-item mutation.
type Registration struct {
	ID           string             `db:"id" json:"id"`
	StudentID    string             `db:"student_id" json:"student_id"`
	SessionID    string             `db:"session_id" json:"session_id"`
	DepartmentID *string            `db:"department_id" json:"department_id,omitempty"`
	Level        int                `db:"level" json:"level"`
	Semester     string             `db:"semester" json:"semester"`
	Status       RegistrationStatus `db:"status" json:"status"`
	TotalUnits   int                `db:"total_units" json:"total_units"`
	Comments     *string            `db:"comments" json:"comments,omitempty"`
	SubmittedAt  time.Time          `db:"submitted_at" json:"submitted_at"`
	UpdatedAt    time.Time          `db:"updated_at" json:"updated_at"`
}

// RegistrationDetail enriches a registration with student and session info.
type RegistrationDetail struct {
	Registration
	StudentName   string  `db:"student_name" json:"student_name"`
	StudentEmail  string  `db:"student_email" json:"student_email"`
	MatricNumber  *string `db:"matric_number" json:"matric_number,omitempty"`
	SessionName   string  `db:"session_name" json:"session_name"`
	Department    *string `db:"department_name" json:"department_name,omitempty"`
	DepartmentCde *string `db:"department_code" json:"department_code,omitempty"`
}

// RegistrationCourse is one line item within a registration.
type RegistrationCourse struct {
	ID             string `db:"id" json:"id"`
	RegistrationID string `db:"registration_id" json:"registration_id"`
	CourseID       string `db:"course_id" json:"course_id"`
	IsCarryOver    bool   `db:"is_carry_over" json:"is_carry_over"`
}

// RegistrationCourseDetail joins the line item with its course fields.
type RegistrationCourseDetail struct {
	RegistrationCourse
	CourseCode  string `db:"course_code" json:"course_code"`
	CourseTitle string `db:"course_title" json:"course_title"`
	Units       int    `db:"units" json:"units"`
}

// RegistrationApproval is the audit row written when an admin approves a
// registration. Rejections write no row; that asymmetry is long-standing
// observed behavior.
type RegistrationApproval struct {
	ID             string    `db:"id" json:"id"`
	RegistrationID string    `db:"registration_id" json:"registration_id"`
	ApprovedBy     string    `db:"approved_by" json:"approved_by"`
	ApprovedAt     time.Time `db:"approved_at" json:"approved_at"`
	Comments       *string   `db:"comments" json:"comments,omitempty"`
}

// RegistrationSignature is one officer's countersignature. Name and title are
// snapshotted at signing time and never re-read from the profile.
type RegistrationSignature struct {
	ID             string    `db:"id" json:"id"`
	RegistrationID string    `db:"registration_id" json:"registration_id"`
	SignedBy       string    `db:"signed_by" json:"signed_by"`
	SignedAt       time.Time `db:"signed_at" json:"signed_at"`
	SignatureName  string    `db:"signature_name" json:"signature_name"`
	SignatureTitle string    `db:"signature_title" json:"signature_title"`
}

// RegistrationSignatureDetail joins the signature with the signer's role and
// stored signature image path.
type RegistrationSignatureDetail struct {
	RegistrationSignature
	SignerRole    UserRole `db:"signer_role" json:"signer_role"`
	SignaturePath *string  `db:"signature_path" json:"-"`
}

// RegistrationFilter provides filters for registration listings.
type RegistrationFilter struct {
	StudentID string
	SessionID string
	Status    RegistrationStatus
	Semester  string
	Page      int
	PageSize  int
}
