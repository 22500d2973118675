package models

import "time"

// UserRole represents the closed set of portal roles.
type UserRole string

const (
	RoleStudent             UserRole = "STUDENT"
	RoleRegistrationOfficer UserRole = "REGISTRATION_OFFICER"
	RoleHOD                 UserRole = "HOD"
	RoleSchoolOfficer       UserRole = "SCHOOL_OFFICER"
)

// User represents an application user stored in the users table.
type User struct {
	ID            string     `db:"id" json:"id"`
	Email         string     `db:"email" json:"email"`
	PasswordHash  string     `db:"password_hash" json:"-"`
	FullName      string     `db:"full_name" json:"full_name"`
	Role          UserRole   `db:"role" json:"role"`
	Staff         bool       `db:"staff" json:"staff"`
	MatricNumber  *string    `db:"matric_number" json:"matric_number,omitempty"`
	DepartmentID  *string    `db:"department_id" json:"department_id,omitempty"`
	Level         *int       `db:"level" json:"level,omitempty"`
	Phone         *string    `db:"phone" json:"phone,omitempty"`
	SignaturePath *string    `db:"signature_path" json:"signature_path,omitempty"`
	Active        bool       `db:"active" json:"active"`
	LastLogin     *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// SignatureTitle returns the display title snapshotted onto countersignatures.
func (u *User) SignatureTitle() string {
	switch u.Role {
	case RoleRegistrationOfficer:
		return "Registration Officer"
	case RoleHOD:
		return "Head of Department"
	case RoleSchoolOfficer:
		return "School Officer"
	default:
		return "Administrator"
	}
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role      *UserRole
	Active    *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
