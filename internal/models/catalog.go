package models

import "time"

// Department is an academic department owning courses and students.
type Department struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Code        string    `db:"code" json:"code"`
	Description string    `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Course is a catalog entry students register for.
type Course struct {
	ID           string    `db:"id" json:"id"`
	Code         string    `db:"code" json:"code"`
	Title        string    `db:"title" json:"title"`
	Description  string    `db:"description" json:"description,omitempty"`
	Units        int       `db:"units" json:"units"`
	Level        int       `db:"level" json:"level"`
	Semester     int       `db:"semester" json:"semester"`
	DepartmentID string    `db:"department_id" json:"department_id"`
	Active       bool      `db:"active" json:"active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// CourseDetail enriches Course with its prerequisite course IDs.
type CourseDetail struct {
	Course
	Prerequisites []string `json:"prerequisites"`
}

// CourseFilter provides filters for catalog listings.
type CourseFilter struct {
	DepartmentID string
	Level        int
	Semester     int
	Active       *bool
	Search       string
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}

// AcademicSession is a school year window registrations belong to. At most
// one session carries the current flag at a time.
type AcademicSession struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	StartDate    time.Time `db:"start_date" json:"start_date"`
	EndDate      time.Time `db:"end_date" json:"end_date"`
	RegStartDate time.Time `db:"reg_start_date" json:"reg_start_date"`
	RegEndDate   time.Time `db:"reg_end_date" json:"reg_end_date"`
	IsCurrent    bool      `db:"is_current" json:"is_current"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}
