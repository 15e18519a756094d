package models

import "time"

// Class represents a class a teacher runs attendance sessions for.
type Class struct {
	ID          string    `db:"id" json:"id"`
	TeacherID   string    `db:"teacher_id" json:"teacher_id"`
	ClassCode   string    `db:"class_code" json:"class_code"`
	ClassName   *string   `db:"class_name" json:"class_name,omitempty"`
	SubjectName string    `db:"subject_name" json:"subject_name"`
	Schedule    string    `db:"schedule" json:"schedule"`
	Room        *string   `db:"room" json:"room,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// DisplayName returns the class name, falling back to "code - subject".
func (c Class) DisplayName() string {
	if c.ClassName != nil && *c.ClassName != "" {
		return *c.ClassName
	}
	return c.ClassCode + " - " + c.SubjectName
}

// ClassFilter defines filter criteria for listing classes.
type ClassFilter struct {
	TeacherID string
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// CreateClassRequest is the payload for creating a class.
type CreateClassRequest struct {
	ClassCode   string  `json:"class_code" validate:"required"`
	ClassName   *string `json:"class_name,omitempty"`
	SubjectName string  `json:"subject_name" validate:"required"`
	Schedule    string  `json:"schedule" validate:"required"`
	Room        *string `json:"room,omitempty"`
}

// UpdateClassRequest is the payload for updating a class.
type UpdateClassRequest struct {
	ClassCode   *string `json:"class_code,omitempty"`
	ClassName   *string `json:"class_name,omitempty"`
	SubjectName *string `json:"subject_name,omitempty"`
	Schedule    *string `json:"schedule,omitempty"`
	Room        *string `json:"room,omitempty"`
}

// ClassRosterRow is an enrolled student with its enrollment date.
type ClassRosterRow struct {
	StudentID   string    `db:"student_id" json:"student_id"`
	StudentCode string    `db:"student_code" json:"student_code"`
	FirstName   string    `db:"first_name" json:"first_name"`
	LastName    string    `db:"last_name" json:"last_name"`
	Course      string    `db:"course" json:"course"`
	YearLevel   string    `db:"year_level" json:"year_level"`
	Section     string    `db:"section" json:"section"`
	EnrolledAt  time.Time `db:"enrolled_at" json:"enrolled_at"`
}

// ClassSummary is the compact class payload returned by scan responses.
type ClassSummary struct {
	ID          string `json:"id"`
	ClassCode   string `json:"class_code"`
	SubjectName string `json:"subject_name"`
	DisplayName string `json:"display_name"`
}

// Summary projects the class into its response form.
func (c Class) Summary() ClassSummary {
	return ClassSummary{
		ID:          c.ID,
		ClassCode:   c.ClassCode,
		SubjectName: c.SubjectName,
		DisplayName: c.DisplayName(),
	}
}
