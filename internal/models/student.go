package models

import "time"

// Student represents a student profile linked to a user account.
type Student struct {
	ID          string    `db:"id" json:"id"`
	UserID      string    `db:"user_id" json:"user_id"`
	StudentCode string    `db:"student_code" json:"student_code"`
	FirstName   string    `db:"first_name" json:"first_name"`
	LastName    string    `db:"last_name" json:"last_name"`
	ParentEmail *string   `db:"parent_email" json:"parent_email,omitempty"`
	Course      string    `db:"course" json:"course"`
	YearLevel   string    `db:"year_level" json:"year_level"`
	Section     string    `db:"section" json:"section"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// FullName joins the student's first and last name.
func (s Student) FullName() string {
	return s.FirstName + " " + s.LastName
}

// StudentSummary is the compact student payload returned by scan responses.
type StudentSummary struct {
	ID          string `json:"id"`
	StudentCode string `json:"student_code"`
	FullName    string `json:"full_name"`
	Course      string `json:"course"`
	YearLevel   string `json:"year_level"`
	Section     string `json:"section"`
}

// Summary projects the student into its response form.
func (s Student) Summary() StudentSummary {
	return StudentSummary{
		ID:          s.ID,
		StudentCode: s.StudentCode,
		FullName:    s.FullName(),
		Course:      s.Course,
		YearLevel:   s.YearLevel,
		Section:     s.Section,
	}
}

// AttendanceHistoryRow is one row of a student's own attendance history.
type AttendanceHistoryRow struct {
	SessionID   string       `db:"session_id" json:"session_id"`
	ClassID     string       `db:"class_id" json:"class_id"`
	ClassCode   string       `db:"class_code" json:"class_code"`
	SubjectName string       `db:"subject_name" json:"subject_name"`
	Date        time.Time    `db:"date" json:"date"`
	CheckedInAt *time.Time   `db:"checked_in_at" json:"checked_in_at,omitempty"`
	Status      RecordStatus `db:"status" json:"status"`
}
