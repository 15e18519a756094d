package models

import "time"

// RecordStatus classifies an attendance record.
type RecordStatus string

const (
	RecordStatusPresent RecordStatus = "present"
	RecordStatusLate    RecordStatus = "late"
	RecordStatusAbsent  RecordStatus = "absent"
)

// Valid returns true when the status is a supported value.
func (s RecordStatus) Valid() bool {
	switch s {
	case RecordStatusPresent, RecordStatusLate, RecordStatusAbsent:
		return true
	default:
		return false
	}
}

// AttendanceRecord is one student's record within a session. At most one
// record exists per (session, student) pair and the first write wins.
type AttendanceRecord struct {
	ID          string       `db:"id" json:"id"`
	SessionID   string       `db:"session_id" json:"session_id"`
	StudentID   string       `db:"student_id" json:"student_id"`
	CheckedInAt *time.Time   `db:"checked_in_at" json:"checked_in_at,omitempty"`
	Status      RecordStatus `db:"status" json:"status"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at" json:"updated_at"`
}

// ScanResult is the check-in response payload.
type ScanResult struct {
	Success        bool              `json:"success"`
	AlreadyScanned bool              `json:"already_scanned"`
	Status         RecordStatus      `json:"status"`
	Message        string            `json:"message"`
	CheckedInAt    string            `json:"checked_in_at,omitempty"`
	Class          *ClassSummary     `json:"class,omitempty"`
	Record         *AttendanceRecord `json:"record,omitempty"`
	Student        *StudentSummary   `json:"student,omitempty"`
}

// LiveAttendanceRow is one roster entry in the live session view.
type LiveAttendanceRow struct {
	StudentID    string       `db:"student_id" json:"student_id"`
	StudentCode  string       `db:"student_code" json:"student_code"`
	StudentName  string       `db:"student_name" json:"student_name"`
	HasCheckedIn bool         `db:"has_checked_in" json:"has_checked_in"`
	CheckedInAt  *time.Time   `db:"checked_in_at" json:"-"`
	CheckedIn    string       `json:"checked_in_at,omitempty"`
	Status       RecordStatus `db:"status" json:"status"`
}

// LiveAttendanceStats summarises a live session.
type LiveAttendanceStats struct {
	Total   int `json:"total"`
	Present int `json:"present"`
	Late    int `json:"late"`
	Absent  int `json:"absent"`
}

// LiveAttendance bundles the live view of a session.
type LiveAttendance struct {
	Session *AttendanceSession  `json:"session"`
	Records []LiveAttendanceRow `json:"records"`
	Stats   LiveAttendanceStats `json:"stats"`
}

// AttendanceReportRow is one row of the teacher-facing attendance report.
// Date falls back to the session's start date when the student never
// checked in.
type AttendanceReportRow struct {
	StudentName string       `db:"student_name" json:"student_name"`
	StudentCode string       `db:"student_code" json:"student_code"`
	ClassName   string       `db:"class_name" json:"class_name"`
	Date        time.Time    `db:"date" json:"date"`
	Status      RecordStatus `db:"status" json:"status"`
}

// AttendanceReportFilter scopes report queries.
type AttendanceReportFilter struct {
	TeacherID string
	ClassID   string
	DateFrom  *time.Time
	DateTo    *time.Time
	Page      int
	PageSize  int
}

// ClassAttendanceSummaryRow aggregates record counts per class.
type ClassAttendanceSummaryRow struct {
	ClassID    string `db:"class_id" json:"class_id"`
	ClassName  string `db:"class_name" json:"class_name"`
	Sessions   int    `db:"sessions" json:"sessions"`
	Present    int    `db:"present" json:"present"`
	Late       int    `db:"late" json:"late"`
	Absent     int    `db:"absent" json:"absent"`
	TotalScans int    `db:"total_scans" json:"total_scans"`
}
