package models

import "time"

// SessionStatus captures the attendance session lifecycle state.
type SessionStatus string

const (
	SessionStatusActive SessionStatus = "active"
	SessionStatusEnded  SessionStatus = "ended"
)

// SessionMaxLifetime is the hard ceiling on how long a session accepts scans,
// independent of the grace window configured per session.
const SessionMaxLifetime = 3 * time.Hour

// AttendanceSession represents one QR attendance session for a class.
type AttendanceSession struct {
	ID              string        `db:"id" json:"id"`
	ClassID         string        `db:"class_id" json:"class_id"`
	DurationMinutes int           `db:"duration_minutes" json:"duration_minutes"`
	StartedAt       time.Time     `db:"started_at" json:"started_at"`
	EndsAt          time.Time     `db:"ends_at" json:"ends_at"`
	EndedAt         *time.Time    `db:"ended_at" json:"ended_at,omitempty"`
	Status          SessionStatus `db:"status" json:"status"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`
}

// IsActive reports whether the session accepts scans at the given instant.
// Both conditions are authoritative: a session past ends_at is inactive even
// while its status column still says active, since nothing sweeps expired
// sessions in the background.
func (s AttendanceSession) IsActive(now time.Time) bool {
	return s.Status == SessionStatusActive && now.Before(s.EndsAt)
}

// GraceDeadline is the instant after which check-ins are classified late.
func (s AttendanceSession) GraceDeadline() time.Time {
	return s.StartedAt.Add(time.Duration(s.DurationMinutes) * time.Minute)
}

// StartSessionRequest is the payload for starting a session.
type StartSessionRequest struct {
	DurationMinutes int `json:"duration_minutes" validate:"required,min=1,max=180"`
}

// EndSessionResponse reports how many absences the end backfilled.
type EndSessionResponse struct {
	Session     *AttendanceSession `json:"session"`
	AbsentCount int                `json:"absent_count"`
}
