package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/scanmark/scanmark-api/internal/models"
	"github.com/scanmark/scanmark-api/internal/service"
	appErrors "github.com/scanmark/scanmark-api/pkg/errors"
	"github.com/scanmark/scanmark-api/pkg/response"
)

// AttendanceHandler exposes session lifecycle and check-in endpoints.
type AttendanceHandler struct {
	sessions *service.SessionService
	checkins *service.CheckinService
}

// NewAttendanceHandler constructs the handler.
func NewAttendanceHandler(sessions *service.SessionService, checkins *service.CheckinService) *AttendanceHandler {
	return &AttendanceHandler{sessions: sessions, checkins: checkins}
}

// StartSession godoc
// @Summary Start an attendance session
// @Description Open a session for a class, ending any session still running for it
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Class ID"
// @Param payload body models.StartSessionRequest true "Session options"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /classes/{id}/attendance/start [post]
func (h *AttendanceHandler) StartSession(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid session payload"))
		return
	}

	session, err := h.sessions.Start(c.Request.Context(), c.Param("id"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, session)
}

// EndSession godoc
// @Summary End an attendance session
// @Description Close a session and backfill absences for students without a record
// @Tags Attendance
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /attendance/sessions/{id}/end [post]
func (h *AttendanceHandler) EndSession(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	res, err := h.sessions.End(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, res, nil)
}

// Live godoc
// @Summary Live attendance snapshot
// @Description Roster joined with check-in records plus present/late/absent counts
// @Tags Attendance
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /attendance/sessions/{id}/live [get]
func (h *AttendanceHandler) Live(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	live, err := h.sessions.Live(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, live, nil)
}

// Scan godoc
// @Summary Check in to a session
// @Description Record the authenticated student's check-in against a scanned session QR
// @Tags Attendance
// @Produce json
// @Param sessionId path string true "Session ID"
// @Param X-Client-Time header string false "Device wall clock (2006-01-02T15:04:05)"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /attendance/scan/{sessionId} [get]
func (h *AttendanceHandler) Scan(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	result, err := h.checkins.Scan(c.Request.Context(), c.Param("sessionId"), claims.UserID, c.GetHeader("X-Client-Time"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, result, nil)
}
