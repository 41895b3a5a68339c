package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"swimschool/internal/attendance"
	"swimschool/internal/auth"
	"swimschool/internal/scancode"
)

// SummaryReader reads the worker-maintained daily counters.
type SummaryReader interface {
	Get(ctx context.Context, date string) (attendance.DailySummary, error)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Deps groups what the handlers need.
type Deps struct {
	Attendance    *attendance.Service
	ScanCodes     *scancode.Service
	Summary       SummaryReader
	Devices       auth.DeviceStore
	Issuer        *auth.Issuer
	ProvisionKey  string
	PublicBaseURL string // prefixes QR image links
	Checks        map[string]HealthCheck
	Log           *zap.Logger
}

type Handler struct {
	Deps
}

func New(d Deps) *Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &Handler{Deps: d}
}

// Mount registers every route on r.
func (h *Handler) Mount(r *gin.Engine) {
	r.GET("/healthz", h.Healthz)

	r.POST("/v1/devices/register", h.RegisterDevice)
	r.POST("/v1/devices/refresh", h.RefreshDevice)

	kiosk := []gin.HandlerFunc{auth.DeviceAuth(h.Issuer), auth.RequireRole(auth.RoleKiosk, auth.RoleConsole)}
	for _, prefix := range []string{"", "/v1"} {
		g := r.Group(prefix, kiosk...)
		g.POST("/attendance-employee/verify", h.VerifyEmployee)
		g.POST("/scan-qr/verify", h.VerifyMember)
	}

	console := r.Group("/v1", auth.DeviceAuth(h.Issuer), auth.RequireRole(auth.RoleConsole))
	console.POST("/users/:id/scan-code", h.IssueScanCode)
	console.GET("/scan-codes/:code/qr.png", h.ScanCodePNG)
	console.GET("/employee-sessions", h.ListEmployeeSessions)
	console.POST("/employee-sessions", h.CreateEmployeeSession)
	console.GET("/attendance", h.ListAttendance)
	console.GET("/attendance/summary", h.AttendanceSummary)
}

func (h *Handler) Healthz(c *gin.Context) {
	body := gin.H{"status": "ok"}
	status := http.StatusOK
	for name, check := range h.Checks {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// ---------- Devices ----------

type registerRequest struct {
	DeviceID string `json:"device_id" binding:"required"`
	Role     string `json:"role"`
}

// RegisterDevice provisions a kiosk or console and returns its tokens.
// Callers prove they may provision through the X-Provision-Key header.
func (h *Handler) RegisterDevice(c *gin.Context) {
	key := c.GetHeader("X-Provision-Key")
	if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(h.ProvisionKey)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid provision key"})
		return
	}
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Role == "" {
		req.Role = auth.RoleKiosk
	}
	if !auth.ValidRole(req.Role) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "role must be kiosk or console"})
		return
	}

	if err := h.Devices.UpsertDevice(c.Request.Context(), req.DeviceID, req.Role); err != nil {
		h.Log.Error("register device failed", zap.String("device_id", req.DeviceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "device registration failed"})
		return
	}
	h.issueTokens(c, http.StatusCreated, req.DeviceID, req.Role)
}

// RefreshDevice trades a refresh token for a new pair. Refresh tokens are single use.
func (h *Handler) RefreshDevice(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims, err := h.Issuer.ParseRefresh(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	ok, err := h.Devices.RotateRefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.Log.Error("rotate refresh token failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh failed"})
		return
	}
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "refresh token revoked or expired"})
		return
	}
	h.issueTokens(c, http.StatusOK, claims.Subject, claims.Role)
}

func (h *Handler) issueTokens(c *gin.Context, status int, deviceID, role string) {
	tokens, err := h.Issuer.Issue(deviceID, role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	if err := h.Devices.SaveRefreshToken(c.Request.Context(), deviceID, tokens.RefreshToken, tokens.RefreshExp); err != nil {
		h.Log.Error("save refresh token failed", zap.String("device_id", deviceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(status, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
		"role":          role,
	})
}

// ---------- Verification ----------

type verifyRequest struct {
	QRCode string `json:"qr_code" form:"qr_code" binding:"required"`
}

// VerifyEmployee checks in a coach, admin or operator from a scanned card.
func (h *Handler) VerifyEmployee(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "qr_code is required"})
		return
	}
	out := h.Attendance.VerifyEmployee(c.Request.Context(), req.QRCode)
	c.JSON(outcomeStatus(out), gin.H{
		"success":         out.Success,
		"kind":            out.Kind,
		"message":         out.Message,
		"employee":        out.User,
		"timestamp":       out.Timestamp,
		"attendanceToday": out.AttendanceToday,
		"state":           out.State,
	})
}

// VerifyMember checks in a member for the class running now.
func (h *Handler) VerifyMember(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "qr_code is required"})
		return
	}
	out := h.Attendance.VerifyMember(c.Request.Context(), req.QRCode)
	c.JSON(outcomeStatus(out), gin.H{
		"success":         out.Success,
		"kind":            out.Kind,
		"message":         out.Message,
		"member":          out.User,
		"timestamp":       out.Timestamp,
		"attendanceToday": out.AttendanceToday,
	})
}

func outcomeStatus(out attendance.Outcome) int {
	if out.Kind == attendance.KindSystemError {
		return http.StatusInternalServerError
	}
	return http.StatusOK
}

// ---------- Scan codes ----------

func (h *Handler) IssueScanCode(c *gin.Context) {
	sc, err := h.ScanCodes.Issue(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, scancode.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.Log.Error("issue scan code failed", zap.String("user_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue scan code failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":       sc.Code,
		"user_id":    sc.UserID,
		"qr_url":     sc.QRURL,
		"qr_png":     strings.TrimRight(h.PublicBaseURL, "/") + "/v1/scan-codes/" + sc.Code + "/qr.png",
		"created_at": sc.CreatedAt,
	})
}

func (h *Handler) ScanCodePNG(c *gin.Context) {
	size := scancode.DefaultSize
	if v := c.Query("size"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			size = parsed
		}
	}
	png, err := h.ScanCodes.PNG(c.Request.Context(), c.Param("code"), size)
	if err != nil {
		if errors.Is(err, scancode.ErrCodeNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.Log.Error("render scan code failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "render failed"})
		return
	}
	c.Header("Cache-Control", "private, max-age=86400")
	c.Data(http.StatusOK, "image/png", png)
}

// ---------- Employee sessions ----------

func (h *Handler) ListEmployeeSessions(c *gin.Context) {
	sessions, err := h.Attendance.EmployeeSessions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *Handler) CreateEmployeeSession(c *gin.Context) {
	var in attendance.EmployeeSession
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	created, err := h.Attendance.CreateEmployeeSession(c.Request.Context(), in)
	switch {
	case errors.Is(err, attendance.ErrInvalidWindow):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrOverlap):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		h.Log.Error("create employee session failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create employee session failed"})
	default:
		c.JSON(http.StatusCreated, created)
	}
}

// ---------- Reports ----------

func (h *Handler) ListAttendance(c *gin.Context) {
	f := attendance.RecordFilter{
		Flow:   attendance.Flow(c.DefaultQuery("flow", string(attendance.FlowEmployee))),
		UserID: c.Query("user_id"),
		Date:   c.Query("date"),
	}
	if f.Flow != attendance.FlowEmployee && f.Flow != attendance.FlowMember {
		c.JSON(http.StatusBadRequest, gin.H{"error": "flow must be employee or member"})
		return
	}
	if f.Date != "" {
		if _, err := time.Parse(time.DateOnly, f.Date); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
	}
	f.Limit, f.Offset = pageParams(c)
	records, err := h.Attendance.Records(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// pageParams reads limit and offset, falling back to defaults on bad input.
func pageParams(c *gin.Context) (limit, offset int) {
	limit = defaultListLimit
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = min(parsed, maxListLimit)
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			offset = parsed
		}
	}
	return limit, offset
}

func (h *Handler) AttendanceSummary(c *gin.Context) {
	date := c.DefaultQuery("date", h.Attendance.Today())
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}
	if h.Summary == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "summary not configured"})
		return
	}
	summary, err := h.Summary.Get(c.Request.Context(), date)
	if err != nil {
		h.Log.Error("read summary failed", zap.String("date", date), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "summary unavailable"})
		return
	}
	c.JSON(http.StatusOK, summary)
}
