// Package handler exposes the attendance pipeline over HTTP.
package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"

	"beaconattend/internal/attendance"
	"beaconattend/internal/auth"
	"beaconattend/internal/device"
	"beaconattend/internal/logging"
	"beaconattend/internal/metrics"
	"beaconattend/internal/queue"
	"beaconattend/internal/scan"
	"beaconattend/internal/store"
	"beaconattend/internal/student"
)

// Handler serves the HTTP API over the ledger, the student cache and the
// observation queue.
type Handler struct {
	db       *store.DB
	redis    *store.Redis
	queue    queue.Queue
	signer   *auth.Signer
	devices  *device.Registry
	ledger   *attendance.Ledger
	report   *attendance.Report
	cache    *student.SQLCache
	resolver *student.Resolver
	clock    clockwork.Clock
	metrics  *metrics.Metrics
	log      *slog.Logger

	accessTTL  time.Duration
	refreshTTL time.Duration
}

// Deps are the handler collaborators. Redis, Clock, Metrics and Logger are optional.
type Deps struct {
	DB         *store.DB
	Redis      *store.Redis
	Queue      queue.Queue
	Signer     *auth.Signer
	Devices    *device.Registry
	Ledger     *attendance.Ledger
	Report     *attendance.Report
	Cache      *student.SQLCache
	Resolver   *student.Resolver
	Clock      clockwork.Clock
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// New builds a handler from d, defaulting the clock to the real one.
func New(d Deps) *Handler {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	return &Handler{
		db:         d.DB,
		redis:      d.Redis,
		queue:      d.Queue,
		signer:     d.Signer,
		devices:    d.Devices,
		ledger:     d.Ledger,
		report:     d.Report,
		cache:      d.Cache,
		resolver:   d.Resolver,
		clock:      d.Clock,
		metrics:    d.Metrics,
		log:        logging.OrDefault(d.Logger),
		accessTTL:  d.AccessTTL,
		refreshTTL: d.RefreshTTL,
	}
}

// ---------- Health ----------

// Healthz reports database health, and Redis health when Redis is wired.
func (h *Handler) Healthz(c *gin.Context) {
	ctx := c.Request.Context()
	dbHealthy := h.db != nil && h.db.Healthy(ctx)
	body := gin.H{"status": "ok", "db": dbHealthy}
	healthy := dbHealthy
	if h.redis != nil {
		redisHealthy := h.redis.Healthy(ctx)
		body["redis"] = redisHealthy
		healthy = healthy && redisHealthy
	}
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}

// ---------- Devices ----------

// RegisterDevice records a scanner and issues it a scanner token pair.
func (h *Handler) RegisterDevice(c *gin.Context) {
	var req struct {
		DeviceID string `json:"device_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	if err := h.devices.Register(ctx, req.DeviceID); err != nil {
		if errors.Is(err, device.ErrDeviceIDRequired) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.log.Error("device registration failed", "device_id", req.DeviceID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}
	h.issueTokens(c, strings.TrimSpace(req.DeviceID), http.StatusCreated)
}

// RefreshDevice trades a refresh token for a new pair. The old token is spent
// and devices that are no longer registered are refused.
func (h *Handler) RefreshDevice(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims, err := h.signer.ParseAs(req.RefreshToken, auth.TypeRefresh)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	ctx := c.Request.Context()
	known, err := h.devices.Exists(ctx, claims.Subject)
	if err != nil {
		h.log.Error("device lookup failed", "device_id", claims.Subject, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh failed"})
		return
	}
	if !known {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown device"})
		return
	}
	deviceID, err := h.devices.Rotate(ctx, req.RefreshToken)
	if err != nil || deviceID != claims.Subject {
		if err != nil && !errors.Is(err, device.ErrTokenRejected) {
			h.log.Error("refresh rotation failed", "err", err)
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	h.issueTokens(c, deviceID, http.StatusOK)
}

// LogoutDevice revokes a refresh token so it can no longer be rotated.
func (h *Handler) LogoutDevice(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims, err := h.signer.ParseAs(req.RefreshToken, auth.TypeRefresh)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	if err := h.devices.RevokeRefreshToken(c.Request.Context(), req.RefreshToken); err != nil {
		h.log.Error("refresh revoke failed", "device_id", claims.Subject, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "logout failed"})
		return
	}
	h.log.Info("device logged out", "device_id", claims.Subject)
	c.Status(http.StatusNoContent)
}

func (h *Handler) issueTokens(c *gin.Context, deviceID string, status int) {
	tokens, err := h.signer.Issue(deviceID, auth.RoleScanner, h.accessTTL, h.refreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	if err := h.devices.SaveRefreshToken(c.Request.Context(), deviceID, tokens.RefreshToken, tokens.RefreshExp); err != nil {
		h.log.Error("refresh token not saved", "device_id", deviceID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(status, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

// ---------- Observations ----------

type observationInput struct {
	Identifier string     `json:"identifier"`
	RSSI       *int       `json:"rssi"`
	ObservedAt *time.Time `json:"observed_at"`
}

// observationRequest is either a single observation or {"observations": [...]}.
type observationRequest struct {
	observationInput
	Observations []observationInput `json:"observations"`
}

// PostObservations queues beacon sightings for the pipeline and answers 202.
func (h *Handler) PostObservations(c *gin.Context) {
	var req observationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	inputs := req.Observations
	if len(inputs) == 0 {
		inputs = []observationInput{req.observationInput}
	}
	for _, in := range inputs {
		if strings.TrimSpace(in.Identifier) == "" || in.RSSI == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "identifier and rssi are required"})
			return
		}
	}

	claims, _ := auth.FromContext(c)
	now := h.clock.Now()
	ids := make([]string, 0, len(inputs))
	for _, in := range inputs {
		at := now
		if in.ObservedAt != nil {
			at = *in.ObservedAt
		}
		obs := scan.NewObservation(claims.Subject, in.Identifier, *in.RSSI, at)
		msg, err := scan.Encode(obs)
		if err == nil {
			err = h.queue.Publish(c.Request.Context(), msg)
		}
		if err != nil {
			h.metrics.Publish("error")
			h.log.Error("queue publish failed", "id", obs.ID, "err", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue unavailable", "accepted": ids})
			return
		}
		h.metrics.Publish("ok")
		ids = append(ids, obs.ID)
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": ids})
}

// ---------- Attendance ----------

func optionalQuery(c *gin.Context, key string) *string {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return nil
	}
	return &v
}

// ListAttendance returns the report lines of a day (today by default),
// optionally narrowed by promotion and faculte.
func (h *Handler) ListAttendance(c *gin.Context) {
	f := attendance.Filter{
		Date:      c.DefaultQuery("date", h.ledger.Today(h.clock.Now())),
		Promotion: optionalQuery(c, "promotion"),
		Faculte:   optionalQuery(c, "faculte"),
	}
	lines, err := h.report.Query(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": f.Date, "count": len(lines), "records": lines})
}

// AttendanceFilters lists the promotions and faculties that can be filtered on.
func (h *Handler) AttendanceFilters(c *gin.Context) {
	c.JSON(http.StatusOK, h.report.Options(c.Request.Context()))
}

// AttendanceStatus reports whether one student is present on a day (today by default).
func (h *Handler) AttendanceStatus(c *gin.Context) {
	date := c.DefaultQuery("date", h.ledger.Today(h.clock.Now()))
	if _, err := time.Parse(attendance.DateLayout, date); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": attendance.ErrInvalidDate.Error()})
		return
	}
	matricule := c.Param("matricule")
	c.JSON(http.StatusOK, gin.H{
		"matricule": matricule,
		"date":      date,
		"present":   h.ledger.IsPresent(c.Request.Context(), date, matricule),
	})
}

// DeleteAttendance removes one day (?date=) or everything (?all=true).
func (h *Handler) DeleteAttendance(c *gin.Context) {
	ctx := c.Request.Context()
	if c.Query("all") == "true" {
		if err := h.ledger.ClearAll(ctx); err != nil {
			h.log.Error("clear attendance failed", "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
			return
		}
		h.log.Warn("attendance cleared", "by", subject(c))
		c.Status(http.StatusNoContent)
		return
	}

	date := c.Query("date")
	if _, err := time.Parse(attendance.DateLayout, date); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date=yyyy-mm-dd or all=true required"})
		return
	}
	n, err := h.ledger.DeleteByDate(ctx, date)
	if err != nil {
		h.log.Error("delete attendance failed", "date", date, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	h.log.Info("attendance deleted", "date", date, "count", n, "by", subject(c))
	c.JSON(http.StatusOK, gin.H{"date": date, "deleted": n})
}

// ---------- Students ----------

type studentView struct {
	Matricule   string    `json:"matricule"`
	FullName    string    `json:"fullname"`
	Active      int       `json:"active"`
	Promotion   *string   `json:"promotion,omitempty"`
	Faculte     *string   `json:"faculte,omitempty"`
	LastFetched time.Time `json:"last_fetched"`
}

// ListStudents lists cached profiles with their last fetch time.
func (h *Handler) ListStudents(c *gin.Context) {
	entries, err := h.cache.List(c.Request.Context())
	if err != nil {
		h.log.Error("list students failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	out := make([]studentView, 0, len(entries))
	for _, e := range entries {
		v := studentView{Matricule: e.Matricule, FullName: attendance.UnknownName, LastFetched: e.LastFetched}
		if p, err := student.DecodeProfile(e.Payload); err == nil {
			v.FullName = p.FullName
			v.Active = p.Active
			v.Promotion = p.Promotion()
			v.Faculte = p.Faculte()
		}
		out = append(out, v)
	}
	c.JSON(http.StatusOK, out)
}

// GetStudent resolves a matricule through the cache, then the profile service.
func (h *Handler) GetStudent(c *gin.Context) {
	matricule := scan.Sanitize(c.Param("matricule"))
	if matricule == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid matricule"})
		return
	}
	res, err := h.resolver.Resolve(c.Request.Context(), matricule)
	switch {
	case errors.Is(err, student.ErrNetworkTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "profile service timed out"})
		return
	case errors.Is(err, student.ErrNetworkFailure):
		c.JSON(http.StatusBadGateway, gin.H{"error": "profile service unavailable"})
		return
	case err != nil:
		h.log.Error("resolve failed", "matricule", matricule, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "resolve failed"})
		return
	case res.Profile == nil:
		c.JSON(http.StatusNotFound, gin.H{"error": "student not found", "message": res.Message})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"profile":      res.Profile,
		"from_cache":   res.FromCache,
		"last_fetched": res.LastFetched,
		"message":      res.Message,
	})
}

// DeleteStudent drops a cached profile together with its attendance history.
func (h *Handler) DeleteStudent(c *gin.Context) {
	matricule := c.Param("matricule")
	ok, err := h.cache.Delete(c.Request.Context(), matricule)
	if err != nil {
		h.log.Error("delete student failed", "matricule", matricule, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
		return
	}
	h.log.Info("student removed", "matricule", matricule, "by", subject(c))
	c.Status(http.StatusNoContent)
}

func subject(c *gin.Context) string {
	claims, _ := auth.FromContext(c)
	return claims.Subject
}
