// Package handler exposes the read-only dashboard API.
package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"queue_dashboard_backend/internal/dashboard/domain"
	"queue_dashboard_backend/internal/dashboard/reconciler"
	"queue_dashboard_backend/internal/dashboard/subscription"
	"queue_dashboard_backend/platform/apperr"
	"queue_dashboard_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
)

// State is the reconciler side read by the API.
type State interface {
	Snapshot() *domain.Snapshot
	Diagnostics() reconciler.Diagnostics
}

// Subscriptions reports the subscription manager's state.
type Subscriptions interface {
	Subscriptions() []subscription.Subscription
	Stats() subscription.Stats
	RetryDeadline() time.Time
}

// Streamer serves the SSE stream.
type Streamer interface {
	Handler(current func() *domain.Snapshot) gin.HandlerFunc
}

// DiagnosticsResponse is the body of GET /diagnostics.
type DiagnosticsResponse struct {
	Version       uint64                      `json:"version"`
	Reconciler    reconciler.Diagnostics      `json:"reconciler"`
	Subscriptions []subscription.Subscription `json:"subscriptions"`
	Stats         subscription.Stats          `json:"stats"`
	RetryAt       *time.Time                  `json:"retryAt,omitempty"`
}

// Handler handles dashboard HTTP requests.
type Handler struct {
	state  State
	subs   Subscriptions
	stream Streamer
}

// New creates a new dashboard handler.
func New(state State, subs Subscriptions, stream Streamer) *Handler {
	return &Handler{state: state, subs: subs, stream: stream}
}

// RegisterRoutes mounts the dashboard routes on rg.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/queues", h.ListQueues)
	rg.GET("/queues/:queueID", h.GetQueue)
	rg.GET("/stream", h.stream.Handler(h.state.Snapshot))
	rg.GET("/diagnostics", h.Diagnostics)
}

// ListQueues handles GET /queues. The snapshot version doubles as the ETag.
func (h *Handler) ListQueues(c *gin.Context) {
	snap := h.state.Snapshot()
	etag := versionETag(snap.Version)
	c.Header("ETag", etag)
	c.Header("Cache-Control", "no-cache")

	if matchesETag(c.GetHeader("If-None-Match"), etag) {
		c.Status(http.StatusNotModified)
		return
	}
	httpkit.OK(c, snap)
}

// GetQueue handles GET /queues/:queueID.
func (h *Handler) GetQueue(c *gin.Context) {
	queueID := strings.TrimSpace(c.Param("queueID"))
	if queueID == "" {
		httpkit.HandleError(c, apperr.BadRequest("queue id is required"))
		return
	}

	q, ok := h.state.Snapshot().Queue(queueID)
	if !ok {
		httpkit.HandleError(c, apperr.NotFound("queue not found"))
		return
	}
	httpkit.OK(c, q)
}

// Diagnostics handles GET /diagnostics.
func (h *Handler) Diagnostics(c *gin.Context) {
	resp := DiagnosticsResponse{
		Version:       h.state.Snapshot().Version,
		Reconciler:    h.state.Diagnostics(),
		Subscriptions: h.subs.Subscriptions(),
		Stats:         h.subs.Stats(),
	}
	if deadline := h.subs.RetryDeadline(); !deadline.IsZero() {
		resp.RetryAt = &deadline
	}
	httpkit.OK(c, resp)
}

func versionETag(version uint64) string {
	return `"` + strconv.FormatUint(version, 10) + `"`
}

func matchesETag(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == etag || candidate == "*" {
			return true
		}
	}
	return false
}
