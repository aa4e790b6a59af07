package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"crisiswatch/internal/broadcast"
	"crisiswatch/internal/constants"
	"crisiswatch/internal/ingest"
	"crisiswatch/internal/logger"
	"crisiswatch/internal/rules"
	"crisiswatch/internal/store"
	"crisiswatch/pkg/errors"
	"crisiswatch/pkg/models"
)

type BaseHandler struct {
	Logger logger.Logger
}

func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)

	status := errors.ToHTTPStatus(err)
	response := errors.ToErrorResponse(err)

	c.JSON(status, response)
}

// Options carries the pipeline components the HTTP surface fronts.
type Options struct {
	Store     *store.Store
	Pipeline  *ingest.Orchestrator
	Hub       *broadcast.Hub
	Rules     rules.Repository
	Engine    *rules.Engine
	RateLimit gin.HandlerFunc
}

type Handler struct {
	BaseHandler
	store     *store.Store
	pipeline  *ingest.Orchestrator
	hub       *broadcast.Hub
	rateLimit gin.HandlerFunc
}

func NewHandler(opts Options, log logger.Logger) *Handler {
	return &Handler{
		BaseHandler: BaseHandler{Logger: log},
		store:       opts.Store,
		pipeline:    opts.Pipeline,
		hub:         opts.Hub,
		rateLimit:   opts.RateLimit,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		events := v1.Group("/events")
		{
			events.GET("/recent", h.RecentEvents)
			if h.rateLimit != nil {
				events.POST("", h.rateLimit, h.PushEvents)
			} else {
				events.POST("", h.PushEvents)
			}
		}

		alerts := v1.Group("/alerts")
		{
			alerts.GET("", h.ActiveAlerts)
			alerts.GET("/:id", h.GetAlert)
			alerts.POST("/:id/acknowledge", h.AcknowledgeAlert)
			alerts.POST("/:id/resolve", h.ResolveAlert)
		}

		admin := v1.Group("/admin")
		{
			admin.POST("/broadcast", h.EmergencyBroadcast)
		}

		v1.GET("/stats", h.Stats)
		v1.GET("/stream", broadcast.WebSocketHandler(h.hub, h.Logger))
	}
}

// RecentEvents godoc
// @Summary      List recent monitoring events
// @Description  Query the event log, newest first
// @Tags         events
// @Produce      json
// @Param        platform            query  string  false  "Filter by platform"
// @Param        event_type          query  string  false  "Filter by event type"
// @Param        since               query  string  false  "RFC3339 lower bound on occurred_at"
// @Param        exclude_duplicates  query  bool    false  "Drop content duplicates from the result"
// @Param        limit               query  int     false  "Maximum number of events (1-1000)" default(100)
// @Success      200  {array}   models.MonitoringEvent
// @Failure      400  {object}  map[string]interface{}
// @Failure      500  {object}  map[string]interface{}
// @Router       /events/recent [get]
func (h *Handler) RecentEvents(c *gin.Context) {
	q := store.EventQuery{
		Platform:          c.Query("platform"),
		EventType:         models.EventType(c.Query("event_type")),
		ExcludeDuplicates: c.Query("exclude_duplicates") == "true",
		Limit:             int64(parseLimit(c.Query("limit"))),
	}

	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, errors.ToErrorResponse(
				errors.ErrValidation.WithDetail("message", "since must be RFC3339")))
			return
		}
		q.From = since
	}

	events, err := h.store.Query(c.Request.Context(), q)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if events == nil {
		events = []models.MonitoringEvent{}
	}
	c.JSON(http.StatusOK, events)
}

// PushEvents godoc
// @Summary      Push monitoring events
// @Description  Ingest a batch of events through the full pipeline
// @Tags         events
// @Accept       json
// @Produce      json
// @Param        events  body  []models.MonitoringEvent  true  "Events to ingest"
// @Success      202  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]interface{}
// @Failure      429  {object}  map[string]interface{}
// @Failure      500  {object}  map[string]interface{}
// @Router       /events [post]
func (h *Handler) PushEvents(c *gin.Context) {
	var events []models.MonitoringEvent
	if err := c.ShouldBindJSON(&events); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}
	if len(events) == 0 {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(
			errors.ErrValidation.WithDetail("message", "event batch is empty")))
		return
	}

	accepted, err := h.pipeline.ProcessEvents(c.Request.Context(), events)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"received": len(events),
		"accepted": accepted,
	})
}

// ActiveAlerts godoc
// @Summary      List open alerts
// @Description  Get all alerts that are active or acknowledged, newest first
// @Tags         alerts
// @Produce      json
// @Success      200  {array}   models.CrisisAlert
// @Failure      500  {object}  map[string]interface{}
// @Router       /alerts [get]
func (h *Handler) ActiveAlerts(c *gin.Context) {
	alerts, err := h.store.ActiveAlerts(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if alerts == nil {
		alerts = []models.CrisisAlert{}
	}
	c.JSON(http.StatusOK, alerts)
}

// GetAlert godoc
// @Summary      Get an alert by ID
// @Tags         alerts
// @Produce      json
// @Param        id   path  string  true  "Alert ID"
// @Success      200  {object}  models.CrisisAlert
// @Failure      404  {object}  map[string]interface{}
// @Failure      500  {object}  map[string]interface{}
// @Router       /alerts/{id} [get]
func (h *Handler) GetAlert(c *gin.Context) {
	alert, err := h.store.GetAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

type alertActionRequest struct {
	Actor string `json:"actor" binding:"required"`
}

// AcknowledgeAlert godoc
// @Summary      Acknowledge an alert
// @Description  Move an active alert to acknowledged
// @Tags         alerts
// @Accept       json
// @Produce      json
// @Param        id      path  string              true  "Alert ID"
// @Param        action  body  alertActionRequest  true  "Acting operator"
// @Success      200  {object}  models.CrisisAlert
// @Failure      400  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}
// @Failure      409  {object}  map[string]interface{}
// @Router       /alerts/{id}/acknowledge [post]
func (h *Handler) AcknowledgeAlert(c *gin.Context) {
	var req alertActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	alert, err := h.pipeline.AcknowledgeAlert(c.Request.Context(), c.Param("id"), req.Actor)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

// ResolveAlert godoc
// @Summary      Resolve an alert
// @Description  Move an alert to its terminal resolved state
// @Tags         alerts
// @Accept       json
// @Produce      json
// @Param        id      path  string              true  "Alert ID"
// @Param        action  body  alertActionRequest  true  "Acting operator"
// @Success      200  {object}  models.CrisisAlert
// @Failure      400  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}
// @Failure      409  {object}  map[string]interface{}
// @Router       /alerts/{id}/resolve [post]
func (h *Handler) ResolveAlert(c *gin.Context) {
	var req alertActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	alert, err := h.pipeline.ResolveAlert(c.Request.Context(), c.Param("id"), req.Actor)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

type emergencyBroadcastRequest struct {
	Title    string `json:"title" binding:"required"`
	Message  string `json:"message" binding:"required"`
	Severity string `json:"severity"`
}

// EmergencyBroadcast godoc
// @Summary      Broadcast an operator notice
// @Description  Push a message to every connected subscriber regardless of channel subscriptions
// @Tags         admin
// @Accept       json
// @Produce      json
// @Param        notice  body  emergencyBroadcastRequest  true  "Notice to broadcast"
// @Success      202  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]interface{}
// @Router       /admin/broadcast [post]
func (h *Handler) EmergencyBroadcast(c *gin.Context) {
	var req emergencyBroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	severity := models.AlertSeverity(req.Severity)
	if req.Severity == "" {
		severity = models.SeverityHigh
	}

	msg := models.BroadcastMessage{
		Type:      models.MessageTypeAlert,
		Channel:   constants.ChannelAlertsAll,
		Timestamp: time.Now(),
		Data: gin.H{
			"title":    req.Title,
			"message":  req.Message,
			"severity": severity,
		},
	}
	h.hub.EmergencyBroadcast(msg)

	h.Logger.InfowCtx(c.Request.Context(), "Emergency broadcast sent",
		"title", req.Title,
		"subscribers", h.hub.SubscriberCount(),
	)
	c.JSON(http.StatusAccepted, gin.H{"delivered_to": h.hub.SubscriberCount()})
}

// Stats godoc
// @Summary      Pipeline statistics snapshot
// @Tags         stats
// @Produce      json
// @Success      200  {object}  ingest.MetricsSnapshot
// @Failure      500  {object}  map[string]interface{}
// @Router       /stats [get]
func (h *Handler) Stats(c *gin.Context) {
	snapshot, err := h.pipeline.GetMetrics(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func parseLimit(limitStr string) int {
	if limitStr == "" {
		return constants.DefaultLimit
	}
	parsed, err := strconv.Atoi(limitStr)
	if err != nil || parsed <= 0 || parsed > constants.MaxLimit {
		return constants.DefaultLimit
	}
	return parsed
}
