package api

import (
	"database/sql"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"crisiswatch/internal/logger"
	"crisiswatch/internal/rules"
	"crisiswatch/pkg/errors"
	"crisiswatch/pkg/models"
)

// RuleHandler manages the detection rule set. Mutations trigger an engine
// reload so a changed rule takes effect without waiting for the periodic one.
type RuleHandler struct {
	BaseHandler
	repo   rules.Repository
	engine *rules.Engine
}

func NewRuleHandler(repo rules.Repository, engine *rules.Engine, log logger.Logger) *RuleHandler {
	return &RuleHandler{
		BaseHandler: BaseHandler{Logger: log},
		repo:        repo,
		engine:      engine,
	}
}

func (h *RuleHandler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		r := v1.Group("/rules")
		{
			r.GET("", h.ListRules)
			r.POST("", h.CreateRule)
			r.GET("/:id", h.GetRule)
			r.PUT("/:id", h.UpdateRule)
		}
	}
}

type ruleRequest struct {
	Name            string               `json:"name" binding:"required"`
	Type            models.AlertType     `json:"type" binding:"required"`
	Severity        models.AlertSeverity `json:"severity" binding:"required"`
	CooldownMinutes int                  `json:"cooldown_minutes"`
	Enabled         bool                 `json:"enabled"`
	Params          map[string]float64   `json:"params"`
	Expression      string               `json:"expression"`
}

func (req ruleRequest) validate() error {
	switch req.Type {
	case models.AlertTypeVolumeSpike, models.AlertTypeSentimentDrop,
		models.AlertTypeNegativeTrend, models.AlertTypeViralNegative:
		if req.Expression != "" {
			return errors.ErrValidation.WithDetail("message", "expression is only valid for custom rules")
		}
	case models.AlertTypeCustom:
		if req.Expression == "" {
			return errors.ErrValidation.WithDetail("message", "custom rules require an expression")
		}
	default:
		return errors.ErrValidation.WithDetail("message", fmt.Sprintf("unknown rule type %q", req.Type))
	}

	switch req.Severity {
	case models.SeverityLow, models.SeverityMedium, models.SeverityHigh, models.SeverityCritical:
	default:
		return errors.ErrValidation.WithDetail("message", fmt.Sprintf("unknown severity %q", req.Severity))
	}

	if req.CooldownMinutes < 0 {
		return errors.ErrValidation.WithDetail("message", "cooldown_minutes cannot be negative")
	}
	return nil
}

func (req ruleRequest) toRule(id string) models.AlertRule {
	return models.AlertRule{
		ID:              id,
		Name:            req.Name,
		Type:            req.Type,
		Severity:        req.Severity,
		CooldownMinutes: req.CooldownMinutes,
		Enabled:         req.Enabled,
		Params:          req.Params,
		Expression:      req.Expression,
	}
}

// ListRules godoc
// @Summary      List all detection rules
// @Tags         rules
// @Produce      json
// @Success      200  {array}   models.AlertRule
// @Failure      500  {object}  map[string]interface{}
// @Router       /rules [get]
func (h *RuleHandler) ListRules(c *gin.Context) {
	ruleSet, err := h.repo.GetAllRules(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if ruleSet == nil {
		ruleSet = []models.AlertRule{}
	}
	c.JSON(http.StatusOK, ruleSet)
}

// GetRule godoc
// @Summary      Get a detection rule by ID
// @Tags         rules
// @Produce      json
// @Param        id   path  string  true  "Rule ID"
// @Success      200  {object}  models.AlertRule
// @Failure      404  {object}  map[string]interface{}
// @Failure      500  {object}  map[string]interface{}
// @Router       /rules/{id} [get]
func (h *RuleHandler) GetRule(c *gin.Context) {
	rule, err := h.repo.GetRule(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, translateRuleError(err, c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, rule)
}

// CreateRule godoc
// @Summary      Create a detection rule
// @Tags         rules
// @Accept       json
// @Produce      json
// @Param        rule  body  ruleRequest  true  "Rule definition"
// @Success      201  {object}  models.AlertRule
// @Failure      400  {object}  map[string]interface{}
// @Failure      500  {object}  map[string]interface{}
// @Router       /rules [post]
func (h *RuleHandler) CreateRule(c *gin.Context) {
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}
	if err := req.validate(); err != nil {
		h.HandleError(c, err)
		return
	}

	rule, err := h.repo.CreateRule(c.Request.Context(), req.toRule(""))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.reloadEngine(c)
	c.JSON(http.StatusCreated, rule)
}

// UpdateRule godoc
// @Summary      Update a detection rule
// @Tags         rules
// @Accept       json
// @Produce      json
// @Param        id    path  string       true  "Rule ID"
// @Param        rule  body  ruleRequest  true  "Updated rule definition"
// @Success      200  {object}  models.AlertRule
// @Failure      400  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}
// @Failure      500  {object}  map[string]interface{}
// @Router       /rules/{id} [put]
func (h *RuleHandler) UpdateRule(c *gin.Context) {
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}
	if err := req.validate(); err != nil {
		h.HandleError(c, err)
		return
	}

	id := c.Param("id")
	rule, err := h.repo.UpdateRule(c.Request.Context(), req.toRule(id))
	if err != nil {
		h.HandleError(c, translateRuleError(err, id))
		return
	}

	h.reloadEngine(c)
	c.JSON(http.StatusOK, rule)
}

func (h *RuleHandler) reloadEngine(c *gin.Context) {
	if h.engine == nil {
		return
	}
	if err := h.engine.ReloadRules(c.Request.Context()); err != nil {
		h.Logger.WarnwCtx(c.Request.Context(), "Rule reload after mutation failed, periodic reload will catch up",
			"error", err,
		)
	}
}

func translateRuleError(err error, id string) error {
	if stderrors.Is(err, sql.ErrNoRows) {
		return errors.ErrNotFound.WithDetail("message", fmt.Sprintf("rule %s not found", id))
	}
	return err
}
