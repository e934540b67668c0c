package api

import (
	"net/http"

	"github.com/ag12x-gth/masteria-x-sub001/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AutomationHandler struct {
	DB *gorm.DB
}

func NewAutomationHandler(db *gorm.DB) *AutomationHandler {
	return &AutomationHandler{DB: db}
}

func (h *AutomationHandler) GetRules(c *gin.Context) {
	var rules []models.AutomationRule
	query := h.DB.Order("priority desc")
	if companyID := c.Query("company_id"); companyID != "" {
		query = query.Where("company_id = ?", companyID)
	}
	if err := query.Find(&rules).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if rules == nil {
		rules = []models.AutomationRule{}
	}
	c.JSON(http.StatusOK, rules)
}

type SaveRuleRequest struct {
	CompanyID  string `json:"company_id" binding:"required"`
	Name       string `json:"name" binding:"required"`
	Type       string `json:"type" binding:"required"`
	Enabled    *bool  `json:"enabled"`
	Priority   int    `json:"priority"`
	Conditions string `json:"conditions"` // JSON
	Actions    string `json:"actions"`    // JSON
}

func (h *AutomationHandler) CreateRule(c *gin.Context) {
	var req SaveRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	companyID, err := uuid.Parse(req.CompanyID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid company_id"})
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	rule := models.AutomationRule{
		CompanyID:  companyID,
		Name:       req.Name,
		Type:       req.Type,
		Enabled:    enabled,
		Priority:   req.Priority,
		Conditions: req.Conditions,
		Actions:    req.Actions,
	}
	if err := h.DB.Create(&rule).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create rule"})
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (h *AutomationHandler) UpdateRule(c *gin.Context) {
	var req SaveRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updates := map[string]interface{}{
		"name":       req.Name,
		"type":       req.Type,
		"priority":   req.Priority,
		"conditions": req.Conditions,
		"actions":    req.Actions,
	}
	if req.Enabled != nil {
		updates["enabled"] = *req.Enabled
	}

	res := h.DB.Model(&models.AutomationRule{}).Where("id = ?", c.Param("id")).Updates(updates)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update rule"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Rule updated"})
}

func (h *AutomationHandler) DeleteRule(c *gin.Context) {
	res := h.DB.Delete(&models.AutomationRule{}, "id = ?", c.Param("id"))
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete rule"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Rule deleted"})
}

func (h *AutomationHandler) ToggleRule(c *gin.Context) {
	res := h.DB.Model(&models.AutomationRule{}).
		Where("id = ?", c.Param("id")).
		Update("enabled", gorm.Expr("NOT enabled"))
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to toggle rule"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Rule toggled"})
}

func (h *AutomationHandler) GetLogs(c *gin.Context) {
	var logs []models.AutomationLog
	if err := h.DB.Order("created_at desc").Limit(200).Find(&logs).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if logs == nil {
		logs = []models.AutomationLog{}
	}
	c.JSON(http.StatusOK, logs)
}
