package api

import (
	"log"
	"net/http"

	"github.com/ag12x-gth/masteria-x-sub001/internal/models"
	"github.com/ag12x-gth/masteria-x-sub001/internal/phone"
	"github.com/ag12x-gth/masteria-x-sub001/internal/secrets"
	"github.com/ag12x-gth/masteria-x-sub001/internal/whatsapp"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type CampaignHandler struct {
	DB     *gorm.DB
	Cipher *secrets.Cipher
}

func NewCampaignHandler(db *gorm.DB, cipher *secrets.Cipher) *CampaignHandler {
	return &CampaignHandler{DB: db, Cipher: cipher}
}

type SendCampaignRequest struct {
	CompanyID    string   `json:"company_id" binding:"required"`
	Name         string   `json:"name" binding:"required"`
	TemplateName string   `json:"template_name" binding:"required"`
	Language     string   `json:"language" binding:"required"`
	Contacts     []string `json:"contacts" binding:"required"` // phone numbers
}

// SendCampaign sends a template to a contact list and records one delivery
// report per recipient, keyed by the provider message ID so later status
// callbacks can reconcile them.
func (h *CampaignHandler) SendCampaign(c *gin.Context) {
	var req SendCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	companyID, err := uuid.Parse(req.CompanyID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid company_id"})
		return
	}

	var conn models.Connection
	err = h.DB.Where("company_id = ? AND active = ?", companyID, true).First(&conn).Error
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No active connection for company"})
		return
	}

	token, err := h.Cipher.Decrypt(conn.AccessToken)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to decrypt connection credentials"})
		return
	}
	client := whatsapp.NewClient(token, conn.PhoneNumberID)

	campaign := models.Campaign{
		CompanyID:    companyID,
		Name:         req.Name,
		TemplateName: req.TemplateName,
		Language:     req.Language,
	}
	if err := h.DB.Create(&campaign).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create campaign"})
		return
	}

	// Iterate and send (in a real deployment this belongs on a queue)
	successCount := 0
	for _, raw := range req.Contacts {
		digits, ok := phone.Sanitize(raw)
		if !ok {
			log.Printf("Campaign %s: skipping implausible phone %q", campaign.ID, raw)
			continue
		}
		to := phone.Canonical(digits)

		report := models.CampaignMessage{
			CampaignID:   campaign.ID,
			CompanyID:    companyID,
			ContactPhone: to,
		}

		wamid, err := client.SendTemplate(c.Request.Context(), to, req.TemplateName, req.Language)
		if err != nil {
			log.Printf("Campaign %s: failed to send to %s: %v", campaign.ID, to, err)
			report.Status = "failed"
			report.FailureReason = err.Error()
		} else {
			report.WhatsappMessageID = wamid
			report.Status = "sent"
			successCount++
		}

		if err := h.DB.Create(&report).Error; err != nil {
			log.Printf("Campaign %s: error recording delivery report: %v", campaign.ID, err)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"campaign_id": campaign.ID,
		"sent_to":     successCount,
		"total":       len(req.Contacts),
	})
}

func (h *CampaignHandler) GetCampaigns(c *gin.Context) {
	var campaigns []models.Campaign
	query := h.DB.Order("created_at desc")
	if companyID := c.Query("company_id"); companyID != "" {
		query = query.Where("company_id = ?", companyID)
	}
	if err := query.Find(&campaigns).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if campaigns == nil {
		campaigns = []models.Campaign{}
	}
	c.JSON(http.StatusOK, campaigns)
}

// GetCampaignReports lists per-recipient delivery reports with the statuses
// reconciled from webhook callbacks.
func (h *CampaignHandler) GetCampaignReports(c *gin.Context) {
	var reports []models.CampaignMessage
	err := h.DB.Where("campaign_id = ?", c.Param("id")).
		Order("created_at asc").
		Find(&reports).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if reports == nil {
		reports = []models.CampaignMessage{}
	}
	c.JSON(http.StatusOK, reports)
}
