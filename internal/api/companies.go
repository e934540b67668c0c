package api

import (
	"net/http"

	"github.com/ag12x-gth/masteria-x-sub001/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type CompanyHandler struct {
	DB *gorm.DB
}

func NewCompanyHandler(db *gorm.DB) *CompanyHandler {
	return &CompanyHandler{DB: db}
}

type CreateCompanyRequest struct {
	Name               string `json:"name" binding:"required"`
	WebhookSlug        string `json:"webhook_slug" binding:"required"`
	WebhookVerifyToken string `json:"webhook_verify_token"`
}

func (h *CompanyHandler) CreateCompany(c *gin.Context) {
	var req CreateCompanyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	company := models.Company{
		Name:               req.Name,
		WebhookSlug:        req.WebhookSlug,
		WebhookVerifyToken: req.WebhookVerifyToken,
	}
	if err := h.DB.Create(&company).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create company"})
		return
	}

	c.JSON(http.StatusCreated, company)
}

func (h *CompanyHandler) GetCompanies(c *gin.Context) {
	var companies []models.Company
	if err := h.DB.Order("created_at desc").Find(&companies).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if companies == nil {
		companies = []models.Company{}
	}
	c.JSON(http.StatusOK, companies)
}
