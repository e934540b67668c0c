package api

import (
	"net/http"

	"github.com/ag12x-gth/masteria-x-sub001/internal/models"
	"github.com/ag12x-gth/masteria-x-sub001/internal/secrets"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ConnectionHandler struct {
	DB     *gorm.DB
	Cipher *secrets.Cipher
}

func NewConnectionHandler(db *gorm.DB, cipher *secrets.Cipher) *ConnectionHandler {
	return &ConnectionHandler{DB: db, Cipher: cipher}
}

type CreateConnectionRequest struct {
	CompanyID     string `json:"company_id" binding:"required"`
	Name          string `json:"name"`
	PhoneNumberID string `json:"phone_number_id" binding:"required"`
	WabaID        string `json:"waba_id"`
	AccessToken   string `json:"access_token" binding:"required"`
	AppSecret     string `json:"app_secret" binding:"required"`
	Active        *bool  `json:"active"`
}

// CreateConnection stores a company's WhatsApp binding. Credentials are
// encrypted before they hit the database and never echoed back.
func (h *ConnectionHandler) CreateConnection(c *gin.Context) {
	var req CreateConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	companyID, err := uuid.Parse(req.CompanyID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid company_id"})
		return
	}

	encToken, err := h.Cipher.Encrypt(req.AccessToken)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to encrypt credentials"})
		return
	}
	encSecret, err := h.Cipher.Encrypt(req.AppSecret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to encrypt credentials"})
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	conn := models.Connection{
		CompanyID:     companyID,
		Name:          req.Name,
		PhoneNumberID: req.PhoneNumberID,
		WabaID:        req.WabaID,
		AccessToken:   encToken,
		AppSecret:     encSecret,
		Active:        active,
	}
	if err := h.DB.Create(&conn).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create connection"})
		return
	}

	c.JSON(http.StatusCreated, conn)
}

func (h *ConnectionHandler) GetConnections(c *gin.Context) {
	var connections []models.Connection
	query := h.DB.Order("created_at desc")
	if companyID := c.Query("company_id"); companyID != "" {
		query = query.Where("company_id = ?", companyID)
	}
	if err := query.Find(&connections).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if connections == nil {
		connections = []models.Connection{}
	}
	c.JSON(http.StatusOK, connections)
}

func (h *ConnectionHandler) DeleteConnection(c *gin.Context) {
	res := h.DB.Delete(&models.Connection{}, "id = ?", c.Param("id"))
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete connection"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Connection not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Connection deleted"})
}
