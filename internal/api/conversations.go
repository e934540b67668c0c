package api

import (
	"net/http"

	"github.com/ag12x-gth/masteria-x-sub001/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type ConversationHandler struct {
	DB *gorm.DB
}

func NewConversationHandler(db *gorm.DB) *ConversationHandler {
	return &ConversationHandler{DB: db}
}

func (h *ConversationHandler) GetConversations(c *gin.Context) {
	var conversations []models.Conversation
	query := h.DB.Order("last_message_at desc")
	if companyID := c.Query("company_id"); companyID != "" {
		query = query.Where("company_id = ?", companyID)
	}
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Find(&conversations).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if conversations == nil {
		conversations = []models.Conversation{}
	}
	c.JSON(http.StatusOK, conversations)
}

func (h *ConversationHandler) GetMessages(c *gin.Context) {
	var messages []models.Message
	err := h.DB.Where("conversation_id = ?", c.Param("id")).
		Order("created_at asc").
		Find(&messages).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	c.JSON(http.StatusOK, messages)
}

// ArchiveConversation parks a thread. Any new inbound message reopens it.
func (h *ConversationHandler) ArchiveConversation(c *gin.Context) {
	res := h.DB.Model(&models.Conversation{}).
		Where("id = ?", c.Param("id")).
		Updates(map[string]interface{}{
			"status":   models.ConversationArchived,
			"archived": true,
		})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to archive conversation"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Conversation archived"})
}

func (h *ConversationHandler) ResolveConversation(c *gin.Context) {
	res := h.DB.Model(&models.Conversation{}).
		Where("id = ?", c.Param("id")).
		Update("status", models.ConversationResolved)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve conversation"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Conversation resolved"})
}
