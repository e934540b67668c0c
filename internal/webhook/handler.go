package webhook

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/ag12x-gth/masteria-x-sub001/internal/cache"
	"github.com/ag12x-gth/masteria-x-sub001/internal/models"
	"github.com/ag12x-gth/masteria-x-sub001/internal/secrets"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Handler terminates the Meta webhook endpoints. The POST path authenticates
// the raw payload, persists it as an outbox event, acks with 200 and hands
// processing to a detached goroutine; slow downstream calls must never make
// the provider time out and retry-duplicate the payload.
type Handler struct {
	db        *gorm.DB
	cipher    *secrets.Cipher
	cache     *cache.Cache
	processor *Processor
}

func NewHandler(db *gorm.DB, cipher *secrets.Cipher, c *cache.Cache, processor *Processor) *Handler {
	return &Handler{
		db:        db,
		cipher:    cipher,
		cache:     c,
		processor: processor,
	}
}

// VerifyWebhook implements the provider's one-time subscription handshake.
func (h *Handler) VerifyWebhook(c *gin.Context) {
	company, err := h.companyBySlug(c, c.Param("slug"))
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}

	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "subscribe" && token != "" && company.WebhookVerifyToken != "" && token == company.WebhookVerifyToken {
		log.Printf("Webhook verified for company %s", company.ID)
		c.String(http.StatusOK, challenge)
		return
	}
	c.Status(http.StatusForbidden)
}

// HandleEvents receives signed webhook deliveries.
func (h *Handler) HandleEvents(c *gin.Context) {
	// The raw bytes must be captured before any JSON parsing; the signature
	// covers them exactly as sent.
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	company, err := h.companyBySlug(c, c.Param("slug"))
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}

	if c.GetHeader(signatureHeader) == "" {
		log.Printf("SECURITY: webhook for company %s missing signature", company.ID)
		c.Status(http.StatusBadRequest)
		return
	}

	verified, usable := h.verifyAgainstConnections(c.Request.Context(), company, c.Request.Header, body)
	if !usable {
		log.Printf("SECURITY: webhook for company %s has no usable app secret", company.ID)
		c.Status(http.StatusBadRequest)
		return
	}
	if !verified {
		log.Printf("SECURITY: webhook signature mismatch for company %s", company.ID)
		c.Status(http.StatusForbidden)
		return
	}

	event := models.WebhookEvent{
		CompanyID: company.ID,
		Payload:   string(body),
		Status:    models.EventPending,
	}
	if err := h.db.Create(&event).Error; err != nil {
		log.Printf("Error persisting webhook event for company %s: %v", company.ID, err)
		c.Status(http.StatusInternalServerError)
		return
	}
	if err := h.db.Create(&models.WebhookLog{CompanyID: company.ID, Payload: string(body)}).Error; err != nil {
		log.Printf("Error archiving webhook payload: %v", err)
	}

	// Ack first; processing continues off the response path. The outbox
	// dispatcher picks the row back up if this goroutine dies mid-way.
	c.Status(http.StatusOK)
	go h.processor.Run(context.Background(), event.ID)
}

// verifyAgainstConnections checks the signature against every active
// connection of the company. Returns (verified, anySecretUsable).
func (h *Handler) verifyAgainstConnections(ctx context.Context, company *models.Company, headers http.Header, body []byte) (bool, bool) {
	var connections []models.Connection
	if err := h.db.Where("company_id = ? AND active = ?", company.ID, true).Find(&connections).Error; err != nil {
		log.Printf("Error loading connections for company %s: %v", company.ID, err)
		return false, false
	}

	usable := false
	for i := range connections {
		if connections[i].AppSecret == "" {
			continue
		}
		secret, err := h.cipher.Decrypt(connections[i].AppSecret)
		if err != nil {
			log.Printf("SECURITY: undecryptable app secret on connection %s: %v", connections[i].ID, err)
			continue
		}
		usable = true
		if err := NewSignatureVerifier(secret).Verify(headers, body); err == nil {
			return true, true
		}
	}
	return false, usable
}

func (h *Handler) companyBySlug(c *gin.Context, slug string) (*models.Company, error) {
	if slug == "" {
		return nil, gorm.ErrRecordNotFound
	}

	var company models.Company
	if id := h.cache.CompanyIDBySlug(c.Request.Context(), slug); id != "" {
		if err := h.db.First(&company, "id = ?", id).Error; err == nil {
			return &company, nil
		}
	}

	err := h.db.First(&company, "webhook_slug = ?", slug).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	h.cache.StoreCompanySlug(c.Request.Context(), slug, company.ID.String())
	return &company, nil
}
