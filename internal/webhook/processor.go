package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/ag12x-gth/masteria-x-sub001/internal/cache"
	"github.com/ag12x-gth/masteria-x-sub001/internal/models"
	"github.com/ag12x-gth/masteria-x-sub001/internal/phone"
	"github.com/ag12x-gth/masteria-x-sub001/internal/secrets"
	"github.com/ag12x-gth/masteria-x-sub001/internal/storage"
	"github.com/ag12x-gth/masteria-x-sub001/internal/whatsapp"
	pkgmodels "github.com/ag12x-gth/masteria-x-sub001/pkg/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const maxEventAttempts = 5

// MediaFetcher resolves an ephemeral media ID to bytes via the Graph API.
type MediaFetcher interface {
	RetrieveMediaURL(ctx context.Context, mediaID string) (string, error)
	DownloadMedia(ctx context.Context, url string) ([]byte, string, error)
}

// Processor runs the normalization pipeline for verified webhook events:
// contact resolution, conversation upsert, media persistence and the
// message/status writes. One Processor serves all tenants.
type Processor struct {
	db     *gorm.DB
	cipher *secrets.Cipher
	store  storage.ObjectStore
	cache  *cache.Cache

	// MediaFetcherFor builds a Graph client for a connection. Tests swap it
	// for a fake.
	MediaFetcherFor func(conn *models.Connection) (MediaFetcher, error)

	// OnMessageStored fires after the transaction that persisted a new
	// inbound message commits. Called on a detached goroutine; failures never
	// roll back the stored message.
	OnMessageStored func(conv models.Conversation, msg models.Message)
}

func NewProcessor(db *gorm.DB, cipher *secrets.Cipher, store storage.ObjectStore, c *cache.Cache) *Processor {
	p := &Processor{
		db:     db,
		cipher: cipher,
		store:  store,
		cache:  c,
	}
	p.MediaFetcherFor = p.graphFetcher
	return p
}

func (p *Processor) graphFetcher(conn *models.Connection) (MediaFetcher, error) {
	token, err := p.cipher.Decrypt(conn.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("decrypting access token for connection %s: %w", conn.ID, err)
	}
	return whatsapp.NewClient(token, conn.PhoneNumberID), nil
}

// Run claims an outbox event and processes it. Both the post-ack goroutine
// and the dispatcher go through here; the conditional claim keeps them from
// double-processing the same row.
func (p *Processor) Run(ctx context.Context, eventID uuid.UUID) {
	claim := p.db.Model(&models.WebhookEvent{}).
		Where("id = ? AND status = ?", eventID, models.EventPending).
		Updates(map[string]interface{}{
			"status":   models.EventProcessing,
			"attempts": gorm.Expr("attempts + 1"),
		})
	if claim.Error != nil {
		log.Printf("Error claiming webhook event %s: %v", eventID, claim.Error)
		return
	}
	if claim.RowsAffected == 0 {
		return
	}

	var event models.WebhookEvent
	if err := p.db.First(&event, "id = ?", eventID).Error; err != nil {
		log.Printf("Error loading webhook event %s: %v", eventID, err)
		return
	}

	err := p.processEvent(ctx, &event)
	if err == nil {
		now := time.Now()
		p.db.Model(&event).Updates(map[string]interface{}{
			"status":       models.EventProcessed,
			"processed_at": &now,
			"last_error":   "",
		})
		return
	}

	// The provider already got its 200; the outbox retry is the only
	// recovery path left, so this must be visible in the logs.
	log.Printf("ERROR processing webhook event %s (attempt %d): %v", event.ID, event.Attempts, err)
	status := models.EventPending
	if event.Attempts >= maxEventAttempts {
		status = models.EventFailed
		log.Printf("ERROR webhook event %s exhausted %d attempts, giving up", event.ID, event.Attempts)
	}
	p.db.Model(&event).Updates(map[string]interface{}{
		"status":     status,
		"last_error": err.Error(),
	})
}

func (p *Processor) processEvent(ctx context.Context, event *models.WebhookEvent) error {
	var payload pkgmodels.WebhookPayload
	if err := json.Unmarshal([]byte(event.Payload), &payload); err != nil {
		log.Printf("Dropping undecodable webhook payload %s: %v", event.ID, err)
		return nil
	}
	if payload.Object != pkgmodels.ObjectWhatsAppBusinessAccount {
		return nil
	}

	var company models.Company
	if err := p.db.First(&company, "id = ?", event.CompanyID).Error; err != nil {
		return fmt.Errorf("loading company %s: %w", event.CompanyID, err)
	}

	// Entries and changes are applied sequentially in array order; a
	// messages change and a statuses change in one payload must land in the
	// order Meta emitted them.
	var firstErr error
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			value := change.Value

			if len(value.Messages) > 0 {
				conn, err := p.connectionForValue(&company, &value)
				if err != nil {
					log.Printf("Dropping messages change for company %s: %v", company.ID, err)
				} else {
					for i := range value.Messages {
						if err := p.handleInboundMessage(ctx, &company, conn, &value, &value.Messages[i]); err != nil && firstErr == nil {
							firstErr = err
						}
					}
				}
			}

			for i := range value.Statuses {
				if err := p.handleStatus(ctx, company.ID, &value.Statuses[i]); err != nil && firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	return firstErr
}

// connectionForValue maps the change's phone_number_id to the company's
// active connection. Missing metadata makes the change malformed.
func (p *Processor) connectionForValue(company *models.Company, value *pkgmodels.Value) (*models.Connection, error) {
	if value.Metadata == nil || value.Metadata.PhoneNumberID == "" {
		return nil, errors.New("change has no metadata.phone_number_id")
	}
	var conn models.Connection
	err := p.db.Where("company_id = ? AND phone_number_id = ? AND active = ?",
		company.ID, value.Metadata.PhoneNumberID, true).First(&conn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("no active connection for phone number id %s", value.Metadata.PhoneNumberID)
	}
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

func (p *Processor) handleInboundMessage(ctx context.Context, company *models.Company, conn *models.Connection, value *pkgmodels.Value, msg *pkgmodels.InboundMessage) error {
	digits, ok := phone.Sanitize(msg.From)
	if !ok {
		log.Printf("Dropping message %s: implausible phone %q", msg.ID, msg.From)
		return nil
	}

	if p.cache.IsMessageSeen(ctx, msg.ID) {
		return nil
	}
	seen, err := p.inboundMessageExists(company.ID, msg.ID)
	if err != nil {
		return fmt.Errorf("checking for duplicate message %s: %w", msg.ID, err)
	}
	if seen {
		return nil
	}

	profileName := profileNameFor(value.Contacts, msg.From)
	eventTime := timestampOrNow(msg.Timestamp)

	// Media runs before and outside the transaction: losing the attachment
	// is preferable to losing the fact that a message arrived.
	mediaURL := p.fetchAndPersistMedia(ctx, company, conn, msg)

	var storedMsg models.Message
	var storedConv models.Conversation
	txErr := p.db.Transaction(func(tx *gorm.DB) error {
		contact, err := p.resolveContact(tx, company.ID, digits, profileName)
		if err != nil {
			return err
		}

		conv, err := p.upsertConversation(tx, company.ID, contact.ID, conn.ID, eventTime)
		if err != nil {
			return err
		}

		content, contentType := summarizeContent(msg)
		record := models.Message{
			ConversationID:    conv.ID,
			WhatsappMessageID: msg.ID,
			SenderType:        models.SenderUser,
			Content:           content,
			ContentType:       contentType,
			MediaURL:          mediaURL,
			RepliedToID:       p.resolveReplyReference(tx, company.ID, msg.Context),
			Status:            "received",
			SentAt:            eventTime,
		}
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("inserting message %s: %w", msg.ID, err)
		}

		storedMsg = record
		storedConv = *conv
		return nil
	})
	if txErr != nil {
		return txErr
	}

	p.cache.MarkMessageSeen(ctx, msg.ID)
	if p.OnMessageStored != nil {
		go p.OnMessageStored(storedConv, storedMsg)
	}
	return nil
}

func (p *Processor) inboundMessageExists(companyID uuid.UUID, wamid string) (bool, error) {
	var count int64
	err := p.db.Model(&models.Message{}).
		Where("whatsapp_message_id = ? AND sender_type = ? AND conversation_id IN (?)",
			wamid, models.SenderUser, p.conversationIDs(companyID)).
		Count(&count).Error
	return count > 0, err
}

func (p *Processor) conversationIDs(companyID uuid.UUID) *gorm.DB {
	return p.db.Model(&models.Conversation{}).Select("id").Where("company_id = ?", companyID)
}

// resolveContact finds the contact under any equivalent phone spelling, or
// creates it under the canonical one. The variant lookup is what keeps a
// number with and without the ninth digit from becoming two contacts.
func (p *Processor) resolveContact(tx *gorm.DB, companyID uuid.UUID, digits, profileName string) (*models.Contact, error) {
	variants := phone.Variants(digits)

	var contact models.Contact
	err := tx.Where("company_id = ? AND phone IN ?", companyID, variants).First(&contact).Error
	if err == nil {
		now := time.Now()
		updates := map[string]interface{}{"profile_synced_at": &now}
		if profileName != "" {
			updates["whatsapp_name"] = profileName
		}
		if err := tx.Model(&contact).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("updating contact %s: %w", contact.ID, err)
		}
		return &contact, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("looking up contact: %w", err)
	}

	canonical := phone.Canonical(digits)
	name := profileName
	if name == "" {
		name = canonical
	}
	now := time.Now()
	contact = models.Contact{
		CompanyID:       companyID,
		Phone:           canonical,
		Name:            name,
		WhatsappName:    profileName,
		ProfileSyncedAt: &now,
	}
	if err := tx.Create(&contact).Error; err != nil {
		return nil, fmt.Errorf("creating contact: %w", err)
	}
	return &contact, nil
}

// upsertConversation reopens the thread for the (contact, connection) pair or
// creates it. An incoming message always clears archived state.
func (p *Processor) upsertConversation(tx *gorm.DB, companyID, contactID, connectionID uuid.UUID, eventTime time.Time) (*models.Conversation, error) {
	var conv models.Conversation
	err := tx.Where("contact_id = ? AND connection_id = ?", contactID, connectionID).First(&conv).Error
	if err == nil {
		conv.Status = models.ConversationInProgress
		conv.Archived = false
		conv.LastMessageAt = eventTime
		if err := tx.Save(&conv).Error; err != nil {
			return nil, fmt.Errorf("reopening conversation %s: %w", conv.ID, err)
		}
		return &conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("looking up conversation: %w", err)
	}

	conv = models.Conversation{
		CompanyID:     companyID,
		ContactID:     contactID,
		ConnectionID:  connectionID,
		Status:        models.ConversationInProgress,
		LastMessageAt: eventTime,
	}
	if err := tx.Create(&conv).Error; err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	return &conv, nil
}

// resolveReplyReference maps the provider's reply context to an internal
// message ID. A miss just leaves the thread reference null.
func (p *Processor) resolveReplyReference(tx *gorm.DB, companyID uuid.UUID, ctxRef *pkgmodels.MessageContext) *uuid.UUID {
	if ctxRef == nil || ctxRef.ID == "" {
		return nil
	}
	var ref models.Message
	err := tx.Where("whatsapp_message_id = ? AND conversation_id IN (?)",
		ctxRef.ID, tx.Session(&gorm.Session{NewDB: true}).Model(&models.Conversation{}).Select("id").Where("company_id = ?", companyID)).
		First(&ref).Error
	if err != nil {
		return nil
	}
	return &ref.ID
}

func (p *Processor) fetchAndPersistMedia(ctx context.Context, company *models.Company, conn *models.Connection, msg *pkgmodels.InboundMessage) string {
	media := mediaPayload(msg)
	if media == nil {
		return ""
	}

	fetcher, err := p.MediaFetcherFor(conn)
	if err != nil {
		log.Printf("Media skipped for message %s: %v", msg.ID, err)
		return ""
	}

	downloadURL, err := fetcher.RetrieveMediaURL(ctx, media.ID)
	if err != nil {
		log.Printf("Error resolving media %s for message %s: %v", media.ID, msg.ID, err)
		return ""
	}

	data, contentType, err := fetcher.DownloadMedia(ctx, downloadURL)
	if err != nil {
		log.Printf("Error downloading media %s for message %s: %v", media.ID, msg.ID, err)
		return ""
	}
	if contentType == "" {
		contentType = media.MimeType
	}

	ext := storage.ExtensionFromContentType(contentType)
	key := fmt.Sprintf("%s/messages/%s.%s", company.ID, sanitizeKeyPart(msg.ID), ext)
	permanentURL, err := p.store.Put(ctx, key, data, contentType)
	if err != nil {
		log.Printf("Error storing media for message %s: %v", msg.ID, err)
		return ""
	}
	return permanentURL
}

// mediaPayload returns the media object for media-bearing message types.
func mediaPayload(msg *pkgmodels.InboundMessage) *pkgmodels.MediaMessage {
	switch msg.Type {
	case "image":
		return msg.Image
	case "video":
		return msg.Video
	case "audio":
		return msg.Audio
	case "document":
		return msg.Document
	default:
		return nil
	}
}

// handleStatus reconciles a delivery-status callback against live chat
// messages first and campaign delivery reports second. The two tables hold
// disjoint message categories, so the first hit short-circuits.
func (p *Processor) handleStatus(ctx context.Context, companyID uuid.UUID, st *pkgmodels.Status) error {
	if st.ID == "" || st.Status == "" {
		log.Printf("Dropping malformed status callback for company %s", companyID)
		return nil
	}
	eventTime := timestampOrNow(st.Timestamp)

	updates := map[string]interface{}{"status": st.Status}
	switch st.Status {
	case "read":
		updates["read_at"] = &eventTime
	case "failed":
		updates["failure_reason"] = failureReason(st.Errors)
	}

	res := p.db.Model(&models.Message{}).
		Where("whatsapp_message_id = ? AND conversation_id IN (?)", st.ID, p.conversationIDs(companyID)).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("updating message status for %s: %w", st.ID, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	campaignUpdates := map[string]interface{}{"status": st.Status}
	switch st.Status {
	case "delivered":
		campaignUpdates["delivered_at"] = &eventTime
	case "read":
		campaignUpdates["read_at"] = &eventTime
	case "failed":
		campaignUpdates["failure_reason"] = failureReason(st.Errors)
	}

	res = p.db.Model(&models.CampaignMessage{}).
		Where("whatsapp_message_id = ? AND company_id = ?", st.ID, companyID).
		Updates(campaignUpdates)
	if res.Error != nil {
		return fmt.Errorf("updating delivery report for %s: %w", st.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		// Provider won't resend this in a useful way; informational only.
		log.Printf("Status callback %s (%s) matched no message or delivery report, dropping", st.ID, st.Status)
	}
	return nil
}

// summarizeContent builds the human-readable content and content type for an
// inbound message, dispatching on the provider message type.
func summarizeContent(msg *pkgmodels.InboundMessage) (string, string) {
	switch msg.Type {
	case "text":
		if msg.Text != nil {
			return msg.Text.Body, "text"
		}
	case "button":
		if msg.Button != nil {
			return msg.Button.Text, "button"
		}
	case "interactive":
		if msg.Interactive != nil {
			if msg.Interactive.ButtonReply != nil {
				return msg.Interactive.ButtonReply.Title, "interactive"
			}
			if msg.Interactive.ListReply != nil {
				return msg.Interactive.ListReply.Title, "interactive"
			}
		}
	case "image":
		if msg.Image != nil && msg.Image.Caption != "" {
			return msg.Image.Caption, "image"
		}
		return "📷 Imagem", "image"
	case "video":
		if msg.Video != nil && msg.Video.Caption != "" {
			return msg.Video.Caption, "video"
		}
		return "🎥 Vídeo", "video"
	case "audio":
		return "🎵 Áudio", "audio"
	case "document":
		if msg.Document != nil {
			if msg.Document.Caption != "" {
				return msg.Document.Caption, "document"
			}
			if msg.Document.Filename != "" {
				return msg.Document.Filename, "document"
			}
		}
		return "📄 Documento", "document"
	case "sticker":
		return "🖼️ Figurinha", "sticker"
	case "location":
		return "📍 Localização", "location"
	case "contacts":
		return "👤 Contato", "contacts"
	}
	return "[" + msg.Type + "]", msg.Type
}

func profileNameFor(contacts []pkgmodels.ProfileContact, waID string) string {
	for _, c := range contacts {
		if c.WaID == waID {
			return c.Profile.Name
		}
	}
	return ""
}

func failureReason(errs []pkgmodels.StatusError) string {
	if len(errs) == 0 {
		return "unknown error"
	}
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		part := e.Title
		if e.Message != "" && e.Message != e.Title {
			part = fmt.Sprintf("%s: %s", e.Title, e.Message)
		}
		parts = append(parts, fmt.Sprintf("(%d) %s", e.Code, part))
	}
	return strings.Join(parts, "; ")
}

// timestampOrNow parses the provider's epoch-seconds string.
func timestampOrNow(ts string) time.Time {
	if ts == "" {
		return time.Now()
	}
	epoch, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Now()
	}
	return time.Unix(epoch, 0)
}

func sanitizeKeyPart(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
