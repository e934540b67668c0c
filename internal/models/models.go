package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Conversation statuses
const (
	ConversationInProgress = "in_progress"
	ConversationResolved   = "resolved"
	ConversationArchived   = "archived"
)

// Message sender types
const (
	SenderUser   = "user"
	SenderAgent  = "agent"
	SenderSystem = "system"
)

// Webhook event statuses
const (
	EventPending    = "pending"
	EventProcessing = "processing"
	EventProcessed  = "processed"
	EventFailed     = "failed"
)

// Company is a tenant. All other rows hang off it.
type Company struct {
	ID                 uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name               string    `gorm:"type:varchar(255);not null" json:"name"`
	WebhookSlug        string    `gorm:"type:varchar(100);not null;uniqueIndex" json:"webhook_slug"`
	WebhookVerifyToken string    `gorm:"type:varchar(255)" json:"-"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Company) TableName() string {
	return "companies"
}

func (c *Company) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// Connection binds a company to one WhatsApp Business phone number.
// AccessToken and AppSecret are stored encrypted (AES-GCM, base64).
type Connection struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CompanyID     uuid.UUID `gorm:"type:uuid;not null;index" json:"company_id"`
	Name          string    `gorm:"type:varchar(255)" json:"name"`
	PhoneNumberID string    `gorm:"type:varchar(100);not null;index" json:"phone_number_id"`
	WabaID        string    `gorm:"type:varchar(100)" json:"waba_id"`
	AccessToken   string    `gorm:"type:text" json:"-"`
	AppSecret     string    `gorm:"type:text" json:"-"`
	Active        bool      `gorm:"default:true" json:"active"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Connection) TableName() string {
	return "connections"
}

func (c *Connection) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// Contact is unique per (company, canonical phone).
type Contact struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	CompanyID       uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:ux_company_phone,priority:1" json:"company_id"`
	Phone           string     `gorm:"type:varchar(30);not null;uniqueIndex:ux_company_phone,priority:2" json:"phone"`
	Name            string     `gorm:"type:varchar(255)" json:"name"`
	WhatsappName    string     `gorm:"type:varchar(255)" json:"whatsapp_name"`
	ProfileSyncedAt *time.Time `json:"profile_synced_at"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Contact) TableName() string {
	return "contacts"
}

func (c *Contact) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// Conversation links one contact to one connection, unique per pair.
type Conversation struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CompanyID     uuid.UUID `gorm:"type:uuid;not null;index" json:"company_id"`
	ContactID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:ux_contact_connection,priority:1" json:"contact_id"`
	ConnectionID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:ux_contact_connection,priority:2" json:"connection_id"`
	Status        string    `gorm:"type:varchar(20);default:'in_progress'" json:"status"`
	Archived      bool      `gorm:"default:false" json:"archived"`
	LastMessageAt time.Time `json:"last_message_at"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Conversation) TableName() string {
	return "conversations"
}

func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// Message belongs to a conversation. WhatsappMessageID is the provider's
// wamid, the sole correlation key for later status callbacks; never updated.
type Message struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID    uuid.UUID  `gorm:"type:uuid;not null;index" json:"conversation_id"`
	WhatsappMessageID string     `gorm:"type:varchar(255);index" json:"whatsapp_message_id"`
	SenderType        string     `gorm:"type:varchar(20);not null" json:"sender_type"`
	Content           string     `gorm:"type:text" json:"content"`
	ContentType       string     `gorm:"type:varchar(50)" json:"content_type"`
	MediaURL          string     `gorm:"type:text" json:"media_url"`
	RepliedToID       *uuid.UUID `gorm:"type:uuid" json:"replied_to_id"`
	Status            string     `gorm:"type:varchar(20);default:'received'" json:"status"`
	FailureReason     string     `gorm:"type:text" json:"failure_reason"`
	ReadAt            *time.Time `json:"read_at"`
	SentAt            time.Time  `json:"sent_at"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Message) TableName() string {
	return "messages"
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// Campaign is a bulk send batch.
type Campaign struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CompanyID    uuid.UUID `gorm:"type:uuid;not null;index" json:"company_id"`
	Name         string    `gorm:"type:varchar(255);not null" json:"name"`
	TemplateName string    `gorm:"type:varchar(255)" json:"template_name"`
	Language     string    `gorm:"type:varchar(20)" json:"language"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Campaign) TableName() string {
	return "campaigns"
}

func (c *Campaign) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// CampaignMessage is the delivery report for one campaign recipient. It is
// reconciled by WhatsappMessageID, same as Message, but the two tables hold
// disjoint message categories.
type CampaignMessage struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	CampaignID        uuid.UUID  `gorm:"type:uuid;not null;index" json:"campaign_id"`
	CompanyID         uuid.UUID  `gorm:"type:uuid;not null;index" json:"company_id"`
	ContactPhone      string     `gorm:"type:varchar(30)" json:"contact_phone"`
	WhatsappMessageID string     `gorm:"type:varchar(255);index" json:"whatsapp_message_id"`
	Status            string     `gorm:"type:varchar(20);default:'sent'" json:"status"`
	FailureReason     string     `gorm:"type:text" json:"failure_reason"`
	DeliveredAt       *time.Time `json:"delivered_at"`
	ReadAt            *time.Time `json:"read_at"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CampaignMessage) TableName() string {
	return "campaign_messages"
}

func (c *CampaignMessage) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// WebhookEvent is the outbox row persisted in the fast-ack path. The
// dispatcher retries rows that the in-request goroutine never finished.
type WebhookEvent struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	CompanyID   uuid.UUID  `gorm:"type:uuid;not null;index" json:"company_id"`
	Payload     string     `gorm:"type:text;not null" json:"payload"`
	Status      string     `gorm:"type:varchar(20);default:'pending';index" json:"status"`
	Attempts    int        `gorm:"default:0" json:"attempts"`
	LastError   string     `gorm:"type:text" json:"last_error"`
	ProcessedAt *time.Time `json:"processed_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WebhookEvent) TableName() string {
	return "webhook_events"
}

func (e *WebhookEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// WebhookLog is a write-only raw payload archive for audit/debugging.
type WebhookLog struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CompanyID  uuid.UUID `gorm:"type:uuid;not null;index" json:"company_id"`
	Payload    string    `gorm:"type:text" json:"payload"`
	ReceivedAt time.Time `gorm:"autoCreateTime" json:"received_at"`
}

func (WebhookLog) TableName() string {
	return "webhook_logs"
}

func (l *WebhookLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// AutomationRule is a keyword-triggered rule evaluated on inbound messages.
type AutomationRule struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CompanyID  uuid.UUID `gorm:"type:uuid;not null;index" json:"company_id"`
	Name       string    `gorm:"type:varchar(255);not null" json:"name"`
	Type       string    `gorm:"type:varchar(50);not null" json:"type"`
	Enabled    bool      `gorm:"default:true" json:"enabled"`
	Priority   int       `gorm:"default:0" json:"priority"`
	Conditions string    `gorm:"type:text" json:"conditions"` // JSON conditions
	Actions    string    `gorm:"type:text" json:"actions"`    // JSON actions
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (AutomationRule) TableName() string {
	return "automation_rules"
}

func (r *AutomationRule) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// AutomationLog records one rule execution.
type AutomationLog struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RuleID         uuid.UUID `gorm:"type:uuid;index" json:"rule_id"`
	ConversationID uuid.UUID `gorm:"type:uuid;index" json:"conversation_id"`
	TriggerType    string    `gorm:"type:varchar(50)" json:"trigger_type"`
	ActionTaken    string    `gorm:"type:text" json:"action_taken"`
	Success        bool      `json:"success"`
	ErrorMessage   string    `gorm:"type:text" json:"error_message"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (AutomationLog) TableName() string {
	return "automation_logs"
}

func (l *AutomationLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
