package automation

import (
	"context"
	"encoding/json"
	"log"
	"regexp"
	"strings"

	"github.com/ag12x-gth/masteria-x-sub001/internal/models"
	"github.com/ag12x-gth/masteria-x-sub001/internal/secrets"
	"github.com/ag12x-gth/masteria-x-sub001/internal/whatsapp"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Engine evaluates a company's automation rules against newly stored inbound
// messages. It runs post-commit and fire-and-forget: a failure here never
// affects the stored message.
type Engine struct {
	db     *gorm.DB
	cipher *secrets.Cipher

	// SenderFor builds a Graph client for a connection; tests swap it out.
	SenderFor func(conn *models.Connection) (Sender, error)
}

// Sender is the outbound capability actions need.
type Sender interface {
	SendText(ctx context.Context, to, body string) (string, error)
}

func NewEngine(db *gorm.DB, cipher *secrets.Cipher) *Engine {
	e := &Engine{db: db, cipher: cipher}
	e.SenderFor = e.graphSender
	return e
}

func (e *Engine) graphSender(conn *models.Connection) (Sender, error) {
	token, err := e.cipher.Decrypt(conn.AccessToken)
	if err != nil {
		return nil, err
	}
	return whatsapp.NewClient(token, conn.PhoneNumberID), nil
}

// Condition represents a rule condition
type Condition struct {
	Type     string `json:"type"`     // keyword, message_type
	Operator string `json:"operator"` // equals, contains, starts_with, regex
	Value    string `json:"value"`
}

// Action represents an automation action
type Action struct {
	Type   string                 `json:"type"`   // send_message
	Params map[string]interface{} `json:"params"` // action-specific parameters
}

// OnInboundMessage processes a stored message through the company's rules.
func (e *Engine) OnInboundMessage(ctx context.Context, conversationID, messageID uuid.UUID) {
	var msg models.Message
	if err := e.db.First(&msg, "id = ?", messageID).Error; err != nil {
		log.Printf("Automation: error loading message %s: %v", messageID, err)
		return
	}
	var conv models.Conversation
	if err := e.db.First(&conv, "id = ?", conversationID).Error; err != nil {
		log.Printf("Automation: error loading conversation %s: %v", conversationID, err)
		return
	}

	var rules []models.AutomationRule
	err := e.db.Where("company_id = ? AND enabled = ?", conv.CompanyID, true).
		Order("priority desc").
		Find(&rules).Error
	if err != nil {
		log.Printf("Automation: error fetching rules: %v", err)
		return
	}

	for i := range rules {
		rule := &rules[i]
		if !e.evaluateConditions(rule.Conditions, msg.ContentType, msg.Content) {
			continue
		}
		log.Printf("Automation: rule %q matched for conversation %s", rule.Name, conv.ID)

		if err := e.executeActions(ctx, rule, &conv, &msg); err != nil {
			log.Printf("Automation: error executing actions for rule %q: %v", rule.Name, err)
			e.logExecution(rule, conv.ID, "action_failed", false, err.Error())
		} else {
			e.logExecution(rule, conv.ID, "action_executed", true, "")
		}

		// Stop after first matching rule
		break
	}
}

// evaluateConditions checks if all conditions are met (AND logic)
func (e *Engine) evaluateConditions(conditionsJSON, contentType, content string) bool {
	var conditions []Condition
	if err := json.Unmarshal([]byte(conditionsJSON), &conditions); err != nil {
		log.Printf("Automation: error parsing conditions: %v", err)
		return false
	}

	for _, cond := range conditions {
		if !e.evaluateSingleCondition(cond, contentType, content) {
			return false
		}
	}
	return true
}

func (e *Engine) evaluateSingleCondition(cond Condition, contentType, content string) bool {
	switch cond.Type {
	case "keyword":
		return matchKeyword(content, cond.Operator, cond.Value)
	case "message_type":
		return cond.Value == contentType
	default:
		log.Printf("Automation: unknown condition type: %s", cond.Type)
		return false
	}
}

// matchKeyword checks if message content matches a keyword condition
func matchKeyword(message, operator, value string) bool {
	message = strings.ToLower(strings.TrimSpace(message))
	value = strings.ToLower(value)

	switch operator {
	case "equals":
		return message == value
	case "contains":
		return strings.Contains(message, value)
	case "starts_with":
		return strings.HasPrefix(message, value)
	case "regex":
		matched, err := regexp.MatchString(value, message)
		if err != nil {
			log.Printf("Automation: invalid regex %q: %v", value, err)
			return false
		}
		return matched
	default:
		return false
	}
}

func (e *Engine) executeActions(ctx context.Context, rule *models.AutomationRule, conv *models.Conversation, msg *models.Message) error {
	var actions []Action
	if err := json.Unmarshal([]byte(rule.Actions), &actions); err != nil {
		return err
	}

	for _, action := range actions {
		switch action.Type {
		case "send_message":
			if err := e.sendReply(ctx, conv, action.Params); err != nil {
				return err
			}
		default:
			log.Printf("Automation: unknown action type: %s", action.Type)
		}
	}
	return nil
}

func (e *Engine) sendReply(ctx context.Context, conv *models.Conversation, params map[string]interface{}) error {
	body, _ := params["message"].(string)
	if body == "" {
		return nil
	}

	var conn models.Connection
	if err := e.db.First(&conn, "id = ?", conv.ConnectionID).Error; err != nil {
		return err
	}
	var contact models.Contact
	if err := e.db.First(&contact, "id = ?", conv.ContactID).Error; err != nil {
		return err
	}

	sender, err := e.SenderFor(&conn)
	if err != nil {
		return err
	}
	wamid, err := sender.SendText(ctx, contact.Phone, body)
	if err != nil {
		return err
	}

	// Record the agent reply so status callbacks can reconcile it later.
	reply := models.Message{
		ConversationID:    conv.ID,
		WhatsappMessageID: wamid,
		SenderType:        models.SenderSystem,
		Content:           body,
		ContentType:       "text",
		Status:            "sent",
	}
	if err := e.db.Create(&reply).Error; err != nil {
		log.Printf("Automation: error recording reply: %v", err)
	}
	return nil
}

func (e *Engine) logExecution(rule *models.AutomationRule, conversationID uuid.UUID, action string, success bool, errMsg string) {
	entry := models.AutomationLog{
		RuleID:         rule.ID,
		ConversationID: conversationID,
		TriggerType:    rule.Type,
		ActionTaken:    action,
		Success:        success,
		ErrorMessage:   errMsg,
	}
	if err := e.db.Create(&entry).Error; err != nil {
		log.Printf("Automation: error writing log entry: %v", err)
	}
}
