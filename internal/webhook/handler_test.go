package webhook

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ag12x-gth/masteria-x-sub001/internal/cache"
	"github.com/ag12x-gth/masteria-x-sub001/internal/models"

	"github.com/gin-gonic/gin"
)

func newTestRouter(env *testEnv) *gin.Engine {
	gin.SetMode(gin.TestMode)
	handler := NewHandler(env.db, env.cipher, cache.New("", ""), env.processor)
	r := gin.New()
	r.GET("/webhooks/meta/:slug", handler.VerifyWebhook)
	r.POST("/webhooks/meta/:slug", handler.HandleEvents)
	return r
}

func TestVerifyWebhookHandshake(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(env)

	tests := []struct {
		name     string
		url      string
		wantCode int
		wantBody string
	}{
		{
			name:     "valid handshake echoes challenge",
			url:      "/webhooks/meta/empresa-teste?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345",
			wantCode: http.StatusOK,
			wantBody: "12345",
		},
		{
			name:     "wrong token",
			url:      "/webhooks/meta/empresa-teste?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345",
			wantCode: http.StatusForbidden,
		},
		{
			name:     "missing mode",
			url:      "/webhooks/meta/empresa-teste?hub.verify_token=verify-me&hub.challenge=12345",
			wantCode: http.StatusForbidden,
		},
		{
			name:     "unknown slug",
			url:      "/webhooks/meta/nao-existe?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345",
			wantCode: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			router.ServeHTTP(w, req)

			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if tt.wantBody != "" && w.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", w.Body.String(), tt.wantBody)
			}
		})
	}
}

func postWebhook(router *gin.Engine, slug string, body []byte, signature string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/meta/"+slug, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	router.ServeHTTP(w, req)
	return w
}

func TestHandleEventsRejectsUnknownSlug(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(env)

	body := []byte(`{"object":"whatsapp_business_account","entry":[]}`)
	w := postWebhook(router, "nao-existe", body, Sign(testAppSecret, body))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestHandleEventsRejectsMissingSignature(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(env)

	body := []byte(`{"object":"whatsapp_business_account","entry":[]}`)
	w := postWebhook(router, "empresa-teste", body, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if got := env.countRows(&models.WebhookEvent{}); got != 0 {
		t.Errorf("event count = %d, want 0 for unauthenticated delivery", got)
	}
}

func TestHandleEventsRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(env)

	body := []byte(`{"object":"whatsapp_business_account","entry":[]}`)
	w := postWebhook(router, "empresa-teste", body, Sign("some-other-secret", body))
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
	if got := env.countRows(&models.WebhookEvent{}); got != 0 {
		t.Errorf("event count = %d, want 0 for forged delivery", got)
	}
	if got := env.countRows(&models.WebhookLog{}); got != 0 {
		t.Errorf("log count = %d, want 0 for forged delivery", got)
	}
}

func TestHandleEventsAcksAndProcesses(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(env)

	body, err := json.Marshal(textMessagePayload("5511987654321", "Cliente Teste", "wamid.HTTP", "Olá"))
	if err != nil {
		t.Fatalf("marshaling payload: %v", err)
	}

	w := postWebhook(router, "empresa-teste", body, Sign(testAppSecret, body))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	if got := env.countRows(&models.WebhookEvent{}); got != 1 {
		t.Fatalf("event count = %d, want 1", got)
	}
	if got := env.countRows(&models.WebhookLog{}); got != 1 {
		t.Errorf("log count = %d, want 1", got)
	}

	// Processing happens off the response path.
	waitFor(t, 3*time.Second, func() bool {
		var event models.WebhookEvent
		if err := env.db.First(&event).Error; err != nil {
			return false
		}
		return event.Status == models.EventProcessed
	})

	var msg models.Message
	if err := env.db.First(&msg, "whatsapp_message_id = ?", "wamid.HTTP").Error; err != nil {
		t.Fatalf("message never persisted: %v", err)
	}
}

func TestHandleEventsSecondConnectionSecret(t *testing.T) {
	env := newTestEnv(t)

	// A second connection with its own secret; a delivery signed with either
	// secret must be accepted.
	otherSecret := "second-app-secret"
	encToken, _ := env.cipher.Encrypt(testAccessToken)
	encSecret, _ := env.cipher.Encrypt(otherSecret)
	second := models.Connection{
		CompanyID:     env.company.ID,
		Name:          "Secundária",
		PhoneNumberID: "558877665544000",
		AccessToken:   encToken,
		AppSecret:     encSecret,
		Active:        true,
	}
	if err := env.db.Create(&second).Error; err != nil {
		t.Fatalf("creating second connection: %v", err)
	}

	router := newTestRouter(env)
	body := []byte(`{"object":"whatsapp_business_account","entry":[]}`)
	w := postWebhook(router, "empresa-teste", body, Sign(otherSecret, body))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}
