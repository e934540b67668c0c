package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ag12x-gth/masteria-x-sub001/internal/cache"
	"github.com/ag12x-gth/masteria-x-sub001/internal/database"
	"github.com/ag12x-gth/masteria-x-sub001/internal/models"
	"github.com/ag12x-gth/masteria-x-sub001/internal/secrets"
	pkgmodels "github.com/ag12x-gth/masteria-x-sub001/pkg/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	testAppSecret     = "test-app-secret"
	testAccessToken   = "test-access-token"
	testPhoneNumberID = "109876543210000"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	return db
}

type fakeFetcher struct {
	data        []byte
	contentType string
	resolveErr  error
	downloadErr error
}

func (f *fakeFetcher) RetrieveMediaURL(ctx context.Context, mediaID string) (string, error) {
	if f.resolveErr != nil {
		return "", f.resolveErr
	}
	return "https://lookaside.example/media/" + mediaID, nil
}

func (f *fakeFetcher) DownloadMedia(ctx context.Context, url string) ([]byte, string, error) {
	if f.downloadErr != nil {
		return nil, "", f.downloadErr
	}
	return f.data, f.contentType, nil
}

type fakeStore struct {
	keys []string
	err  error
}

func (s *fakeStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.keys = append(s.keys, key)
	return "https://cdn.example/" + key, nil
}

type testEnv struct {
	t         *testing.T
	db        *gorm.DB
	cipher    *secrets.Cipher
	processor *Processor
	fetcher   *fakeFetcher
	store     *fakeStore
	company   models.Company
	conn      models.Connection
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)

	cipher, err := secrets.NewCipher("test-encryption-key")
	if err != nil {
		t.Fatalf("creating cipher: %v", err)
	}

	company := models.Company{
		Name:               "Empresa Teste",
		WebhookSlug:        "empresa-teste",
		WebhookVerifyToken: "verify-me",
	}
	if err := db.Create(&company).Error; err != nil {
		t.Fatalf("creating company: %v", err)
	}

	encToken, _ := cipher.Encrypt(testAccessToken)
	encSecret, _ := cipher.Encrypt(testAppSecret)
	conn := models.Connection{
		CompanyID:     company.ID,
		Name:          "Principal",
		PhoneNumberID: testPhoneNumberID,
		AccessToken:   encToken,
		AppSecret:     encSecret,
		Active:        true,
	}
	if err := db.Create(&conn).Error; err != nil {
		t.Fatalf("creating connection: %v", err)
	}

	fetcher := &fakeFetcher{data: []byte("media-bytes"), contentType: "image/jpeg"}
	store := &fakeStore{}

	processor := NewProcessor(db, cipher, store, cache.New("", ""))
	processor.MediaFetcherFor = func(*models.Connection) (MediaFetcher, error) {
		return fetcher, nil
	}

	return &testEnv{
		t:         t,
		db:        db,
		cipher:    cipher,
		processor: processor,
		fetcher:   fetcher,
		store:     store,
		company:   company,
		conn:      conn,
	}
}

// process persists a payload as an outbox event and runs it synchronously,
// returning the finished event row.
func (e *testEnv) process(payload pkgmodels.WebhookPayload) models.WebhookEvent {
	e.t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		e.t.Fatalf("marshaling payload: %v", err)
	}
	event := models.WebhookEvent{
		CompanyID: e.company.ID,
		Payload:   string(raw),
		Status:    models.EventPending,
	}
	if err := e.db.Create(&event).Error; err != nil {
		e.t.Fatalf("creating webhook event: %v", err)
	}
	e.processor.Run(context.Background(), event.ID)
	if err := e.db.First(&event, "id = ?", event.ID).Error; err != nil {
		e.t.Fatalf("reloading webhook event: %v", err)
	}
	return event
}

func (e *testEnv) countRows(model interface{}) int64 {
	e.t.Helper()
	var count int64
	if err := e.db.Model(model).Count(&count).Error; err != nil {
		e.t.Fatalf("counting rows: %v", err)
	}
	return count
}

func textMessagePayload(from, name, wamid, body string) pkgmodels.WebhookPayload {
	return messagesPayload(from, name, pkgmodels.InboundMessage{
		From:      from,
		ID:        wamid,
		Timestamp: fmt.Sprintf("%d", time.Now().Unix()),
		Type:      "text",
		Text:      &pkgmodels.TextMessage{Body: body},
	})
}

func messagesPayload(from, name string, msgs ...pkgmodels.InboundMessage) pkgmodels.WebhookPayload {
	value := pkgmodels.Value{
		MessagingProduct: "whatsapp",
		Metadata:         &pkgmodels.Metadata{PhoneNumberID: testPhoneNumberID},
		Messages:         msgs,
	}
	if name != "" {
		contact := pkgmodels.ProfileContact{WaID: from}
		contact.Profile.Name = name
		value.Contacts = []pkgmodels.ProfileContact{contact}
	}
	return pkgmodels.WebhookPayload{
		Object: pkgmodels.ObjectWhatsAppBusinessAccount,
		Entry: []pkgmodels.Entry{{
			ID:      "waba-entry",
			Changes: []pkgmodels.Change{{Field: "messages", Value: value}},
		}},
	}
}

func statusPayload(wamid, status, timestamp string) pkgmodels.WebhookPayload {
	return pkgmodels.WebhookPayload{
		Object: pkgmodels.ObjectWhatsAppBusinessAccount,
		Entry: []pkgmodels.Entry{{
			ID: "waba-entry",
			Changes: []pkgmodels.Change{{
				Field: "messages",
				Value: pkgmodels.Value{
					MessagingProduct: "whatsapp",
					Metadata:         &pkgmodels.Metadata{PhoneNumberID: testPhoneNumberID},
					Statuses: []pkgmodels.Status{{
						ID:        wamid,
						Status:    status,
						Timestamp: timestamp,
					}},
				},
			}},
		}},
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}
