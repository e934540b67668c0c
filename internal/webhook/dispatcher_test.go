package webhook

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ag12x-gth/masteria-x-sub001/internal/models"

	"github.com/google/uuid"
)

// pendingEvent persists an outbox row aged past the dispatcher's claim
// window without running it.
func pendingEvent(t *testing.T, env *testEnv, companyID uuid.UUID, payload interface{}) models.WebhookEvent {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshaling payload: %v", err)
	}
	event := models.WebhookEvent{
		CompanyID: companyID,
		Payload:   string(raw),
		Status:    models.EventPending,
	}
	if err := env.db.Create(&event).Error; err != nil {
		t.Fatalf("creating webhook event: %v", err)
	}
	ageEvent(t, env, event.ID, time.Minute)
	return event
}

func ageEvent(t *testing.T, env *testEnv, id uuid.UUID, age time.Duration) {
	t.Helper()
	err := env.db.Model(&models.WebhookEvent{}).Where("id = ?", id).
		UpdateColumn("updated_at", time.Now().Add(-age)).Error
	if err != nil {
		t.Fatalf("aging event: %v", err)
	}
}

func TestDispatcherPicksUpStalePendingEvent(t *testing.T) {
	env := newTestEnv(t)
	dispatcher := NewDispatcher(env.db, env.processor)

	event := pendingEvent(t, env, env.company.ID,
		textMessagePayload("5511987654321", "Cliente", "wamid.OUTBOX", "perdida e recuperada"))

	dispatcher.Tick(context.Background())

	var reloaded models.WebhookEvent
	if err := env.db.First(&reloaded, "id = ?", event.ID).Error; err != nil {
		t.Fatalf("reloading event: %v", err)
	}
	if reloaded.Status != models.EventProcessed {
		t.Errorf("event status = %q, want %q (last error: %s)", reloaded.Status, models.EventProcessed, reloaded.LastError)
	}
	if got := env.countRows(&models.Message{}); got != 1 {
		t.Errorf("message count = %d, want 1", got)
	}
}

func TestDispatcherSkipsFreshPendingEvent(t *testing.T) {
	env := newTestEnv(t)
	dispatcher := NewDispatcher(env.db, env.processor)

	// Freshly created: the in-request goroutine is presumed to still own it.
	raw, _ := json.Marshal(textMessagePayload("5511987654321", "Cliente", "wamid.FRESH", "oi"))
	event := models.WebhookEvent{CompanyID: env.company.ID, Payload: string(raw), Status: models.EventPending}
	if err := env.db.Create(&event).Error; err != nil {
		t.Fatalf("creating webhook event: %v", err)
	}

	dispatcher.Tick(context.Background())

	var reloaded models.WebhookEvent
	env.db.First(&reloaded, "id = ?", event.ID)
	if reloaded.Status != models.EventPending {
		t.Errorf("event status = %q, want still pending", reloaded.Status)
	}
}

func TestDispatcherReleasesStuckProcessingEvent(t *testing.T) {
	env := newTestEnv(t)
	dispatcher := NewDispatcher(env.db, env.processor)

	raw, _ := json.Marshal(textMessagePayload("5511987654321", "Cliente", "wamid.STUCK", "travada"))
	event := models.WebhookEvent{
		CompanyID: env.company.ID,
		Payload:   string(raw),
		Status:    models.EventProcessing,
		Attempts:  1,
	}
	if err := env.db.Create(&event).Error; err != nil {
		t.Fatalf("creating webhook event: %v", err)
	}
	ageEvent(t, env, event.ID, 10*time.Minute)

	dispatcher.Tick(context.Background())

	var reloaded models.WebhookEvent
	env.db.First(&reloaded, "id = ?", event.ID)
	if reloaded.Status != models.EventPending {
		t.Fatalf("event status = %q, want released to pending", reloaded.Status)
	}

	// Once the row ages past the claim window and the retry backoff it goes
	// through the normal pipeline.
	ageEvent(t, env, event.ID, 10*time.Minute)
	dispatcher.Tick(context.Background())

	env.db.First(&reloaded, "id = ?", event.ID)
	if reloaded.Status != models.EventProcessed {
		t.Errorf("event status = %q, want %q (last error: %s)", reloaded.Status, models.EventProcessed, reloaded.LastError)
	}
}

func TestEventFailsAfterMaxAttempts(t *testing.T) {
	env := newTestEnv(t)

	// A company that does not exist makes processing fail every attempt.
	event := pendingEvent(t, env, uuid.New(),
		textMessagePayload("5511987654321", "Cliente", "wamid.DOOMED", "oi"))

	for i := 0; i < maxEventAttempts; i++ {
		env.processor.Run(context.Background(), event.ID)
	}

	var reloaded models.WebhookEvent
	env.db.First(&reloaded, "id = ?", event.ID)
	if reloaded.Status != models.EventFailed {
		t.Errorf("event status = %q, want %q after %d attempts", reloaded.Status, models.EventFailed, maxEventAttempts)
	}
	if reloaded.Attempts != maxEventAttempts {
		t.Errorf("attempts = %d, want %d", reloaded.Attempts, maxEventAttempts)
	}
	if reloaded.LastError == "" {
		t.Error("last error is empty, want failure detail")
	}

	// A terminal row is never claimed again.
	env.processor.Run(context.Background(), event.ID)
	var after models.WebhookEvent
	env.db.First(&after, "id = ?", event.ID)
	if after.Attempts != maxEventAttempts {
		t.Errorf("attempts after extra run = %d, want unchanged %d", after.Attempts, maxEventAttempts)
	}
}

func TestRetryBackoffGrowsWithAttempts(t *testing.T) {
	env := newTestEnv(t)
	dispatcher := NewDispatcher(env.db, env.processor)

	tests := []struct {
		name     string
		attempts int
		age      time.Duration
		want     bool
	}{
		{"first try is immediate", 0, 0, true},
		{"one attempt, too soon", 1, 10 * time.Second, false},
		{"one attempt, backoff elapsed", 1, 31 * time.Second, true},
		{"three attempts, too soon", 3, 90 * time.Second, false},
		{"three attempts, backoff elapsed", 3, 121 * time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := models.WebhookEvent{
				Attempts:  tt.attempts,
				UpdatedAt: time.Now().Add(-tt.age),
			}
			if got := dispatcher.retryDue(&event); got != tt.want {
				t.Errorf("retryDue(attempts=%d, age=%s) = %v, want %v", tt.attempts, tt.age, got, tt.want)
			}
		})
	}
}
