package webhook

import (
	"context"
	"log"
	"time"

	"github.com/ag12x-gth/masteria-x-sub001/internal/models"

	"gorm.io/gorm"
)

// Dispatcher drains the webhook event outbox. The fast-ack path persists
// pending rows and usually finishes them on its own goroutine; the dispatcher
// retries rows that goroutine never completed (crash, DB error), with a
// backoff that grows with the attempt count.
type Dispatcher struct {
	db        *gorm.DB
	processor *Processor

	PollInterval time.Duration
	// ClaimAge keeps the dispatcher off rows the in-request goroutine is
	// still working on.
	ClaimAge time.Duration
	// StuckAge releases rows stuck in processing after a crash.
	StuckAge time.Duration
}

func NewDispatcher(db *gorm.DB, processor *Processor) *Dispatcher {
	return &Dispatcher{
		db:           db,
		processor:    processor,
		PollInterval: 15 * time.Second,
		ClaimAge:     30 * time.Second,
		StuckAge:     5 * time.Minute,
	}
}

// Run polls until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick runs one dispatch round.
func (d *Dispatcher) Tick(ctx context.Context) {
	d.releaseStuck()

	var events []models.WebhookEvent
	cutoff := time.Now().Add(-d.ClaimAge)
	err := d.db.Where("status = ? AND updated_at < ?", models.EventPending, cutoff).
		Order("created_at asc").
		Limit(50).
		Find(&events).Error
	if err != nil {
		log.Printf("Error polling webhook outbox: %v", err)
		return
	}

	for i := range events {
		if !d.retryDue(&events[i]) {
			continue
		}
		d.processor.Run(ctx, events[i].ID)
	}
}

// retryDue applies per-attempt backoff: 30s, 1m, 2m, 4m...
func (d *Dispatcher) retryDue(event *models.WebhookEvent) bool {
	if event.Attempts == 0 {
		return true
	}
	backoff := 30 * time.Second << (event.Attempts - 1)
	return time.Since(event.UpdatedAt) >= backoff
}

func (d *Dispatcher) releaseStuck() {
	cutoff := time.Now().Add(-d.StuckAge)
	res := d.db.Model(&models.WebhookEvent{}).
		Where("status = ? AND updated_at < ?", models.EventProcessing, cutoff).
		Update("status", models.EventPending)
	if res.Error != nil {
		log.Printf("Error releasing stuck webhook events: %v", res.Error)
		return
	}
	if res.RowsAffected > 0 {
		log.Printf("Released %d stuck webhook events back to pending", res.RowsAffected)
	}
}
