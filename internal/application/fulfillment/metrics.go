package fulfillment

import (
	"context"
	"time"
)

// MetricsRecorder receives fulfillment activity for metrics export. All
// methods must be non-blocking and must never fail; recording is strictly
// fire-and-forget.
type MetricsRecorder interface {
	// PurchaseAttempted records one supplier purchase call and its latency
	PurchaseAttempted(ctx context.Context, succeeded bool, elapsed time.Duration)
	// RetryScheduled records that a failed purchase was queued for retry
	RetryScheduled(ctx context.Context)
	// KeysDelivered records keys handed to the delivery channel
	KeysDelivered(ctx context.Context, count int)
	// WebhookEvent records one received supplier push event and its outcome
	// (processed, duplicate, rejected, malformed)
	WebhookEvent(ctx context.Context, eventType string, outcome string)
}

// nopMetrics is the default recorder when none is injected
type nopMetrics struct{}

func (nopMetrics) PurchaseAttempted(context.Context, bool, time.Duration) {}
func (nopMetrics) RetryScheduled(context.Context)                        {}
func (nopMetrics) KeysDelivered(context.Context, int)                    {}
func (nopMetrics) WebhookEvent(context.Context, string, string)          {}
