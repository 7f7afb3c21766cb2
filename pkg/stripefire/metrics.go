package stripefire

import "time"

// Metrics defines the interface for tracking billing-sync operations.
// All methods are optional - the service gracefully handles a nil collector
// by substituting NoopMetrics.
type Metrics interface {
	// RecordWebhookEvent records a webhook event received from Stripe.
	// eventType: the Stripe event type (e.g. "customer.subscription.updated")
	// status: "success", "error" or "ignored"
	RecordWebhookEvent(eventType, status string)

	// RecordWebhookProcessingDuration records how long it took to process a webhook.
	RecordWebhookProcessingDuration(eventType string, duration time.Duration)

	// RecordWebhookError records a webhook processing error.
	// errorType: the type of error (e.g. "auth_failed", "invalid_payload", "processing_error")
	RecordWebhookError(errorType string)

	// RecordReconciliation records a subscription reconciliation.
	// status: "success" or "error"
	RecordReconciliation(status string)

	// RecordReconciliationDuration records how long a reconciliation took.
	RecordReconciliationDuration(duration time.Duration)

	// RecordRoleChange records when a user's role claim changes.
	RecordRoleChange(fromRole, toRole string)

	// RecordAPICall records an outbound Stripe API call.
	// endpoint: the API endpoint called (e.g. "/subscriptions/{id}")
	// status: "success" or "error"
	RecordAPICall(endpoint, status string)

	// RecordAPICallDuration records how long an API call took.
	RecordAPICallDuration(endpoint string, duration time.Duration)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _ string)                            {}
func (n *NoopMetrics) RecordWebhookProcessingDuration(_ string, _ time.Duration) {}
func (n *NoopMetrics) RecordWebhookError(_ string)                               {}
func (n *NoopMetrics) RecordReconciliation(_ string)                             {}
func (n *NoopMetrics) RecordReconciliationDuration(_ time.Duration)              {}
func (n *NoopMetrics) RecordRoleChange(_, _ string)                              {}
func (n *NoopMetrics) RecordAPICall(_, _ string)                                 {}
func (n *NoopMetrics) RecordAPICallDuration(_ string, _ time.Duration)           {}
