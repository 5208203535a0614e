package constants

// Static route constants
const (
	StripeWebhookRoute = "/webhooks/stripe"
	PayPalWebhookRoute = "/webhooks/paypal"
	HealthzRoute       = "/healthz"

	// Admin routes relative to the /api/admin group
	ClaimsResyncRoute = "/claims/resync"
	QueueStatsRoute   = "/queue/stats"
)
