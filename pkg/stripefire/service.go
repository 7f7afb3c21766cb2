package stripefire

import (
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/stripefire/internal/httputil"
)

const (
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
	defaultDashboardBaseURL  = "https://dashboard.stripe.com"

	// Stripe API version sent when minting ephemeral keys for mobile clients.
	defaultEphemeralKeyVersion = "2025-09-30.clover"
)

// Config holds the service configuration. Store is required; everything else
// has a working default. The Stripe client, claims updater and event set are
// explicit dependencies so deployments (and tests) control them without
// package-level state.
type Config struct {
	// Store is the document-database boundary (required).
	Store Store

	// Claims updates role claims after reconciliation.
	// If nil, claims are not maintained (NoopClaims).
	Claims ClaimsUpdater

	// StripeAPIKey is the secret key for outbound Stripe calls.
	// Required unless StripeAPI is provided.
	StripeAPIKey string

	// StripeWebhookSecret verifies inbound webhook signatures.
	// Required to serve webhooks.
	StripeWebhookSecret string

	// StripeAPI overrides the Stripe client. If nil, a client is built from
	// StripeAPIKey.
	StripeAPI StripeAPI

	// Events is the relevant-event table for the dispatcher.
	// If nil, DefaultEventSet() is used.
	Events EventSet

	// Deduper optionally short-circuits redelivered webhook events by ID.
	// If nil, every delivery is processed (handlers are idempotent anyway).
	Deduper EventDeduper

	// Logger is the structured logger. If nil, logging is a no-op.
	Logger Logger

	// Metrics is an optional metrics collector. If nil, metrics are a no-op.
	Metrics Metrics

	// DashboardBaseURL builds stripeLink fields.
	// Default: "https://dashboard.stripe.com".
	DashboardBaseURL string

	// EphemeralKeyAPIVersion is the Stripe API version requested for mobile
	// ephemeral keys.
	EphemeralKeyAPIVersion string

	// ShippingCountries is the allowed-country list applied when a checkout
	// session requests shipping address collection.
	ShippingCountries []string

	// TimeSource supplies the timestamps stamped onto mirror records.
	// If nil, time.Now is used. Rebuilt records carry no other wall-clock
	// input, so a fixed source makes repeated rebuilds reproducible.
	TimeSource func() time.Time
}

// Service synchronizes Stripe billing state into the Store and keeps role
// claims consistent with subscription status.
type Service struct {
	store         Store
	claims        ClaimsUpdater
	api           StripeAPI
	events        EventSet
	deduper       EventDeduper
	logger        Logger
	metrics       Metrics
	webhookSecret []byte
	rateLimiter   *httputil.RateLimiter
	dashboardURL  string
	ephemeralVer  string
	shipCountries []string
	now           func() time.Time
}

// New creates a Service from the given configuration.
func New(config Config) (*Service, error) {
	if config.Store == nil {
		return nil, ErrNotConfigured
	}

	api := config.StripeAPI
	if api == nil {
		apiKey := strings.TrimSpace(config.StripeAPIKey)
		if apiKey == "" {
			return nil, ErrNotConfigured
		}
		api = NewStripeAPI(stripe.NewClient(apiKey))
	}

	claims := config.Claims
	if claims == nil {
		claims = &NoopClaims{}
	}

	events := config.Events
	if events == nil {
		events = DefaultEventSet()
	}

	logger := config.Logger
	if logger == nil {
		logger = &NoopLogger{}
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &NoopMetrics{}
	}

	dashboardURL := strings.TrimRight(config.DashboardBaseURL, "/")
	if dashboardURL == "" {
		dashboardURL = defaultDashboardBaseURL
	}

	ephemeralVer := config.EphemeralKeyAPIVersion
	if ephemeralVer == "" {
		ephemeralVer = defaultEphemeralKeyVersion
	}

	now := config.TimeSource
	if now == nil {
		now = time.Now
	}

	return &Service{
		store:         config.Store,
		claims:        claims,
		api:           api,
		events:        events,
		deduper:       config.Deduper,
		logger:        logger,
		metrics:       metrics,
		webhookSecret: []byte(strings.TrimSpace(config.StripeWebhookSecret)),
		rateLimiter:   httputil.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow),
		dashboardURL:  dashboardURL,
		ephemeralVer:  ephemeralVer,
		shipCountries: config.ShippingCountries,
		now:           now,
	}, nil
}

// WebhookHandler returns the HTTP handler for Stripe webhooks, wrapped with
// per-IP rate limiting.
func (s *Service) WebhookHandler() http.Handler {
	return s.rateLimiter.Middleware(http.HandlerFunc(s.handleWebhook))
}

func (s *Service) customerDashboardLink(stripeCustomerID string) string {
	return s.dashboardURL + "/customers/" + stripeCustomerID
}

func (s *Service) subscriptionDashboardLink(subscriptionID string) string {
	return s.dashboardURL + "/subscriptions/" + subscriptionID
}
