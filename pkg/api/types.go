package api

// CheckoutSessionResponse is returned by CreateCheckoutSession. It mirrors
// the created Stripe session: object type, customer ID and redirect URL.
type CheckoutSessionResponse struct {
	SessionID string `json:"session_id"`
	Object    string `json:"object"`
	Customer  string `json:"customer"`
	URL       string `json:"url"`
}

// PortalLinkRequest is the body accepted by CreatePortalLink
type PortalLinkRequest struct {
	ReturnURL string `json:"return_url,omitempty"`
}

// PortalLinkResponse is returned by CreatePortalLink
type PortalLinkResponse struct {
	URL string `json:"url"`
}
