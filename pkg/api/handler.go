// Package api provides authenticated HTTP endpoints for creating Stripe
// Checkout sessions and billing-portal links. Webhook handling lives on the
// service itself; these handlers cover the user-initiated flows.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mihaimyh/stripefire/pkg/stripefire"
)

const maxUserIDLen = 255

// Handler provides HTTP endpoints for checkout and billing-portal sessions
type Handler struct {
	config Config
}

// CreateCheckoutSession creates a Stripe Checkout session for the
// authenticated user and returns its ID and redirect URL.
func (h *Handler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.handleError(w, r, fmt.Errorf("method not allowed"), http.StatusMethodNotAllowed)
		return
	}

	userID := h.userID(r)
	if userID == "" {
		h.handleError(w, r, fmt.Errorf("user ID not found"), http.StatusUnauthorized)
		return
	}

	var req stripefire.CheckoutSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, r, fmt.Errorf("invalid request body: %w", err), http.StatusBadRequest)
		return
	}

	email := ""
	if h.config.GetUserEmail != nil {
		email = h.config.GetUserEmail(r)
	}

	session, err := h.config.Service.CreateCheckoutSession(r.Context(), userID, email, "", &req)
	if err != nil {
		h.handleError(w, r, fmt.Errorf("failed to create checkout session: %w", err), http.StatusInternalServerError)
		return
	}

	resp := CheckoutSessionResponse{
		SessionID: session.ID,
		Object:    session.Object,
		URL:       session.URL,
	}
	if session.Customer != nil {
		resp.Customer = session.Customer.ID
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// CreatePortalLink creates a billing-portal session for the authenticated
// user. 404 when the user has no customer record yet: there is nothing to
// manage in the portal before a first checkout.
func (h *Handler) CreatePortalLink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.handleError(w, r, fmt.Errorf("method not allowed"), http.StatusMethodNotAllowed)
		return
	}

	userID := h.userID(r)
	if userID == "" {
		h.handleError(w, r, fmt.Errorf("user ID not found"), http.StatusUnauthorized)
		return
	}

	var req PortalLinkRequest
	if r.Body != nil {
		// An empty body is allowed; the portal falls back to its default
		// return URL.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	url, err := h.config.Service.CreatePortalLink(r.Context(), userID, req.ReturnURL)
	if err != nil {
		if errors.Is(err, stripefire.ErrCustomerNotFound) {
			h.handleError(w, r, fmt.Errorf("no billing account for user"), http.StatusNotFound)
			return
		}
		h.handleError(w, r, fmt.Errorf("failed to create portal link: %w", err), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, PortalLinkResponse{URL: url})
}

func (h *Handler) userID(r *http.Request) string {
	userID := h.config.GetUserID(r)
	if len(userID) > maxUserIDLen {
		return ""
	}
	return userID
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Response already sent, nothing to recover
		return
	}
}

// handleError handles errors with appropriate HTTP status codes
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	errorResponse := map[string]string{
		"error": err.Error(),
	}
	if encodeErr := json.NewEncoder(w).Encode(errorResponse); encodeErr != nil {
		_ = encodeErr
	}
}
