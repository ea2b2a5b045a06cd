package billing

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}

// CheckoutCompleted is the part of a paid checkout session the ledger needs.
type CheckoutCompleted struct {
	SessionID     string
	PaymentStatus string
	UserID        string
	ModelID       string
}

// WebhookResult describes what happened to one webhook delivery.
type WebhookResult struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Ignored   bool   `json:"ignored,omitempty"`
	Malformed bool   `json:"malformed,omitempty"`
	Granted   bool   `json:"granted,omitempty"`
}
