package license

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/env"
)

const defaultGumroadAPIBaseURL = "https://api.gumroad.com/v2"

// FailureKind classifies why a key could not be verified. It only feeds logs;
// every kind ends in the same Invalid verdict.
type FailureKind string

const (
	FailureTimeout         FailureKind = "timeout"
	FailureUnreachable     FailureKind = "unreachable"
	FailureNotFound        FailureKind = "not_found"
	FailureRejected        FailureKind = "rejected"
	FailureProductMismatch FailureKind = "product_mismatch"
	FailureRefunded        FailureKind = "refunded"
	FailureCancelled       FailureKind = "cancelled"
)

// ProviderError is returned by GumroadClient for every unsuccessful call.
type ProviderError struct {
	Kind   FailureKind
	Status int
	Err    error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("gumroad %s (status=%d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("gumroad %s: %v", e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// KindOf returns the failure kind carried by err, or FailureUnreachable.
func KindOf(err error) FailureKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return FailureUnreachable
}

// ProviderPurchase is the provider's purchase or sale record, decoded at the
// client boundary.
type ProviderPurchase struct {
	Success                 bool
	SaleID                  string
	ProductID               string
	Email                   string
	Refunded                bool
	Chargebacked            bool
	SubscriptionCancelledAt string
	SubscriptionFailedAt    string
	SubscriptionEndedAt     string
}

// Cancelled reports whether any subscription cancellation or failure timestamp is set.
func (p *ProviderPurchase) Cancelled() bool {
	return p.SubscriptionCancelledAt != "" || p.SubscriptionFailedAt != "" || p.SubscriptionEndedAt != ""
}

type GumroadClient struct {
	ProductID   string
	AccessToken string
	APIBaseURL  string

	HTTPClient *http.Client
}

func NewGumroadClientFromEnv() *GumroadClient {
	return &GumroadClient{
		ProductID:   strings.TrimSpace(env.GetEnv("GUMROAD_PRODUCT_ID", "")),
		AccessToken: strings.TrimSpace(env.GetEnv("GUMROAD_ACCESS_TOKEN", "")),
		APIBaseURL:  strings.TrimSpace(env.GetEnv("GUMROAD_API_BASE_URL", defaultGumroadAPIBaseURL)),
		HTTPClient: &http.Client{
			Timeout: env.GetDuration("LICENSE_VERIFY_TIMEOUT", 10*time.Second),
		},
	}
}

type rawPurchase struct {
	ID                      string  `json:"id"`
	SaleID                  string  `json:"sale_id"`
	ProductID               string  `json:"product_id"`
	Email                   string  `json:"email"`
	Refunded                bool    `json:"refunded"`
	Chargebacked            bool    `json:"chargebacked"`
	SubscriptionCancelledAt *string `json:"subscription_cancelled_at"`
	SubscriptionFailedAt    *string `json:"subscription_failed_at"`
	SubscriptionEndedAt     *string `json:"subscription_ended_at"`
}

func (r rawPurchase) toPurchase(success bool) *ProviderPurchase {
	saleID := r.SaleID
	if saleID == "" {
		saleID = r.ID
	}
	return &ProviderPurchase{
		Success:                 success,
		SaleID:                  saleID,
		ProductID:               strings.TrimSpace(r.ProductID),
		Email:                   r.Email,
		Refunded:                r.Refunded,
		Chargebacked:            r.Chargebacked,
		SubscriptionCancelledAt: deref(r.SubscriptionCancelledAt),
		SubscriptionFailedAt:    deref(r.SubscriptionFailedAt),
		SubscriptionEndedAt:     deref(r.SubscriptionEndedAt),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

// VerifyLicense checks licenseKey against the configured product without
// incrementing the key's use counter.
func (c *GumroadClient) VerifyLicense(ctx context.Context, licenseKey string) (*ProviderPurchase, error) {
	if c.ProductID == "" {
		return nil, &ProviderError{Kind: FailureRejected, Err: errors.New("GUMROAD_PRODUCT_ID is not configured")}
	}

	form := url.Values{}
	form.Set("product_id", c.ProductID)
	form.Set("license_key", strings.TrimSpace(licenseKey))
	form.Set("increment_uses_count", "false")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/licenses/verify"), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &ProviderError{Kind: FailureRejected, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	var out struct {
		Success  bool        `json:"success"`
		Message  string      `json:"message"`
		Purchase rawPurchase `json:"purchase"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, &ProviderError{Kind: FailureNotFound, Status: http.StatusOK, Err: fmt.Errorf("license not verified: %s", out.Message)}
	}
	return out.Purchase.toPurchase(true), nil
}

// GetSale looks up saleID as an order identifier.
func (c *GumroadClient) GetSale(ctx context.Context, saleID string) (*ProviderPurchase, error) {
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return nil, &ProviderError{Kind: FailureNotFound, Err: errors.New("sale id is required")}
	}
	if c.AccessToken == "" {
		return nil, &ProviderError{Kind: FailureRejected, Err: errors.New("GUMROAD_ACCESS_TOKEN is not configured")}
	}

	u, err := url.Parse(c.endpoint("/sales/" + url.PathEscape(saleID)))
	if err != nil {
		return nil, &ProviderError{Kind: FailureRejected, Err: err}
	}
	q := u.Query()
	q.Set("access_token", c.AccessToken)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &ProviderError{Kind: FailureRejected, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	var out struct {
		Success bool        `json:"success"`
		Message string      `json:"message"`
		Sale    rawPurchase `json:"sale"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, &ProviderError{Kind: FailureNotFound, Status: http.StatusOK, Err: fmt.Errorf("sale not found: %s", out.Message)}
	}
	return out.Sale.toPurchase(true), nil
}

func (c *GumroadClient) endpoint(path string) string {
	base := strings.TrimRight(c.APIBaseURL, "/")
	if base == "" {
		base = defaultGumroadAPIBaseURL
	}
	return base + path
}

func (c *GumroadClient) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (c *GumroadClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return &ProviderError{Kind: transportKind(err), Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &ProviderError{Kind: FailureNotFound, Status: resp.StatusCode, Err: errors.New(string(body))}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &ProviderError{Kind: FailureRejected, Status: resp.StatusCode, Err: errors.New(string(body))}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &ProviderError{Kind: FailureRejected, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func transportKind(err error) FailureKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	return FailureUnreachable
}
