package entitlements

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/catalog"
	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/ledger"
	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/license"
)

type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

const (
	SourceNone    = "none"
	SourceInvalid = "invalid"
)

// LicenseValidity is the per-check tier verdict. It is never persisted.
type LicenseValidity struct {
	Tier   Tier     `json:"tier"`
	Models []string `json:"models"`
	Source string   `json:"source"`
}

type PurchaseStatus string

const (
	StatusAlreadyOwned    PurchaseStatus = "already_owned"
	StatusFree            PurchaseStatus = "free"
	StatusSuccess         PurchaseStatus = "success"
	StatusPaymentRequired PurchaseStatus = "payment_required"
)

var (
	ErrInvalidModel        = errors.New("model is not offered")
	ErrCheckoutUnavailable = errors.New("checkout provider unavailable")
)

type PurchaseRequest struct {
	UserID     string
	ModelID    string
	LicenseKey string
	TestMode   bool
}

type PurchaseOutcome struct {
	Status      PurchaseStatus `json:"status"`
	ModelID     string         `json:"model_id"`
	Reference   string         `json:"reference,omitempty"`
	CheckoutURL string         `json:"checkout_url,omitempty"`
	Price       *float64       `json:"price,omitempty"`
}

// CheckoutRequest is what the payment provider needs to open a checkout.
type CheckoutRequest struct {
	UserID     string
	ModelID    string
	PriceCents int64
}

type CheckoutSession struct {
	ID  string
	URL string
}

// CheckoutProvider creates hosted checkouts. Payment confirmation arrives
// later through ConfirmPurchaseFromWebhook.
type CheckoutProvider interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
}

// Tracker receives product analytics events.
type Tracker interface {
	Track(distinctID, event string, properties map[string]any)
}

// LicenseVerifier checks a license key against the cache and the provider.
type LicenseVerifier interface {
	Verify(ctx context.Context, key string) license.Verdict
}

// Resolver decides what a user may run and grants purchases.
type Resolver struct {
	catalog  *catalog.Catalog
	ledger   *ledger.Ledger
	verifier LicenseVerifier
	checkout CheckoutProvider
	tracker  Tracker
}

// NewResolver wires the resolver. checkout and tracker may be nil.
func NewResolver(c *catalog.Catalog, l *ledger.Ledger, v LicenseVerifier, checkout CheckoutProvider, tracker Tracker) *Resolver {
	return &Resolver{catalog: c, ledger: l, verifier: v, checkout: checkout, tracker: tracker}
}

func (r *Resolver) Catalog() *catalog.Catalog {
	return r.catalog
}

func (r *Resolver) Ledger() *ledger.Ledger {
	return r.ledger
}

// CheckTier never fails. A missing or invalid key yields the free tier.
func (r *Resolver) CheckTier(ctx context.Context, licenseKey string) LicenseValidity {
	key := strings.TrimSpace(licenseKey)
	if key == "" || r.verifier == nil {
		return r.freeTier(SourceNone)
	}

	verdict := r.verifier.Verify(ctx, key)
	if !verdict.Valid {
		return r.freeTier(SourceInvalid)
	}
	return LicenseValidity{Tier: TierPro, Models: r.catalog.IDs(), Source: verdict.Source}
}

func (r *Resolver) freeTier(source string) LicenseValidity {
	return LicenseValidity{Tier: TierFree, Models: r.catalog.FreeIDs(), Source: source}
}

// Purchase runs the purchase decision for one model. Ledger errors are
// returned unchanged.
func (r *Resolver) Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseOutcome, error) {
	userID := strings.TrimSpace(req.UserID)
	modelID := strings.TrimSpace(req.ModelID)

	m, ok := r.catalog.Lookup(modelID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidModel, modelID)
	}

	owned, err := r.ledger.HasPurchased(ctx, userID, modelID)
	if err != nil {
		return nil, err
	}
	if owned {
		return &PurchaseOutcome{Status: StatusAlreadyOwned, ModelID: modelID}, nil
	}

	props := map[string]any{
		"model_id":        modelID,
		"has_license_key": strings.TrimSpace(req.LicenseKey) != "",
	}

	if m.IsFree() {
		if _, err := r.ledger.RecordPurchase(ctx, userID, modelID, ""); err != nil {
			return nil, err
		}
		r.track(userID, "model_claimed_free", props)
		return &PurchaseOutcome{Status: StatusFree, ModelID: modelID}, nil
	}

	if req.TestMode {
		ref := "test_" + uuid.NewString()
		if _, err := r.ledger.RecordPurchase(ctx, userID, modelID, ref); err != nil {
			return nil, err
		}
		log.Infof("[Entitlements] Test mode purchase user=%s model=%s", userID, modelID)
		props["test_mode"] = true
		r.track(userID, "model_purchased", props)
		return &PurchaseOutcome{Status: StatusSuccess, ModelID: modelID, Reference: ref}, nil
	}

	// Without a payment provider the caller only learns the price.
	if r.checkout == nil {
		r.track(userID, "payment_required", props)
		return &PurchaseOutcome{Status: StatusPaymentRequired, ModelID: modelID, Price: m.Price}, nil
	}
	session, err := r.checkout.CreateCheckout(ctx, CheckoutRequest{
		UserID:     userID,
		ModelID:    modelID,
		PriceCents: m.Cents(),
	})
	if err != nil {
		log.Errorf("[Entitlements] Checkout creation failed user=%s model=%s: %v", userID, modelID, err)
		return nil, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}

	r.track(userID, "checkout_started", props)
	return &PurchaseOutcome{
		Status:      StatusPaymentRequired,
		ModelID:     modelID,
		Reference:   session.ID,
		CheckoutURL: session.URL,
		Price:       m.Price,
	}, nil
}

// ConfirmPurchaseFromWebhook records a payment the caller has already
// authenticated. Duplicate deliveries are no-ops.
func (r *Resolver) ConfirmPurchaseFromWebhook(ctx context.Context, userID, modelID, providerReference string) (bool, error) {
	created, err := r.ledger.RecordPurchase(ctx, userID, modelID, providerReference)
	if err != nil {
		return false, err
	}
	if created {
		r.track(userID, "model_purchased", map[string]any{"model_id": modelID, "test_mode": false})
	}
	return created, nil
}

func (r *Resolver) track(userID, event string, props map[string]any) {
	if r.tracker == nil {
		return
	}
	r.tracker.Track(userID, event, props)
}
