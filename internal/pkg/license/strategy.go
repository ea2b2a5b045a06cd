package license

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Outcome tags the result of a single verification step.
type Outcome int

const (
	NotApplicable Outcome = iota
	Verified
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Verified:
		return "verified"
	case Rejected:
		return "rejected"
	default:
		return "not_applicable"
	}
}

// Result is what a Strategy reports for one key.
type Result struct {
	Outcome Outcome
	Source  string
	Kind    FailureKind
	Detail  string
}

func (r Result) String() string {
	if r.Outcome == Rejected {
		return fmt.Sprintf("%s:%s(%s)", r.Source, r.Kind, r.Detail)
	}
	return fmt.Sprintf("%s:%s", r.Source, r.Outcome)
}

// Strategy is one step of the verification chain.
type Strategy interface {
	Name() string
	Check(ctx context.Context, key string) Result
}

// Provider is the license provider boundary used by the remote strategies.
type Provider interface {
	VerifyLicense(ctx context.Context, licenseKey string) (*ProviderPurchase, error)
	GetSale(ctx context.Context, saleID string) (*ProviderPurchase, error)
}

const (
	SourceDev   = "dev"
	SourceCache = "cache"
	SourceKey   = "license"
	SourceOrder = "order"
)

// DevKeyStrategy accepts every key carrying Prefix. An empty prefix disables it.
type DevKeyStrategy struct {
	Prefix string
}

func (s DevKeyStrategy) Name() string { return SourceDev }

func (s DevKeyStrategy) Check(_ context.Context, key string) Result {
	if s.Prefix == "" || !strings.HasPrefix(key, s.Prefix) {
		return Result{Outcome: NotApplicable, Source: SourceDev}
	}
	return Result{Outcome: Verified, Source: SourceDev}
}

// CacheStrategy accepts keys verified earlier.
type CacheStrategy struct {
	Cache Cache
}

func (s CacheStrategy) Name() string { return SourceCache }

func (s CacheStrategy) Check(ctx context.Context, key string) Result {
	if s.Cache != nil && s.Cache.Contains(ctx, key) {
		return Result{Outcome: Verified, Source: SourceCache}
	}
	return Result{Outcome: NotApplicable, Source: SourceCache}
}

// KeyVerifyStrategy asks the provider to verify the key as a license key.
// A verified purchase that was refunded, charged back or cancelled is rejected.
type KeyVerifyStrategy struct {
	Provider  Provider
	ProductID string
}

func (s KeyVerifyStrategy) Name() string { return SourceKey }

func (s KeyVerifyStrategy) Check(ctx context.Context, key string) Result {
	if s.Provider == nil {
		return Result{Outcome: NotApplicable, Source: SourceKey}
	}
	p, err := s.Provider.VerifyLicense(ctx, key)
	if err != nil {
		return rejected(SourceKey, KindOf(err), err)
	}
	return checkPurchase(SourceKey, p, s.ProductID)
}

// OrderLookupStrategy treats the key as an order id and requires the sale to
// belong to ProductID.
type OrderLookupStrategy struct {
	Provider  Provider
	ProductID string
}

func (s OrderLookupStrategy) Name() string { return SourceOrder }

func (s OrderLookupStrategy) Check(ctx context.Context, key string) Result {
	if s.Provider == nil || s.ProductID == "" {
		return Result{Outcome: NotApplicable, Source: SourceOrder}
	}
	p, err := s.Provider.GetSale(ctx, key)
	if err != nil {
		return rejected(SourceOrder, KindOf(err), err)
	}
	if p.ProductID != s.ProductID {
		return rejected(SourceOrder, FailureProductMismatch, fmt.Errorf("sale product %q", p.ProductID))
	}
	return checkPurchase(SourceOrder, p, s.ProductID)
}

func checkPurchase(source string, p *ProviderPurchase, productID string) Result {
	switch {
	case p == nil || !p.Success:
		return rejected(source, FailureNotFound, errors.New("provider returned no purchase"))
	case productID != "" && p.ProductID != "" && p.ProductID != productID:
		return rejected(source, FailureProductMismatch, fmt.Errorf("purchase product %q", p.ProductID))
	case p.Refunded || p.Chargebacked:
		return rejected(source, FailureRefunded, errors.New("purchase refunded or charged back"))
	case p.Cancelled():
		return rejected(source, FailureCancelled, errors.New("subscription cancelled or failed"))
	}
	return Result{Outcome: Verified, Source: source}
}

func rejected(source string, kind FailureKind, err error) Result {
	return Result{Outcome: Rejected, Source: source, Kind: kind, Detail: err.Error()}
}
