package controllers

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/entitlements"
	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/ledger"
	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/usercontext"
)

type PurchaseController struct {
	resolver    *entitlements.Resolver
	skipPayment bool
}

// NewPurchaseController wires the purchase routes. skipPayment grants paid
// models without checkout (SKIP_PAYMENT).
func NewPurchaseController(resolver *entitlements.Resolver, skipPayment bool) *PurchaseController {
	return &PurchaseController{resolver: resolver, skipPayment: skipPayment}
}

func (h *PurchaseController) HandleOwnedModels(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)
	ctx, cancel := requestContext(c, requestTimeout)
	defer cancel()

	owned, err := h.resolver.Ledger().ListOwned(ctx, userID)
	if err != nil {
		return storageError(c, err)
	}
	return c.JSON(fiber.Map{"owned": owned, "user_id": userID})
}

// HandleCatalog lists every offered model with its price and whether the
// caller owns it.
func (h *PurchaseController) HandleCatalog(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)
	ctx, cancel := requestContext(c, requestTimeout)
	defer cancel()

	owned, err := h.resolver.Ledger().ListOwned(ctx, userID)
	if err != nil {
		return storageError(c, err)
	}
	ownedSet := make(map[string]bool, len(owned))
	for _, id := range owned {
		ownedSet[id] = true
	}

	items := make([]fiber.Map, 0)
	for _, m := range h.resolver.Catalog().Models() {
		items = append(items, fiber.Map{
			"id":    m.ID,
			"price": m.Price,
			"free":  m.IsFree(),
			"owned": ownedSet[m.ID],
		})
	}
	return c.JSON(fiber.Map{"models": items, "free_model": h.resolver.Catalog().FreeModelID(), "user_id": userID})
}

func (h *PurchaseController) HandlePurchase(c *fiber.Ctx) error {
	uc := usercontext.GetUserContext(c)
	modelID := pathParam(c, "model_id")
	ctx, cancel := requestContext(c, requestTimeout)
	defer cancel()

	out, err := h.resolver.Purchase(ctx, entitlements.PurchaseRequest{
		UserID:     uc.UserID,
		ModelID:    modelID,
		LicenseKey: uc.LicenseKey,
		TestMode:   h.skipPayment,
	})
	switch {
	case errors.Is(err, entitlements.ErrInvalidModel):
		return jsonError(c, fiber.StatusBadRequest, "invalid_model", "Model not available")
	case errors.Is(err, entitlements.ErrCheckoutUnavailable):
		return jsonError(c, fiber.StatusServiceUnavailable, "checkout_unavailable",
			"Payments are not available right now. Set SKIP_PAYMENT=true to test without Stripe.")
	case err != nil:
		return storageError(c, err)
	}

	resp := fiber.Map{
		"status":  out.Status,
		"model":   out.ModelID,
		"user_id": uc.UserID,
		"message": purchaseMessage(out),
	}
	if out.Price != nil {
		resp["price"] = *out.Price
	} else if m, ok := h.resolver.Catalog().Lookup(out.ModelID); ok && m.Price != nil {
		resp["price"] = *m.Price
	}
	if out.Reference != "" {
		resp["reference"] = out.Reference
	}
	if out.CheckoutURL != "" {
		resp["checkout_url"] = out.CheckoutURL
	} else if out.Status == entitlements.StatusPaymentRequired {
		resp["note"] = "Set SKIP_PAYMENT=true to test without Stripe"
	}
	return c.JSON(resp)
}

func (h *PurchaseController) HandleLicenseCheck(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c, requestTimeout)
	defer cancel()

	return c.JSON(h.resolver.CheckTier(ctx, usercontext.GetLicenseKey(c)))
}

func purchaseMessage(out *entitlements.PurchaseOutcome) string {
	switch out.Status {
	case entitlements.StatusAlreadyOwned:
		return "You already own this model!"
	case entitlements.StatusFree:
		return fmt.Sprintf("%s is free! Enjoy.", out.ModelID)
	case entitlements.StatusSuccess:
		return "Test purchase successful! (SKIP_PAYMENT mode)"
	case entitlements.StatusPaymentRequired:
		if out.CheckoutURL == "" {
			return "Payments are not configured yet."
		}
	}
	return "Complete the checkout to unlock this model."
}

func storageError(c *fiber.Ctx, err error) error {
	log.Errorf("[Purchase] %v", err)
	if errors.Is(err, ledger.ErrStorageUnavailable) {
		return jsonError(c, fiber.StatusServiceUnavailable, "storage_unavailable", "Purchase storage is unavailable")
	}
	return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Unexpected error")
}
