package handlers

import (
	"context"
	"net/http"

	"car-marketplace/internal/domain"
	"car-marketplace/pkg/logger"

	"github.com/labstack/echo/v4"
)

type TierAdmin interface {
	Tiers() []domain.PriceTier
	UpdateTiers(ctx context.Context, tiers []domain.PriceTier) error
}

type ReserveRecalculator interface {
	RecalculateReserves(ctx context.Context) (int, error)
}

type PricingHandler struct {
	tiers    TierAdmin
	listings ReserveRecalculator
	log      logger.Logger
}

func NewPricingHandler(tiers TierAdmin, listings ReserveRecalculator, log logger.Logger) *PricingHandler {
	return &PricingHandler{
		tiers:    tiers,
		listings: listings,
		log:      log,
	}
}

func (h *PricingHandler) Register(api *echo.Group) {
	api.GET("/price-tiers", h.GetTiers)
	api.PUT("/price-tiers", h.UpdateTiers)
}

func (h *PricingHandler) GetTiers(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"tiers": h.tiers.Tiers()})
}

// UpdateTiers replaces the tier table and reprices open listings right away
// on this instance.
func (h *PricingHandler) UpdateTiers(c echo.Context) error {
	var req struct {
		Tiers []domain.PriceTier `json:"tiers"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	ctx := c.Request().Context()
	if err := h.tiers.UpdateTiers(ctx, req.Tiers); err != nil {
		return errorJSON(c, h.log, "Failed to update price tiers", err)
	}

	repriced, err := h.listings.RecalculateReserves(ctx)
	if err != nil {
		return errorJSON(c, h.log, "Tier table saved but repricing failed", err)
	}

	h.log.Info("Price tiers updated", "tiers", len(req.Tiers), "repriced", repriced)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"tiers":    h.tiers.Tiers(),
		"repriced": repriced,
	})
}
