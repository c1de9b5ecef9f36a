package handlers

import (
	"errors"
	"net/http"

	"car-marketplace/internal/domain"
	"car-marketplace/internal/pricing"
	"car-marketplace/pkg/logger"

	"github.com/labstack/echo/v4"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrListingNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidVIN),
		errors.Is(err, domain.ErrInvalidListing),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, pricing.ErrInvalidPrice),
		errors.Is(err, pricing.ErrInvalidTierTable):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidStatusTransition),
		errors.Is(err, domain.ErrPriceLocked),
		errors.Is(err, domain.ErrAuctionNotActive),
		errors.Is(err, domain.ErrBiddingNotOpen):
		return http.StatusConflict
	case errors.Is(err, domain.ErrBidTooLow):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// errorJSON writes err with its mapped status. Internal errors are logged
// and hidden from the client.
func errorJSON(c echo.Context, log logger.Logger, msg string, err error) error {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		log.Error(msg, "path", c.Path(), "error", err)
		return c.JSON(code, map[string]string{"error": msg})
	}
	return c.JSON(code, map[string]string{"error": err.Error()})
}
