package handlers

import (
	"context"
	"net/http"
	"strconv"

	"car-marketplace/internal/domain"
	"car-marketplace/internal/services"
	"car-marketplace/pkg/logger"

	"github.com/labstack/echo/v4"
)

type ListingAPI interface {
	CreateListing(ctx context.Context, req services.CreateListingRequest) (*domain.Listing, error)
	GetListing(ctx context.Context, listingID string) (*domain.Listing, error)
	UpdatePrice(ctx context.Context, listingID string, price float64) (*domain.Listing, error)
	ChangeStatus(ctx context.Context, listingID string, next domain.ListingStatus) (*domain.Listing, error)
	QuoteReservePrice(price float64) (int64, error)
}

type BidAPI interface {
	PlaceBid(ctx context.Context, listingID, dealerID string, amount float64) (*domain.Bid, error)
	BidHistory(ctx context.Context, listingID string) ([]*domain.Bid, error)
}

type ListingResponse struct {
	ID           string  `json:"id"`
	SellerID     string  `json:"seller_id"`
	VIN          string  `json:"vin"`
	Make         string  `json:"make"`
	Model        string  `json:"model"`
	Year         int     `json:"year"`
	Mileage      int     `json:"mileage"`
	Price        float64 `json:"price"`
	ReservePrice int64   `json:"reserve_price"`
	Status       string  `json:"status"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

type UpdatePriceRequest struct {
	Price float64 `json:"price"`
}

type ChangeStatusRequest struct {
	Status string `json:"status"`
}

type PlaceBidRequest struct {
	DealerID string  `json:"dealer_id"`
	Amount   float64 `json:"amount"`
}

type ListingHandler struct {
	listings ListingAPI
	bids     BidAPI
	log      logger.Logger
}

func NewListingHandler(listings ListingAPI, bids BidAPI, log logger.Logger) *ListingHandler {
	return &ListingHandler{
		listings: listings,
		bids:     bids,
		log:      log,
	}
}

func (h *ListingHandler) Register(api *echo.Group) {
	api.POST("/listings", h.CreateListing)
	api.GET("/listings/:id", h.GetListing)
	api.PUT("/listings/:id/price", h.UpdatePrice)
	api.POST("/listings/:id/status", h.ChangeStatus)
	api.POST("/listings/:id/bids", h.PlaceBid)
	api.GET("/listings/:id/bids", h.BidHistory)
	api.GET("/reserve-price", h.QuoteReservePrice)
}

func (h *ListingHandler) CreateListing(c echo.Context) error {
	var req services.CreateListingRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	listing, err := h.listings.CreateListing(c.Request().Context(), req)
	if err != nil {
		return errorJSON(c, h.log, "Failed to create listing", err)
	}

	h.log.Info("Listing created", "listing_id", listing.ID)
	return c.JSON(http.StatusCreated, toListingResponse(listing))
}

func (h *ListingHandler) GetListing(c echo.Context) error {
	listing, err := h.listings.GetListing(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorJSON(c, h.log, "Failed to load listing", err)
	}
	return c.JSON(http.StatusOK, toListingResponse(listing))
}

func (h *ListingHandler) UpdatePrice(c echo.Context) error {
	var req UpdatePriceRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	listing, err := h.listings.UpdatePrice(c.Request().Context(), c.Param("id"), req.Price)
	if err != nil {
		return errorJSON(c, h.log, "Failed to update price", err)
	}
	return c.JSON(http.StatusOK, toListingResponse(listing))
}

func (h *ListingHandler) ChangeStatus(c echo.Context) error {
	var req ChangeStatusRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	listing, err := h.listings.ChangeStatus(c.Request().Context(), c.Param("id"), domain.ListingStatus(req.Status))
	if err != nil {
		return errorJSON(c, h.log, "Failed to change status", err)
	}
	return c.JSON(http.StatusOK, toListingResponse(listing))
}

func (h *ListingHandler) PlaceBid(c echo.Context) error {
	var req PlaceBidRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	bid, err := h.bids.PlaceBid(c.Request().Context(), c.Param("id"), req.DealerID, req.Amount)
	if err != nil {
		return errorJSON(c, h.log, "Failed to place bid", err)
	}
	return c.JSON(http.StatusCreated, bid)
}

func (h *ListingHandler) BidHistory(c echo.Context) error {
	bids, err := h.bids.BidHistory(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorJSON(c, h.log, "Failed to load bids", err)
	}
	if bids == nil {
		bids = []*domain.Bid{}
	}
	return c.JSON(http.StatusOK, bids)
}

func (h *ListingHandler) QuoteReservePrice(c echo.Context) error {
	raw := c.QueryParam("price")
	if raw == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "price query parameter required"})
	}
	price, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "price must be a number"})
	}

	reserve, err := h.listings.QuoteReservePrice(price)
	if err != nil {
		return errorJSON(c, h.log, "Failed to quote reserve price", err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"price":         price,
		"reserve_price": reserve,
	})
}

func toListingResponse(l *domain.Listing) ListingResponse {
	const layout = "2006-01-02T15:04:05Z07:00"
	return ListingResponse{
		ID:           l.ID,
		SellerID:     l.SellerID,
		VIN:          l.VIN,
		Make:         l.Make,
		Model:        l.Model,
		Year:         l.Year,
		Mileage:      l.Mileage,
		Price:        l.Price,
		ReservePrice: l.ReservePrice,
		Status:       l.Status.String(),
		CreatedAt:    l.CreatedAt.Format(layout),
		UpdatedAt:    l.UpdatedAt.Format(layout),
	}
}
