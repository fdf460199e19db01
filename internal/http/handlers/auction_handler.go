package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tonmarket/gifts-backend/internal/http/handlers/common"
	"github.com/tonmarket/gifts-backend/internal/service"
)

type AuctionHandler struct {
	auctions *service.AuctionService
}

func NewAuctionHandler(auctions *service.AuctionService) *AuctionHandler {
	return &AuctionHandler{auctions: auctions}
}

// Create POST /auctions
func (h *AuctionHandler) Create(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req struct {
		GiftID      int64 `json:"gift_id" binding:"required,gt=0"`
		StartBid    int64 `json:"start_bid" binding:"required,gt=0"`
		StepPercent int   `json:"step_percent" binding:"required,gt=0"`
		TermSeconds int64 `json:"term_seconds" binding:"required,gt=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	auction, err := h.auctions.Create(c.Request.Context(), userID, req.GiftID,
		req.StartBid, req.StepPercent, time.Duration(req.TermSeconds)*time.Second)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, auction)
}

// PlaceBid POST /auctions/:id/bids
func (h *AuctionHandler) PlaceBid(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	auctionID, err := common.ParseIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req struct {
		Amount int64 `json:"amount" binding:"required,gt=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "сумма ставки должна быть положительной")
		return
	}

	bid, err := h.auctions.PlaceBid(c.Request.Context(), auctionID, userID, req.Amount)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, bid)
}

// Cancel POST /auctions/:id/cancel
func (h *AuctionHandler) Cancel(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	auctionID, err := common.ParseIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	if err := h.auctions.Cancel(c.Request.Context(), auctionID, userID); err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// Delete DELETE /auctions/:id
func (h *AuctionHandler) Delete(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	auctionID, err := common.ParseIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	if err := h.auctions.Delete(c.Request.Context(), auctionID, userID); err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// Finalize POST /auctions/:id/finalize
// Завершить истёкший аукцион может любой авторизованный пользователь.
func (h *AuctionHandler) Finalize(c *gin.Context) {
	auctionID, err := common.ParseIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	outcome, err := h.auctions.Finalize(c.Request.Context(), auctionID)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, outcome)
}

// ListActive GET /auctions
func (h *AuctionHandler) ListActive(c *gin.Context) {
	limit, offset := common.Pagination(c)

	auctions, total, err := h.auctions.ListActive(c.Request.Context(), limit, offset)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	common.RespondList(c, auctions, total)
}

// ListMine GET /auctions/my
func (h *AuctionHandler) ListMine(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	limit, offset := common.Pagination(c)

	auctions, total, err := h.auctions.ListMine(c.Request.Context(), userID, limit, offset)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	common.RespondList(c, auctions, total)
}

// ListDeals GET /deals
func (h *AuctionHandler) ListDeals(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	limit, offset := common.Pagination(c)

	deals, total, err := h.auctions.ListDeals(c.Request.Context(), userID, limit, offset)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	common.RespondList(c, deals, total)
}
