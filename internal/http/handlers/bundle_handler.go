package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tonmarket/gifts-backend/internal/http/handlers/common"
	"github.com/tonmarket/gifts-backend/internal/service"
)

type BundleHandler struct {
	bundles *service.BundleService
}

func NewBundleHandler(bundles *service.BundleService) *BundleHandler {
	return &BundleHandler{bundles: bundles}
}

// Create POST /bundles
func (h *BundleHandler) Create(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req struct {
		GiftIDs []int64 `json:"gift_ids" binding:"required,min=2"`
		Price   int64   `json:"price" binding:"required,gt=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	bundle, err := h.bundles.Create(c.Request.Context(), userID, req.GiftIDs, req.Price)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, bundle)
}

// Cancel POST /bundles/:id/cancel
func (h *BundleHandler) Cancel(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	bundleID, err := common.ParseIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	if err := h.bundles.Cancel(c.Request.Context(), bundleID, userID); err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// Buy POST /bundles/:id/buy
func (h *BundleHandler) Buy(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	bundleID, err := common.ParseIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	deals, err := h.bundles.Buy(c.Request.Context(), bundleID, userID)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deals": deals})
}

// MakeOffer POST /bundles/:id/offers
func (h *BundleHandler) MakeOffer(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	bundleID, err := common.ParseIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req struct {
		Price int64 `json:"price" binding:"required,gt=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "цена оффера должна быть положительной")
		return
	}

	offer, err := h.bundles.MakeOffer(c.Request.Context(), bundleID, userID, req.Price)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, offer)
}

// AcceptOffer POST /bundle-offers/:id/accept
func (h *BundleHandler) AcceptOffer(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	offerID, err := common.ParseIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	deals, err := h.bundles.AcceptOffer(c.Request.Context(), offerID, userID)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deals": deals})
}

// RefuseOffer POST /bundle-offers/:id/refuse
func (h *BundleHandler) RefuseOffer(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	offerID, err := common.ParseIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	if err := h.bundles.RefuseOffer(c.Request.Context(), offerID, userID); err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "refused"})
}

// ListActive GET /bundles
func (h *BundleHandler) ListActive(c *gin.Context) {
	limit, offset := common.Pagination(c)

	var minPrice, maxPrice *int64
	if raw := c.Query("min_price"); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			minPrice = &v
		}
	}
	if raw := c.Query("max_price"); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			maxPrice = &v
		}
	}

	bundles, total, err := h.bundles.ListActive(c.Request.Context(), minPrice, maxPrice, limit, offset)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	common.RespondList(c, bundles, total)
}

// ListMine GET /bundles/my
func (h *BundleHandler) ListMine(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	limit, offset := common.Pagination(c)

	bundles, total, err := h.bundles.ListMine(c.Request.Context(), userID, limit, offset)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	common.RespondList(c, bundles, total)
}
