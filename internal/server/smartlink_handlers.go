package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mdmcmusicads/smartlink/internal/smartlinks"
	"go.uber.org/zap"
)

func (h *httpHandler) handleCreateSmartLink(c *gin.Context) {
	account, ok := currentAccount(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var request smartLinkRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	link, err := h.smartLinks.Create(c.Request.Context(), account.UserID, request.createInput())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.newSmartLinkPayload(link))
}

func (h *httpHandler) handleListSmartLinks(c *gin.Context) {
	account, ok := currentAccount(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	limit, limitErr := optionalInt(c.Query("limit"))
	offset, offsetErr := optionalInt(c.Query("offset"))
	if limitErr != nil || offsetErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_pagination"})
		return
	}
	result, err := h.smartLinks.List(c.Request.Context(), requestScope(c, account), smartlinks.ListOptions{
		Limit:  limit,
		Offset: offset,
		Search: c.Query("search"),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response := smartLinkListPayload{
		Items:   make([]smartLinkPayload, 0, len(result.Items)),
		Total:   result.Total,
		HasMore: result.HasMore,
	}
	for _, item := range result.Items {
		payload := h.newSmartLinkPayload(item.SmartLink)
		payload.OwnerDisplayName = item.OwnerDisplayName
		payload.OwnerEmail = item.OwnerEmail
		response.Items = append(response.Items, payload)
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleGetSmartLink(c *gin.Context) {
	account, ok := currentAccount(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	link, err := h.smartLinks.GetByID(c.Request.Context(), c.Param("id"), requestScope(c, account))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.newSmartLinkPayload(link))
}

func (h *httpHandler) handleUpdateSmartLink(c *gin.Context) {
	account, ok := currentAccount(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var request smartLinkRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	input, opts := request.updateInput()
	link, err := h.smartLinks.Update(c.Request.Context(), c.Param("id"), requestScope(c, account), input, opts)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.newSmartLinkPayload(link))
}

func (h *httpHandler) handleDeleteSmartLink(c *gin.Context) {
	account, ok := currentAccount(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	deleted, err := h.smartLinks.Delete(c.Request.Context(), c.Param("id"), requestScope(c, account))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	h.logger.Info("smartlink deleted", zap.String("smartlink_id", c.Param("id")), zap.String("user_id", account.UserID))
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleSmartLinkAnalytics(c *gin.Context) {
	account, ok := currentAccount(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	days, err := optionalInt(c.Query("days"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_days"})
		return
	}
	summary, err := h.analytics.Read(c.Request.Context(), c.Param("id"), requestScope(c, account), days)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func optionalInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
