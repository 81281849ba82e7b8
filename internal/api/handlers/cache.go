package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jroosing/kdnsfwd/internal/api/models"
)

// ListCacheEntries godoc
// @Summary Dump answer cache
// @Description Returns every live entry in the answer cache as {domain, qtype, expires_at}
// @Tags cache
// @Produce json
// @Success 200 {object} models.CacheListResponse
// @Security ApiKeyAuth
// @Router /cache [get]
func (h *Handler) ListCacheEntries(c *gin.Context) {
	if h.cache == nil {
		c.JSON(http.StatusOK, models.CacheListResponse{Entries: []models.CacheEntry{}})
		return
	}
	entries := h.cache.Snapshot()
	c.JSON(http.StatusOK, models.CacheListResponse{Entries: entries, Count: len(entries)})
}

// DeleteAllCacheEntries godoc
// @Summary Flush the answer cache
// @Description Removes every entry from the answer cache
// @Tags cache
// @Produce json
// @Success 200 {object} models.StatusResponse
// @Failure 503 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /cache [delete]
func (h *Handler) DeleteAllCacheEntries(c *gin.Context) {
	if h.cache == nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "cache not wired"})
		return
	}
	h.cache.DeleteAll()
	c.JSON(http.StatusOK, models.StatusResponse{Status: "ok"})
}
