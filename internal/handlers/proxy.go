package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dpup/drive.ersn.net/server/internal/clients"
)

// Directions proxies a directions request to Kakao Mobility so the API key
// never reaches the browser. Query parameters origin and destination are
// "lng,lat" strings passed upstream as given.
func (h *Handler) Directions(c *gin.Context) {
	origin := c.Query("origin")
	destination := c.Query("destination")
	if origin == "" || destination == "" {
		respondError(c, http.StatusBadRequest, "Origin and Destination are required")
		return
	}

	if h.proxy == nil || !h.proxy.HasAPIKey() {
		h.logger.Error("kakao API key is not configured")
		respondError(c, http.StatusInternalServerError, "Server misconfiguration: API Key missing")
		return
	}

	body, err := h.proxy.DirectionsRaw(c.Request.Context(), origin, destination)
	if err != nil {
		var apiErr *clients.APIError
		if errors.As(err, &apiErr) {
			h.logger.Warn("kakao directions error", zap.Int("status", apiErr.StatusCode), zap.String("body", apiErr.Body))
			c.AbortWithStatusJSON(apiErr.StatusCode, gin.H{
				"error":   fmt.Sprintf("Kakao API Failed: %d", apiErr.StatusCode),
				"details": apiErr.Body,
			})
			return
		}
		h.logger.Error("directions proxy failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	if !json.Valid(body) {
		h.logger.Error("directions upstream returned invalid JSON", zap.Int("bytes", len(body)))
		respondError(c, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}
