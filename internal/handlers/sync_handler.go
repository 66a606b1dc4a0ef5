package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"opsync/internal/models"
	"opsync/internal/services"
)

const deviceIDHeader = "X-Device-ID"

type SyncHandler struct {
	svc *services.ReconcileService
}

func NewSyncHandler(svc *services.ReconcileService) *SyncHandler {
	return &SyncHandler{svc: svc}
}

type pushRequest struct {
	DeviceID   string             `json:"deviceId"`
	UserID     string             `json:"userId"`
	Operations []models.Operation `json:"operations"`
}

func (h *SyncHandler) Push(c *gin.Context) {
	var body pushRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
		return
	}
	if body.Operations == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "operations is required"})
		return
	}
	res, err := h.svc.Push(c.Request.Context(), strings.TrimSpace(body.DeviceID), strings.TrimSpace(body.UserID), body.Operations)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *SyncHandler) Pull(c *gin.Context) {
	deviceID := strings.TrimSpace(c.Query("deviceId"))
	if deviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "deviceId is required"})
		return
	}
	since := int64(0)
	if raw := strings.TrimSpace(c.Query("since")); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be an integer (epoch ms)"})
			return
		}
		since = v
	}
	res, err := h.svc.Pull(c.Request.Context(), deviceID, since)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *SyncHandler) Acknowledge(c *gin.Context) {
	deviceID := strings.TrimSpace(c.GetHeader(deviceIDHeader))
	ok, err := h.svc.Acknowledge(c.Request.Context(), deviceID, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"acknowledged": ok})
}

func (h *SyncHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrMalformedRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrSyncUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": services.ErrSyncUnavailable.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
