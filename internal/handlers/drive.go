package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dpup/drive.ersn.net/server/internal/lib/drive"
	"github.com/dpup/drive.ersn.net/server/internal/lib/geo"
	"github.com/dpup/drive.ersn.net/server/internal/services"
)

// StartDriveRequest starts a drive over an explicit path or a resolved route
type StartDriveRequest struct {
	Path        geo.Path `json:"path"`
	Origin      string   `json:"origin"`
	Destination string   `json:"destination"`
	SpeedKmH    float64  `json:"speed_kmh"`
}

// SpeedRequest changes the drive speed
type SpeedRequest struct {
	SpeedKmH float64 `json:"speed_kmh" binding:"required"`
}

// StartDrive starts a drive, replacing any running one
func (h *Handler) StartDrive(c *gin.Context) {
	var req StartDriveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	ctx := c.Request.Context()
	if len(req.Path) > 0 {
		session, err := h.drive.Start(ctx, req.Path, req.SpeedKmH)
		if err != nil {
			h.driveError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"session": session})
		return
	}

	if req.Origin == "" || req.Destination == "" {
		respondError(c, http.StatusBadRequest, "path or origin and destination are required")
		return
	}
	origin, err := geo.ParseLngLat(req.Origin)
	if err != nil {
		respondError(c, http.StatusBadRequest, "origin: "+err.Error())
		return
	}
	destination, err := geo.ParseLngLat(req.Destination)
	if err != nil {
		respondError(c, http.StatusBadRequest, "destination: "+err.Error())
		return
	}

	session, route, err := h.drive.StartRoute(ctx, origin, destination, req.SpeedKmH)
	if err != nil {
		h.driveError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": session, "route": route})
}

func (h *Handler) driveError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, drive.ErrPathTooShort), errors.Is(err, services.ErrInvalidPath):
		respondError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrNoRoute):
		respondError(c, http.StatusNotFound, "no route found")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respondError(c, http.StatusGatewayTimeout, "request timed out")
	case errors.Is(err, drive.ErrLoopClosed):
		respondError(c, http.StatusServiceUnavailable, "drive host is shutting down")
	default:
		h.logger.Error("drive request failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Internal Server Error")
	}
}

// GetDrive returns the drive and view state
func (h *Handler) GetDrive(c *gin.Context) {
	snap, err := h.drive.Snapshot(c.Request.Context())
	if err != nil {
		h.driveError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// StopDrive stops the running drive
func (h *Handler) StopDrive(c *gin.Context) {
	stopped, err := h.drive.Stop(c.Request.Context())
	if err != nil {
		h.driveError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": stopped})
}

// SetSpeed changes the speed of the running or next drive
func (h *Handler) SetSpeed(c *gin.Context) {
	var req SpeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"speed_kmh": h.drive.SetSpeed(req.SpeedKmH)})
}

// ToggleRoadview flips roadview pick mode
func (h *Handler) ToggleRoadview(c *gin.Context) {
	st, err := h.drive.ToggleRoadview(c.Request.Context())
	if err != nil {
		h.driveError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// CloseRoadview closes the roadview pane
func (h *Handler) CloseRoadview(c *gin.Context) {
	st, err := h.drive.CloseRoadview(c.Request.Context())
	if err != nil {
		h.driveError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// MapClick forwards a click on the map. The outcome arrives on the event stream.
func (h *Handler) MapClick(c *gin.Context) {
	var p geo.Point
	if err := c.ShouldBindJSON(&p); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	if !p.Valid() {
		respondError(c, http.StatusBadRequest, "coordinates out of range")
		return
	}

	accepted, err := h.drive.MapClick(c.Request.Context(), p)
	if err != nil {
		h.driveError(c, err)
		return
	}
	status := http.StatusAccepted
	if !accepted {
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"accepted": accepted})
}

// DriveEvents streams drive events as server-sent events until the client
// goes away or the host shuts down.
func (h *Handler) DriveEvents(c *gin.Context) {
	feed, cancel := h.drive.Subscribe()
	defer cancel()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Render(-1, sse.Event{Event: "ready", Data: gin.H{}})
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-feed:
			if !ok {
				return false
			}
			c.Render(-1, sse.Event{
				Id:    strconv.FormatUint(ev.ID, 10),
				Event: ev.Type,
				Data:  ev.Data,
			})
			return true
		case <-heartbeat.C:
			_, _ = io.WriteString(w, ": ping\n\n")
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
