package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dpup/drive.ersn.net/server/internal/lib/export"
	"github.com/dpup/drive.ersn.net/server/internal/lib/geo"
	"github.com/dpup/drive.ersn.net/server/internal/services"
)

// routeEndpoints parses the origin and destination query parameters
func routeEndpoints(c *gin.Context) (geo.Point, geo.Point, bool) {
	origin, err := geo.ParseLngLat(c.Query("origin"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "origin: "+err.Error())
		return geo.Point{}, geo.Point{}, false
	}
	destination, err := geo.ParseLngLat(c.Query("destination"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "destination: "+err.Error())
		return geo.Point{}, geo.Point{}, false
	}
	return origin, destination, true
}

// queryPoint parses the lat and lng query parameters
func queryPoint(c *gin.Context) (geo.Point, error) {
	lat, err := strconv.ParseFloat(c.Query("lat"), 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("invalid lat %q", c.Query("lat"))
	}
	lng, err := strconv.ParseFloat(c.Query("lng"), 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("invalid lng %q", c.Query("lng"))
	}
	p := geo.Point{Latitude: lat, Longitude: lng}
	if !p.Valid() {
		return geo.Point{}, fmt.Errorf("coordinates out of range: %s", p)
	}
	return p, nil
}

func (h *Handler) resolveRoute(c *gin.Context) (*services.Route, bool) {
	origin, destination, ok := routeEndpoints(c)
	if !ok {
		return nil, false
	}
	route, err := h.routes.GetRoute(c.Request.Context(), origin, destination)
	if err != nil {
		h.routeError(c, err)
		return nil, false
	}
	return route, true
}

func (h *Handler) routeError(c *gin.Context, err error) {
	if errors.Is(err, services.ErrNoRoute) {
		respondError(c, http.StatusNotFound, "no route found")
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		h.logger.Debug("route lookup abandoned", zap.Error(err))
		respondError(c, http.StatusGatewayTimeout, "route lookup timed out")
		return
	}
	h.logger.Error("route lookup failed", zap.Error(err))
	respondError(c, http.StatusInternalServerError, "Internal Server Error")
}

// GetRoute returns a normalized route between origin and destination
func (h *Handler) GetRoute(c *gin.Context) {
	route, ok := h.resolveRoute(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, route)
}

// GetRouteKML returns the route as a KML download
func (h *Handler) GetRouteKML(c *gin.Context) {
	route, ok := h.resolveRoute(c)
	if !ok {
		return
	}

	var buf bytes.Buffer
	err := export.WriteRouteKML(&buf, export.RouteInfo{
		Summary:         route.Summary,
		DistanceMeters:  route.DistanceMeters,
		DurationSeconds: route.DurationSeconds,
	}, route.Path)
	if err != nil {
		h.logger.Error("kml export failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	c.Header("Content-Disposition", `attachment; filename="route.kml"`)
	c.Data(http.StatusOK, "application/vnd.google-earth.kml+xml", buf.Bytes())
}

// Geocode returns the display address of a point
func (h *Handler) Geocode(c *gin.Context) {
	p, err := queryPoint(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"point":   p,
		"address": h.geocoder.AddressForPoint(c.Request.Context(), p),
	})
}

// SearchPlaces returns places matching the q parameter
func (h *Handler) SearchPlaces(c *gin.Context) {
	places, err := h.places.Search(c.Request.Context(), c.Query("q"))
	if err != nil {
		h.logger.Error("place search failed", zap.Error(err))
		respondError(c, http.StatusBadGateway, "place search failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"places": places})
}
