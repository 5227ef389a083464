package lookup

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/TomasB/geolocate/internal/geoip"
	"github.com/gin-gonic/gin"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CoordsResponse represents the JSON response for a coordinates query.
type CoordsResponse struct {
	Order  string     `json:"order"`
	Coords [2]float64 `json:"coords"`
}

// Handler manages GeoIP lookup endpoints.
type Handler struct {
	locator geoip.Locator
}

// NewHandler creates a new lookup handler with the given Locator.
func NewHandler(locator geoip.Locator) *Handler {
	return &Handler{locator: locator}
}

// Register mounts the lookup endpoints on r.
func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/country/:query", h.Country)
	r.GET("/city/:query", h.City)
	r.GET("/coords/:query", h.Coords)
	r.GET("/geometry/:query", h.Geometry)
	r.GET("/info", h.Info)
}

// Country handles GET /api/v1/country/:query
func (h *Handler) Country(c *gin.Context) {
	query := c.Param("query")
	slog.Debug("country request received", "query", query)

	country, err := h.locator.Country(c.Request.Context(), query)
	if err != nil {
		h.fail(c, query, err)
		return
	}
	c.JSON(http.StatusOK, country)
}

// City handles GET /api/v1/city/:query
func (h *Handler) City(c *gin.Context) {
	query := c.Param("query")
	slog.Debug("city request received", "query", query)

	record, err := h.locator.City(c.Request.Context(), query)
	if err != nil {
		h.fail(c, query, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// Coords handles GET /api/v1/coords/:query?order=lon_lat|lat_lon
func (h *Handler) Coords(c *gin.Context) {
	query := c.Param("query")
	order := c.DefaultQuery("order", "lon_lat")
	if order != "lon_lat" && order != "lat_lon" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "order must be lon_lat or lat_lon",
		})
		return
	}

	record, err := h.locator.City(c.Request.Context(), query)
	if err != nil {
		h.fail(c, query, err)
		return
	}

	resp := CoordsResponse{Order: order, Coords: [2]float64{record.Longitude, record.Latitude}}
	if order == "lat_lon" {
		resp.Coords = [2]float64{record.Latitude, record.Longitude}
	}
	c.JSON(http.StatusOK, resp)
}

// Geometry handles GET /api/v1/geometry/:query and answers with a GeoJSON feature.
func (h *Handler) Geometry(c *gin.Context) {
	query := c.Param("query")

	record, err := h.locator.City(c.Request.Context(), query)
	if err != nil {
		h.fail(c, query, err)
		return
	}

	body, err := record.Feature().MarshalJSON()
	if err != nil {
		h.fail(c, query, err)
		return
	}
	c.Data(http.StatusOK, "application/geo+json", body)
}

// Info handles GET /api/v1/info
func (h *Handler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, h.locator.Info())
}

func (h *Handler) fail(c *gin.Context, query string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("lookup failed", "query", query, "error", err)
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "lookup failed"
	}
	c.JSON(status, ErrorResponse{Error: msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, geoip.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, geoip.ErrAddressNotFound):
		return http.StatusNotFound
	case errors.Is(err, geoip.ErrNoDatabase),
		errors.Is(err, geoip.ErrNoCityDatabase):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
