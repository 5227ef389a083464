package grpc

import (
	"context"
	"errors"
	"log/slog"

	"github.com/TomasB/geolocate/internal/geoip"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Handler implements GeoIPServiceServer.
type Handler struct {
	locator geoip.Locator
}

var _ GeoIPServiceServer = (*Handler)(nil)

// NewHandler creates a new gRPC handler with the given Locator.
func NewHandler(locator geoip.Locator) *Handler {
	return &Handler{locator: locator}
}

func queryOf(req *structpb.Struct) (string, error) {
	if req == nil {
		return "", status.Error(codes.InvalidArgument, "request is required")
	}
	query := req.GetFields()["query"].GetStringValue()
	if query == "" {
		return "", status.Error(codes.InvalidArgument, "query is required")
	}
	return query, nil
}

// Country returns country_code and country_name for the query.
func (h *Handler) Country(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	query, err := queryOf(req)
	if err != nil {
		return nil, err
	}

	country, err := h.locator.Country(ctx, query)
	if err != nil {
		return nil, toStatus(query, err)
	}
	return structpb.NewStruct(map[string]any{
		"country_code": country.CountryCode,
		"country_name": country.CountryName,
	})
}

// City returns the full city record for the query.
func (h *Handler) City(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	query, err := queryOf(req)
	if err != nil {
		return nil, err
	}

	r, err := h.locator.City(ctx, query)
	if err != nil {
		return nil, toStatus(query, err)
	}
	return structpb.NewStruct(map[string]any{
		"city":            r.City,
		"continent_code":  r.ContinentCode,
		"country_code":    r.CountryCode,
		"country_code3":   r.CountryCode3,
		"country_name":    r.CountryName,
		"region":          r.Region,
		"region_name":     r.RegionName,
		"postal_code":     r.PostalCode,
		"latitude":        r.Latitude,
		"longitude":       r.Longitude,
		"dma_code":        float64(r.DMACode),
		"time_zone":       r.TimeZone,
		"accuracy_radius": float64(r.AccuracyRadius),
	})
}

// Coords returns {"longitude", "latitude"} for the query.
func (h *Handler) Coords(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	query, err := queryOf(req)
	if err != nil {
		return nil, err
	}

	r, err := h.locator.City(ctx, query)
	if err != nil {
		return nil, toStatus(query, err)
	}
	return structpb.NewStruct(map[string]any{
		"longitude": r.Longitude,
		"latitude":  r.Latitude,
	})
}

func toStatus(query string, err error) error {
	switch {
	case errors.Is(err, geoip.ErrInvalidQuery):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, geoip.ErrAddressNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, geoip.ErrNoDatabase),
		errors.Is(err, geoip.ErrNoCityDatabase):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		slog.Error("lookup failed", "query", query, "error", err)
		return status.Error(codes.Internal, "lookup failed")
	}
}
