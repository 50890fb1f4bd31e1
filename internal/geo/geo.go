// Package geo resolves locations to coordinates and filters things by
// great-circle distance.
package geo

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/xavierca1/lead-marketplace/internal/entity"
)

// EarthRadiusKm is the mean Earth radius.
const EarthRadiusKm = 6371.0088

// Distance returns the haversine great-circle distance in kilometres.
func Distance(a, b entity.Coordinates) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := lat2 - lat1
	dLng := radians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// ApproxDistance is the equirectangular projection: longitude deltas are
// scaled by the cosine of the mean latitude. Accurate enough for short
// radii, cheaper than Distance.
func ApproxDistance(a, b entity.Coordinates) float64 {
	meanLat := radians((a.Lat + b.Lat) / 2)
	x := radians(b.Lng-a.Lng) * math.Cos(meanLat)
	y := radians(b.Lat - a.Lat)
	return EarthRadiusKm * math.Sqrt(x*x+y*y)
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// Placed is an item annotated with its distance from an origin. DistanceKm
// is nil when the item has no coordinates.
type Placed[T any] struct {
	Item       T
	DistanceKm *float64
}

// Filter keeps items within radiusKm of origin. Items without coordinates
// are kept and carry no distance: an unknown location is treated as
// potentially relevant.
//
// TODO(product): confirm that location-less items should stay in radius
// searches rather than be excluded.
func Filter[T any](items []T, locate func(T) *entity.Coordinates, origin entity.Coordinates, radiusKm float64) []Placed[T] {
	out := make([]Placed[T], 0, len(items))
	for _, item := range items {
		coords := locate(item)
		if coords == nil {
			out = append(out, Placed[T]{Item: item})
			continue
		}
		d := Distance(origin, *coords)
		if d > radiusKm {
			continue
		}
		out = append(out, Placed[T]{Item: item, DistanceKm: &d})
	}
	return out
}

// WithinRadius returns the leads within radiusKm of origin plus every lead
// without coordinates, in input order.
func WithinRadius(leads []*entity.Lead, origin entity.Coordinates, radiusKm float64) []*entity.Lead {
	placed := Filter(leads, LeadCoordinates, origin, radiusKm)
	out := make([]*entity.Lead, 0, len(placed))
	for _, p := range placed {
		out = append(out, p.Item)
	}
	return out
}

func LeadCoordinates(l *entity.Lead) *entity.Coordinates {
	return l.Location.Coordinates
}

func ProviderCoordinates(p *entity.Provider) *entity.Coordinates {
	return p.Coordinates
}

// Geocoder is the external geocoding backend. Implementations return
// entity.ErrNotFound for unknown or ambiguous input instead of guessing.
type Geocoder interface {
	Geocode(ctx context.Context, query string) (entity.Coordinates, error)
}

// Index fronts a Geocoder and normalises queries before they leave the process.
type Index struct {
	geocoder Geocoder
}

func NewIndex(geocoder Geocoder) *Index {
	return &Index{geocoder: geocoder}
}

func (i *Index) Geocode(ctx context.Context, freeText string) (entity.Coordinates, error) {
	query := strings.Join(strings.Fields(freeText), " ")
	if query == "" || i.geocoder == nil {
		return entity.Coordinates{}, entity.ErrNotFound
	}

	coords, err := i.geocoder.Geocode(ctx, query)
	if err != nil {
		return entity.Coordinates{}, fmt.Errorf("geocode %q: %w", query, err)
	}
	if !Valid(coords) {
		return entity.Coordinates{}, entity.ErrNotFound
	}
	return coords, nil
}

// Valid reports whether c is a real point on the globe.
func Valid(c entity.Coordinates) bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180 &&
		!math.IsNaN(c.Lat) && !math.IsNaN(c.Lng)
}
