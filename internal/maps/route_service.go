// README: Google Maps directions adapter; the injected travel-estimate capability.
package maps

import (
	"context"
	"fmt"
	"time"

	"googlemaps.github.io/maps"
)

// RouteService answers driving-time/distance questions for the dispatcher
// console. The dispatch core itself never depends on it; route/ETA
// computation stays an injected capability.
type RouteService struct {
	client *maps.Client
}

func NewRouteService(apiKey string) (*RouteService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating maps client: %w", err)
	}
	return &RouteService{client: client}, nil
}

// TravelEstimate returns driving duration and distance in km between two
// free-text locations.
func (s *RouteService) TravelEstimate(ctx context.Context, origin, destination string) (time.Duration, float64, error) {
	r := &maps.DirectionsRequest{
		Origin:      origin,
		Destination: destination,
		Mode:        maps.TravelModeDriving,
	}
	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return 0, 0, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return 0, 0, fmt.Errorf("no route between %q and %q", origin, destination)
	}
	leg := routes[0].Legs[0]
	return leg.Duration, float64(leg.Distance.Meters) / 1000.0, nil
}
