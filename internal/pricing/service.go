// README: Pricing service computes fare estimates from the rate table.
package pricing

import (
	"context"
	"errors"
	"math"
	"sync"

	"taxidispatch/internal/types"
)

var ErrUnknownClass = errors.New("no rate for order class")

type Service struct {
	mu    sync.RWMutex
	rates map[string]Rate
}

// NewService builds a pricing service; nil rates fall back to DefaultRates.
func NewService(rates map[string]Rate) *Service {
	if rates == nil {
		rates = DefaultRates()
	}
	return &Service{rates: rates}
}

func (s *Service) Estimate(_ context.Context, distanceKm float64, class string) (types.Money, error) {
	s.mu.RLock()
	rate, ok := s.rates[class]
	s.mu.RUnlock()
	if !ok {
		return types.Money{}, ErrUnknownClass
	}
	if distanceKm < 0 {
		distanceKm = 0
	}
	amount := rate.BaseFare + int64(math.Round(distanceKm*float64(rate.PerKm)))
	return types.Money{Amount: amount, Currency: rate.Currency}, nil
}

// Reload swaps the rate table, e.g. after a periodic re-read from the store.
func (s *Service) Reload(rates map[string]Rate) {
	if len(rates) == 0 {
		return
	}
	s.mu.Lock()
	s.rates = rates
	s.mu.Unlock()
}
