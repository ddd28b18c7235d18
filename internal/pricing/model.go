// README: Fare rate definition per order class.
package pricing

type Rate struct {
	Class    string
	BaseFare int64
	PerKm    int64
	Currency string
}

// DefaultRates apply until a deployment loads its own table.
func DefaultRates() map[string]Rate {
	return map[string]Rate{
		"standard": {Class: "standard", BaseFare: 6000, PerKm: 1500, Currency: "UZS"},
		"shared":   {Class: "shared", BaseFare: 4000, PerKm: 1000, Currency: "UZS"},
		"premium":  {Class: "premium", BaseFare: 12000, PerKm: 2800, Currency: "UZS"},
	}
}
