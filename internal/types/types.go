// README: Shared identifiers, coordinates, money and actor roles.
package types

type ID string

// Money is an integer amount in the currency's smallest practical unit.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Role is fixed at user creation; reassignment is an administrative override.
type Role string

const (
	RoleCustomer   Role = "customer"
	RoleDriver     Role = "driver"
	RoleDispatcher Role = "dispatcher"
	RoleAdmin      Role = "admin"
	// RoleSystem is the dispatch engine and background sweeps acting on their own.
	RoleSystem Role = "system"
)
