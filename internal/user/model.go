// README: User identity: role, contact handle, active flag.
package user

import (
	"time"

	"taxidispatch/internal/types"
)

type User struct {
	ID     types.ID
	Phone  string
	Name   string
	Role   types.Role
	Active bool
	// PremiumCapable marks drivers whose vehicle class qualifies for premium
	// orders. Meaningless for non-driver roles.
	PremiumCapable bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
