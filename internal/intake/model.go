// README: Dispatcher call records: phone orders entered by a human dispatcher.
package intake

import (
	"time"

	"taxidispatch/internal/types"
)

type CallStatus string

const (
	CallReceived   CallStatus = "received"
	CallProcessing CallStatus = "processing"
	CallCompleted  CallStatus = "completed"
)

type DispatcherCall struct {
	ID           types.ID
	DispatcherID types.ID
	// OrderID links the ride order the call produced, once created.
	OrderID *types.ID

	CallerPhone    string
	CallerName     string
	CallerLocation string
	Passengers     int
	Notes          string

	Status      CallStatus
	ReceivedAt  time.Time
	CompletedAt *time.Time
}
