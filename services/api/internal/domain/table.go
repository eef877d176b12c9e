package domain

import "time"

type TableStatus string

const (
	TableStatusFree     TableStatus = "free"
	TableStatusOccupied TableStatus = "occupied"
)

// Table is a dining table. Only its free/occupied flag matters here.
type Table struct {
	ID         string
	Label      string
	Status     TableStatus
	OpenOrders int
	UpdatedAt  time.Time
}
