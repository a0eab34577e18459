package models

import (
	"fmt"
	"strings"
	"time"
)

type TableType string

const (
	TableIndoor  TableType = "indoor"
	TableOutdoor TableType = "outdoor"
	TableBar     TableType = "bar"
	TableVIP     TableType = "vip"
)

func ParseTableType(s string) (TableType, error) {
	switch TableType(strings.ToLower(strings.TrimSpace(s))) {
	case TableIndoor, TableOutdoor, TableBar, TableVIP:
		return TableType(strings.ToLower(strings.TrimSpace(s))), nil
	default:
		return "", &ValidationError{Field: "type", Message: fmt.Sprintf("unknown table type %q", s)}
	}
}

// TableStatus is the floor state of a table. Maintenance also marks soft-deleted tables.
type TableStatus string

const (
	TableAvailable   TableStatus = "available"
	TableOccupied    TableStatus = "occupied"
	TableReserved    TableStatus = "reserved"
	TableCleaning    TableStatus = "cleaning"
	TableMaintenance TableStatus = "maintenance"
)

func ParseTableStatus(s string) (TableStatus, error) {
	switch TableStatus(strings.ToLower(strings.TrimSpace(s))) {
	case TableAvailable, TableOccupied, TableReserved, TableCleaning, TableMaintenance:
		return TableStatus(strings.ToLower(strings.TrimSpace(s))), nil
	default:
		return "", &ValidationError{Field: "status", Message: fmt.Sprintf("unknown table status %q", s)}
	}
}

// Table is a bookable table of a restaurant.
type Table struct {
	ID           string      `json:"id"`
	RestaurantID string      `json:"restaurantId"`
	Name         string      `json:"name"`
	Capacity     int         `json:"capacity"`
	Type         TableType   `json:"type"`
	Status       TableStatus `json:"status"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// Bookable reports whether new bookings may reference the table.
// Floor states like occupied or cleaning describe the present moment and do not block
// future slots; only maintenance takes a table out of service.
func (t *Table) Bookable() bool {
	return t.Status != TableMaintenance
}
