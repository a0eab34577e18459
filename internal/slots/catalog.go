// Package slots holds the fixed set of service windows a restaurant publishes.
package slots

import (
	"context"
	"fmt"
	"sort"
	"time"

	"tablebook/internal/models"
)

// SlotInfo is a simplified representation for API responses.
type SlotInfo struct {
	TimeSlot  models.TimeSlot `json:"timeSlot"`
	Start     string          `json:"start"` // "18:00"
	End       string          `json:"end"`   // "20:00"
	Available bool            `json:"available"`
}

// OccupancyChecker checks if a slot is booked.
type OccupancyChecker interface {
	IsOccupied(key models.SlotKey) bool
}

// Catalog is the ordered, validated set of bookable slot labels.
type Catalog struct {
	slots []models.TimeSlot
	set   map[models.TimeSlot]struct{}
	loc   *time.Location
}

// NewCatalog validates labels and keeps them in the order given.
func NewCatalog(labels []string, loc *time.Location) (*Catalog, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("no time slots configured")
	}
	if loc == nil {
		loc = time.UTC
	}

	c := &Catalog{
		set: make(map[models.TimeSlot]struct{}, len(labels)),
		loc: loc,
	}
	for _, label := range labels {
		slot := models.TimeSlot(label)
		if _, _, err := slot.Parse(); err != nil {
			return nil, err
		}
		if _, dup := c.set[slot]; dup {
			return nil, fmt.Errorf("duplicate time slot %q", label)
		}
		c.set[slot] = struct{}{}
		c.slots = append(c.slots, slot)
	}
	return c, nil
}

// Contains reports whether slot is one of the published windows.
func (c *Catalog) Contains(slot models.TimeSlot) bool {
	_, ok := c.set[slot]
	return ok
}

// All returns the slots in configured order.
func (c *Catalog) All() []models.TimeSlot {
	out := make([]models.TimeSlot, len(c.slots))
	copy(out, c.slots)
	return out
}

// Location is the restaurant-local zone naive dates are interpreted in.
func (c *Catalog) Location() *time.Location {
	return c.loc
}

// Ends returns the instant the slot finishes on date.
func (c *Catalog) Ends(date models.Date, slot models.TimeSlot) (time.Time, error) {
	_, end, err := slot.Bounds(date, c.loc)
	return end, err
}

// Availability lists every slot of the day for one table, ordered by start time.
func (c *Catalog) Availability(_ context.Context, checker OccupancyChecker, tableID string, date models.Date) []SlotInfo {
	result := make([]SlotInfo, 0, len(c.slots))
	for _, slot := range c.slots {
		start, end, err := slot.Parse()
		if err != nil {
			continue
		}
		occupied := false
		if checker != nil {
			occupied = checker.IsOccupied(models.SlotKey{TableID: tableID, Date: date, TimeSlot: slot})
		}
		result = append(result, SlotInfo{
			TimeSlot:  slot,
			Start:     start.String(),
			End:       end.String(),
			Available: !occupied,
		})
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Start < result[j].Start })
	return result
}
