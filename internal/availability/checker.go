// Package availability answers whether a table can take a party for a slot.
package availability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"tablebook/internal/models"
	"tablebook/internal/slots"
)

// TableSource is the part of the table store the checker reads.
type TableSource interface {
	GetTable(ctx context.Context, id string) (*models.Table, error)
	ListTables(ctx context.Context, restaurantID string) ([]models.Table, error)
}

// Occupancy reports whether an active booking holds a key.
type Occupancy interface {
	Occupied(ctx context.Context, key models.SlotKey) (bool, error)
}

// slotOccupancy binds a context for the slot catalog's view. Lookup failures show the
// slot as taken.
type slotOccupancy struct {
	ctx    context.Context
	occ    Occupancy
	logger *zerolog.Logger
}

func (o slotOccupancy) IsOccupied(key models.SlotKey) bool {
	busy, err := o.occ.Occupied(o.ctx, key)
	if err != nil {
		o.logger.Warn().Err(err).Str("key", key.String()).Msg("occupancy lookup failed")
		return true
	}
	return busy
}

// Query is a single availability question.
type Query struct {
	RestaurantID string
	TableID      string
	Date         models.Date
	TimeSlot     models.TimeSlot
	Guests       int
}

// Checker evaluates availability against the table store and the conflict index.
// It never mutates either.
type Checker struct {
	tables    TableSource
	occupancy Occupancy
	catalog   *slots.Catalog
	logger    *zerolog.Logger
}

func NewChecker(tables TableSource, occupancy Occupancy, catalog *slots.Catalog, logger *zerolog.Logger) *Checker {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "availability").Logger()
	return &Checker{
		tables:    tables,
		occupancy: occupancy,
		catalog:   catalog,
		logger:    &l,
	}
}

// Catalog exposes the slot catalog the checker validates against.
func (c *Checker) Catalog() *slots.Catalog {
	return c.catalog
}

// Validate rejects malformed input before any lookup happens.
func (c *Checker) Validate(q Query) error {
	switch {
	case strings.TrimSpace(q.RestaurantID) == "":
		return &models.ValidationError{Field: "restaurantId", Message: "is required"}
	case strings.TrimSpace(q.TableID) == "":
		return &models.ValidationError{Field: "tableId", Message: "is required"}
	}
	return c.validateSlot(q.Date, q.TimeSlot, q.Guests)
}

func (c *Checker) validateSlot(date models.Date, slot models.TimeSlot, guests int) error {
	if date.IsZero() {
		return &models.ValidationError{Field: "date", Message: "is required"}
	}
	if guests <= 0 {
		return &models.ValidationError{Field: "guests", Message: "must be a positive integer"}
	}
	if !c.catalog.Contains(slot) {
		return &models.ValidationError{Field: "timeSlot", Message: fmt.Sprintf("unknown time slot %q", slot)}
	}
	return nil
}

// CheckAvailability returns nil when the table can take the party for the slot.
// Checks run in order: input, table, capacity, occupancy.
func (c *Checker) CheckAvailability(ctx context.Context, q Query) error {
	if err := c.Validate(q); err != nil {
		return err
	}

	table, err := c.lookupTable(ctx, q.RestaurantID, q.TableID)
	if err != nil {
		return err
	}

	if q.Guests > table.Capacity {
		return &models.CapacityError{Guests: q.Guests, Capacity: table.Capacity}
	}

	busy, err := c.occupancy.Occupied(ctx, models.SlotKey{TableID: table.ID, Date: q.Date, TimeSlot: q.TimeSlot})
	if err != nil {
		return fmt.Errorf("check occupancy: %w", err)
	}
	if busy {
		return models.ErrSlotOccupied
	}
	return nil
}

// LookupTable returns the table if it exists, belongs to the restaurant and is in service.
func (c *Checker) LookupTable(ctx context.Context, restaurantID, tableID string) (*models.Table, error) {
	return c.lookupTable(ctx, restaurantID, tableID)
}

func (c *Checker) lookupTable(ctx context.Context, restaurantID, tableID string) (*models.Table, error) {
	table, err := c.tables.GetTable(ctx, tableID)
	if err != nil {
		if errors.Is(err, models.ErrTableNotFound) {
			return nil, models.ErrTableNotFound
		}
		return nil, fmt.Errorf("get table %s: %w", tableID, err)
	}
	if table.RestaurantID != restaurantID || !table.Bookable() {
		return nil, models.ErrTableNotFound
	}
	return table, nil
}

// ListAvailableTables returns the restaurant's in-service tables that fit the party and
// are free for the slot, smallest table first.
func (c *Checker) ListAvailableTables(ctx context.Context, restaurantID string, date models.Date, slot models.TimeSlot, guests int) ([]models.Table, error) {
	if strings.TrimSpace(restaurantID) == "" {
		return nil, &models.ValidationError{Field: "restaurantId", Message: "is required"}
	}
	if err := c.validateSlot(date, slot, guests); err != nil {
		return nil, err
	}

	tables, err := c.tables.ListTables(ctx, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	result := make([]models.Table, 0, len(tables))
	for _, t := range tables {
		if !t.Bookable() || t.Capacity < guests {
			continue
		}
		busy, err := c.occupancy.Occupied(ctx, models.SlotKey{TableID: t.ID, Date: date, TimeSlot: slot})
		if err != nil {
			return nil, fmt.Errorf("check occupancy: %w", err)
		}
		if busy {
			continue
		}
		result = append(result, t)
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.Capacity != b.Capacity {
			return a.Capacity < b.Capacity
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})

	c.logger.Debug().
		Str("restaurant_id", restaurantID).
		Str("date", date.String()).
		Str("time_slot", string(slot)).
		Int("guests", guests).
		Int("found", len(result)).
		Msg("listed available tables")
	return result, nil
}

// SlotAvailability lists every configured slot of the day for one table.
func (c *Checker) SlotAvailability(ctx context.Context, restaurantID, tableID string, date models.Date) ([]slots.SlotInfo, error) {
	if date.IsZero() {
		return nil, &models.ValidationError{Field: "date", Message: "is required"}
	}
	table, err := c.lookupTable(ctx, restaurantID, tableID)
	if err != nil {
		return nil, err
	}
	occ := slotOccupancy{ctx: ctx, occ: c.occupancy, logger: c.logger}
	return c.catalog.Availability(ctx, occ, table.ID, date), nil
}
