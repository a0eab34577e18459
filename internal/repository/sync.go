package repository

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"tablebook/internal/models"
)

// SyncResult counts what a floor plan sync changed.
type SyncResult struct {
	Created   int
	Updated   int
	Retired   int
	Unchanged int
}

// SyncFloorPlan applies the desired set of tables to the store. Tables missing from
// desired are put into maintenance, never removed. A desired table with an empty status
// keeps its current status, or starts available when new.
func SyncFloorPlan(ctx context.Context, store TableStore, desired []models.Table, logger *zerolog.Logger) (SyncResult, error) {
	var res SyncResult
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	existing, err := store.ListAllTables(ctx)
	if err != nil {
		return res, fmt.Errorf("list tables: %w", err)
	}
	current := make(map[string]models.Table, len(existing))
	for _, t := range existing {
		current[t.ID] = t
	}

	seen := make(map[string]struct{}, len(desired))
	for _, want := range desired {
		if want.ID == "" {
			return res, fmt.Errorf("floor plan table without id")
		}
		if _, dup := seen[want.ID]; dup {
			return res, fmt.Errorf("duplicate table id %q in floor plan", want.ID)
		}
		seen[want.ID] = struct{}{}

		have, exists := current[want.ID]
		if want.Status == "" {
			if exists {
				want.Status = have.Status
			} else {
				want.Status = models.TableAvailable
			}
		}
		if exists && sameTable(have, want) {
			res.Unchanged++
			continue
		}
		if exists {
			want.CreatedAt = have.CreatedAt
		}

		t := want
		if err := store.UpsertTable(ctx, &t); err != nil {
			return res, fmt.Errorf("sync table %s: %w", want.ID, err)
		}
		if exists {
			res.Updated++
		} else {
			res.Created++
		}
	}

	for _, t := range existing {
		if _, ok := seen[t.ID]; ok || t.Status == models.TableMaintenance {
			continue
		}
		if _, err := store.UpdateTableStatus(ctx, t.ID, models.TableMaintenance); err != nil {
			return res, fmt.Errorf("retire table %s: %w", t.ID, err)
		}
		res.Retired++
	}

	logger.Info().
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("retired", res.Retired).
		Int("unchanged", res.Unchanged).
		Msg("floor plan synced")
	return res, nil
}

func sameTable(a, b models.Table) bool {
	return a.RestaurantID == b.RestaurantID &&
		a.Name == b.Name &&
		a.Capacity == b.Capacity &&
		a.Type == b.Type &&
		a.Status == b.Status
}
