package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"tablebook/internal/models"
)

// TableConfig is one table of the floor plan.
type TableConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Capacity int    `yaml:"capacity"`
	Type     string `yaml:"type"`             // indoor, outdoor, bar, vip
	Status   string `yaml:"status,omitempty"` // empty keeps the stored status
}

// RestaurantConfig groups the tables of one restaurant.
type RestaurantConfig struct {
	ID     string        `yaml:"id"`
	Name   string        `yaml:"name"`
	Tables []TableConfig `yaml:"tables"`
}

// FloorPlan is the root of floor_plan.yaml.
type FloorPlan struct {
	Restaurants []RestaurantConfig `yaml:"restaurants"`
}

// LoadFloorPlan loads and validates the floor plan from a YAML file.
func LoadFloorPlan(path string) (*FloorPlan, error) {
	if path == "" {
		path = "configs/floor_plan.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read floor plan: %w", err)
	}

	var fp FloorPlan
	if err := yaml.Unmarshal(data, &fp); err != nil {
		return nil, fmt.Errorf("parse floor plan: %w", err)
	}

	if err := fp.Validate(); err != nil {
		return nil, fmt.Errorf("validate floor plan: %w", err)
	}
	return &fp, nil
}

// Validate checks the floor plan for errors. Table ids are unique across restaurants.
func (fp *FloorPlan) Validate() error {
	if len(fp.Restaurants) == 0 {
		return fmt.Errorf("no restaurants defined")
	}

	restaurants := make(map[string]bool)
	tables := make(map[string]bool)

	for i, r := range fp.Restaurants {
		if r.ID == "" {
			return fmt.Errorf("restaurant[%d]: id is required", i)
		}
		if restaurants[r.ID] {
			return fmt.Errorf("restaurant[%d]: duplicate id '%s'", i, r.ID)
		}
		restaurants[r.ID] = true

		for j, t := range r.Tables {
			prefix := fmt.Sprintf("restaurant[%d].tables[%d]", i, j)
			if t.ID == "" {
				return fmt.Errorf("%s: id is required", prefix)
			}
			if tables[t.ID] {
				return fmt.Errorf("%s: duplicate table id '%s'", prefix, t.ID)
			}
			tables[t.ID] = true

			if t.Capacity <= 0 {
				return fmt.Errorf("%s: capacity must be positive, got %d", prefix, t.Capacity)
			}
			if _, err := models.ParseTableType(t.Type); err != nil {
				return fmt.Errorf("%s: %w", prefix, err)
			}
			if t.Status != "" {
				if _, err := models.ParseTableStatus(t.Status); err != nil {
					return fmt.Errorf("%s: %w", prefix, err)
				}
			}
		}
	}
	return nil
}

// Tables flattens the plan into table models. Names default to the table id.
func (fp *FloorPlan) Tables() []models.Table {
	var out []models.Table
	for _, r := range fp.Restaurants {
		for _, t := range r.Tables {
			typ, _ := models.ParseTableType(t.Type)
			var status models.TableStatus
			if t.Status != "" {
				status, _ = models.ParseTableStatus(t.Status)
			}
			name := t.Name
			if name == "" {
				name = t.ID
			}
			out = append(out, models.Table{
				ID:           t.ID,
				RestaurantID: r.ID,
				Name:         name,
				Capacity:     t.Capacity,
				Type:         typ,
				Status:       status,
			})
		}
	}
	return out
}

// String returns a summary of the floor plan.
func (fp *FloorPlan) String() string {
	n := 0
	for _, r := range fp.Restaurants {
		n += len(r.Tables)
	}
	return fmt.Sprintf("FloorPlan: %d restaurants, %d tables", len(fp.Restaurants), n)
}
