package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablebook/internal/models"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_DefaultsAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TABLEBOOK_TEST_DSN", "postgres://u:p@localhost/db")
	path := writeFile(t, dir, "config.yaml", `
storage:
  driver: Postgres
  dsn: ${TABLEBOOK_TEST_DSN}
booking:
  time_slots: ["12:00-14:00", "18:00-20:00"]
  deposit_per_guest: 500
events:
  retry_delays_seconds: [2, 10]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, "postgres://u:p@localhost/db", cfg.Storage.DSN)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, "UTC", cfg.Booking.Timezone)
	assert.Equal(t, time.UTC, cfg.Location())
	assert.Equal(t, 2*time.Second, cfg.ReserveTimeout())
	assert.Equal(t, int64(500), cfg.Booking.DepositPerGuest)
	assert.Equal(t, []time.Duration{2 * time.Second, 10 * time.Second}, cfg.RetryDelays())
	assert.Equal(t, time.Minute, cfg.SweepInterval())
	assert.Equal(t, 30*time.Minute, cfg.SweepGrace())
	assert.Equal(t, 24*time.Hour, cfg.BackupInterval())
	assert.Equal(t, "configs/floor_plan.yaml", cfg.FloorPlanPath)
	assert.Equal(t, 32, cfg.Events.StreamBuffer)
}

func TestLoad_SqliteCreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "nested", "tablebook.db")
	path := writeFile(t, dir, "config.yaml", `
storage:
  driver: sqlite
  path: `+dbPath+`
booking:
  time_slots: ["18:00-20:00"]
  reserve_timeout_ms: 500
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, cfg.ReserveTimeout())
	assert.DirExists(t, filepath.Dir(dbPath))
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		c := &Config{}
		c.Booking.TimeSlots = []string{"18:00-20:00"}
		c.applyDefaults()
		return c
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"no slots", func(c *Config) { c.Booking.TimeSlots = nil }, "must not be empty"},
		{"bad slot", func(c *Config) { c.Booking.TimeSlots = []string{"evening"} }, "time_slots"},
		{"duplicate slot", func(c *Config) { c.Booking.TimeSlots = []string{"18:00-20:00", "18:00-20:00"} }, "duplicate"},
		{"negative timeout", func(c *Config) { c.Booking.ReserveTimeoutMs = -1 }, "reserve_timeout_ms"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mongo" }, "unknown storage driver"},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres" }, "dsn is required"},
		{"bad timezone", func(c *Config) { c.Booking.Timezone = "Mars/Olympus" }, "timezone"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

const floorPlanYAML = `
restaurants:
  - id: R1
    name: Central
    tables:
      - id: T1
        name: Window
        capacity: 4
        type: indoor
      - id: T2
        capacity: 2
        type: BAR
        status: cleaning
  - id: R2
    tables:
      - id: T3
        name: Patio
        capacity: 6
        type: outdoor
`

func TestLoadFloorPlan(t *testing.T) {
	path := writeFile(t, t.TempDir(), "floor_plan.yaml", floorPlanYAML)

	fp, err := LoadFloorPlan(path)
	require.NoError(t, err)
	assert.Equal(t, "FloorPlan: 2 restaurants, 3 tables", fp.String())

	tables := fp.Tables()
	require.Len(t, tables, 3)
	assert.Equal(t, models.Table{ID: "T1", RestaurantID: "R1", Name: "Window", Capacity: 4, Type: models.TableIndoor}, tables[0])
	assert.Equal(t, "T2", tables[1].Name)
	assert.Equal(t, models.TableBar, tables[1].Type)
	assert.Equal(t, models.TableCleaning, tables[1].Status)
	assert.Equal(t, "R2", tables[2].RestaurantID)
}

func TestFloorPlanValidate(t *testing.T) {
	tests := []struct {
		name    string
		plan    FloorPlan
		wantErr string
	}{
		{"empty", FloorPlan{}, "no restaurants"},
		{"restaurant without id", FloorPlan{Restaurants: []RestaurantConfig{{}}}, "id is required"},
		{"duplicate restaurant", FloorPlan{Restaurants: []RestaurantConfig{{ID: "R1"}, {ID: "R1"}}}, "duplicate id"},
		{"duplicate table", FloorPlan{Restaurants: []RestaurantConfig{
			{ID: "R1", Tables: []TableConfig{{ID: "T1", Capacity: 2, Type: "bar"}}},
			{ID: "R2", Tables: []TableConfig{{ID: "T1", Capacity: 2, Type: "bar"}}},
		}}, "duplicate table id"},
		{"zero capacity", FloorPlan{Restaurants: []RestaurantConfig{
			{ID: "R1", Tables: []TableConfig{{ID: "T1", Type: "bar"}}},
		}}, "capacity must be positive"},
		{"unknown type", FloorPlan{Restaurants: []RestaurantConfig{
			{ID: "R1", Tables: []TableConfig{{ID: "T1", Capacity: 2, Type: "booth"}}},
		}}, "unknown table type"},
		{"unknown status", FloorPlan{Restaurants: []RestaurantConfig{
			{ID: "R1", Tables: []TableConfig{{ID: "T1", Capacity: 2, Type: "bar", Status: "broken"}}},
		}}, "unknown table status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorContains(t, tt.plan.Validate(), tt.wantErr)
		})
	}
}

func TestWatchFloorPlan(t *testing.T) {
	path := writeFile(t, t.TempDir(), "floor_plan.yaml", floorPlanYAML)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var plans []*FloorPlan
	err := WatchFloorPlan(ctx, path, 10*time.Millisecond, func(fp *FloorPlan) {
		mu.Lock()
		defer mu.Unlock()
		plans = append(plans, fp)
	}, nil)
	require.NoError(t, err)

	mu.Lock()
	require.Len(t, plans, 1)
	mu.Unlock()

	updated := floorPlanYAML + `
      - id: T4
        capacity: 8
        type: vip
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(plans) == 2 && len(plans[1].Tables()) == 4
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatchFloorPlan_InitialLoadFails(t *testing.T) {
	path := writeFile(t, t.TempDir(), "floor_plan.yaml", "restaurants: []\n")
	err := WatchFloorPlan(context.Background(), path, time.Second, nil, nil)
	assert.ErrorContains(t, err, "no restaurants")
}
