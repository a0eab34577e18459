package slots

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablebook/internal/models"
)

// mockChecker implements OccupancyChecker for testing
type mockChecker struct {
	occupied map[string]bool // key: SlotKey.String()
}

func (m *mockChecker) IsOccupied(key models.SlotKey) bool {
	return m.occupied[key.String()]
}

func TestNewCatalog(t *testing.T) {
	tests := []struct {
		name    string
		labels  []string
		wantErr bool
	}{
		{name: "valid", labels: []string{"12:00-14:00", "18:00-20:00"}},
		{name: "empty", labels: nil, wantErr: true},
		{name: "malformed", labels: []string{"noon"}, wantErr: true},
		{name: "duplicate", labels: []string{"18:00-20:00", "18:00-20:00"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewCatalog(tt.labels, time.UTC)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, c.All(), len(tt.labels))
		})
	}
}

func TestCatalog_Contains(t *testing.T) {
	c, err := NewCatalog([]string{"18:00-20:00", "20:00-22:00"}, nil)
	require.NoError(t, err)

	assert.True(t, c.Contains("18:00-20:00"))
	assert.False(t, c.Contains("19:00-21:00"))
	assert.Equal(t, time.UTC, c.Location())
}

func TestCatalog_Ends(t *testing.T) {
	loc := time.FixedZone("local", 2*3600)
	c, err := NewCatalog([]string{"18:00-20:00"}, loc)
	require.NoError(t, err)

	end, err := c.Ends(models.MustParseDate("2024-05-01"), "18:00-20:00")
	require.NoError(t, err)
	assert.True(t, end.Equal(time.Date(2024, 5, 1, 20, 0, 0, 0, loc)))
}

func TestCatalog_Availability(t *testing.T) {
	c, err := NewCatalog([]string{"20:00-22:00", "12:00-14:00", "18:00-20:00"}, time.UTC)
	require.NoError(t, err)

	date := models.MustParseDate("2024-05-01")
	checker := &mockChecker{occupied: map[string]bool{
		models.SlotKey{TableID: "T1", Date: date, TimeSlot: "18:00-20:00"}.String(): true,
	}}

	got := c.Availability(context.Background(), checker, "T1", date)
	require.Len(t, got, 3)

	assert.Equal(t, models.TimeSlot("12:00-14:00"), got[0].TimeSlot)
	assert.True(t, got[0].Available)
	assert.Equal(t, models.TimeSlot("18:00-20:00"), got[1].TimeSlot)
	assert.False(t, got[1].Available)
	assert.Equal(t, "20:00", got[2].Start)
	assert.Equal(t, "22:00", got[2].End)

	other := c.Availability(context.Background(), checker, "T2", date)
	for _, s := range other {
		assert.True(t, s.Available)
	}
}
