package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDate_ParseAndFormat(t *testing.T) {
	d, err := ParseDate("2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, Date{Year: 2024, Month: time.May, Day: 1}, d)
	assert.Equal(t, "2024-05-01", d.String())

	_, err = ParseDate("01-05-2024")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = ParseDate("2024-02-30")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDate_JSON(t *testing.T) {
	var payload struct {
		Date Date `json:"date"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"date":"2024-12-31"}`), &payload))
	assert.Equal(t, MustParseDate("2024-12-31"), payload.Date)

	out, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"date":"2024-12-31"}`, string(out))

	err = json.Unmarshal([]byte(`{"date":"31.12.2024"}`), &payload)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDate_Arithmetic(t *testing.T) {
	d := MustParseDate("2024-02-28")
	assert.Equal(t, "2024-02-29", d.AddDays(1).String())
	assert.Equal(t, "2024-03-01", d.AddDays(2).String())
	assert.True(t, d.Before(d.AddDays(1)))
	assert.True(t, d.AddDays(1).After(d))
	assert.False(t, d.Before(d))
}

func TestTimeSlot_Bounds(t *testing.T) {
	loc := time.FixedZone("local", 3*3600)
	date := MustParseDate("2024-05-01")

	tests := []struct {
		name      string
		slot      TimeSlot
		wantStart time.Time
		wantEnd   time.Time
		wantErr   bool
	}{
		{
			name:      "evening slot",
			slot:      "18:00-20:00",
			wantStart: time.Date(2024, 5, 1, 18, 0, 0, 0, loc),
			wantEnd:   time.Date(2024, 5, 1, 20, 0, 0, 0, loc),
		},
		{
			name:      "ends at midnight",
			slot:      "22:00-24:00",
			wantStart: time.Date(2024, 5, 1, 22, 0, 0, 0, loc),
			wantEnd:   time.Date(2024, 5, 2, 0, 0, 0, 0, loc),
		},
		{
			name:      "crosses midnight",
			slot:      "23:00-01:00",
			wantStart: time.Date(2024, 5, 1, 23, 0, 0, 0, loc),
			wantEnd:   time.Date(2024, 5, 2, 1, 0, 0, 0, loc),
		},
		{name: "free form", slot: "evening", wantErr: true},
		{name: "single digit hour", slot: "8:00-10:00", wantErr: true},
		{name: "empty window", slot: "10:00-10:00", wantErr: true},
		{name: "minutes out of range", slot: "10:60-11:00", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := tt.slot.Bounds(date, loc)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.wantStart.Equal(start), "start %s", start)
			assert.True(t, tt.wantEnd.Equal(end), "end %s", end)
		})
	}
}

func TestParseBookingStatus(t *testing.T) {
	tests := []struct {
		in   string
		want BookingStatus
		ok   bool
	}{
		{"pending", StatusPending, true},
		{"confirmed", StatusConfirmed, true},
		{"cancelled", StatusCancelled, true},
		{"canceled", StatusCancelled, true},
		{"completed", StatusCompleted, true},
		{"no_show", StatusNoShow, true},
		{"noShow", StatusNoShow, true},
		{"done", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBookingStatus(tt.in)
			if !tt.ok {
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBookingStatus_Classes(t *testing.T) {
	assert.True(t, StatusPending.IsActive())
	assert.True(t, StatusConfirmed.IsActive())
	for _, s := range []BookingStatus{StatusCancelled, StatusCompleted, StatusNoShow} {
		assert.False(t, s.IsActive(), s)
		assert.True(t, s.IsTerminal(), s)
	}
}

func TestErrors_Is(t *testing.T) {
	assert.True(t, errors.Is(ErrConflict, ErrSlotOccupied))
	assert.True(t, errors.Is(&TransitionError{From: StatusConfirmed, To: StatusPending}, ErrInvalidTransition))
	assert.True(t, errors.Is(&CapacityError{Guests: 5, Capacity: 4}, ErrCapacityExceeded))
	assert.True(t, errors.Is(&ValidationError{Field: "guests", Message: "must be positive"}, ErrValidation))
	assert.EqualError(t, &ValidationError{Field: "guests", Message: "must be positive"}, "guests: must be positive")
}

func TestTable_Bookable(t *testing.T) {
	tbl := Table{Status: TableOccupied}
	assert.True(t, tbl.Bookable())
	tbl.Status = TableMaintenance
	assert.False(t, tbl.Bookable())
}
