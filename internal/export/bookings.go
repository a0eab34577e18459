package export

import (
	"io"

	"tablebook/internal/models"
)

// ContentType of the workbooks produced here.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var bookingColumns = []string{
	"ID", "Date", "Time slot", "Table", "Client", "Guests",
	"Status", "Payment", "Total", "Special requests", "Created at",
}

var statusOrder = []models.BookingStatus{
	models.StatusPending,
	models.StatusConfirmed,
	models.StatusCompleted,
	models.StatusCancelled,
	models.StatusNoShow,
}

// WriteBookings renders the bookings of one restaurant as a workbook with a
// "Bookings" sheet and a per-status "Summary" sheet. Totals are in minor units.
func WriteBookings(out io.Writer, restaurantID string, bookings []models.Booking) error {
	w := NewWriter()
	defer w.Close()

	if err := w.AddSheet("Bookings " + restaurantID); err != nil {
		return err
	}
	if err := w.WriteHeader(bookingColumns); err != nil {
		return err
	}

	counts := make(map[models.BookingStatus]int)
	totals := make(map[models.BookingStatus]int64)
	for _, b := range bookings {
		counts[b.Status]++
		totals[b.Status] += b.TotalPrice
		if err := w.WriteRow([]any{
			b.ID,
			b.Date.String(),
			string(b.TimeSlot),
			b.TableID,
			b.ClientID,
			b.Guests,
			string(b.Status),
			string(b.PaymentStatus),
			b.TotalPrice,
			b.SpecialRequests,
			b.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		}); err != nil {
			return err
		}
	}

	if err := w.AddSheet("Summary"); err != nil {
		return err
	}
	if err := w.WriteHeader([]string{"Status", "Bookings", "Total"}); err != nil {
		return err
	}
	for _, s := range statusOrder {
		if err := w.WriteRow([]any{string(s), counts[s], totals[s]}); err != nil {
			return err
		}
	}

	return w.Save(out)
}
