package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"tablebook/internal/booking"
	"tablebook/internal/export"
	"tablebook/internal/models"
	"tablebook/internal/repository"
)

const maxListLimit = 1000

type statusRequest struct {
	Status string `json:"status"`
}

type paymentRequest struct {
	PaymentStatus string `json:"paymentStatus"`
}

func (s *Server) createBooking(c *gin.Context) {
	var req booking.CreateRequest
	if err := decodeJSON(c.Request, &req); err != nil {
		s.writeError(c, err)
		return
	}

	b, err := s.lifecycle.CreateBooking(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Header("Location", "/bookings/"+b.ID)
	c.JSON(http.StatusCreated, b)
}

func (s *Server) getBooking(c *gin.Context) {
	b, err := s.lifecycle.GetBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (s *Server) updateStatus(c *gin.Context) {
	var req statusRequest
	if err := decodeJSON(c.Request, &req); err != nil {
		s.writeError(c, err)
		return
	}
	status, err := models.ParseBookingStatus(req.Status)
	if err != nil {
		s.writeError(c, err)
		return
	}

	b, err := s.lifecycle.Transition(c.Request.Context(), c.Param("id"), status)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (s *Server) updatePayment(c *gin.Context) {
	var req paymentRequest
	if err := decodeJSON(c.Request, &req); err != nil {
		s.writeError(c, err)
		return
	}
	status, err := models.ParsePaymentStatus(req.PaymentStatus)
	if err != nil {
		s.writeError(c, err)
		return
	}

	b, err := s.lifecycle.UpdatePayment(c.Request.Context(), c.Param("id"), status)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (s *Server) listBookings(c *gin.Context) {
	filter, err := bookingFilter(c)
	if err != nil {
		s.writeError(c, err)
		return
	}

	list, err := s.lifecycle.ListBookings(c.Request.Context(), filter)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if list == nil {
		list = []models.Booking{}
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) exportBookings(c *gin.Context) {
	filter, err := bookingFilter(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	filter.Limit = 0

	list, err := s.lifecycle.ListBookings(c.Request.Context(), filter)
	if err != nil {
		s.writeError(c, err)
		return
	}

	// Render fully before writing so a failure still yields a JSON error.
	var buf bytes.Buffer
	if err := export.WriteBookings(&buf, filter.RestaurantID, list); err != nil {
		s.writeError(c, err)
		return
	}
	name := fmt.Sprintf("bookings_%s.xlsx", filter.RestaurantID)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, export.ContentType, buf.Bytes())
}

// bookingFilter reads date, from, to, status, tableId, clientId and limit.
// date is shorthand for from=to=date.
func bookingFilter(c *gin.Context) (repository.BookingFilter, error) {
	filter := repository.BookingFilter{
		RestaurantID: c.Param("id"),
		TableID:      c.Query("tableId"),
		ClientID:     c.Query("clientId"),
	}

	if v := c.Query("date"); v != "" {
		d, err := models.ParseDate(v)
		if err != nil {
			return filter, err
		}
		filter.From, filter.To = d, d
	}
	if v := c.Query("from"); v != "" {
		d, err := models.ParseDate(v)
		if err != nil {
			return filter, &models.ValidationError{Field: "from", Message: "invalid date format; expected YYYY-MM-DD"}
		}
		filter.From = d
	}
	if v := c.Query("to"); v != "" {
		d, err := models.ParseDate(v)
		if err != nil {
			return filter, &models.ValidationError{Field: "to", Message: "invalid date format; expected YYYY-MM-DD"}
		}
		filter.To = d
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return filter, &models.ValidationError{Field: "to", Message: "must not be before from"}
	}

	if v := c.Query("status"); v != "" {
		for _, part := range strings.Split(v, ",") {
			st, err := models.ParseBookingStatus(part)
			if err != nil {
				return filter, err
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}

	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return filter, &models.ValidationError{Field: "limit", Message: "must be a positive integer"}
		}
		filter.Limit = min(n, maxListLimit)
	}
	return filter, nil
}
