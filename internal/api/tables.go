package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tablebook/internal/models"
)

type tableStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) listTimeSlots(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"timeSlots": s.checker.Catalog().All()})
}

func (s *Server) listTables(c *gin.Context) {
	tables, err := s.tables.ListTables(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if tables == nil {
		tables = []models.Table{}
	}
	c.JSON(http.StatusOK, tables)
}

func (s *Server) availableTables(c *gin.Context) {
	date, err := models.ParseDate(c.Query("date"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	guests, err := strconv.Atoi(c.Query("guests"))
	if err != nil {
		s.writeError(c, &models.ValidationError{Field: "guests", Message: "must be an integer"})
		return
	}

	tables, err := s.checker.ListAvailableTables(c.Request.Context(), c.Param("id"), date, models.TimeSlot(c.Query("timeSlot")), guests)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tables)
}

func (s *Server) tableSlots(c *gin.Context) {
	date, err := models.ParseDate(c.Query("date"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	info, err := s.checker.SlotAvailability(c.Request.Context(), c.Param("id"), c.Param("tableId"), date)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tableId": c.Param("tableId"),
		"date":    date,
		"slots":   info,
	})
}

func (s *Server) updateTableStatus(c *gin.Context) {
	var req tableStatusRequest
	if err := decodeJSON(c.Request, &req); err != nil {
		s.writeError(c, err)
		return
	}
	status, err := models.ParseTableStatus(req.Status)
	if err != nil {
		s.writeError(c, err)
		return
	}

	table, err := s.tables.UpdateTableStatus(c.Request.Context(), c.Param("id"), status)
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.logger.Info().Str("table_id", table.ID).Str("status", string(status)).Msg("table status updated")
	c.JSON(http.StatusOK, table)
}

// deleteTable retires a table. Rows stay so past bookings keep their reference.
func (s *Server) deleteTable(c *gin.Context) {
	table, err := s.tables.UpdateTableStatus(c.Request.Context(), c.Param("id"), models.TableMaintenance)
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.logger.Info().Str("table_id", table.ID).Msg("table retired")
	c.Status(http.StatusNoContent)
}
