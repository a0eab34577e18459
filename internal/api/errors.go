package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"tablebook/internal/models"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// errBadRequest marks bodies that are not valid JSON for the endpoint.
var errBadRequest = errors.New("bad request")

// statusOf maps an error to its HTTP status and machine code.
// ErrConflict wraps ErrSlotOccupied, so it must be checked first.
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, models.ErrCapacityExceeded):
		return http.StatusUnprocessableEntity, "capacity_exceeded"
	case errors.Is(err, models.ErrValidation):
		return http.StatusUnprocessableEntity, "validation"
	case errors.Is(err, models.ErrTableNotFound):
		return http.StatusNotFound, "table_not_found"
	case errors.Is(err, models.ErrBookingNotFound):
		return http.StatusNotFound, "booking_not_found"
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, models.ErrSlotOccupied):
		return http.StatusConflict, "slot_occupied"
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, models.ErrConcurrentModification):
		return http.StatusConflict, "concurrent_modification"
	case errors.Is(err, models.ErrReserveTimeout):
		return http.StatusServiceUnavailable, "reserve_timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	status, code := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		msg = "internal server error"
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: msg, Code: code})
}

// decodeJSON reads a single JSON object into dst and rejects unknown fields.
// Type mismatches surface as validation errors, syntax problems as bad requests.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		var validation *models.ValidationError
		switch {
		case errors.As(err, &validation):
			return validation
		case errors.As(err, &typeErr):
			return &models.ValidationError{Field: typeErr.Field, Message: fmt.Sprintf("must be %s", typeErr.Type)}
		case errors.Is(err, io.EOF):
			return fmt.Errorf("%w: empty body", errBadRequest)
		default:
			return fmt.Errorf("%w: %v", errBadRequest, err)
		}
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after JSON object", errBadRequest)
	}
	return nil
}
