package worker

import (
	"errors"

	"fridge-service/internal/models"
)

// isTerminal reports business outcomes a retry cannot change
func isTerminal(err error) bool {
	return errors.Is(err, models.ErrAlreadyPaid) ||
		errors.Is(err, models.ErrNotFound) ||
		errors.Is(err, models.ErrInvalidInput)
}
