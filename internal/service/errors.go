package service

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/vatledger/engine/internal/apperror"
)

// lookupErr maps a missing row to a not_found error and wraps anything else.
func lookupErr(err error, op, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperror.Errorf(apperror.ENOTFOUND, op, "%s not found", what)
	}
	return fmt.Errorf("failed to fetch %s: %w", what, err)
}

func validateRange(op string, start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return apperror.Errorf(apperror.EINVALID, op, "start and end dates are required")
	}
	if !start.Before(end) {
		return apperror.Errorf(apperror.EINVALID, op, "start %s must be before end %s",
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return nil
}
