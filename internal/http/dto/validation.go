package dto

import (
	"fmt"
	"strings"
)

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ToResponse joins validation errors into one message for the error body.
func ToResponse(errs []ValidationError) string {
	var msgs []string
	for _, e := range errs {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func validateYear(year *int) []ValidationError {
	var errs []ValidationError
	if year != nil && *year != 0 && (*year < 1000 || *year > 2100) {
		errs = append(errs, ValidationError{Field: "year", Message: "must be 0 or a four-digit year"})
	}
	return errs
}
