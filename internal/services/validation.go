package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/classbank/economy/internal/models"
	"github.com/go-playground/validator/v10"
)

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// Validate checks a service input and reports failures as
// models.ErrInvalidArgument.
func (vh *ValidationHelper) Validate(s any) error {
	err := vh.validator.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", models.ErrInvalidArgument, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed '%s'", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", models.ErrInvalidArgument, strings.Join(fields, ", "))
}

func requireTeacher(actor models.Actor, operation string) error {
	if !actor.Role.CanManageEconomy() {
		return fmt.Errorf("%w: %s requires the teacher role", models.ErrPermissionDenied, operation)
	}
	return nil
}

func requireActs(actor models.Actor, accountID int64) error {
	if !actor.Acts(accountID) {
		return fmt.Errorf("%w: account %d belongs to someone else", models.ErrPermissionDenied, accountID)
	}
	return nil
}
