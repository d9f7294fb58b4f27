package models

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Error codes carried by AppError.
const (
	CodeValidation           = "VALIDATION_ERROR"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeForbidden            = "FORBIDDEN"
	CodeNotFound             = "NOT_FOUND"
	CodeConflict             = "CONFLICT"
	CodeConfirmationRequired = "CONFIRMATION_REQUIRED"
	CodeStore                = "STORE_ERROR"
	CodeUnavailable          = "UNAVAILABLE"
	CodeTimeout              = "TIMEOUT"
	CodeInternal             = "INTERNAL_ERROR"
)

// ErrorResponse represents a standardized API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// AppError represents a custom application error
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Predefined error constructors
func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s with ID %v not found", resource, id),
	}
}

func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: message,
	}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Code:    CodeUnauthorized,
		Message: message,
	}
}

func NewForbiddenError(message string) *AppError {
	return &AppError{
		Code:    CodeForbidden,
		Message: message,
	}
}

func NewConflictError(message string, err error) *AppError {
	return &AppError{
		Code:    CodeConflict,
		Message: message,
		Err:     err,
	}
}

// NewConfirmationRequiredError is returned for destructive actions issued
// without an explicit confirmation. prompt is the question shown to the user.
func NewConfirmationRequiredError(prompt string) *AppError {
	return &AppError{
		Code:    CodeConfirmationRequired,
		Message: prompt,
	}
}

// NewStoreError carries the message reported by the backing store.
func NewStoreError(err error) *AppError {
	return &AppError{
		Code:    CodeStore,
		Message: err.Error(),
	}
}

// NewUnavailableError hides transport details behind a generic message.
func NewUnavailableError(err error) *AppError {
	return &AppError{
		Code:    CodeUnavailable,
		Message: "Service unavailable, please try again",
		Err:     err,
	}
}

func NewTimeoutError(err error) *AppError {
	return &AppError{
		Code:    CodeTimeout,
		Message: "Request to the data store timed out",
		Err:     err,
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: "Internal server error",
		Err:     err,
	}
}

// StatusFor maps an error code to the HTTP status used for it.
func StatusFor(code string) int {
	switch code {
	case CodeValidation, CodeStore:
		return fiber.StatusBadRequest
	case CodeUnauthorized:
		return fiber.StatusUnauthorized
	case CodeForbidden:
		return fiber.StatusForbidden
	case CodeNotFound:
		return fiber.StatusNotFound
	case CodeConflict:
		return fiber.StatusConflict
	case CodeConfirmationRequired:
		return fiber.StatusPreconditionRequired
	case CodeUnavailable:
		return fiber.StatusServiceUnavailable
	case CodeTimeout:
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

// RespondWithError creates a standardized error response
func RespondWithError(c *fiber.Ctx, status int, err error) error {
	var response ErrorResponse

	if appErr, ok := err.(*AppError); ok {
		response = ErrorResponse{
			Error: appErr.Message,
			Code:  appErr.Code,
		}
		// Transport and internal details stay in the logs.
		if appErr.Err != nil && appErr.Code != CodeUnavailable && appErr.Code != CodeInternal {
			response.Details = appErr.Err.Error()
		}
	} else {
		response = ErrorResponse{
			Error: err.Error(),
		}
	}

	return c.Status(status).JSON(response)
}

// RespondWithAppError writes err using the status mapped from its code.
func RespondWithAppError(c *fiber.Ctx, err *AppError) error {
	return RespondWithError(c, StatusFor(err.Code), err)
}
