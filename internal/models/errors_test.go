package models

import (
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{CodeValidation, fiber.StatusBadRequest},
		{CodeStore, fiber.StatusBadRequest},
		{CodeUnauthorized, fiber.StatusUnauthorized},
		{CodeForbidden, fiber.StatusForbidden},
		{CodeNotFound, fiber.StatusNotFound},
		{CodeConflict, fiber.StatusConflict},
		{CodeConfirmationRequired, fiber.StatusPreconditionRequired},
		{CodeUnavailable, fiber.StatusServiceUnavailable},
		{CodeTimeout, fiber.StatusGatewayTimeout},
		{CodeInternal, fiber.StatusInternalServerError},
		{"SOMETHING_ELSE", fiber.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.code))
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("duplicate key")
	err := NewConflictError("Already liked", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "Already liked: duplicate key", err.Error())
	assert.Equal(t, "Post with ID p1 not found", NewNotFoundError("Post", "p1").Error())
}

func TestRespondWithAppError_HidesTransportDetails(t *testing.T) {
	tests := []struct {
		name        string
		err         *AppError
		wantStatus  int
		wantDetails string
	}{
		{"conflict keeps cause", NewConflictError("Already liked", errors.New("23505")), fiber.StatusConflict, "23505"},
		{"unavailable hides cause", NewUnavailableError(errors.New("dial tcp 10.0.0.1:5432")), fiber.StatusServiceUnavailable, ""},
		{"internal hides cause", NewInternalError(errors.New("nil map")), fiber.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", func(c *fiber.Ctx) error { return RespondWithAppError(c, tt.err) })

			resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			raw, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(raw, &body))
			assert.Equal(t, tt.err.Code, body.Code)
			assert.Equal(t, tt.err.Message, body.Error)
			assert.Equal(t, tt.wantDetails, body.Details)
		})
	}
}
