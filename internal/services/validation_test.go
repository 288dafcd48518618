package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationHelper_ValidateStruct(t *testing.T) {
	vh := NewValidationHelper()

	t.Run("valid top-up request passes", func(t *testing.T) {
		req := TopUpRequest{PaymentMethod: "gcash"}
		assert.NoError(t, vh.ValidateStruct(&req))
	})

	t.Run("missing required field reports the field", func(t *testing.T) {
		req := TopUpRequest{}
		err := vh.ValidateStruct(&req)
		require.Error(t, err)

		var validationErrs validator.ValidationErrors
		require.ErrorAs(t, err, &validationErrs)
		require.Len(t, validationErrs, 1)
		assert.Equal(t, "PaymentMethod", validationErrs[0].Field())
		assert.Equal(t, "required", validationErrs[0].Tag())
	})
}

func TestSendErrorResponse(t *testing.T) {
	t.Run("plain error message", func(t *testing.T) {
		w := httptest.NewRecorder()
		SendErrorResponse(w, "An internal error occurred", http.StatusInternalServerError, nil)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "An internal error occurred", response.Error)
		assert.Empty(t, response.Details)
	})

	t.Run("validation errors expand into details", func(t *testing.T) {
		vh := NewValidationHelper()
		err := vh.ValidateStruct(&TopUpRequest{})
		require.Error(t, err)

		w := httptest.NewRecorder()
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var response ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "Validation failed", response.Error)
		assert.Contains(t, response.Details, "PaymentMethod")
	})

	t.Run("omitted fields stay out of the payload", func(t *testing.T) {
		w := httptest.NewRecorder()
		SendErrorResponse(w, "Not found", http.StatusNotFound, nil)

		var raw map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
		assert.NotContains(t, raw, "code")
		assert.NotContains(t, raw, "required")
		assert.NotContains(t, raw, "available")
	})
}
