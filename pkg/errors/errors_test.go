package errors_test

import (
	"fmt"
	"net/http"
	"testing"

	apperrors "github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid input", apperrors.ErrInvalidInput, http.StatusBadRequest},
		{"wrapped invalid input", fmt.Errorf("parsing q: %w", apperrors.ErrInvalidInput), http.StatusBadRequest},
		{"not ready", apperrors.ErrNotReady, http.StatusServiceUnavailable},
		{"dataset load", fmt.Errorf("init: %w", apperrors.ErrDatasetLoad), http.StatusServiceUnavailable},
		{"timeout", apperrors.ErrTimeout, http.StatusServiceUnavailable},
		{"already initialized", apperrors.ErrAlreadyInitialized, http.StatusConflict},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError},
		{"app error status wins", apperrors.New(apperrors.ErrNotReady, http.StatusTeapot, "brewing"), http.StatusTeapot},
		{"app error without status", apperrors.New(apperrors.ErrInvalidInput, 0, "bad"), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, apperrors.HTTPStatusCode(tt.err))
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	t.Parallel()

	err := apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "query %q is empty", "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Equal(t, `invalid input: query "" is empty`, err.Error())
}
