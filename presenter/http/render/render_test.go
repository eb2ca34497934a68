package render_test

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/omni/htlc-bridge/entity"
	"github.com/omni/htlc-bridge/presenter/http/render"
)

func TestStatusCode(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		Err    error
		Status int
	}{
		{fmt.Errorf("body: %w", render.ErrBadRequest), http.StatusBadRequest},
		{fmt.Errorf("amount: %w", entity.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("transfer: %w", entity.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("auction: %w", entity.ErrInvalidState), http.StatusConflict},
		{fmt.Errorf("caller: %w", entity.ErrUnauthorized), http.StatusForbidden},
		{fmt.Errorf("secret: %w", entity.ErrHashMismatch), http.StatusUnprocessableEntity},
		{fmt.Errorf("refund: %w", entity.ErrTimelock), render.StatusTooEarly},
		{fmt.Errorf("source leg: %w", entity.ErrPartialExecution), http.StatusAccepted},
		{errors.New("connection reset"), http.StatusInternalServerError},
	} {
		require.Equal(t, test.Status, render.StatusCode(test.Err), test.Err.Error())
	}
}

func TestError_HidesInternalErrors(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	render.Error(rec, req, errors.New("dial tcp 10.0.0.1:5432: connection refused"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.JSONEq(t, `{"error":"Internal Server Error"}`, rec.Body.String())
}
