package render

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/omni/htlc-bridge/entity"
	"github.com/omni/htlc-bridge/logging"
)

// StatusTooEarly is returned for refunds requested before the timelock expires.
const StatusTooEarly = 425

var categoryStatus = map[error]int{
	entity.ErrValidation:       http.StatusBadRequest,
	entity.ErrNotFound:         http.StatusNotFound,
	entity.ErrInvalidState:     http.StatusConflict,
	entity.ErrUnauthorized:     http.StatusForbidden,
	entity.ErrHashMismatch:     http.StatusUnprocessableEntity,
	entity.ErrTimelock:         StatusTooEarly,
	entity.ErrPartialExecution: http.StatusAccepted,
}

var ErrBadRequest = errors.New("malformed request")

type ErrorResponse struct {
	Error    string `json:"error"`
	Category string `json:"category,omitempty"`
}

func JSON(w http.ResponseWriter, r *http.Request, status int, res interface{}) {
	enc := json.NewEncoder(w)

	if pretty, _ := strconv.ParseBool(r.URL.Query().Get("pretty")); pretty {
		enc.SetIndent("", "  ")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := enc.Encode(res); err != nil {
		logging.LoggerFromContext(r.Context()).WithError(err).Error("failed to marshal JSON result")
	}
}

// StatusCode maps an error to the http status of its category, unknown errors are internal.
func StatusCode(err error) int {
	if errors.Is(err, ErrBadRequest) {
		return http.StatusBadRequest
	}
	if status, ok := categoryStatus[entity.Classify(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func Error(w http.ResponseWriter, r *http.Request, err error) {
	logger := logging.LoggerFromContext(r.Context())
	status := StatusCode(err)
	res := &ErrorResponse{Error: err.Error()}
	if category := entity.Classify(err); category != nil {
		res.Category = category.Error()
	}
	if status == http.StatusInternalServerError {
		logger.WithError(err).Error("request handling failed")
		res.Error = http.StatusText(status)
	} else {
		logger.WithError(err).WithField("status", status).Warn("request rejected")
	}
	JSON(w, r, status, res)
}
