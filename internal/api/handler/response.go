package handler

import (
	"errors"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"github.com/hszk-dev/mediacache/internal/domain/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			http.Error(w, "failed to encode response", http.StatusInternalServerError)
		}
	}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func Error(w http.ResponseWriter, status int, err string, message string) {
	JSON(w, status, ErrorResponse{
		Error:   err,
		Message: message,
	})
}

// MediaError writes the response for a failure from the media layer.
func MediaError(w http.ResponseWriter, err error) {
	code, ok := model.CodeOf(err)
	if !ok {
		Error(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
		return
	}

	status := http.StatusInternalServerError
	switch code {
	case model.CodeConnectionUnavailable:
		status = http.StatusServiceUnavailable
	case model.CodeTimeout:
		status = http.StatusGatewayTimeout
	case model.CodeMissing:
		status = http.StatusNotFound
	case model.CodeUnsupported:
		status = http.StatusUnsupportedMediaType
	case model.CodeCorrupt, model.CodeUnreadable:
		status = http.StatusUnprocessableEntity
	}
	Error(w, status, string(code), model.ErrorText(err))
}

// decodeJSON decodes the request body into v.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	return json.NewDecoder(r.Body).Decode(v)
}
