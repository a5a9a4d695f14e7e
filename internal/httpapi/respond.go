// Package httpapi exposes the advisor over HTTP: the SSE chat stream, graph
// algorithm endpoints, profile and grades resources, calendar export, cache
// administration, health, and metrics.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"goa.design/clue/log"
)

type (
	// errorBody is the JSON error envelope.
	errorBody struct {
		Error   string            `json:"error"`
		Detail  string            `json:"detail,omitempty"`
		Fields  map[string]string `json:"fields,omitempty"`
		Request string            `json:"request_id,omitempty"`
	}
)

// validate is the shared request validator.
var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeJSON decodes and validates a request body. On failure it writes the
// error response and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			writeValidation(w, r, fields)
			return false
		}
		writeError(w, r, http.StatusUnprocessableEntity, "validation_failed", err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, detail string) {
	if status >= 500 {
		log.Errorf(r.Context(), errors.New(detail), "httpapi: %s", code)
	}
	writeJSON(w, status, errorBody{Error: code, Detail: detail})
}

func writeValidation(w http.ResponseWriter, _ *http.Request, fields map[string]string) {
	writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: "validation_failed", Fields: fields})
}
