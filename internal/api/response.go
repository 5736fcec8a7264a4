package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/opensource-finance/chargeflow/internal/domain"
)

const maxBodyBytes = 8 << 20

// Envelope wraps every API response.
type Envelope struct {
	Success bool        `json:"success"`
	Data    any         `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Kind    domain.Kind `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Envelope{Success: true, Data: data})
}

// writeError maps err to its status code. Internal errors are logged and
// replaced by a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeErrorData(w, r, err, nil)
}

// writeErrorData is writeError with a payload, used for partial results.
func writeErrorData(w http.ResponseWriter, r *http.Request, err error, data any) {
	kind := domain.KindOf(err)
	message := domain.MessageOf(err)

	if kind == domain.KindInternal {
		slog.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", GetRequestID(r.Context()),
			"error", err,
		)
		message = "internal server error"
	}

	writeJSON(w, kind.HTTPStatus(), Envelope{
		Success: false,
		Data:    data,
		Error:   message,
		Kind:    kind,
	})
}

// partial returns p as a response payload, or an untyped nil so that a
// missing result is omitted rather than encoded as null.
func partial[T any](p *T) any {
	if p == nil {
		return nil
	}
	return p
}

// decodeJSON reads a JSON body into v. An empty body is accepted when
// optional is set.
func decodeJSON(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return domain.Errorf(domain.KindValidation, "invalid JSON request body: %v", err)
	}
	return nil
}
