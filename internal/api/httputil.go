package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/abhisek/pathwise/internal/apperr"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// statusFor maps an error kind to its HTTP status and wire code.
func statusFor(kind apperr.Kind) (int, string) {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound, "not_found"
	case apperr.KindValidation:
		return http.StatusBadRequest, "bad_request"
	case apperr.KindIntegrity:
		return http.StatusConflict, "integrity_error"
	case apperr.KindConflict:
		return http.StatusConflict, "conflict"
	case apperr.KindUpstream:
		return http.StatusBadGateway, "upstream_error"
	}
	return http.StatusInternalServerError, "internal_error"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes err as a JSON error body. Upstream and unknown errors
// omit the description.
func writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status, code := statusFor(kind)
	resp := errorResponse{Error: code}
	if status < http.StatusInternalServerError {
		resp.ErrorDescription = describe(err)
	}
	writeJSON(w, status, resp)
}

func describe(err error) string {
	var e *apperr.Error
	if errors.As(err, &e) && e.Err != nil {
		return e.Err.Error()
	}
	return err.Error()
}

// readBody reads a bounded request body.
func readBody(r *http.Request) ([]byte, error) {
	const op = "api.readBody"
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, apperr.E(apperr.KindValidation, op, err)
	}
	if len(data) > maxBodyBytes {
		return nil, apperr.Errorf(apperr.KindValidation, op, "request body exceeds %d bytes", maxBodyBytes)
	}
	return data, nil
}

func decodeJSON(r *http.Request, v any) error {
	const op = "api.decodeJSON"
	data, err := readBody(r)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.E(apperr.KindValidation, op, err)
	}
	return nil
}
