package web

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"

	"github.com/hpungsan/folio/internal/errors"
)

// maxBodyBytes caps request bodies; file content is the largest payload.
const maxBodyBytes = 10 << 20

// renderJSON writes data as a JSON response.
func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// renderError maps err to its status and a JSON error object. Errors that
// are not FolioErrors are reported as internal without their text.
func renderError(w http.ResponseWriter, err error) {
	var fErr *errors.FolioError
	if !stderrors.As(err, &fErr) {
		fErr = errors.NewInternal(nil)
		fErr.Message = "an internal error occurred"
	}

	errorObj := map[string]any{
		"code":    string(fErr.Code),
		"message": fErr.Message,
		"status":  fErr.Status,
	}
	if fErr.Code != errors.ErrInternal && fErr.Details != nil {
		errorObj["details"] = fErr.Details
	}
	renderJSON(w, fErr.Status, map[string]any{"error": errorObj})
}

// decodeBody reads a JSON request body into T. An empty body decodes to
// the zero value.
func decodeBody[T any](r *http.Request) (T, error) {
	var v T
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return v, errors.NewInvalidRequest("failed to read body")
	}
	if len(data) > maxBodyBytes {
		return v, errors.NewInvalidRequest("request body too large")
	}
	if len(data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, errors.NewInvalidRequest("invalid JSON body: " + err.Error())
	}
	return v, nil
}
