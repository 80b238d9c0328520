package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/inferloop/aidrin/pkg/constants"
	"github.com/inferloop/aidrin/pkg/errors"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set(constants.HeaderContentType, constants.MimeTypeJSON)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError renders err as an errors.ErrorResponse with the status its
// category maps to.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := errors.AsAppError(err)

	status := appErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if appErr.Code == errors.CodeQueueClosed {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, &errors.ErrorResponse{
		Error:     appErr,
		RequestID: w.Header().Get(constants.HeaderRequestID),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Path:      r.URL.Path,
	})
}
