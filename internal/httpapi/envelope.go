// SPDX-License-Identifier: MPL-2.0

package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/faultlab/faultlab/internal/failure"
)

// errorBody is the failure envelope.
type errorBody struct {
	Success bool         `json:"success"`
	Error   string       `json:"error"`
	Kind    failure.Kind `json:"kind"`
}

// StatusFor maps a failure kind to the HTTP status reported for it.
func StatusFor(kind failure.Kind) int {
	switch kind {
	case failure.KindInvalidInput, failure.KindValidation:
		return http.StatusBadRequest
	case failure.KindNotFound:
		return http.StatusNotFound
	case failure.KindTimeout:
		return http.StatusGatewayTimeout
	case failure.KindProvisioning, failure.KindVerificationTransport, failure.KindGeneration, failure.KindExecution:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeSuccess writes {"success": true} merged with the JSON object
// encoding of result.
func writeSuccess(w http.ResponseWriter, result any) {
	body := map[string]any{}
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			writeError(w, failure.Wrap(err, failure.KindInternal, "encode response"))
			return
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			writeError(w, failure.Wrap(err, failure.KindInternal, "encode response"))
			return
		}
	}
	body["success"] = true
	writeJSON(w, http.StatusOK, body)
}

// writeError converts err into the failure envelope.
func writeError(w http.ResponseWriter, err error) {
	kind := failure.KindOf(err)
	if kind == "" {
		kind = failure.KindInternal
	}
	writeJSON(w, StatusFor(kind), errorBody{Error: err.Error(), Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response failed", "error", err)
	}
}
