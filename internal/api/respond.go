package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"fjacquet/txrules/internal/common"
	"fjacquet/txrules/internal/ruleerror"
	"fjacquet/txrules/internal/store"
)

type errorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.WithError(err).Debug("Failed to write response body")
	}
}

func (h *handlers) writeMessage(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, errorResponse{Error: msg})
}

// writeError maps err onto a status code: unknown ids are 404, invalid
// definitions 400, foreign references 422 and ids owned by another
// workspace 409. Anything else is logged and reported as 500.
func (h *handlers) writeError(w http.ResponseWriter, err error) {
	var verrs ruleerror.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		details := make([]string, 0, len(verrs))
		for _, v := range verrs {
			details = append(details, v.Error())
		}
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid rule", Details: details})
	case ruleerror.IsValidation(err), errors.Is(err, common.ErrInvalidCSV):
		h.writeMessage(w, http.StatusBadRequest, err.Error())
	case ruleerror.IsReferenceIntegrity(err):
		h.writeMessage(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, store.ErrConflict):
		h.writeMessage(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrNotFound):
		h.writeMessage(w, http.StatusNotFound, "not found")
	default:
		h.logger.WithError(err).Error("Request failed")
		h.writeMessage(w, http.StatusInternalServerError, "internal error")
	}
}

// decode reads a required JSON body into v.
func (h *handlers) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeMessage(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// decodeOptional reads a JSON body into v when one is present.
func (h *handlers) decodeOptional(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	h.writeMessage(w, http.StatusBadRequest, "invalid request body")
	return false
}
