package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/Ashwin-0055/flowsync/database"
	"github.com/Ashwin-0055/flowsync/services"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeSuccess(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data":   data,
	})
}

// writeError maps service errors onto status codes. Unexpected errors are
// logged and hidden behind a generic message.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case services.IsValidation(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, services.ErrBoardNotFound),
		errors.Is(err, services.ErrCardNotFound),
		errors.Is(err, services.ErrListNotFound),
		errors.Is(err, services.ErrLabelNotFound),
		errors.Is(err, services.ErrUserNotFound),
		errors.Is(err, database.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, services.ErrAlreadyMember),
		errors.Is(err, services.ErrInviteResolved):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		log.Printf("Error handling request: %v", err)
		http.Error(w, "Server error", http.StatusInternalServerError)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid request format", http.StatusBadRequest)
		return false
	}
	return true
}
