package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Ashwin-0055/flowsync/services"
)

// NotificationHandler serves the caller's notification inbox
type NotificationHandler struct {
	notifications *services.NotificationService
	boards        *services.BoardService
}

func NewNotificationHandler(notifications *services.NotificationService, boards *services.BoardService) *NotificationHandler {
	return &NotificationHandler{
		notifications: notifications,
		boards:        boards,
	}
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r)
	notifications, err := h.notifications.List(r.Context(), identity.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	unread := 0
	for _, n := range notifications {
		if !n.Read {
			unread++
		}
	}
	writeSuccess(w, map[string]any{
		"notifications": notifications,
		"unread":        unread,
	})
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r)
	if err := h.notifications.MarkRead(r.Context(), identity.ID, mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, nil)
}

func (h *NotificationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r)
	if err := h.notifications.Delete(r.Context(), identity.ID, mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, nil)
}

func (h *NotificationHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, true)
}

func (h *NotificationHandler) Decline(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, false)
}

func (h *NotificationHandler) respond(w http.ResponseWriter, r *http.Request, accept bool) {
	identity, _ := identityFrom(r)
	if err := h.boards.RespondToInvite(r.Context(), identity, mux.Vars(r)["id"], accept); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, map[string]bool{"accepted": accept})
}
