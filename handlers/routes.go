package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Ashwin-0055/flowsync/database"
	"github.com/Ashwin-0055/flowsync/services"
)

// Deps are the services the HTTP surface is built on
type Deps struct {
	Store          *database.Store
	Auth           *services.AuthService
	Boards         *services.BoardService
	Notifications  *services.NotificationService
	Dispatcher     *services.Dispatcher
	Assistant      *services.Assistant
	Hub            *services.Hub
	AllowedOrigins []string
	// DevMagicLinks returns sign-in links in the login response instead of
	// relying on mail delivery alone
	DevMagicLinks bool
}

// NewRouter wires every route
func NewRouter(d Deps) *mux.Router {
	authHandler := NewAuthHandler(d.Auth, d.DevMagicLinks)
	boardHandler := NewBoardHandler(d.Boards, d.Dispatcher, d.Assistant)
	notificationHandler := NewNotificationHandler(d.Notifications, d.Boards)
	sessionHandler := NewSessionHandler(d.Store, d.Dispatcher, d.Hub, d.AllowedOrigins)
	authMiddleware := NewAuthMiddleware(d.Auth)

	r := mux.NewRouter()

	// Auth routes
	r.HandleFunc("/api/auth/login", authHandler.Login).Methods("POST")
	r.HandleFunc("/api/auth/verify", authHandler.VerifyToken).Methods("GET")
	r.HandleFunc("/api/auth/magic-link", authHandler.HandleMagicLink).Methods("GET")

	// Protected routes
	api := r.PathPrefix("/api").Subrouter()
	api.Use(authMiddleware.Auth)
	api.HandleFunc("/me", authHandler.UpdateProfile).Methods("PUT")
	api.HandleFunc("/board", boardHandler.MyBoard).Methods("GET")

	api.HandleFunc("/notifications", notificationHandler.List).Methods("GET")
	api.HandleFunc("/notifications/{id}/read", notificationHandler.MarkRead).Methods("POST")
	api.HandleFunc("/notifications/{id}/accept", notificationHandler.Accept).Methods("POST")
	api.HandleFunc("/notifications/{id}/decline", notificationHandler.Decline).Methods("POST")
	api.HandleFunc("/notifications/{id}", notificationHandler.Delete).Methods("DELETE")

	// Board routes, members only
	b := api.PathPrefix("/boards/{boardId}").Subrouter()
	b.Use(BoardMember(d.Boards))
	b.HandleFunc("", boardHandler.GetBoard).Methods("GET")
	b.HandleFunc("", boardHandler.RenameBoard).Methods("PUT")

	b.HandleFunc("/lists", boardHandler.AddList).Methods("POST")
	b.HandleFunc("/lists/{listId}", boardHandler.UpdateList).Methods("PUT")
	b.HandleFunc("/lists/{listId}", boardHandler.DeleteList).Methods("DELETE")
	b.HandleFunc("/lists/{listId}/move", boardHandler.MoveList).Methods("POST")

	b.HandleFunc("/cards", boardHandler.ListCards).Methods("GET")
	b.HandleFunc("/cards", boardHandler.CreateCard).Methods("POST")
	b.HandleFunc("/cards/move", boardHandler.MoveCard).Methods("POST")
	b.HandleFunc("/cards/{cardId}", boardHandler.UpdateCard).Methods("PUT")
	b.HandleFunc("/cards/{cardId}", boardHandler.DeleteCard).Methods("DELETE")
	b.HandleFunc("/cards/{cardId}/due", boardHandler.RescheduleCard).Methods("PUT")
	b.HandleFunc("/cards/{cardId}/comments", boardHandler.ListComments).Methods("GET")
	b.HandleFunc("/cards/{cardId}/comments", boardHandler.AddComment).Methods("POST")

	b.HandleFunc("/labels", boardHandler.ListLabels).Methods("GET")
	b.HandleFunc("/labels", boardHandler.CreateLabel).Methods("POST")
	b.HandleFunc("/labels/{labelId}", boardHandler.UpdateLabel).Methods("PUT")
	b.HandleFunc("/labels/{labelId}", boardHandler.DeleteLabel).Methods("DELETE")

	b.HandleFunc("/members", boardHandler.ListMembers).Methods("GET")
	b.HandleFunc("/members", boardHandler.InviteMember).Methods("POST")
	b.HandleFunc("/members/{userId}", boardHandler.RemoveMember).Methods("DELETE")

	b.HandleFunc("/calendar", boardHandler.Calendar).Methods("GET")
	b.HandleFunc("/assistant/analyze", boardHandler.AnalyzeBoard).Methods("POST")
	b.HandleFunc("/assistant/refine", boardHandler.RefineTask).Methods("POST")
	b.HandleFunc("/assistant/estimate", boardHandler.EstimateComplexity).Methods("POST")

	// WebSocket route for live board sessions
	b.HandleFunc("/ws", sessionHandler.HandleWebSocket)

	// Static file server for frontend
	r.PathPrefix("/").Handler(http.FileServer(http.Dir("./public")))

	return r
}
