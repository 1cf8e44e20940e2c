package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Ashwin-0055/flowsync/database"
	"github.com/Ashwin-0055/flowsync/services"
)

// SessionHandler runs live board sessions over WebSocket. Each connection
// mirrors its board through a BoardCache and pushes every new snapshot;
// moves sent over the socket are shown speculatively until the store
// confirms them.
type SessionHandler struct {
	store      *database.Store
	dispatcher *services.Dispatcher
	hub        *services.Hub
	upgrader   websocket.Upgrader
}

func NewSessionHandler(store *database.Store, dispatcher *services.Dispatcher, hub *services.Hub, allowedOrigins []string) *SessionHandler {
	return &SessionHandler{
		store:      store,
		dispatcher: dispatcher,
		hub:        hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(allowedOrigins, r.Header.Get("Origin"))
			},
		},
	}
}

// HandleWebSocket upgrades the HTTP connection to a WebSocket connection
func (h *SessionHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r)
	if !ok {
		http.Error(w, "user not found", http.StatusUnauthorized)
		return
	}
	board := boardFrom(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Error upgrading to WebSocket: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	session := &session{
		handler:  h,
		identity: identity,
		cache:    services.NewBoardCache(h.store),
		client:   services.NewClient(h.hub, conn, identity.ID, board.ID),
	}
	session.client.OnMessage = func(in services.IncomingMessage) { session.handle(ctx, in) }
	session.client.OnClose = cancel

	h.hub.Register(session.client)
	log.Printf("WebSocket client registered: %s on board %s", identity.ID, board.ID)

	go func() {
		err := session.cache.Watch(ctx, board.ID, session.push)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Board watch for %s ended: %v", identity.ID, err)
		}
	}()
	go session.client.WritePump()
	go session.client.ReadPump()
}

type session struct {
	handler  *SessionHandler
	identity services.Identity
	cache    *services.BoardCache
	client   *services.Client
}

func (s *session) push(snap services.BoardSnapshot) {
	s.handler.hub.SendTo(s.client, services.WebSocketMessage{
		Type: services.MessageSnapshot,
		Data: services.WithLiveLabels(snap),
	})
}

func (s *session) handle(ctx context.Context, in services.IncomingMessage) {
	switch in.Type {
	case "move":
		var intent services.MoveIntent
		if err := json.Unmarshal(in.Data, &intent); err != nil {
			log.Printf("Error decoding move from %s: %v", s.identity.ID, err)
			return
		}
		s.move(ctx, intent)
	default:
		log.Printf("Ignoring WebSocket message of type '%s' from %s", in.Type, s.identity.ID)
	}
}

// move shows the planned result to this client at once, then commits. A
// rejected commit drops the speculation and restores the confirmed view.
func (s *session) move(ctx context.Context, intent services.MoveIntent) {
	snap := s.cache.Snapshot()
	if snap.Board == nil {
		return
	}

	plan, err := s.handler.dispatcher.Plan(snap, intent)
	if err != nil {
		s.handler.hub.SendTo(s.client, services.WebSocketMessage{
			Type: services.MessageNotice,
			Data: map[string]string{"level": services.NoticeError, "message": "Failed to move card"},
		})
		log.Printf("Rejected move from %s: %v", s.identity.ID, err)
		return
	}
	if len(plan.Patches) == 0 {
		return
	}

	seq, speculative := s.cache.ApplySpeculative(plan)
	s.push(speculative)

	if err := s.handler.dispatcher.Apply(ctx, s.identity.ID, snap, plan); err != nil {
		if restored, dropped := s.cache.Discard(seq); dropped {
			s.push(restored)
		}
	}
}

func originAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return true
	}
	for _, o := range allowed {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
