package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/Ashwin-0055/flowsync/database"
	"github.com/Ashwin-0055/flowsync/services"
)

type contextKey string

const (
	identityContextKey contextKey = "identity"
	boardContextKey    contextKey = "board"
)

type AuthMiddleware struct {
	authService *services.AuthService
}

func NewAuthMiddleware(authService *services.AuthService) *AuthMiddleware {
	return &AuthMiddleware{
		authService: authService,
	}
}

// Auth requires a session token, either as a Bearer header or, for
// WebSocket upgrades where browsers cannot set headers, a token query
// parameter
func (m *AuthMiddleware) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, ok := bearerToken(r)
		if !ok {
			tokenString = r.URL.Query().Get("token")
		}
		if tokenString == "" {
			http.Error(w, "missing authorization header", http.StatusUnauthorized)
			return
		}

		identity, err := m.authService.VerifyJWT(tokenString)
		if err != nil {
			http.Error(w, "invalid token: "+err.Error(), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), identityContextKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// BoardMember loads the board named in the route and rejects users who
// are not on it
func BoardMember(boards *services.BoardService) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := identityFrom(r)
			if !ok {
				http.Error(w, "user not found", http.StatusUnauthorized)
				return
			}

			board, err := boards.Authorize(r.Context(), mux.Vars(r)["boardId"], identity.ID)
			if err != nil {
				writeError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), boardContextKey, board)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	authParts := strings.Split(authHeader, " ")
	if len(authParts) != 2 || authParts[0] != "Bearer" {
		return "", false
	}
	return authParts[1], true
}

func identityFrom(r *http.Request) (services.Identity, bool) {
	identity, ok := r.Context().Value(identityContextKey).(services.Identity)
	return identity, ok
}

func boardFrom(r *http.Request) *database.Board {
	board, _ := r.Context().Value(boardContextKey).(*database.Board)
	return board
}
