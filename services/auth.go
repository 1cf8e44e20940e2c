package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Ashwin-0055/flowsync/database"
)

const (
	magicLinkTTL = 15 * time.Minute
	sessionTTL   = 7 * 24 * time.Hour
)

var ErrInvalidToken = errors.New("invalid or expired token")

// Identity is the signed-in user as carried by a session token
type Identity struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoURL,omitempty"`
}

// Name is what other members see: the display name, or the local part of
// the email address when none is set
func (i Identity) Name() string {
	if i.DisplayName != "" {
		return i.DisplayName
	}
	if at := strings.Index(i.Email, "@"); at > 0 {
		return i.Email[:at]
	}
	return "Someone"
}

type magicToken struct {
	email   string
	expires time.Time
}

type sessionClaims struct {
	Email       string `json:"email"`
	DisplayName string `json:"name,omitempty"`
	PhotoURL    string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// AuthService signs users in with one-time email links and issues session
// tokens
type AuthService struct {
	store     *database.Store
	mailer    Mailer
	jwtSecret []byte
	now       func() time.Time

	mu     sync.Mutex
	tokens map[string]magicToken
}

// NewAuthService signs sessions with jwtSecret. When it is empty a random
// secret is generated, so sessions do not survive a restart.
func NewAuthService(store *database.Store, mailer Mailer, jwtSecret string) *AuthService {
	if jwtSecret == "" {
		secret, err := generateSecureToken(32)
		if err != nil {
			panic(fmt.Sprintf("failed to generate JWT secret: %v", err))
		}
		log.Printf("Warning: JWT_SECRET not set, using a random secret; sessions end when the server restarts")
		jwtSecret = secret
	}
	return &AuthService{
		store:     store,
		mailer:    mailer,
		jwtSecret: []byte(jwtSecret),
		now:       time.Now,
		tokens:    make(map[string]magicToken),
	}
}

// GenerateMagicLink creates a one-time token for email and mails the link.
// The link is returned as well; callers must not hand it to the requester
// outside development setups.
func (s *AuthService) GenerateMagicLink(ctx context.Context, email, baseURL string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	token, err := generateSecureToken(32)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	s.mu.Lock()
	s.pruneLocked()
	s.tokens[token] = magicToken{email: email, expires: s.now().Add(magicLinkTTL)}
	s.mu.Unlock()

	magicLink := fmt.Sprintf("%s/api/auth/magic-link?token=%s", strings.TrimRight(baseURL, "/"), token)

	if s.mailer != nil {
		if err := s.mailer.SendMagicLink(ctx, email, magicLink); err != nil {
			log.Printf("Warning: Failed to send email: %v", err)
		}
	}
	return magicLink, nil
}

// VerifyMagicLinkToken consumes a one-time token and returns its email
func (s *AuthService) VerifyMagicLinkToken(token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[token]
	if !ok {
		return "", ErrInvalidToken
	}
	delete(s.tokens, token)
	if s.now().After(t.expires) {
		return "", ErrInvalidToken
	}
	return t.email, nil
}

// EnsureUser returns the profile registered under email, creating one on
// first sign-in
func (s *AuthService) EnsureUser(ctx context.Context, email string) (database.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	docs, err := s.store.Query(ctx, database.UsersCollection, database.Where{
		Field: "email",
		Op:    database.OpEqual,
		Value: email,
	})
	if err != nil {
		return database.User{}, err
	}
	if len(docs) > 0 {
		var u database.User
		if err := docs[0].Decode(&u); err != nil {
			return database.User{}, err
		}
		return u, nil
	}

	ref := database.NewRef(database.UsersCollection)
	user := database.User{
		ID:          ref.ID,
		Email:       email,
		DisplayName: Identity{Email: email}.Name(),
		CreatedAt:   s.now(),
	}
	if err := s.store.Set(ctx, ref, user); err != nil {
		return database.User{}, fmt.Errorf("failed to create user: %w", err)
	}
	log.Printf("Created user %s for %s", user.ID, email)
	return user, nil
}

// UpdateProfile changes the name and photo shown to other members
func (s *AuthService) UpdateProfile(ctx context.Context, userID, displayName, photoURL string) (database.User, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return database.User{}, invalid("displayName", "display name is required")
	}
	err := s.store.Update(ctx, database.UserRef(userID), map[string]any{
		"displayName": displayName,
		"photoURL":    photoURL,
	})
	if errors.Is(err, database.ErrNotFound) {
		return database.User{}, fmt.Errorf("%s: %w", userID, ErrUserNotFound)
	}
	if err != nil {
		return database.User{}, err
	}

	doc, err := s.store.Get(ctx, database.UserRef(userID))
	if err != nil {
		return database.User{}, err
	}
	var u database.User
	if err := doc.Decode(&u); err != nil {
		return database.User{}, err
	}
	return u, nil
}

// CreateJWT issues a session token for user
func (s *AuthService) CreateJWT(user database.User) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		Email:       user.Email,
		DisplayName: user.DisplayName,
		PhotoURL:    user.PhotoURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL)),
		},
	})

	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// VerifyJWT checks a session token and returns the identity it carries
func (s *AuthService) VerifyJWT(tokenString string) (Identity, error) {
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return Identity{}, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return Identity{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return Identity{}, errors.New("subject claim missing")
	}

	return Identity{
		ID:          claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.DisplayName,
		PhotoURL:    claims.PhotoURL,
	}, nil
}

func (s *AuthService) pruneLocked() {
	now := s.now()
	for token, t := range s.tokens {
		if now.After(t.expires) {
			delete(s.tokens, token)
		}
	}
}

func generateSecureToken(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
