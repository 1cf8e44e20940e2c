package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"time"

	"github.com/Ashwin-0055/flowsync/database"
)

// NotificationService writes and reads per-user notifications
type NotificationService struct {
	store *database.Store
	now   func() time.Time
}

func NewNotificationService(store *database.Store) *NotificationService {
	return &NotificationService{store: store, now: time.Now}
}

// SendInvite asks recipientID to join board
func (s *NotificationService) SendInvite(ctx context.Context, recipientID string, board *database.Board, inviter Identity) error {
	inviterName := inviter.Name()
	_, err := s.store.Add(ctx, database.NotificationsCollection(recipientID), database.Notification{
		Type:    database.NotificationBoardInvite,
		Title:   "Board Invitation",
		Message: fmt.Sprintf("%s invited you to join %q", inviterName, board.Title),
		Data: map[string]string{
			"boardId":     board.ID,
			"boardTitle":  board.Title,
			"inviterId":   inviter.ID,
			"inviterName": inviterName,
		},
		Status:    database.InvitePending,
		CreatedAt: s.now(),
	})
	if err != nil {
		return fmt.Errorf("failed to send invite notification: %w", err)
	}
	return nil
}

// SendAssignment tells recipientID they were assigned card. Failures are
// logged and swallowed; an assignment must not fail because of its
// notification.
func (s *NotificationService) SendAssignment(ctx context.Context, recipientID string, card database.Card, board *database.Board, assigner Identity) {
	assignerName := assigner.DisplayName
	if assignerName == "" {
		assignerName = "Someone"
	}
	_, err := s.store.Add(ctx, database.NotificationsCollection(recipientID), database.Notification{
		Type:    database.NotificationTaskAssignment,
		Title:   "New Task Assignment",
		Message: fmt.Sprintf("%s assigned you to %q", assignerName, card.Title),
		Data: map[string]string{
			"boardId":      board.ID,
			"boardTitle":   board.Title,
			"cardId":       card.ID,
			"cardTitle":    card.Title,
			"assignerId":   assigner.ID,
			"assignerName": assigner.DisplayName,
		},
		CreatedAt: s.now(),
	})
	if err != nil {
		log.Printf("Error sending assignment notification to %s: %v", recipientID, err)
	}
}

// List returns a user's notifications, newest first
func (s *NotificationService) List(ctx context.Context, userID string) ([]database.Notification, error) {
	docs, err := s.store.List(ctx, database.NotificationsCollection(userID))
	if err != nil {
		return nil, err
	}
	notifications, err := database.DecodeAll[database.Notification](docs)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(notifications, func(a, b database.Notification) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return notifications, nil
}

func (s *NotificationService) Get(ctx context.Context, userID, notificationID string) (database.Notification, error) {
	doc, err := s.store.Get(ctx, database.NotificationRef(userID, notificationID))
	if err != nil {
		return database.Notification{}, err
	}
	var n database.Notification
	if err := doc.Decode(&n); err != nil {
		return database.Notification{}, err
	}
	return n, nil
}

func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID string) error {
	return s.store.Update(ctx, database.NotificationRef(userID, notificationID), map[string]any{"read": true})
}

func (s *NotificationService) Delete(ctx context.Context, userID, notificationID string) error {
	return s.store.Delete(ctx, database.NotificationRef(userID, notificationID))
}

// resolveInvite records the answer to a pending invitation
func (s *NotificationService) resolveInvite(ctx context.Context, userID string, n database.Notification, status, message string) error {
	err := s.store.Update(ctx, database.NotificationRef(userID, n.ID), map[string]any{
		"status":  status,
		"read":    true,
		"message": message,
	})
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("notification %s: %w", n.ID, err)
	}
	return err
}
