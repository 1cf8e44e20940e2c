package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ashwin-0055/flowsync/database"
)

const defaultBoardTitle = "My Board"

// BoardService owns every board mutation other than card moves
type BoardService struct {
	store         *database.Store
	notifications *NotificationService
	now           func() time.Time

	// createMu holds the sibling count and the insert of a new card together
	createMu sync.Mutex
}

func NewBoardService(store *database.Store, notifications *NotificationService) *BoardService {
	return &BoardService{
		store:         store,
		notifications: notifications,
		now:           time.Now,
	}
}

// LoadBoardForUser returns the first board the user belongs to. Accounts
// without one get a board built from their legacy private data, or a
// fresh default board.
func (s *BoardService) LoadBoardForUser(ctx context.Context, userID string) (*database.Board, error) {
	docs, err := s.store.Query(ctx, database.BoardsCollection, database.Where{
		Field: "members",
		Op:    database.OpArrayContains,
		Value: userID,
	})
	if err != nil {
		return nil, err
	}

	boards, err := database.DecodeAll[database.Board](docs)
	if err != nil {
		return nil, err
	}
	if len(boards) > 0 {
		slices.SortStableFunc(boards, func(a, b database.Board) int {
			return a.CreatedAt.Compare(b.CreatedAt)
		})
		return &boards[0], nil
	}

	return s.MigrateLegacyBoard(ctx, userID)
}

// MigrateLegacyBoard creates a shared board owned by userID, seeded with the
// lists and cards of their private board when one exists. The board and
// every copied card are written in one batch.
func (s *BoardService) MigrateLegacyBoard(ctx context.Context, userID string) (*database.Board, error) {
	lists := database.DefaultLists()

	doc, err := s.store.Get(ctx, database.LegacyBoardRef(userID))
	switch {
	case err == nil:
		var legacy database.LegacyBoard
		if err := doc.Decode(&legacy); err != nil {
			return nil, err
		}
		if len(legacy.Lists) > 0 {
			lists = legacy.Lists
		}
	case errors.Is(err, database.ErrNotFound):
	default:
		return nil, err
	}

	legacyCards, err := s.store.List(ctx, database.LegacyCardsCollection(userID))
	if err != nil {
		return nil, err
	}

	now := s.now()
	ref := database.NewRef(database.BoardsCollection)
	board := &database.Board{
		ID:        ref.ID,
		Title:     defaultBoardTitle,
		OwnerID:   userID,
		Members:   []string{userID},
		Lists:     ReindexLists(lists),
		CreatedAt: now,
		UpdatedAt: now,
	}

	batch := s.store.Batch().Set(ref, board)
	for _, doc := range legacyCards {
		var card database.Card
		if err := doc.Decode(&card); err != nil {
			return nil, err
		}
		cardRef := database.NewRef(database.CardsCollection(board.ID))
		card.ID = cardRef.ID
		card.BoardID = board.ID
		card.MigratedFrom = doc.Ref.ID
		if card.CreatedBy == "" {
			card.CreatedBy = userID
		}
		if card.Priority == "" {
			card.Priority = database.PriorityMedium
		}
		batch.Set(cardRef, card)
	}

	if err := batch.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate board for %s: %w", userID, err)
	}
	log.Printf("Created board %s for user %s (%d cards migrated)", board.ID, userID, len(legacyCards))
	return board, nil
}

// GetBoard loads a board document
func (s *BoardService) GetBoard(ctx context.Context, boardID string) (*database.Board, error) {
	doc, err := s.store.Get(ctx, database.BoardRef(boardID))
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", boardID, ErrBoardNotFound)
	}
	if err != nil {
		return nil, err
	}
	board := &database.Board{}
	if err := doc.Decode(board); err != nil {
		return nil, err
	}
	return board, nil
}

// Authorize loads a board and checks that userID is one of its members
func (s *BoardService) Authorize(ctx context.Context, boardID, userID string) (*database.Board, error) {
	board, err := s.GetBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	if !board.HasMember(userID) {
		return nil, ErrForbidden
	}
	return board, nil
}

// Snapshot reads the board, its cards and its labels in one go
func (s *BoardService) Snapshot(ctx context.Context, boardID string) (BoardSnapshot, error) {
	board, err := s.GetBoard(ctx, boardID)
	if err != nil {
		return BoardSnapshot{}, err
	}
	cards, err := s.cards(ctx, boardID)
	if err != nil {
		return BoardSnapshot{}, err
	}
	labels, err := s.Labels(ctx, boardID)
	if err != nil {
		return BoardSnapshot{}, err
	}
	return NewBoardSnapshot(board, cards, labels), nil
}

func (s *BoardService) RenameBoard(ctx context.Context, boardID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return invalid("title", "board title is required")
	}
	return s.updateBoard(ctx, boardID, map[string]any{"title": title})
}

// AddList appends a list to the board. A nil wipLimit means unbounded.
func (s *BoardService) AddList(ctx context.Context, boardID, title string, wipLimit *int) (database.List, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "New List"
	}
	if err := validateWIPLimit(wipLimit); err != nil {
		return database.List{}, err
	}

	board, err := s.GetBoard(ctx, boardID)
	if err != nil {
		return database.List{}, err
	}

	lists := ReindexLists(board.Lists)
	list := database.List{
		ID:       "list-" + uuid.NewString(),
		Title:    title,
		WIPLimit: wipLimit,
		Index:    len(lists),
	}
	lists = append(lists, list)

	if err := s.updateBoard(ctx, boardID, map[string]any{"lists": lists}); err != nil {
		return database.List{}, err
	}
	return list, nil
}

// UpdateList changes a list's title and WIP limit
func (s *BoardService) UpdateList(ctx context.Context, boardID, listID, title string, wipLimit *int) (database.List, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return database.List{}, invalid("title", "list title is required")
	}
	if err := validateWIPLimit(wipLimit); err != nil {
		return database.List{}, err
	}

	board, err := s.GetBoard(ctx, boardID)
	if err != nil {
		return database.List{}, err
	}

	lists := ReindexLists(board.Lists)
	i := slices.IndexFunc(lists, func(l database.List) bool { return l.ID == listID })
	if i < 0 {
		return database.List{}, fmt.Errorf("%s: %w", listID, ErrListNotFound)
	}
	lists[i].Title = title
	lists[i].WIPLimit = wipLimit

	if err := s.updateBoard(ctx, boardID, map[string]any{"lists": lists}); err != nil {
		return database.List{}, err
	}
	return lists[i], nil
}

// DeleteList removes a list together with its cards and their comments
func (s *BoardService) DeleteList(ctx context.Context, boardID, listID string) error {
	board, err := s.GetBoard(ctx, boardID)
	if err != nil {
		return err
	}
	if _, ok := board.List(listID); !ok {
		return fmt.Errorf("%s: %w", listID, ErrListNotFound)
	}

	docs, err := s.store.Query(ctx, database.CardsCollection(boardID), database.Where{
		Field: "listId",
		Op:    database.OpEqual,
		Value: listID,
	})
	if err != nil {
		return err
	}

	lists := slices.DeleteFunc(slices.Clone(board.Lists), func(l database.List) bool { return l.ID == listID })

	batch := s.store.Batch()
	for _, doc := range docs {
		batch.Delete(doc.Ref)
		if err := s.queueCommentDeletes(ctx, batch, boardID, doc.Ref.ID); err != nil {
			return err
		}
	}
	batch.Update(database.BoardRef(boardID), map[string]any{
		"lists":     ReindexLists(lists),
		"updatedAt": s.now(),
	})

	if err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("failed to delete list %s: %w", listID, err)
	}
	log.Printf("Deleted list %s from board %s (%d cards)", listID, boardID, len(docs))
	return nil
}

// MoveList repositions a list and returns the new order
func (s *BoardService) MoveList(ctx context.Context, boardID, listID string, position int) ([]database.List, error) {
	board, err := s.GetBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	if _, ok := board.List(listID); !ok {
		return nil, fmt.Errorf("%s: %w", listID, ErrListNotFound)
	}

	lists := PlanListMove(board.Lists, listID, position)
	if err := s.updateBoard(ctx, boardID, map[string]any{"lists": lists}); err != nil {
		return nil, err
	}
	return lists, nil
}

// CardInput carries the editable fields of a card
type CardInput struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	ListID      string            `json:"listId"`
	AssigneeID  string            `json:"assigneeId"`
	Priority    database.Priority `json:"priority"`
	Labels      []string          `json:"labels"`
	DueDate     *time.Time        `json:"dueDate"`
}

func (in *CardInput) normalize() error {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return invalid("title", "card title is required")
	}
	in.Description = strings.TrimSpace(in.Description)
	if in.Priority == "" {
		in.Priority = database.PriorityMedium
	} else {
		p, ok := database.ParsePriority(string(in.Priority))
		if !ok {
			return invalid("priority", "must be Low, Medium or High")
		}
		in.Priority = p
	}
	if in.Labels == nil {
		in.Labels = []string{}
	}
	return nil
}

// CreateCard adds a card to the end of a list. Without a list it lands in
// the board's first list.
func (s *BoardService) CreateCard(ctx context.Context, boardID string, actor Identity, in CardInput) (database.Card, error) {
	if err := in.normalize(); err != nil {
		return database.Card{}, err
	}

	board, err := s.GetBoard(ctx, boardID)
	if err != nil {
		return database.Card{}, err
	}

	listID := in.ListID
	if listID == "" {
		lists := ReindexLists(board.Lists)
		if len(lists) == 0 {
			return database.Card{}, invalid("listId", "no lists available to add card")
		}
		listID = lists[0].ID
	}
	if _, ok := board.List(listID); !ok {
		return database.Card{}, fmt.Errorf("%s: %w", listID, ErrListNotFound)
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()
	siblings, err := s.store.Query(ctx, database.CardsCollection(boardID), database.Where{
		Field: "listId",
		Op:    database.OpEqual,
		Value: listID,
	})
	if err != nil {
		return database.Card{}, err
	}

	now := s.now()
	ref := database.NewRef(database.CardsCollection(boardID))
	card := database.Card{
		ID:          ref.ID,
		Title:       in.Title,
		Description: in.Description,
		ListID:      listID,
		Index:       len(siblings),
		AssigneeID:  in.AssigneeID,
		Priority:    in.Priority,
		Labels:      in.Labels,
		DueDate:     in.DueDate,
		BoardID:     boardID,
		CreatedBy:   actor.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Set(ctx, ref, card); err != nil {
		return database.Card{}, err
	}

	if card.AssigneeID != "" && card.AssigneeID != actor.ID {
		s.notifications.SendAssignment(ctx, card.AssigneeID, card, board, actor)
	}
	return card, nil
}

// GetCard loads one card
func (s *BoardService) GetCard(ctx context.Context, boardID, cardID string) (database.Card, error) {
	doc, err := s.store.Get(ctx, database.CardRef(boardID, cardID))
	if errors.Is(err, database.ErrNotFound) {
		return database.Card{}, fmt.Errorf("%s: %w", cardID, ErrCardNotFound)
	}
	if err != nil {
		return database.Card{}, err
	}
	var card database.Card
	if err := doc.Decode(&card); err != nil {
		return database.Card{}, err
	}
	return card, nil
}

// UpdateCard rewrites a card's editable fields. ListID is ignored; cards
// change lists only through moves.
func (s *BoardService) UpdateCard(ctx context.Context, boardID string, actor Identity, cardID string, in CardInput) (database.Card, error) {
	if err := in.normalize(); err != nil {
		return database.Card{}, err
	}

	board, err := s.GetBoard(ctx, boardID)
	if err != nil {
		return database.Card{}, err
	}
	card, err := s.GetCard(ctx, boardID, cardID)
	if err != nil {
		return database.Card{}, err
	}
	previousAssignee := card.AssigneeID

	card.Title = in.Title
	card.Description = in.Description
	card.AssigneeID = in.AssigneeID
	card.Priority = in.Priority
	card.Labels = in.Labels
	card.DueDate = in.DueDate
	card.UpdatedAt = s.now()

	err = s.store.Update(ctx, database.CardRef(boardID, cardID), map[string]any{
		"title":       card.Title,
		"description": card.Description,
		"assigneeId":  card.AssigneeID,
		"priority":    card.Priority,
		"labels":      card.Labels,
		"dueDate":     card.DueDate,
		"updatedAt":   card.UpdatedAt,
	})
	if errors.Is(err, database.ErrNotFound) {
		return database.Card{}, fmt.Errorf("%s: %w", cardID, ErrCardNotFound)
	}
	if err != nil {
		return database.Card{}, err
	}

	if card.AssigneeID != "" && card.AssigneeID != previousAssignee && card.AssigneeID != actor.ID {
		s.notifications.SendAssignment(ctx, card.AssigneeID, card, board, actor)
	}
	return card, nil
}

// RescheduleCard sets a card's due date, as dropping it on a calendar day does
func (s *BoardService) RescheduleCard(ctx context.Context, boardID, cardID string, due time.Time) error {
	err := s.store.Update(ctx, database.CardRef(boardID, cardID), map[string]any{
		"dueDate":   due,
		"updatedAt": s.now(),
	})
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("%s: %w", cardID, ErrCardNotFound)
	}
	return err
}

// DeleteCard removes a card and its comments and closes the gap it leaves
// in its list, all in one batch.
func (s *BoardService) DeleteCard(ctx context.Context, boardID, cardID string) error {
	card, err := s.GetCard(ctx, boardID, cardID)
	if err != nil {
		return err
	}

	cards, err := s.cards(ctx, boardID)
	if err != nil {
		return err
	}

	batch := s.store.Batch().Delete(database.CardRef(boardID, cardID))
	for _, p := range PlanCloseGap(boardID, cards, card.ListID, cardID) {
		batch.Update(p.Ref, p.Fields)
	}
	if err := s.queueCommentDeletes(ctx, batch, boardID, cardID); err != nil {
		return err
	}

	if err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("failed to delete card %s: %w", cardID, err)
	}
	return nil
}

// Labels lists a board's labels
func (s *BoardService) Labels(ctx context.Context, boardID string) ([]database.Label, error) {
	docs, err := s.store.List(ctx, database.LabelsCollection(boardID))
	if err != nil {
		return nil, err
	}
	return database.DecodeAll[database.Label](docs)
}

func (s *BoardService) CreateLabel(ctx context.Context, boardID string, label database.Label) (database.Label, error) {
	if err := normalizeLabel(&label); err != nil {
		return database.Label{}, err
	}
	if _, err := s.GetBoard(ctx, boardID); err != nil {
		return database.Label{}, err
	}

	ref, err := s.store.Add(ctx, database.LabelsCollection(boardID), label)
	if err != nil {
		return database.Label{}, err
	}
	label.ID = ref.ID
	return label, nil
}

func (s *BoardService) UpdateLabel(ctx context.Context, boardID, labelID string, label database.Label) (database.Label, error) {
	if err := normalizeLabel(&label); err != nil {
		return database.Label{}, err
	}
	err := s.store.Update(ctx, database.LabelRef(boardID, labelID), map[string]any{
		"name":     label.Name,
		"color":    label.Color,
		"gradient": label.Gradient,
	})
	if errors.Is(err, database.ErrNotFound) {
		return database.Label{}, fmt.Errorf("%s: %w", labelID, ErrLabelNotFound)
	}
	if err != nil {
		return database.Label{}, err
	}
	label.ID = labelID
	return label, nil
}

// DeleteLabel removes the label document only. Cards keep the id and
// readers drop it through LiveLabelIDs.
func (s *BoardService) DeleteLabel(ctx context.Context, boardID, labelID string) error {
	return s.store.Delete(ctx, database.LabelRef(boardID, labelID))
}

func normalizeLabel(label *database.Label) error {
	label.Name = strings.TrimSpace(label.Name)
	if label.Name == "" {
		return invalid("name", "label name is required")
	}
	if label.Color == "" {
		label.Color = "#3b82f6"
	}
	return nil
}

// AddComment posts a comment on a card as actor
func (s *BoardService) AddComment(ctx context.Context, boardID, cardID string, actor Identity, text string) (database.Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return database.Comment{}, invalid("text", "comment text is required")
	}
	if _, err := s.GetCard(ctx, boardID, cardID); err != nil {
		return database.Comment{}, err
	}

	comment := database.Comment{
		Text:      text,
		UserID:    actor.ID,
		UserName:  actor.Name(),
		UserPhoto: actor.PhotoURL,
		CreatedAt: s.now(),
	}
	ref, err := s.store.Add(ctx, database.CommentsCollection(boardID, cardID), comment)
	if err != nil {
		return database.Comment{}, err
	}
	comment.ID = ref.ID
	return comment, nil
}

// Comments returns a card's comments, oldest first
func (s *BoardService) Comments(ctx context.Context, boardID, cardID string) ([]database.Comment, error) {
	docs, err := s.store.List(ctx, database.CommentsCollection(boardID, cardID))
	if err != nil {
		return nil, err
	}
	comments, err := database.DecodeAll[database.Comment](docs)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(comments, func(a, b database.Comment) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return comments, nil
}

// Members returns the profiles of a board's members. Members without a
// profile document are skipped.
func (s *BoardService) Members(ctx context.Context, boardID string) ([]database.User, error) {
	board, err := s.GetBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}

	users := make([]database.User, 0, len(board.Members))
	for _, id := range board.Members {
		doc, err := s.store.Get(ctx, database.UserRef(id))
		if errors.Is(err, database.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var u database.User
		if err := doc.Decode(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

// InviteMember sends a board invitation to the user registered under email
func (s *BoardService) InviteMember(ctx context.Context, boardID string, inviter Identity, email string) (database.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return database.User{}, invalid("email", "email is required")
	}

	board, err := s.Authorize(ctx, boardID, inviter.ID)
	if err != nil {
		return database.User{}, err
	}

	docs, err := s.store.Query(ctx, database.UsersCollection, database.Where{
		Field: "email",
		Op:    database.OpEqual,
		Value: email,
	})
	if err != nil {
		return database.User{}, err
	}
	if len(docs) == 0 {
		return database.User{}, fmt.Errorf("%s: %w", email, ErrUserNotFound)
	}

	var invitee database.User
	if err := docs[0].Decode(&invitee); err != nil {
		return database.User{}, err
	}
	if board.HasMember(invitee.ID) {
		return database.User{}, ErrAlreadyMember
	}

	if err := s.notifications.SendInvite(ctx, invitee.ID, board, inviter); err != nil {
		return database.User{}, err
	}
	log.Printf("User %s invited %s to board %s", inviter.ID, invitee.ID, boardID)
	return invitee, nil
}

// RespondToInvite accepts or declines a pending invitation addressed to user
func (s *BoardService) RespondToInvite(ctx context.Context, user Identity, notificationID string, accept bool) error {
	n, err := s.notifications.Get(ctx, user.ID, notificationID)
	if err != nil {
		return err
	}
	if n.Type != database.NotificationBoardInvite {
		return invalid("notificationId", "not an invitation")
	}
	if n.Status != database.InvitePending {
		return ErrInviteResolved
	}

	boardTitle := n.Data["boardTitle"]
	if !accept {
		return s.notifications.resolveInvite(ctx, user.ID, n, database.InviteDeclined,
			fmt.Sprintf("You declined the invitation to %q", boardTitle))
	}

	boardID := n.Data["boardId"]
	err = s.store.Update(ctx, database.BoardRef(boardID), map[string]any{
		"members":   database.ArrayUnion(user.ID),
		"updatedAt": s.now(),
	})
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("board %s may no longer exist: %w", boardID, ErrBoardNotFound)
	}
	if err != nil {
		return err
	}

	log.Printf("User %s joined board %s", user.ID, boardID)
	return s.notifications.resolveInvite(ctx, user.ID, n, database.InviteAccepted,
		fmt.Sprintf("You joined %q", boardTitle))
}

// RemoveMember takes memberID off the board. Owners may remove anyone but
// themselves; other members may only leave.
func (s *BoardService) RemoveMember(ctx context.Context, boardID string, actor Identity, memberID string) error {
	board, err := s.Authorize(ctx, boardID, actor.ID)
	if err != nil {
		return err
	}
	if actor.ID != board.OwnerID && actor.ID != memberID {
		return ErrForbidden
	}
	if memberID == board.OwnerID {
		return invalid("memberId", "the owner cannot leave their own board")
	}
	if !board.HasMember(memberID) {
		return fmt.Errorf("%s: %w", memberID, ErrUserNotFound)
	}

	return s.updateBoard(ctx, boardID, map[string]any{
		"members": database.ArrayRemove(memberID),
	})
}

func (s *BoardService) cards(ctx context.Context, boardID string) ([]database.Card, error) {
	docs, err := s.store.List(ctx, database.CardsCollection(boardID))
	if err != nil {
		return nil, err
	}
	return database.DecodeAll[database.Card](docs)
}

func (s *BoardService) queueCommentDeletes(ctx context.Context, batch *database.WriteBatch, boardID, cardID string) error {
	comments, err := s.store.List(ctx, database.CommentsCollection(boardID, cardID))
	if err != nil {
		return err
	}
	for _, c := range comments {
		batch.Delete(c.Ref)
	}
	return nil
}

func (s *BoardService) updateBoard(ctx context.Context, boardID string, fields map[string]any) error {
	fields["updatedAt"] = s.now()
	err := s.store.Update(ctx, database.BoardRef(boardID), fields)
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("%s: %w", boardID, ErrBoardNotFound)
	}
	return err
}

func validateWIPLimit(limit *int) error {
	if limit != nil && *limit < 1 {
		return invalid("wipLimit", "must be a positive number")
	}
	return nil
}
