package services

import (
	"context"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/Ashwin-0055/flowsync/database"
)

var (
	owner  = Identity{ID: "u1", Email: "ada@example.com", DisplayName: "Ada"}
	member = Identity{ID: "u2", Email: "grace@example.com", DisplayName: "Grace"}
)

func newTestBoardService(t *testing.T) (*BoardService, *database.Store) {
	t.Helper()
	store := newTestStore(t)
	notifications := NewNotificationService(store)
	notifications.now = func() time.Time { return testNow }
	svc := NewBoardService(store, notifications)
	svc.now = func() time.Time { return testNow }
	return svc, store
}

func addUser(t *testing.T, store *database.Store, id Identity) {
	t.Helper()
	require.NoError(t, store.Set(context.Background(), database.UserRef(id.ID), database.User{
		ID: id.ID, Email: id.Email, DisplayName: id.DisplayName,
	}))
}

func TestLoadBoardForUserCreatesDefaultBoard(t *testing.T) {
	svc, _ := newTestBoardService(t)
	ctx := context.Background()

	board, err := svc.LoadBoardForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "My Board", board.Title)
	assert.Equal(t, "u1", board.OwnerID)
	assert.Equal(t, []string{"u1"}, board.Members)
	require.Len(t, board.Lists, 3)
	assert.Equal(t, "To Do", board.Lists[0].Title)
	assert.Equal(t, 5, *board.Lists[0].WIPLimit)
	assert.Nil(t, board.Lists[2].WIPLimit)

	again, err := svc.LoadBoardForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, board.ID, again.ID, "second load finds the same board")
}

func TestMigrateLegacyBoard(t *testing.T) {
	svc, store := newTestBoardService(t)
	ctx := context.Background()

	legacyLists := []database.List{{ID: "backlog", Title: "Backlog", Index: 0}, {ID: "shipped", Title: "Shipped", Index: 1}}
	require.NoError(t, store.Set(ctx, database.LegacyBoardRef("u1"), database.LegacyBoard{Lists: legacyLists}))
	require.NoError(t, store.Set(ctx, database.DocumentRef{Collection: database.LegacyCardsCollection("u1"), ID: "old-1"},
		database.Card{Title: "Write docs", ListID: "backlog", Index: 0}))

	board, err := svc.LoadBoardForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"backlog", "shipped"}, []string{board.Lists[0].ID, board.Lists[1].ID})

	cards := storedCards(t, store, board.ID)
	require.Len(t, cards, 1)
	assert.Equal(t, "Write docs", cards[0].Title)
	assert.Equal(t, "old-1", cards[0].MigratedFrom)
	assert.Equal(t, board.ID, cards[0].BoardID)
	assert.Equal(t, database.PriorityMedium, cards[0].Priority)
	assert.NotEqual(t, "old-1", cards[0].ID)
}

func TestAuthorize(t *testing.T) {
	svc, store := newTestBoardService(t)
	seedBoard(t, store)
	ctx := context.Background()

	_, err := svc.Authorize(ctx, "b1", "u1")
	assert.NoError(t, err)
	_, err = svc.Authorize(ctx, "b1", "stranger")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.Authorize(ctx, "missing", "u1")
	assert.ErrorIs(t, err, ErrBoardNotFound)
}

func TestRenameBoard(t *testing.T) {
	svc, store := newTestBoardService(t)
	seedBoard(t, store)
	ctx := context.Background()

	assert.True(t, IsValidation(svc.RenameBoard(ctx, "b1", "   ")))
	require.NoError(t, svc.RenameBoard(ctx, "b1", "  Q3 Roadmap "))

	board, err := svc.GetBoard(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "Q3 Roadmap", board.Title)
}

func TestListLifecycle(t *testing.T) {
	svc, store := newTestBoardService(t)
	seedBoard(t, store, card("A", "doing", 0), card("B", "doing", 1), card("C", "todo", 0))
	ctx := context.Background()

	added, err := svc.AddList(ctx, "b1", "Review", intPtr(4))
	require.NoError(t, err)
	assert.Equal(t, 3, added.Index)
	assert.Contains(t, added.ID, "list-")

	_, err = svc.AddList(ctx, "b1", "Bad", intPtr(0))
	assert.True(t, IsValidation(err))

	updated, err := svc.UpdateList(ctx, "b1", added.ID, "Code Review", nil)
	require.NoError(t, err)
	assert.Equal(t, "Code Review", updated.Title)
	assert.Nil(t, updated.WIPLimit)

	_, err = svc.UpdateList(ctx, "b1", "nope", "x", nil)
	assert.ErrorIs(t, err, ErrListNotFound)

	lists, err := svc.MoveList(ctx, "b1", added.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, added.ID, lists[0].ID)

	// deleting a list takes its cards along and keeps lists dense
	_, err = svc.AddComment(ctx, "b1", "A", owner, "looks good")
	require.NoError(t, err)
	require.NoError(t, svc.DeleteList(ctx, "b1", "doing"))

	board, err := svc.GetBoard(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, board.Lists, 3)
	for i, l := range ReindexLists(board.Lists) {
		assert.Equal(t, i, l.Index)
		assert.NotEqual(t, "doing", l.ID)
	}
	assert.Equal(t, []string{"C"}, cardIDs(storedCards(t, store, "b1")))

	comments, err := store.List(ctx, database.CommentsCollection("b1", "A"))
	require.NoError(t, err)
	assert.Empty(t, comments)
}

func TestCreateCard(t *testing.T) {
	svc, store := newTestBoardService(t)
	seedBoard(t, store, card("A", "todo", 0))
	ctx := context.Background()

	c, err := svc.CreateCard(ctx, "b1", owner, CardInput{Title: "  Ship it  "})
	require.NoError(t, err)
	assert.Equal(t, "Ship it", c.Title)
	assert.Equal(t, "todo", c.ListID, "defaults to the first list")
	assert.Equal(t, 1, c.Index)
	assert.Equal(t, database.PriorityMedium, c.Priority)
	assert.Equal(t, "u1", c.CreatedBy)
	assert.Equal(t, []string{}, c.Labels)

	c, err = svc.CreateCard(ctx, "b1", owner, CardInput{Title: "Later", ListID: "done", Priority: "high"})
	require.NoError(t, err)
	assert.Equal(t, 0, c.Index)
	assert.Equal(t, database.PriorityHigh, c.Priority)

	_, err = svc.CreateCard(ctx, "b1", owner, CardInput{Title: ""})
	assert.True(t, IsValidation(err))
	_, err = svc.CreateCard(ctx, "b1", owner, CardInput{Title: "x", Priority: "urgent"})
	assert.True(t, IsValidation(err))
	_, err = svc.CreateCard(ctx, "b1", owner, CardInput{Title: "x", ListID: "nope"})
	assert.ErrorIs(t, err, ErrListNotFound)
}

func TestConcurrentCreatesGetDistinctIndexes(t *testing.T) {
	svc, store := newTestBoardService(t)
	seedBoard(t, store)
	ctx := context.Background()

	const n = 8
	var g errgroup.Group
	for i := range n {
		g.Go(func() error {
			_, err := svc.CreateCard(ctx, "b1", owner, CardInput{Title: fmt.Sprintf("card %d", i), ListID: "doing"})
			return err
		})
	}
	require.NoError(t, g.Wait())

	cards, err := svc.cards(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, cards, n)
	indexes := make([]int, 0, n)
	for _, c := range cards {
		indexes = append(indexes, c.Index)
	}
	slices.Sort(indexes)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, indexes)
}

func TestAssignmentNotifications(t *testing.T) {
	svc, store := newTestBoardService(t)
	seedBoard(t, store)
	ctx := context.Background()

	// self-assignment is silent
	c, err := svc.CreateCard(ctx, "b1", owner, CardInput{Title: "Mine", AssigneeID: owner.ID})
	require.NoError(t, err)
	mine, err := svc.notifications.List(ctx, owner.ID)
	require.NoError(t, err)
	assert.Empty(t, mine)

	_, err = svc.UpdateCard(ctx, "b1", owner, c.ID, CardInput{Title: "Mine", AssigneeID: member.ID})
	require.NoError(t, err)

	theirs, err := svc.notifications.List(ctx, member.ID)
	require.NoError(t, err)
	require.Len(t, theirs, 1)
	assert.Equal(t, database.NotificationTaskAssignment, theirs[0].Type)
	assert.Equal(t, c.ID, theirs[0].Data["cardId"])
	assert.Equal(t, `Ada assigned you to "Mine"`, theirs[0].Message)

	// unchanged assignee does not notify again
	_, err = svc.UpdateCard(ctx, "b1", owner, c.ID, CardInput{Title: "Mine, renamed", AssigneeID: member.ID})
	require.NoError(t, err)
	theirs, err = svc.notifications.List(ctx, member.ID)
	require.NoError(t, err)
	assert.Len(t, theirs, 1)
}

func TestUpdateCard(t *testing.T) {
	svc, store := newTestBoardService(t)
	seedBoard(t, store, card("A", "todo", 0))
	ctx := context.Background()
	due := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	updated, err := svc.UpdateCard(ctx, "b1", owner, "A", CardInput{
		Title: "Plan", Description: "steps", Priority: database.PriorityLow,
		Labels: []string{"l1"}, DueDate: &due, ListID: "done",
	})
	require.NoError(t, err)
	assert.Equal(t, "todo", updated.ListID, "list changes only through moves")

	stored, err := svc.GetCard(ctx, "b1", "A")
	require.NoError(t, err)
	assert.Equal(t, "Plan", stored.Title)
	assert.Equal(t, "steps", stored.Description)
	assert.Equal(t, database.PriorityLow, stored.Priority)
	assert.Equal(t, []string{"l1"}, stored.Labels)
	require.NotNil(t, stored.DueDate)
	assert.True(t, stored.DueDate.Equal(due))
	assert.Equal(t, 0, stored.Index)

	_, err = svc.UpdateCard(ctx, "b1", owner, "nope", CardInput{Title: "x"})
	assert.ErrorIs(t, err, ErrCardNotFound)
}

func TestRescheduleCard(t *testing.T) {
	svc, store := newTestBoardService(t)
	seedBoard(t, store, card("A", "todo", 0))
	ctx := context.Background()
	due := time.Date(2025, 5, 2, 12, 0, 0, 0, time.UTC)

	require.NoError(t, svc.RescheduleCard(ctx, "b1", "A", due))
	stored, err := svc.GetCard(ctx, "b1", "A")
	require.NoError(t, err)
	assert.True(t, stored.DueDate.Equal(due))

	assert.ErrorIs(t, svc.RescheduleCard(ctx, "b1", "nope", due), ErrCardNotFound)
}

func TestDeleteCardClosesGap(t *testing.T) {
	svc, store := newTestBoardService(t)
	seedBoard(t, store, card("A", "todo", 0), card("B", "todo", 1), card("C", "todo", 2), card("X", "doing", 0))
	ctx := context.Background()

	_, err := svc.AddComment(ctx, "b1", "A", owner, "first")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteCard(ctx, "b1", "A"))

	cards := storedCards(t, store, "b1")
	assert.Len(t, cards, 3)
	assert.Equal(t, 0, mustFind(t, cards, "B").Index)
	assert.Equal(t, 1, mustFind(t, cards, "C").Index)
	assert.Equal(t, 0, mustFind(t, cards, "X").Index)

	comments, err := svc.Comments(ctx, "b1", "A")
	require.NoError(t, err)
	assert.Empty(t, comments)

	assert.ErrorIs(t, svc.DeleteCard(ctx, "b1", "A"), ErrCardNotFound)
}

func TestLabels(t *testing.T) {
	svc, store := newTestBoardService(t)
	seedBoard(t, store, database.Card{ID: "A", ListID: "todo", Labels: []string{"keep", "gone"}})
	ctx := context.Background()

	_, err := svc.CreateLabel(ctx, "b1", database.Label{Name: " "})
	assert.True(t, IsValidation(err))

	bug, err := svc.CreateLabel(ctx, "b1", database.Label{Name: "Bug"})
	require.NoError(t, err)
	assert.NotEmpty(t, bug.ID)
	assert.Equal(t, "#3b82f6", bug.Color)

	renamed, err := svc.UpdateLabel(ctx, "b1", bug.ID, database.Label{Name: "Defect", Color: "#ef4444"})
	require.NoError(t, err)
	assert.Equal(t, bug.ID, renamed.ID)

	_, err = svc.UpdateLabel(ctx, "b1", "nope", database.Label{Name: "x"})
	assert.ErrorIs(t, err, ErrLabelNotFound)

	labels, err := svc.Labels(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, labels, 1)
	assert.Equal(t, "Defect", labels[0].Name)

	require.NoError(t, svc.DeleteLabel(ctx, "b1", bug.ID))
	labels, err = svc.Labels(ctx, "b1")
	require.NoError(t, err)
	assert.Empty(t, labels)

	// cards keep the ids; readers filter them
	stored, err := svc.GetCard(ctx, "b1", "A")
	require.NoError(t, err)
	assert.Equal(t, []string{"keep", "gone"}, stored.Labels)
}

func TestComments(t *testing.T) {
	svc, store := newTestBoardService(t)
	seedBoard(t, store, card("A", "todo", 0))
	ctx := context.Background()

	times := []time.Time{testNow.Add(time.Minute), testNow}
	for i, text := range []string{"second", "first"} {
		at := times[i]
		svc.now = func() time.Time { return at }
		_, err := svc.AddComment(ctx, "b1", "A", member, text)
		require.NoError(t, err)
	}

	comments, err := svc.Comments(ctx, "b1", "A")
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "first", comments[0].Text)
	assert.Equal(t, "second", comments[1].Text)
	assert.Equal(t, "Grace", comments[0].UserName)

	_, err = svc.AddComment(ctx, "b1", "A", member, "  ")
	assert.True(t, IsValidation(err))
	_, err = svc.AddComment(ctx, "b1", "nope", member, "hi")
	assert.ErrorIs(t, err, ErrCardNotFound)
}

func TestInviteAcceptAndRemove(t *testing.T) {
	svc, store := newTestBoardService(t)
	seedBoard(t, store)
	addUser(t, store, owner)
	addUser(t, store, member)
	ctx := context.Background()

	_, err := svc.InviteMember(ctx, "b1", owner, "nobody@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = svc.InviteMember(ctx, "b1", owner, owner.Email)
	assert.ErrorIs(t, err, ErrAlreadyMember)
	_, err = svc.InviteMember(ctx, "b1", member, owner.Email)
	assert.ErrorIs(t, err, ErrForbidden)

	invitee, err := svc.InviteMember(ctx, "b1", owner, " GRACE@example.com ")
	require.NoError(t, err)
	assert.Equal(t, member.ID, invitee.ID)

	inbox, err := svc.notifications.List(ctx, member.ID)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	invite := inbox[0]
	assert.Equal(t, database.InvitePending, invite.Status)
	assert.Equal(t, "b1", invite.Data["boardId"])

	require.NoError(t, svc.RespondToInvite(ctx, member, invite.ID, true))
	assert.ErrorIs(t, svc.RespondToInvite(ctx, member, invite.ID, true), ErrInviteResolved)

	board, err := svc.GetBoard(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, board.Members)

	resolved, err := svc.notifications.Get(ctx, member.ID, invite.ID)
	require.NoError(t, err)
	assert.Equal(t, database.InviteAccepted, resolved.Status)
	assert.True(t, resolved.Read)

	members, err := svc.Members(ctx, "b1")
	require.NoError(t, err)
	assert.Len(t, members, 2)

	// members may only remove themselves; the owner stays
	stranger := Identity{ID: "u3"}
	require.NoError(t, store.Update(ctx, database.BoardRef("b1"), map[string]any{"members": database.ArrayUnion("u3")}))
	assert.ErrorIs(t, svc.RemoveMember(ctx, "b1", member, "u3"), ErrForbidden)
	assert.True(t, IsValidation(svc.RemoveMember(ctx, "b1", owner, owner.ID)))
	require.NoError(t, svc.RemoveMember(ctx, "b1", stranger, "u3"))
	require.NoError(t, svc.RemoveMember(ctx, "b1", owner, member.ID))

	board, err = svc.GetBoard(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, board.Members)
}

func TestDeclineInvite(t *testing.T) {
	svc, store := newTestBoardService(t)
	seedBoard(t, store)
	addUser(t, store, member)
	ctx := context.Background()

	_, err := svc.InviteMember(ctx, "b1", owner, member.Email)
	require.NoError(t, err)
	inbox, err := svc.notifications.List(ctx, member.ID)
	require.NoError(t, err)

	require.NoError(t, svc.RespondToInvite(ctx, member, inbox[0].ID, false))

	board, err := svc.GetBoard(ctx, "b1")
	require.NoError(t, err)
	assert.False(t, board.HasMember(member.ID))

	resolved, err := svc.notifications.Get(ctx, member.ID, inbox[0].ID)
	require.NoError(t, err)
	assert.Equal(t, database.InviteDeclined, resolved.Status)
}

func TestInviteForDeletedBoard(t *testing.T) {
	svc, store := newTestBoardService(t)
	board := seedBoard(t, store)
	addUser(t, store, member)
	ctx := context.Background()

	require.NoError(t, svc.notifications.SendInvite(ctx, member.ID, board, owner))
	require.NoError(t, store.Delete(ctx, database.BoardRef("b1")))

	inbox, err := svc.notifications.List(ctx, member.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, svc.RespondToInvite(ctx, member, inbox[0].ID, true), ErrBoardNotFound)
}

func TestNotificationInbox(t *testing.T) {
	store := newTestStore(t)
	svc := NewNotificationService(store)
	ctx := context.Background()
	board := &database.Board{ID: "b1", Title: "Launch"}

	for i := 0; i < 3; i++ {
		at := testNow.Add(time.Duration(i) * time.Hour)
		svc.now = func() time.Time { return at }
		svc.SendAssignment(ctx, "u2", database.Card{ID: "c", Title: "Task"}, board, owner)
	}

	inbox, err := svc.List(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, inbox, 3)
	assert.True(t, inbox[0].CreatedAt.After(inbox[1].CreatedAt), "newest first")

	require.NoError(t, svc.MarkRead(ctx, "u2", inbox[0].ID))
	read, err := svc.Get(ctx, "u2", inbox[0].ID)
	require.NoError(t, err)
	assert.True(t, read.Read)

	require.NoError(t, svc.Delete(ctx, "u2", inbox[1].ID))
	inbox, err = svc.List(ctx, "u2")
	require.NoError(t, err)
	assert.Len(t, inbox, 2)

	assert.ErrorIs(t, svc.MarkRead(ctx, "u2", "missing"), database.ErrNotFound)
}
