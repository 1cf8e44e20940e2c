package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Ashwin-0055/flowsync/database"
)

func newTestStore(t *testing.T) *database.Store {
	t.Helper()
	db, err := database.InitDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return database.NewStore(db)
}

// seedBoard writes board b1 with To Do, In Progress and Done lists owned by
// u1, plus the given cards
func seedBoard(t *testing.T, store *database.Store, cards ...database.Card) *database.Board {
	t.Helper()
	ctx := context.Background()

	board := &database.Board{
		ID:      "b1",
		Title:   "Launch",
		OwnerID: "u1",
		Members: []string{"u1"},
		Lists: []database.List{
			{ID: "todo", Title: "To Do", WIPLimit: intPtr(2), Index: 0},
			{ID: "doing", Title: "In Progress", Index: 1},
			{ID: "done", Title: "Done", Index: 2},
		},
		CreatedAt: testNow,
		UpdatedAt: testNow,
	}

	batch := store.Batch().Set(database.BoardRef(board.ID), board)
	for _, c := range cards {
		c.BoardID = board.ID
		batch.Set(database.CardRef(board.ID, c.ID), c)
	}
	require.NoError(t, batch.Commit(ctx))
	return board
}

func storedCards(t *testing.T, store *database.Store, boardID string) []database.Card {
	t.Helper()
	docs, err := store.List(context.Background(), database.CardsCollection(boardID))
	require.NoError(t, err)
	cards, err := database.DecodeAll[database.Card](docs)
	require.NoError(t, err)
	return cards
}

type notice struct {
	boardID, userID, level, message string
}

type recordingNotifier struct {
	mu         sync.Mutex
	celebrated []database.Card
	notices    []notice
}

func (r *recordingNotifier) Celebrate(boardID string, card database.Card, list database.List) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.celebrated = append(r.celebrated, card)
}

func (r *recordingNotifier) Notice(boardID, userID, level, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, notice{boardID, userID, level, message})
}

func (r *recordingNotifier) snapshot() ([]database.Card, []notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]database.Card(nil), r.celebrated...), append([]notice(nil), r.notices...)
}
