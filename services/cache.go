package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/Ashwin-0055/flowsync/database"
)

// ErrFeedClosed is returned by Watch when the store closes one of its feeds
var ErrFeedClosed = errors.New("board subscription closed")

// BoardSnapshot is a read-only view of one board. Version counts
// authoritative deliveries; PendingSeq is non-zero while a speculative move
// is layered over the cards.
type BoardSnapshot struct {
	Version    uint64           `json:"version"`
	PendingSeq uint64           `json:"pendingSeq,omitempty"`
	Board      *database.Board  `json:"board"`
	Lists      []database.List  `json:"lists"`
	Cards      []database.Card  `json:"cards"`
	Labels     []database.Label `json:"labels"`
}

// NewBoardSnapshot assembles a snapshot, ordering lists and cards by index
func NewBoardSnapshot(board *database.Board, cards []database.Card, labels []database.Label) BoardSnapshot {
	snap := BoardSnapshot{
		Board:  board,
		Cards:  slices.Clone(cards),
		Labels: slices.Clone(labels),
	}
	SortCards(snap.Cards)
	if board != nil {
		snap.Lists = slices.Clone(board.Lists)
		slices.SortStableFunc(snap.Lists, func(a, b database.List) int { return a.Index - b.Index })
	}
	return snap
}

func (s BoardSnapshot) List(listID string) (database.List, bool) {
	for _, l := range s.Lists {
		if l.ID == listID {
			return l, true
		}
	}
	return database.List{}, false
}

func (s BoardSnapshot) Card(cardID string) (database.Card, bool) {
	for _, c := range s.Cards {
		if c.ID == cardID {
			return c, true
		}
	}
	return database.Card{}, false
}

// CardsInList returns the cards of one list in display order
func (s BoardSnapshot) CardsInList(listID string) []database.Card {
	return listSequence(s.Cards, listID)
}

type speculation struct {
	seq   uint64
	cards []database.Card
}

// BoardCache mirrors one board from the store's live feeds. Every view it
// hands out is a projection of the latest delivered snapshots, optionally
// overlaid by a single speculative move that is thrown away as soon as
// fresh cards arrive.
type BoardCache struct {
	store *database.Store

	mu      sync.RWMutex
	boardID string
	board   *database.Board
	cards   []database.Card
	labels  []database.Label
	version uint64
	seq     uint64
	pending *speculation
}

func NewBoardCache(store *database.Store) *BoardCache {
	return &BoardCache{store: store}
}

// Watch subscribes to the board document, its cards and its labels, and
// calls onChange after every delivery until ctx is cancelled. All three
// subscriptions are released when Watch returns, whatever the reason.
// Switching boards means cancelling one Watch and starting another.
func (c *BoardCache) Watch(ctx context.Context, boardID string, onChange func(BoardSnapshot)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	boardSub, err := c.store.SubscribeDocument(ctx, database.BoardRef(boardID))
	if err != nil {
		return fmt.Errorf("failed to subscribe to board %s: %w", boardID, err)
	}
	defer boardSub.Close()

	cardsSub, err := c.store.SubscribeCollection(ctx, database.CardsCollection(boardID))
	if err != nil {
		return fmt.Errorf("failed to subscribe to cards of %s: %w", boardID, err)
	}
	defer cardsSub.Close()

	labelsSub, err := c.store.SubscribeCollection(ctx, database.LabelsCollection(boardID))
	if err != nil {
		return fmt.Errorf("failed to subscribe to labels of %s: %w", boardID, err)
	}
	defer labelsSub.Close()

	c.reset(boardID)

	for {
		var (
			update  database.Snapshot
			ok      bool
			applyFn func(database.Snapshot) error
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok = <-boardSub.Updates():
			applyFn = c.applyBoard
		case update, ok = <-cardsSub.Updates():
			applyFn = c.applyCards
		case update, ok = <-labelsSub.Updates():
			applyFn = c.applyLabels
		}
		if !ok {
			if err := ctx.Err(); err != nil {
				return err
			}
			return ErrFeedClosed
		}

		if update.Err != nil {
			log.Printf("Error syncing %s: %v", update.Path, update.Err)
			continue
		}
		if err := applyFn(update); err != nil {
			log.Printf("Error applying %s: %v", update.Path, err)
			continue
		}

		if onChange != nil {
			onChange(c.Snapshot())
		}
	}
}

// Snapshot returns the current view of the board
func (c *BoardCache) Snapshot() BoardSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

// ApplySpeculative layers a planned move over the cards until the store
// confirms or rejects it. The returned sequence number identifies the
// speculation for Discard.
func (c *BoardCache) ApplySpeculative(plan MovePlan) (uint64, BoardSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	base := c.cards
	if c.pending != nil {
		base = c.pending.cards
	}
	cards := slices.Clone(base)
	applyPatches(cards, plan.Patches)
	SortCards(cards)

	c.seq++
	c.pending = &speculation{seq: c.seq, cards: cards}
	return c.seq, c.snapshotLocked()
}

// Discard drops the speculation tagged seq, if it is still the active one,
// and reports whether anything was dropped.
func (c *BoardCache) Discard(seq uint64) (BoardSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == nil || c.pending.seq != seq {
		return c.snapshotLocked(), false
	}
	c.pending = nil
	return c.snapshotLocked(), true
}

func (c *BoardCache) reset(boardID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.boardID = boardID
	c.board = nil
	c.cards = nil
	c.labels = nil
	c.pending = nil
}

func (c *BoardCache) applyBoard(update database.Snapshot) error {
	var board *database.Board
	if update.Exists() {
		board = &database.Board{}
		if err := update.Docs[0].Decode(board); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.board = board
	c.version++
	return nil
}

func (c *BoardCache) applyCards(update database.Snapshot) error {
	cards, err := database.DecodeAll[database.Card](update.Docs)
	if err != nil {
		return err
	}
	SortCards(cards)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cards = cards
	c.pending = nil
	c.version++
	return nil
}

func (c *BoardCache) applyLabels(update database.Snapshot) error {
	labels, err := database.DecodeAll[database.Label](update.Docs)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.labels = labels
	c.version++
	return nil
}

func (c *BoardCache) snapshotLocked() BoardSnapshot {
	cards := c.cards
	var pendingSeq uint64
	if c.pending != nil {
		cards = c.pending.cards
		pendingSeq = c.pending.seq
	}
	snap := NewBoardSnapshot(c.board, cards, c.labels)
	snap.Version = c.version
	snap.PendingSeq = pendingSeq
	return snap
}

func applyPatches(cards []database.Card, patches []Patch) {
	for _, p := range patches {
		i := slices.IndexFunc(cards, func(c database.Card) bool { return c.ID == p.Ref.ID })
		if i < 0 {
			continue
		}
		if index, ok := p.Fields["index"].(int); ok {
			cards[i].Index = index
		}
		if listID, ok := p.Fields["listId"].(string); ok {
			cards[i].ListID = listID
		}
		if updatedAt, ok := p.Fields["updatedAt"].(time.Time); ok {
			cards[i].UpdatedAt = updatedAt
		}
	}
}
