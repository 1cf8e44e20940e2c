package services

import (
	"slices"
	"time"

	"github.com/Ashwin-0055/flowsync/database"
)

// MoveIntent is a drag-and-drop request. OverCardID is set when the card is
// dropped on another card, Position when the client names a slot directly;
// with neither the card goes to the end of the target list.
type MoveIntent struct {
	CardID       string `json:"cardId"`
	TargetListID string `json:"targetListId"`
	OverCardID   string `json:"overCardId,omitempty"`
	Position     *int   `json:"position,omitempty"`
}

// Patch is a field update against one document
type Patch struct {
	Ref    database.DocumentRef `json:"ref"`
	Fields map[string]any       `json:"fields"`
}

// MovePlan is the outcome of planning a card move
type MovePlan struct {
	CardID       string  `json:"cardId"`
	SourceListID string  `json:"sourceListId"`
	TargetListID string  `json:"targetListId"`
	Index        int     `json:"index"`
	Patches      []Patch `json:"patches"`
}

// CrossList reports whether the card changes lists
func (p MovePlan) CrossList() bool {
	return p.SourceListID != p.TargetListID
}

// PlanMove computes the index patches for a validated intent. cards is the
// whole board; every list keeps dense 0..n-1 indices after the patches are
// applied, and only cards whose index actually changes are written.
func PlanMove(boardID string, cards []database.Card, intent MoveIntent, now time.Time) MovePlan {
	var moved database.Card
	for _, c := range cards {
		if c.ID == intent.CardID {
			moved = c
			break
		}
	}

	plan := MovePlan{
		CardID:       moved.ID,
		SourceListID: moved.ListID,
		TargetListID: intent.TargetListID,
	}

	source := listSequence(cards, moved.ListID)
	oldPos := slices.IndexFunc(source, func(c database.Card) bool { return c.ID == moved.ID })
	rest := slices.Delete(slices.Clone(source), oldPos, oldPos+1)

	if moved.ListID == intent.TargetListID {
		newPos := oldPos
		if intent.OverCardID != moved.ID {
			newPos = insertionPoint(rest, intent)
		}
		plan.Index = newPos

		seq := slices.Insert(rest, newPos, moved)
		for i, c := range seq {
			if c.Index != i {
				plan.Patches = append(plan.Patches, indexPatch(boardID, c.ID, i))
			}
		}
		return plan
	}

	// close the gap in the source list
	for i, c := range rest {
		if c.Index != i {
			plan.Patches = append(plan.Patches, indexPatch(boardID, c.ID, i))
		}
	}

	target := listSequence(cards, intent.TargetListID)
	newPos := insertionPoint(target, intent)
	plan.Index = newPos

	plan.Patches = append(plan.Patches, Patch{
		Ref: database.CardRef(boardID, moved.ID),
		Fields: map[string]any{
			"listId":    intent.TargetListID,
			"index":     newPos,
			"updatedAt": now,
		},
	})

	// open a slot in the target list
	for i, c := range target {
		want := i
		if i >= newPos {
			want = i + 1
		}
		if c.Index != want {
			plan.Patches = append(plan.Patches, indexPatch(boardID, c.ID, want))
		}
	}
	return plan
}

// PlanCloseGap returns the patches that keep a list dense once removedID
// is gone from it.
func PlanCloseGap(boardID string, cards []database.Card, listID, removedID string) []Patch {
	var patches []Patch
	i := 0
	for _, c := range listSequence(cards, listID) {
		if c.ID == removedID {
			continue
		}
		if c.Index != i {
			patches = append(patches, indexPatch(boardID, c.ID, i))
		}
		i++
	}
	return patches
}

// PlanListMove moves a list to position (clamped) and returns the board's
// lists with dense indices in display order.
func PlanListMove(lists []database.List, listID string, position int) []database.List {
	seq := ReindexLists(lists)
	oldPos := slices.IndexFunc(seq, func(l database.List) bool { return l.ID == listID })
	if oldPos < 0 {
		return seq
	}

	moved := seq[oldPos]
	seq = slices.Delete(seq, oldPos, oldPos+1)
	position = clamp(position, 0, len(seq))
	seq = slices.Insert(seq, position, moved)
	for i := range seq {
		seq[i].Index = i
	}
	return seq
}

// ReindexLists orders lists by index and renumbers them 0..m-1
func ReindexLists(lists []database.List) []database.List {
	seq := slices.Clone(lists)
	slices.SortStableFunc(seq, func(a, b database.List) int { return a.Index - b.Index })
	for i := range seq {
		seq[i].Index = i
	}
	return seq
}

// SortCards orders cards by index, keeping the incoming order for ties
func SortCards(cards []database.Card) {
	slices.SortStableFunc(cards, func(a, b database.Card) int { return a.Index - b.Index })
}

func listSequence(cards []database.Card, listID string) []database.Card {
	var seq []database.Card
	for _, c := range cards {
		if c.ListID == listID {
			seq = append(seq, c)
		}
	}
	SortCards(seq)
	return seq
}

// insertionPoint resolves where the moved card lands in seq, which never
// contains the moved card itself. Dropping on a card inserts before it.
func insertionPoint(seq []database.Card, intent MoveIntent) int {
	if intent.OverCardID != "" {
		if i := slices.IndexFunc(seq, func(c database.Card) bool { return c.ID == intent.OverCardID }); i >= 0 {
			return i
		}
	}
	if intent.Position != nil {
		return clamp(*intent.Position, 0, len(seq))
	}
	return len(seq)
}

func indexPatch(boardID, cardID string, index int) Patch {
	return Patch{
		Ref:    database.CardRef(boardID, cardID),
		Fields: map[string]any{"index": index},
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
