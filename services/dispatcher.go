package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Ashwin-0055/flowsync/database"
)

// Notice levels understood by the UI
const (
	NoticeSuccess = "success"
	NoticeError   = "error"
	NoticeInfo    = "info"
)

// Notifier carries user-facing side effects of board changes. The hub
// implements it; tests use a recorder.
type Notifier interface {
	// Celebrate tells everyone on the board a card reached the Done list
	Celebrate(boardID string, card database.Card, list database.List)
	// Notice shows a transient, dismissible message to one user
	Notice(boardID, userID, level, message string)
}

type nopNotifier struct{}

func (nopNotifier) Celebrate(string, database.Card, database.List) {}
func (nopNotifier) Notice(string, string, string, string)          {}

// Dispatcher commits planned index changes as single atomic batches
type Dispatcher struct {
	store    *database.Store
	notifier Notifier
	now      func() time.Time
}

func NewDispatcher(store *database.Store, notifier Notifier) *Dispatcher {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Dispatcher{
		store:    store,
		notifier: notifier,
		now:      time.Now,
	}
}

// Commit writes every patch in one batch. Either all of them land or none do.
func (d *Dispatcher) Commit(ctx context.Context, patches []Patch) error {
	if len(patches) == 0 {
		return nil
	}

	batch := d.store.Batch()
	for _, p := range patches {
		batch.Update(p.Ref, p.Fields)
	}
	if err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit %d patches: %w", len(patches), err)
	}
	return nil
}

// ResolveMove checks an intent against a snapshot and fills in the target
// list when only a drop target card was given.
func ResolveMove(snap BoardSnapshot, intent MoveIntent) (MoveIntent, error) {
	if snap.Board == nil {
		return intent, ErrBoardNotFound
	}
	if _, ok := snap.Card(intent.CardID); !ok {
		return intent, fmt.Errorf("move %s: %w", intent.CardID, ErrCardNotFound)
	}

	if intent.OverCardID != "" {
		over, ok := snap.Card(intent.OverCardID)
		if !ok {
			return intent, fmt.Errorf("drop target %s: %w", intent.OverCardID, ErrCardNotFound)
		}
		if intent.TargetListID == "" {
			intent.TargetListID = over.ListID
		}
		if over.ListID != intent.TargetListID {
			return intent, invalid("overCardId", "drop target is not in the target list")
		}
	}

	if intent.TargetListID == "" {
		return intent, invalid("targetListId", "a target list or card is required")
	}
	if _, ok := snap.List(intent.TargetListID); !ok {
		return intent, fmt.Errorf("move to %s: %w", intent.TargetListID, ErrListNotFound)
	}
	if intent.Position != nil && *intent.Position < 0 {
		return intent, invalid("position", "must not be negative")
	}
	return intent, nil
}

// Plan validates intent and computes its patches against snap
func (d *Dispatcher) Plan(snap BoardSnapshot, intent MoveIntent) (MovePlan, error) {
	intent, err := ResolveMove(snap, intent)
	if err != nil {
		return MovePlan{}, err
	}
	return PlanMove(snap.Board.ID, snap.Cards, intent, d.now()), nil
}

// Apply commits a plan on behalf of userID and runs the side effects. A
// failed commit leaves the store untouched and sends the user a notice;
// it is never retried.
func (d *Dispatcher) Apply(ctx context.Context, userID string, snap BoardSnapshot, plan MovePlan) error {
	boardID := snap.Board.ID
	if err := d.Commit(ctx, plan.Patches); err != nil {
		log.Printf("Error moving card %s on board %s: %v", plan.CardID, boardID, err)
		d.notifier.Notice(boardID, userID, NoticeError, "Failed to move card")
		return err
	}

	if !plan.CrossList() {
		return nil
	}
	list, ok := snap.List(plan.TargetListID)
	if ok && list.IsDone() {
		card, _ := snap.Card(plan.CardID)
		card.ListID = plan.TargetListID
		card.Index = plan.Index
		d.notifier.Celebrate(boardID, card, list)
		d.notifier.Notice(boardID, userID, NoticeSuccess, "Task Completed! 🎉")
	}
	return nil
}

// MoveCard plans and commits a move in one step
func (d *Dispatcher) MoveCard(ctx context.Context, userID string, snap BoardSnapshot, intent MoveIntent) (MovePlan, error) {
	plan, err := d.Plan(snap, intent)
	if err != nil {
		return MovePlan{}, err
	}
	if err := d.Apply(ctx, userID, snap, plan); err != nil {
		return MovePlan{}, err
	}
	return plan, nil
}
