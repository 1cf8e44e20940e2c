package database

import (
	"context"
	"errors"
	"log"
	"slices"
	"sync"
)

// Snapshot is the full state of a subscribed document or collection at one
// point in commit order. A document snapshot holds zero or one documents.
type Snapshot struct {
	Path string
	Docs []Document
	Err  error
}

// Exists reports whether a document snapshot found its document
func (s Snapshot) Exists() bool {
	return len(s.Docs) > 0
}

// Subscription is a live feed of snapshots. The channel holds at most one
// pending snapshot: a newer one replaces an unread older one, so a slow
// reader skips intermediate states but never sees them out of order.
type Subscription struct {
	store      *Store
	doc        *DocumentRef
	collection string

	ch     chan Snapshot
	mu     sync.Mutex
	closed bool
	stop   func() bool
}

// Updates delivers snapshots until the subscription is closed
func (s *Subscription) Updates() <-chan Snapshot {
	return s.ch
}

// Close releases the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.store.subMu.Lock()
	delete(s.store.subs, s)
	s.store.subMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
	if s.stop != nil {
		s.stop()
	}
}

func (s *Subscription) deliver(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case <-s.ch:
	default:
	}
	s.ch <- snap
}

func (s *Subscription) path() string {
	if s.doc != nil {
		return s.doc.Path()
	}
	return s.collection
}

// SubscribeDocument opens a live feed of a single document. The current
// state is delivered immediately.
func (s *Store) SubscribeDocument(ctx context.Context, ref DocumentRef) (*Subscription, error) {
	return s.subscribe(ctx, &Subscription{doc: &ref, collection: ref.Collection})
}

// SubscribeCollection opens a live feed of every document in a collection.
// The current state is delivered immediately.
func (s *Store) SubscribeCollection(ctx context.Context, collection string) (*Subscription, error) {
	return s.subscribe(ctx, &Subscription{collection: collection})
}

func (s *Store) subscribe(ctx context.Context, sub *Subscription) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub.store = s
	sub.ch = make(chan Snapshot, 1)

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.load(ctx, sub)
	if snap.Err != nil {
		return nil, snap.Err
	}

	s.subMu.Lock()
	s.subs[sub] = struct{}{}
	s.subMu.Unlock()

	sub.deliver(snap)
	sub.mu.Lock()
	sub.stop = context.AfterFunc(ctx, sub.Close)
	sub.mu.Unlock()
	return sub, nil
}

// CloseSubscriptions closes every open feed on the given document or
// collection paths, or every feed when no path is given. It returns the
// number closed.
func (s *Store) CloseSubscriptions(paths ...string) int {
	s.subMu.Lock()
	var targets []*Subscription
	for sub := range s.subs {
		if len(paths) == 0 || slices.Contains(paths, sub.path()) {
			targets = append(targets, sub)
		}
	}
	s.subMu.Unlock()

	for _, sub := range targets {
		sub.Close()
	}
	return len(targets)
}

// SubscriberCount reports the number of open subscriptions
func (s *Store) SubscriberCount() int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subs)
}

func (s *Store) load(ctx context.Context, sub *Subscription) Snapshot {
	snap := Snapshot{Path: sub.path()}
	if sub.doc != nil {
		doc, err := s.Get(ctx, *sub.doc)
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			snap.Err = err
		default:
			snap.Docs = []Document{doc}
		}
		return snap
	}

	docs, err := s.List(ctx, sub.collection)
	snap.Docs = docs
	snap.Err = err
	return snap
}

// publish pushes fresh snapshots to every subscription touched by writes.
// Called with s.mu held, right after the commit.
func (s *Store) publish(writes []write) {
	docs := make(map[string]struct{}, len(writes))
	collections := make(map[string]struct{})
	for _, w := range writes {
		docs[w.ref.Path()] = struct{}{}
		collections[w.ref.Collection] = struct{}{}
	}

	s.subMu.Lock()
	var targets []*Subscription
	for sub := range s.subs {
		if sub.doc != nil {
			if _, ok := docs[sub.doc.Path()]; ok {
				targets = append(targets, sub)
			}
			continue
		}
		if _, ok := collections[sub.collection]; ok {
			targets = append(targets, sub)
		}
	}
	s.subMu.Unlock()

	for _, sub := range targets {
		snap := s.load(context.Background(), sub)
		if snap.Err != nil {
			log.Printf("Error loading snapshot for %s: %v", snap.Path, snap.Err)
		}
		sub.deliver(snap)
	}
}
