package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a document does not exist
var ErrNotFound = errors.New("document not found")

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// DocumentRef addresses a document by collection path and id
type DocumentRef struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

// NewRef returns a reference with a freshly generated id
func NewRef(collection string) DocumentRef {
	return DocumentRef{Collection: collection, ID: uuid.NewString()}
}

// Path is the full slash-separated path of the document
func (r DocumentRef) Path() string {
	return r.Collection + "/" + r.ID
}

// Document is a stored JSON document
type Document struct {
	Ref       DocumentRef
	Data      json.RawMessage
	UpdatedAt time.Time
}

// Decode unmarshals the document body into v. Types with a SetID method get
// the document id assigned, since the id is part of the address and not
// the body.
func (d Document) Decode(v any) error {
	if err := json.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", d.Ref.Path(), err)
	}
	if withID, ok := v.(interface{ SetID(string) }); ok {
		withID.SetID(d.Ref.ID)
	}
	return nil
}

// DecodeAll decodes every document of a snapshot or listing into a slice
func DecodeAll[T any, PT interface {
	*T
	SetID(string)
}](docs []Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		var v T
		if err := doc.Decode(PT(&v)); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Op is a query comparison operator
type Op string

const (
	OpEqual         Op = "=="
	OpArrayContains Op = "array-contains"
)

// Where is a single field filter for Query
type Where struct {
	Field string
	Op    Op
	Value any
}

// arrayTransform is the value behind ArrayUnion and ArrayRemove
type arrayTransform struct {
	remove bool
	values []string
}

// ArrayUnion adds values to a string-set field, skipping ones already present
func ArrayUnion(values ...string) any {
	return arrayTransform{values: values}
}

// ArrayRemove removes every occurrence of values from a string-set field
func ArrayRemove(values ...string) any {
	return arrayTransform{remove: true, values: values}
}

func (t arrayTransform) apply(current []string) []string {
	out := make([]string, 0, len(current)+len(t.values))
	if t.remove {
		for _, v := range current {
			if !slices.Contains(t.values, v) {
				out = append(out, v)
			}
		}
		return out
	}
	out = append(out, current...)
	for _, v := range t.values {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

type writeKind int

const (
	writeSet writeKind = iota
	writeUpdate
	writeDelete
)

type write struct {
	kind   writeKind
	ref    DocumentRef
	value  any
	fields map[string]any
}

// Store is a document store over SQLite. Writes are applied in transactions
// and fanned out to live subscriptions in commit order.
type Store struct {
	db *sql.DB

	// mu serializes commits together with the snapshot fan-out that follows
	mu sync.Mutex

	subMu sync.Mutex
	subs  map[*Subscription]struct{}
}

// NewStore wraps an initialized database
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:   db,
		subs: make(map[*Subscription]struct{}),
	}
}

// Get retrieves a single document
func (s *Store) Get(ctx context.Context, ref DocumentRef) (Document, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT data, updated_at FROM documents WHERE collection = ? AND id = ?",
		ref.Collection, ref.ID)

	doc := Document{Ref: ref}
	var data string
	err := row.Scan(&data, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("%s: %w", ref.Path(), ErrNotFound)
	}
	if err != nil {
		return Document{}, fmt.Errorf("failed to query document %s: %w", ref.Path(), err)
	}
	doc.Data = json.RawMessage(data)
	return doc, nil
}

// List returns every document of a collection ordered by id
func (s *Store) List(ctx context.Context, collection string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, data, updated_at FROM documents WHERE collection = ? ORDER BY id",
		collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	return scanDocuments(rows, collection)
}

// Query returns the documents of a collection matching a field filter
func (s *Store) Query(ctx context.Context, collection string, where Where) ([]Document, error) {
	if !fieldPattern.MatchString(where.Field) {
		return nil, fmt.Errorf("invalid query field %q", where.Field)
	}
	path := "$." + where.Field

	var clause string
	switch where.Op {
	case OpEqual:
		clause = "json_extract(data, ?) = ?"
	case OpArrayContains:
		clause = "EXISTS (SELECT 1 FROM json_each(documents.data, ?) WHERE json_each.value = ?)"
	default:
		return nil, fmt.Errorf("unsupported query operator %q", where.Op)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, data, updated_at FROM documents WHERE collection = ? AND "+clause+" ORDER BY id",
		collection, path, where.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	return scanDocuments(rows, collection)
}

func scanDocuments(rows *sql.Rows, collection string) ([]Document, error) {
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc := Document{Ref: DocumentRef{Collection: collection}}
		var data string
		if err := rows.Scan(&doc.Ref.ID, &data, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc.Data = json.RawMessage(data)
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", collection, err)
	}
	return docs, nil
}

// Set creates or fully overwrites a document
func (s *Store) Set(ctx context.Context, ref DocumentRef, value any) error {
	return s.commit(ctx, []write{{kind: writeSet, ref: ref, value: value}})
}

// Add stores value under a generated id in collection
func (s *Store) Add(ctx context.Context, collection string, value any) (DocumentRef, error) {
	ref := NewRef(collection)
	if err := s.Set(ctx, ref, value); err != nil {
		return DocumentRef{}, err
	}
	return ref, nil
}

// Update merges top-level fields into an existing document
func (s *Store) Update(ctx context.Context, ref DocumentRef, fields map[string]any) error {
	return s.commit(ctx, []write{{kind: writeUpdate, ref: ref, fields: fields}})
}

// Delete removes a document. Deleting a missing document is not an error.
func (s *Store) Delete(ctx context.Context, ref DocumentRef) error {
	return s.commit(ctx, []write{{kind: writeDelete, ref: ref}})
}

// Batch starts an atomic multi-document write
func (s *Store) Batch() *WriteBatch {
	return &WriteBatch{store: s}
}

func (s *Store) commit(ctx context.Context, writes []write) error {
	if len(writes) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, w := range writes {
		if err := applyWrite(ctx, tx, w, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.publish(writes)
	return nil
}

func applyWrite(ctx context.Context, tx *sql.Tx, w write, now time.Time) error {
	switch w.kind {
	case writeSet:
		data, err := json.Marshal(w.value)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", w.ref.Path(), err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (collection, id, data, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(collection, id) DO UPDATE SET
				data = excluded.data,
				updated_at = excluded.updated_at
		`, w.ref.Collection, w.ref.ID, string(data), now)
		if err != nil {
			return fmt.Errorf("failed to set %s: %w", w.ref.Path(), err)
		}

	case writeUpdate:
		var data string
		err := tx.QueryRowContext(ctx,
			"SELECT data FROM documents WHERE collection = ? AND id = ?",
			w.ref.Collection, w.ref.ID).Scan(&data)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to update %s: %w", w.ref.Path(), ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", w.ref.Path(), err)
		}

		merged, err := mergeFields(data, w.fields)
		if err != nil {
			return fmt.Errorf("failed to update %s: %w", w.ref.Path(), err)
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE documents SET data = ?, updated_at = ? WHERE collection = ? AND id = ?",
			merged, now, w.ref.Collection, w.ref.ID)
		if err != nil {
			return fmt.Errorf("failed to update %s: %w", w.ref.Path(), err)
		}

	case writeDelete:
		_, err := tx.ExecContext(ctx,
			"DELETE FROM documents WHERE collection = ? AND id = ?",
			w.ref.Collection, w.ref.ID)
		if err != nil {
			return fmt.Errorf("failed to delete %s: %w", w.ref.Path(), err)
		}
	}
	return nil
}

func mergeFields(data string, fields map[string]any) (string, error) {
	doc := make(map[string]json.RawMessage)
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return "", err
	}

	for key, value := range fields {
		if !fieldPattern.MatchString(key) {
			return "", fmt.Errorf("invalid field %q", key)
		}

		if transform, ok := value.(arrayTransform); ok {
			var current []string
			if raw, exists := doc[key]; exists && !strings.EqualFold(string(raw), "null") {
				if err := json.Unmarshal(raw, &current); err != nil {
					return "", fmt.Errorf("field %q is not a string array: %w", key, err)
				}
			}
			value = transform.apply(current)
		}

		raw, err := json.Marshal(value)
		if err != nil {
			return "", fmt.Errorf("failed to marshal field %q: %w", key, err)
		}
		doc[key] = raw
	}

	merged, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(merged), nil
}

// WriteBatch collects writes that are committed atomically
type WriteBatch struct {
	store  *Store
	writes []write
}

// Set queues a full overwrite of ref
func (b *WriteBatch) Set(ref DocumentRef, value any) *WriteBatch {
	b.writes = append(b.writes, write{kind: writeSet, ref: ref, value: value})
	return b
}

// Update queues a field merge into ref. The whole batch fails if ref does
// not exist when the batch is committed.
func (b *WriteBatch) Update(ref DocumentRef, fields map[string]any) *WriteBatch {
	b.writes = append(b.writes, write{kind: writeUpdate, ref: ref, fields: fields})
	return b
}

// Delete queues the removal of ref
func (b *WriteBatch) Delete(ref DocumentRef) *WriteBatch {
	b.writes = append(b.writes, write{kind: writeDelete, ref: ref})
	return b
}

// Len reports the number of queued writes
func (b *WriteBatch) Len() int {
	return len(b.writes)
}

// Commit applies every queued write in a single transaction
func (b *WriteBatch) Commit(ctx context.Context) error {
	return b.store.commit(ctx, b.writes)
}
