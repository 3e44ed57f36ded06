// Package memory is an in-process document store with optimistic
// concurrency. Each unit of work reads committed snapshots, buffers its
// writes, and applies them only if every touched document still has the
// version the unit based its write on.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"donation-logistics-service/internal/adapters/repositories"
	"donation-logistics-service/internal/domain"
	"donation-logistics-service/internal/ports"
)

type key struct{ kind, id string }

type Store struct {
	mu   sync.Mutex
	docs map[key]repositories.Document
}

func NewStore() *Store {
	return &Store{docs: make(map[key]repositories.Document)}
}

var _ ports.Store = (*Store)(nil)

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx ports.Tx) error) error {
	t := &unit{store: s, writes: make(map[key]pending)}
	if err := fn(ctx, repositories.Bind(t)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(t)
}

func (s *Store) commit(t *unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, p := range t.writes {
		current, exists := s.docs[k]
		if p.insert {
			if exists {
				return fmt.Errorf("commit %s %q: already exists: %w", k.kind, k.id, domain.ErrConflict)
			}
			continue
		}
		if !exists || current.Version != p.base {
			return fmt.Errorf("commit %s %q: stale version %d: %w", k.kind, k.id, p.base, domain.ErrConflict)
		}
	}

	for k, p := range t.writes {
		s.docs[k] = p.doc
	}
	return nil
}

func (s *Store) read(k key) (repositories.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[k]
	return doc, ok
}

func (s *Store) scan(kind string) []repositories.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]repositories.Document, 0)
	for k, doc := range s.docs {
		if k.kind == kind {
			out = append(out, doc)
		}
	}
	return out
}

type pending struct {
	doc    repositories.Document
	base   int64
	insert bool
}

// unit is one transaction's view: committed state overlaid with its own writes.
type unit struct {
	store  *Store
	writes map[key]pending
}

func (u *unit) Get(ctx context.Context, kind, id string) (repositories.Document, error) {
	k := key{kind, id}
	if p, ok := u.writes[k]; ok {
		return clone(p.doc), nil
	}
	doc, ok := u.store.read(k)
	if !ok {
		return repositories.Document{}, domain.ErrNotFound
	}
	return clone(doc), nil
}

func (u *unit) Insert(ctx context.Context, kind string, doc repositories.Document) error {
	k := key{kind, doc.ID}
	if _, ok := u.writes[k]; ok {
		return domain.ErrConflict
	}
	if _, ok := u.store.read(k); ok {
		return domain.ErrConflict
	}
	u.writes[k] = pending{doc: clone(doc), insert: true}
	return nil
}

func (u *unit) Update(ctx context.Context, kind string, doc repositories.Document, expectedVersion int64) error {
	k := key{kind, doc.ID}
	if p, ok := u.writes[k]; ok {
		if p.doc.Version != expectedVersion {
			return domain.ErrConflict
		}
		p.doc = clone(doc)
		u.writes[k] = p
		return nil
	}

	current, ok := u.store.read(k)
	if !ok {
		return domain.ErrNotFound
	}
	if current.Version != expectedVersion {
		return domain.ErrConflict
	}
	u.writes[k] = pending{doc: clone(doc), base: expectedVersion}
	return nil
}

func (u *unit) Find(ctx context.Context, kind string, filter map[string]string) ([]repositories.Document, error) {
	byID := make(map[string]repositories.Document)
	for _, doc := range u.store.scan(kind) {
		byID[doc.ID] = doc
	}
	for k, p := range u.writes {
		if k.kind == kind {
			byID[k.id] = p.doc
		}
	}

	ids := slices.Sorted(maps.Keys(byID))
	out := make([]repositories.Document, 0, len(ids))
	for _, id := range ids {
		doc := byID[id]
		if matches(doc.Attrs, filter) {
			out = append(out, clone(doc))
		}
	}
	return out, nil
}

func matches(attrs, filter map[string]string) bool {
	for k, v := range filter {
		if attrs[k] != v {
			return false
		}
	}
	return true
}

func clone(doc repositories.Document) repositories.Document {
	doc.Attrs = maps.Clone(doc.Attrs)
	doc.Body = slices.Clone(doc.Body)
	return doc
}
