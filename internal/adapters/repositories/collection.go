package repositories

import (
	"context"
	"encoding/json"
	"fmt"
)

// collection maps one aggregate type onto Documents.
type collection[T any] struct {
	docs    Documents
	kind    string
	id      func(*T) string
	version func(*T) *int64
	attrs   func(*T) map[string]string
}

func (c collection[T]) get(ctx context.Context, id string) (*T, error) {
	doc, err := c.docs.Get(ctx, c.kind, id)
	if err != nil {
		return nil, fmt.Errorf("get %s %q: %w", c.kind, id, err)
	}
	return c.decode(doc)
}

func (c collection[T]) insert(ctx context.Context, v *T) error {
	doc, err := c.encode(v)
	if err != nil {
		return err
	}
	doc.Version = 1
	if err := c.docs.Insert(ctx, c.kind, doc); err != nil {
		return fmt.Errorf("insert %s %q: %w", c.kind, doc.ID, err)
	}
	*c.version(v) = 1
	return nil
}

func (c collection[T]) update(ctx context.Context, v *T) error {
	doc, err := c.encode(v)
	if err != nil {
		return err
	}
	expected := *c.version(v)
	doc.Version = expected + 1
	if err := c.docs.Update(ctx, c.kind, doc, expected); err != nil {
		return fmt.Errorf("update %s %q: %w", c.kind, doc.ID, err)
	}
	*c.version(v) = doc.Version
	return nil
}

// save inserts v, or updates it when it already carries a version.
func (c collection[T]) save(ctx context.Context, v *T) error {
	if *c.version(v) == 0 {
		return c.insert(ctx, v)
	}
	return c.update(ctx, v)
}

func (c collection[T]) find(ctx context.Context, filter map[string]string) ([]*T, error) {
	docs, err := c.docs.Find(ctx, c.kind, filter)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", c.kind, err)
	}

	out := make([]*T, 0, len(docs))
	for _, doc := range docs {
		v, err := c.decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (c collection[T]) encode(v *T) (Document, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Document{}, fmt.Errorf("encode %s: %w", c.kind, err)
	}

	var attrs map[string]string
	if c.attrs != nil {
		attrs = c.attrs(v)
	}

	return Document{ID: c.id(v), Version: *c.version(v), Attrs: attrs, Body: body}, nil
}

func (c collection[T]) decode(doc Document) (*T, error) {
	v := new(T)
	if err := json.Unmarshal(doc.Body, v); err != nil {
		return nil, fmt.Errorf("decode %s %q: %w", c.kind, doc.ID, err)
	}
	*c.version(v) = doc.Version
	return v, nil
}
