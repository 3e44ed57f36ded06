package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"donation-logistics-service/internal/adapters/repositories"
	"donation-logistics-service/internal/domain"
	"donation-logistics-service/internal/platform/obs"
	"donation-logistics-service/internal/ports"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store is a Postgres-backed document store. Aggregates live in the
// documents table as JSONB with a version column; updates are
// conditional on that version.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var _ ports.Store = (*Store)(nil)

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx ports.Tx) error) (err error) {
	defer obs.Time(ctx, "store.WithinTx")(&err)

	if s.pool == nil {
		return errors.New("postgres store: pool is nil")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if cerr := tx.Commit(ctx); cerr != nil {
			err = fmt.Errorf("postgres store: commit tx: %w", cerr)
		}
	}()

	return fn(ctx, repositories.Bind(&documents{tx: tx}))
}

type documents struct {
	tx pgx.Tx
}

func (d *documents) Get(ctx context.Context, kind, id string) (repositories.Document, error) {
	q, args, err := psql.
		Select("version", "attrs", "body").
		From("documents").
		Where(sq.Eq{"kind": kind, "id": id}).
		ToSql()
	if err != nil {
		return repositories.Document{}, fmt.Errorf("get document: build query: %w", err)
	}

	doc := repositories.Document{ID: id}
	var attrs []byte
	err = d.tx.QueryRow(ctx, q, args...).Scan(&doc.Version, &attrs, &doc.Body)
	if errors.Is(err, pgx.ErrNoRows) {
		return repositories.Document{}, domain.ErrNotFound
	}
	if err != nil {
		return repositories.Document{}, fmt.Errorf("get document: scan row: %w", err)
	}
	if err := json.Unmarshal(attrs, &doc.Attrs); err != nil {
		return repositories.Document{}, fmt.Errorf("get document: decode attrs: %w", err)
	}
	return doc, nil
}

func (d *documents) Insert(ctx context.Context, kind string, doc repositories.Document) error {
	attrs, err := encodeAttrs(doc.Attrs)
	if err != nil {
		return err
	}

	q, args, err := psql.
		Insert("documents").
		Columns("kind", "id", "version", "attrs", "body").
		Values(kind, doc.ID, doc.Version, attrs, doc.Body).
		Suffix("ON CONFLICT (kind, id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("insert document: build query: %w", err)
	}

	tag, err := d.tx.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("insert document: exec: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (d *documents) Update(ctx context.Context, kind string, doc repositories.Document, expectedVersion int64) error {
	attrs, err := encodeAttrs(doc.Attrs)
	if err != nil {
		return err
	}

	q, args, err := psql.
		Update("documents").
		Set("version", doc.Version).
		Set("attrs", attrs).
		Set("body", doc.Body).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"kind": kind, "id": doc.ID, "version": expectedVersion}).
		ToSql()
	if err != nil {
		return fmt.Errorf("update document: build query: %w", err)
	}

	tag, err := d.tx.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update document: exec: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (d *documents) Find(ctx context.Context, kind string, filter map[string]string) ([]repositories.Document, error) {
	builder := psql.
		Select("id", "version", "attrs", "body").
		From("documents").
		Where(sq.Eq{"kind": kind}).
		OrderBy("id")

	if len(filter) > 0 {
		f, err := encodeAttrs(filter)
		if err != nil {
			return nil, err
		}
		builder = builder.Where(sq.Expr("attrs @> ?::jsonb", string(f)))
	}

	q, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("find documents: build query: %w", err)
	}

	rows, err := d.tx.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("find documents: query documents table: %w", err)
	}
	defer rows.Close()

	out := make([]repositories.Document, 0, 16)
	for rows.Next() {
		var doc repositories.Document
		var attrs []byte
		if err := rows.Scan(&doc.ID, &doc.Version, &attrs, &doc.Body); err != nil {
			return nil, fmt.Errorf("find documents: scan rows: %w", err)
		}
		if err := json.Unmarshal(attrs, &doc.Attrs); err != nil {
			return nil, fmt.Errorf("find documents: decode attrs: %w", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find documents: row iteration: %w", err)
	}

	return out, nil
}

func encodeAttrs(attrs map[string]string) ([]byte, error) {
	if attrs == nil {
		attrs = map[string]string{}
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("encode attrs: %w", err)
	}
	return b, nil
}
