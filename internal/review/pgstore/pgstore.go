// Package pgstore provides a PostgreSQL implementation of review.Store.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lynN18he/reviewops/internal/review"
)

var tracer = otel.Tracer("github.com/lynN18he/reviewops/internal/review/pgstore")

//go:embed schema.sql
var schema string

// Store persists review entries in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema (including the legacy column backfill) on pool and
// returns a ready Store. The caller owns the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const entryColumns = `record_id, COALESCE(content, ''), COALESCE(rating, 0), source, user_name,
	COALESCE("timestamp", created_at), created_at, risk_level, attribution_json, action_json`

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Exists reports whether id has been inserted.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Exists", "SELECT")
	defer span.End()

	var ok bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM reviews WHERE record_id = $1)`, id).Scan(&ok)
	if err != nil {
		return false, fail(span, fmt.Errorf("exists: %w", err))
	}
	return ok, nil
}

// Insert writes rec unless its ID already exists. Concurrent inserts of the
// same ID resolve in the database; exactly one reports true.
func (s *Store) Insert(ctx context.Context, rec *review.Record) (bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Insert", "INSERT")
	defer span.End()

	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO reviews (record_id, content, rating, source, user_name, "timestamp")
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (record_id) DO NOTHING`,
		rec.ID, rec.Text, rec.Rating, rec.Source, rec.User, created,
	)
	if err != nil {
		return false, fail(span, fmt.Errorf("insert review: %w", err))
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateAnalysis overwrites the non-empty fields of a in one statement.
func (s *Store) UpdateAnalysis(ctx context.Context, id string, a review.Analysis) (bool, error) {
	if a.Empty() {
		return false, nil
	}
	ctx, span := startSpan(ctx, "pgstore.UpdateAnalysis", "UPDATE")
	defer span.End()

	attr, err := review.EncodeJSON(a.Attribution)
	if err != nil {
		return false, fail(span, fmt.Errorf("marshal attribution: %w", err))
	}
	action, err := review.EncodeJSON(a.Action)
	if err != nil {
		return false, fail(span, fmt.Errorf("marshal action: %w", err))
	}
	var risk *string
	if a.RiskLevel != "" {
		r := string(a.RiskLevel)
		risk = &r
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE reviews SET
			attribution_json = COALESCE($2, attribution_json),
			action_json      = COALESCE($3, action_json),
			risk_level       = COALESCE($4, risk_level)
		 WHERE record_id = $1`,
		id, attr, action, risk,
	)
	if err != nil {
		return false, fail(span, fmt.Errorf("update analysis: %w", err))
	}
	return tag.RowsAffected() == 1, nil
}

// Get retrieves one entry by ID.
func (s *Store) Get(ctx context.Context, id string) (*review.Entry, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT")
	defer span.End()

	e, err := scanEntry(s.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM reviews WHERE record_id = $1`, id))
	if err != nil {
		return nil, false, fail(span, err)
	}
	if e == nil {
		return nil, false, nil
	}
	return e, true, nil
}

// AllRecords returns every entry, newest first.
func (s *Store) AllRecords(ctx context.Context) ([]review.Entry, error) {
	return s.History(ctx, 0)
}

// History returns up to limit entries, newest first. limit <= 0 means all.
func (s *Store) History(ctx context.Context, limit int) ([]review.Entry, error) {
	ctx, span := startSpan(ctx, "pgstore.History", "SELECT")
	defer span.End()

	query := `SELECT ` + entryColumns + ` FROM reviews ORDER BY seq DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query history: %w", err))
	}
	defer rows.Close()

	var out []review.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fail(span, err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("rows: %w", err))
	}
	return out, nil
}

func scanEntry(row pgx.Row) (*review.Entry, error) {
	var (
		e           review.Entry
		risk        *string
		attribution *string
		action      *string
	)
	err := row.Scan(
		&e.ID, &e.Text, &e.Rating, &e.Source, &e.User, &e.CreatedAt,
		&e.InsertedAt, &risk, &attribution, &action,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan: %w", err)
	}
	if risk != nil {
		if lvl, ok := review.ParseRiskLevel(*risk); ok {
			e.RiskLevel = lvl
		}
	}
	e.Attribution = review.DecodeAttribution(attribution)
	e.Action = review.DecodeAction(action)
	return &e, nil
}
