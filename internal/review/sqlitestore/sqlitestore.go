// Package sqlitestore provides a single-file SQLite implementation of
// review.Store for local runs and the reviewctl CLI.
//
// The store opens databases written by earlier releases in place. Those
// files key rows on a text review_id next to an integer rowid alias and keep
// analysis results in rag_result and action_plan; Open detects that layout
// and reads and writes it without copying or dropping anything.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lynN18he/reviewops/internal/review"
)

const createTable = `CREATE TABLE IF NOT EXISTS reviews (
    record_id        TEXT PRIMARY KEY,
    content          TEXT NOT NULL DEFAULT '',
    source           TEXT NOT NULL DEFAULT '',
    rating           INTEGER,
    timestamp        TEXT,
    risk_level       TEXT,
    attribution_json TEXT,
    action_json      TEXT,
    created_at       TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    user_name        TEXT NOT NULL DEFAULT ''
)`

// sqliteTime matches CURRENT_TIMESTAMP so rows written here sort with rows
// the column default filled in.
const sqliteTime = "2006-01-02 15:04:05"

// Candidate names per role, preferred first.
var (
	keyColumns         = []string{"record_id", "review_id", "id"}
	attributionColumns = []string{"attribution_json", "rag_result"}
	actionColumns      = []string{"action_json", "action_plan"}
)

// columns every layout needs, added in place when missing. ALTER TABLE
// cannot add a CURRENT_TIMESTAMP default, so created_at is always written
// explicitly.
var addedColumns = []struct{ name, ddl string }{
	{"content", "content TEXT NOT NULL DEFAULT ''"},
	{"source", "source TEXT NOT NULL DEFAULT ''"},
	{"rating", "rating INTEGER"},
	{"timestamp", "timestamp TEXT"},
	{"risk_level", "risk_level TEXT"},
	{"created_at", "created_at TEXT"},
	{"user_name", "user_name TEXT NOT NULL DEFAULT ''"},
}

// layout names the physical columns that hold each logical field.
type layout struct {
	key         string
	attribution string
	action      string
	// reviewText is set when the table still carries review_text, which
	// older readers expect to be filled alongside content.
	reviewText bool
}

// Store persists review entries in SQLite.
type Store struct {
	db     *sql.DB
	path   string
	layout layout
}

// Open creates or upgrades the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer keeps insert-if-absent atomic without busy retries.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

type column struct {
	typ string
	pk  bool
}

func (s *Store) migrate(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	existing, err := tableColumns(ctx, tx)
	if err != nil {
		return err
	}
	l, err := resolveLayout(existing)
	if err != nil {
		return err
	}

	for _, c := range addedColumns {
		if _, ok := existing[c.name]; ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, "ALTER TABLE reviews ADD COLUMN "+c.ddl); err != nil {
			return fmt.Errorf("add column %s: %w", c.name, err)
		}
	}
	for _, c := range []string{l.attribution, l.action} {
		if _, ok := existing[c]; ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, "ALTER TABLE reviews ADD COLUMN "+c+" TEXT"); err != nil {
			return fmt.Errorf("add column %s: %w", c, err)
		}
	}
	if l.reviewText {
		if _, err := tx.ExecContext(ctx, `UPDATE reviews SET content = review_text
			WHERE (content IS NULL OR content = '') AND review_text IS NOT NULL`); err != nil {
			return fmt.Errorf("backfill content from review_text: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	s.layout = l
	return nil
}

// resolveLayout picks the key and analysis columns of an existing table.
// An integer primary key is a rowid alias, never a record key.
func resolveLayout(existing map[string]column) (layout, error) {
	var l layout
	for _, name := range keyColumns {
		c, ok := existing[name]
		if !ok || (c.pk && strings.EqualFold(c.typ, "INTEGER")) {
			continue
		}
		l.key = name
		break
	}
	if l.key == "" {
		return layout{}, errors.New("reviews table has no text record key column")
	}
	l.attribution = pick(existing, attributionColumns)
	l.action = pick(existing, actionColumns)
	_, l.reviewText = existing["review_text"]
	return l, nil
}

// pick returns the first candidate present in existing, or the first
// candidate when none is.
func pick(existing map[string]column, candidates []string) string {
	for _, name := range candidates {
		if _, ok := existing[name]; ok {
			return name
		}
	}
	return candidates[0]
}

func tableColumns(ctx context.Context, tx *sql.Tx) (map[string]column, error) {
	rows, err := tx.QueryContext(ctx, "SELECT name, type, pk FROM pragma_table_info('reviews')")
	if err != nil {
		return nil, fmt.Errorf("table info: %w", err)
	}
	defer rows.Close()
	out := make(map[string]column)
	for rows.Next() {
		var (
			name, typ string
			pk        int
		)
		if err := rows.Scan(&name, &typ, &pk); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		out[name] = column{typ: typ, pk: pk > 0}
	}
	return out, rows.Err()
}

func (s *Store) entryColumns() string {
	return fmt.Sprintf(`%s, COALESCE(content, ''), COALESCE(rating, 0), COALESCE(source, ''),
	COALESCE(user_name, ''), COALESCE(timestamp, ''), COALESCE(created_at, ''),
	risk_level, %s, %s`, s.layout.key, s.layout.attribution, s.layout.action)
}

// Exists reports whether id has been inserted.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	q := `SELECT COUNT(1) FROM reviews WHERE ` + s.layout.key + ` = ?`
	if err := s.db.QueryRowContext(ctx, q, id).Scan(&n); err != nil {
		return false, fmt.Errorf("exists: %w", err)
	}
	return n > 0, nil
}

// Insert writes rec unless its ID already exists.
func (s *Store) Insert(ctx context.Context, rec *review.Record) (bool, error) {
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	cols := []string{s.layout.key, "content", "source", "rating", "timestamp", "user_name", "created_at"}
	args := []any{
		rec.ID, rec.Text, rec.Source, rec.Rating, created.UTC().Format(time.RFC3339Nano),
		rec.User, time.Now().UTC().Format(sqliteTime),
	}
	if s.layout.reviewText {
		cols = append(cols, "review_text")
		args = append(args, rec.Text)
	}
	q := fmt.Sprintf(`INSERT OR IGNORE INTO reviews (%s) VALUES (?%s)`,
		strings.Join(cols, ", "), strings.Repeat(", ?", len(cols)-1))
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("insert review: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// UpdateAnalysis overwrites the non-empty fields of a.
func (s *Store) UpdateAnalysis(ctx context.Context, id string, a review.Analysis) (bool, error) {
	if a.Empty() {
		return false, nil
	}
	attr, err := review.EncodeJSON(a.Attribution)
	if err != nil {
		return false, fmt.Errorf("marshal attribution: %w", err)
	}
	action, err := review.EncodeJSON(a.Action)
	if err != nil {
		return false, fmt.Errorf("marshal action: %w", err)
	}
	q := fmt.Sprintf(`UPDATE reviews SET
			%[1]s = COALESCE(?, %[1]s),
			%[2]s = COALESCE(?, %[2]s),
			risk_level = COALESCE(?, risk_level)
		 WHERE %[3]s = ?`, s.layout.attribution, s.layout.action, s.layout.key)
	res, err := s.db.ExecContext(ctx, q,
		nullable(attr), nullable(action), nullableString(string(a.RiskLevel)), id,
	)
	if err != nil {
		return false, fmt.Errorf("update analysis: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// Get retrieves one entry by ID.
func (s *Store) Get(ctx context.Context, id string) (*review.Entry, bool, error) {
	q := `SELECT ` + s.entryColumns() + ` FROM reviews WHERE ` + s.layout.key + ` = ?`
	e, err := scanEntry(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get review: %w", err)
	}
	return e, true, nil
}

// AllRecords returns every entry, newest first.
func (s *Store) AllRecords(ctx context.Context) ([]review.Entry, error) {
	return s.History(ctx, 0)
}

// History returns up to limit entries, newest first. limit <= 0 means all.
func (s *Store) History(ctx context.Context, limit int) ([]review.Entry, error) {
	query := `SELECT ` + s.entryColumns() + ` FROM reviews ORDER BY rowid DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []review.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*review.Entry, error) {
	var (
		e           review.Entry
		created     string
		inserted    string
		risk        sql.NullString
		attribution sql.NullString
		action      sql.NullString
	)
	if err := row.Scan(
		&e.ID, &e.Text, &e.Rating, &e.Source, &e.User, &created,
		&inserted, &risk, &attribution, &action,
	); err != nil {
		return nil, err
	}
	e.CreatedAt = parseTime(created)
	e.InsertedAt = parseTime(inserted)
	if lvl, ok := review.ParseRiskLevel(risk.String); ok {
		e.RiskLevel = lvl
	}
	e.Attribution = review.DecodeAttribution(nullToPtr(attribution))
	e.Action = review.DecodeAction(nullToPtr(action))
	return &e, nil
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, sqliteTime, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullToPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
