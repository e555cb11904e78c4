package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"FeedCurator/internal/domain"
	"FeedCurator/internal/ports"
)

//go:embed schema.sql
var schemaSQL string

// timeLayout pads fractional seconds to a fixed width so the TEXT
// comparisons in ORDER BY and range predicates follow time order.
// RFC3339Nano would trim trailing zeros and misorder sub-second values.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var itemColumns = []string{
	"fingerprint", "channel_id", "message_id", "permalink", "raw_text", "media",
	"discovered_at", "score", "styled_text", "state", "reject_reason",
	"scheduled_at", "destination_ref", "published_at", "score_attempts", "publish_attempts",
}

// SQLiteStore persists items and the transition audit log in a sqlite file.
type SQLiteStore struct {
	db *sql.DB
}

var _ ports.ItemStore = (*SQLiteStore)(nil)

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// OpenInMemory returns a store backed by a private in-memory database.
// The pool is pinned to one connection so every statement sees the schema.
func OpenInMemory() (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Create inserts a brand-new item. A fingerprint collision maps to
// domain.ErrDuplicate so ingestion stays idempotent.
func (s *SQLiteStore) Create(ctx context.Context, item domain.Item) error {
	media, err := json.Marshal(item.Media)
	if err != nil {
		return fmt.Errorf("marshal media: %w", err)
	}

	query, args, err := sq.Insert("items").
		Columns(itemColumns...).
		Values(
			item.Fingerprint,
			item.Source.ChannelID,
			item.Source.MessageID,
			item.Source.Permalink,
			item.RawText,
			string(media),
			item.DiscoveredAt.UTC().Format(timeLayout),
			nullableInt(item.Score),
			nullableString(item.StyledText),
			string(item.State),
			nullableString(string(item.RejectReason)),
			nullableTime(item.ScheduledAt),
			nullableString(item.DestinationRef),
			nullableTime(item.PublishedAt),
			item.ScoreAttempts,
			item.PublishAttempts,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("insert item: %w", err)
	}

	return nil
}

// Get loads one item by fingerprint.
func (s *SQLiteStore) Get(ctx context.Context, fingerprint string) (domain.Item, error) {
	query, args, err := sq.Select(itemColumns...).
		From("items").
		Where(sq.Eq{"fingerprint": fingerprint}).
		ToSql()
	if err != nil {
		return domain.Item{}, fmt.Errorf("build select: %w", err)
	}

	item, err := scanItem(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Item{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Item{}, fmt.Errorf("get item: %w", err)
	}

	return item, nil
}

// Update overwrites the mutable attributes of an existing item.
func (s *SQLiteStore) Update(ctx context.Context, item domain.Item) error {
	media, err := json.Marshal(item.Media)
	if err != nil {
		return fmt.Errorf("marshal media: %w", err)
	}

	query, args, err := sq.Update("items").
		Set("raw_text", item.RawText).
		Set("media", string(media)).
		Set("score", nullableInt(item.Score)).
		Set("styled_text", nullableString(item.StyledText)).
		Set("state", string(item.State)).
		Set("reject_reason", nullableString(string(item.RejectReason))).
		Set("scheduled_at", nullableTime(item.ScheduledAt)).
		Set("destination_ref", nullableString(item.DestinationRef)).
		Set("published_at", nullableTime(item.PublishedAt)).
		Set("score_attempts", item.ScoreAttempts).
		Set("publish_attempts", item.PublishAttempts).
		Where(sq.Eq{"fingerprint": item.Fingerprint}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrNotFound
	}

	return nil
}

// Exists checks whether a fingerprint was ever ingested.
func (s *SQLiteStore) Exists(ctx context.Context, fingerprint string) (bool, error) {
	query, args, err := sq.Select("1").
		From("items").
		Where(sq.Eq{"fingerprint": fingerprint}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build select: %w", err)
	}

	var one int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check fingerprint: %w", err)
	}

	return true, nil
}

// ByState lists items currently in the given state, oldest first.
func (s *SQLiteStore) ByState(ctx context.Context, state domain.State) ([]domain.Item, error) {
	query, args, err := sq.Select(itemColumns...).
		From("items").
		Where(sq.Eq{"state": string(state)}).
		OrderBy("discovered_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	return s.queryItems(ctx, query, args...)
}

// PublishedSince lists items published at or after the given instant.
func (s *SQLiteStore) PublishedSince(ctx context.Context, since time.Time) ([]domain.Item, error) {
	query, args, err := sq.Select(itemColumns...).
		From("items").
		Where(sq.Eq{"state": string(domain.StatePublished)}).
		Where(sq.GtOrEq{"published_at": since.UTC().Format(timeLayout)}).
		OrderBy("published_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	return s.queryItems(ctx, query, args...)
}

// AppendAudit records one transition in the append-only log.
func (s *SQLiteStore) AppendAudit(ctx context.Context, entry domain.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query, args, err := sq.Insert("audit_log").
		Columns("id", "fingerprint", "from_state", "to_state", "actor", "note", "created_at").
		Values(
			entry.ID,
			entry.Fingerprint,
			string(entry.FromState),
			string(entry.ToState),
			entry.Actor,
			entry.Note,
			entry.CreatedAt.UTC().Format(timeLayout),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}

	return nil
}

// AuditFor returns the transition history of one item in append order.
func (s *SQLiteStore) AuditFor(ctx context.Context, fingerprint string) ([]domain.AuditEntry, error) {
	query, args, err := sq.Select("id", "fingerprint", "from_state", "to_state", "actor", "note", "created_at").
		From("audit_log").
		Where(sq.Eq{"fingerprint": fingerprint}).
		OrderBy("created_at ASC", "rowid ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var (
			entry     domain.AuditEntry
			from, to  string
			createdAt string
		)
		if err := rows.Scan(&entry.ID, &entry.Fingerprint, &from, &to, &entry.Actor, &entry.Note, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		entry.FromState = domain.State(from)
		entry.ToState = domain.State(to)
		entry.CreatedAt, err = time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse audit time: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit rows: %w", err)
	}

	return entries, nil
}

func (s *SQLiteStore) queryItems(ctx context.Context, query string, args ...any) ([]domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []domain.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("item rows: %w", err)
	}

	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (domain.Item, error) {
	var (
		item         domain.Item
		media        string
		discoveredAt string
		score        sql.NullInt64
		styledText   sql.NullString
		state        string
		rejectReason sql.NullString
		scheduledAt  sql.NullString
		destRef      sql.NullString
		publishedAt  sql.NullString
	)

	err := row.Scan(
		&item.Fingerprint,
		&item.Source.ChannelID,
		&item.Source.MessageID,
		&item.Source.Permalink,
		&item.RawText,
		&media,
		&discoveredAt,
		&score,
		&styledText,
		&state,
		&rejectReason,
		&scheduledAt,
		&destRef,
		&publishedAt,
		&item.ScoreAttempts,
		&item.PublishAttempts,
	)
	if err != nil {
		return domain.Item{}, err
	}

	if err := json.Unmarshal([]byte(media), &item.Media); err != nil {
		return domain.Item{}, fmt.Errorf("unmarshal media: %w", err)
	}

	item.DiscoveredAt, err = time.Parse(timeLayout, discoveredAt)
	if err != nil {
		return domain.Item{}, fmt.Errorf("parse discovered_at: %w", err)
	}

	item.Score = int(score.Int64)
	item.StyledText = styledText.String
	item.State = domain.State(state)
	item.RejectReason = domain.RejectReason(rejectReason.String)
	item.DestinationRef = destRef.String

	if scheduledAt.Valid {
		t, err := time.Parse(timeLayout, scheduledAt.String)
		if err != nil {
			return domain.Item{}, fmt.Errorf("parse scheduled_at: %w", err)
		}
		item.ScheduledAt = &t
	}
	if publishedAt.Valid {
		t, err := time.Parse(timeLayout, publishedAt.String)
		if err != nil {
			return domain.Item{}, fmt.Errorf("parse published_at: %w", err)
		}
		item.PublishedAt = &t
	}

	return item, nil
}

func nullableInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
