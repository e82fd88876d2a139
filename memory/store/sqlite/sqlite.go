// Package sqlite provides a file-backed memory.Store on SQLite, using the
// pure Go modernc.org/sqlite driver so no cgo is required. It also
// implements the Linker graph surface, so it can back reasoning traversal
// directly.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/strandlabs/mnemo-go-sdk/memory"
)

// SQLiteStore implements memory.Store and memory.Linker on a SQLite file.
//
// The connection pool is capped at one connection, so writers are fully
// serialized and never contend for the database lock. Reinforcement runs
// as a single atomic upsert statement, so concurrent upserts of the same
// content never lose counts.
type SQLiteStore struct {
	db     *sql.DB
	config *memory.Config

	idMu    sync.Mutex
	entropy *rand.Rand
}

var (
	_ memory.Store  = (*SQLiteStore)(nil)
	_ memory.Linker = (*SQLiteStore)(nil)
)

// New opens or creates a SQLite database at the given path. A nil config
// uses memory.DefaultConfig.
func New(dbPath string, config *memory.Config) (*SQLiteStore, error) {
	if config == nil {
		config = memory.DefaultConfig
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection: SQLite allows a single writer anyway, and a capped
	// pool keeps concurrent writers queued in Go instead of failing with
	// SQLITE_BUSY on lock upgrades.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:      db,
		config:  config,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) newID() string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memory_items (
		id                  TEXT PRIMARY KEY,
		scope               TEXT NOT NULL,
		resource_id         TEXT,
		memory_type         TEXT NOT NULL,
		summary             TEXT NOT NULL,
		embedding           TEXT,
		happened_at         TEXT,
		created_at          TEXT NOT NULL,
		confidence          REAL NOT NULL DEFAULT 0,
		entities            TEXT,
		content_hash        TEXT NOT NULL,
		reinforcement_count INTEGER NOT NULL DEFAULT 1,
		last_reinforced_at  TEXT,
		metadata            TEXT
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_items_scope_hash ON memory_items(scope, content_hash);
	CREATE INDEX IF NOT EXISTS idx_items_scope_type ON memory_items(scope, memory_type);

	CREATE TABLE IF NOT EXISTS tool_calls (
		item_id TEXT NOT NULL REFERENCES memory_items(id),
		seq     INTEGER NOT NULL,
		payload TEXT NOT NULL,
		PRIMARY KEY (item_id, seq)
	);

	CREATE TABLE IF NOT EXISTS categories (
		id          TEXT PRIMARY KEY,
		scope       TEXT NOT NULL,
		name        TEXT NOT NULL,
		name_key    TEXT NOT NULL,
		description TEXT,
		summary     TEXT,
		embedding   TEXT,
		created_at  TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_categories_scope_name ON categories(scope, name_key);

	CREATE TABLE IF NOT EXISTS category_items (
		scope       TEXT NOT NULL,
		item_id     TEXT NOT NULL REFERENCES memory_items(id),
		category_id TEXT NOT NULL REFERENCES categories(id),
		created_at  TEXT NOT NULL,
		PRIMARY KEY (scope, item_id, category_id)
	);

	CREATE TABLE IF NOT EXISTS resources (
		id         TEXT PRIMARY KEY,
		scope      TEXT NOT NULL,
		url        TEXT NOT NULL,
		modality   TEXT NOT NULL,
		local_path TEXT,
		caption    TEXT,
		embedding  TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS memory_links (
		scope      TEXT NOT NULL,
		from_id    TEXT NOT NULL REFERENCES memory_items(id),
		to_id      TEXT NOT NULL REFERENCES memory_items(id),
		relation   TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (scope, from_id, to_id, relation)
	);
	CREATE INDEX IF NOT EXISTS idx_links_from ON memory_links(scope, from_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Upsert inserts the item or reinforces the existing item with the same
// content hash in the scope. Insert and reinforce are one atomic
// statement keyed on the (scope, content_hash) unique index, so
// concurrent upserts of identical content serialize cleanly and every
// increment lands.
func (s *SQLiteStore) Upsert(ctx context.Context, scope string, it *memory.Item) (*memory.Item, bool, error) {
	if !it.Type.Valid() {
		return nil, false, fmt.Errorf("upsert: invalid memory type %q", it.Type)
	}

	hash := memory.ContentHashN(it.Summary, it.Type, s.config.HashLength)
	now := time.Now().UTC()

	stored := it.Clone()
	if stored.ID == "" {
		stored.ID = s.newID()
	}
	stored.Scope = scope
	stored.ContentHash = hash
	stored.ReinforcementCount = 1
	stored.LastReinforcedAt = &now
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}

	var id string
	var count int
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO memory_items (id, scope, resource_id, memory_type, summary, embedding,
		    happened_at, created_at, confidence, entities, content_hash,
		    reinforcement_count, last_reinforced_at, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(scope, content_hash) DO UPDATE SET
		    reinforcement_count = memory_items.reinforcement_count + 1,
		    last_reinforced_at = excluded.last_reinforced_at,
		    embedding = COALESCE(memory_items.embedding, excluded.embedding)
		 RETURNING id, reinforcement_count`,
		stored.ID, scope, nullIfEmpty(stored.ResourceID), string(stored.Type), stored.Summary,
		marshalNullable(stored.Embedding), formatNullableTime(stored.HappenedAt),
		stored.CreatedAt.Format(time.RFC3339Nano), stored.Confidence,
		marshalNullable(stored.Entities), hash, stored.ReinforcementCount,
		formatNullableTime(stored.LastReinforcedAt), marshalNullable(stored.Metadata)).
		Scan(&id, &count)
	if err != nil {
		return nil, false, fmt.Errorf("upsert item: %w", err)
	}

	out, err := s.Get(ctx, scope, id)
	if err != nil {
		return nil, false, err
	}
	return out, count == 1, nil
}

// Get retrieves an item by ID, including its tool call history.
func (s *SQLiteStore) Get(ctx context.Context, scope, id string) (*memory.Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, scope, resource_id, memory_type, summary, embedding, happened_at,
		        created_at, confidence, entities, content_hash, reinforcement_count,
		        last_reinforced_at, metadata
		 FROM memory_items WHERE scope = ? AND id = ?`, scope, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if it.Type == memory.TypeTool {
		if err := s.loadToolCalls(ctx, it); err != nil {
			return nil, err
		}
	}
	return it, nil
}

// Filter returns matching items in insertion order. rowid ordering
// preserves insertion order because items are never hard-deleted.
func (s *SQLiteStore) Filter(ctx context.Context, scope string, p memory.FilterParams) ([]*memory.Item, error) {
	now := time.Now().UTC()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, scope, resource_id, memory_type, summary, embedding, happened_at,
		        created_at, confidence, entities, content_hash, reinforcement_count,
		        last_reinforced_at, metadata
		 FROM memory_items WHERE scope = ? ORDER BY rowid ASC`, scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*memory.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var matched []*memory.Item
	for _, it := range out {
		if it.Type == memory.TypeTool {
			if err := s.loadToolCalls(ctx, it); err != nil {
				return nil, err
			}
		}
		if p.Match(it, now) {
			matched = append(matched, it)
		}
	}
	return matched, nil
}

// AppendToolCall appends a call result to a tool item's history.
func (s *SQLiteStore) AppendToolCall(ctx context.Context, scope, id string, tc memory.ToolCallResult) (*memory.Item, error) {
	var memType string
	err := s.db.QueryRowContext(ctx,
		`SELECT memory_type FROM memory_items WHERE scope = ? AND id = ?`, scope, id).Scan(&memType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if memory.Type(memType) != memory.TypeTool {
		return nil, fmt.Errorf("append tool call: item %s has type %q, want %q", id, memType, memory.TypeTool)
	}

	if tc.Hash == "" {
		tc.Hash = tc.ComputeHash()
	}
	payload, err := json.Marshal(tc)
	if err != nil {
		return nil, fmt.Errorf("marshal tool call: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tool_calls (item_id, seq, payload)
		 VALUES (?, (SELECT COALESCE(MAX(seq), -1) + 1 FROM tool_calls WHERE item_id = ?), ?)`,
		id, id, string(payload))
	if err != nil {
		return nil, fmt.Errorf("insert tool call: %w", err)
	}
	return s.Get(ctx, scope, id)
}

func (s *SQLiteStore) loadToolCalls(ctx context.Context, it *memory.Item) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM tool_calls WHERE item_id = ? ORDER BY seq ASC`, it.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return err
		}
		var tc memory.ToolCallResult
		if err := json.Unmarshal([]byte(payload), &tc); err != nil {
			return fmt.Errorf("unmarshal tool call for %s: %w", it.ID, err)
		}
		it.ToolCalls = append(it.ToolCalls, tc)
	}
	return rows.Err()
}

// UpsertCategory inserts a category or returns the existing one with the
// same case-insensitive name in the scope.
func (s *SQLiteStore) UpsertCategory(ctx context.Context, scope string, c *memory.Category) (*memory.Category, bool, error) {
	if strings.TrimSpace(c.Name) == "" {
		return nil, false, fmt.Errorf("upsert category: empty name")
	}
	nameKey := strings.ToLower(c.Name)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT id, scope, name, description, summary, embedding, created_at
		 FROM categories WHERE scope = ? AND name_key = ?`, scope, nameKey)
	existing, err := scanCategory(row)
	switch {
	case err == nil:
		return existing, false, tx.Commit()

	case errors.Is(err, sql.ErrNoRows):
		stored := *c
		if stored.ID == "" {
			stored.ID = s.newID()
		}
		stored.Scope = scope
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = time.Now().UTC()
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO categories (id, scope, name, name_key, description, summary, embedding, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			stored.ID, scope, stored.Name, nameKey, nullIfEmpty(stored.Description),
			nullIfEmpty(stored.Summary), marshalNullable(stored.Embedding),
			stored.CreatedAt.Format(time.RFC3339Nano))
		if err != nil {
			return nil, false, fmt.Errorf("insert category: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, false, err
		}
		cp := stored
		return &cp, true, nil

	default:
		return nil, false, err
	}
}

// Attach links an item to a category; duplicate pairs are a no-op.
func (s *SQLiteStore) Attach(ctx context.Context, scope, itemID, categoryID string) error {
	if err := s.requireItem(ctx, scope, itemID); err != nil {
		return fmt.Errorf("attach item %s: %w", itemID, err)
	}
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM categories WHERE scope = ? AND id = ?`, scope, categoryID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("attach category %s: %w", categoryID, memory.ErrNotFound)
	}
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO category_items (scope, item_id, category_id, created_at)
		 VALUES (?, ?, ?, ?)`,
		scope, itemID, categoryID, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// CategoriesFor lists the categories an item is attached to.
func (s *SQLiteStore) CategoriesFor(ctx context.Context, scope, itemID string) ([]*memory.Category, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.scope, c.name, c.description, c.summary, c.embedding, c.created_at
		 FROM categories c
		 INNER JOIN category_items ci ON ci.category_id = c.id AND ci.scope = c.scope
		 WHERE ci.scope = ? AND ci.item_id = ?`, scope, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*memory.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// PutResource registers an external resource, assigning an ID if unset.
func (s *SQLiteStore) PutResource(ctx context.Context, scope string, r *memory.Resource) error {
	if r.ID == "" {
		r.ID = s.newID()
	}
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO resources (id, scope, url, modality, local_path, caption, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, scope, r.URL, r.Modality, nullIfEmpty(r.LocalPath), nullIfEmpty(r.Caption),
		marshalNullable(r.Embedding), createdAt.Format(time.RFC3339Nano))
	return err
}

// GetResource retrieves a resource by ID.
func (s *SQLiteStore) GetResource(ctx context.Context, scope, id string) (*memory.Resource, error) {
	var r memory.Resource
	var localPath, caption, embedding sql.NullString
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, scope, url, modality, local_path, caption, embedding, created_at
		 FROM resources WHERE scope = ? AND id = ?`, scope, id).
		Scan(&r.ID, &r.Scope, &r.URL, &r.Modality, &localPath, &caption, &embedding, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.LocalPath = localPath.String
	r.Caption = caption.String
	if embedding.Valid {
		json.Unmarshal([]byte(embedding.String), &r.Embedding)
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &r, nil
}

// AddLink records a typed edge between two items.
func (s *SQLiteStore) AddLink(ctx context.Context, scope, fromID, toID, relation string) error {
	if !memory.ValidRelation(relation) {
		return fmt.Errorf("add link: invalid relation %q", relation)
	}
	if err := s.requireItem(ctx, scope, fromID); err != nil {
		return fmt.Errorf("link from %s: %w", fromID, err)
	}
	if err := s.requireItem(ctx, scope, toID); err != nil {
		return fmt.Errorf("link to %s: %w", toID, err)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO memory_links (scope, from_id, to_id, relation, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		scope, fromID, toID, relation, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// Neighbors returns the outgoing edges of an item. The hop argument is
// unused; edges are not pruned by distance.
func (s *SQLiteStore) Neighbors(ctx context.Context, scope, id string, hop int) ([]memory.Edge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT relation, to_id FROM memory_links WHERE scope = ? AND from_id = ? ORDER BY rowid ASC`,
		scope, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []memory.Edge
	for rows.Next() {
		var e memory.Edge
		if err := rows.Scan(&e.Relation, &e.EntityID); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) requireItem(ctx context.Context, scope, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM memory_items WHERE scope = ? AND id = ?`, scope, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return memory.ErrNotFound
	}
	return err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row scanner) (*memory.Item, error) {
	var it memory.Item
	var resourceID, embedding, happenedAt, entities, lastReinforced, metadata sql.NullString
	var memType, createdAt string

	err := row.Scan(
		&it.ID, &it.Scope, &resourceID, &memType, &it.Summary, &embedding,
		&happenedAt, &createdAt, &it.Confidence, &entities, &it.ContentHash,
		&it.ReinforcementCount, &lastReinforced, &metadata,
	)
	if err != nil {
		return nil, err
	}

	it.Type = memory.Type(memType)
	it.ResourceID = resourceID.String
	it.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if embedding.Valid {
		json.Unmarshal([]byte(embedding.String), &it.Embedding)
	}
	if happenedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, happenedAt.String)
		it.HappenedAt = &t
	}
	if entities.Valid {
		json.Unmarshal([]byte(entities.String), &it.Entities)
	}
	if lastReinforced.Valid {
		t, _ := time.Parse(time.RFC3339Nano, lastReinforced.String)
		it.LastReinforcedAt = &t
	}
	if metadata.Valid {
		json.Unmarshal([]byte(metadata.String), &it.Metadata)
	}
	return &it, nil
}

func scanCategory(row scanner) (*memory.Category, error) {
	var c memory.Category
	var description, summary, embedding sql.NullString
	var createdAt string

	err := row.Scan(&c.ID, &c.Scope, &c.Name, &description, &summary, &embedding, &createdAt)
	if err != nil {
		return nil, err
	}
	c.Description = description.String
	c.Summary = summary.String
	if embedding.Valid {
		json.Unmarshal([]byte(embedding.String), &c.Embedding)
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &c, nil
}

// marshalNullable JSON-encodes v, returning SQL NULL for nil slices/maps.
func marshalNullable(v any) sql.NullString {
	switch t := v.(type) {
	case []float32:
		if t == nil {
			return sql.NullString{}
		}
	case []string:
		if t == nil {
			return sql.NullString{}
		}
	case map[string]any:
		if t == nil {
			return sql.NullString{}
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatNullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}
