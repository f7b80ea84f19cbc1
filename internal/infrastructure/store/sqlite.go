// Package store persists Overseer's durable state in a SQLite database:
// work items with their transition history, rate-limit buckets, the cost
// ledger, approval requests, and rollback points.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/doeshing/overseer/internal/domain"
	"github.com/doeshing/overseer/internal/ports"
)

// SQLiteStore implements every repository port over one database file.
// A single mutex serializes writers; SQLite handles its own read locking.
type SQLiteStore struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open creates (or opens) the database at path and ensures the schema.
func Open(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	store := &SQLiteStore{db: db, path: path}
	if err := store.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS work_items (
		id TEXT PRIMARY KEY,
		kind TEXT,
		external_ref TEXT,
		state TEXT,
		retry_count INTEGER,
		last_error TEXT,
		metadata TEXT,
		approval_id TEXT,
		pending_target TEXT,
		pending_provider TEXT,
		pending_cost REAL,
		created_at TEXT,
		updated_at TEXT
	);
	CREATE TABLE IF NOT EXISTS work_item_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		item_id TEXT,
		from_state TEXT,
		to_state TEXT,
		timestamp TEXT,
		reason TEXT,
		actor TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_history_item ON work_item_history(item_id);
	CREATE TABLE IF NOT EXISTS rate_buckets (
		key TEXT PRIMARY KEY,
		tokens REAL,
		capacity REAL,
		refill_rate REAL,
		burst REAL,
		last_refill TEXT
	);
	CREATE TABLE IF NOT EXISTS cost_ledger (
		provider TEXT,
		day TEXT,
		total_spent REAL,
		total_tokens INTEGER,
		requests INTEGER,
		updated_at TEXT,
		PRIMARY KEY (provider, day)
	);
	CREATE TABLE IF NOT EXISTS approvals (
		id TEXT PRIMARY KEY,
		work_item_id TEXT,
		operation TEXT,
		risk_tier TEXT,
		status TEXT,
		created_at TEXT,
		expires_at TEXT,
		resolved_at TEXT,
		actor TEXT,
		note TEXT,
		metadata TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_approvals_status ON approvals(status);
	CREATE TABLE IF NOT EXISTS rollback_points (
		id TEXT PRIMARY KEY,
		checkpoint_ref TEXT,
		description TEXT,
		work_item_id TEXT,
		created_at TEXT
	);`)
	return err
}

// Close flushes and closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// SaveItem upserts the item and appends any history records not yet stored.
func (s *SQLiteStore) SaveItem(ctx context.Context, item *domain.WorkItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	metadata, err := json.Marshal(item.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO work_items
		(id, kind, external_ref, state, retry_count, last_error, metadata, approval_id, pending_target, pending_provider, pending_cost, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			retry_count = excluded.retry_count,
			last_error = excluded.last_error,
			metadata = excluded.metadata,
			approval_id = excluded.approval_id,
			pending_target = excluded.pending_target,
			pending_provider = excluded.pending_provider,
			pending_cost = excluded.pending_cost,
			updated_at = excluded.updated_at`,
		item.ID,
		string(item.Kind),
		item.ExternalRef,
		string(item.State),
		item.RetryCount,
		item.LastError,
		string(metadata),
		item.ApprovalID,
		string(item.PendingTarget),
		item.PendingProvider,
		item.PendingCost,
		item.CreatedAt.Format(time.RFC3339),
		item.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return err
	}

	var stored int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM work_item_history WHERE item_id = ?", item.ID).Scan(&stored); err != nil {
		return err
	}
	for _, t := range item.History[stored:] {
		_, err = tx.ExecContext(ctx, `INSERT INTO work_item_history
			(item_id, from_state, to_state, timestamp, reason, actor)
			VALUES (?, ?, ?, ?, ?, ?)`,
			item.ID,
			string(t.From),
			string(t.To),
			t.Timestamp.Format(time.RFC3339),
			t.Reason,
			t.Actor,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetItem loads one work item with its full history, or nil when absent.
func (s *SQLiteStore) GetItem(ctx context.Context, id string) (*domain.WorkItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, kind, external_ref, state, retry_count,
		last_error, metadata, approval_id, pending_target, pending_provider, pending_cost, created_at, updated_at
		FROM work_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadHistory(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// ListItems returns items in the given state, or all items when state is
// empty, newest first.
func (s *SQLiteStore) ListItems(ctx context.Context, state domain.ItemState) ([]*domain.WorkItem, error) {
	query := `SELECT id, kind, external_ref, state, retry_count, last_error,
		metadata, approval_id, pending_target, pending_provider, pending_cost, created_at, updated_at FROM work_items`
	var args []interface{}
	if state != "" {
		query += " WHERE state = ?"
		args = append(args, string(state))
	}
	query += " ORDER BY datetime(updated_at) DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*domain.WorkItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, item := range items {
		if err := s.loadHistory(ctx, item); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (s *SQLiteStore) loadHistory(ctx context.Context, item *domain.WorkItem) error {
	rows, err := s.db.QueryContext(ctx, `SELECT from_state, to_state, timestamp, reason, actor
		FROM work_item_history WHERE item_id = ? ORDER BY id ASC`, item.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var t domain.Transition
		var from, to, ts string
		if err := rows.Scan(&from, &to, &ts, &t.Reason, &t.Actor); err != nil {
			return err
		}
		t.From = domain.ItemState(from)
		t.To = domain.ItemState(to)
		t.Timestamp = parseTime(ts)
		item.History = append(item.History, t)
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*domain.WorkItem, error) {
	var item domain.WorkItem
	var kind, state, pendingTarget, metadata, created, updated string
	err := row.Scan(&item.ID, &kind, &item.ExternalRef, &state, &item.RetryCount,
		&item.LastError, &metadata, &item.ApprovalID, &pendingTarget,
		&item.PendingProvider, &item.PendingCost, &created, &updated)
	if err != nil {
		return nil, err
	}
	item.Kind = domain.ItemKind(kind)
	item.State = domain.ItemState(state)
	item.PendingTarget = domain.ItemState(pendingTarget)
	if metadata != "" && metadata != "null" {
		if err := json.Unmarshal([]byte(metadata), &item.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	item.CreatedAt = parseTime(created)
	item.UpdatedAt = parseTime(updated)
	return &item, nil
}

// SaveBucket upserts one rate-limit bucket.
func (s *SQLiteStore) SaveBucket(ctx context.Context, bucket domain.RateLimitBucket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `INSERT INTO rate_buckets
		(key, tokens, capacity, refill_rate, burst, last_refill)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			tokens = excluded.tokens,
			capacity = excluded.capacity,
			refill_rate = excluded.refill_rate,
			burst = excluded.burst,
			last_refill = excluded.last_refill`,
		bucket.Key,
		bucket.Tokens,
		bucket.Capacity,
		bucket.RefillRate,
		bucket.Burst,
		bucket.LastRefill.Format(time.RFC3339Nano),
	)
	return err
}

// ListBuckets returns every persisted bucket.
func (s *SQLiteStore) ListBuckets(ctx context.Context) ([]domain.RateLimitBucket, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, tokens, capacity, refill_rate, burst, last_refill FROM rate_buckets")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buckets []domain.RateLimitBucket
	for rows.Next() {
		var b domain.RateLimitBucket
		var refill string
		if err := rows.Scan(&b.Key, &b.Tokens, &b.Capacity, &b.RefillRate, &b.Burst, &refill); err != nil {
			return nil, err
		}
		b.LastRefill = parseTime(refill)
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// SaveLedgerEntry upserts one (provider, day) cost record.
func (s *SQLiteStore) SaveLedgerEntry(ctx context.Context, entry domain.CostLedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `INSERT INTO cost_ledger
		(provider, day, total_spent, total_tokens, requests, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider, day) DO UPDATE SET
			total_spent = excluded.total_spent,
			total_tokens = excluded.total_tokens,
			requests = excluded.requests,
			updated_at = excluded.updated_at`,
		entry.Provider,
		entry.Day,
		entry.TotalSpent,
		entry.TotalTokens,
		entry.Requests,
		entry.UpdatedAt.Format(time.RFC3339),
	)
	return err
}

// ListLedgerEntries returns the ledger for one UTC day, or the whole
// ledger when day is empty.
func (s *SQLiteStore) ListLedgerEntries(ctx context.Context, day string) ([]domain.CostLedgerEntry, error) {
	query := "SELECT provider, day, total_spent, total_tokens, requests, updated_at FROM cost_ledger"
	var args []interface{}
	if day != "" {
		query += " WHERE day = ?"
		args = append(args, day)
	}
	query += " ORDER BY provider ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.CostLedgerEntry
	for rows.Next() {
		var e domain.CostLedgerEntry
		var updated string
		if err := rows.Scan(&e.Provider, &e.Day, &e.TotalSpent, &e.TotalTokens, &e.Requests, &updated); err != nil {
			return nil, err
		}
		e.UpdatedAt = parseTime(updated)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SaveApproval upserts one approval request.
func (s *SQLiteStore) SaveApproval(ctx context.Context, req *domain.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	metadata, err := json.Marshal(req.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	resolved := ""
	if req.ResolvedAt != nil {
		resolved = req.ResolvedAt.Format(time.RFC3339)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO approvals
		(id, work_item_id, operation, risk_tier, status, created_at, expires_at, resolved_at, actor, note, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			resolved_at = excluded.resolved_at,
			actor = excluded.actor,
			note = excluded.note`,
		req.ID,
		req.WorkItemID,
		req.Operation,
		string(req.RiskTier),
		string(req.Status),
		req.CreatedAt.Format(time.RFC3339),
		req.ExpiresAt.Format(time.RFC3339),
		resolved,
		req.Actor,
		req.Note,
		string(metadata),
	)
	return err
}

// GetApproval loads one approval request, or nil when absent.
func (s *SQLiteStore) GetApproval(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, work_item_id, operation, risk_tier, status,
		created_at, expires_at, resolved_at, actor, note, metadata FROM approvals WHERE id = ?`, id)
	req, err := scanApproval(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return req, err
}

// ListApprovals returns requests in the given status, or all requests
// when status is empty, oldest first.
func (s *SQLiteStore) ListApprovals(ctx context.Context, status domain.ApprovalStatus) ([]*domain.ApprovalRequest, error) {
	query := `SELECT id, work_item_id, operation, risk_tier, status, created_at,
		expires_at, resolved_at, actor, note, metadata FROM approvals`
	var args []interface{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY datetime(created_at) ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []*domain.ApprovalRequest
	for rows.Next() {
		req, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

func scanApproval(row rowScanner) (*domain.ApprovalRequest, error) {
	var req domain.ApprovalRequest
	var tier, status, created, expires, resolved, metadata string
	err := row.Scan(&req.ID, &req.WorkItemID, &req.Operation, &tier, &status,
		&created, &expires, &resolved, &req.Actor, &req.Note, &metadata)
	if err != nil {
		return nil, err
	}
	req.RiskTier = domain.RiskTier(tier)
	req.Status = domain.ApprovalStatus(status)
	req.CreatedAt = parseTime(created)
	req.ExpiresAt = parseTime(expires)
	if resolved != "" {
		t := parseTime(resolved)
		req.ResolvedAt = &t
	}
	if metadata != "" && metadata != "null" {
		if err := json.Unmarshal([]byte(metadata), &req.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &req, nil
}

// SavePoint inserts one rollback point. Points are immutable once written.
func (s *SQLiteStore) SavePoint(ctx context.Context, point domain.RollbackPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO rollback_points
		(id, checkpoint_ref, description, work_item_id, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		point.ID,
		point.CheckpointRef,
		point.Description,
		point.WorkItemID,
		point.CreatedAt.Format(time.RFC3339),
	)
	return err
}

// GetPoint loads one rollback point, or nil when absent.
func (s *SQLiteStore) GetPoint(ctx context.Context, id string) (*domain.RollbackPoint, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, checkpoint_ref, description, work_item_id, created_at
		FROM rollback_points WHERE id = ?`, id)
	var p domain.RollbackPoint
	var created string
	err := row.Scan(&p.ID, &p.CheckpointRef, &p.Description, &p.WorkItemID, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt = parseTime(created)
	return &p, nil
}

// ListPoints returns all rollback points, newest first.
func (s *SQLiteStore) ListPoints(ctx context.Context) ([]domain.RollbackPoint, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, checkpoint_ref, description, work_item_id, created_at
		FROM rollback_points ORDER BY datetime(created_at) DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []domain.RollbackPoint
	for rows.Next() {
		var p domain.RollbackPoint
		var created string
		if err := rows.Scan(&p.ID, &p.CheckpointRef, &p.Description, &p.WorkItemID, &created); err != nil {
			return nil, err
		}
		p.CreatedAt = parseTime(created)
		points = append(points, p)
	}
	return points, rows.Err()
}

// DeletePoint removes one rollback-point record.
func (s *SQLiteStore) DeletePoint(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM rollback_points WHERE id = ?", id)
	return err
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}

var (
	_ ports.WorkItemRepository = (*SQLiteStore)(nil)
	_ ports.ApprovalRepository = (*SQLiteStore)(nil)
	_ ports.LedgerRepository   = (*SQLiteStore)(nil)
	_ ports.RollbackRepository = (*SQLiteStore)(nil)
)
