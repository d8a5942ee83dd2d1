package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/hitl-agent/backend/internal/storage"
	"github.com/hitl-agent/backend/internal/storage/models"
	"github.com/hitl-agent/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	_, err = db.Exec("PRAGMA busy_timeout = 5000")
	if err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	logger.Info("SQLite store initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pending_items (
		id TEXT PRIMARY KEY,
		prompt TEXT NOT NULL,
		output TEXT NOT NULL,
		confidence REAL NOT NULL,
		true_label TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS published_items (
		id TEXT PRIMARY KEY,
		prompt TEXT NOT NULL,
		output TEXT NOT NULL,
		confidence REAL NOT NULL,
		true_label TEXT NOT NULL DEFAULT '',
		reviewer_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		reviewed_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS rejected_items (
		id TEXT PRIMARY KEY,
		prompt TEXT NOT NULL,
		output TEXT NOT NULL,
		confidence REAL NOT NULL,
		true_label TEXT NOT NULL DEFAULT '',
		reviewer_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		reviewed_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_published_labeled ON published_items(true_label);
	CREATE INDEX IF NOT EXISTS idx_rejected_labeled ON rejected_items(true_label);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertPending(ctx context.Context, item *models.Item) error {
	// Ids are unique across all three collections; the per-table primary key
	// alone would let a published id reappear as pending.
	if err := c.checkDuplicate(ctx, item.ID); err != nil {
		return err
	}

	query := `INSERT INTO pending_items (id, prompt, output, confidence, true_label, created_at) VALUES (?, ?, ?, ?, ?, ?)`

	_, err := c.db.ExecContext(ctx, query,
		item.ID,
		item.Prompt,
		item.Output,
		item.Confidence,
		item.TrueLabel,
		item.CreatedAt.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicateID
		}
		return fmt.Errorf("failed to insert pending item: %w", err)
	}

	logger.Debug("Pending item inserted",
		zap.String("item_id", item.ID),
		zap.Float64("confidence", item.Confidence),
	)
	return nil
}

func (c *Client) InsertPublished(ctx context.Context, item *models.Item) error {
	if err := c.checkDuplicate(ctx, item.ID); err != nil {
		return err
	}

	query := `INSERT INTO published_items (id, prompt, output, confidence, true_label, reviewer_id, created_at, reviewed_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := c.db.ExecContext(ctx, query,
		item.ID,
		item.Prompt,
		item.Output,
		item.Confidence,
		item.TrueLabel,
		item.ReviewerID,
		item.CreatedAt.Unix(),
		nullableUnix(item.ReviewedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicateID
		}
		return fmt.Errorf("failed to insert published item: %w", err)
	}

	logger.Debug("Published item inserted",
		zap.String("item_id", item.ID),
		zap.String("reviewer_id", item.ReviewerID),
	)
	return nil
}

func (c *Client) GetPending(ctx context.Context, id string) (*models.Item, error) {
	query := `SELECT id, prompt, output, confidence, true_label, created_at FROM pending_items WHERE id = ?`

	var item models.Item
	var createdAt int64

	err := c.db.QueryRowContext(ctx, query, id).Scan(
		&item.ID,
		&item.Prompt,
		&item.Output,
		&item.Confidence,
		&item.TrueLabel,
		&createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending item: %w", err)
	}

	item.Status = models.StatusPending
	item.CreatedAt = time.Unix(createdAt, 0).UTC()

	return &item, nil
}

func (c *Client) RemovePending(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM pending_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove pending item: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check removal: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

func (c *Client) ListPending(ctx context.Context) ([]models.Item, error) {
	query := `SELECT id, prompt, output, confidence, true_label, created_at FROM pending_items ORDER BY rowid ASC`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending items: %w", err)
	}
	defer rows.Close()

	var items []models.Item
	for rows.Next() {
		var item models.Item
		var createdAt int64

		err := rows.Scan(&item.ID, &item.Prompt, &item.Output, &item.Confidence, &item.TrueLabel, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		item.Status = models.StatusPending
		item.CreatedAt = time.Unix(createdAt, 0).UTC()
		items = append(items, item)
	}

	return items, rows.Err()
}

func (c *Client) ListPublished(ctx context.Context) ([]models.Item, error) {
	query := `SELECT id, prompt, output, confidence, true_label, reviewer_id, created_at, reviewed_at FROM published_items ORDER BY rowid ASC`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list published items: %w", err)
	}
	defer rows.Close()

	var items []models.Item
	for rows.Next() {
		item, err := scanResolved(rows, models.StatusPublished)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}

	return items, rows.Err()
}

// PublishPending moves a pending row into published_items in one
// transaction, so a crash mid-move cannot lose the item or duplicate it.
func (c *Client) PublishPending(ctx context.Context, item *models.Item) error {
	return c.movePending(ctx, item, "published_items")
}

func (c *Client) RejectPending(ctx context.Context, item *models.Item) error {
	return c.movePending(ctx, item, "rejected_items")
}

func (c *Client) movePending(ctx context.Context, item *models.Item, table string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM pending_items WHERE id = ?`, item.ID)
	if err != nil {
		return fmt.Errorf("failed to remove pending item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check removal: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}

	insert := fmt.Sprintf(`INSERT INTO %s (id, prompt, output, confidence, true_label, reviewer_id, created_at, reviewed_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, table)
	_, err = tx.ExecContext(ctx, insert,
		item.ID,
		item.Prompt,
		item.Output,
		item.Confidence,
		item.TrueLabel,
		item.ReviewerID,
		item.CreatedAt.Unix(),
		nullableUnix(item.ReviewedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert into %s: %w", table, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit move: %w", err)
	}

	logger.Debug("Pending item resolved",
		zap.String("item_id", item.ID),
		zap.String("status", string(item.Status)),
	)
	return nil
}

func (c *Client) GetResolved(ctx context.Context, id string) (*models.Item, error) {
	for _, t := range []struct {
		table  string
		status models.Status
	}{
		{"published_items", models.StatusPublished},
		{"rejected_items", models.StatusRejected},
	} {
		query := fmt.Sprintf(`SELECT id, prompt, output, confidence, true_label, reviewer_id, created_at, reviewed_at FROM %s WHERE id = ?`, t.table)
		row := c.db.QueryRowContext(ctx, query, id)
		item, err := scanResolved(row, t.status)
		if err == nil {
			return item, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	}
	return nil, storage.ErrNotFound
}

func (c *Client) ListLabeled(ctx context.Context) ([]models.LabeledExample, error) {
	query := `
		SELECT prompt, true_label FROM published_items WHERE true_label != ''
		UNION ALL
		SELECT prompt, true_label FROM rejected_items WHERE true_label != ''
	`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list labeled examples: %w", err)
	}
	defer rows.Close()

	var examples []models.LabeledExample
	for rows.Next() {
		var ex models.LabeledExample
		if err := rows.Scan(&ex.Text, &ex.Label); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		examples = append(examples, ex)
	}

	return examples, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanResolved(row rowScanner, status models.Status) (*models.Item, error) {
	var item models.Item
	var createdAt int64
	var reviewedAt sql.NullInt64

	err := row.Scan(
		&item.ID,
		&item.Prompt,
		&item.Output,
		&item.Confidence,
		&item.TrueLabel,
		&item.ReviewerID,
		&createdAt,
		&reviewedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	item.Status = status
	item.CreatedAt = time.Unix(createdAt, 0).UTC()
	if reviewedAt.Valid {
		t := time.Unix(reviewedAt.Int64, 0).UTC()
		item.ReviewedAt = &t
	}

	return &item, nil
}

func nullableUnix(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}

// checkDuplicate reports ErrDuplicateID when id already lives in any of the
// three collections.
func (c *Client) checkDuplicate(ctx context.Context, id string) error {
	query := `
		SELECT 1 FROM pending_items WHERE id = ?
		UNION ALL SELECT 1 FROM published_items WHERE id = ?
		UNION ALL SELECT 1 FROM rejected_items WHERE id = ?
		LIMIT 1
	`

	var one int
	err := c.db.QueryRowContext(ctx, query, id, id, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check item id: %w", err)
	}
	return storage.ErrDuplicateID
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrConstraint &&
		(sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique)
}
