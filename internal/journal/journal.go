package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tombee/foreman/pkg/events"
	"github.com/tombee/foreman/pkg/task"
)

// Journal persists task results whose updates exhausted their retries,
// so an operator can replay them once the server is reachable again.
// Backed by SQLite.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

// Config contains configuration for the journal.
type Config struct {
	// Path is the filesystem path to the SQLite database file.
	// Default: ~/.foreman/journal.db
	Path string

	// Logger is used for structured logging (optional).
	Logger *slog.Logger
}

// Entry is one journaled lost result.
type Entry struct {
	ID         int64
	TaskID     string
	WorkflowID string
	TaskType   string
	Server     string
	Reason     string
	Result     *task.Result
	LostAt     time.Time
}

// Open creates or opens a journal database.
func Open(cfg Config) (*Journal, error) {
	if cfg.Path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		cfg.Path = filepath.Join(homeDir, ".foreman", "journal.db")
	}

	if cfg.Path != ":memory:" {
		dir := filepath.Dir(cfg.Path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	// WAL mode for better concurrency and durability
	connStr := cfg.Path
	if cfg.Path != ":memory:" {
		connStr += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite wants a small pool to avoid lock contention.
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	j := &Journal{db: db, logger: logger}
	if err := j.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return j, nil
}

func (j *Journal) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS lost_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		workflow_id TEXT,
		task_type TEXT NOT NULL,
		server TEXT NOT NULL,
		reason TEXT,
		result_json TEXT NOT NULL,
		lost_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_lost_results_task ON lost_results(task_id);
	CREATE INDEX IF NOT EXISTS idx_lost_results_type ON lost_results(task_type);
	`
	if _, err := j.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Append records one lost result.
func (j *Journal) Append(ctx context.Context, e Entry) error {
	resultJSON, err := json.Marshal(e.Result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	lostAt := e.LostAt
	if lostAt.IsZero() {
		lostAt = time.Now().UTC()
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO lost_results (task_id, workflow_id, task_type, server, reason, result_json, lost_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.TaskID, e.WorkflowID, e.TaskType, e.Server, e.Reason, string(resultJSON),
		lostAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert lost result: %w", err)
	}
	return nil
}

// List returns journaled results, newest first, up to limit. A limit of
// zero returns everything.
func (j *Journal) List(ctx context.Context, limit int) ([]Entry, error) {
	query := `
		SELECT id, task_id, workflow_id, task_type, server, reason, result_json, lost_at
		FROM lost_results ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query lost results: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var resultJSON, lostAt string
		if err := rows.Scan(&e.ID, &e.TaskID, &e.WorkflowID, &e.TaskType, &e.Server, &e.Reason, &resultJSON, &lostAt); err != nil {
			return nil, fmt.Errorf("failed to scan lost result: %w", err)
		}
		if err := json.Unmarshal([]byte(resultJSON), &e.Result); err != nil {
			return nil, fmt.Errorf("failed to decode result for task %s: %w", e.TaskID, err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, lostAt); err == nil {
			e.LostAt = ts
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Delete removes a journaled result, typically after a successful replay.
func (j *Journal) Delete(ctx context.Context, id int64) error {
	res, err := j.db.ExecContext(ctx, "DELETE FROM lost_results WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete lost result: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("lost result %d not found", id)
	}
	return nil
}

// Listener returns an event listener that journals every lost result.
// Write failures are logged; the journal is a best-effort safety net and
// must never interfere with the runner.
func (j *Journal) Listener() events.Listener {
	return func(e events.Event) {
		if e.Type != events.TypeUpdateFailure || e.Result == nil {
			return
		}
		reason := ""
		if e.Err != nil {
			reason = e.Err.Error()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := j.Append(ctx, Entry{
			TaskID:     e.TaskID,
			WorkflowID: e.WorkflowID,
			TaskType:   e.TaskType,
			Server:     e.Server,
			Reason:     reason,
			Result:     e.Result,
		})
		if err != nil {
			j.logger.Error("failed to journal lost result", "task_id", e.TaskID, "error", err)
		}
	}
}
