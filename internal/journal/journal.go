package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/agrisense/sprayerd/internal/classify"
	"github.com/agrisense/sprayerd/internal/logger"
)

// Journal persists the treatment history: every detection and every spray
// run, for after-the-fact auditing. The in-memory detection state stays
// authoritative for gating; the journal is write-behind bookkeeping.
type Journal struct {
	db     *sql.DB
	path   string
	logger *logger.Logger
}

// DetectionRecord is one persisted detection
type DetectionRecord struct {
	ID         string    `json:"id"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Severity   string    `json:"severity"`
	Strategy   string    `json:"strategy"`
	FrameSeq   uint64    `json:"frame_seq"`
	CreatedAt  time.Time `json:"created_at"`
}

// SprayRecord is one persisted spray request outcome
type SprayRecord struct {
	ID        string        `json:"id"`
	Duration  time.Duration `json:"duration"`
	Outcome   string        `json:"outcome"`
	Severity  string        `json:"severity"`
	CreatedAt time.Time     `json:"created_at"`
}

// Open creates or opens the journal database under dataDir
func Open(dataDir string, log *logger.Logger) (*Journal, error) {
	dbDir := filepath.Join(dataDir, "db")
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	path := filepath.Join(dbDir, "journal.db")
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping journal database: %w", err)
	}

	j := &Journal{db: db, path: path, logger: log}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	log.Info("Treatment journal opened", "path", path)
	return j, nil
}

// Path returns the database file path
func (j *Journal) Path() string {
	return j.path
}

// Close closes the journal database
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS detections (
		id TEXT PRIMARY KEY,
		label TEXT NOT NULL,
		confidence REAL NOT NULL,
		severity TEXT NOT NULL,
		strategy TEXT NOT NULL,
		frame_seq INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_detections_created_at ON detections(created_at);

	CREATE TABLE IF NOT EXISTS spray_runs (
		id TEXT PRIMARY KEY,
		duration_ms INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		severity TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_spray_runs_created_at ON spray_runs(created_at);
	`
	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to migrate journal schema: %w", err)
	}
	return nil
}

// RecordDetection persists a detection result
func (j *Journal) RecordDetection(ctx context.Context, result classify.Result) (string, error) {
	id := uuid.New().String()
	query := `
		INSERT INTO detections (id, label, confidence, severity, strategy, frame_seq, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := j.db.ExecContext(ctx, query,
		id, result.Label, result.Confidence, result.Severity.String(),
		result.Strategy, result.FrameSeq, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to record detection: %w", err)
	}
	return id, nil
}

// RecordSpray persists a spray request outcome
func (j *Journal) RecordSpray(ctx context.Context, duration time.Duration, outcome, severity string) (string, error) {
	id := uuid.New().String()
	query := `
		INSERT INTO spray_runs (id, duration_ms, outcome, severity, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := j.db.ExecContext(ctx, query,
		id, duration.Milliseconds(), outcome, severity, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to record spray run: %w", err)
	}
	return id, nil
}

// RecentDetections returns the newest detections, up to limit
func (j *Journal) RecentDetections(ctx context.Context, limit int) ([]DetectionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, label, confidence, severity, strategy, frame_seq, created_at
		FROM detections ORDER BY created_at DESC LIMIT ?
	`
	rows, err := j.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	var records []DetectionRecord
	for rows.Next() {
		var r DetectionRecord
		if err := rows.Scan(&r.ID, &r.Label, &r.Confidence, &r.Severity, &r.Strategy, &r.FrameSeq, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan detection row: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// RecentSprays returns the newest spray runs, up to limit
func (j *Journal) RecentSprays(ctx context.Context, limit int) ([]SprayRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, duration_ms, outcome, severity, created_at
		FROM spray_runs ORDER BY created_at DESC LIMIT ?
	`
	rows, err := j.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query spray runs: %w", err)
	}
	defer rows.Close()

	var records []SprayRecord
	for rows.Next() {
		var r SprayRecord
		var durationMs int64
		if err := rows.Scan(&r.ID, &durationMs, &r.Outcome, &r.Severity, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan spray row: %w", err)
		}
		r.Duration = time.Duration(durationMs) * time.Millisecond
		records = append(records, r)
	}
	return records, rows.Err()
}
