package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/intelliquery/intent-agent/internal/storage/models"
	"github.com/intelliquery/intent-agent/pkg/apperror"
	"github.com/intelliquery/intent-agent/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

// NewClientFromDB wraps an already opened handle.
func NewClientFromDB(db *sql.DB) *Client {
	return &Client{db: db}
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS intent_requests (
		id TEXT PRIMARY KEY,
		query_text TEXT NOT NULL,
		locale TEXT,
		success INTEGER NOT NULL,
		error_code TEXT,
		intent_type TEXT,
		workspaces TEXT,
		confidence REAL,
		query_type TEXT,
		time_sensitivity TEXT,
		response TEXT,
		provider TEXT,
		index_version INTEGER,
		llm_attempts INTEGER DEFAULT 0,
		repair_attempts INTEGER DEFAULT 0,
		fallback_used INTEGER DEFAULT 0,
		validation_failed INTEGER DEFAULT 0,
		exemplars_count INTEGER DEFAULT 0,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_requests_created ON intent_requests(created_at);
	CREATE INDEX IF NOT EXISTS idx_requests_intent ON intent_requests(intent_type);

	CREATE TABLE IF NOT EXISTS stage_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		position INTEGER NOT NULL,
		success INTEGER NOT NULL,
		error_code TEXT,
		message TEXT,
		elapsed_ms REAL,
		FOREIGN KEY (request_id) REFERENCES intent_requests(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_stages_request ON stage_results(request_id);

	CREATE TABLE IF NOT EXISTS feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT NOT NULL,
		correct INTEGER NOT NULL,
		expected_intent TEXT,
		expected_workspaces TEXT,
		comment TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (request_id) REFERENCES intent_requests(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_request ON feedback(request_id);

	CREATE TABLE IF NOT EXISTS evaluation_runs (
		id TEXT PRIMARY KEY,
		dataset TEXT NOT NULL,
		cases INTEGER NOT NULL,
		intent_accuracy REAL,
		workspace_accuracy REAL,
		exact_match REAL,
		fallback_rate REAL,
		mean_confidence REAL,
		created_at INTEGER NOT NULL
	);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// InsertRequest stores a request and its stage results in one transaction.
func (c *Client) InsertRequest(ctx context.Context, r *models.IntentRequest, stages []models.StageResult) error {
	workspaces, err := json.Marshal(r.Workspaces)
	if err != nil {
		return fmt.Errorf("failed to encode workspaces: %w", err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO intent_requests (id, query_text, locale, success, error_code, intent_type, workspaces,
			confidence, query_type, time_sensitivity, response, provider, index_version, llm_attempts,
			repair_attempts, fallback_used, validation_failed, exemplars_count, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID,
		r.QueryText,
		r.Locale,
		boolToInt(r.Success),
		r.ErrorCode,
		r.IntentType,
		string(workspaces),
		r.Confidence,
		r.QueryType,
		r.TimeSensitivity,
		r.Response,
		r.Provider,
		int64(r.IndexVersion),
		r.LLMAttempts,
		r.RepairAttempts,
		boolToInt(r.FallbackUsed),
		boolToInt(r.ValidationFailed),
		r.ExemplarsCount,
		r.LatencyMS,
		r.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert intent request: %w", err)
	}

	for _, s := range stages {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO stage_results (request_id, stage, position, success, error_code, message, elapsed_ms) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.ID,
			s.Stage,
			s.Position,
			boolToInt(s.Success),
			s.ErrorCode,
			s.Message,
			s.ElapsedMS,
		)
		if err != nil {
			return fmt.Errorf("failed to insert stage result %s: %w", s.Stage, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit intent request: %w", err)
	}

	logger.Debug("Intent request recorded",
		zap.String("request_id", r.ID),
		zap.String("intent_type", r.IntentType),
		zap.Float64("confidence", r.Confidence),
	)
	return nil
}

const requestColumns = `id, query_text, locale, success, error_code, intent_type, workspaces, confidence,
	query_type, time_sensitivity, response, provider, index_version, llm_attempts, repair_attempts,
	fallback_used, validation_failed, exemplars_count, latency_ms, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (*models.IntentRequest, error) {
	var r models.IntentRequest
	var (
		locale, errorCode, intentType, workspaces sql.NullString
		queryType, timeSens, response, provider   sql.NullString
		confidence                                sql.NullFloat64
		indexVersion, latency                     sql.NullInt64
		success, fallback, validationFailed       int
		createdAt                                 int64
	)

	err := row.Scan(
		&r.ID,
		&r.QueryText,
		&locale,
		&success,
		&errorCode,
		&intentType,
		&workspaces,
		&confidence,
		&queryType,
		&timeSens,
		&response,
		&provider,
		&indexVersion,
		&r.LLMAttempts,
		&r.RepairAttempts,
		&fallback,
		&validationFailed,
		&r.ExemplarsCount,
		&latency,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	r.Locale = locale.String
	r.Success = success == 1
	r.ErrorCode = errorCode.String
	r.IntentType = intentType.String
	r.Confidence = confidence.Float64
	r.QueryType = queryType.String
	r.TimeSensitivity = timeSens.String
	r.Response = response.String
	r.Provider = provider.String
	r.IndexVersion = uint64(indexVersion.Int64)
	r.FallbackUsed = fallback == 1
	r.ValidationFailed = validationFailed == 1
	r.LatencyMS = latency.Int64
	r.CreatedAt = time.UnixMilli(createdAt).UTC()
	r.Workspaces = []string{}
	if workspaces.String != "" {
		if err := json.Unmarshal([]byte(workspaces.String), &r.Workspaces); err != nil {
			return nil, fmt.Errorf("failed to decode workspaces: %w", err)
		}
	}
	return &r, nil
}

// GetRecentRequests returns up to limit requests, newest first.
func (c *Client) GetRecentRequests(ctx context.Context, limit int) ([]models.IntentRequest, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+requestColumns+` FROM intent_requests ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent requests: %w", err)
	}
	defer rows.Close()

	records := []models.IntentRequest{}
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		records = append(records, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate requests: %w", err)
	}
	return records, nil
}

func (c *Client) GetRequest(ctx context.Context, id string) (*models.IntentRequest, []models.StageResult, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM intent_requests WHERE id = ?`, id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, apperror.New(apperror.CodeNotFound, "request "+id+" not found")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get request: %w", err)
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT id, request_id, stage, position, success, error_code, message, elapsed_ms
		FROM stage_results WHERE request_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get stage results: %w", err)
	}
	defer rows.Close()

	stages := []models.StageResult{}
	for rows.Next() {
		var s models.StageResult
		var success int
		var code, msg sql.NullString
		if err := rows.Scan(&s.ID, &s.RequestID, &s.Stage, &s.Position, &success, &code, &msg, &s.ElapsedMS); err != nil {
			return nil, nil, fmt.Errorf("failed to scan stage row: %w", err)
		}
		s.Success = success == 1
		s.ErrorCode = code.String
		s.Message = msg.String
		stages = append(stages, s)
	}
	return r, stages, rows.Err()
}

func (c *Client) StoreFeedback(ctx context.Context, f *models.Feedback) error {
	expected, err := json.Marshal(f.ExpectedWorkspaces)
	if err != nil {
		return fmt.Errorf("failed to encode expected workspaces: %w", err)
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT INTO feedback (request_id, correct, expected_intent, expected_workspaces, comment, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		f.RequestID,
		boolToInt(f.Correct),
		f.ExpectedIntent,
		string(expected),
		f.Comment,
		time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to store feedback: %w", err)
	}

	logger.Info("Feedback stored",
		zap.String("request_id", f.RequestID),
		zap.Bool("correct", f.Correct),
	)
	return nil
}

func (c *Client) InsertEvaluationRun(ctx context.Context, run *models.EvaluationRun) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO evaluation_runs (id, dataset, cases, intent_accuracy, workspace_accuracy, exact_match,
			fallback_rate, mean_confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Dataset,
		run.Cases,
		run.IntentAccuracy,
		run.WorkspaceAccuracy,
		run.ExactMatch,
		run.FallbackRate,
		run.MeanConfidence,
		run.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert evaluation run: %w", err)
	}
	return nil
}

// GetStats aggregates the audit table.
func (c *Client) GetStats(ctx context.Context) (*models.RequestStats, error) {
	var s models.RequestStats
	var failed, fallbacks, validationFailed sql.NullInt64
	var meanConf, meanLatency sql.NullFloat64

	err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END),
			SUM(fallback_used),
			SUM(validation_failed),
			AVG(CASE WHEN success = 1 THEN confidence END),
			AVG(latency_ms)
		FROM intent_requests
	`).Scan(&s.Total, &failed, &fallbacks, &validationFailed, &meanConf, &meanLatency)
	if err != nil {
		return nil, fmt.Errorf("failed to get request stats: %w", err)
	}

	s.Failed = int(failed.Int64)
	s.Fallbacks = int(fallbacks.Int64)
	s.ValidationFailed = int(validationFailed.Int64)
	s.MeanConfidence = meanConf.Float64
	s.MeanLatencyMS = meanLatency.Float64
	return &s, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
