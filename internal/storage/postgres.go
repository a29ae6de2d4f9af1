/**
 * PostgreSQL Client for the Layout Worker
 *
 * Persists job status and the analysis result of every processed screenshot.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Job statuses written by the worker
const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// JobUpdate represents a job status update
type JobUpdate struct {
	JobID            string
	Status           string
	Progress         int
	ProcessingTimeMs int64
	ResultID         string
	ErrorCode        string
	ErrorMessage     string
	Metadata         map[string]interface{}
}

// LayoutResultRecord is one row of blueprint.layout_results
type LayoutResultRecord struct {
	ID             string          `json:"id"`
	JobID          string          `json:"jobId"`
	QdrantPointID  string          `json:"qdrantPointId"`
	ImageWidth     int             `json:"imageWidth"`
	ImageHeight    int             `json:"imageHeight"`
	RecognizedText string          `json:"recognizedText"`
	BoundingBoxes  json.RawMessage `json:"boundingBoxes"`
	Regions        json.RawMessage `json:"regions"`
	Layout         json.RawMessage `json:"layout,omitempty"`
	Stats          json.RawMessage `json:"stats"`
	CreatedAt      time.Time       `json:"createdAt"`
}

const schemaSQL = `
	CREATE SCHEMA IF NOT EXISTS blueprint;

	CREATE TABLE IF NOT EXISTS blueprint.layout_jobs (
		id                 UUID PRIMARY KEY,
		status             TEXT NOT NULL,
		progress           INTEGER NOT NULL DEFAULT 0,
		processing_time_ms BIGINT,
		result_id          UUID,
		error_code         TEXT,
		error_message      TEXT,
		metadata           JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS blueprint.layout_results (
		id              UUID PRIMARY KEY,
		job_id          UUID NOT NULL,
		qdrant_point_id UUID NOT NULL,
		image_width     INTEGER NOT NULL,
		image_height    INTEGER NOT NULL,
		recognized_text TEXT NOT NULL DEFAULT '',
		bounding_boxes  JSONB NOT NULL DEFAULT '[]'::jsonb,
		regions         JSONB NOT NULL DEFAULT '[]'::jsonb,
		layout          JSONB,
		stats           JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS layout_results_job_id_idx ON blueprint.layout_results (job_id);
`

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// EnsureSchema creates the worker's tables if they are missing
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// UpdateJobStatus upserts the job row so the worker can record status even
// if the API has not created the job yet
func (p *PostgresClient) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if update.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	if update.Status == "" {
		return fmt.Errorf("status is required")
	}

	metadataJSON, err := json.Marshal(update.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	metadataJSON = sanitizeJSONForPostgres(metadataJSON)

	query := `
		INSERT INTO blueprint.layout_jobs (
			id, status, progress, processing_time_ms, result_id,
			error_code, error_message, metadata, created_at, updated_at
		) VALUES (
			$1::uuid, $2, $3, NULLIF($4, 0),
			CASE WHEN $5 = '' THEN NULL ELSE $5::uuid END,
			NULLIF($6, ''), NULLIF($7, ''),
			COALESCE(NULLIF($8, 'null')::jsonb, '{}'::jsonb),
			NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			progress = GREATEST(EXCLUDED.progress, blueprint.layout_jobs.progress),
			processing_time_ms = COALESCE(EXCLUDED.processing_time_ms, blueprint.layout_jobs.processing_time_ms),
			result_id = COALESCE(EXCLUDED.result_id, blueprint.layout_jobs.result_id),
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			metadata = blueprint.layout_jobs.metadata || EXCLUDED.metadata,
			updated_at = NOW()
		RETURNING id
	`

	var returnedID string
	err = p.db.QueryRowContext(
		ctx,
		query,
		update.JobID,            // $1
		update.Status,           // $2
		update.Progress,         // $3
		update.ProcessingTimeMs, // $4
		update.ResultID,         // $5
		update.ErrorCode,        // $6
		update.ErrorMessage,     // $7
		string(metadataJSON),    // $8
	).Scan(&returnedID)

	if err != nil {
		return fmt.Errorf("failed to update job status (job=%s, status=%s): %w",
			update.JobID, update.Status, err)
	}

	return nil
}

// StoreLayoutResult inserts a result row and returns its creation time
func (p *PostgresClient) StoreLayoutResult(ctx context.Context, rec *LayoutResultRecord) (time.Time, error) {
	query := `
		INSERT INTO blueprint.layout_results (
			id, job_id, qdrant_point_id, image_width, image_height,
			recognized_text, bounding_boxes, regions, layout, stats, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		RETURNING created_at
	`

	var createdAt time.Time
	err := p.db.QueryRowContext(
		ctx,
		query,
		rec.ID,
		rec.JobID,
		rec.QdrantPointID,
		rec.ImageWidth,
		rec.ImageHeight,
		rec.RecognizedText,
		jsonParam(rec.BoundingBoxes, "[]"),
		jsonParam(rec.Regions, "[]"),
		nullableJSON(rec.Layout),
		jsonParam(rec.Stats, "{}"),
	).Scan(&createdAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to store layout result: %w", err)
	}

	return createdAt, nil
}

// GetLayoutResult retrieves a result row by ID
func (p *PostgresClient) GetLayoutResult(ctx context.Context, id string) (*LayoutResultRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("result ID is required")
	}

	query := `
		SELECT id, job_id, qdrant_point_id, image_width, image_height,
			recognized_text, bounding_boxes, regions, layout, stats, created_at
		FROM blueprint.layout_results
		WHERE id = $1::uuid
	`

	var rec LayoutResultRecord
	var boxes, regions, layout, stats []byte
	err := p.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID, &rec.JobID, &rec.QdrantPointID, &rec.ImageWidth, &rec.ImageHeight,
		&rec.RecognizedText, &boxes, &regions, &layout, &stats, &rec.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("layout result not found: %s", id)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get layout result: %w", err)
	}

	rec.BoundingBoxes = boxes
	rec.Regions = regions
	rec.Layout = layout
	rec.Stats = stats
	return &rec, nil
}

// GetLayoutResults retrieves several result rows, skipping unknown IDs
func (p *PostgresClient) GetLayoutResults(ctx context.Context, ids []string) (map[string]*LayoutResultRecord, error) {
	out := make(map[string]*LayoutResultRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query := `
		SELECT id, job_id, image_width, image_height, recognized_text, created_at
		FROM blueprint.layout_results
		WHERE id = ANY($1::uuid[])
	`

	rows, err := p.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query layout results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec LayoutResultRecord
		if err := rows.Scan(&rec.ID, &rec.JobID, &rec.ImageWidth, &rec.ImageHeight, &rec.RecognizedText, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan layout result: %w", err)
		}
		out[rec.ID] = &rec
	}

	return out, rows.Err()
}

// GetJobByID retrieves a job by ID
func (p *PostgresClient) GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	query := `
		SELECT
			id, status, progress, processing_time_ms, result_id,
			error_code, error_message, metadata, created_at, updated_at
		FROM blueprint.layout_jobs
		WHERE id = $1::uuid
	`

	var (
		id, status                        string
		progress                          int
		processingTimeMs                  sql.NullInt64
		resultID, errorCode, errorMessage sql.NullString
		metadataJSON                      []byte
		createdAt, updatedAt              time.Time
	)

	err := p.db.QueryRowContext(ctx, query, jobID).Scan(
		&id, &status, &progress, &processingTimeMs, &resultID,
		&errorCode, &errorMessage, &metadataJSON, &createdAt, &updatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	var metadata map[string]interface{}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	result := map[string]interface{}{
		"id":        id,
		"status":    status,
		"progress":  progress,
		"createdAt": createdAt,
		"updatedAt": updatedAt,
		"metadata":  metadata,
	}

	if processingTimeMs.Valid {
		result["processingTimeMs"] = processingTimeMs.Int64
	}
	if resultID.Valid {
		result["resultId"] = resultID.String
	}
	if errorCode.Valid {
		result["errorCode"] = errorCode.String
	}
	if errorMessage.Valid {
		result["errorMessage"] = errorMessage.String
	}

	return result, nil
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (p *PostgresClient) GetStats() map[string]interface{} {
	s := p.db.Stats()
	return map[string]interface{}{
		"max_open_connections": s.MaxOpenConnections,
		"open_connections":     s.OpenConnections,
		"in_use":               s.InUse,
		"idle":                 s.Idle,
		"wait_count":           s.WaitCount,
		"wait_duration":        s.WaitDuration.String(),
	}
}

func jsonParam(raw json.RawMessage, empty string) string {
	if len(raw) == 0 {
		return empty
	}
	return string(sanitizeJSONForPostgres(raw))
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(sanitizeJSONForPostgres(raw))
}
