/**
 * Storage Manager for the Layout Worker
 *
 * Coordinates storage operations across PostgreSQL (analysis results) and
 * Qdrant (layout fingerprints). A result is only visible once both writes
 * succeed.
 */

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// resultStore is the relational side of the storage manager
type resultStore interface {
	UpdateJobStatus(ctx context.Context, update *JobUpdate) error
	StoreLayoutResult(ctx context.Context, rec *LayoutResultRecord) (time.Time, error)
	GetLayoutResult(ctx context.Context, id string) (*LayoutResultRecord, error)
	GetLayoutResults(ctx context.Context, ids []string) (map[string]*LayoutResultRecord, error)
	GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error)
	GetStats() map[string]interface{}
	Close() error
}

// vectorStore is the fingerprint side of the storage manager
type vectorStore interface {
	UpsertVector(ctx context.Context, point *FingerprintPoint) error
	SearchVectors(ctx context.Context, queryVector []float32, limit int) ([]*FingerprintPoint, error)
	DeleteVector(ctx context.Context, id string) error
	GetCollectionInfo(ctx context.Context) (map[string]interface{}, error)
	Close() error
}

// StorageManager coordinates PostgreSQL and Qdrant operations
type StorageManager struct {
	postgres resultStore
	qdrant   vectorStore
}

// LayoutResultInput is what the processor stores for one screenshot
type LayoutResultInput struct {
	JobID          string
	Fingerprint    []float32
	ImageWidth     int
	ImageHeight    int
	RecognizedText string
	BoundingBoxes  interface{}
	Regions        interface{}
	Layout         interface{}
	Stats          map[string]interface{}
}

// LayoutResultOutput identifies a stored result
type LayoutResultOutput struct {
	ID            string
	JobID         string
	QdrantPointID string
	CreatedAt     time.Time
}

// SimilarLayout is a search hit
type SimilarLayout struct {
	ResultID        string
	JobID           string
	QdrantPointID   string
	ImageWidth      int
	ImageHeight     int
	RecognizedText  string
	SimilarityScore float64
	CreatedAt       time.Time
}

// NewStorageManager creates a new storage manager
func NewStorageManager(postgresURL string, qdrantAddress string, qdrantCollection string) (*StorageManager, error) {
	postgres, err := NewPostgresClient(postgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := postgres.EnsureSchema(ctx); err != nil {
		postgres.Close()
		return nil, err
	}

	qdrant, err := NewQdrantClient(qdrantAddress, qdrantCollection)
	if err != nil {
		postgres.Close() // Cleanup on failure
		return nil, fmt.Errorf("failed to initialize Qdrant client: %w", err)
	}

	return newStorageManager(postgres, qdrant), nil
}

func newStorageManager(results resultStore, vectors vectorStore) *StorageManager {
	return &StorageManager{postgres: results, qdrant: vectors}
}

// StoreLayoutResult stores the fingerprint in Qdrant, then the result row in
// PostgreSQL. The fingerprint is deleted again if the row cannot be written.
func (sm *StorageManager) StoreLayoutResult(ctx context.Context, input *LayoutResultInput) (*LayoutResultOutput, error) {
	if input == nil {
		return nil, fmt.Errorf("input is required")
	}

	if input.JobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	if len(input.Fingerprint) != FingerprintDims {
		return nil, fmt.Errorf("invalid fingerprint dimensions: expected %d, got %d", FingerprintDims, len(input.Fingerprint))
	}

	// Marshal everything up front so a bad payload never reaches Qdrant
	boxesJSON, err := marshalOptional(input.BoundingBoxes)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bounding boxes: %w", err)
	}
	regionsJSON, err := marshalOptional(input.Regions)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal regions: %w", err)
	}
	layoutJSON, err := marshalOptional(input.Layout)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal layout: %w", err)
	}
	statsJSON, err := marshalOptional(input.Stats)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stats: %w", err)
	}

	resultID := uuid.New().String()
	pointID := uuid.New().String()

	// Step 1: fingerprint first, fails fast on a bad vector
	err = sm.qdrant.UpsertVector(ctx, &FingerprintPoint{
		ID:     pointID,
		Vector: input.Fingerprint,
		Metadata: map[string]interface{}{
			"job_id":       input.JobID,
			"result_id":    resultID,
			"image_width":  input.ImageWidth,
			"image_height": input.ImageHeight,
			"created_at":   time.Now().Unix(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store fingerprint in Qdrant: %w", err)
	}

	// Step 2: result row
	createdAt, err := sm.postgres.StoreLayoutResult(ctx, &LayoutResultRecord{
		ID:             resultID,
		JobID:          input.JobID,
		QdrantPointID:  pointID,
		ImageWidth:     input.ImageWidth,
		ImageHeight:    input.ImageHeight,
		RecognizedText: input.RecognizedText,
		BoundingBoxes:  boxesJSON,
		Regions:        regionsJSON,
		Layout:         layoutJSON,
		Stats:          statsJSON,
	})
	if err != nil {
		// Rollback: the caller's context may already be done
		rbCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if rbErr := sm.qdrant.DeleteVector(rbCtx, pointID); rbErr != nil {
			return nil, fmt.Errorf("failed to store result in PostgreSQL: %w (fingerprint rollback failed: %v)", err, rbErr)
		}
		return nil, fmt.Errorf("failed to store result in PostgreSQL: %w", err)
	}

	return &LayoutResultOutput{
		ID:            resultID,
		JobID:         input.JobID,
		QdrantPointID: pointID,
		CreatedAt:     createdAt,
	}, nil
}

// GetLayoutResult retrieves a stored result
func (sm *StorageManager) GetLayoutResult(ctx context.Context, resultID string) (*LayoutResultRecord, error) {
	return sm.postgres.GetLayoutResult(ctx, resultID)
}

// SearchSimilarLayouts finds stored results whose fingerprint is close to
// fingerprint, best match first. Hits without a result row are skipped.
func (sm *StorageManager) SearchSimilarLayouts(ctx context.Context, fingerprint []float32, limit int) ([]*SimilarLayout, error) {
	if len(fingerprint) != FingerprintDims {
		return nil, fmt.Errorf("invalid fingerprint dimensions: expected %d, got %d", FingerprintDims, len(fingerprint))
	}

	points, err := sm.qdrant.SearchVectors(ctx, fingerprint, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search fingerprints: %w", err)
	}

	ids := make([]string, 0, len(points))
	for _, p := range points {
		if id, ok := p.Metadata["result_id"].(string); ok {
			ids = append(ids, id)
		}
	}

	records, err := sm.postgres.GetLayoutResults(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]*SimilarLayout, 0, len(points))
	for _, p := range points {
		id, _ := p.Metadata["result_id"].(string)
		rec, ok := records[id]
		if !ok {
			continue
		}
		results = append(results, &SimilarLayout{
			ResultID:        rec.ID,
			JobID:           rec.JobID,
			QdrantPointID:   p.ID,
			ImageWidth:      rec.ImageWidth,
			ImageHeight:     rec.ImageHeight,
			RecognizedText:  rec.RecognizedText,
			SimilarityScore: float64(p.Score),
			CreatedAt:       rec.CreatedAt,
		})
	}

	return results, nil
}

// UpdateJobStatus updates job status in PostgreSQL
func (sm *StorageManager) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	return sm.postgres.UpdateJobStatus(ctx, update)
}

// GetJobByID retrieves job by ID
func (sm *StorageManager) GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error) {
	return sm.postgres.GetJobByID(ctx, jobID)
}

// GetStats returns statistics from both systems
func (sm *StorageManager) GetStats(ctx context.Context) (map[string]interface{}, error) {
	qdrantStats, err := sm.qdrant.GetCollectionInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get Qdrant stats: %w", err)
	}

	return map[string]interface{}{
		"postgres": sm.postgres.GetStats(),
		"qdrant":   qdrantStats,
	}, nil
}

// Close closes all connections
func (sm *StorageManager) Close() error {
	var pgErr, qdErr error

	if sm.postgres != nil {
		pgErr = sm.postgres.Close()
	}

	if sm.qdrant != nil {
		qdErr = sm.qdrant.Close()
	}

	if pgErr != nil {
		return fmt.Errorf("failed to close PostgreSQL: %w", pgErr)
	}

	if qdErr != nil {
		return fmt.Errorf("failed to close Qdrant: %w", qdErr)
	}

	return nil
}

func marshalOptional(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

var (
	nullEscape    = regexp.MustCompile(`\\u0000`)
	controlEscape = regexp.MustCompile(`\\u00[01][0-9a-fA-F]`)
)

// sanitizeJSONForPostgres removes escape sequences JSONB rejects. \u0000 is
// dropped and the remaining control characters become spaces.
func sanitizeJSONForPostgres(jsonBytes []byte) []byte {
	result := nullEscape.ReplaceAll(jsonBytes, []byte{})
	return controlEscape.ReplaceAll(result, []byte(" "))
}
