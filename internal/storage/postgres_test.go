package storage

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
)

func testPostgres(t *testing.T) *PostgresClient {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	pg, err := NewPostgresClient(url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { pg.Close() })
	if err := pg.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return pg
}

func TestPostgresJobLifecycle(t *testing.T) {
	pg := testPostgres(t)
	ctx := context.Background()
	jobID := uuid.New().String()

	steps := []*JobUpdate{
		{JobID: jobID, Status: JobStatusQueued, Metadata: map[string]interface{}{"filename": "home.png"}},
		{JobID: jobID, Status: JobStatusProcessing, Progress: 40},
		{JobID: jobID, Status: JobStatusCompleted, Progress: 100, ProcessingTimeMs: 1234},
	}
	for _, u := range steps {
		if err := pg.UpdateJobStatus(ctx, u); err != nil {
			t.Fatalf("UpdateJobStatus(%s): %v", u.Status, err)
		}
	}

	job, err := pg.GetJobByID(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJobByID: %v", err)
	}
	if job["status"] != JobStatusCompleted || job["progress"] != 100 {
		t.Errorf("unexpected job: %+v", job)
	}
	if meta, _ := job["metadata"].(map[string]interface{}); meta["filename"] != "home.png" {
		t.Errorf("metadata lost across updates: %+v", job["metadata"])
	}
}

func TestPostgresLayoutResult(t *testing.T) {
	pg := testPostgres(t)
	ctx := context.Background()

	rec := &LayoutResultRecord{
		ID:             uuid.New().String(),
		JobID:          uuid.New().String(),
		QdrantPointID:  uuid.New().String(),
		ImageWidth:     800,
		ImageHeight:    600,
		RecognizedText: "Orders",
		BoundingBoxes:  []byte(`[{"text":"Orders"}]`),
	}
	if _, err := pg.StoreLayoutResult(ctx, rec); err != nil {
		t.Fatalf("StoreLayoutResult: %v", err)
	}

	got, err := pg.GetLayoutResult(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetLayoutResult: %v", err)
	}
	if got.ImageWidth != 800 || got.RecognizedText != "Orders" || got.Layout != nil {
		t.Errorf("unexpected record: %+v", got)
	}

	many, err := pg.GetLayoutResults(ctx, []string{rec.ID, uuid.New().String()})
	if err != nil {
		t.Fatalf("GetLayoutResults: %v", err)
	}
	if len(many) != 1 {
		t.Errorf("expected 1 record, got %d", len(many))
	}
}
