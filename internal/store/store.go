// Package store persists reports and their recommendations.
package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/costlens/advisor/internal/models"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an optimistic status transition
	// loses: the report's current status/version no longer matches the
	// expected prior state. A second worker observing ErrConflict must
	// abandon the report rather than proceed.
	ErrConflict = errors.New("status transition conflict")
)

// ReportInput creates a new report. Exactly one of SourceFileKey and
// LiveSubscriptionID must be set, matching DataSource.
type ReportInput struct {
	ID                 uuid.UUID
	ReportType         models.ReportType
	DataSource         models.DataSource
	SourceFileKey      string
	LiveSubscriptionID string
}

// Store is the persistence surface for the pipeline. All report status
// writes go through Transition/Fail/Cancel so the state machine's edge
// set and the version counter are enforced in one place.
type Store interface {
	CreateReport(ctx context.Context, in ReportInput) (models.Report, error)
	GetReport(ctx context.Context, id uuid.UUID) (models.Report, error)

	// Transition moves a report along one state-machine edge,
	// conditional on it still being at (from, version). Returns
	// ErrConflict when the condition fails.
	Transition(ctx context.Context, id uuid.UUID, from, to models.ReportStatus, version int) (models.Report, error)

	// Fail marks a report failed with a human-readable message. Legal
	// from any non-terminal state.
	Fail(ctx context.Context, id uuid.UUID, message string) error

	// Cancel marks a report cancelled. Rejected with ErrConflict when
	// the report is already terminal.
	Cancel(ctx context.Context, id uuid.UUID) (models.Report, error)

	// IncrementRetry bumps the retry counter and returns the new value.
	IncrementRetry(ctx context.Context, id uuid.UUID) (int, error)

	SetAnalysisData(ctx context.Context, id uuid.UUID, data json.RawMessage) error
	SetArtifacts(ctx context.Context, id uuid.UUID, htmlKey, pdfKey string) error

	// BulkInsertRecommendations persists recommendations in
	// transactional batches of batchSize rows. Committed batches stay
	// committed if a later batch fails (at-least-once across batch
	// boundaries).
	BulkInsertRecommendations(ctx context.Context, reportID uuid.UUID, recs []models.Recommendation, batchSize int) error

	// InsertRecommendation persists a single manually entered record.
	InsertRecommendation(ctx context.Context, rec models.Recommendation) (models.Recommendation, error)

	ListRecommendations(ctx context.Context, reportID uuid.UUID) ([]models.Recommendation, error)

	// UpdateClassification rewrites the whole classification value
	// object for one recommendation. There is deliberately no way to
	// write individual classification fields.
	UpdateClassification(ctx context.Context, recID uuid.UUID, cls models.Classification) error

	Ping(ctx context.Context) error
}
