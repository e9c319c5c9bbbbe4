package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/costlens/advisor/internal/models"
)

// MemoryStore provides an in-memory implementation useful for tests.
type MemoryStore struct {
	mu              sync.RWMutex
	reports         map[uuid.UUID]models.Report
	recommendations map[uuid.UUID][]models.Recommendation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reports:         map[uuid.UUID]models.Report{},
		recommendations: map[uuid.UUID][]models.Recommendation{},
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) CreateReport(ctx context.Context, in ReportInput) (models.Report, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	rep := models.Report{
		ID:                 in.ID,
		ReportType:         in.ReportType,
		DataSource:         in.DataSource,
		Status:             models.StatusUploaded,
		Version:            1,
		SourceFileKey:      in.SourceFileKey,
		LiveSubscriptionID: in.LiveSubscriptionID,
		UploadedAt:         time.Now().UTC(),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[rep.ID] = rep
	return rep, nil
}

func (m *MemoryStore) GetReport(ctx context.Context, id uuid.UUID) (models.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rep, ok := m.reports[id]
	if !ok {
		return models.Report{}, ErrNotFound
	}
	return rep, nil
}

func (m *MemoryStore) Transition(ctx context.Context, id uuid.UUID, from, to models.ReportStatus, version int) (models.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rep, ok := m.reports[id]
	if !ok {
		return models.Report{}, ErrNotFound
	}
	if rep.Status != from || rep.Version != version {
		return models.Report{}, ErrConflict
	}
	if !models.CanTransition(from, to) {
		return models.Report{}, ErrConflict
	}
	rep.Status = to
	rep.Version++
	now := time.Now().UTC()
	switch to {
	case models.StatusProcessing:
		rep.StartedAt = &now
	case models.StatusCompleted:
		rep.CompletedAt = &now
	}
	m.reports[id] = rep
	return rep, nil
}

func (m *MemoryStore) Fail(ctx context.Context, id uuid.UUID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rep, ok := m.reports[id]
	if !ok {
		return ErrNotFound
	}
	if rep.Status.Terminal() {
		return ErrConflict
	}
	now := time.Now().UTC()
	rep.Status = models.StatusFailed
	rep.Version++
	rep.ErrorMessage = message
	rep.CompletedAt = &now
	m.reports[id] = rep
	return nil
}

func (m *MemoryStore) Cancel(ctx context.Context, id uuid.UUID) (models.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rep, ok := m.reports[id]
	if !ok {
		return models.Report{}, ErrNotFound
	}
	if rep.Status.Terminal() {
		return models.Report{}, ErrConflict
	}
	now := time.Now().UTC()
	rep.Status = models.StatusCancelled
	rep.Version++
	rep.CompletedAt = &now
	m.reports[id] = rep
	return rep, nil
}

func (m *MemoryStore) IncrementRetry(ctx context.Context, id uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rep, ok := m.reports[id]
	if !ok {
		return 0, ErrNotFound
	}
	rep.RetryCount++
	m.reports[id] = rep
	return rep.RetryCount, nil
}

func (m *MemoryStore) SetAnalysisData(ctx context.Context, id uuid.UUID, data json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rep, ok := m.reports[id]
	if !ok {
		return ErrNotFound
	}
	rep.AnalysisData = append(json.RawMessage(nil), data...)
	m.reports[id] = rep
	return nil
}

func (m *MemoryStore) SetArtifacts(ctx context.Context, id uuid.UUID, htmlKey, pdfKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rep, ok := m.reports[id]
	if !ok {
		return ErrNotFound
	}
	rep.HTMLFileKey = htmlKey
	rep.PDFFileKey = pdfKey
	m.reports[id] = rep
	return nil
}

func (m *MemoryStore) BulkInsertRecommendations(ctx context.Context, reportID uuid.UUID, recs []models.Recommendation, batchSize int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reports[reportID]; !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	for i := range recs {
		rec := recs[i]
		if rec.ID == uuid.Nil {
			rec.ID = uuid.New()
		}
		rec.ReportID = reportID
		rec.CreatedAt = now
		m.recommendations[reportID] = append(m.recommendations[reportID], rec)
	}
	return nil
}

func (m *MemoryStore) InsertRecommendation(ctx context.Context, rec models.Recommendation) (models.Recommendation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reports[rec.ReportID]; !ok {
		return models.Recommendation{}, ErrNotFound
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.CreatedAt = time.Now().UTC()
	m.recommendations[rec.ReportID] = append(m.recommendations[rec.ReportID], rec)
	return rec, nil
}

func (m *MemoryStore) ListRecommendations(ctx context.Context, reportID uuid.UUID) ([]models.Recommendation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := append([]models.Recommendation(nil), m.recommendations[reportID]...)
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].RowNumber < recs[j].RowNumber })
	return recs, nil
}

func (m *MemoryStore) UpdateClassification(ctx context.Context, recID uuid.UUID, cls models.Classification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for reportID, recs := range m.recommendations {
		for i := range recs {
			if recs[i].ID == recID {
				recs[i].Classification = cls
				m.recommendations[reportID] = recs
				return nil
			}
		}
	}
	return ErrNotFound
}
