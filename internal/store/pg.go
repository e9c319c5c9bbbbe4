package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/costlens/advisor/internal/models"
)

// PGStore is the Postgres-backed Store.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	return nil
}

func (s *PGStore) CreateReport(ctx context.Context, in ReportInput) (models.Report, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	query := `
		INSERT INTO reports
		  (id, report_type, data_source, status, version, retry_count,
		   source_file_key, live_subscription_id, uploaded_at)
		VALUES ($1,$2,$3,$4,1,0,$5,$6,NOW())
		RETURNING uploaded_at
	`
	var uploadedAt time.Time
	err := s.db.QueryRowContext(ctx, query,
		in.ID, in.ReportType, in.DataSource, models.StatusUploaded,
		nullString(in.SourceFileKey), nullString(in.LiveSubscriptionID),
	).Scan(&uploadedAt)
	if err != nil {
		return models.Report{}, fmt.Errorf("insert report: %w", err)
	}
	return models.Report{
		ID:                 in.ID,
		ReportType:         in.ReportType,
		DataSource:         in.DataSource,
		Status:             models.StatusUploaded,
		Version:            1,
		SourceFileKey:      in.SourceFileKey,
		LiveSubscriptionID: in.LiveSubscriptionID,
		UploadedAt:         uploadedAt,
	}, nil
}

const reportColumns = `
	id, report_type, data_source, status, version, retry_count,
	source_file_key, html_file_key, pdf_file_key, live_subscription_id,
	analysis_data, error_message, uploaded_at, started_at, completed_at
`

func (s *PGStore) GetReport(ctx context.Context, id uuid.UUID) (models.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports WHERE id=$1`
	return scanReport(s.db.QueryRowContext(ctx, query, id))
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReport(row rowScanner) (models.Report, error) {
	var (
		r                                   models.Report
		sourceKey, htmlKey, pdfKey, liveSub sql.NullString
		analysis                            []byte
		errMsg                              sql.NullString
		startedAt, completedAt              sql.NullTime
	)
	err := row.Scan(
		&r.ID, &r.ReportType, &r.DataSource, &r.Status, &r.Version, &r.RetryCount,
		&sourceKey, &htmlKey, &pdfKey, &liveSub,
		&analysis, &errMsg, &r.UploadedAt, &startedAt, &completedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Report{}, ErrNotFound
		}
		return models.Report{}, fmt.Errorf("scan report: %w", err)
	}
	r.SourceFileKey = sourceKey.String
	r.HTMLFileKey = htmlKey.String
	r.PDFFileKey = pdfKey.String
	r.LiveSubscriptionID = liveSub.String
	if len(analysis) > 0 {
		r.AnalysisData = append(json.RawMessage(nil), analysis...)
	}
	r.ErrorMessage = errMsg.String
	if startedAt.Valid {
		t := startedAt.Time
		r.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	return r, nil
}

// Transition applies one state-machine edge under optimistic
// concurrency: the UPDATE only matches when the report still sits at
// the expected (status, version) pair.
func (s *PGStore) Transition(ctx context.Context, id uuid.UUID, from, to models.ReportStatus, version int) (models.Report, error) {
	if !models.CanTransition(from, to) {
		return models.Report{}, fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	query := `
		UPDATE reports
		SET status=$4,
		    version=version+1,
		    started_at=CASE WHEN $4='processing' THEN NOW() ELSE started_at END,
		    completed_at=CASE WHEN $4='completed' THEN NOW() ELSE completed_at END
		WHERE id=$1 AND status=$2 AND version=$3
		RETURNING ` + reportColumns
	rep, err := scanReport(s.db.QueryRowContext(ctx, query, id, from, version, to))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Either the report is gone or another owner moved it.
			if _, getErr := s.GetReport(ctx, id); getErr == nil {
				return models.Report{}, ErrConflict
			}
			return models.Report{}, ErrNotFound
		}
		return models.Report{}, fmt.Errorf("transition report: %w", err)
	}
	return rep, nil
}

func (s *PGStore) Fail(ctx context.Context, id uuid.UUID, message string) error {
	query := `
		UPDATE reports
		SET status=$2, version=version+1, error_message=$3, completed_at=NOW()
		WHERE id=$1 AND status NOT IN ('completed','failed','cancelled')
	`
	res, err := s.db.ExecContext(ctx, query, id, models.StatusFailed, message)
	if err != nil {
		return fmt.Errorf("fail report: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *PGStore) Cancel(ctx context.Context, id uuid.UUID) (models.Report, error) {
	query := `
		UPDATE reports
		SET status=$2, version=version+1, completed_at=NOW()
		WHERE id=$1 AND status NOT IN ('completed','failed','cancelled')
		RETURNING ` + reportColumns
	rep, err := scanReport(s.db.QueryRowContext(ctx, query, id, models.StatusCancelled))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			if _, getErr := s.GetReport(ctx, id); getErr == nil {
				return models.Report{}, ErrConflict
			}
			return models.Report{}, ErrNotFound
		}
		return models.Report{}, fmt.Errorf("cancel report: %w", err)
	}
	return rep, nil
}

func (s *PGStore) IncrementRetry(ctx context.Context, id uuid.UUID) (int, error) {
	var count int
	query := `UPDATE reports SET retry_count=retry_count+1 WHERE id=$1 RETURNING retry_count`
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&count); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("increment retry: %w", err)
	}
	return count, nil
}

func (s *PGStore) SetAnalysisData(ctx context.Context, id uuid.UUID, data json.RawMessage) error {
	query := `UPDATE reports SET analysis_data=$2 WHERE id=$1`
	res, err := s.db.ExecContext(ctx, query, id, []byte(data))
	if err != nil {
		return fmt.Errorf("set analysis data: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) SetArtifacts(ctx context.Context, id uuid.UUID, htmlKey, pdfKey string) error {
	query := `UPDATE reports SET html_file_key=$2, pdf_file_key=$3 WHERE id=$1`
	res, err := s.db.ExecContext(ctx, query, id, htmlKey, pdfKey)
	if err != nil {
		return fmt.Errorf("set artifacts: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

const insertRecommendationQuery = `
	INSERT INTO recommendations
	  (id, report_id, row_number, category, business_impact, recommendation,
	   potential_benefits, subscription_id, subscription_name, resource_group,
	   resource_name, resource_type, potential_savings, currency,
	   is_reservation, reservation_type, commitment_term_years,
	   is_savings_plan, commitment_category, created_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,NOW())
`

func recommendationArgs(rec models.Recommendation) []interface{} {
	cls := rec.Classification
	return []interface{}{
		rec.ID, rec.ReportID, rec.RowNumber, rec.Category, rec.BusinessImpact,
		rec.Recommendation, rec.PotentialBenefits,
		nullString(rec.SubscriptionID), nullString(rec.SubscriptionName),
		nullString(rec.ResourceGroup), nullString(rec.ResourceName), nullString(rec.ResourceType),
		rec.PotentialSavings, nullString(rec.Currency),
		cls.IsReservation, nullReservationType(cls.ReservationType), nullInt(cls.CommitmentTermYears),
		cls.IsSavingsPlan, cls.CommitmentCategory,
	}
}

// BulkInsertRecommendations writes records in transactional batches so
// one huge upload neither holds a single giant transaction nor loses
// classification atomicity: each row's nineteen columns, classification
// included, land in one INSERT.
func (s *PGStore) BulkInsertRecommendations(ctx context.Context, reportID uuid.UUID, recs []models.Recommendation, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 500
	}
	for start := 0; start < len(recs); start += batchSize {
		end := start + batchSize
		if end > len(recs) {
			end = len(recs)
		}
		if err := s.insertBatch(ctx, reportID, recs[start:end]); err != nil {
			return fmt.Errorf("insert batch starting at %d: %w", start, err)
		}
	}
	return nil
}

func (s *PGStore) insertBatch(ctx context.Context, reportID uuid.UUID, recs []models.Recommendation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertRecommendationQuery)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range recs {
		rec := &recs[i]
		if rec.ID == uuid.Nil {
			rec.ID = uuid.New()
		}
		rec.ReportID = reportID
		if _, err := stmt.ExecContext(ctx, recommendationArgs(*rec)...); err != nil {
			return fmt.Errorf("insert recommendation row %d: %w", rec.RowNumber, err)
		}
	}
	return tx.Commit()
}

func (s *PGStore) InsertRecommendation(ctx context.Context, rec models.Recommendation) (models.Recommendation, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if _, err := s.db.ExecContext(ctx, insertRecommendationQuery, recommendationArgs(rec)...); err != nil {
		return models.Recommendation{}, fmt.Errorf("insert recommendation: %w", err)
	}
	rec.CreatedAt = time.Now().UTC()
	return rec, nil
}

func (s *PGStore) ListRecommendations(ctx context.Context, reportID uuid.UUID) ([]models.Recommendation, error) {
	query := `
		SELECT id, report_id, row_number, category, business_impact, recommendation,
		       potential_benefits, subscription_id, subscription_name, resource_group,
		       resource_name, resource_type, potential_savings, currency,
		       is_reservation, reservation_type, commitment_term_years,
		       is_savings_plan, commitment_category, created_at
		FROM recommendations
		WHERE report_id=$1
		ORDER BY row_number, created_at
	`
	rows, err := s.db.QueryContext(ctx, query, reportID)
	if err != nil {
		return nil, fmt.Errorf("list recommendations: %w", err)
	}
	defer rows.Close()

	var recs []models.Recommendation
	for rows.Next() {
		var (
			rec               models.Recommendation
			subID, subName    sql.NullString
			rg, rname, rtype  sql.NullString
			currency, resType sql.NullString
			termYears         sql.NullInt64
		)
		err := rows.Scan(
			&rec.ID, &rec.ReportID, &rec.RowNumber, &rec.Category, &rec.BusinessImpact,
			&rec.Recommendation, &rec.PotentialBenefits,
			&subID, &subName, &rg, &rname, &rtype,
			&rec.PotentialSavings, &currency,
			&rec.Classification.IsReservation, &resType, &termYears,
			&rec.Classification.IsSavingsPlan, &rec.Classification.CommitmentCategory,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan recommendation: %w", err)
		}
		rec.SubscriptionID = subID.String
		rec.SubscriptionName = subName.String
		rec.ResourceGroup = rg.String
		rec.ResourceName = rname.String
		rec.ResourceType = rtype.String
		rec.Currency = currency.String
		if resType.Valid {
			rt := models.ReservationType(resType.String)
			rec.Classification.ReservationType = &rt
		}
		if termYears.Valid {
			ty := int(termYears.Int64)
			rec.Classification.CommitmentTermYears = &ty
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recommendations: %w", err)
	}
	return recs, nil
}

// UpdateClassification rewrites all five classification columns in one
// statement.
func (s *PGStore) UpdateClassification(ctx context.Context, recID uuid.UUID, cls models.Classification) error {
	query := `
		UPDATE recommendations
		SET is_reservation=$2,
		    reservation_type=$3,
		    commitment_term_years=$4,
		    is_savings_plan=$5,
		    commitment_category=$6
		WHERE id=$1
	`
	res, err := s.db.ExecContext(ctx, query, recID,
		cls.IsReservation, nullReservationType(cls.ReservationType), nullInt(cls.CommitmentTermYears),
		cls.IsSavingsPlan, cls.CommitmentCategory,
	)
	if err != nil {
		return fmt.Errorf("update classification: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullReservationType(v *models.ReservationType) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*v), Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
