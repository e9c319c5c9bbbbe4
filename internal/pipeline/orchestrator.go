// Package pipeline drives a report through its lifecycle:
// uploaded -> processing (parse + classify + persist) -> generating
// (aggregate + render) -> completed. Exactly one worker owns a report
// at a time; every transition is guarded by the report's version
// counter so a lost race surfaces as a conflict instead of a double
// write.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/costlens/advisor/internal/aggregate"
	"github.com/costlens/advisor/internal/classifier"
	"github.com/costlens/advisor/internal/filestore"
	"github.com/costlens/advisor/internal/ingest"
	"github.com/costlens/advisor/internal/models"
	"github.com/costlens/advisor/internal/render"
	"github.com/costlens/advisor/internal/store"
)

// LiveFetcher pulls recommendations for a live-api report from the
// upstream advisory service. Implementations return ErrAuth-wrapped
// errors on credential failures and Transient-wrapped errors on
// connectivity problems.
type LiveFetcher interface {
	Fetch(ctx context.Context, subscriptionID string) ([]ingest.Entry, error)
}

// Config is passed in at construction; the orchestrator never reads
// process-wide state.
type Config struct {
	BatchSize      int
	MaxRetries     int
	RetryBaseDelay time.Duration
}

func (c *Config) defaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = models.MaxRetries
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = time.Second
	}
}

// Orchestrator executes pipeline steps for one report per Process call.
type Orchestrator struct {
	store    store.Store
	files    filestore.Store
	parser   *ingest.Parser
	cls      *classifier.Classifier
	pdfChain *render.Dispatcher
	html     *render.HTMLRenderer
	live     LiveFetcher
	cfg      Config
}

func New(st store.Store, files filestore.Store, cls *classifier.Classifier, html *render.HTMLRenderer, pdfChain *render.Dispatcher, live LiveFetcher, cfg Config) *Orchestrator {
	cfg.defaults()
	return &Orchestrator{
		store:    st,
		files:    files,
		parser:   ingest.New(cls),
		cls:      cls,
		pdfChain: pdfChain,
		html:     html,
		live:     live,
		cfg:      cfg,
	}
}

// Process runs the full pipeline for one report. A report found in a
// terminal state, or in a mid-pipeline state owned by someone else, is
// left alone. Errors are folded into the report's own status; the
// returned error is for the worker's log only.
func (o *Orchestrator) Process(ctx context.Context, id uuid.UUID) error {
	rep, err := o.store.GetReport(ctx, id)
	if err != nil {
		return fmt.Errorf("load report %s: %w", id, err)
	}
	if rep.Status.Terminal() {
		log.Printf("[pipeline] report %s already %s, nothing to do", id, rep.Status)
		return nil
	}
	if rep.Status != models.StatusUploaded {
		// Another worker holds the report mid-pipeline.
		log.Printf("[pipeline] report %s is %s, owned elsewhere", id, rep.Status)
		return nil
	}

	if !rep.ValidateSource() {
		msg := "report must reference exactly one source (uploaded file or live subscription)"
		if err := o.store.Fail(ctx, id, msg); err != nil {
			return fmt.Errorf("fail report %s: %w", id, err)
		}
		return nil
	}

	rep, err = o.store.Transition(ctx, id, models.StatusUploaded, models.StatusProcessing, rep.Version)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			log.Printf("[pipeline] report %s claimed by another worker", id)
			return nil
		}
		return fmt.Errorf("claim report %s: %w", id, err)
	}

	if err := o.withRetries(ctx, id, "ingestion", func() error {
		return o.runIngestion(ctx, rep)
	}); err != nil {
		return o.failWith(ctx, id, "ingestion", err)
	}

	rep, cancelled, err := o.advance(ctx, id, models.StatusProcessing, models.StatusGenerating)
	if err != nil || cancelled {
		return err
	}

	var analysis aggregate.Analysis
	if err := o.withRetries(ctx, id, "aggregation", func() error {
		var aerr error
		analysis, aerr = o.runAggregation(ctx, rep)
		return aerr
	}); err != nil {
		return o.failWith(ctx, id, "aggregation", err)
	}

	// Rendering failure with valid aggregated data is structural, not
	// transient: no retry.
	if err := o.runRendering(ctx, rep, analysis); err != nil {
		return o.failWith(ctx, id, "rendering", err)
	}

	_, cancelled, err = o.advance(ctx, id, models.StatusGenerating, models.StatusCompleted)
	if err != nil || cancelled {
		return err
	}
	log.Printf("[pipeline] report %s completed", id)
	return nil
}

// advance applies one transition, treating an observed cancellation as
// a clean stop rather than an error.
func (o *Orchestrator) advance(ctx context.Context, id uuid.UUID, from, to models.ReportStatus) (models.Report, bool, error) {
	rep, err := o.store.GetReport(ctx, id)
	if err != nil {
		return models.Report{}, false, fmt.Errorf("reload report %s: %w", id, err)
	}
	if rep.Status == models.StatusCancelled {
		log.Printf("[pipeline] report %s cancelled, aborting", id)
		return rep, true, nil
	}
	rep, err = o.store.Transition(ctx, id, from, to, rep.Version)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			log.Printf("[pipeline] report %s moved concurrently, aborting", id)
			return models.Report{}, true, nil
		}
		return models.Report{}, false, fmt.Errorf("transition %s %s->%s: %w", id, from, to, err)
	}
	return rep, false, nil
}

// withRetries runs step, retrying transient failures with exponential
// backoff up to the retry bound. Non-transient failures and exhausted
// retries surface to the caller; cancellation observed between
// attempts stops quietly.
func (o *Orchestrator) withRetries(ctx context.Context, id uuid.UUID, name string, step func() error) error {
	delay := o.cfg.RetryBaseDelay
	for {
		err := step()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}

		count, rerr := o.store.IncrementRetry(ctx, id)
		if rerr != nil {
			return fmt.Errorf("increment retry: %w", rerr)
		}
		if count >= o.cfg.MaxRetries {
			return fmt.Errorf("%s failed after %d attempts: %w", name, count, err)
		}
		log.Printf("[pipeline] report %s %s attempt %d failed, retrying in %s: %v", id, name, count, delay, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2

		rep, gerr := o.store.GetReport(ctx, id)
		if gerr != nil {
			return fmt.Errorf("reload report: %w", gerr)
		}
		if rep.Status.Terminal() {
			return nil
		}
	}
}

func (o *Orchestrator) failWith(ctx context.Context, id uuid.UUID, step string, err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	msg := fmt.Sprintf("%s failed: %v", step, err)
	if ferr := o.store.Fail(ctx, id, msg); ferr != nil && !errors.Is(ferr, store.ErrConflict) {
		return fmt.Errorf("mark report %s failed: %w", id, ferr)
	}
	log.Printf("[pipeline] report %s failed at %s: %v", id, step, err)
	return nil
}

// runIngestion resolves the source into classified recommendations and
// bulk-persists them.
func (o *Orchestrator) runIngestion(ctx context.Context, rep models.Report) (err error) {
	var recs []models.Recommendation
	switch rep.DataSource {
	case models.DataSourceFileUpload:
		data, gerr := o.files.Get(ctx, rep.SourceFileKey)
		if gerr != nil {
			if errors.Is(gerr, filestore.ErrNotFound) {
				return fmt.Errorf("%w: source file %s missing", ingest.ErrValidation, rep.SourceFileKey)
			}
			return Transient(fmt.Errorf("fetch source file: %w", gerr))
		}
		recs, err = o.parser.Parse(rep.SourceFileKey, data)
		if err != nil {
			return err
		}
	case models.DataSourceLiveAPI:
		if o.live == nil {
			return fmt.Errorf("%w: live-api source not configured", ingest.ErrValidation)
		}
		entries, ferr := o.live.Fetch(ctx, rep.LiveSubscriptionID)
		if ferr != nil {
			return ferr
		}
		for _, e := range entries {
			recs = append(recs, o.parser.Build(e))
		}
	default:
		return fmt.Errorf("%w: unknown data source %q", ingest.ErrValidation, rep.DataSource)
	}

	if err := o.store.BulkInsertRecommendations(ctx, rep.ID, recs, o.cfg.BatchSize); err != nil {
		return Transient(fmt.Errorf("persist recommendations: %w", err))
	}
	return nil
}

func (o *Orchestrator) runAggregation(ctx context.Context, rep models.Report) (aggregate.Analysis, error) {
	recs, err := o.store.ListRecommendations(ctx, rep.ID)
	if err != nil {
		return aggregate.Analysis{}, Transient(fmt.Errorf("list recommendations: %w", err))
	}
	analysis := aggregate.Compute(recs)
	blob, err := json.Marshal(analysis)
	if err != nil {
		return aggregate.Analysis{}, fmt.Errorf("marshal analysis: %w", err)
	}
	if err := o.store.SetAnalysisData(ctx, rep.ID, blob); err != nil {
		return aggregate.Analysis{}, Transient(fmt.Errorf("cache analysis: %w", err))
	}
	return analysis, nil
}

func (o *Orchestrator) runRendering(ctx context.Context, rep models.Report, analysis aggregate.Analysis) error {
	in := render.Input{Report: rep, Analysis: analysis}

	htmlDoc, err := o.html.Render(ctx, in)
	if err != nil {
		return fmt.Errorf("render html: %w", err)
	}
	pdfDoc, engine, err := o.pdfChain.Render(ctx, in)
	if err != nil {
		return err
	}
	log.Printf("[pipeline] report %s rendered with engine %s", rep.ID, engine)

	htmlKey := fmt.Sprintf("reports/%s/report.html", rep.ID)
	pdfKey := fmt.Sprintf("reports/%s/report.pdf", rep.ID)
	if err := o.files.Put(ctx, htmlKey, htmlDoc, "text/html"); err != nil {
		return fmt.Errorf("store html artifact: %w", err)
	}
	if err := o.files.Put(ctx, pdfKey, pdfDoc, "application/pdf"); err != nil {
		return fmt.Errorf("store pdf artifact: %w", err)
	}
	if err := o.store.SetArtifacts(ctx, rep.ID, htmlKey, pdfKey); err != nil {
		return fmt.Errorf("record artifacts: %w", err)
	}
	return nil
}

// Reclassify re-runs the classifier over a report's stored
// recommendations, rewriting the classification value object where the
// result changed and refreshing the cached analysis. With unchanged
// source text it is a no-op.
func (o *Orchestrator) Reclassify(ctx context.Context, id uuid.UUID) error {
	recs, err := o.store.ListRecommendations(ctx, id)
	if err != nil {
		return fmt.Errorf("list recommendations: %w", err)
	}

	changed := 0
	for i := range recs {
		rec := &recs[i]
		cls := o.cls.Classify(rec.Recommendation, rec.PotentialBenefits)
		if classificationEqual(cls, rec.Classification) {
			continue
		}
		if err := o.store.UpdateClassification(ctx, rec.ID, cls); err != nil {
			return fmt.Errorf("update classification for %s: %w", rec.ID, err)
		}
		rec.Classification = cls
		changed++
	}
	if changed == 0 {
		log.Printf("[pipeline] report %s reclassification: no changes", id)
		return nil
	}

	analysis := aggregate.Compute(recs)
	blob, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("marshal analysis: %w", err)
	}
	if err := o.store.SetAnalysisData(ctx, id, blob); err != nil {
		return fmt.Errorf("refresh analysis: %w", err)
	}
	log.Printf("[pipeline] report %s reclassification: %d of %d changed", id, changed, len(recs))
	return nil
}

func classificationEqual(a, b models.Classification) bool {
	if a.IsReservation != b.IsReservation ||
		a.IsSavingsPlan != b.IsSavingsPlan ||
		a.CommitmentCategory != b.CommitmentCategory {
		return false
	}
	if (a.ReservationType == nil) != (b.ReservationType == nil) {
		return false
	}
	if a.ReservationType != nil && *a.ReservationType != *b.ReservationType {
		return false
	}
	if (a.CommitmentTermYears == nil) != (b.CommitmentTermYears == nil) {
		return false
	}
	if a.CommitmentTermYears != nil && *a.CommitmentTermYears != *b.CommitmentTermYears {
		return false
	}
	return true
}
