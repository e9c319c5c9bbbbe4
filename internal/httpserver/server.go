// Package httpserver exposes the report API: uploads, status queries,
// manual entry, cancellation and reclassification.
package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/costlens/advisor/internal/classifier"
	"github.com/costlens/advisor/internal/filestore"
	"github.com/costlens/advisor/internal/ingest"
	"github.com/costlens/advisor/internal/models"
	"github.com/costlens/advisor/internal/queue"
	"github.com/costlens/advisor/internal/store"
)

// Config bounds the upload surface.
type Config struct {
	MaxUploadBytes int64
}

type Server struct {
	store    store.Store
	files    filestore.Store
	producer queue.Producer
	cls      *classifier.Classifier
	cfg      Config
	auth     func(http.Handler) http.Handler
}

func New(st store.Store, files filestore.Store, producer queue.Producer, cls *classifier.Classifier, cfg Config, auth func(http.Handler) http.Handler) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 20 << 20
	}
	return &Server{
		store:    st,
		files:    files,
		producer: producer,
		cls:      cls,
		cfg:      cfg,
		auth:     auth,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.auth != nil {
			r.Use(s.auth)
		}
		r.Post("/reports", s.handleCreateReport)
		r.Get("/reports/{id}", s.handleGetReport)
		r.Get("/reports/{id}/analysis", s.handleGetAnalysis)
		r.Post("/reports/{id}/cancel", s.handleCancel)
		r.Post("/reports/{id}/reclassify", s.handleReclassify)
		r.Post("/reports/{id}/recommendations", s.handleManualEntry)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createLiveRequest struct {
	ReportType     string `json:"reportType"`
	DataSource     string `json:"dataSource"`
	SubscriptionID string `json:"subscriptionId"`
}

// handleCreateReport accepts either a multipart upload (file source) or
// a JSON body (live-api source). The report is created directly in
// uploaded and a processing task is enqueued.
func (s *Server) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")
	var in store.ReportInput
	var err error
	switch {
	case strings.HasPrefix(contentType, "multipart/form-data"):
		in, err = s.parseUpload(w, r)
	case strings.HasPrefix(contentType, "application/json"):
		in, err = s.parseLiveRequest(r)
	default:
		err = fmt.Errorf("unsupported content type %q", contentType)
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	rep, err := s.store.CreateReport(r.Context(), in)
	if err != nil {
		// Without an owning report the uploaded blob is unreachable;
		// remove it rather than leave it orphaned.
		if in.SourceFileKey != "" {
			if derr := s.files.Delete(r.Context(), in.SourceFileKey); derr != nil {
				log.Printf("[httpserver] delete orphaned upload %s: %v", in.SourceFileKey, derr)
			}
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.producer.Enqueue(r.Context(), queue.Task{Type: queue.TaskProcess, ReportID: rep.ID}); err != nil {
		// The report exists but no worker will pick it up; surface that
		// instead of pretending the pipeline is running.
		_ = s.store.Fail(r.Context(), rep.ID, "failed to enqueue processing task")
		respondError(w, http.StatusServiceUnavailable, fmt.Sprintf("enqueue: %v", err))
		return
	}

	respondJSON(w, http.StatusAccepted, rep)
}

func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request) (store.ReportInput, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		return store.ReportInput{}, fmt.Errorf("parse upload: %w", err)
	}

	reportType := models.ReportType(r.FormValue("report_type"))
	if !reportType.Valid() {
		return store.ReportInput{}, fmt.Errorf("invalid report_type %q", reportType)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return store.ReportInput{}, fmt.Errorf("file field required: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return store.ReportInput{}, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return store.ReportInput{}, errors.New("uploaded file is empty")
	}

	filename := header.Filename
	if filename == "" {
		filename = "export.csv"
	}
	key := fmt.Sprintf("uploads/%s/%s", uuid.NewString(), filename)
	if err := s.files.Put(r.Context(), key, data, header.Header.Get("Content-Type")); err != nil {
		return store.ReportInput{}, fmt.Errorf("store upload: %w", err)
	}

	return store.ReportInput{
		ReportType:    reportType,
		DataSource:    models.DataSourceFileUpload,
		SourceFileKey: key,
	}, nil
}

func (s *Server) parseLiveRequest(r *http.Request) (store.ReportInput, error) {
	var req createLiveRequest
	if err := decodeJSON(r, &req); err != nil {
		return store.ReportInput{}, err
	}
	reportType := models.ReportType(req.ReportType)
	if !reportType.Valid() {
		return store.ReportInput{}, fmt.Errorf("invalid reportType %q", req.ReportType)
	}
	if models.DataSource(req.DataSource) != models.DataSourceLiveAPI {
		return store.ReportInput{}, fmt.Errorf("json body requires dataSource %q", models.DataSourceLiveAPI)
	}
	if req.SubscriptionID == "" {
		return store.ReportInput{}, errors.New("subscriptionId required for live-api source")
	}
	return store.ReportInput{
		ReportType:         reportType,
		DataSource:         models.DataSourceLiveAPI,
		LiveSubscriptionID: req.SubscriptionID,
	}, nil
}

func (s *Server) reportID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid report id")
		return uuid.Nil, false
	}
	return id, true
}

type statusResponse struct {
	ID           uuid.UUID           `json:"id"`
	Status       models.ReportStatus `json:"status"`
	ErrorMessage string              `json:"errorMessage,omitempty"`
	HTMLFileKey  string              `json:"htmlFileKey,omitempty"`
	PDFFileKey   string              `json:"pdfFileKey,omitempty"`
	AnalysisData json.RawMessage     `json:"analysisData,omitempty"`
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	id, ok := s.reportID(w, r)
	if !ok {
		return
	}
	rep, err := s.store.GetReport(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, statusResponse{
		ID:           rep.ID,
		Status:       rep.Status,
		ErrorMessage: rep.ErrorMessage,
		HTMLFileKey:  rep.HTMLFileKey,
		PDFFileKey:   rep.PDFFileKey,
		AnalysisData: rep.AnalysisData,
	})
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	id, ok := s.reportID(w, r)
	if !ok {
		return
	}
	rep, err := s.store.GetReport(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if len(rep.AnalysisData) == 0 {
		respondError(w, http.StatusNotFound, "analysis not available yet")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rep.AnalysisData)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := s.reportID(w, r)
	if !ok {
		return
	}
	rep, err := s.store.Cancel(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			respondError(w, http.StatusConflict, "report is already terminal")
			return
		}
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rep)
}

func (s *Server) handleReclassify(w http.ResponseWriter, r *http.Request) {
	id, ok := s.reportID(w, r)
	if !ok {
		return
	}
	if _, err := s.store.GetReport(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}
	if err := s.producer.Enqueue(r.Context(), queue.Task{Type: queue.TaskReclassify, ReportID: id}); err != nil {
		respondError(w, http.StatusServiceUnavailable, fmt.Sprintf("enqueue: %v", err))
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "reclassification queued"})
}

type manualEntryRequest struct {
	Category          string  `json:"category"`
	BusinessImpact    string  `json:"businessImpact"`
	Recommendation    string  `json:"recommendation"`
	PotentialBenefits string  `json:"potentialBenefits"`
	SubscriptionID    string  `json:"subscriptionId"`
	SubscriptionName  string  `json:"subscriptionName"`
	ResourceGroup     string  `json:"resourceGroup"`
	ResourceName      string  `json:"resourceName"`
	ResourceType      string  `json:"resourceType"`
	PotentialSavings  float64 `json:"potentialSavings"`
	Currency          string  `json:"currency"`
}

// handleManualEntry persists one hand-entered recommendation. The
// classifier runs synchronously; the record carries the sentinel row
// number marking it as manual.
func (s *Server) handleManualEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := s.reportID(w, r)
	if !ok {
		return
	}
	var req manualEntryRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Recommendation == "" {
		respondError(w, http.StatusBadRequest, "recommendation text required")
		return
	}
	category, err := ingest.ParseCategory(req.Category)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	impact, err := ingest.ParseImpact(req.BusinessImpact)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.PotentialSavings < 0 {
		respondError(w, http.StatusBadRequest, "potentialSavings must be non-negative")
		return
	}

	rec := models.Recommendation{
		ReportID:          id,
		RowNumber:         models.ManualEntryRow,
		Category:          category,
		BusinessImpact:    impact,
		Recommendation:    req.Recommendation,
		PotentialBenefits: req.PotentialBenefits,
		SubscriptionID:    req.SubscriptionID,
		SubscriptionName:  req.SubscriptionName,
		ResourceGroup:     req.ResourceGroup,
		ResourceName:      req.ResourceName,
		ResourceType:      req.ResourceType,
		PotentialSavings:  req.PotentialSavings,
		Currency:          req.Currency,
		Classification:    s.cls.Classify(req.Recommendation, req.PotentialBenefits),
	}

	saved, err := s.store.InsertRecommendation(r.Context(), rec)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, saved)
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func respondStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "report not found")
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
