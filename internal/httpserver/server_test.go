package httpserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/costlens/advisor/internal/auth"
	"github.com/costlens/advisor/internal/classifier"
	"github.com/costlens/advisor/internal/filestore"
	"github.com/costlens/advisor/internal/httpserver"
	"github.com/costlens/advisor/internal/models"
	"github.com/costlens/advisor/internal/queue"
	"github.com/costlens/advisor/internal/store"
)

const sampleCSV = "Category,Business Impact,Recommendation,Potential Benefits\n" +
	"Cost,High,Buy reserved instances,Commit for 3 years\n"

type env struct {
	store *store.MemoryStore
	files *filestore.MemoryStore
	queue *queue.MemoryQueue
	srv   *httptest.Server
}

func newEnv(t *testing.T, authSecret string) *env {
	t.Helper()
	e := &env{
		store: store.NewMemoryStore(),
		files: filestore.NewMemoryStore(),
		queue: queue.NewMemoryQueue(),
	}
	server := httpserver.New(e.store, e.files, e.queue,
		classifier.New(classifier.DefaultOptions()),
		httpserver.Config{MaxUploadBytes: 1 << 20},
		auth.NewMiddleware(authSecret),
	)
	e.srv = httptest.NewServer(server.Router())
	t.Cleanup(e.srv.Close)
	return e
}

func multipartUpload(t *testing.T, reportType, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("report_type", reportType))
	fw, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestCreateReportUpload(t *testing.T) {
	e := newEnv(t, "")
	body, contentType := multipartUpload(t, "cost", "export.csv", sampleCSV)

	resp, err := http.Post(e.srv.URL+"/reports", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var rep models.Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rep))
	assert.Equal(t, models.StatusUploaded, rep.Status)
	assert.Equal(t, models.DataSourceFileUpload, rep.DataSource)
	assert.NotEmpty(t, rep.SourceFileKey)

	stored, err := e.files.Get(context.Background(), rep.SourceFileKey)
	require.NoError(t, err)
	assert.Equal(t, sampleCSV, string(stored))

	tasks := e.queue.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, queue.TaskProcess, tasks[0].Type)
	assert.Equal(t, rep.ID, tasks[0].ReportID)
}

func TestCreateReportInvalidType(t *testing.T) {
	e := newEnv(t, "")
	body, contentType := multipartUpload(t, "bogus", "export.csv", sampleCSV)

	resp, err := http.Post(e.srv.URL+"/reports", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, e.queue.Tasks())
}

func TestCreateReportEmptyFile(t *testing.T) {
	e := newEnv(t, "")
	body, contentType := multipartUpload(t, "cost", "export.csv", "")

	resp, err := http.Post(e.srv.URL+"/reports", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateReportLiveAPI(t *testing.T) {
	e := newEnv(t, "")
	payload := `{"reportType":"cost","dataSource":"live-api","subscriptionId":"sub-42"}`

	resp, err := http.Post(e.srv.URL+"/reports", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var rep models.Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rep))
	assert.Equal(t, models.DataSourceLiveAPI, rep.DataSource)
	assert.Equal(t, "sub-42", rep.LiveSubscriptionID)
}

func TestCreateReportLiveAPIMissingSubscription(t *testing.T) {
	e := newEnv(t, "")
	payload := `{"reportType":"cost","dataSource":"live-api"}`

	resp, err := http.Post(e.srv.URL+"/reports", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetReportNotFound(t *testing.T) {
	e := newEnv(t, "")
	resp, err := http.Get(e.srv.URL + "/reports/" + uuid.NewString())
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetReportStatus(t *testing.T) {
	e := newEnv(t, "")
	rep, err := e.store.CreateReport(context.Background(), store.ReportInput{
		ReportType:    models.ReportTypeCost,
		DataSource:    models.DataSourceFileUpload,
		SourceFileKey: "uploads/x.csv",
	})
	require.NoError(t, err)

	resp, err := http.Get(e.srv.URL + "/reports/" + rep.ID.String())
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, string(models.StatusUploaded), got["status"])
}

func TestGetAnalysis(t *testing.T) {
	e := newEnv(t, "")
	ctx := context.Background()
	rep, err := e.store.CreateReport(ctx, store.ReportInput{
		ReportType:    models.ReportTypeCost,
		DataSource:    models.DataSourceFileUpload,
		SourceFileKey: "uploads/x.csv",
	})
	require.NoError(t, err)

	resp, err := http.Get(e.srv.URL + "/reports/" + rep.ID.String() + "/analysis")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.NoError(t, e.store.SetAnalysisData(ctx, rep.ID, json.RawMessage(`{"totalRecommendations":3}`)))

	resp, err = http.Get(e.srv.URL + "/reports/" + rep.ID.String() + "/analysis")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var analysis map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&analysis))
	assert.Equal(t, float64(3), analysis["totalRecommendations"])
}

func TestCancelReport(t *testing.T) {
	e := newEnv(t, "")
	rep, err := e.store.CreateReport(context.Background(), store.ReportInput{
		ReportType:    models.ReportTypeCost,
		DataSource:    models.DataSourceFileUpload,
		SourceFileKey: "uploads/x.csv",
	})
	require.NoError(t, err)

	resp, err := http.Post(e.srv.URL+"/reports/"+rep.ID.String()+"/cancel", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Cancelling a terminal report conflicts.
	resp, err = http.Post(e.srv.URL+"/reports/"+rep.ID.String()+"/cancel", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestManualEntry(t *testing.T) {
	e := newEnv(t, "")
	rep, err := e.store.CreateReport(context.Background(), store.ReportInput{
		ReportType:    models.ReportTypeCost,
		DataSource:    models.DataSourceFileUpload,
		SourceFileKey: "uploads/x.csv",
	})
	require.NoError(t, err)

	payload := `{
		"category": "Cost",
		"businessImpact": "High",
		"recommendation": "Purchase a compute savings plan",
		"potentialBenefits": "Flexible discount",
		"potentialSavings": 750,
		"currency": "USD"
	}`
	resp, err := http.Post(e.srv.URL+"/reports/"+rep.ID.String()+"/recommendations", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var rec models.Recommendation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	assert.Equal(t, models.ManualEntryRow, rec.RowNumber)
	assert.True(t, rec.Classification.IsSavingsPlan)
	assert.Equal(t, models.CommitmentPureSavingsPlan, rec.Classification.CommitmentCategory)
}

func TestManualEntryUnknownEnums(t *testing.T) {
	e := newEnv(t, "")
	rep, err := e.store.CreateReport(context.Background(), store.ReportInput{
		ReportType:    models.ReportTypeCost,
		DataSource:    models.DataSourceFileUpload,
		SourceFileKey: "uploads/x.csv",
	})
	require.NoError(t, err)

	// Manual entry shares the file path's vocabulary: unknown values
	// are rejected instead of becoming stray aggregation buckets.
	for _, payload := range []string{
		`{"category":"Costt","businessImpact":"High","recommendation":"Buy reserved instances"}`,
		`{"category":"Cost","businessImpact":"Severe","recommendation":"Buy reserved instances"}`,
	} {
		resp, err := http.Post(e.srv.URL+"/reports/"+rep.ID.String()+"/recommendations", "application/json", strings.NewReader(payload))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}

	recs, err := e.store.ListRecommendations(context.Background(), rep.ID)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

// failingCreateStore rejects every report insert.
type failingCreateStore struct {
	*store.MemoryStore
}

func (s failingCreateStore) CreateReport(ctx context.Context, in store.ReportInput) (models.Report, error) {
	return models.Report{}, errors.New("insert report: connection refused")
}

// recordingFiles tracks Put and Delete keys.
type recordingFiles struct {
	*filestore.MemoryStore
	puts    []string
	deletes []string
}

func (f *recordingFiles) Put(ctx context.Context, key string, data []byte, contentType string) error {
	f.puts = append(f.puts, key)
	return f.MemoryStore.Put(ctx, key, data, contentType)
}

func (f *recordingFiles) Delete(ctx context.Context, key string) error {
	f.deletes = append(f.deletes, key)
	return f.MemoryStore.Delete(ctx, key)
}

func TestCreateReportInsertFailureCleansUpload(t *testing.T) {
	files := &recordingFiles{MemoryStore: filestore.NewMemoryStore()}
	server := httpserver.New(
		failingCreateStore{store.NewMemoryStore()},
		files,
		queue.NewMemoryQueue(),
		classifier.New(classifier.DefaultOptions()),
		httpserver.Config{MaxUploadBytes: 1 << 20},
		nil,
	)
	srv := httptest.NewServer(server.Router())
	t.Cleanup(srv.Close)

	body, contentType := multipartUpload(t, "cost", "export.csv", sampleCSV)
	resp, err := http.Post(srv.URL+"/reports", contentType, body)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	// The stored blob has no owning report and must not linger.
	require.Len(t, files.puts, 1)
	require.Equal(t, files.puts, files.deletes)
	_, err = files.Get(context.Background(), files.puts[0])
	assert.ErrorIs(t, err, filestore.ErrNotFound)
}

func TestReclassifyEnqueued(t *testing.T) {
	e := newEnv(t, "")
	rep, err := e.store.CreateReport(context.Background(), store.ReportInput{
		ReportType:    models.ReportTypeCost,
		DataSource:    models.DataSourceFileUpload,
		SourceFileKey: "uploads/x.csv",
	})
	require.NoError(t, err)

	resp, err := http.Post(e.srv.URL+"/reports/"+rep.ID.String()+"/reclassify", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	tasks := e.queue.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, queue.TaskReclassify, tasks[0].Type)
}

func TestAuthMiddleware(t *testing.T) {
	const secret = "test-secret"
	e := newEnv(t, secret)

	// No token.
	resp, err := http.Get(e.srv.URL + "/reports/" + uuid.NewString())
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Healthz stays open.
	resp, err = http.Get(e.srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Valid token passes through to the handler.
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "tester",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, e.srv.URL+"/reports/"+uuid.NewString(), nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+signed)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
