package rest

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/interaction-analytics/internal/domain/errors"
	"github.com/davidleathers/interaction-analytics/internal/domain/interaction"
	"github.com/davidleathers/interaction-analytics/internal/infrastructure/memory"
	"github.com/davidleathers/interaction-analytics/internal/service/analytics"
	"github.com/davidleathers/interaction-analytics/internal/service/ingest"
)

type MockAnalyticsService struct {
	mock.Mock
}

func (m *MockAnalyticsService) RunQuery(ctx context.Context, params url.Values) (*interaction.Result, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interaction.Result), args.Error(1)
}

type MockIngestService struct {
	mock.Mock
}

func (m *MockIngestService) Append(ctx context.Context, req *ingest.AppendRequest) (*interaction.Event, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interaction.Event), args.Error(1)
}

type MockHealthChecker struct {
	mock.Mock
}

func (m *MockHealthChecker) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type testMocks struct {
	analytics *MockAnalyticsService
	ingest    *MockIngestService
	health    *MockHealthChecker
}

func setupRouter(t *testing.T, config RouterConfig) (http.Handler, *testMocks) {
	t.Helper()
	mocks := &testMocks{
		analytics: new(MockAnalyticsService),
		ingest:    new(MockIngestService),
		health:    new(MockHealthChecker),
	}
	handler := NewHandler(&Services{
		Analytics: mocks.analytics,
		Ingest:    mocks.ingest,
		Health:    mocks.health,
	})
	return NewRouter(handler, config), mocks
}

func makeRequest(handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		var raw []byte
		if s, ok := body.(string); ok {
			raw = []byte(s)
		} else {
			raw, _ = json.Marshal(body)
		}
		req = httptest.NewRequest(method, path, bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp.Error
}

func TestHandler_Query(t *testing.T) {
	router, mocks := setupRouter(t, RouterConfig{})

	result := &interaction.Result{
		Kind: interaction.ResultBuckets,
		Series: &interaction.BucketSeries{
			IntervalMillis: 60_000,
			Buckets:        []interaction.Bucket{{Start: 0, Counters: map[string]int64{"total": 2}}},
		},
	}
	mocks.analytics.On("RunQuery", mock.Anything, mock.MatchedBy(func(p url.Values) bool {
		return p.Get("action") == "click" && p.Get("aggregate") == "2006-01-02 15:04"
	})).Return(result, nil)

	w := makeRequest(router, http.MethodGet, "/api/v1/query?action=click&aggregate="+url.QueryEscape("2006-01-02 15:04"), nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var got interaction.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, *result, got)
	mocks.analytics.AssertExpectations(t)
}

func TestHandler_QueryErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    int
		code      string
		retryable bool
	}{
		{
			name:   "invalid pattern",
			err:    errors.NewValidationError("INVALID_PATTERN", "pattern does not compile"),
			status: http.StatusBadRequest,
			code:   "INVALID_PATTERN",
		},
		{
			name:      "store failure",
			err:       errors.NewExternalError("event_store", "query failed").WithCause(stderrors.New("conn reset")),
			status:    http.StatusBadGateway,
			code:      "EXTERNAL_SERVICE_ERROR",
			retryable: true,
		},
		{
			name:   "plain error",
			err:    stderrors.New("boom"),
			status: http.StatusInternalServerError,
			code:   "INTERNAL_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, mocks := setupRouter(t, RouterConfig{})
			mocks.analytics.On("RunQuery", mock.Anything, mock.Anything).Return(nil, tt.err)

			req := httptest.NewRequest(http.MethodGet, "/api/v1/query?action=click", nil)
			req.Header.Set("X-Request-ID", "req-42")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			body := decodeError(t, w)
			assert.Equal(t, tt.code, body.Code)
			assert.Equal(t, "req-42", body.RequestID)
			assert.Equal(t, tt.retryable, body.Retryable)
		})
	}
}

func TestHandler_Append(t *testing.T) {
	router, mocks := setupRouter(t, RouterConfig{})

	stored := &interaction.Event{ID: uuid.New(), SubjectID: "U1", Action: "click", Timestamp: 42}
	mocks.ingest.On("Append", mock.Anything, mock.MatchedBy(func(r *ingest.AppendRequest) bool {
		return r.SubjectID == "U1" && r.Action == "click" && r.Timestamp != nil && *r.Timestamp == 42
	})).Return(stored, nil)

	w := makeRequest(router, http.MethodPost, "/api/v1/events", map[string]interface{}{
		"subjectId": "U1",
		"action":    "click",
		"timestamp": 42,
	})

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var got interaction.Event
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, *stored, got)
}

func TestHandler_AppendBadBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{"action":`},
		{name: "unknown field", body: `{"action":"click","colour":"red"}`},
		{name: "wrong type", body: `{"action":"click","timestamp":"noon"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, mocks := setupRouter(t, RouterConfig{})

			w := makeRequest(router, http.MethodPost, "/api/v1/events", tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "INVALID_JSON", decodeError(t, w).Code)
			mocks.ingest.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
		})
	}
}

func TestHandler_Health(t *testing.T) {
	t.Run("store up", func(t *testing.T) {
		router, mocks := setupRouter(t, RouterConfig{})
		mocks.health.On("Ping", mock.Anything).Return(nil)

		w := makeRequest(router, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusOK, w.Code)

		var resp HealthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "healthy", resp.Status)
	})

	t.Run("store down", func(t *testing.T) {
		router, mocks := setupRouter(t, RouterConfig{})
		mocks.health.On("Ping", mock.Anything).Return(stderrors.New("connection refused"))

		w := makeRequest(router, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)

		var resp HealthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "down", resp.Store)
		assert.Contains(t, resp.Error, "connection refused")
	})
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	router, _ := setupRouter(t, RouterConfig{})
	w := makeRequest(router, http.MethodDelete, "/api/v1/query", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestRouter_Metrics(t *testing.T) {
	router, mocks := setupRouter(t, RouterConfig{})
	mocks.health.On("Ping", mock.Anything).Return(nil)
	makeRequest(router, http.MethodGet, "/health", nil)

	w := makeRequest(router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `http_requests_total{method="GET",path="/health",status="200"}`)
}

func TestRouter_EndToEnd(t *testing.T) {
	logger := zaptest.NewLogger(t)
	store := memory.NewEventStore()

	analyticsSvc, err := analytics.NewService(logger, analytics.Config{}, store, nil, nil)
	require.NoError(t, err)
	ingestSvc, err := ingest.NewService(logger, store, nil, nil, nil)
	require.NoError(t, err)
	contract, err := NewContractValidator()
	require.NoError(t, err)

	router := NewRouter(NewHandler(&Services{
		Analytics: analyticsSvc,
		Ingest:    ingestSvc,
		Health:    store,
	}), RouterConfig{Contract: contract})

	const t0 = int64(1_700_000_100_000)
	for _, ev := range []map[string]interface{}{
		{"subjectId": "U1", "objectId": "S1", "action": "click", "message": "buy:5", "timestamp": t0 + 1_000},
		{"subjectId": "U1", "objectId": "S1", "action": "click", "message": "buy:3", "timestamp": t0 + 2_000},
		{"subjectId": "U2", "objectId": "S1", "action": "view", "message": "x", "timestamp": t0 + 3_000},
	} {
		w := makeRequest(router, http.MethodPost, "/api/v1/events", ev)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	q := url.Values{}
	q.Set("action", "click")
	q.Set("aggregate", "2006-01-02 15:04")
	q.Set("buy", "buy:.*")
	w := makeRequest(router, http.MethodGet, "/api/v1/query?"+q.Encode(), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result interaction.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	require.Equal(t, interaction.ResultBuckets, result.Kind)
	require.Len(t, result.Series.Buckets, 1)
	assert.Equal(t, int64(2), result.Series.Buckets[0].Counters[interaction.TotalCounter])
	assert.Equal(t, int64(2), result.Series.Buckets[0].Counters["buy"])

	w = makeRequest(router, http.MethodGet, "/api/v1/query", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, interaction.ResultOverview, result.Kind)
	assert.Equal(t, int64(3), result.Overview.EntryCount)
}

func TestContractValidator_RejectsBadBodies(t *testing.T) {
	contract, err := NewContractValidator()
	require.NoError(t, err)

	tests := []struct {
		name string
		body string
	}{
		{name: "missing action", body: `{"subjectId":"U1"}`},
		{name: "negative timestamp", body: `{"action":"click","timestamp":-1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, mocks := setupRouter(t, RouterConfig{Contract: contract})

			w := makeRequest(router, http.MethodPost, "/api/v1/events", tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "CONTRACT_VIOLATION", decodeError(t, w).Code)
			mocks.ingest.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
		})
	}
}

func TestContractValidator_DocumentsNamedPatterns(t *testing.T) {
	contract, err := NewContractValidator()
	require.NoError(t, err)

	query := contract.Document().Paths.Find("/api/v1/query")
	require.NotNil(t, query)
	require.NotNil(t, query.Get)
	assert.Contains(t, query.Get.Description, "fully matches")
	assert.NotContains(t, query.Get.Description, "capture group")

	result := contract.Document().Components.Schemas["QueryResponse"].Value
	require.NotNil(t, result)
	assert.True(t, result.Properties["entries"].Value.Nullable)
}
