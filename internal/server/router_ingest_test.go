package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/journeys/internal/assembler"
	"github.com/MarcoPoloResearchLab/journeys/internal/identity"
	"github.com/MarcoPoloResearchLab/journeys/internal/journeys"
	"github.com/MarcoPoloResearchLab/journeys/internal/touchpoint"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type ingestResponse struct {
	Processed int                   `json:"processed"`
	Results   []ingestResultPayload `json:"results"`
}

type journeysResponse struct {
	Count    int                `json:"count"`
	Journeys []journeys.Journey `json:"journeys"`
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var value T
	require.NoError(t, json.Unmarshal(body, &value))
	return value
}

func TestIngestProcessAndListJourneys(t *testing.T) {
	gin.SetMode(gin.TestMode)
	server := newTestServer(t)
	token := server.token(t, "producer")

	first := server.do(t, http.MethodPost, "/ingest/google_ads", token,
		`{"touchpoints":[{"touchpoint_id":"A","timestamp":"2024-01-01T00:00:00Z","email":"x@y.com"}]}`)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	second := server.do(t, http.MethodPost, "/ingest/email_marketing", token,
		`{"touchpoints":[{"touchpoint_id":"B","timestamp":"2024-01-05T00:00:00Z","email":"x@y.com","channel":"events"}]}`)
	require.Equal(t, http.StatusOK, second.Code, second.Body.String())

	firstResult := decode[ingestResponse](t, first.Body.Bytes())
	secondResult := decode[ingestResponse](t, second.Body.Bytes())
	require.Len(t, firstResult.Results, 1)
	require.Len(t, secondResult.Results, 1)
	assert.Equal(t, "new_customer_creation", firstResult.Results[0].MatchMethod)
	assert.Equal(t, firstResult.Results[0].CustomerID, secondResult.Results[0].CustomerID)
	assert.InDelta(t, 0.95, secondResult.Results[0].ConfidenceScore, 1e-9)

	processed := server.do(t, http.MethodPost, "/process-batch", token, "")
	require.Equal(t, http.StatusOK, processed.Code, processed.Body.String())

	listed := server.do(t, http.MethodGet, "/journeys?customer_type=b2b&min_confidence=0.9", token, "")
	require.Equal(t, http.StatusOK, listed.Code, listed.Body.String())
	response := decode[journeysResponse](t, listed.Body.Bytes())
	require.Equal(t, 1, response.Count)
	journey := response.Journeys[0]
	assert.Equal(t, []touchpoint.Channel{touchpoint.ChannelGoogleAds, touchpoint.ChannelEmailMarketing}, journey.ChannelSequence,
		"the path channel overrides the body channel")
	assert.Equal(t, 4, journey.DurationDays)
	assert.InDelta(t, 0.975, journey.ConfidenceScore, 1e-9)

	status := server.do(t, http.MethodGet, "/control/status", token, "")
	require.Equal(t, http.StatusOK, status.Code)
	statusBody := decode[statusPayload](t, status.Body.Bytes())
	assert.Equal(t, 1, statusBody.TotalCustomers)
	assert.Equal(t, int64(2), statusBody.TotalTouchpoints)
	assert.Equal(t, int64(1), statusBody.TotalJourneys)
	assert.NotEmpty(t, statusBody.LastProcessingTime)

	graph := server.do(t, http.MethodGet, "/identity-graph", token, "")
	require.Equal(t, http.StatusOK, graph.Code)
	graphBody := decode[identityGraphPayload](t, graph.Body.Bytes())
	assert.Equal(t, 1, graphBody.TotalCustomers)
	assert.InDelta(t, 1.0, graphBody.EmailCoverage, 1e-9)
}

func TestIngestRejectsInvalidRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	server := newTestServer(t)
	token := server.token(t, "producer")

	testCases := []struct {
		name   string
		path   string
		body   string
		status int
		code   string
	}{
		{name: "unknown-channel", path: "/ingest/billboards", body: `{"touchpoints":[{"touchpoint_id":"A","timestamp":"2024-01-01T00:00:00Z"}]}`, status: http.StatusBadRequest, code: "unknown_channel"},
		{name: "empty-batch", path: "/ingest/events", body: `{"touchpoints":[]}`, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "malformed-json", path: "/ingest/events", body: `{"touchpoints":`, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "missing-timestamp", path: "/ingest/events", body: `{"touchpoints":[{"touchpoint_id":"A"}]}`, status: http.StatusBadRequest, code: "invalid_touchpoint"},
		{name: "producer-customer-id", path: "/ingest/events", body: `{"touchpoints":[{"touchpoint_id":"A","timestamp":"2024-01-01T00:00:00Z","customer_id":"customer_x"}]}`, status: http.StatusBadRequest, code: "invalid_touchpoint"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			recorder := server.do(t, http.MethodPost, testCase.path, token, testCase.body)
			require.Equal(t, testCase.status, recorder.Code, recorder.Body.String())
			body := decode[map[string]any](t, recorder.Body.Bytes())
			assert.Equal(t, testCase.code, body["error"])
		})
	}

	assert.Zero(t, server.service.GraphStats().TotalCustomers, "rejected batches must not touch the graph")
}

func TestIngestBatchIsRejectedWholeWhenOneTouchpointIsInvalid(t *testing.T) {
	gin.SetMode(gin.TestMode)
	server := newTestServer(t)
	token := server.token(t, "producer")

	recorder := server.do(t, http.MethodPost, "/ingest/events", token,
		`{"touchpoints":[{"touchpoint_id":"A","timestamp":"2024-01-01T00:00:00Z","email":"a@corp.nl"},{"touchpoint_id":"B","conversion_value":-1,"timestamp":"2024-01-01T00:00:00Z"}]}`)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	body := decode[map[string]any](t, recorder.Body.Bytes())
	assert.Equal(t, float64(1), body["index"])
	assert.Zero(t, server.service.GraphStats().TotalCustomers)
}

func TestIngestRequiresAuthorizationAndChannelGrant(t *testing.T) {
	gin.SetMode(gin.TestMode)
	server := newTestServer(t)
	body := `{"touchpoints":[{"touchpoint_id":"A","timestamp":"2024-01-01T00:00:00Z"}]}`

	unauthorized := server.do(t, http.MethodPost, "/ingest/events", "", body)
	assert.Equal(t, http.StatusUnauthorized, unauthorized.Code)

	restricted := server.token(t, "ads-bridge", string(touchpoint.ChannelGoogleAds))
	forbidden := server.do(t, http.MethodPost, "/ingest/events", restricted, body)
	assert.Equal(t, http.StatusForbidden, forbidden.Code)

	allowed := server.do(t, http.MethodPost, "/ingest/google_ads", restricted, body)
	assert.Equal(t, http.StatusOK, allowed.Code, allowed.Body.String())
}

func TestControlTogglesProcessing(t *testing.T) {
	gin.SetMode(gin.TestMode)
	server := newTestServer(t)
	token := server.token(t, "operator")
	body := `{"touchpoints":[{"touchpoint_id":"A","timestamp":"2024-01-01T00:00:00Z"}]}`

	disabled := server.do(t, http.MethodPost, "/control/disable", token, "")
	require.Equal(t, http.StatusOK, disabled.Code)

	rejected := server.do(t, http.MethodPost, "/ingest/events", token, body)
	assert.Equal(t, http.StatusServiceUnavailable, rejected.Code)

	trigger := server.do(t, http.MethodPost, "/webhooks/batch-trigger", token, "")
	require.Equal(t, http.StatusOK, trigger.Code)
	assert.Equal(t, "disabled", decode[map[string]any](t, trigger.Body.Bytes())["status"])

	enabled := server.do(t, http.MethodPost, "/control/enable", token, "")
	require.Equal(t, http.StatusOK, enabled.Code)

	accepted := server.do(t, http.MethodPost, "/ingest/events", token, body)
	require.Equal(t, http.StatusOK, accepted.Code)

	trigger = server.do(t, http.MethodPost, "/webhooks/batch-trigger", token, "")
	require.Equal(t, http.StatusOK, trigger.Code)
	triggerBody := decode[map[string]any](t, trigger.Body.Bytes())
	assert.Equal(t, "processed", triggerBody["status"])
	assert.Equal(t, float64(1), triggerBody["journeys"])
}

func TestListJourneysValidatesQuery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	server := newTestServer(t)
	token := server.token(t, "analyst")

	for _, query := range []string{"limit=abc", "limit=0", "customer_type=enterprise", "min_confidence=1.5"} {
		recorder := server.do(t, http.MethodGet, "/journeys?"+query, token, "")
		assert.Equal(t, http.StatusBadRequest, recorder.Code, query)
	}

	recorder := server.do(t, http.MethodGet, "/journeys", token, "")
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, 0, decode[journeysResponse](t, recorder.Body.Bytes()).Count)
}

func TestHealthIsPublic(t *testing.T) {
	gin.SetMode(gin.TestMode)
	server := newTestServer(t)

	recorder := server.do(t, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "healthy", decode[map[string]any](t, recorder.Body.Bytes())["status"])
}

type failingRegistrar struct {
	calls  int
	failAt int
}

func (r *failingRegistrar) ProcessingEnabled() bool {
	return true
}

func (r *failingRegistrar) ResolveAndRegister(_ context.Context, tp touchpoint.Touchpoint) (identity.Match, error) {
	r.calls++
	if r.calls == r.failAt {
		return identity.Match{}, fmt.Errorf("register %s: %w", tp.TouchpointID, assembler.ErrProcessingDisabled)
	}
	return identity.Match{CustomerID: "customer-" + tp.TouchpointID, ConfidenceScore: 1, MatchMethod: "new_customer_creation"}, nil
}

func TestIngestReportsTouchpointsRegisteredBeforeAFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	registrar := &failingRegistrar{failAt: 2}
	handler := &httpHandler{registrar: registrar, logger: zap.NewNop()}

	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Params = gin.Params{{Key: "channel", Value: "events"}}
	ctx.Request = httptest.NewRequest(http.MethodPost, "/ingest/events", strings.NewReader(
		`{"touchpoints":[`+
			`{"touchpoint_id":"A","timestamp":"2024-01-01T00:00:00Z","email":"a@corp.nl"},`+
			`{"touchpoint_id":"B","timestamp":"2024-01-02T00:00:00Z","email":"b@corp.nl"},`+
			`{"touchpoint_id":"C","timestamp":"2024-01-03T00:00:00Z","email":"c@corp.nl"}]}`))
	ctx.Request.Header.Set("Content-Type", "application/json")

	handler.handleIngest(ctx)

	require.Equal(t, http.StatusServiceUnavailable, recorder.Code, recorder.Body.String())
	response := decode[ingestResponse](t, recorder.Body.Bytes())
	assert.Equal(t, 1, response.Processed)
	require.Len(t, response.Results, 1)
	assert.Equal(t, "A", response.Results[0].TouchpointID)
	assert.Equal(t, 2, registrar.calls)
}
