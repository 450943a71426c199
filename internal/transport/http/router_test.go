package httptransport

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carecore/internal/audit"
	auditmem "carecore/internal/audit/sink/memory"
	"carecore/internal/bulkhead"
	"carecore/internal/session"
)

type testEnv struct {
	router    http.Handler
	sessions  *session.Manager
	bulkheads *bulkhead.Registry
	audit     *audit.Logger
	sink      *auditmem.Sink
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	sessions, err := session.NewManager(session.Config{
		Duration:    20 * time.Minute,
		WarningLead: 2 * time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(sessions.Close)

	sink := auditmem.New()
	auditLog, err := audit.New([]byte("test-hmac-key"), sink, audit.Config{
		BufferCapacity: 100,
		FlushInterval:  time.Minute,
	})
	require.NoError(t, err)

	bulkheads := bulkhead.NewRegistry(func(string) bulkhead.Config {
		return bulkhead.Config{MaxConcurrency: 2, QueueCapacity: 4, WaitTimeout: time.Second}
	})
	t.Cleanup(bulkheads.Close)

	tokens := session.NewTokenService([]byte("test-signing-key"), "carecore")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := NewHandler(sessions, tokens, bulkheads, auditLog, logger, WithAuditReader(sink))
	return &testEnv{
		router:    NewRouter(h),
		sessions:  sessions,
		bulkheads: bulkheads,
		audit:     auditLog,
		sink:      sink,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateSession(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/sessions", `{"actor_id":"doctor-7"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decode[sessionResponse](t, rec)
	assert.Equal(t, "doctor-7", resp.ActorID)
	assert.Equal(t, string(session.StateActive), resp.State)
	assert.NotEmpty(t, resp.Token)
	assert.InDelta(t, 20*60, resp.RemainingSeconds, 2)

	assert.Equal(t, 1, env.audit.Depth(), "login event buffered")
}

func TestCreateSession_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/sessions", `{bad-json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/sessions", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionStatus(t *testing.T) {
	env := newTestEnv(t)

	created := decode[sessionResponse](t, env.do(t, http.MethodPost, "/sessions", `{"actor_id":"doctor-7"}`))

	rec := env.do(t, http.MethodGet, "/sessions/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[sessionResponse](t, rec)
	assert.Equal(t, created.ID, got.ID)

	rec = env.do(t, http.MethodGet, "/sessions/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/sessions/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTouchSession_DoesNotExtend(t *testing.T) {
	env := newTestEnv(t)

	created := decode[sessionResponse](t, env.do(t, http.MethodPost, "/sessions", `{"actor_id":"doctor-7"}`))

	rec := env.do(t, http.MethodPost, "/sessions/"+created.ID+"/touch", "")
	require.Equal(t, http.StatusOK, rec.Code)
	touched := decode[sessionResponse](t, rec)
	assert.Equal(t, created.ExpiresAt, touched.ExpiresAt)
}

func TestExpireThenTouch(t *testing.T) {
	env := newTestEnv(t)

	created := decode[sessionResponse](t, env.do(t, http.MethodPost, "/sessions", `{"actor_id":"doctor-7"}`))

	rec := env.do(t, http.MethodPost, "/sessions/"+created.ID+"/expire", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/sessions/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(session.StateExpired), decode[sessionResponse](t, rec).State)

	rec = env.do(t, http.MethodPost, "/sessions/"+created.ID+"/touch", "")
	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestTeardownSession(t *testing.T) {
	env := newTestEnv(t)

	created := decode[sessionResponse](t, env.do(t, http.MethodPost, "/sessions", `{"actor_id":"doctor-7"}`))

	rec := env.do(t, http.MethodDelete, "/sessions/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/sessions/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Session deletion is critical risk, which forces an eager flush.
	assert.Positive(t, env.sink.Len())
}

func TestBulkheadStats(t *testing.T) {
	env := newTestEnv(t)

	err := env.bulkheads.Execute(context.Background(), "registry-lookup", func(context.Context) error {
		return nil
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/bulkheads/", "")
	require.Equal(t, http.StatusOK, rec.Code)

	stats := decode[map[string]bulkheadStats](t, rec)
	require.Contains(t, stats, "registry-lookup")
	assert.Equal(t, int64(1), stats["registry-lookup"].TotalExecuted)
}

func TestDrain(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/bulkheads/drain", `{"reason":"maintenance window"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string]any](t, rec)
	assert.Equal(t, "maintenance window", body["reason"])
}

func TestRecentAudit(t *testing.T) {
	env := newTestEnv(t)

	env.audit.Log(context.Background(), audit.Record{
		ActorID:     "doctor-7",
		SessionID:   uuid.NewString(),
		SubjectID:   "12.345.678-5",
		Action:      audit.ActionExport,
		Resource:    audit.ResourcePatientRecord,
		OutcomeCode: 200,
	})

	rec := env.do(t, http.MethodGet, "/audit/recent", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		BufferDepth int                  `json:"buffer_depth"`
		Events      []auditEventResponse `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Events, 1)
	assert.Equal(t, string(audit.RiskCritical), body.Events[0].RiskLevel)
	assert.NotContains(t, rec.Body.String(), "12.345.678-5", "raw id never leaves the trail")

	rec = env.do(t, http.MethodGet, "/audit/recent?limit=1000", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
