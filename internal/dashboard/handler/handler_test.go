package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"queue_dashboard_backend/internal/dashboard/domain"
	"queue_dashboard_backend/internal/dashboard/reconciler"
	"queue_dashboard_backend/internal/dashboard/subscription"

	"github.com/gin-gonic/gin"
)

type fakeState struct {
	snap  *domain.Snapshot
	diags reconciler.Diagnostics
}

func (f *fakeState) Snapshot() *domain.Snapshot          { return f.snap }
func (f *fakeState) Diagnostics() reconciler.Diagnostics { return f.diags }

type fakeSubs struct {
	subs     []subscription.Subscription
	stats    subscription.Stats
	deadline time.Time
}

func (f *fakeSubs) Subscriptions() []subscription.Subscription { return f.subs }
func (f *fakeSubs) Stats() subscription.Stats                  { return f.stats }
func (f *fakeSubs) RetryDeadline() time.Time                   { return f.deadline }

type fakeStreamer struct{}

func (fakeStreamer) Handler(current func() *domain.Snapshot) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.String(http.StatusOK, "stream v%d", current().Version)
	}
}

func newRouter(state *fakeState, subs *fakeSubs) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	New(state, subs, fakeStreamer{}).RegisterRoutes(router.Group("/api/v1"))
	return router
}

func do(router *gin.Engine, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func sampleSnapshot() *domain.Snapshot {
	return &domain.Snapshot{
		Version: 7,
		Queues: []domain.Queue{{
			ID:              "Q1",
			Name:            "Support",
			ConversationIDs: []string{"C1"},
			Conversations: []domain.Conversation{{
				ID:           "C1",
				Interactions: []domain.Interaction{},
				Standing:     domain.StandingGood,
			}},
		}},
	}
}

func TestListQueuesReturnsSnapshotWithETag(t *testing.T) {
	router := newRouter(&fakeState{snap: sampleSnapshot()}, &fakeSubs{})

	rec := do(router, "/api/v1/queues", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if etag := rec.Header().Get("ETag"); etag != `"7"` {
		t.Fatalf("unexpected etag %q", etag)
	}

	var body domain.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body.Version != 7 || len(body.Queues) != 1 || body.Queues[0].Conversations[0].ID != "C1" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestListQueuesHonorsIfNoneMatch(t *testing.T) {
	router := newRouter(&fakeState{snap: sampleSnapshot()}, &fakeSubs{})

	cases := map[string]int{
		`"7"`:        http.StatusNotModified,
		`W/"7"`:      http.StatusNotModified,
		`"3", "7"`:   http.StatusNotModified,
		`"6"`:        http.StatusOK,
		`not-a-etag`: http.StatusOK,
	}
	for header, want := range cases {
		rec := do(router, "/api/v1/queues", map[string]string{"If-None-Match": header})
		if rec.Code != want {
			t.Fatalf("If-None-Match %s: expected %d, got %d", header, want, rec.Code)
		}
	}
}

func TestGetQueue(t *testing.T) {
	router := newRouter(&fakeState{snap: sampleSnapshot()}, &fakeSubs{})

	rec := do(router, "/api/v1/queues/Q1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var q domain.Queue
	if err := json.Unmarshal(rec.Body.Bytes(), &q); err != nil || q.Name != "Support" {
		t.Fatalf("unexpected queue %+v err=%v", q, err)
	}

	if rec := do(router, "/api/v1/queues/missing", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestDiagnostics(t *testing.T) {
	deadline := time.Date(2024, 3, 1, 9, 0, 5, 0, time.UTC)
	state := &fakeState{
		snap:  sampleSnapshot(),
		diags: reconciler.Diagnostics{Started: 2, Stale: 1, Malformed: 3},
	}
	subs := &fakeSubs{
		subs: []subscription.Subscription{
			{Topic: domain.QueueConversationsTopic("Q1"), State: subscription.StateActive},
			{Topic: domain.TranscriptionTopic("C1"), State: subscription.StateWaiting, RetryAt: deadline, Attempts: 1},
		},
		stats:    subscription.Stats{Subscribed: 1, RateLimited: 1},
		deadline: deadline,
	}
	router := newRouter(state, subs)

	rec := do(router, "/api/v1/diagnostics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body DiagnosticsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body.Version != 7 || body.Reconciler.Stale != 1 || body.Reconciler.Malformed != 3 {
		t.Fatalf("unexpected reconciler diagnostics: %+v", body)
	}
	if len(body.Subscriptions) != 2 || body.Subscriptions[1].State != subscription.StateWaiting {
		t.Fatalf("unexpected subscriptions: %+v", body.Subscriptions)
	}
	if body.Stats.RateLimited != 1 || body.RetryAt == nil || !body.RetryAt.Equal(deadline) {
		t.Fatalf("unexpected retry state: %+v", body)
	}
}

func TestDiagnosticsOmitsRetryWhenGateOpen(t *testing.T) {
	router := newRouter(&fakeState{snap: sampleSnapshot()}, &fakeSubs{})

	rec := do(router, "/api/v1/diagnostics", nil)
	var raw map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := raw["retryAt"]; ok {
		t.Fatalf("expected no retryAt, got %v", raw["retryAt"])
	}
}

func TestStreamUsesLiveSnapshot(t *testing.T) {
	state := &fakeState{snap: sampleSnapshot()}
	router := newRouter(state, &fakeSubs{})
	state.snap = &domain.Snapshot{Version: 9}

	rec := do(router, "/api/v1/stream", nil)
	if rec.Body.String() != "stream v9" {
		t.Fatalf("expected the stream to read the current snapshot, got %q", rec.Body.String())
	}
}
