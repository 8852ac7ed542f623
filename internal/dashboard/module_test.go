package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"queue_dashboard_backend/internal/dashboard/bootstrap"
	"queue_dashboard_backend/internal/dashboard/domain"
	"queue_dashboard_backend/internal/events"
	apphttp "queue_dashboard_backend/internal/http"
	"queue_dashboard_backend/platform/apperr"
	"queue_dashboard_backend/platform/logger"

	"github.com/gin-gonic/gin"
)

type testConfig struct{}

func (testConfig) GetFlaggedTerms() []string          { return domain.DefaultFlaggedTerms }
func (testConfig) GetBootstrapConcurrency() int       { return 2 }
func (testConfig) GetSubscribeRatePerSecond() float64 { return 0 }
func (testConfig) GetSubscribeBurst() int             { return 1 }
func (testConfig) GetActiveConversationPageSize() int { return 25 }

type fakePlatform struct{}

func (fakePlatform) Authenticate(context.Context) error { return nil }

func (fakePlatform) ListQueues(context.Context) ([]domain.Queue, error) {
	return []domain.Queue{{ID: "Q1", Name: "Support"}}, nil
}

func (fakePlatform) ListActiveConversations(context.Context, string) ([]domain.ActiveConversation, error) {
	return []domain.ActiveConversation{{
		ID:           "C1",
		Start:        time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		MediaType:    domain.MediaTypeVoice,
		Participants: []domain.Participant{{Purpose: "agent", UserID: "U1"}},
	}}, nil
}

func (fakePlatform) LookupAgent(_ context.Context, userID string) (domain.Agent, error) {
	return domain.Agent{Name: "Agent " + userID}, nil
}

type fakeChannel struct {
	deliver chan func(context.Context, string, json.RawMessage)
	fail    chan error
}

func (f *fakeChannel) Connect(context.Context) error             { return nil }
func (f *fakeChannel) Subscribe(context.Context, string) error   { return nil }
func (f *fakeChannel) Unsubscribe(context.Context, string) error { return nil }

func (f *fakeChannel) Listen(ctx context.Context, deliver func(context.Context, string, json.RawMessage)) error {
	f.deliver <- deliver
	select {
	case <-ctx.Done():
		return nil
	case err := <-f.fail:
		return err
	}
}

func TestModuleStartServesSeededSnapshotAndAppliesEvents(t *testing.T) {
	log := logger.NewWithWriter("production", &bytes.Buffer{})
	bus := events.NewInMemoryBus(log)
	channel := &fakeChannel{deliver: make(chan func(context.Context, string, json.RawMessage), 1)}

	m := NewModule(Deps{
		Config:      testConfig{},
		Platform:    fakePlatform{},
		OpenChannel: func(context.Context) (bootstrap.Channel, error) { return channel, nil },
		Bus:         bus,
		Logger:      log,
	})
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Ping(ctx); err == nil {
		t.Fatal("expected not ready before start")
	}
	if _, err := m.Start(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := m.Ping(ctx); err != nil {
		t.Fatalf("expected ready after start, got %v", err)
	}

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	v1 := engine.Group("/api/v1")
	m.RegisterRoutes(&apphttp.RouterContext{Engine: engine, V1: v1, Protected: v1})

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/queues/Q1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var q domain.Queue
	if err := json.Unmarshal(rec.Body.Bytes(), &q); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(q.Conversations) != 1 || q.Conversations[0].AssignedAgent.Name != "Agent U1" {
		t.Fatalf("unexpected seeded queue: %+v", q)
	}

	deliver := <-channel.deliver
	body := json.RawMessage(`{"id":"C1","participants":[{"purpose":"agent","state":"terminated"},{"purpose":"customer","state":"terminated"}]}`)
	deliver(ctx, domain.QueueConversationsTopic("Q1"), body)

	if q, _ := m.Snapshot().Queue("Q1"); len(q.Conversations) != 0 {
		t.Fatalf("expected the conversation to be removed, got %+v", q.Conversations)
	}
}

func TestModuleReportsNotReadyAfterChannelLoss(t *testing.T) {
	log := logger.NewWithWriter("production", &bytes.Buffer{})
	channel := &fakeChannel{
		deliver: make(chan func(context.Context, string, json.RawMessage), 1),
		fail:    make(chan error, 1),
	}
	m := NewModule(Deps{
		Config:      testConfig{},
		Platform:    fakePlatform{},
		OpenChannel: func(context.Context) (bootstrap.Channel, error) { return channel, nil },
		Bus:         events.NewInMemoryBus(log),
		Logger:      log,
	})
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := m.Start(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-channel.deliver
	if err := m.Ping(ctx); err != nil {
		t.Fatalf("expected ready, got %v", err)
	}

	channel.fail <- errors.New("read notification channel: EOF")
	select {
	case <-m.Lost():
	case <-time.After(2 * time.Second):
		t.Fatal("expected the channel loss to be reported")
	}
	if err := m.Ping(ctx); apperr.GetKind(err) != apperr.KindUnavailable {
		t.Fatalf("expected unavailable after channel loss, got %v", err)
	}
}
