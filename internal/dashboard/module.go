// Package dashboard wires the queue dashboard: subscription management,
// state reconciliation, startup sequencing and the read-only HTTP API.
package dashboard

import (
	"context"
	"sync/atomic"

	"queue_dashboard_backend/internal/dashboard/agents"
	"queue_dashboard_backend/internal/dashboard/bootstrap"
	"queue_dashboard_backend/internal/dashboard/domain"
	"queue_dashboard_backend/internal/dashboard/handler"
	"queue_dashboard_backend/internal/dashboard/reconciler"
	"queue_dashboard_backend/internal/dashboard/subscription"
	"queue_dashboard_backend/internal/events"
	apphttp "queue_dashboard_backend/internal/http"
	"queue_dashboard_backend/internal/notification/sse"
	"queue_dashboard_backend/platform/apperr"
	"queue_dashboard_backend/platform/config"
	"queue_dashboard_backend/platform/logger"
	"queue_dashboard_backend/platform/validator"

	"golang.org/x/time/rate"
)

// Platform is the telephony API as used by the dashboard.
type Platform interface {
	bootstrap.Platform
	agents.Lookup
}

// Deps holds the dashboard's collaborators.
type Deps struct {
	Config      config.DashboardConfig
	Platform    Platform
	OpenChannel bootstrap.ChannelOpener
	AgentCache  agents.Cache
	Bus         events.Bus
	Validator   *validator.Validator
	Logger      *logger.Logger
}

// Module is the dashboard bounded context.
type Module struct {
	manager    *subscription.Manager
	reconciler *reconciler.Reconciler
	sequencer  *bootstrap.Sequencer
	stream     *sse.Service
	handler    *handler.Handler
	log        *logger.Logger
	started    atomic.Bool
}

// NewModule creates the dashboard module and subscribes its SSE fan-out to
// the event bus.
func NewModule(d Deps) *Module {
	var limiter *rate.Limiter
	if perSecond := d.Config.GetSubscribeRatePerSecond(); perSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(perSecond), max(d.Config.GetSubscribeBurst(), 1))
	}
	manager := subscription.NewManager(nil, d.Logger, subscription.Options{Limiter: limiter})

	directory := agents.NewDirectory(d.Platform, d.AgentCache, d.Logger)
	rec := reconciler.New(reconciler.Options{
		Analyzer:   domain.NewAnalyzer(d.Config.GetFlaggedTerms()),
		Decoder:    domain.NewDecoder(d.Validator),
		Agents:     directory,
		Subscriber: manager,
		Bus:        d.Bus,
		Logger:     d.Logger,
	})

	stream := sse.New(d.Logger)
	stream.RegisterHandlers(d.Bus)

	seq := bootstrap.NewSequencer(d.Platform, d.OpenChannel, manager, directory, rec, d.Logger, d.Config.GetBootstrapConcurrency())

	return &Module{
		manager:    manager,
		reconciler: rec,
		sequencer:  seq,
		stream:     stream,
		handler:    handler.New(rec, manager, stream),
		log:        d.Logger,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "dashboard"
}

// RegisterRoutes mounts the dashboard API.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected)
}

// Start runs the startup sequence. Subscriptions stay live until ctx is
// cancelled.
func (m *Module) Start(ctx context.Context) (*domain.Snapshot, error) {
	m.started.Store(false)
	snap, err := m.sequencer.Run(ctx)
	if err != nil {
		return nil, err
	}
	m.started.Store(true)
	return snap, nil
}

// Lost receives the error of a notification channel that stopped after a
// successful start. The dashboard no longer updates once it fires.
func (m *Module) Lost() <-chan error {
	return m.sequencer.Lost()
}

// Snapshot returns the current dashboard state.
func (m *Module) Snapshot() *domain.Snapshot {
	return m.reconciler.Snapshot()
}

// Ping reports ready once the startup sequence has completed and while its
// notification channel is alive.
func (m *Module) Ping(context.Context) error {
	if !m.started.Load() {
		return apperr.Unavailable("dashboard is still bootstrapping", nil)
	}
	if err := m.sequencer.ChannelErr(); err != nil {
		return apperr.Unavailable("notification channel lost", err)
	}
	return nil
}

// Close disconnects SSE clients.
func (m *Module) Close() {
	m.stream.Close()
}

var (
	_ apphttp.Module        = (*Module)(nil)
	_ apphttp.HealthChecker = (*Module)(nil)
)
