// Package bootstrap builds the initial dashboard snapshot and starts the
// notification subscriptions that keep it current.
package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"queue_dashboard_backend/internal/dashboard/domain"
	"queue_dashboard_backend/internal/dashboard/subscription"
	"queue_dashboard_backend/platform/logger"

	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 5

// ErrChannelLost marks a notification listener that stopped with an error.
var ErrChannelLost = errors.New("notification channel lost")

// Platform is the read side of the telephony API used during startup.
type Platform interface {
	Authenticate(ctx context.Context) error
	ListQueues(ctx context.Context) ([]domain.Queue, error)
	ListActiveConversations(ctx context.Context, queueID string) ([]domain.ActiveConversation, error)
}

// Channel is an open notification channel. Connect dials the event stream;
// Listen reads it until ctx is cancelled or the connection fails.
type Channel interface {
	subscription.Transport
	Connect(ctx context.Context) error
	Listen(ctx context.Context, deliver func(ctx context.Context, topic string, body json.RawMessage)) error
}

// ChannelOpener creates the notification channel once authenticated.
type ChannelOpener func(ctx context.Context) (Channel, error)

// Hub is the subscription manager side used by the sequencer.
type Hub interface {
	Attach(transport subscription.Transport)
	Deliver(ctx context.Context, topic string, body json.RawMessage)
	Run(ctx context.Context)
}

// AgentResolver maps a user id to display data. It never fails.
type AgentResolver interface {
	Resolve(ctx context.Context, userID string) domain.Agent
}

// State is the reconciler side used by the sequencer.
type State interface {
	Seed(ctx context.Context, queues []domain.Queue) *domain.Snapshot
	Watch(ctx context.Context) error
}

// Sequencer runs the startup pipeline.
type Sequencer struct {
	platform    Platform
	openChannel ChannelOpener
	hub         Hub
	agents      AgentResolver
	state       State
	log         *logger.Logger
	concurrency int

	mu      sync.Mutex
	lostErr error
	lost    chan error
}

// NewSequencer creates a sequencer. concurrency bounds the parallel
// platform calls in the fetch and resolve steps.
func NewSequencer(platform Platform, openChannel ChannelOpener, hub Hub, agents AgentResolver, state State, log *logger.Logger, concurrency int) *Sequencer {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Sequencer{
		platform:    platform,
		openChannel: openChannel,
		hub:         hub,
		agents:      agents,
		state:       state,
		log:         log,
		concurrency: concurrency,
		lost:        make(chan error, 1),
	}
}

// Run authenticates, opens the channel, lists queues and their active voice
// conversations, resolves agents, seeds the snapshot and subscribes to all
// topics. Failures before seeding abort the run; nothing is seeded then.
// The channel listener and retry worker keep running until ctx is cancelled.
// A listener that stops with an error is reported through ChannelErr and Lost.
func (s *Sequencer) Run(ctx context.Context) (*domain.Snapshot, error) {
	s.mu.Lock()
	s.lostErr = nil
	s.mu.Unlock()
	s.drainLost()

	if err := s.platform.Authenticate(ctx); err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	s.log.BootstrapStep("authenticated")

	channel, err := s.openChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("open notification channel: %w", err)
	}
	if err := channel.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect notification channel: %w", err)
	}
	s.hub.Attach(channel)
	go func() {
		if err := channel.Listen(ctx, s.hub.Deliver); err != nil {
			s.log.Error("notification channel stopped", "error", err)
			s.markLost(err)
		}
	}()
	go s.hub.Run(ctx)
	s.log.BootstrapStep("channel_opened")

	queues, err := s.platform.ListQueues(ctx)
	if err != nil {
		return nil, fmt.Errorf("list queues: %w", err)
	}
	s.log.BootstrapStep("queues_listed", "queues", len(queues))

	active, err := s.fetchActive(ctx, queues)
	if err != nil {
		return nil, err
	}

	seeded := s.resolveAgents(ctx, queues, active)
	snap := s.state.Seed(ctx, seeded)
	s.log.BootstrapStep("seeded", "version", snap.Version, "conversations", countConversations(snap))

	if err := s.state.Watch(ctx); err != nil {
		s.log.Warn("some subscriptions could not be started", "error", err)
	}
	if err := s.ChannelErr(); err != nil {
		// The run fails as a whole, so the loss is not reported again.
		s.drainLost()
		return nil, err
	}
	s.log.BootstrapStep("subscribed")
	return snap, nil
}

// ChannelErr returns the error that stopped the notification listener of the
// latest run, or nil while it is healthy.
func (s *Sequencer) ChannelErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lostErr
}

// Lost receives the error of a notification listener that stopped.
func (s *Sequencer) Lost() <-chan error {
	return s.lost
}

func (s *Sequencer) markLost(err error) {
	err = errors.Join(ErrChannelLost, err)
	s.mu.Lock()
	s.lostErr = err
	s.mu.Unlock()
	select {
	case s.lost <- err:
	default:
	}
}

// fetchActive lists each queue's active conversations concurrently and keeps
// only voice calls. The first failure cancels the rest.
func (s *Sequencer) fetchActive(ctx context.Context, queues []domain.Queue) ([][]domain.ActiveConversation, error) {
	active := make([][]domain.ActiveConversation, len(queues))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, q := range queues {
		g.Go(func() error {
			conversations, err := s.platform.ListActiveConversations(gctx, q.ID)
			if err != nil {
				return fmt.Errorf("list active conversations for queue %s: %w", q.ID, err)
			}
			voice := make([]domain.ActiveConversation, 0, len(conversations))
			for _, c := range conversations {
				if c.IsVoice() {
					voice = append(voice, c)
				}
			}
			active[i] = voice
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	s.log.BootstrapStep("active_conversations_fetched")
	return active, nil
}

// resolveAgents looks up the agent of every active conversation concurrently
// and builds the seed queues. Lookups degrade to an empty agent.
func (s *Sequencer) resolveAgents(ctx context.Context, queues []domain.Queue, active [][]domain.ActiveConversation) []domain.Queue {
	agents := make([][]domain.Agent, len(queues))
	for i := range active {
		agents[i] = make([]domain.Agent, len(active[i]))
	}

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for qi := range active {
		for ci, conv := range active[qi] {
			p, ok := domain.AgentParticipant(conv.Participants)
			if !ok {
				continue
			}
			g.Go(func() error {
				agents[qi][ci] = s.agents.Resolve(ctx, p.UserID)
				return nil
			})
		}
	}
	_ = g.Wait()

	seeded := make([]domain.Queue, len(queues))
	for qi, q := range queues {
		q.ConversationIDs = []string{}
		q.Conversations = []domain.Conversation{}
		for ci, conv := range active[qi] {
			q = q.WithConversation(domain.Conversation{
				ID:            conv.ID,
				AssignedAgent: agents[qi][ci],
				StartTime:     conv.Start,
				Interactions:  []domain.Interaction{},
				Standing:      domain.StandingGood,
			})
		}
		seeded[qi] = q
	}
	s.log.BootstrapStep("agents_resolved")
	return seeded
}

func countConversations(snap *domain.Snapshot) int {
	total := 0
	for _, q := range snap.Queues {
		total += len(q.Conversations)
	}
	return total
}

func (s *Sequencer) drainLost() {
	select {
	case <-s.lost:
	default:
	}
}
