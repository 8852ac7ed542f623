// Package reconciler owns the live dashboard snapshot and applies queue
// lifecycle and transcript notifications to it.
//
// Every transition runs against the current snapshot under one mutex and
// commits a new immutable Snapshot, so events for different queues or
// conversations never overwrite each other. The only blocking call made while
// handling an event, the agent lookup for a new conversation, runs outside the
// lock; the conversation is re-checked against the live state afterwards.
package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"queue_dashboard_backend/internal/dashboard/domain"
	"queue_dashboard_backend/internal/dashboard/subscription"
	"queue_dashboard_backend/internal/events"
	"queue_dashboard_backend/platform/apperr"
	"queue_dashboard_backend/platform/logger"
)

// Subscriber is the part of the subscription manager the reconciler drives.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, handler subscription.Handler) error
	Unsubscribe(ctx context.Context, topic string)
}

// AgentResolver maps a user id to display data. It never fails.
type AgentResolver interface {
	Resolve(ctx context.Context, userID string) domain.Agent
}

// Diagnostics counts how notifications were handled.
type Diagnostics struct {
	Started    uint64 `json:"started"`
	Ended      uint64 `json:"ended"`
	Flagged    uint64 `json:"flagged"`
	Transcript uint64 `json:"transcriptBatches"`
	Duplicate  uint64 `json:"duplicate"`
	Stale      uint64 `json:"stale"`
	Unknown    uint64 `json:"unknown"`
	Ignored    uint64 `json:"ignored"`
	Malformed  uint64 `json:"malformed"`
	Closed     int    `json:"closedConversations"`
}

// Options configures a Reconciler.
type Options struct {
	Analyzer   domain.Analyzer
	Decoder    *domain.Decoder
	Agents     AgentResolver
	Subscriber Subscriber
	Bus        events.Bus
	Logger     *logger.Logger
	Now        func() time.Time
}

// Reconciler is the single owner of dashboard state.
type Reconciler struct {
	analyzer domain.Analyzer
	decoder  *domain.Decoder
	agents   AgentResolver
	subs     Subscriber
	bus      events.Bus
	log      *logger.Logger
	now      func() time.Time

	mu       sync.Mutex
	snapshot *domain.Snapshot
	closed   map[string]struct{}
	starting map[string]struct{}
	diag     Diagnostics
}

// New creates a reconciler holding an empty snapshot.
func New(opts Options) *Reconciler {
	r := &Reconciler{
		analyzer: opts.Analyzer,
		decoder:  opts.Decoder,
		agents:   opts.Agents,
		subs:     opts.Subscriber,
		bus:      opts.Bus,
		log:      opts.Logger,
		now:      opts.Now,
		snapshot: &domain.Snapshot{Queues: []domain.Queue{}},
		closed:   make(map[string]struct{}),
		starting: make(map[string]struct{}),
	}
	if r.decoder == nil {
		r.decoder = domain.NewDecoder(nil)
	}
	if r.now == nil {
		r.now = func() time.Time { return time.Now().UTC() }
	}
	return r
}

// Snapshot returns the current snapshot. Callers must not modify it.
func (r *Reconciler) Snapshot() *domain.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot
}

// Diagnostics returns a copy of the handling counters.
func (r *Reconciler) Diagnostics() Diagnostics {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.diag
	d.Closed = len(r.closed)
	return d
}

// IsClosed reports whether the conversation has ended during this process lifetime.
func (r *Reconciler) IsClosed(conversationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.closed[conversationID]
	return ok
}

// Seed replaces the snapshot with the bootstrap result. Conversations that
// already ended are filtered out.
func (r *Reconciler) Seed(ctx context.Context, queues []domain.Queue) *domain.Snapshot {
	r.mu.Lock()
	seeded := make([]domain.Queue, 0, len(queues))
	for _, q := range queues {
		kept := domain.Queue{
			ID:              q.ID,
			Name:            q.Name,
			ActiveUsers:     q.ActiveUsers,
			OnQueueUsers:    q.OnQueueUsers,
			ConversationIDs: make([]string, 0, len(q.Conversations)),
			Conversations:   make([]domain.Conversation, 0, len(q.Conversations)),
		}
		for _, c := range q.Conversations {
			if _, closed := r.closed[c.ID]; closed {
				continue
			}
			if c.Standing == "" {
				c.Standing = domain.StandingGood
			}
			if c.Interactions == nil {
				c.Interactions = []domain.Interaction{}
			}
			kept = kept.WithConversation(c)
		}
		seeded = append(seeded, kept)
	}
	snap := r.commitLocked(seeded)
	r.mu.Unlock()

	r.publish(ctx, events.SnapshotUpdated{BaseEvent: events.NewBaseEventAt(snap.UpdatedAt), Snapshot: snap})
	return snap
}

// Watch subscribes to the lifecycle topic of every queue and the transcript
// topic of every conversation in the current snapshot. Topics that are
// already subscribed are skipped; other failures are joined and returned
// after all topics have been tried.
func (r *Reconciler) Watch(ctx context.Context) error {
	snap := r.Snapshot()
	var errs []error
	for _, q := range snap.Queues {
		if err := r.subscribe(ctx, domain.QueueConversationsTopic(q.ID)); err != nil {
			errs = append(errs, err)
		}
		for _, id := range q.ConversationIDs {
			if err := r.subscribe(ctx, domain.TranscriptionTopic(id)); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Dispatch is the subscription handler for every topic the reconciler owns.
// It decodes the body and applies the resulting notification.
func (r *Reconciler) Dispatch(ctx context.Context, topic string, body json.RawMessage) {
	n, err := r.decoder.Decode(topic, body)
	if err != nil {
		r.mu.Lock()
		r.diag.Malformed++
		r.mu.Unlock()
		r.log.Warn("discarding malformed notification", "topic", topic, "error", err)
		return
	}

	switch ev := n.(type) {
	case domain.QueueLifecycleEvent:
		r.ApplyQueueEvent(ctx, ev)
	case domain.TranscriptEvent:
		r.ApplyTranscriptEvent(ctx, ev)
	}
}

// ApplyQueueEvent adds or removes a conversation based on participant state.
func (r *Reconciler) ApplyQueueEvent(ctx context.Context, ev domain.QueueLifecycleEvent) {
	id := ev.ConversationID
	topic := ev.Topic()

	r.mu.Lock()
	if _, closed := r.closed[id]; closed {
		r.diag.Stale++
		r.mu.Unlock()
		r.log.EventDropped(topic, id, "conversation closed")
		return
	}

	if domain.AllTerminated(ev.Participants) {
		r.endLocked(ctx, id, events.EndReasonParticipantsTerminated)
		return
	}

	if len(ev.Participants) == 0 {
		r.diag.Ignored++
		r.mu.Unlock()
		r.log.EventDropped(topic, id, "no participants")
		return
	}

	queue, ok := r.snapshot.Queue(ev.QueueID)
	if !ok {
		r.diag.Unknown++
		r.mu.Unlock()
		r.log.EventDropped(topic, id, "unknown queue")
		return
	}
	_, pending := r.starting[id]
	if queue.HasConversation(id) || pending {
		r.diag.Duplicate++
		r.mu.Unlock()
		return
	}
	r.starting[id] = struct{}{}
	r.mu.Unlock()

	agent := domain.Agent{}
	if p, ok := domain.AgentParticipant(ev.Participants); ok && r.agents != nil {
		agent = r.agents.Resolve(ctx, p.UserID)
	}
	start, _ := domain.CanonicalStartTime(ev.Participants)

	r.mu.Lock()
	delete(r.starting, id)
	if _, closed := r.closed[id]; closed {
		r.diag.Stale++
		r.mu.Unlock()
		r.log.EventDropped(topic, id, "closed during agent lookup")
		return
	}
	index := r.queueIndexLocked(ev.QueueID)
	if index < 0 {
		r.diag.Unknown++
		r.mu.Unlock()
		return
	}
	if r.snapshot.Queues[index].HasConversation(id) {
		r.diag.Duplicate++
		r.mu.Unlock()
		return
	}

	conv := domain.Conversation{
		ID:            id,
		AssignedAgent: agent,
		StartTime:     start,
		Interactions:  []domain.Interaction{},
		Standing:      domain.StandingGood,
	}
	next := r.copyQueuesLocked()
	next[index] = next[index].WithConversation(conv)
	snap := r.commitLocked(next)
	r.diag.Started++
	r.mu.Unlock()

	if err := r.subscribe(ctx, domain.TranscriptionTopic(id)); err != nil {
		r.log.Warn("transcript subscription failed", "conversation_id", id, "error", err)
	}
	r.publish(ctx, events.ConversationStarted{
		BaseEvent:      events.NewBaseEventAt(snap.UpdatedAt),
		QueueID:        ev.QueueID,
		ConversationID: id,
		AgentName:      agent.Name,
		StartTime:      start,
	})
	r.publish(ctx, events.SnapshotUpdated{BaseEvent: events.NewBaseEventAt(snap.UpdatedAt), Snapshot: snap})
}

// ApplyTranscriptEvent appends interactions, updates standing, or ends the
// conversation when the transcription session is over.
func (r *Reconciler) ApplyTranscriptEvent(ctx context.Context, ev domain.TranscriptEvent) {
	id := ev.ConversationID
	topic := ev.Topic()

	r.mu.Lock()
	if _, closed := r.closed[id]; closed {
		r.diag.Stale++
		r.mu.Unlock()
		r.log.EventDropped(topic, id, "conversation closed")
		return
	}

	index, ok := r.snapshot.QueueOf(id)
	if !ok {
		r.diag.Unknown++
		r.mu.Unlock()
		r.log.EventDropped(topic, id, "unknown conversation")
		return
	}

	if ev.SessionEnded() {
		r.endLocked(ctx, id, events.EndReasonSessionEnded)
		return
	}
	queue := r.snapshot.Queues[index]
	current, _ := queue.Conversation(id)

	at := ev.EventTime
	if at.IsZero() {
		at = r.now()
	}
	analysis := r.analyzer.Analyze(ev.Fragments, at)

	updated := current
	changed := len(analysis.Interactions) > 0
	if !updated.HasStartTime() && !ev.SessionStartTime.IsZero() {
		updated.StartTime = ev.SessionStartTime
		changed = true
	}
	if ev.Status != "" && ev.Status != updated.Status {
		updated.Status = ev.Status
		changed = true
	}
	if !changed {
		r.diag.Ignored++
		r.mu.Unlock()
		return
	}

	updated.Interactions = prepend(current.Interactions, analysis.Interactions)
	updated.Standing = domain.NextStanding(current.Standing, analysis.FlipsToBad)
	flagged := current.Standing != domain.StandingBad && updated.Standing == domain.StandingBad

	next := r.copyQueuesLocked()
	next[index] = queue.WithReplacedConversation(updated)
	snap := r.commitLocked(next)
	r.diag.Transcript++
	if flagged {
		r.diag.Flagged++
	}
	r.mu.Unlock()

	if flagged {
		r.publish(ctx, events.ConversationFlagged{
			BaseEvent:      events.NewBaseEventAt(snap.UpdatedAt),
			QueueID:        queue.ID,
			ConversationID: id,
			AgentName:      updated.AssignedAgent.Name,
		})
	}
	r.publish(ctx, events.SnapshotUpdated{BaseEvent: events.NewBaseEventAt(snap.UpdatedAt), Snapshot: snap})
}

// endLocked closes the conversation, removes it from every queue and drops
// its transcript subscription. Ending a conversation no queue holds only
// records it as closed. It releases r.mu.
func (r *Reconciler) endLocked(ctx context.Context, id, reason string) {
	r.closed[id] = struct{}{}

	var snap *domain.Snapshot
	var queueID string
	next := r.copyQueuesLocked()
	removed := false
	for i := range next {
		if q, ok := next[i].WithoutConversation(id); ok {
			next[i] = q
			removed = true
			if queueID == "" {
				queueID = q.ID
			}
		}
	}
	if removed {
		snap = r.commitLocked(next)
		r.diag.Ended++
	} else {
		r.diag.Unknown++
	}
	r.mu.Unlock()

	if r.subs != nil {
		r.subs.Unsubscribe(ctx, domain.TranscriptionTopic(id))
	}
	if snap == nil {
		return
	}
	r.publish(ctx, events.ConversationEnded{
		BaseEvent:      events.NewBaseEventAt(snap.UpdatedAt),
		QueueID:        queueID,
		ConversationID: id,
		Reason:         reason,
	})
	r.publish(ctx, events.SnapshotUpdated{BaseEvent: events.NewBaseEventAt(snap.UpdatedAt), Snapshot: snap})
}

func (r *Reconciler) subscribe(ctx context.Context, topic string) error {
	if r.subs == nil {
		return nil
	}
	err := r.subs.Subscribe(ctx, topic, r.Dispatch)
	if apperr.GetKind(err) == apperr.KindConflict {
		return nil
	}
	return err
}

func (r *Reconciler) publish(ctx context.Context, event events.Event) {
	if r.bus != nil {
		r.bus.Publish(ctx, event)
	}
}

func (r *Reconciler) commitLocked(queues []domain.Queue) *domain.Snapshot {
	r.snapshot = &domain.Snapshot{
		Version:   r.snapshot.Version + 1,
		UpdatedAt: r.now(),
		Queues:    queues,
	}
	return r.snapshot
}

func (r *Reconciler) copyQueuesLocked() []domain.Queue {
	next := make([]domain.Queue, len(r.snapshot.Queues))
	copy(next, r.snapshot.Queues)
	return next
}

func (r *Reconciler) queueIndexLocked(queueID string) int {
	for i, q := range r.snapshot.Queues {
		if q.ID == queueID {
			return i
		}
	}
	return -1
}

// prepend puts the batch, in delivery order, ahead of the existing interactions.
func prepend(existing, batch []domain.Interaction) []domain.Interaction {
	out := make([]domain.Interaction, 0, len(existing)+len(batch))
	out = append(out, batch...)
	return append(out, existing...)
}
