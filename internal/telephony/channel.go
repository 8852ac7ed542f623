package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"

	"queue_dashboard_backend/platform/logger"

	"nhooyr.io/websocket"
)

const (
	heartbeatTopic   = "channel.metadata"
	maxMessageBytes  = 1 << 20
	channelsEndpoint = "/api/v2/notifications/channels"
)

// DeliverFunc receives every notification read from the channel. Events of
// one topic arrive in order; different topics are delivered concurrently.
type DeliverFunc = func(ctx context.Context, topic string, body json.RawMessage)

// Channel is a notification channel: a websocket that streams events for the
// topics subscribed through the REST API. It implements the subscription
// transport.
type Channel struct {
	client     *Client
	id         string
	connectURI string
	log        *logger.Logger

	// mu serializes remote subscription changes; PUT replaces the whole
	// topic list, so a concurrent POST could otherwise be lost.
	mu     sync.Mutex
	topics map[string]struct{}

	connMu sync.Mutex
	conn   *websocket.Conn
}

type channelResponse struct {
	ID         string `json:"id"`
	ConnectURI string `json:"connectUri"`
}

type topicRef struct {
	ID string `json:"id"`
}

type envelope struct {
	TopicName string          `json:"topicName"`
	EventBody json.RawMessage `json:"eventBody"`
}

// OpenChannel creates a new notification channel.
func (c *Client) OpenChannel(ctx context.Context) (*Channel, error) {
	var resp channelResponse
	if err := c.doJSON(ctx, http.MethodPost, channelsEndpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("create notification channel: %w", err)
	}
	if resp.ID == "" || resp.ConnectURI == "" {
		return nil, errors.New("create notification channel: empty channel in response")
	}
	c.log.Info("notification channel created", "channel_id", resp.ID)
	return &Channel{
		client:     c,
		id:         resp.ID,
		connectURI: resp.ConnectURI,
		log:        c.log,
		topics:     make(map[string]struct{}),
	}, nil
}

// ID returns the platform channel id.
func (ch *Channel) ID() string {
	return ch.id
}

// Subscribe adds topic to the channel.
func (ch *Channel) Subscribe(ctx context.Context, topic string) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if err := ch.client.doJSON(ctx, http.MethodPost, ch.subscriptionsPath(), []topicRef{{ID: topic}}, nil); err != nil {
		return err
	}
	ch.topics[topic] = struct{}{}
	return nil
}

// Unsubscribe removes topic by replacing the channel's topic list with the
// remaining topics.
func (ch *Channel) Unsubscribe(ctx context.Context, topic string) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if _, ok := ch.topics[topic]; !ok {
		return nil
	}
	remaining := make([]topicRef, 0, len(ch.topics))
	for t := range ch.topics {
		if t != topic {
			remaining = append(remaining, topicRef{ID: t})
		}
	}
	sort.Slice(remaining, func(i, j int) bool { return remaining[i].ID < remaining[j].ID })

	if err := ch.client.doJSON(ctx, http.MethodPut, ch.subscriptionsPath(), remaining, nil); err != nil {
		return err
	}
	delete(ch.topics, topic)
	return nil
}

// Topics lists the topics currently subscribed on the channel.
func (ch *Channel) Topics() []string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	out := make([]string, 0, len(ch.topics))
	for t := range ch.topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Connect dials the channel's websocket. It is a no-op when already
// connected.
func (ch *Channel) Connect(ctx context.Context) error {
	ch.connMu.Lock()
	defer ch.connMu.Unlock()
	if ch.conn != nil {
		return nil
	}
	conn, _, err := websocket.Dial(ctx, ch.connectURI, nil)
	if err != nil {
		return fmt.Errorf("dial notification channel: %w", err)
	}
	conn.SetReadLimit(maxMessageBytes)
	ch.conn = conn
	ch.log.Info("notification channel connected", "channel_id", ch.id)
	return nil
}

// Listen reads the websocket, connecting first if needed, and hands each
// event to deliver until ctx is cancelled or the connection fails.
// Heartbeats are skipped. Each topic gets its own delivery lane, so a slow
// handler only holds back later events of the same topic. Listen returns nil
// on cancellation, after every queued event has been delivered.
func (ch *Channel) Listen(ctx context.Context, deliver DeliverFunc) error {
	if err := ch.Connect(ctx); err != nil {
		return err
	}
	ch.connMu.Lock()
	conn := ch.conn
	ch.connMu.Unlock()

	lanes := newLanes(deliver)
	defer func() {
		ch.connMu.Lock()
		ch.conn = nil
		ch.connMu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		lanes.wait()
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read notification channel: %w", err)
		}

		var msg envelope
		if err := json.Unmarshal(data, &msg); err != nil {
			ch.log.Warn("discarding unreadable notification", "channel_id", ch.id, "error", err)
			continue
		}
		if msg.TopicName == "" || msg.TopicName == heartbeatTopic {
			continue
		}
		lanes.dispatch(ctx, msg.TopicName, msg.EventBody)
	}
}

// lanes delivers events in order per topic, with one goroutine per topic
// that has queued events.
type lanes struct {
	deliver DeliverFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	queued map[string][]json.RawMessage
}

func newLanes(deliver DeliverFunc) *lanes {
	return &lanes{deliver: deliver, queued: make(map[string][]json.RawMessage)}
}

func (l *lanes) dispatch(ctx context.Context, topic string, body json.RawMessage) {
	l.mu.Lock()
	pending, running := l.queued[topic]
	l.queued[topic] = append(pending, body)
	l.mu.Unlock()
	if running {
		return
	}
	l.wg.Add(1)
	go l.drain(ctx, topic)
}

func (l *lanes) drain(ctx context.Context, topic string) {
	defer l.wg.Done()
	for {
		l.mu.Lock()
		pending := l.queued[topic]
		if len(pending) == 0 {
			delete(l.queued, topic)
			l.mu.Unlock()
			return
		}
		body := pending[0]
		l.queued[topic] = pending[1:]
		l.mu.Unlock()

		l.deliver(ctx, topic, body)
	}
}

func (l *lanes) wait() {
	l.wg.Wait()
}

func (ch *Channel) subscriptionsPath() string {
	return channelsEndpoint + "/" + url.PathEscape(ch.id) + "/subscriptions"
}
