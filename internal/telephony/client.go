// Package telephony is the client for the contact-center platform API: OAuth
// client-credentials authentication, routing queues, conversation analytics,
// users and the notification channel.
package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"queue_dashboard_backend/internal/dashboard/domain"
	"queue_dashboard_backend/platform/apperr"
	"queue_dashboard_backend/platform/config"
	"queue_dashboard_backend/platform/logger"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	queuePageSize     = 100
	agentImageSize    = "x96"
	defaultRetryAfter = time.Second
	correlationHeader = "ININ-Correlation-Id"
)

// Options configures a Client. Tests point BaseURL at an httptest server and
// leave TokenSource nil.
type Options struct {
	BaseURL     string
	HTTPClient  *http.Client
	TokenSource oauth2.TokenSource
	PageSize    int
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Now         func() time.Time
}

// Client calls the platform REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     oauth2.TokenSource
	pageSize   int
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	now        func() time.Time
	log        *logger.Logger
}

// New builds a client that authenticates with the OAuth client-credentials
// grant against the configured region.
func New(cfg config.PlatformConfig, pageSize int, log *logger.Logger) *Client {
	region := strings.TrimSpace(cfg.GetPlatformRegion())
	creds := clientcredentials.Config{
		ClientID:     cfg.GetPlatformClientID(),
		ClientSecret: cfg.GetPlatformClientSecret(),
		TokenURL:     "https://login." + region + "/oauth/token",
	}

	base := &http.Client{Timeout: cfg.GetPlatformHTTPTimeout()}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	tokens := creds.TokenSource(ctx)
	httpClient := oauth2.NewClient(ctx, tokens)
	httpClient.Timeout = cfg.GetPlatformHTTPTimeout()

	return NewWithOptions(Options{
		BaseURL:     "https://api." + region,
		HTTPClient:  httpClient,
		TokenSource: tokens,
		PageSize:    pageSize,
	}, log)
}

// NewWithOptions builds a client from explicit options.
func NewWithOptions(opts Options, log *logger.Logger) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: opts.HTTPClient,
		tokens:     opts.TokenSource,
		pageSize:   opts.PageSize,
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.BaseDelay,
		maxDelay:   opts.MaxDelay,
		now:        opts.Now,
		log:        log,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if c.pageSize <= 0 {
		c.pageSize = 25
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	if c.baseDelay <= 0 {
		c.baseDelay = 200 * time.Millisecond
	}
	if c.maxDelay <= 0 {
		c.maxDelay = 5 * time.Second
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Authenticate obtains an access token. Without a token source it is a no-op.
func (c *Client) Authenticate(ctx context.Context) error {
	if c.tokens == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	token, err := c.tokens.Token()
	if err != nil {
		return apperr.Wrap(apperr.KindUnauthorized, "platform authentication failed", err).WithOp("telephony.Authenticate")
	}
	c.log.Info("platform authenticated", "expires_at", token.Expiry)
	return nil
}

type queueEntity struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	MemberCount       int    `json:"memberCount"`
	JoinedMemberCount int    `json:"joinedMemberCount"`
}

type queuePage struct {
	Entities   []queueEntity `json:"entities"`
	PageNumber int           `json:"pageNumber"`
	PageCount  int           `json:"pageCount"`
}

// ListQueues returns every routing queue of the organization.
func (c *Client) ListQueues(ctx context.Context) ([]domain.Queue, error) {
	queues := make([]domain.Queue, 0)
	for page := 1; ; page++ {
		query := url.Values{}
		query.Set("pageSize", strconv.Itoa(queuePageSize))
		query.Set("pageNumber", strconv.Itoa(page))

		var resp queuePage
		if err := c.doJSON(ctx, http.MethodGet, "/api/v2/routing/queues?"+query.Encode(), nil, &resp); err != nil {
			return nil, fmt.Errorf("list queues: %w", err)
		}
		for _, e := range resp.Entities {
			queues = append(queues, domain.Queue{
				ID:              e.ID,
				Name:            e.Name,
				ActiveUsers:     e.MemberCount,
				OnQueueUsers:    e.JoinedMemberCount,
				ConversationIDs: []string{},
				Conversations:   []domain.Conversation{},
			})
		}
		if page >= resp.PageCount || len(resp.Entities) == 0 {
			return queues, nil
		}
	}
}

type detailsQuery struct {
	Interval            string        `json:"interval"`
	Order               string        `json:"order"`
	OrderBy             string        `json:"orderBy"`
	Paging              paging        `json:"paging"`
	SegmentFilters      []queryFilter `json:"segmentFilters"`
	ConversationFilters []queryFilter `json:"conversationFilters"`
}

type paging struct {
	PageSize   int `json:"pageSize"`
	PageNumber int `json:"pageNumber"`
}

type queryFilter struct {
	Type       string           `json:"type"`
	Predicates []queryPredicate `json:"predicates"`
}

type queryPredicate struct {
	Type      string  `json:"type"`
	Dimension string  `json:"dimension"`
	Operator  string  `json:"operator"`
	Value     *string `json:"value"`
}

type detailsResponse struct {
	Conversations []struct {
		ConversationID    string    `json:"conversationId"`
		ConversationStart time.Time `json:"conversationStart"`
		Participants      []struct {
			ParticipantID string `json:"participantId"`
			Purpose       string `json:"purpose"`
			UserID        string `json:"userId"`
			Sessions      []struct {
				MediaType string `json:"mediaType"`
			} `json:"sessions"`
		} `json:"participants"`
	} `json:"conversations"`
	TotalHits int `json:"totalHits"`
}

// ListActiveConversations returns the conversations in the queue that have
// not ended, looking from the start of yesterday to the start of tomorrow.
func (c *Client) ListActiveConversations(ctx context.Context, queueID string) ([]domain.ActiveConversation, error) {
	now := c.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	interval := today.AddDate(0, 0, -1).Format(time.RFC3339) + "/" + today.AddDate(0, 0, 1).Format(time.RFC3339)

	id := queueID
	body := detailsQuery{
		Interval: interval,
		Order:    "asc",
		OrderBy:  "conversationStart",
		Paging:   paging{PageSize: c.pageSize, PageNumber: 1},
		SegmentFilters: []queryFilter{{
			Type:       "or",
			Predicates: []queryPredicate{{Type: "dimension", Dimension: "queueId", Operator: "matches", Value: &id}},
		}},
		ConversationFilters: []queryFilter{{
			Type:       "or",
			Predicates: []queryPredicate{{Type: "dimension", Dimension: "conversationEnd", Operator: "notExists"}},
		}},
	}

	var resp detailsResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v2/analytics/conversations/details/query", body, &resp); err != nil {
		return nil, fmt.Errorf("list active conversations for queue %s: %w", queueID, err)
	}

	out := make([]domain.ActiveConversation, 0, len(resp.Conversations))
	for _, conv := range resp.Conversations {
		active := domain.ActiveConversation{
			ID:           conv.ConversationID,
			Start:        conv.ConversationStart,
			Participants: make([]domain.Participant, 0, len(conv.Participants)),
		}
		for i, p := range conv.Participants {
			if i == 0 && len(p.Sessions) > 0 {
				active.MediaType = p.Sessions[0].MediaType
			}
			active.Participants = append(active.Participants, domain.Participant{
				ID:      p.ParticipantID,
				Purpose: p.Purpose,
				UserID:  p.UserID,
			})
		}
		out = append(out, active)
	}
	return out, nil
}

type userResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Images []struct {
		Resolution string `json:"resolution"`
		ImageURI   string `json:"imageUri"`
	} `json:"images"`
}

// LookupAgent fetches a user's display name and avatar. An empty id returns
// an empty agent without calling the platform.
func (c *Client) LookupAgent(ctx context.Context, userID string) (domain.Agent, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.Agent{}, nil
	}
	var resp userResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/v2/users/"+url.PathEscape(userID), nil, &resp); err != nil {
		return domain.Agent{}, fmt.Errorf("lookup user %s: %w", userID, err)
	}
	agent := domain.Agent{Name: resp.Name}
	for _, img := range resp.Images {
		if img.Resolution == agentImageSize {
			agent.ImageURI = img.ImageURI
			break
		}
	}
	return agent, nil
}

// doJSON sends in as the JSON body and decodes a 2xx response into out.
// Transport errors and 5xx responses are retried with exponential delay.
// 429 is returned immediately as an apperr.KindRateLimited error so the
// caller decides how to back off.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return err
		}
		payload = encoded
	}

	correlationID := uuid.NewString()
	for attempt := 0; ; attempt++ {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set(correlationHeader, correlationID)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() == nil && attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1)); waitErr != nil {
					return waitErr
				}
				continue
			}
			return apperr.Unavailable("platform request failed", err).WithOp(method + " " + path)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return apperr.Unavailable("read platform response", readErr).WithOp(method + " " + path)
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode <= 299:
			if out == nil || len(respBody) == 0 {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return apperr.Wrap(apperr.KindInternal, "decode platform response", err).WithOp(method + " " + path)
			}
			return nil
		case resp.StatusCode == http.StatusTooManyRequests:
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			c.log.Warn("platform rate limit hit", "path", path, "retry_after", retryAfter, "correlation_id", correlationID)
			return apperr.RateLimited("platform rate limit exceeded", retryAfter).WithOp(method + " " + path)
		case resp.StatusCode >= 500 && attempt < c.maxRetries:
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1)); waitErr != nil {
				return waitErr
			}
			continue
		}

		return statusError(method+" "+path, resp.StatusCode, respBody)
	}
}

func statusError(op string, status int, body []byte) error {
	message := strings.TrimSpace(string(body))
	var parsed struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Message != "" {
		message = parsed.Message
	}
	message = fmt.Sprintf("platform returned status %d: %s", status, message)

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperr.Unauthorized(message).WithOp(op)
	case status == http.StatusNotFound:
		return apperr.NotFound(message).WithOp(op)
	case status >= 500:
		return apperr.Unavailable(message, nil).WithOp(op)
	default:
		return apperr.BadRequest(message).WithOp(op)
	}
}

func (c *Client) retryDelay(attempt int) time.Duration {
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	return delay
}

// parseRetryAfter reads a delay in seconds. Missing or invalid values fall
// back to one second so callers always wait before retrying.
func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return defaultRetryAfter
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		if at, parseErr := http.ParseTime(header); parseErr == nil {
			if d := time.Until(at); d > 0 {
				return d
			}
		}
		return defaultRetryAfter
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
