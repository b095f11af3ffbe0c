// Package directory tracks server-side conversation sessions for a user
// identity: listing, bootstrap, ending, and deletion, plus loading persisted
// message history. It maps server session records to locally displayable
// threads.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"arcadechat/internal/identity"
	"arcadechat/internal/session"
	"arcadechat/internal/transport"
)

// Titler supplies client-only thread titles cached outside the server.
type Titler interface {
	ThreadTitle(sessionID string) (string, bool)
}

// Directory performs session lifecycle operations scoped by the current user
// identity and optional auth token.
type Directory struct {
	http    transport.HTTPClient
	baseURL string
	ident   *identity.Store
	titles  Titler
	logger  *slog.Logger
	tracer  trace.Tracer
}

// Config holds directory configuration. BaseURL and Identity are required;
// Titles may be nil, in which case titles are derived from creation dates.
type Config struct {
	BaseURL    string
	HTTPClient transport.HTTPClient
	Identity   *identity.Store
	Titles     Titler
	Logger     *slog.Logger
	Timeout    time.Duration // ignored when HTTPClient is set
}

// New creates a session directory client.
func New(cfg Config) *Directory {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Directory{
		http:    httpClient,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		ident:   cfg.Identity,
		titles:  cfg.Titles,
		logger:  logger,
		tracer:  otel.Tracer("arcadechat/directory"),
	}
}

// sessionRecord is the server's session summary. Timestamps arrive under
// varying field names depending on the backend revision; see threadFromRecord
// for the fallback chain.
type sessionRecord struct {
	ID             string `json:"_id"`
	CreatedAt      string `json:"createdAt"`
	SessionStarted string `json:"session_started"`
	UpdatedAt      string `json:"updatedAt"`
	LastMessageAt  string `json:"lastMessageAt"`
	LastMessage    string `json:"lastMessage"`
	MessageCount   int    `json:"messageCount"`
}

type listResponse struct {
	Sessions []sessionRecord `json:"sessions"`
}

// List returns the user's sessions as threads, newest activity first. The
// server's order is not trusted; the result is re-sorted by UpdatedAt
// descending.
func (d *Directory) List(ctx context.Context, page, pageSize int) ([]session.Thread, error) {
	ctx, span := d.tracer.Start(ctx, "sessions_list")
	defer span.End()

	endpoint := fmt.Sprintf("%s/api/chat/sessions?userId=%s&page=%d&limit=%d",
		d.baseURL, url.QueryEscape(d.ident.UserID()), page, pageSize)

	var resp listResponse
	if err := d.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	threads := make([]session.Thread, 0, len(resp.Sessions))
	for _, rec := range resp.Sessions {
		threads = append(threads, d.threadFromRecord(rec))
	}

	sort.SliceStable(threads, func(i, j int) bool {
		return threads[i].UpdatedAt.After(threads[j].UpdatedAt)
	})

	d.logger.Debug("listed sessions", "count", len(threads), "page", page)
	return threads, nil
}

// GetOrCreateDefault guarantees at least one session exists for the user: the
// server creates one if none exist and returns an existing one otherwise.
func (d *Directory) GetOrCreateDefault(ctx context.Context) (session.Thread, error) {
	ctx, span := d.tracer.Start(ctx, "session_get_or_create")
	defer span.End()

	endpoint := fmt.Sprintf("%s/api/chat/session?userId=%s",
		d.baseURL, url.QueryEscape(d.ident.UserID()))

	var rec sessionRecord
	if err := d.getJSON(ctx, endpoint, &rec); err != nil {
		return session.Thread{}, fmt.Errorf("get or create session: %w", err)
	}
	return d.threadFromRecord(rec), nil
}

// End marks a session closed server-side so the next message starts a fresh
// one. Ending is best-effort hygiene, not a correctness requirement: failures
// are logged and local state proceeds to clear regardless.
func (d *Directory) End(ctx context.Context, sessionID string) {
	ctx, span := d.tracer.Start(ctx, "session_end")
	defer span.End()

	endpoint := fmt.Sprintf("%s/api/chat/sessions/%s/end", d.baseURL, url.PathEscape(sessionID))
	if err := d.do(ctx, http.MethodPut, endpoint); err != nil {
		d.logger.Warn("failed to end session", "session_id", sessionID, "error", err)
		return
	}
	d.logger.Info("ended session", "session_id", sessionID)
}

// Delete permanently removes a session and its messages.
func (d *Directory) Delete(ctx context.Context, sessionID string) error {
	ctx, span := d.tracer.Start(ctx, "session_delete")
	defer span.End()

	endpoint := fmt.Sprintf("%s/api/chat/sessions/%s", d.baseURL, url.PathEscape(sessionID))
	if err := d.do(ctx, http.MethodDelete, endpoint); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	d.logger.Info("deleted session", "session_id", sessionID)
	return nil
}

// threadFromRecord maps a server record to the local thread shape, applying
// the timestamp fallback chains the backend requires:
// lastMessageAt > updatedAt > session_started for activity,
// createdAt > session_started for creation.
func (d *Directory) threadFromRecord(rec sessionRecord) session.Thread {
	created := parseTime(rec.CreatedAt)
	if created.IsZero() {
		created = parseTime(rec.SessionStarted)
	}

	updated := parseTime(rec.LastMessageAt)
	if updated.IsZero() {
		updated = parseTime(rec.UpdatedAt)
	}
	if updated.IsZero() {
		updated = parseTime(rec.SessionStarted)
	}

	title := ""
	if d.titles != nil {
		if cached, ok := d.titles.ThreadTitle(rec.ID); ok {
			title = cached
		}
	}
	if title == "" {
		title = deriveTitle(created)
	}

	return session.Thread{
		ID:           rec.ID,
		Title:        title,
		CreatedAt:    created,
		UpdatedAt:    updated,
		Preview:      rec.LastMessage,
		MessageCount: rec.MessageCount,
	}
}

func deriveTitle(created time.Time) string {
	if created.IsZero() {
		return "Chat"
	}
	return "Chat " + created.Format("Jan 2, 2006")
}

// parseTime tolerates the timestamp shapes the backend has been observed to
// produce: RFC 3339 strings and unix milliseconds. Unparseable values yield
// the zero time so the fallback chain can move on.
func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	if millis, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.UnixMilli(millis)
	}
	return time.Time{}
}

// getJSON issues an authenticated GET and decodes the JSON response into out.
func (d *Directory) getJSON(ctx context.Context, endpoint string, out any) error {
	body, err := d.request(ctx, http.MethodGet, endpoint)
	if err != nil {
		return err
	}
	defer body.Close()

	if err := json.NewDecoder(body).Decode(out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// do issues an authenticated request and discards any response body.
func (d *Directory) do(ctx context.Context, method, endpoint string) error {
	body, err := d.request(ctx, method, endpoint)
	if err != nil {
		return err
	}
	return body.Close()
}

func (d *Directory) request(ctx context.Context, method, endpoint string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if token := d.ident.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(resp.Body)
		return nil, &transport.APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(errBody))}
	}
	return resp.Body, nil
}
