// Package transport issues the send-message call against the chat API and
// normalizes the server's three response modes (token stream, plain text,
// structured payload) into a single discriminated result.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"arcadechat/internal/stream"
)

// UserIDHeader carries a newly assigned user identity back from the server.
const UserIDHeader = "x-user-id"

// acceptModes lists the three content negotiation outcomes the client can
// handle; the server picks one.
const acceptModes = "text/event-stream, text/plain, application/json"

// HTTPClient abstracts the underlying HTTP client so tests can inject mocks.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client sends chat messages to the server.
type Client struct {
	http    HTTPClient
	baseURL string
	logger  *slog.Logger
	tracer  trace.Tracer
	meter   metric.Meter
}

// Config holds transport configuration. BaseURL is required; everything else
// has defaults.
type Config struct {
	BaseURL    string
	Timeout    time.Duration // ignored when HTTPClient is set
	HTTPClient HTTPClient
	Logger     *slog.Logger
}

// New creates a transport client for the given chat server.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 5 * time.Minute
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		logger:  logger,
		tracer:  otel.Tracer("arcadechat/transport"),
		meter:   otel.Meter("arcadechat/transport"),
	}
}

// SendRequest describes a single message send. UserID and Token are optional:
// anonymous sessions are valid, and the server assigns an identity on first
// contact.
type SendRequest struct {
	Message string
	UserID  string
	Token   string
}

// Result is the outcome of a send. Exactly one of JSONText or Stream is
// populated. NewUserID carries a server-assigned identity when present;
// persisting it is the caller's job.
type Result struct {
	JSONText  string
	Stream    *stream.Decoder
	NewUserID string
}

// Atomic reports whether the response arrived as a single structured payload
// rather than a stream.
func (r *Result) Atomic() bool {
	return r.Stream == nil
}

type sendPayload struct {
	Message string  `json:"message"`
	UserID  *string `json:"userId"`
}

// Send posts a message to the chat endpoint and resolves the response mode.
// A cancelled context surfaces as a distinct abort condition via IsAbort,
// never as a server-side error.
func (c *Client) Send(ctx context.Context, req SendRequest) (*Result, error) {
	requestID := uuid.New().String()
	ctx, span := c.tracer.Start(ctx, "chat_send")
	defer span.End()

	start := time.Now()

	endpoint := c.baseURL + "/api/chat"
	if req.UserID != "" {
		endpoint += "/" + url.PathEscape(req.UserID)
	}

	payload := sendPayload{Message: req.Message}
	if req.UserID != "" {
		payload.UserID = &req.UserID
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", acceptModes)
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}

	c.logger.Debug("sending chat message",
		"request_id", requestID,
		"has_identity", req.UserID != "",
		"message_length", len(req.Message),
	)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if IsAbort(err) {
			c.logger.Info("chat send aborted", "request_id", requestID)
			return nil, fmt.Errorf("send message: %w", err)
		}
		c.logger.Error("chat send failed", "request_id", requestID, "error", err)
		return nil, fmt.Errorf("send message: %w", err)
	}

	c.recordDuration(ctx, time.Since(start))

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			c.logger.Error("chat server returned error (failed to read body)",
				"request_id", requestID,
				"status_code", resp.StatusCode,
				"read_error", readErr,
			)
			return nil, &APIError{Status: resp.StatusCode}
		}
		c.logger.Error("chat server returned error",
			"request_id", requestID,
			"status_code", resp.StatusCode,
			"response_body", string(body),
		)
		return nil, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	result := &Result{NewUserID: resp.Header.Get(UserIDHeader)}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/json") {
		defer resp.Body.Close()
		raw, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("read response: %w", ctxErr)
			}
			return nil, fmt.Errorf("read response: %w", readErr)
		}
		result.JSONText = stream.AtomicText(raw)
		c.logger.Debug("chat response arrived as atomic payload",
			"request_id", requestID,
			"length", len(result.JSONText),
		)
		return result, nil
	}

	// Stream or plain text: hand the body to the decoder, which owns closing it.
	result.Stream = stream.NewDecoder(resp.Body)
	return result, nil
}

func (c *Client) recordDuration(ctx context.Context, d time.Duration) {
	histogram, err := c.meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err == nil {
		histogram.Record(ctx, float64(d.Milliseconds()))
	}
}
