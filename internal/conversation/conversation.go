// Package conversation owns the in-memory message list for the active thread
// and orchestrates a single exchange at a time: placeholder insertion,
// incremental text replacement, completion, and abort/error transitions.
package conversation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"arcadechat/internal/identity"
	"arcadechat/internal/session"
	"arcadechat/internal/transport"
)

// Display markers. The stop marker is distinct from the error marker so
// cancellation is never presented as a failure.
const (
	placeholderText = "..."
	noDataText      = "(no data)"
	stoppedText     = "[stopped]"
	errorText       = "Sorry, an error occurred. Please try again."
	introText       = "Hi! I'm the Arcade support bot. How can I help?"
)

const refreshTimeout = 10 * time.Second

// MessageSender issues a message send; satisfied by *transport.Client.
type MessageSender interface {
	Send(ctx context.Context, req transport.SendRequest) (*transport.Result, error)
}

// SessionDirectory performs session lifecycle operations; satisfied by
// *directory.Directory.
type SessionDirectory interface {
	List(ctx context.Context, page, pageSize int) ([]session.Thread, error)
	GetOrCreateDefault(ctx context.Context) (session.Thread, error)
	End(ctx context.Context, sessionID string)
	Delete(ctx context.Context, sessionID string) error
	LoadHistory(ctx context.Context, sessionID string, limit int) ([]session.Message, error)
}

// Conversation is the sole owner of the active thread pointer, the message
// list, and the in-flight cancellation handle. Other components never mutate
// them directly.
type Conversation struct {
	transport MessageSender
	dir       SessionDirectory
	ident     *identity.Store
	logger    *slog.Logger
	tracer    trace.Tracer
	meter     metric.Meter
	echo      io.Writer

	historyLimit int
	pageSize     int

	mu       sync.Mutex
	messages []session.Message
	threads  []session.Thread
	activeID string
	state    State
	lastErr  error
	cancel   context.CancelFunc
	inflight int // placeholder index of the in-flight exchange, -1 when none
	gen      int // exchange generation; bumping it detaches stale callbacks

	wg sync.WaitGroup
}

// Config holds conversation configuration. Transport, Directory, and Identity
// are required.
type Config struct {
	Transport MessageSender
	Directory SessionDirectory
	Identity  *identity.Store
	Logger    *slog.Logger
	// Echo receives increments as they are applied, for live rendering.
	Echo         io.Writer
	HistoryLimit int
	PageSize     int
}

// New creates a conversation state machine.
func New(cfg Config) *Conversation {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	historyLimit := cfg.HistoryLimit
	if historyLimit == 0 {
		historyLimit = 100
	}
	pageSize := cfg.PageSize
	if pageSize == 0 {
		pageSize = 20
	}

	return &Conversation{
		transport:    cfg.Transport,
		dir:          cfg.Directory,
		ident:        cfg.Identity,
		logger:       logger,
		tracer:       otel.Tracer("arcadechat/conversation"),
		meter:        otel.Meter("arcadechat/conversation"),
		echo:         cfg.Echo,
		historyLimit: historyLimit,
		pageSize:     pageSize,
		inflight:     -1,
	}
}

// Send runs one full exchange: append the user's message and a placeholder,
// issue the request, fold increments into the placeholder, and settle the
// terminal state. The user message is optimistic and never rolled back.
// Cancellation resolves to nil; only genuine failures return an error.
func (c *Conversation) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	ctx, span := c.tracer.Start(ctx, "chat_exchange")
	defer span.End()

	c.mu.Lock()
	c.abortInFlightLocked()
	c.messages = append(c.messages, session.Message{Sender: session.SenderUser, Text: text})
	c.messages = append(c.messages, session.Message{Sender: session.SenderBot, Text: placeholderText})
	idx := len(c.messages) - 1
	c.state = StateSending
	c.lastErr = nil
	c.gen++
	gen := c.gen
	sendCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.inflight = idx
	c.mu.Unlock()
	defer cancel()

	userID := c.ident.UserID()
	token := c.ident.Token()

	result, err := c.transport.Send(sendCtx, transport.SendRequest{
		Message: text,
		UserID:  userID,
		Token:   token,
	})
	if err != nil {
		return c.finish(gen, idx, 0, err)
	}

	if userID == "" && result.NewUserID != "" {
		c.ident.SetUserID(result.NewUserID)
	}

	increments := 0
	if result.Atomic() {
		if result.JSONText != "" {
			c.apply(gen, idx, &increments, result.JSONText)
		}
	} else {
		err = result.Stream.Each(sendCtx, func(chunk string) error {
			c.apply(gen, idx, &increments, chunk)
			return nil
		})
	}
	return c.finish(gen, idx, increments, err)
}

// apply folds one increment into the placeholder. The first increment
// replaces the sentinel text outright so it never prefixes the real answer;
// later increments append. Stale exchanges (superseded generation) are
// dropped without touching state.
func (c *Conversation) apply(gen, idx int, count *int, chunk string) {
	c.mu.Lock()
	if gen != c.gen || idx >= len(c.messages) {
		c.mu.Unlock()
		return
	}
	if *count == 0 {
		c.messages[idx].Text = chunk
	} else {
		c.messages[idx].Text += chunk
	}
	*count++
	c.state = StateStreaming
	echo := c.echo
	c.mu.Unlock()

	if echo != nil {
		io.WriteString(echo, chunk)
	}
}

// finish settles the terminal state of an exchange and, on completion,
// triggers the fire-and-forget directory refresh.
func (c *Conversation) finish(gen, idx, increments int, err error) error {
	c.mu.Lock()
	if gen != c.gen {
		// Superseded by a newer send or a thread switch; whoever cancelled us
		// already stop-marked the placeholder.
		c.mu.Unlock()
		return nil
	}
	c.cancel = nil
	c.inflight = -1

	var out error
	switch {
	case err == nil:
		if increments == 0 {
			// Only the state machine knows that zero increments arrived; the
			// decoder reports exhaustion without inventing content.
			c.messages[idx].Text = noDataText
		}
		c.state = StateCompleted
	case transport.IsAbort(err):
		c.messages[idx].Text = stoppedText
		c.state = StateAborted
	default:
		c.messages[idx].Text = errorText
		c.lastErr = err
		c.state = StateErrored
		out = err
	}
	completed := err == nil
	c.mu.Unlock()

	if completed {
		c.recordExchange(increments)
		c.logger.Info("exchange completed", "increments", increments)
		c.refreshAsync()
	}
	return out
}

// Stop cancels the in-flight exchange, if any. The exchange itself observes
// the cancellation and applies the stop marker.
func (c *Conversation) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// abortInFlightLocked cancels any in-flight exchange, stop-marks its
// placeholder, and detaches its callbacks. Callers hold c.mu.
func (c *Conversation) abortInFlightLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.state == StateSending || c.state == StateStreaming {
		if c.inflight >= 0 && c.inflight < len(c.messages) &&
			c.messages[c.inflight].Sender == session.SenderBot {
			c.messages[c.inflight].Text = stoppedText
		}
		c.state = StateAborted
	}
	c.inflight = -1
	c.gen++
}

// SwitchThread makes a different thread active: cancels any in-flight
// exchange, clears the displayed list, and loads the new thread's history.
// A thread with no persisted history shows a single introductory message.
func (c *Conversation) SwitchThread(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	c.abortInFlightLocked()
	c.messages = nil
	c.activeID = sessionID
	c.state = StateIdle
	c.lastErr = nil
	c.mu.Unlock()

	msgs, err := c.dir.LoadHistory(ctx, sessionID, c.historyLimit)
	if err != nil {
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
		return fmt.Errorf("switch thread: %w", err)
	}
	if len(msgs) == 0 {
		msgs = []session.Message{{Sender: session.SenderBot, Text: introText}}
	}

	c.mu.Lock()
	if c.activeID == sessionID {
		c.messages = msgs
	}
	c.mu.Unlock()

	c.logger.Info("switched thread", "session_id", sessionID, "messages", len(msgs))
	return nil
}

// NewChat ends the current session server-side (best-effort), clears local
// state, and drops the active thread pointer so the next send creates a
// fresh session.
func (c *Conversation) NewChat(ctx context.Context) {
	c.mu.Lock()
	c.abortInFlightLocked()
	prev := c.activeID
	c.messages = nil
	c.activeID = ""
	c.state = StateIdle
	c.lastErr = nil
	c.mu.Unlock()

	if prev != "" {
		c.dir.End(ctx, prev)
	}
	if err := c.refreshThreads(ctx, false); err != nil {
		c.logger.Warn("thread refresh after new chat failed", "error", err)
	}
	c.logger.Info("started new chat", "previous_session", prev)
}

// DeleteThread permanently removes a session. If it was the active thread,
// the conversation falls back to the newest remaining thread, or to no
// active thread at all.
func (c *Conversation) DeleteThread(ctx context.Context, sessionID string) error {
	if err := c.dir.Delete(ctx, sessionID); err != nil {
		return err
	}

	if err := c.refreshThreads(ctx, false); err != nil {
		c.logger.Warn("thread refresh after delete failed", "error", err)
	}

	c.mu.Lock()
	wasActive := c.activeID == sessionID
	var next string
	if wasActive && len(c.threads) > 0 {
		next = c.threads[0].ID
	}
	c.mu.Unlock()

	if !wasActive {
		return nil
	}
	if next == "" {
		c.mu.Lock()
		c.abortInFlightLocked()
		c.messages = nil
		c.activeID = ""
		c.state = StateIdle
		c.mu.Unlock()
		return nil
	}
	return c.SwitchThread(ctx, next)
}

// Bootstrap guarantees at least one session exists, loads the thread list,
// and resumes the most recently active thread. With no identity yet there is
// nothing to resume; the first send will establish one.
func (c *Conversation) Bootstrap(ctx context.Context) error {
	if c.ident.UserID() == "" {
		c.logger.Info("no user identity yet, starting with empty thread list")
		return nil
	}

	if _, err := c.dir.GetOrCreateDefault(ctx); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	if err := c.refreshThreads(ctx, false); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	c.mu.Lock()
	var first string
	if len(c.threads) > 0 {
		first = c.threads[0].ID
	}
	c.mu.Unlock()

	if first == "" {
		return nil
	}
	return c.SwitchThread(ctx, first)
}

// RefreshThreads reloads the thread list from the directory. Message content
// is never touched.
func (c *Conversation) RefreshThreads(ctx context.Context) error {
	return c.refreshThreads(ctx, false)
}

func (c *Conversation) refreshThreads(ctx context.Context, adoptNewest bool) error {
	threads, err := c.dir.List(ctx, 1, c.pageSize)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.threads = threads
	// After a send with no session correlation the server minted a fresh
	// session; the newest thread is that session.
	if adoptNewest && c.activeID == "" && len(threads) > 0 {
		c.activeID = threads[0].ID
	}
	c.mu.Unlock()
	return nil
}

// refreshAsync keeps thread metadata eventually consistent after a completed
// exchange. Failures are logged only.
func (c *Conversation) refreshAsync() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		if err := c.refreshThreads(ctx, true); err != nil {
			c.logger.Warn("thread refresh failed", "error", err)
		}
	}()
}

// Messages returns a snapshot of the displayed message list.
func (c *Conversation) Messages() []session.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]session.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Threads returns a snapshot of the known thread list.
func (c *Conversation) Threads() []session.Thread {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]session.Thread, len(c.threads))
	copy(out, c.threads)
	return out
}

// ActiveThreadID returns the active thread's session id, or empty when no
// thread is active.
func (c *Conversation) ActiveThreadID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeID
}

// State returns the current exchange state.
func (c *Conversation) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the failure behind an Errored state, for display separate
// from the per-message error marker. Aborts never set it.
func (c *Conversation) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Close cancels any in-flight exchange and waits for background refreshes.
func (c *Conversation) Close() {
	c.mu.Lock()
	c.abortInFlightLocked()
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Conversation) recordExchange(increments int) {
	counter, err := c.meter.Int64Counter(
		"chat.stream.increments",
		metric.WithDescription("Text increments received per completed exchange"),
	)
	if err == nil {
		counter.Add(context.Background(), int64(increments))
	}
}
