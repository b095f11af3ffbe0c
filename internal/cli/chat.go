package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"arcadechat/internal/conversation"
	"arcadechat/internal/session"
)

// echoWriter relays streamed increments to the terminal and counts how many
// bytes an exchange produced, so the REPL knows when to print the terminal
// marker instead.
type echoWriter struct {
	mu sync.Mutex
	w  io.Writer
	n  int
}

func (e *echoWriter) Write(p []byte) (int, error) {
	e.mu.Lock()
	e.n += len(p)
	e.mu.Unlock()
	return e.w.Write(p)
}

func (e *echoWriter) reset() {
	e.mu.Lock()
	e.n = 0
	e.mu.Unlock()
}

func (e *echoWriter) written() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.n
}

// runChat is the interactive chat loop. Ctrl-C aborts an in-flight exchange
// instead of killing the process; /quit exits.
func (a *app) runChat(ctx context.Context) error {
	fmt.Println(headerStyle.Render("Arcade Support Chat"))
	fmt.Printf("Server: %s\n", a.cfg.ServerURL)
	fmt.Println("Type /help for commands, /quit to exit")
	fmt.Println()

	if err := a.conv.Bootstrap(ctx); err != nil {
		a.logger.Error("bootstrap failed", "error", err)
		fmt.Printf("Could not restore previous threads: %v\n", err)
	}
	a.printTranscript()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			a.conv.Stop()
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("You: ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			shouldQuit, err := a.handleCommand(ctx, input)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				a.logger.Error("command error", "command", input, "error", err)
			}
			if shouldQuit {
				break
			}
			continue
		}

		a.sendAndRender(ctx, input)
	}

	return scanner.Err()
}

// sendAndRender runs one exchange, echoing increments live and finishing with
// whatever terminal marker the conversation settled on.
func (a *app) sendAndRender(ctx context.Context, input string) {
	fmt.Print("Bot: ")
	a.echo.reset()

	if err := a.conv.Send(ctx, input); err != nil {
		a.logger.Error("send failed", "error", err)
	}

	msgs := a.conv.Messages()
	if len(msgs) == 0 {
		fmt.Println()
		return
	}
	last := msgs[len(msgs)-1].Text

	switch {
	case a.echo.written() == 0:
		// Nothing streamed: print the settled text, whether answer or marker.
		fmt.Println(last)
	case a.conv.State() == conversation.StateCompleted:
		fmt.Println()
	default:
		// Part of an answer streamed before the exchange was cut short.
		fmt.Println()
		fmt.Println(last)
	}
}

// printTranscript renders the restored message history for the active thread.
func (a *app) printTranscript() {
	msgs := a.conv.Messages()
	if len(msgs) == 0 {
		return
	}
	for _, msg := range msgs {
		if msg.Sender == session.SenderUser {
			fmt.Printf("You: %s\n", msg.Text)
		} else {
			fmt.Printf("Bot: %s\n", msg.Text)
		}
	}
	fmt.Println()
}

// handleCommand handles slash commands. The returned bool requests exit.
func (a *app) handleCommand(ctx context.Context, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/threads":
		if err := a.conv.RefreshThreads(ctx); err != nil {
			return false, fmt.Errorf("failed to list threads: %w", err)
		}
		renderThreads(os.Stdout, a.conv.Threads(), a.conv.ActiveThreadID())
		return false, nil

	case "/switch":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /switch <number|id>")
		}
		id, err := a.resolveThread(ctx, parts[1])
		if err != nil {
			return false, err
		}
		if err := a.conv.SwitchThread(ctx, id); err != nil {
			return false, err
		}
		a.printTranscript()
		return false, nil

	case "/new":
		a.conv.NewChat(ctx)
		fmt.Println("Started a new conversation.")
		return false, nil

	case "/delete":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /delete <number|id>")
		}
		id, err := a.resolveThread(ctx, parts[1])
		if err != nil {
			return false, err
		}
		if err := a.conv.DeleteThread(ctx, id); err != nil {
			return false, fmt.Errorf("failed to delete thread: %w", err)
		}
		if err := a.store.DeleteThreadTitle(id); err != nil {
			a.logger.Warn("failed to drop cached title", "session_id", id, "error", err)
		}
		fmt.Println("Thread deleted.")
		a.printTranscript()
		return false, nil

	case "/title":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /title <text>")
		}
		active := a.conv.ActiveThreadID()
		if active == "" {
			return false, fmt.Errorf("no active thread to title")
		}
		title := strings.TrimSpace(strings.TrimPrefix(cmd, "/title"))
		if err := a.store.SetThreadTitle(active, title); err != nil {
			return false, err
		}
		fmt.Printf("Thread titled %q\n", title)
		return false, nil

	case "/login":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /login <token>")
		}
		token := parts[1]
		if err := a.store.SetAuthToken(token); err != nil {
			return false, err
		}
		a.ident.SetToken(token)
		fmt.Println("Token saved.")
		return false, nil

	case "/logout":
		if err := a.store.SetAuthToken(""); err != nil {
			return false, err
		}
		a.ident.SetToken("")
		fmt.Println("Token cleared.")
		return false, nil

	case "/help":
		fmt.Println("Available commands:")
		fmt.Println("  /quit, /exit         - Exit the chat")
		fmt.Println("  /threads             - List conversation threads")
		fmt.Println("  /switch <number|id>  - Open another thread")
		fmt.Println("  /new                 - End the current conversation and start fresh")
		fmt.Println("  /delete <number|id>  - Permanently delete a thread")
		fmt.Println("  /title <text>        - Name the current thread (local only)")
		fmt.Println("  /login <token>       - Save an auth token")
		fmt.Println("  /logout              - Clear the auth token")
		fmt.Println("  /help                - Show this help message")
		fmt.Println()
		fmt.Println("Ctrl-C stops an in-flight answer without exiting.")
		return false, nil

	default:
		return false, fmt.Errorf("unknown command %s (try /help)", parts[0])
	}
}

// resolveThread maps a user argument, either a 1-based index into the thread
// list or a session id prefix, to a session id.
func (a *app) resolveThread(ctx context.Context, arg string) (string, error) {
	threads := a.conv.Threads()
	if len(threads) == 0 {
		if err := a.conv.RefreshThreads(ctx); err != nil {
			return "", fmt.Errorf("failed to list threads: %w", err)
		}
		threads = a.conv.Threads()
	}
	return resolveThread(threads, arg)
}
