package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"arcadechat/internal/session"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)

	countStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	dateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	activeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))
)

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "List conversation threads",
	Long:  `List the conversation threads stored on the server for your identity, newest first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.conv.RefreshThreads(cmd.Context()); err != nil {
			return fmt.Errorf("failed to list threads: %w", err)
		}
		renderThreads(cmd.OutOrStdout(), a.conv.Threads(), "")
		return nil
	},
}

// renderThreads prints the thread table, newest first, marking the active
// thread when one is set.
func renderThreads(out io.Writer, threads []session.Thread, activeID string) {
	if len(threads) == 0 {
		fmt.Fprintln(out, headerStyle.Render("No threads yet"))
		return
	}

	fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("%d thread(s)", len(threads))))
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)

	fmt.Fprintln(w, titleStyle.Render("#")+"\t"+titleStyle.Render("Title")+"\t"+titleStyle.Render("Messages")+"\t"+titleStyle.Render("Updated")+"\t"+titleStyle.Render("ID")+"\t")
	fmt.Fprintln(w, strings.Repeat("-", 90))

	for i, th := range threads {
		marker := " "
		if th.ID == activeID {
			marker = activeStyle.Render("*")
		}

		title := th.Title
		if len(title) > 40 {
			title = title[:37] + "..."
		}

		fmt.Fprintf(w, "%s%d\t%s\t%s\t%s\t%s\t\n",
			marker,
			i+1,
			title,
			countStyle.Render(strconv.Itoa(th.MessageCount)),
			dateStyle.Render(relativeTime(th.UpdatedAt)),
			idStyle.Render(shortID(th.ID)),
		)
	}

	w.Flush()
	fmt.Fprintln(out)
}

// relativeTime formats a timestamp the way a human scanning a thread list
// expects: more precision the more recent it is.
func relativeTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	diff := time.Since(t)
	switch {
	case diff < 24*time.Hour:
		return t.Format("Today 15:04")
	case diff < 7*24*time.Hour:
		return t.Format("Mon 15:04")
	case diff < 365*24*time.Hour:
		return t.Format("Jan 02 15:04")
	default:
		return t.Format("2006-01-02")
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// resolveThread maps a 1-based list index or an id prefix to a session id.
func resolveThread(threads []session.Thread, arg string) (string, error) {
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(threads) {
			return "", fmt.Errorf("thread %d does not exist (have %d)", n, len(threads))
		}
		return threads[n-1].ID, nil
	}

	var match string
	for _, th := range threads {
		if strings.HasPrefix(th.ID, arg) {
			if match != "" {
				return "", fmt.Errorf("ambiguous thread id %q", arg)
			}
			match = th.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("no thread matches %q", arg)
	}
	return match, nil
}

func init() {
	rootCmd.AddCommand(threadsCmd)
}
