package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arcadechat/internal/session"
)

func sampleThreads() []session.Thread {
	return []session.Thread{
		{ID: "aaa111", Title: "Chat Aug 20, 2026", MessageCount: 5},
		{ID: "bbb222", Title: "My bug report", MessageCount: 2},
	}
}

func TestResolveThreadByIndex(t *testing.T) {
	id, err := resolveThread(sampleThreads(), "2")
	require.NoError(t, err)
	assert.Equal(t, "bbb222", id)
}

func TestResolveThreadIndexOutOfRange(t *testing.T) {
	_, err := resolveThread(sampleThreads(), "3")
	assert.Error(t, err)

	_, err = resolveThread(sampleThreads(), "0")
	assert.Error(t, err)
}

func TestResolveThreadByIDPrefix(t *testing.T) {
	id, err := resolveThread(sampleThreads(), "bbb")
	require.NoError(t, err)
	assert.Equal(t, "bbb222", id)
}

func TestResolveThreadAmbiguousOrUnknown(t *testing.T) {
	threads := []session.Thread{{ID: "abc1"}, {ID: "abc2"}}

	_, err := resolveThread(threads, "abc")
	assert.ErrorContains(t, err, "ambiguous")

	_, err = resolveThread(threads, "zzz")
	assert.ErrorContains(t, err, "no thread")
}

func TestRenderThreadsMarksActive(t *testing.T) {
	var buf bytes.Buffer
	renderThreads(&buf, sampleThreads(), "bbb222")

	out := buf.String()
	assert.Contains(t, out, "My bug report")
	assert.Contains(t, out, "bbb222")
	assert.Contains(t, out, "2 thread(s)")
}

func TestRenderThreadsEmpty(t *testing.T) {
	var buf bytes.Buffer
	renderThreads(&buf, nil, "")
	assert.Contains(t, buf.String(), "No threads yet")
}

func TestRelativeTime(t *testing.T) {
	assert.Equal(t, "-", relativeTime(time.Time{}))

	old := time.Now().AddDate(-2, 0, 0)
	assert.Equal(t, old.Format("2006-01-02"), relativeTime(old))
}
