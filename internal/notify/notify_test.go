package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSender struct {
	mu   sync.Mutex
	name string
	err  error
	sent []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{"signal_emitted", " report "}, testLogger())

	require.NoError(t, n.Notify(context.Background(), "signal_emitted", "edge", "x"))
	require.NoError(t, n.Notify(context.Background(), "order_sized", "sized", "x"))
	require.NoError(t, n.Notify(context.Background(), "report", "report", "x"))
	assert.Equal(t, []string{"edge", "report"}, s.sent)
}

func TestNotifierKeepsDeliveringAfterFailure(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("503")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.Notify(context.Background(), "anything", "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: 503")
	assert.Equal(t, []string{"t"}, good.sent)
}

func TestFromConfig(t *testing.T) {
	assert.Nil(t, FromConfig("", "", "", nil, testLogger()))
	assert.Nil(t, FromConfig("token", "", "", nil, testLogger()))

	n := FromConfig("token", "42", "https://discord.example/hook", nil, testLogger())
	require.NotNil(t, n)
	assert.Equal(t, []string{"telegram", "discord"}, n.Senders())
}

func TestTelegramSend(t *testing.T) {
	var got map[string]any
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("abc", "42").WithBaseURL(srv.URL + "/")
	require.NoError(t, s.Send(context.Background(), "Signal", "BUY YES on 0x22_22"))
	assert.Equal(t, "/botabc/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "Signal\nBUY YES on 0x22_22", got["text"])
}

func TestDiscordSendReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"retry_after":1}`))
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", strings.Repeat("x", 3000))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 429")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab…", truncate("abcdef", 3))
}
