package channels

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shabbark/pocketpaw/internal/bus"
)

func TestDiscordChannel_SendSkipsMidStreamChunks(t *testing.T) {
	var postCount int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		postCount++
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordChannel(srv.URL, bus.New(nil), testLogger())
	ctx := context.Background()

	require.NoError(t, d.Send(ctx, bus.OutboundMessage{Content: "partial", IsStreamChunk: true}))
	require.Equal(t, 0, postCount)

	require.NoError(t, d.Send(ctx, bus.OutboundMessage{Content: "final", IsStreamChunk: true, IsStreamEnd: true}))
	require.Equal(t, 1, postCount)
}

func TestDiscordChannel_SendNonStreamedPostsImmediately(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordChannel(srv.URL, bus.New(nil), testLogger())
	require.NoError(t, d.Send(context.Background(), bus.OutboundMessage{Content: "hello"}))
}
