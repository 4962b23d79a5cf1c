package app

import (
	"net/http"

	"github.com/shabbark/pocketpaw/internal/api"
	"github.com/shabbark/pocketpaw/internal/channels"
)

// chainedMux combines the dashboard/integrations API (every route under
// /api/... plus the read-only /ws system-event feed) with the web chat
// channel's own websocket endpoint at /chat/ws, which pushes to the browser
// and reads and discards what the browser sends. A plain ServeMux
// is enough since Go 1.22 matches the more specific pattern first.
type chainedMux struct {
	mux *http.ServeMux
}

func newChainedMux(apiServer *api.Server, web *channels.WebChannel) *chainedMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /chat/ws", web.HandleWebSocket)
	mux.Handle("/", apiServer)
	return &chainedMux{mux: mux}
}

func (m *chainedMux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mux.ServeHTTP(w, r)
}
