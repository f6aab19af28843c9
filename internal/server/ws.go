package server

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/cooperblacks/liaotian/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || corsOrigins[origin]
	},
}

// handleWebsocket upgrades the connection and registers it with the hub.
// Group subscriptions come from the caller's membership rows, not group
// visibility: a creator who left the group can still see it but must
// not receive its traffic.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)

	groupIDs, err := s.store.MemberGroupIDs(r.Context(), sess)
	if err != nil {
		writeError(w, storeStatus(err), "could not resolve group subscriptions")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}

	s.hub.Register(conn, sess.UserID(), groupIDs)

	// Best effort presence touch; failure is invisible to the client.
	_ = s.store.TouchLastSeen(r.Context(), sess, sess.UserID())
}
