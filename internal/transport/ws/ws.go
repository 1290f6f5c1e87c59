package ws

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"

	"docsync/internal/middleware"
	"docsync/internal/server"
)

/*
LEARNING: WEBSOCKET TRANSPORT ADAPTER

The collaboration server is transport-agnostic: it speaks []byte frames in,
[]byte frames out. This package is the only place gorilla/websocket appears.

Each upgraded connection gets two goroutines:
- readPump feeds inbound binary messages to Server.HandleMessage one at a
  time, preserving per-connection frame order,
- writePump drains the connection's outbound queue. Every frame goes out
  as its own binary message: a frame's trailing body runs to the end of
  the message, so concatenating two frames would corrupt the second.
*/

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: In production, validate origin properly
		return true
	},
}

// Handler upgrades HTTP requests and bridges them to the collaboration
// server.
type Handler struct {
	srv *server.Server
}

// NewHandler creates a WebSocket handler on srv.
func NewHandler(srv *server.Server) *Handler {
	return &Handler{srv: srv}
}

// ServeHTTP upgrades the request and runs the connection until either side
// closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Request metadata seeds the connection context; onConnect and
	// onAuthenticate hooks may add to it before it freezes.
	initial := map[string]any{
		"remoteAddr": r.RemoteAddr,
	}
	if token := r.URL.Query().Get("token"); token != "" {
		initial["token"] = token
	}
	if ua := r.Header.Get("User-Agent"); ua != "" {
		initial["userAgent"] = ua
	}

	ctx, span := middleware.StartSpan(ctx, "WebSocket.Connect",
		attribute.String("remote.addr", r.RemoteAddr),
	)
	defer span.End()

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		middleware.AddSpanError(ctx, err)
		return
	}

	conn, err := h.srv.HandleConnection(ctx, initial)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		wsConn.Close()
		return
	}

	go h.writePump(wsConn, conn)
	h.readPump(ctx, wsConn, conn)
}

// readPump feeds inbound frames to the server sequentially.
func (h *Handler) readPump(ctx context.Context, wsConn *websocket.Conn, conn *server.Connection) {
	defer func() {
		h.srv.CloseConnection(ctx, conn)
		wsConn.Close()
	}()

	wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPongHandler(func(string) error {
		wsConn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error on %s: %v", conn.ID(), err)
			}
			return
		}

		if err := h.srv.HandleMessage(ctx, conn, data); err != nil {
			log.Printf("⚠️  Connection %s: %v", conn.ID(), err)
			return
		}
	}
}

// writePump drains the outbound queue onto the socket.
func (h *Handler) writePump(wsConn *websocket.Conn, conn *server.Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		wsConn.Close()
	}()

	for {
		select {
		case frame := <-conn.Outbound():
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsConn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}

		case <-conn.Done():
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			wsConn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
