package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/dagornc/DagBot/internal/providers/llm"
	"github.com/dagornc/DagBot/internal/relay"
)

// WSHandler is the websocket transport for chat streaming: the client sends
// one chat request, the server forwards the same tagged increments the SSE
// endpoint emits, and a cancel message aborts the in-flight session.
type WSHandler struct {
	chat     *ChatHandler
	log      *logrus.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(chat *ChatHandler, log *logrus.Logger) *WSHandler {
	return &WSHandler{
		chat: chat,
		log:  log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // TODO: restrict origin in prod
		},
	}
}

type wsClientMsg struct {
	Type string `json:"type"` // "chat" | "cancel"
	chatRequestBody
}

type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.c.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.c.WriteMessage(websocket.TextMessage, b)
}

// wsSink forwards increments over the socket; same contract as sseSink.
type wsSink struct {
	conn   *wsConn
	convID string
}

func (s *wsSink) OnToken(token string) {
	_ = s.conn.writeJSON(gin.H{"type": "token", "content": token})
}

func (s *wsSink) OnDone(usage *llm.Usage) {
	ev := gin.H{"type": "done", "conversation_id": s.convID}
	if usage != nil {
		ev["usage"] = usage
	}
	_ = s.conn.writeJSON(ev)
}

func (s *wsSink) OnError(err error) {
	_ = s.conn.writeJSON(gin.H{"type": "error", "message": err.Error()})
}

func (h *WSHandler) ChatWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrade already wrote response in most cases
		return
	}
	defer conn.Close()

	wc := &wsConn{c: conn}

	var sess *relay.Session
	var sessMu sync.Mutex

	for {
		_ = conn.SetReadDeadline(time.Now().Add(10 * time.Minute))
		_, data, rerr := conn.ReadMessage()
		if rerr != nil {
			// Client gone: abort any in-flight session.
			sessMu.Lock()
			if sess != nil {
				sess.Cancel()
			}
			sessMu.Unlock()
			return
		}

		var msg wsClientMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = wc.writeJSON(gin.H{"type": "error", "message": "invalid json"})
			continue
		}

		switch msg.Type {
		case "chat":
			sessMu.Lock()
			busy := sess != nil && !sess.State().Terminal()
			sessMu.Unlock()
			if busy {
				_ = wc.writeJSON(gin.H{"type": "error", "message": "a stream is already in flight on this connection"})
				continue
			}

			p, perr := h.chat.prepare(c, &msg.chatRequestBody)
			if perr != nil {
				_ = wc.writeJSON(gin.H{"type": "error", "message": perr.Error()})
				continue
			}

			sink := &wsSink{conn: wc, convID: p.convID}
			if p.convNew {
				_ = wc.writeJSON(gin.H{"type": "conversation_id", "id": p.convID})
			}

			started, serr := h.chat.relay.Start(c.Request.Context(), p.provider, p.convID, p.request, sink)
			if serr != nil {
				sink.OnError(serr)
				continue
			}
			sessMu.Lock()
			sess = started
			sessMu.Unlock()

		case "cancel":
			sessMu.Lock()
			if sess != nil {
				sess.Cancel()
			}
			sessMu.Unlock()

		default:
			_ = wc.writeJSON(gin.H{"type": "error", "message": "unknown message type"})
		}
	}
}
