package relay

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The relay binds to loopback; cross-origin pages on the same
	// machine are the expected callers.
	CheckOrigin: func(*http.Request) bool { return true },
}

type wsInbound struct {
	Message        string `json:"message"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

type wsOutbound struct {
	Type    string `json:"type"` // chunk | end | error
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// handleWS serves a websocket conversation: each inbound message is
// relayed to the chat, partial replies stream back as chunk frames,
// and an end frame carries the settled reply.
// GET /ws
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("relay: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	for {
		var in wsInbound
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("relay: websocket read failed", "error", err)
			}
			return
		}
		if in.Message == "" {
			s.writeWS(conn, wsOutbound{Type: "error", Error: "message required"})
			continue
		}

		timeout := s.cfg.AskTimeout
		if in.TimeoutSeconds > 0 {
			timeout = time.Duration(in.TimeoutSeconds) * time.Second
		}

		var last string
		s.sendMu.Lock()
		err := s.chat.Stream(r.Context(), in.Message, timeout, func(partial string) {
			last = partial
			s.writeWS(conn, wsOutbound{Type: "chunk", Content: partial})
		})
		s.sendMu.Unlock()

		if err != nil {
			s.writeWS(conn, wsOutbound{Type: "error", Error: err.Error()})
			continue
		}
		s.writeWS(conn, wsOutbound{Type: "end", Content: last})
	}
}

func (s *Server) writeWS(conn *websocket.Conn, out wsOutbound) {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(out); err != nil {
		s.logger.Warn("relay: websocket write failed", "error", err)
	}
}
