package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/kevinxiao27/textcrdt/util"
)

func (s *Server) subscribe(conn *websocket.Conn) int {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	s.subs[conn] = struct{}{}
	return len(s.subs)
}

func (s *Server) unsubscribe(conn *websocket.Conn) int {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	delete(s.subs, conn)
	return len(s.subs)
}

func (s *Server) broadcast(msg WSMessage) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	s.logger.Debug("broadcast", slog.String("type", msg.Type), slog.Int("subscribers", len(s.subs)))
	for conn := range s.subs {
		if err := conn.WriteJSON(msg); err != nil {
			s.logger.Warn("dropping subscriber", slog.Any("error", err))
			conn.Close()
			delete(s.subs, conn)
		}
	}
}

// send writes to a single subscriber under the same lock as broadcast,
// gorilla connections allow one writer at a time.
func (s *Server) send(conn *websocket.Conn, msg WSMessage) error {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	return conn.WriteJSON(msg)
}

// reply sends to one subscriber; a failed write ends the read loop on its own.
func (s *Server) reply(conn *websocket.Conn, msg WSMessage) {
	if err := s.send(conn, msg); err != nil {
		s.logger.Debug("reply failed", slog.String("type", msg.Type), slog.Any("error", err))
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	total := s.subscribe(conn)
	s.logger.Info("subscriber connected", slog.Int("total", total))

	if err := s.send(conn, WSMessage{Type: "init", Data: mustMarshal(s.stats())}); err != nil {
		s.unsubscribe(conn)
		return
	}

	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}

		switch msg.Type {
		case "insert":
			var req InsertRequest
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				s.reply(conn, errorMessage(err))
				continue
			}
			// success is reported to everyone through broadcast
			if _, err := s.localInsert(req); err != nil {
				s.reply(conn, errorMessage(err))
			}
		case "client":
			var req ClientRequest
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				s.reply(conn, errorMessage(err))
				continue
			}
			resp, err := s.registerClient(req.Name)
			s.reply(conn, util.Choose(err == nil,
				WSMessage{Type: "client", Data: mustMarshal(resp)},
				errorMessage(err)))
		default:
			s.logger.Debug("ignoring message", slog.String("type", msg.Type))
		}
	}

	remaining := s.unsubscribe(conn)
	s.logger.Info("subscriber disconnected", slog.Int("remaining", remaining))
}

func errorMessage(err error) WSMessage {
	if err == nil {
		return WSMessage{Type: "error"}
	}
	return WSMessage{Type: "error", Data: mustMarshal(errorResponse{Error: err.Error()})}
}
